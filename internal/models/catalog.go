package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Module is a named unit within a subject. Progress is keyed by the module's
// position in Subject.Modules, not by ID.
type Module struct {
	ID     string   `json:"id,omitempty" yaml:"id,omitempty"`
	Name   string   `json:"name" yaml:"name" validate:"required"`
	Topics []string `json:"topics" yaml:"topics"`
}

// Subject is a catalog entry addressable by its flat ID.
type Subject struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Code     string   `json:"code" yaml:"code"`
	Branch   string   `json:"branch" yaml:"branch"`
	Year     int      `json:"year" yaml:"year"`
	Semester int      `json:"semester" yaml:"semester"`
	Modules  []Module `json:"modules" yaml:"modules"`
}

// SubjectRow is the persisted shape of a subject in the subjects table.
type SubjectRow struct {
	ID        string         `db:"id"`
	Code      string         `db:"code"`
	Name      string         `db:"name"`
	Branch    string         `db:"branch"`
	Year      int            `db:"year"`
	Semester  int            `db:"semester"`
	Modules   types.JSONText `db:"modules"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Semester groups subjects of one semester inside a year.
type Semester struct {
	Number   int       `json:"number" yaml:"number"`
	Subjects []Subject `json:"subjects" yaml:"subjects"`
}

// Year groups semesters inside a branch.
type Year struct {
	Number    int        `json:"number" yaml:"number"`
	Semesters []Semester `json:"semesters" yaml:"semesters"`
}

// Branch is an academic department or program.
type Branch struct {
	Name  string `json:"name" yaml:"name"`
	Years []Year `json:"years" yaml:"years"`
}

// CatalogTree is the nested branch → year → semester → subject view.
type CatalogTree struct {
	Branches []Branch `json:"branches" yaml:"branches"`
}

// Catalog is an immutable snapshot of subjects keyed by subject ID.
type Catalog map[string]Subject

// Lookup resolves a subject by ID.
func (c Catalog) Lookup(id string) (*Subject, bool) {
	subject, ok := c[id]
	if !ok {
		return nil, false
	}
	return &subject, true
}

// Subjects returns the catalog subjects ordered by branch, year, semester, then ID.
func (c Catalog) Subjects() []Subject {
	subjects := make([]Subject, 0, len(c))
	for _, subject := range c {
		subjects = append(subjects, subject)
	}
	sort.Slice(subjects, func(i, j int) bool {
		a, b := subjects[i], subjects[j]
		if a.Branch != b.Branch {
			return a.Branch < b.Branch
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Semester != b.Semester {
			return a.Semester < b.Semester
		}
		return a.ID < b.ID
	})
	return subjects
}

// Tree rebuilds the nested view from the flat snapshot.
func (c Catalog) Tree() CatalogTree {
	tree := CatalogTree{Branches: []Branch{}}
	branchIdx := map[string]int{}
	for _, subject := range c.Subjects() {
		bi, ok := branchIdx[subject.Branch]
		if !ok {
			tree.Branches = append(tree.Branches, Branch{Name: subject.Branch})
			bi = len(tree.Branches) - 1
			branchIdx[subject.Branch] = bi
		}
		branch := &tree.Branches[bi]
		if n := len(branch.Years); n == 0 || branch.Years[n-1].Number != subject.Year {
			branch.Years = append(branch.Years, Year{Number: subject.Year})
		}
		year := &branch.Years[len(branch.Years)-1]
		if n := len(year.Semesters); n == 0 || year.Semesters[n-1].Number != subject.Semester {
			year.Semesters = append(year.Semesters, Semester{Number: subject.Semester})
		}
		semester := &year.Semesters[len(year.Semesters)-1]
		semester.Subjects = append(semester.Subjects, subject)
	}
	return tree
}

// CatalogFilter scopes a dashboard view of the catalog. Zero values match everything.
type CatalogFilter struct {
	Branch   string
	Year     int
	Semester int
}

// Matches reports whether the subject falls within the filter.
func (f CatalogFilter) Matches(subject Subject) bool {
	if f.Branch != "" && f.Branch != subject.Branch {
		return false
	}
	if f.Year > 0 && f.Year != subject.Year {
		return false
	}
	if f.Semester > 0 && f.Semester != subject.Semester {
		return false
	}
	return true
}

// Subject decodes the row into a catalog subject.
func (r SubjectRow) Subject() (Subject, error) {
	subject := Subject{
		ID:       r.ID,
		Name:     r.Name,
		Code:     r.Code,
		Branch:   r.Branch,
		Year:     r.Year,
		Semester: r.Semester,
		Modules:  []Module{},
	}
	if len(r.Modules) > 0 {
		if err := r.Modules.Unmarshal(&subject.Modules); err != nil {
			return Subject{}, fmt.Errorf("decode modules of subject %s: %w", r.ID, err)
		}
	}
	return subject, nil
}

// NewSubjectRow encodes a subject for persistence.
func NewSubjectRow(subject Subject) (SubjectRow, error) {
	modules := subject.Modules
	if modules == nil {
		modules = []Module{}
	}
	payload, err := json.Marshal(modules)
	if err != nil {
		return SubjectRow{}, fmt.Errorf("encode modules of subject %s: %w", subject.ID, err)
	}
	return SubjectRow{
		ID:       subject.ID,
		Code:     subject.Code,
		Name:     subject.Name,
		Branch:   subject.Branch,
		Year:     subject.Year,
		Semester: subject.Semester,
		Modules:  types.JSONText(payload),
	}, nil
}

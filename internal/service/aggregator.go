package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

// RollupKeyFunc derives a grouping key for a KPI row.
type RollupKeyFunc func(models.KpiRow) string

// Percent returns round(100*part/total) rounding halves away from zero, or 0 when
// total is not positive. Inputs are expected to be non-negative.
func Percent(part, total int) int {
	if total <= 0 || part <= 0 {
		return 0
	}
	return (200*part + total) / (2 * total)
}

// ComputeModuleProgress derives the completion of one module. An explicit mark
// completes the module regardless of its topic set; a module without topics
// always reports 0 percent.
func ComputeModuleProgress(module models.Module, completion models.ModuleCompletion) models.ModuleProgressResult {
	total := len(module.Topics)
	result := models.ModuleProgressResult{TotalTopics: total}
	if completion.Marked {
		result.Completed = true
		result.CompletedCount = total
	} else {
		result.CompletedCount = distinctTopics(completion.CompletedTopics, total)
		result.Completed = total > 0 && result.CompletedCount == total
	}
	result.Percentage = Percent(result.CompletedCount, total)
	return result
}

// ComputeSubjectProgress derives subject completion from its module entries. A nil
// subject yields the zero result so stale references can be filtered by callers.
func ComputeSubjectProgress(subject *models.Subject, progress models.SubjectProgress) models.SubjectProgressResult {
	result := models.SubjectProgressResult{CompletedModuleIndices: []int{}}
	if subject == nil {
		return result
	}
	result.TotalModules = len(subject.Modules)
	for idx, module := range subject.Modules {
		entry, ok := progress.Module(idx)
		if !ok {
			continue
		}
		if ComputeModuleProgress(module, entry).Completed {
			result.CompletedCount++
			result.CompletedModuleIndices = append(result.CompletedModuleIndices, idx)
		}
	}
	result.Percentage = Percent(result.CompletedCount, result.TotalModules)
	return result
}

// ComputeModuleBreakdown returns the per-module results of a subject in catalog order.
func ComputeModuleBreakdown(subject *models.Subject, progress models.SubjectProgress) []models.ModuleProgressResult {
	if subject == nil {
		return []models.ModuleProgressResult{}
	}
	results := make([]models.ModuleProgressResult, len(subject.Modules))
	for idx, module := range subject.Modules {
		entry, _ := progress.Module(idx)
		results[idx] = ComputeModuleProgress(module, entry)
	}
	return results
}

// ComputeYearOrKraRollup groups rows by key in order of first encounter.
func ComputeYearOrKraRollup(rows []models.KpiRow, key RollupKeyFunc) []models.RollupGroup {
	groups := make([]models.RollupGroup, 0)
	index := make(map[string]int)
	for _, row := range rows {
		k := key(row)
		i, ok := index[k]
		if !ok {
			groups = append(groups, models.RollupGroup{Key: k})
			i = len(groups) - 1
			index[k] = i
		}
		groups[i].Subjects++
		groups[i].TotalModules += row.TotalModules
		groups[i].CompletedModules += row.CompletedCount
	}
	for i := range groups {
		groups[i].Progress = Percent(groups[i].CompletedModules, groups[i].TotalModules)
	}
	return groups
}

// SemesterKey groups by year and semester.
func SemesterKey(row models.KpiRow) string {
	return fmt.Sprintf("Year %d - Semester %d", row.Year, row.Semester)
}

// YearKey groups by year.
func YearKey(row models.KpiRow) string {
	return fmt.Sprintf("Year %d", row.Year)
}

// BranchKey groups by branch.
func BranchKey(row models.KpiRow) string {
	return row.Branch
}

// KpiRowFor builds the KPI row for a subject.
func KpiRowFor(subject models.Subject, progress models.SubjectProgress) models.KpiRow {
	result := ComputeSubjectProgress(&subject, progress)
	return models.KpiRow{
		SubjectID:      subject.ID,
		Name:           subject.Name,
		Code:           subject.Code,
		Branch:         subject.Branch,
		Year:           subject.Year,
		Semester:       subject.Semester,
		Progress:       result.Percentage,
		CompletedCount: result.CompletedCount,
		TotalModules:   result.TotalModules,
	}
}

// ComputeScopeProgress returns one row per subject plus the overall rollup for a
// dashboard scope. Every subject in scope is listed, touched or not.
func ComputeScopeProgress(subjects []models.Subject, record models.ProgressRecord) ([]models.KpiRow, models.RollupGroup) {
	rows := make([]models.KpiRow, 0, len(subjects))
	for _, subject := range subjects {
		rows = append(rows, KpiRowFor(subject, record.Subject(subject.ID)))
	}
	overall := models.RollupGroup{Key: "overall"}
	if groups := ComputeYearOrKraRollup(rows, func(models.KpiRow) string { return "overall" }); len(groups) == 1 {
		overall = groups[0]
	}
	return rows, overall
}

// LegacyView derives the boolean-per-module view of a record. Entries whose
// subject is no longer in the catalog keep only their explicit marks.
func LegacyView(record models.ProgressRecord, catalog models.Catalog) map[string]map[string]bool {
	view := make(map[string]map[string]bool, len(record))
	for key, modules := range record {
		subjectID, ok := models.ParseSubjectKey(key)
		if !ok {
			continue
		}
		subject, known := catalog.Lookup(subjectID)
		flags := make(map[string]bool, len(modules))
		for moduleKey, entry := range modules {
			idx, ok := models.ParseModuleKey(moduleKey)
			if !ok {
				continue
			}
			done := entry.Marked
			if known && idx < len(subject.Modules) {
				done = ComputeModuleProgress(subject.Modules[idx], entry).Completed
			}
			flags[moduleKey] = done
		}
		view[key] = flags
	}
	return view
}

// ValidateSubject reports catalog integrity problems in a subject definition.
func ValidateSubject(subject models.Subject) error {
	var problems []string
	if strings.TrimSpace(subject.ID) == "" {
		problems = append(problems, "subject id is empty")
	}
	if subject.Year < 1 {
		problems = append(problems, "year must be positive")
	}
	if subject.Semester < 1 {
		problems = append(problems, "semester must be positive")
	}
	for idx, module := range subject.Modules {
		if strings.TrimSpace(module.Name) == "" {
			problems = append(problems, fmt.Sprintf("module %d has no name", idx))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return appErrors.Clone(appErrors.ErrCatalogIntegrity, fmt.Sprintf("subject %q: %s", subject.ID, strings.Join(problems, "; ")))
}

func distinctTopics(topics []int, total int) int {
	if total == 0 || len(topics) == 0 {
		return 0
	}
	seen := make(map[int]struct{}, len(topics))
	for _, t := range topics {
		if t >= 0 && t < total {
			seen[t] = struct{}{}
		}
	}
	return len(seen)
}

func normaliseTopics(topics []int) []int {
	if len(topics) == 0 {
		return nil
	}
	seen := make(map[int]struct{}, len(topics))
	out := make([]int, 0, len(topics))
	for _, t := range topics {
		if _, dup := seen[t]; dup || t < 0 {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Ints(out)
	return out
}

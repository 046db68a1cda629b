package service

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

type catalogStore interface {
	ListAll(ctx context.Context) ([]models.SubjectRow, error)
	FindByID(ctx context.Context, id string) (*models.SubjectRow, error)
	UpsertMany(ctx context.Context, rows []models.SubjectRow) error
}

// CatalogImportSummary reports what an import wrote.
type CatalogImportSummary struct {
	Branches int `json:"branches"`
	Subjects int `json:"subjects"`
	Modules  int `json:"modules"`
}

// CatalogService serves read-only catalog snapshots and owns the import flow.
type CatalogService struct {
	repo     catalogStore
	cache    *CacheService
	metrics  *MetricsService
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewCatalogService constructs the catalog service.
func NewCatalogService(repo catalogStore, cache *CacheService, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{repo: repo, cache: cache, metrics: metrics, cacheTTL: cacheTTL, logger: logger}
}

// Catalog returns the flat subject snapshot and whether it came from cache.
func (s *CatalogService) Catalog(ctx context.Context) (models.Catalog, bool, error) {
	var cached models.Catalog
	if s.cache.Get(ctx, catalogCacheKey, &cached) && cached != nil {
		return cached, true, nil
	}

	start := time.Now()
	rows, err := s.repo.ListAll(ctx)
	s.metrics.ObserveDBQuery("catalog_list", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load catalog")
	}

	catalog := make(models.Catalog, len(rows))
	for _, row := range rows {
		subject, err := storedSubject(row)
		if err != nil {
			s.logger.Warn("skipping invalid stored subject",
				zap.String("subject_id", row.ID),
				zap.String("code", appErrors.ErrCatalogIntegrity.Code),
				zap.Error(err),
			)
			continue
		}
		catalog[subject.ID] = subject
	}

	s.cache.Set(ctx, catalogCacheKey, catalog, s.cacheTTL)
	return catalog, false, nil
}

// Tree returns the nested branch view of the catalog.
func (s *CatalogService) Tree(ctx context.Context) (models.CatalogTree, bool, error) {
	catalog, hit, err := s.Catalog(ctx)
	if err != nil {
		return models.CatalogTree{}, false, err
	}
	return catalog.Tree(), hit, nil
}

// Subject returns one subject by ID, reading through to the store on a stale snapshot.
func (s *CatalogService) Subject(ctx context.Context, id string) (*models.Subject, error) {
	catalog, _, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if subject, ok := catalog.Lookup(id); ok {
		return subject, nil
	}

	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	subject, err := storedSubject(*row)
	if err != nil {
		return nil, err
	}
	return &subject, nil
}

// storedSubject decodes a row and applies the same checks an import does.
func storedSubject(row models.SubjectRow) (models.Subject, error) {
	subject, err := row.Subject()
	if err != nil {
		return models.Subject{}, appErrors.Wrap(err, appErrors.ErrCatalogIntegrity.Code, appErrors.ErrCatalogIntegrity.Status, "stored subject is malformed")
	}
	if err := ValidateSubject(subject); err != nil {
		return models.Subject{}, appErrors.Wrap(err, appErrors.ErrCatalogIntegrity.Code, appErrors.ErrCatalogIntegrity.Status, "stored subject is invalid")
	}
	return subject, nil
}

// Import validates a catalog tree and upserts every subject in one transaction.
// Subjects inherit branch, year and semester from their tree position when unset;
// explicit values that disagree with the position are rejected.
func (s *CatalogService) Import(ctx context.Context, tree models.CatalogTree) (*CatalogImportSummary, error) {
	subjects, err := FlattenTree(tree)
	if err != nil {
		return nil, err
	}

	rows := make([]models.SubjectRow, 0, len(subjects))
	summary := &CatalogImportSummary{Branches: len(tree.Branches), Subjects: len(subjects)}
	for _, subject := range subjects {
		AssignModuleIDs(&subject)
		summary.Modules += len(subject.Modules)
		row, err := models.NewSubjectRow(subject)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode subject")
		}
		rows = append(rows, row)
	}

	if err := s.repo.UpsertMany(ctx, rows); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store catalog")
	}

	for _, pattern := range []string{catalogCachePattern, analyticsCachePattern} {
		if err := s.cache.Invalidate(ctx, pattern); err != nil {
			s.logger.Warn("catalog stored but cache not invalidated, snapshots stay until ttl",
				zap.String("pattern", pattern),
				zap.Duration("ttl", s.cacheTTL),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("catalog imported",
		zap.Int("branches", summary.Branches),
		zap.Int("subjects", summary.Subjects),
		zap.Int("modules", summary.Modules),
	)
	return summary, nil
}

// FlattenTree walks the tree in order and returns its subjects, enforcing
// positional consistency and unique IDs. Violations are reported as a 400
// catalog integrity error.
func FlattenTree(tree models.CatalogTree) ([]models.Subject, error) {
	var (
		subjects []models.Subject
		problems []string
	)
	seen := make(map[string]string)
	for _, branch := range tree.Branches {
		branchName := strings.TrimSpace(branch.Name)
		if branchName == "" {
			problems = append(problems, "branch with empty name")
			continue
		}
		for _, year := range branch.Years {
			for _, semester := range year.Semesters {
				position := fmt.Sprintf("%s/year %d/semester %d", branchName, year.Number, semester.Number)
				for _, subject := range semester.Subjects {
					if subject.Branch == "" {
						subject.Branch = branchName
					}
					if subject.Year == 0 {
						subject.Year = year.Number
					}
					if subject.Semester == 0 {
						subject.Semester = semester.Number
					}
					if subject.Branch != branchName || subject.Year != year.Number || subject.Semester != semester.Number {
						problems = append(problems, fmt.Sprintf("subject %q declares %s/year %d/semester %d but sits under %s",
							subject.ID, subject.Branch, subject.Year, subject.Semester, position))
						continue
					}
					if err := ValidateSubject(subject); err != nil {
						problems = append(problems, appErrors.FromError(err).Message)
						continue
					}
					if prev, dup := seen[subject.ID]; dup {
						problems = append(problems, fmt.Sprintf("subject %q appears under %s and %s", subject.ID, prev, position))
						continue
					}
					seen[subject.ID] = position
					if subject.Modules == nil {
						subject.Modules = []models.Module{}
					}
					subjects = append(subjects, subject)
				}
			}
		}
	}
	if len(problems) > 0 {
		return nil, appErrors.New(appErrors.ErrCatalogIntegrity.Code, http.StatusBadRequest, strings.Join(problems, "; "))
	}
	if len(subjects) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "catalog contains no subjects")
	}
	return subjects, nil
}

// AssignModuleIDs fills missing module IDs with a digest of the subject, position and name.
func AssignModuleIDs(subject *models.Subject) {
	for idx := range subject.Modules {
		if subject.Modules[idx].ID != "" {
			continue
		}
		sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%s", subject.ID, idx, subject.Modules[idx].Name)))
		subject.Modules[idx].ID = hex.EncodeToString(sum[:])[:12]
	}
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

type fakeCatalogStore struct {
	rows      []models.SubjectRow
	listErr   error
	upsertErr error
	listCalls int
	upserted  []models.SubjectRow
}

func (f *fakeCatalogStore) ListAll(context.Context) ([]models.SubjectRow, error) {
	f.listCalls++
	return f.rows, f.listErr
}

func (f *fakeCatalogStore) FindByID(_ context.Context, id string) (*models.SubjectRow, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeCatalogStore) UpsertMany(_ context.Context, rows []models.SubjectRow) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, rows...)
	return nil
}

func mustRow(t *testing.T, subject models.Subject) models.SubjectRow {
	t.Helper()
	row, err := models.NewSubjectRow(subject)
	require.NoError(t, err)
	return row
}

func sampleTree() models.CatalogTree {
	return models.CatalogTree{Branches: []models.Branch{{
		Name: "CSE",
		Years: []models.Year{{
			Number: 1,
			Semesters: []models.Semester{
				{Number: 1, Subjects: []models.Subject{{ID: "cs101", Name: "Programming", Modules: namedModules("Basics", "Loops")}}},
				{Number: 2, Subjects: []models.Subject{{ID: "cs102", Name: "Discrete Math", Branch: "CSE", Year: 1, Semester: 2}}},
			},
		}},
	}}}
}

func TestCatalogServiceCachesSnapshot(t *testing.T) {
	store := &fakeCatalogStore{rows: []models.SubjectRow{
		mustRow(t, models.Subject{ID: "cs101", Name: "Programming", Branch: "CSE", Year: 1, Semester: 1, Modules: namedModules("a")}),
	}}
	cache := NewCacheService(&stubCacheRepo{}, nil, 0, nil, true)
	svc := NewCatalogService(store, cache, nil, 0, zap.NewNop())

	catalog, hit, err := svc.Catalog(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Len(t, catalog, 1)

	catalog, hit, err = svc.Catalog(context.Background())
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "Programming", catalog["cs101"].Name)
	assert.Equal(t, 1, store.listCalls)
}

func TestCatalogServiceSkipsCorruptStoredSubject(t *testing.T) {
	store := &fakeCatalogStore{rows: []models.SubjectRow{
		mustRow(t, models.Subject{ID: "cs101", Name: "Programming", Branch: "CSE", Year: 0, Semester: 1}),
		mustRow(t, models.Subject{ID: "cs102", Name: "Discrete Math", Branch: "CSE", Year: 1, Semester: 2}),
	}}
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewCatalogService(store, nil, nil, 0, zap.New(core))

	catalog, _, err := svc.Catalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, catalog, 1)
	assert.Contains(t, catalog, "cs102")

	skipped := logs.FilterMessage("skipping invalid stored subject").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "cs101", skipped[0].ContextMap()["subject_id"])
	assert.Equal(t, appErrors.ErrCatalogIntegrity.Code, skipped[0].ContextMap()["code"])

	subject, err := svc.Subject(context.Background(), "cs102")
	require.NoError(t, err)
	assert.Equal(t, "Discrete Math", subject.Name)
}

func TestCatalogServiceSubjectValidatesStoreFallback(t *testing.T) {
	store := &fakeCatalogStore{rows: []models.SubjectRow{
		mustRow(t, models.Subject{ID: "cs101", Name: "Programming", Branch: "CSE", Year: 1, Semester: 1, Modules: []models.Module{{Name: " "}}}),
	}}
	svc := NewCatalogService(store, nil, nil, 0, nil)

	_, err := svc.Subject(context.Background(), "cs101")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCatalogIntegrity.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
}

func TestCatalogServiceSubjectNotFound(t *testing.T) {
	svc := NewCatalogService(&fakeCatalogStore{}, nil, nil, 0, nil)
	_, err := svc.Subject(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceTree(t *testing.T) {
	store := &fakeCatalogStore{rows: []models.SubjectRow{
		mustRow(t, models.Subject{ID: "cs102", Name: "Discrete", Branch: "CSE", Year: 1, Semester: 2}),
		mustRow(t, models.Subject{ID: "cs101", Name: "Programming", Branch: "CSE", Year: 1, Semester: 1}),
		mustRow(t, models.Subject{ID: "ee101", Name: "Circuits", Branch: "EEE", Year: 1, Semester: 1}),
	}}
	svc := NewCatalogService(store, nil, nil, 0, nil)

	tree, _, err := svc.Tree(context.Background())
	require.NoError(t, err)
	require.Len(t, tree.Branches, 2)
	cse := tree.Branches[0]
	assert.Equal(t, "CSE", cse.Name)
	require.Len(t, cse.Years, 1)
	require.Len(t, cse.Years[0].Semesters, 2)
	assert.Equal(t, "cs101", cse.Years[0].Semesters[0].Subjects[0].ID)
	assert.Equal(t, "cs102", cse.Years[0].Semesters[1].Subjects[0].ID)
}

func TestCatalogServiceImportAssignsIDsAndInvalidates(t *testing.T) {
	store := &fakeCatalogStore{}
	cacheRepo := &stubCacheRepo{}
	cache := NewCacheService(cacheRepo, nil, 0, nil, true)
	cache.Set(context.Background(), catalogCacheKey, models.Catalog{}, 0)
	cache.Set(context.Background(), fleetAnalyticsKey, 1, 0)
	svc := NewCatalogService(store, cache, nil, 0, nil)

	summary, err := svc.Import(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Equal(t, &CatalogImportSummary{Branches: 1, Subjects: 2, Modules: 2}, summary)
	require.Len(t, store.upserted, 2)

	first, err := store.upserted[0].Subject()
	require.NoError(t, err)
	assert.Equal(t, "CSE", first.Branch)
	assert.Equal(t, 1, first.Semester)
	require.Len(t, first.Modules, 2)
	assert.Len(t, first.Modules[0].ID, 12)
	assert.NotEqual(t, first.Modules[0].ID, first.Modules[1].ID)

	assert.False(t, cacheRepo.has(catalogCacheKey))
	assert.False(t, cacheRepo.has(fleetAnalyticsKey))
}

func TestCatalogServiceImportLogsFailedInvalidation(t *testing.T) {
	store := &fakeCatalogStore{}
	cacheRepo := &stubCacheRepo{deleteErr: errors.New("redis: connection refused")}
	cache := NewCacheService(cacheRepo, nil, 0, nil, true)
	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewCatalogService(store, cache, nil, time.Minute, zap.New(core))

	summary, err := svc.Import(context.Background(), sampleTree())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Subjects)
	require.Len(t, store.upserted, 2)

	warnings := logs.FilterMessage("catalog stored but cache not invalidated, snapshots stay until ttl").All()
	require.Len(t, warnings, 2)
	assert.Equal(t, catalogCachePattern, warnings[0].ContextMap()["pattern"])
	assert.Equal(t, analyticsCachePattern, warnings[1].ContextMap()["pattern"])
}

func TestCatalogServiceImportIsDeterministic(t *testing.T) {
	a := models.Subject{ID: "cs101", Modules: namedModules("Basics")}
	b := models.Subject{ID: "cs101", Modules: namedModules("Basics")}
	AssignModuleIDs(&a)
	AssignModuleIDs(&b)
	assert.Equal(t, a.Modules[0].ID, b.Modules[0].ID)

	kept := models.Subject{ID: "cs101", Modules: []models.Module{{ID: "explicit", Name: "Basics"}}}
	AssignModuleIDs(&kept)
	assert.Equal(t, "explicit", kept.Modules[0].ID)
}

func TestCatalogServiceImportRejectsIntegrityViolations(t *testing.T) {
	cases := map[string]func(*models.CatalogTree){
		"position mismatch": func(tree *models.CatalogTree) {
			tree.Branches[0].Years[0].Semesters[1].Subjects[0].Year = 3
		},
		"duplicate id": func(tree *models.CatalogTree) {
			tree.Branches[0].Years[0].Semesters[1].Subjects[0].ID = "cs101"
		},
		"unnamed module": func(tree *models.CatalogTree) {
			tree.Branches[0].Years[0].Semesters[0].Subjects[0].Modules[1].Name = ""
		},
		"empty branch name": func(tree *models.CatalogTree) {
			tree.Branches[0].Name = " "
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tree := sampleTree()
			mutate(&tree)
			store := &fakeCatalogStore{}
			_, err := NewCatalogService(store, nil, nil, 0, nil).Import(context.Background(), tree)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrCatalogIntegrity.Code, appErr.Code)
			assert.Equal(t, http.StatusBadRequest, appErr.Status)
			assert.Empty(t, store.upserted)
		})
	}
}

func TestCatalogServiceImportEmptyTree(t *testing.T) {
	_, err := NewCatalogService(&fakeCatalogStore{}, nil, nil, 0, nil).Import(context.Background(), models.CatalogTree{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCatalogServiceImportStoreFailure(t *testing.T) {
	store := &fakeCatalogStore{upsertErr: errors.New("tx aborted")}
	_, err := NewCatalogService(store, nil, nil, 0, nil).Import(context.Background(), sampleTree())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

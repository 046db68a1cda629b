package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
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

type fakeProgressStore struct {
	mu        sync.Mutex
	docs      map[string][]byte
	getErr    error
	updateErr error
}

func (f *fakeProgressStore) Get(_ context.Context, userID string) (*models.ProgressDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.ProgressDocument{UserID: userID, Document: doc}, nil
}

func (f *fakeProgressStore) Update(_ context.Context, userID string, fn models.ProgressMutation) (models.ProgressRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	record, _ := models.DecodeProgressRecord(f.docs[userID])
	record, err := fn(record)
	if err != nil {
		return nil, err
	}
	payload, err := record.Encode()
	if err != nil {
		return nil, err
	}
	if f.docs == nil {
		f.docs = map[string][]byte{}
	}
	f.docs[userID] = payload
	return record, nil
}

func (f *fakeProgressStore) record(t *testing.T, userID string) models.ProgressRecord {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	record, malformed := models.DecodeProgressRecord(f.docs[userID])
	require.Empty(t, malformed)
	return record
}

type staticCatalog struct {
	catalog models.Catalog
	err     error
}

func (s staticCatalog) Catalog(context.Context) (models.Catalog, bool, error) {
	return s.catalog, false, s.err
}

func (s staticCatalog) Subject(_ context.Context, id string) (*models.Subject, error) {
	if s.err != nil {
		return nil, s.err
	}
	subject, ok := s.catalog.Lookup(id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %s not found", id))
	}
	return subject, nil
}

type stubPreferences struct {
	prefs models.Preferences
}

func (s stubPreferences) Get(context.Context, string) (models.Preferences, error) {
	return s.prefs, nil
}

type notifierSpy struct {
	users []string
}

func (n *notifierSpy) NotifyProgressChanged(userID string) {
	n.users = append(n.users, userID)
}

func progressCatalog() models.Catalog {
	catalog := rollupCatalog()
	cs101 := catalog["cs101"]
	cs101.Modules = []models.Module{
		{Name: "Basics", Topics: []string{"syntax", "types", "io"}},
		{Name: "Loops", Topics: []string{"for"}},
		{Name: "Functions"},
		{Name: "Structs"},
	}
	catalog["cs101"] = cs101
	return catalog
}

func newProgressFixture(semester string) (*ProgressService, *fakeProgressStore, *notifierSpy) {
	store := &fakeProgressStore{}
	notifier := &notifierSpy{}
	svc := NewProgressService(store, staticCatalog{catalog: progressCatalog()}, stubPreferences{prefs: models.Preferences{DefaultSemester: semester}}, notifier, NewMetricsService(), nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return svc, store, notifier
}

func TestProgressServiceRecordEmptyForNewUser(t *testing.T) {
	svc, _, _ := newProgressFixture("all")
	record, err := svc.Record(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, record)
	assert.NotNil(t, record)
}

func TestProgressServiceRecordToleratesMalformedEntries(t *testing.T) {
	svc, store, _ := newProgressFixture("all")
	core, logs := observer.New(zapcore.WarnLevel)
	svc.logger = zap.New(core)
	store.docs = map[string][]byte{"u1": []byte(`{"subject_cs101":{"module_0":true,"module_1":1}}`)}

	record, err := svc.Record(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, record["subject_cs101"]["module_0"].Marked)
	assert.True(t, record["subject_cs101"]["module_1"].IsEmpty())

	detail, err := svc.Subject(context.Background(), "u1", "cs101")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, detail.Progress.CompletedModuleIndices)

	entries := logs.FilterMessage("malformed progress entries read as empty").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, "u1", entries[0].ContextMap()["user_id"])
}

func TestProgressServiceRecordStoreFailure(t *testing.T) {
	svc, store, _ := newProgressFixture("all")
	store.getErr = errors.New("connection reset")
	_, err := svc.Record(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
}

func TestProgressServiceSetModuleRoundTrip(t *testing.T) {
	svc, store, notifier := newProgressFixture("all")
	ctx := context.Background()

	detail, err := svc.SetModule(ctx, "u1", "cs101", 2, true)
	require.NoError(t, err)
	assert.Equal(t, 25, detail.Progress.Percentage)
	assert.Equal(t, []int{2}, detail.Progress.CompletedModuleIndices)
	assert.Equal(t, []string{"u1"}, notifier.users)

	detail, err = svc.SetModule(ctx, "u1", "cs101", 2, false)
	require.NoError(t, err)
	assert.Equal(t, 0, detail.Progress.Percentage)
	assert.Equal(t, models.ProgressRecord{"subject_cs101": {"module_2": {}}}, store.record(t, "u1"))
	assert.Equal(t, uint64(2), svc.metrics.Snapshot().ProgressWrites)
}

func TestProgressServiceSetModuleValidatesTarget(t *testing.T) {
	svc, _, notifier := newProgressFixture("all")
	ctx := context.Background()

	_, err := svc.SetModule(ctx, "u1", "cs101", 4, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.SetModule(ctx, "u1", "cs101", -1, true)
	require.Error(t, err)

	_, err = svc.SetModule(ctx, "u1", "ghost", 0, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, notifier.users)
}

func TestProgressServiceSetTopicTracksPartialModule(t *testing.T) {
	svc, _, _ := newProgressFixture("all")
	ctx := context.Background()

	detail, err := svc.SetTopic(ctx, "u1", "cs101", 0, 1, true)
	require.NoError(t, err)
	assert.Equal(t, models.ModuleProgressResult{CompletedCount: 1, TotalTopics: 3, Percentage: 33}, detail.Modules[0])
	assert.Equal(t, 0, detail.Progress.CompletedCount)

	_, err = svc.SetTopic(ctx, "u1", "cs101", 0, 0, true)
	require.NoError(t, err)
	detail, err = svc.SetTopic(ctx, "u1", "cs101", 0, 2, true)
	require.NoError(t, err)
	assert.True(t, detail.Modules[0].Completed)
	assert.Equal(t, 25, detail.Progress.Percentage)
}

func TestProgressServiceSetTopicValidatesIndex(t *testing.T) {
	svc, _, _ := newProgressFixture("all")
	ctx := context.Background()

	_, err := svc.SetTopic(ctx, "u1", "cs101", 0, 3, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.SetTopic(ctx, "u1", "cs101", 2, 0, true)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "0 topics")
}

func TestProgressServiceWriteFailure(t *testing.T) {
	svc, store, notifier := newProgressFixture("all")
	store.updateErr = errors.New("serialization failure")
	_, err := svc.SetModule(context.Background(), "u1", "cs101", 0, true)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.Empty(t, notifier.users)
}

func TestApplyTopicToggleExpandsMarkOnUncheck(t *testing.T) {
	record := models.ProgressRecord{"subject_cs101": {"module_0": {Marked: true}}}
	record = ApplyTopicToggle(record, "cs101", 0, 1, 3, false)
	assert.Equal(t, models.ModuleCompletion{CompletedTopics: []int{0, 2}}, record["subject_cs101"]["module_0"])

	record = ApplyTopicToggle(record, "cs101", 0, 0, 3, false)
	record = ApplyTopicToggle(record, "cs101", 0, 2, 3, false)
	require.Contains(t, record["subject_cs101"], "module_0")
	assert.True(t, record["subject_cs101"]["module_0"].IsEmpty())
}

func TestApplyTopicToggleIsIdempotent(t *testing.T) {
	record := ApplyTopicToggle(nil, "cs101", 1, 0, 1, true)
	record = ApplyTopicToggle(record, "cs101", 1, 0, 1, true)
	assert.Equal(t, []int{0}, record["subject_cs101"]["module_1"].CompletedTopics)

	record = ApplyTopicToggle(record, "cs102", 0, 0, 1, false)
	assert.Equal(t, models.SubjectProgress{"module_0": {}}, record["subject_cs102"])
}

func TestApplyModuleToggleKeepsOtherModules(t *testing.T) {
	record := ApplyModuleToggle(nil, "cs101", 0, true)
	record = ApplyModuleToggle(record, "cs101", 1, true)
	record = ApplyModuleToggle(record, "cs101", 0, false)
	assert.Equal(t, models.SubjectProgress{"module_0": {}, "module_1": {Marked: true}}, record["subject_cs101"])
}

func TestUnmarkedModuleStillCountsAsTracked(t *testing.T) {
	catalog := progressCatalog()
	record := ApplyModuleToggle(nil, "cs101", 0, true)
	record = ApplyModuleToggle(record, "cs101", 0, false)

	payload, err := record.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"subject_cs101":{"module_0":{}}}`, string(payload))

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	users := []models.User{{ID: "u1", CreatedAt: now}}
	stats := ComputeFleetStats(users, map[string]models.ProgressRecord{"u1": record}, len(catalog), now, 7)
	assert.Equal(t, 1, stats.ActiveLearners)

	rows := BuildUserKpiList("u1", catalog, record)
	require.Len(t, rows, 1)
	assert.Equal(t, "cs101", rows[0].SubjectID)
	assert.Zero(t, rows[0].Progress)
	assert.Zero(t, rows[0].CompletedCount)
}

func TestProgressServiceOverview(t *testing.T) {
	svc, store, _ := newProgressFixture("all")
	store.docs = map[string][]byte{"u1": []byte(`{"subject_cs101":{"module_0":{"completedTopics":[0,1,2]}},"subject_ghost":{"module_0":true}}`)}

	overview, err := svc.Overview(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, overview.Tracked)
	assert.True(t, overview.Legacy["subject_cs101"]["module_0"])
	assert.True(t, overview.Legacy["subject_ghost"]["module_0"])
}

func TestProgressServiceDashboardUsesPreferenceSemester(t *testing.T) {
	svc, store, _ := newProgressFixture("2")
	store.docs = map[string][]byte{"u1": []byte(`{"subject_cs102":{"module_0":true}}`)}

	dashboard, err := svc.Dashboard(context.Background(), "u1", DashboardQuery{Branch: "CSE"})
	require.NoError(t, err)
	assert.Equal(t, "2", dashboard.Semester)
	require.Len(t, dashboard.Subjects, 1)
	assert.Equal(t, "cs102", dashboard.Subjects[0].SubjectID)
	assert.Equal(t, 50, dashboard.Overall.Progress)
	require.Len(t, dashboard.Semesters, 1)
	assert.Equal(t, "Year 1 - Semester 2", dashboard.Semesters[0].Key)
}

func TestProgressServiceDashboardExplicitSemesterOverridesPreference(t *testing.T) {
	svc, _, _ := newProgressFixture("2")
	all := 0
	dashboard, err := svc.Dashboard(context.Background(), "u1", DashboardQuery{Semester: &all})
	require.NoError(t, err)
	assert.Equal(t, models.SemesterFilterAll, dashboard.Semester)
	assert.Len(t, dashboard.Subjects, 5)
	assert.Equal(t, 0, dashboard.Overall.Progress)
}

func TestProgressServiceKPIs(t *testing.T) {
	svc, store, _ := newProgressFixture("all")
	store.docs = map[string][]byte{"u1": []byte(`{"subject_cs101":{"module_0":true,"module_1":true},"subject_ee101":{"module_0":true}}`)}

	analytics, err := svc.KPIs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", analytics.UserID)
	require.Len(t, analytics.KPIs, 2)
	assert.Equal(t, "ee101", analytics.KPIs[0].SubjectID)
	assert.Equal(t, 50, analytics.KPIs[1].Progress)
}

func TestProgressServiceExportCSV(t *testing.T) {
	svc, store, _ := newProgressFixture("all")
	store.docs = map[string][]byte{"u1": []byte(`{"subject_cs101":{"module_0":true}}`)}

	file, err := svc.Export(context.Background(), "u1", "CSV")
	require.NoError(t, err)
	assert.Equal(t, "progress-20240301-093000.csv", file.Filename)
	assert.Equal(t, "text/csv", file.ContentType)
	lines := strings.Split(strings.TrimSpace(string(file.Body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Subject,Code,Branch,Year,Semester,Completed,Modules,Progress %", lines[0])
	assert.Equal(t, "Programming,CS101,CSE,1,1,1,4,25", lines[1])
}

func TestProgressServiceExportRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newProgressFixture("all")
	_, err := svc.Export(context.Background(), "u1", "xlsx")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
	"github.com/noah-isme/syllabus-tracker-api/pkg/export"
)

type progressStore interface {
	Get(ctx context.Context, userID string) (*models.ProgressDocument, error)
	Update(ctx context.Context, userID string, fn models.ProgressMutation) (models.ProgressRecord, error)
}

type catalogProvider interface {
	Catalog(ctx context.Context) (models.Catalog, bool, error)
	Subject(ctx context.Context, id string) (*models.Subject, error)
}

type preferenceProvider interface {
	Get(ctx context.Context, userID string) (models.Preferences, error)
}

// ProgressChangeNotifier is told about every persisted progress change.
type ProgressChangeNotifier interface {
	NotifyProgressChanged(userID string)
}

// ProgressOverview is the caller's raw record plus its boolean projection.
type ProgressOverview struct {
	Record  models.ProgressRecord      `json:"record"`
	Legacy  map[string]map[string]bool `json:"legacy"`
	Tracked int                        `json:"tracked"`
}

// SubjectProgressDetail combines a subject with its derived progress.
type SubjectProgressDetail struct {
	Subject  models.Subject                `json:"subject"`
	Progress models.SubjectProgressResult  `json:"progress"`
	Modules  []models.ModuleProgressResult `json:"modules"`
}

// DashboardQuery scopes the dashboard. A nil Semester applies the saved preference.
type DashboardQuery struct {
	Branch   string
	Year     int
	Semester *int
}

// Dashboard lists every subject in scope with its progress.
type Dashboard struct {
	Branch    string               `json:"branch,omitempty"`
	Year      int                  `json:"year,omitempty"`
	Semester  string               `json:"semester"`
	Subjects  []models.KpiRow      `json:"subjects"`
	Overall   models.RollupGroup   `json:"overall"`
	Semesters []models.RollupGroup `json:"semesters"`
}

// ExportFile is a rendered KPI report.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ProgressService reads and mutates a user's progress record.
type ProgressService struct {
	store       progressStore
	catalog     catalogProvider
	preferences preferenceProvider
	notifier    ProgressChangeNotifier
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewProgressService constructs the service. notifier and metrics may be nil.
func NewProgressService(store progressStore, catalog catalogProvider, preferences preferenceProvider, notifier ProgressChangeNotifier, metrics *MetricsService, logger *zap.Logger) *ProgressService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressService{
		store:       store,
		catalog:     catalog,
		preferences: preferences,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// Record returns the user's record, empty when the user never wrote progress.
func (s *ProgressService) Record(ctx context.Context, userID string) (models.ProgressRecord, error) {
	start := time.Now()
	doc, err := s.store.Get(ctx, userID)
	s.metrics.ObserveDBQuery("progress_get", time.Since(start))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ProgressRecord{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load progress")
	}
	record, malformed := models.DecodeProgressRecord(doc.Document)
	if len(malformed) > 0 {
		s.logger.Warn("malformed progress entries read as empty",
			zap.String("user_id", userID),
			zap.Strings("entries", malformed),
		)
	}
	return record, nil
}

// Overview returns the raw record alongside the legacy boolean view.
func (s *ProgressService) Overview(ctx context.Context, userID string) (*ProgressOverview, error) {
	record, err := s.Record(ctx, userID)
	if err != nil {
		return nil, err
	}
	catalog, _, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return &ProgressOverview{Record: record, Legacy: LegacyView(record, catalog), Tracked: len(record.SubjectIDs())}, nil
}

// Subject returns the progress of one subject with a per-module breakdown.
func (s *ProgressService) Subject(ctx context.Context, userID, subjectID string) (*SubjectProgressDetail, error) {
	subject, err := s.catalog.Subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	record, err := s.Record(ctx, userID)
	if err != nil {
		return nil, err
	}
	return buildSubjectDetail(subject, record), nil
}

// SetModule toggles the explicit mark on a module. Clearing it also clears the
// module's topic set.
func (s *ProgressService) SetModule(ctx context.Context, userID, subjectID string, moduleIndex int, completed bool) (*SubjectProgressDetail, error) {
	subject, err := s.catalog.Subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if err := checkModuleIndex(subject, moduleIndex); err != nil {
		return nil, err
	}
	record, err := s.store.Update(ctx, userID, func(record models.ProgressRecord) (models.ProgressRecord, error) {
		return ApplyModuleToggle(record, subjectID, moduleIndex, completed), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save progress")
	}
	s.afterWrite(userID, "module")
	return buildSubjectDetail(subject, record), nil
}

// SetTopic toggles a single topic. Clearing a topic of an explicitly marked
// module keeps its other topics completed.
func (s *ProgressService) SetTopic(ctx context.Context, userID, subjectID string, moduleIndex, topicIndex int, completed bool) (*SubjectProgressDetail, error) {
	subject, err := s.catalog.Subject(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	if err := checkModuleIndex(subject, moduleIndex); err != nil {
		return nil, err
	}
	topics := len(subject.Modules[moduleIndex].Topics)
	if topicIndex < 0 || topicIndex >= topics {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("topic index %d out of range for module %d (%d topics)", topicIndex, moduleIndex, topics))
	}
	record, err := s.store.Update(ctx, userID, func(record models.ProgressRecord) (models.ProgressRecord, error) {
		return ApplyTopicToggle(record, subjectID, moduleIndex, topicIndex, topics, completed), nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save progress")
	}
	s.afterWrite(userID, "topic")
	return buildSubjectDetail(subject, record), nil
}

// Dashboard lists the subjects matching the query with their progress.
func (s *ProgressService) Dashboard(ctx context.Context, userID string, query DashboardQuery) (*Dashboard, error) {
	filter := models.CatalogFilter{Branch: query.Branch, Year: query.Year}
	if query.Semester != nil {
		filter.Semester = *query.Semester
	} else {
		prefs, err := s.preferences.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		filter.Semester, _ = models.ParseSemesterFilter(prefs.DefaultSemester)
	}

	catalog, _, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.Record(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	scoped := make([]models.Subject, 0)
	for _, subject := range catalog.Subjects() {
		if filter.Matches(subject) {
			scoped = append(scoped, subject)
		}
	}
	rows, overall := ComputeScopeProgress(scoped, record)
	dashboard := &Dashboard{
		Branch:    filter.Branch,
		Year:      filter.Year,
		Semester:  models.SemesterFilterAll,
		Subjects:  rows,
		Overall:   overall,
		Semesters: BuildKraGroups(rows),
	}
	if filter.Semester > 0 {
		dashboard.Semester = strconv.Itoa(filter.Semester)
	}
	s.metrics.ObserveAggregation("dashboard", time.Since(start))
	return dashboard, nil
}

// KPIs returns the caller's own KPI and KRA view.
func (s *ProgressService) KPIs(ctx context.Context, userID string) (*models.UserAnalytics, error) {
	catalog, _, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	record, err := s.Record(ctx, userID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	analytics := BuildUserAnalytics(userID, catalog, record)
	s.metrics.ObserveAggregation("user_kpis", time.Since(start))
	return &analytics, nil
}

// Export renders the caller's KPI rows as CSV or PDF.
func (s *ProgressService) Export(ctx context.Context, userID string, rawFormat string) (*ExportFile, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	analytics, err := s.KPIs(ctx, userID)
	if err != nil {
		return nil, err
	}
	generatedAt := s.now().UTC()
	body, err := export.Render(format, kpiDataset(analytics.KPIs, generatedAt))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("progress-%s.%s", generatedAt.Format("20060102-150405"), format),
		ContentType: format.ContentType(),
		Body:        body,
	}, nil
}

func (s *ProgressService) afterWrite(userID, kind string) {
	s.metrics.RecordProgressWrite(kind)
	if s.notifier != nil {
		s.notifier.NotifyProgressChanged(userID)
	}
}

func checkModuleIndex(subject *models.Subject, idx int) error {
	if idx < 0 || idx >= len(subject.Modules) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("module index %d out of range for subject %s (%d modules)", idx, subject.ID, len(subject.Modules)))
	}
	return nil
}

func buildSubjectDetail(subject *models.Subject, record models.ProgressRecord) *SubjectProgressDetail {
	progress := record.Subject(subject.ID)
	return &SubjectProgressDetail{
		Subject:  *subject,
		Progress: ComputeSubjectProgress(subject, progress),
		Modules:  ComputeModuleBreakdown(subject, progress),
	}
}

// ApplyModuleToggle sets or clears the explicit mark of a module.
func ApplyModuleToggle(record models.ProgressRecord, subjectID string, moduleIndex int, completed bool) models.ProgressRecord {
	if record == nil {
		record = models.ProgressRecord{}
	}
	subjectKey := models.SubjectKey(subjectID)
	moduleKey := models.ModuleKey(moduleIndex)
	modules := record[subjectKey]
	if modules == nil {
		modules = models.SubjectProgress{}
		record[subjectKey] = modules
	}
	// Un-marking clears the entry but keeps the key so the learner still
	// counts as having tracked the subject.
	entry := models.ModuleCompletion{}
	if completed {
		entry = modules[moduleKey]
		entry.Marked = true
	}
	modules[moduleKey] = entry
	return record
}

// ApplyTopicToggle adds or removes a topic from a module's completed set.
func ApplyTopicToggle(record models.ProgressRecord, subjectID string, moduleIndex, topicIndex, totalTopics int, completed bool) models.ProgressRecord {
	if record == nil {
		record = models.ProgressRecord{}
	}
	subjectKey := models.SubjectKey(subjectID)
	moduleKey := models.ModuleKey(moduleIndex)
	modules := record[subjectKey]
	if modules == nil {
		modules = models.SubjectProgress{}
	}
	entry := modules[moduleKey]

	if completed {
		entry.CompletedTopics = normaliseTopics(append(entry.CompletedTopics, topicIndex))
	} else {
		if entry.Marked {
			all := make([]int, totalTopics)
			for i := range all {
				all[i] = i
			}
			entry.CompletedTopics = all
			entry.Marked = false
		}
		kept := entry.CompletedTopics[:0:0]
		for _, t := range entry.CompletedTopics {
			if t != topicIndex {
				kept = append(kept, t)
			}
		}
		entry.CompletedTopics = normaliseTopics(kept)
	}

	modules[moduleKey] = entry
	record[subjectKey] = modules
	return record
}

func kpiDataset(rows []models.KpiRow, generatedAt time.Time) export.Dataset {
	headers := []string{"Subject", "Code", "Branch", "Year", "Semester", "Completed", "Modules", "Progress %"}
	data := export.Dataset{Title: "Syllabus progress", Headers: headers, GeneratedAt: generatedAt}
	for _, row := range rows {
		data.Rows = append(data.Rows, map[string]string{
			"Subject":    row.Name,
			"Code":       row.Code,
			"Branch":     row.Branch,
			"Year":       strconv.Itoa(row.Year),
			"Semester":   strconv.Itoa(row.Semester),
			"Completed":  strconv.Itoa(row.CompletedCount),
			"Modules":    strconv.Itoa(row.TotalModules),
			"Progress %": strconv.Itoa(row.Progress),
		})
	}
	return data
}

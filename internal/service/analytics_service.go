package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/syllabus-tracker-api/internal/models"
	"github.com/noah-isme/syllabus-tracker-api/pkg/concurrent"
	appErrors "github.com/noah-isme/syllabus-tracker-api/pkg/errors"
)

const (
	defaultUsersPageSize = 20
	maxUsersPageSize     = 100
)

type analyticsUserStore interface {
	ListActive(ctx context.Context) ([]models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type progressReader interface {
	Record(ctx context.Context, userID string) (models.ProgressRecord, error)
}

type catalogSnapshotter interface {
	Catalog(ctx context.Context) (models.Catalog, bool, error)
}

// AnalyticsConfig tunes the admin rollups.
type AnalyticsConfig struct {
	Enabled           bool
	CacheTTL          time.Duration
	FetchConcurrency  int
	FetchTimeout      time.Duration
	NewUserWindowDays int
}

// AnalyticsService computes admin-wide progress rollups over every user's record.
type AnalyticsService struct {
	users    analyticsUserStore
	progress progressReader
	catalog  catalogSnapshotter
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      AnalyticsConfig
	now      func() time.Time
}

// NewAnalyticsService constructs an analytics service.
func NewAnalyticsService(users analyticsUserStore, progress progressReader, catalog catalogSnapshotter, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg AnalyticsConfig) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 8
	}
	return &AnalyticsService{
		users:    users,
		progress: progress,
		catalog:  catalog,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Fleet returns the fleet-wide rollup. The boolean reports a cache hit.
func (s *AnalyticsService) Fleet(ctx context.Context) (*models.FleetAnalytics, bool, error) {
	if !s.cfg.Enabled {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "analytics are disabled")
	}
	var cached models.FleetAnalytics
	if s.cache.Get(ctx, fleetAnalyticsKey, &cached) {
		return &cached, true, nil
	}

	catalog, _, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	users, err := s.users.ListActive(ctx)
	s.metrics.ObserveDBQuery("analytics_users", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	records, failures := s.fetchRecords(ctx, users)
	if err := ctx.Err(); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrUpstreamFetch.Code, appErrors.ErrUpstreamFetch.Status, "analytics fetch interrupted")
	}

	start = time.Now()
	result := BuildFleetAnalytics(users, records, catalog, s.now().UTC(), s.cfg.NewUserWindowDays)
	result.FetchFailures = failures
	s.metrics.ObserveAggregation("fleet", time.Since(start))

	if failures == 0 {
		s.cache.Set(ctx, fleetAnalyticsKey, result, s.cfg.CacheTTL)
	}
	return result, false, nil
}

// Users returns one page of the fleet's per-user progress table.
func (s *AnalyticsService) Users(ctx context.Context, page, pageSize int) ([]models.UserProgressSummary, *models.Pagination, bool, error) {
	fleet, hit, err := s.Fleet(ctx)
	if err != nil {
		return nil, nil, false, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultUsersPageSize
	}
	if pageSize > maxUsersPageSize {
		pageSize = maxUsersPageSize
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: len(fleet.Users)}
	start, end := pagination.Bounds()
	return fleet.Users[start:end], pagination, hit, nil
}

// User returns the KPI/KRA view of a single user.
func (s *AnalyticsService) User(ctx context.Context, userID string) (*models.UserAnalytics, bool, error) {
	if !s.cfg.Enabled {
		return nil, false, appErrors.Clone(appErrors.ErrForbidden, "analytics are disabled")
	}
	key := userAnalyticsKey(userID)
	var cached models.UserAnalytics
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("user %s not found", userID))
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	catalog, _, err := s.catalog.Catalog(ctx)
	if err != nil {
		return nil, false, err
	}
	record, err := s.progress.Record(ctx, userID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrUpstreamFetch.Code, appErrors.ErrUpstreamFetch.Status, "failed to read user progress")
	}

	start := time.Now()
	analytics := BuildUserAnalytics(userID, catalog, record)
	s.metrics.ObserveAggregation("user", time.Since(start))

	s.cache.Set(ctx, key, analytics, s.cfg.CacheTTL)
	return &analytics, false, nil
}

// InvalidateUser drops the cached fleet rollup and the user's own rollup.
func (s *AnalyticsService) InvalidateUser(ctx context.Context, userID string) error {
	if err := s.cache.Invalidate(ctx, fleetAnalyticsKey); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, userAnalyticsKey(userID))
}

// SystemMetrics returns system instrumentation snapshot.
func (s *AnalyticsService) SystemMetrics() models.AnalyticsSystemMetrics {
	return s.metrics.Snapshot()
}

// fetchRecords reads every user's record with bounded concurrency. A failed read
// is logged and contributes an empty record.
func (s *AnalyticsService) fetchRecords(ctx context.Context, users []models.User) (map[string]models.ProgressRecord, int) {
	runner := concurrent.NewRunner[models.User, models.ProgressRecord](concurrent.RunnerConfig{
		MaxConcurrency: s.cfg.FetchConcurrency,
		Name:           "analytics-fetch",
		Logger:         s.logger,
	})
	outcomes := runner.Run(ctx, users, func(ctx context.Context, user models.User) (models.ProgressRecord, error) {
		if s.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
		}
		return s.progress.Record(ctx, user.ID)
	})

	records := make(map[string]models.ProgressRecord, len(users))
	failures := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failures++
			s.logger.Warn("progress fetch failed, treating record as empty",
				zap.String("user_id", outcome.Item.ID),
				zap.Error(outcome.Err),
			)
			records[outcome.Item.ID] = models.ProgressRecord{}
			continue
		}
		records[outcome.Item.ID] = outcome.Result
	}
	s.metrics.RecordFetchFailures(failures)
	return records, failures
}

// BuildFleetAnalytics derives fleet stats, fleet-wide groupings and the per-user
// table from already fetched records.
func BuildFleetAnalytics(users []models.User, records map[string]models.ProgressRecord, catalog models.Catalog, now time.Time, windowDays int) *models.FleetAnalytics {
	var allRows []models.KpiRow
	summaries := make([]models.UserProgressSummary, 0, len(users))
	for _, user := range users {
		rows := BuildUserKpiList(user.ID, catalog, records[user.ID])
		allRows = append(allRows, rows...)
		summaries = append(summaries, SummariseUser(user, rows))
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Progress > summaries[j].Progress
	})
	return &models.FleetAnalytics{
		Stats:       ComputeFleetStats(users, records, len(catalog), now, windowDays),
		KRA:         BuildKraGroups(allRows),
		Yearly:      BuildYearlyGroups(allRows),
		Branches:    BuildBranchGroups(allRows),
		Users:       summaries,
		GeneratedAt: now,
	}
}

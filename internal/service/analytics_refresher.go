package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/syllabus-tracker-api/pkg/jobs"
)

// JobTypeProgressChanged marks a job raised after a progress write.
const JobTypeProgressChanged = "progress.changed"

type jobEnqueuer interface {
	TryEnqueue(job jobs.Job) error
}

type analyticsInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// AnalyticsRefresher drops stale analytics cache entries off the request path.
type AnalyticsRefresher struct {
	queue       jobEnqueuer
	invalidator analyticsInvalidator
	logger      *zap.Logger
}

// NewAnalyticsRefresher constructs the refresher. Attach a queue before use.
func NewAnalyticsRefresher(invalidator analyticsInvalidator, logger *zap.Logger) *AnalyticsRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsRefresher{invalidator: invalidator, logger: logger}
}

// SetInvalidator replaces the invalidation target. It lets the refresher be
// created before the analytics service it feeds.
func (r *AnalyticsRefresher) SetInvalidator(invalidator analyticsInvalidator) {
	r.invalidator = invalidator
}

// Attach sets the queue progress notifications are pushed onto.
func (r *AnalyticsRefresher) Attach(queue jobEnqueuer) {
	r.queue = queue
}

// NotifyProgressChanged schedules invalidation without blocking the caller. A
// full queue drops the notification; cached rollups then expire by TTL.
func (r *AnalyticsRefresher) NotifyProgressChanged(userID string) {
	if r == nil || r.queue == nil {
		return
	}
	err := r.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: JobTypeProgressChanged, Payload: userID})
	if err != nil {
		level := r.logger.Warn
		if errors.Is(err, jobs.ErrQueueFull) {
			level = r.logger.Debug
		}
		level("analytics invalidation not scheduled", zap.String("user_id", userID), zap.Error(err))
	}
}

// Handle processes a queued progress change.
func (r *AnalyticsRefresher) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeProgressChanged {
		return nil
	}
	userID, ok := job.Payload.(string)
	if !ok || userID == "" {
		r.logger.Warn("dropping malformed refresh job", zap.String("job_id", job.ID))
		return nil
	}
	if r.invalidator == nil {
		return nil
	}
	if err := r.invalidator.InvalidateUser(ctx, userID); err != nil {
		return fmt.Errorf("invalidate analytics for %s: %w", userID, err)
	}
	return nil
}

package concurrent

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// WorkerFunc processes a single item.
type WorkerFunc[T any, R any] func(ctx context.Context, item T) (R, error)

// RunnerConfig configures the concurrent runner.
type RunnerConfig struct {
	MaxConcurrency int // 0 means unlimited concurrency
	Name           string
	Logger         *zap.Logger
}

// Outcome pairs an item with what its worker produced.
type Outcome[T any, R any] struct {
	Item   T
	Result R
	Err    error
}

// Runner fans work out over goroutines with an optional concurrency cap.
type Runner[T any, R any] struct {
	config RunnerConfig
}

// NewRunner creates a new concurrent runner with the given configuration.
func NewRunner[T any, R any](config RunnerConfig) *Runner[T, R] {
	if config.Name == "" {
		config.Name = "runner"
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Runner[T, R]{config: config}
}

// Run executes worker for every item and returns outcomes in input order. A
// failing item never stops the others; items not started before ctx is done
// carry ctx.Err().
func (r *Runner[T, R]) Run(ctx context.Context, items []T, worker WorkerFunc[T, R]) []Outcome[T, R] {
	outcomes := make([]Outcome[T, R], len(items))
	if len(items) == 0 {
		return outcomes
	}

	var throttle chan struct{}
	if r.config.MaxConcurrency > 0 {
		throttle = make(chan struct{}, r.config.MaxConcurrency)
	}

	var wg sync.WaitGroup
	for i, item := range items {
		outcomes[i].Item = item
		if err := ctx.Err(); err != nil {
			outcomes[i].Err = err
			continue
		}
		if throttle != nil {
			select {
			case throttle <- struct{}{}:
			case <-ctx.Done():
				outcomes[i].Err = ctx.Err()
				continue
			}
		}

		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			if throttle != nil {
				defer func() { <-throttle }()
			}
			result, err := worker(ctx, item)
			outcomes[i].Result = result
			outcomes[i].Err = err
		}(i, item)
	}
	wg.Wait()

	failed := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	r.config.Logger.Debug("fan-out finished",
		zap.String("runner", r.config.Name),
		zap.Int("items", len(items)),
		zap.Int("failed", failed),
	)
	return outcomes
}

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

// RunFunc executes a run to completion.
type RunFunc func(ctx context.Context, job RunJob) error

// NewRunPool returns a non-blocking pool: Submit fails at once when every
// worker is busy instead of parking the caller until a run finishes.
func NewRunPool(size int) (*ants.Pool, error) {
	return ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error().Interface("panic", p).Msg("run worker panicked")
		}),
	)
}

// PoolDispatcher runs jobs on an in-process goroutine pool. Each run gets its
// own pool worker, detached from the request that started it.
type PoolDispatcher struct {
	pool *ants.Pool
	run  RunFunc
}

// NewPoolDispatcher expects a pool from NewRunPool; a blocking pool would hold
// StartRun until a worker frees up.
func NewPoolDispatcher(pool *ants.Pool, run RunFunc) *PoolDispatcher {
	return &PoolDispatcher{pool: pool, run: run}
}

func (d *PoolDispatcher) Dispatch(ctx context.Context, job RunJob) error {
	runCtx := context.WithoutCancel(ctx)
	err := d.pool.Submit(func() {
		if err := d.run(runCtx, job); err != nil {
			log.Warn().Err(err).Str("run_id", job.RunID).Msg("background run ended with error")
		}
	})
	if errors.Is(err, ants.ErrPoolOverload) {
		return fmt.Errorf("submit run %s: %w (%d running)", job.RunID, ErrRunnerBusy, d.pool.Running())
	}
	if err != nil {
		return fmt.Errorf("submit run %s: %w", job.RunID, err)
	}
	return nil
}

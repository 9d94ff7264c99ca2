package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"AdReel-server/models"
)

// StaleReason is written to steps abandoned by a crashed worker.
const StaleReason = "stale run"

type StaleStore interface {
	ListStale(ctx context.Context, before time.Time) ([]models.RunState, error)
	UpdateStep(ctx context.Context, runID string, step models.Step, status string) error
}

// Sweeper 定时把长时间无进展的运行标记为失败
type Sweeper struct {
	store      StaleStore
	staleAfter time.Duration
	now        func() time.Time
	cron       *cron.Cron
}

func NewSweeper(store StaleStore, staleAfter time.Duration) *Sweeper {
	return &Sweeper{store: store, staleAfter: staleAfter, now: time.Now}
}

// Start schedules Sweep on a cron spec such as "@every 10m".
func (s *Sweeper) Start(spec string) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := s.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("stale run sweep failed")
		} else if n > 0 {
			log.Warn().Int("steps", n).Msg("marked stale steps failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", spec, err)
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep fails every running step of runs idle for longer than staleAfter and
// returns how many steps it marked.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	runs, err := s.store.ListStale(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, run := range runs {
		for _, step := range run.RunningSteps() {
			err := s.store.UpdateStep(ctx, run.RunID, step, models.FailedStatus(StaleReason))
			if err != nil {
				// 运行可能刚好推进了，忽略
				log.Warn().Err(err).Str("run_id", run.RunID).Str("step", string(step)).Msg("could not mark stale step")
				continue
			}
			marked++
		}
	}
	return marked, nil
}

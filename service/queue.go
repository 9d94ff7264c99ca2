package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"AdReel-server/pipeline"
)

const (
	TypeAdRun = "ad:run"
)

// QueueDispatcher 把运行投递到 Redis 队列，由 worker 进程消费
type QueueDispatcher struct {
	client     *asynq.Client
	runTimeout time.Duration
}

func NewQueueDispatcher(redis asynq.RedisClientOpt, runTimeout time.Duration) *QueueDispatcher {
	return &QueueDispatcher{client: asynq.NewClient(redis), runTimeout: runTimeout}
}

func (q *QueueDispatcher) Close() error {
	return q.client.Close()
}

func newRunTask(job pipeline.RunJob, runTimeout time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	// 失败不重试: 运行状态已是终态，重投只会被跳过
	return asynq.NewTask(TypeAdRun, payload,
		asynq.MaxRetry(0),
		asynq.Timeout(runTimeout),
		asynq.Retention(24*time.Hour),
		asynq.TaskID(job.RunID),
	), nil
}

// Dispatch 入队，同一个 run_id 只会入队一次
func (q *QueueDispatcher) Dispatch(ctx context.Context, job pipeline.RunJob) error {
	task, err := newRunTask(job, q.runTimeout)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		log.Info().Str("run_id", job.RunID).Msg("run already queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	log.Info().Str("run_id", job.RunID).Str("queue", info.Queue).Msg("[Queue] run enqueued")
	return nil
}

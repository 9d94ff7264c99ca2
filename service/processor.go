package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"AdReel-server/pipeline"
)

// Processor 处理队列任务
type Processor struct {
	run pipeline.RunFunc
	srv *asynq.Server
}

func NewProcessor(run pipeline.RunFunc) *Processor {
	return &Processor{run: run}
}

// Start 启动任务消费者
func (p *Processor) Start(redis asynq.RedisClientOpt, concurrency int) error {
	p.srv = asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			"default": 1,
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAdRun, p.HandleRunTask)

	log.Info().Int("concurrency", concurrency).Msg("starting run processor")
	if err := p.srv.Start(mux); err != nil {
		return fmt.Errorf("could not run server: %w", err)
	}
	return nil
}

func (p *Processor) Shutdown() {
	if p.srv != nil {
		p.srv.Shutdown()
	}
}

// HandleRunTask 核心处理逻辑
func (p *Processor) HandleRunTask(ctx context.Context, t *asynq.Task) error {
	var job pipeline.RunJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if job.RunID == "" {
		return fmt.Errorf("payload missing run_id: %w", asynq.SkipRetry)
	}

	log.Info().Str("run_id", job.RunID).Msg("processing run")
	if err := p.run(ctx, job); err != nil {
		// 失败已写入运行状态，业务失败不再重试
		log.Error().Err(err).Str("run_id", job.RunID).Msg("run failed")
	}
	return nil
}

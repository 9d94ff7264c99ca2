package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/polly"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"AdReel-server/config"
	"AdReel-server/models"
	"AdReel-server/pipeline"
	"AdReel-server/service"
)

// runStore is what both run-state backends provide.
type runStore interface {
	pipeline.StateStore
	service.StaleStore
}

// app holds the wired components; close releases them in reverse order.
type app struct {
	cfg     *config.Config
	store   runStore
	orch    *pipeline.Orchestrator
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password}
}

func openStore(cfg *config.Config) (runStore, error) {
	switch cfg.Store.Backend {
	case "dynamo":
		awsCfg := aws.NewConfig().WithRegion(cfg.Dynamo.Region)
		if cfg.Dynamo.Endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(cfg.Dynamo.Endpoint)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		return models.NewDynamoRunStore(dynamodb.New(sess), cfg.Dynamo.Table), nil
	default:
		db, err := models.OpenMySQL(cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		return models.NewGormRunStore(db), nil
	}
}

// buildApp wires storage, providers and the pipeline. The dispatcher is left to
// the command: serve and run pick their own.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.store = store

	blobs, err := service.NewMinIOStore(service.MinIOOptions{
		Endpoint:      cfg.MinIO.Endpoint,
		AccessKey:     cfg.MinIO.AccessKey,
		SecretKey:     cfg.MinIO.SecretKey,
		Bucket:        cfg.MinIO.Bucket,
		UseSSL:        cfg.MinIO.UseSSL,
		PresignExpiry: cfg.MinIO.PresignExpiry,
	})
	if err != nil {
		return nil, err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	writer := service.NewOpenAIClient(service.OpenAIOptions{
		APIKey:           cfg.OpenAI.APIKey,
		ScriptModel:      cfg.OpenAI.ScriptModel,
		ImageModel:       cfg.OpenAI.ImageModel,
		ImageSize:        cfg.OpenAI.ImageSize,
		MaxDialogueWords: cfg.Pipeline.MaxDialogueWords,
		SceneDuration:    cfg.Pipeline.SceneDuration,
	}, blobs)

	gemini, err := service.NewGeminiClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { gemini.Close() })

	sess, err := session.NewSession(aws.NewConfig().WithRegion(cfg.Polly.Region))
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	speech := service.NewPollySpeech(polly.New(sess), service.PollyOptions{
		VoiceID: cfg.Polly.VoiceID,
		Engine:  cfg.Polly.Engine,
		Rate:    cfg.Polly.Rate,
	}, blobs)

	retry := pipeline.RetryPolicy{
		Attempts:   cfg.Retry.Attempts,
		Initial:    cfg.Retry.Initial,
		Max:        cfg.Retry.Max,
		Multiplier: cfg.Retry.Multiplier,
	}

	a.orch = pipeline.NewOrchestrator(pipeline.Deps{
		Store: store,
		Blobs: blobs,
		Ideas: writer,
		Loop: &pipeline.ScriptLoop{
			Writer:           writer,
			Evaluator:        service.NewScriptEvaluator(gemini),
			MaxRounds:        cfg.Pipeline.MaxRounds,
			MaxDialogueWords: cfg.Pipeline.MaxDialogueWords,
			SceneDuration:    cfg.Pipeline.SceneDuration,
			Retry:            retry,
			Timeout:          cfg.Retry.TextTimeout,
		},
		FanOut: &pipeline.FanOut{
			Images: writer,
			Videos: service.NewVideoWorker(cfg.Worker.Addr, blobs, cfg.Worker.PollInterval),
			Speech: speech,
			Blobs:  blobs,
			Retry:  retry,
			Timeouts: pipeline.FanOutTimeouts{
				Image:  cfg.Retry.ImageTimeout,
				Video:  cfg.Retry.VideoTimeout,
				Speech: cfg.Retry.SpeechTimeout,
			},
			Concurrency: cfg.Pipeline.SceneConcurrency,
			BlobTimeout: cfg.Retry.BlobTimeout,
		},
		Assembly: &pipeline.Assembly{
			Composer:    service.NewFFmpegComposer(blobs, cfg.FFmpeg.Binary, cfg.FFmpeg.WorkDir),
			Blobs:       blobs,
			Retry:       retry,
			Timeout:     cfg.Retry.ComposeTimeout,
			SilenceGap:  cfg.Pipeline.SilenceGap,
			BlobTimeout: cfg.Retry.BlobTimeout,
		},
	}, pipeline.Options{
		Prefix:      cfg.MinIO.Prefix,
		RunTimeout:  cfg.Pipeline.RunTimeout,
		Retry:       retry,
		TextTimeout: cfg.Retry.TextTimeout,
		BlobTimeout: cfg.Retry.BlobTimeout,
	})

	ok = true
	return a, nil
}

// useQueue sends runs to Redis for the worker command to pick up.
func (a *app) useQueue() {
	q := service.NewQueueDispatcher(redisOpt(a.cfg), a.cfg.Pipeline.RunTimeout)
	a.closers = append(a.closers, func() { q.Close() })
	a.orch.SetDispatcher(q)
}

// usePool executes runs inside this process.
func (a *app) usePool() error {
	pool, err := pipeline.NewRunPool(a.cfg.Queue.Concurrency)
	if err != nil {
		return fmt.Errorf("create run pool: %w", err)
	}
	// 等待进行中的运行结束
	a.closers = append(a.closers, func() {
		if err := pool.ReleaseTimeout(a.cfg.Pipeline.RunTimeout); err != nil {
			log.Warn().Err(err).Msg("run pool did not drain")
		}
	})
	a.orch.SetDispatcher(pipeline.NewPoolDispatcher(pool, a.orch.Execute))
	return nil
}

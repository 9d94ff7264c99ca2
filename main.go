package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"AdReel-server/config"
	"AdReel-server/models"
	"AdReel-server/pipeline"
	"AdReel-server/routers"
	"AdReel-server/service"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "adreel",
	Short: "Ad video generation pipeline",
	Long:  "AdReel turns a product name and description into a short narrated ad video: script, keyframes, clips, voice-over and final edit.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		loaded = cfg
		setupLogger(cfg)
		return nil
	},
	SilenceUsage: true,
}

var loaded *config.Config

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume queued runs from Redis",
	RunE:  runWorker,
}

var (
	runName  string
	runDesc  string
	runRunID string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one run in the foreground and print its final status",
	RunE:  runOnce,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "Path to config.yaml")

	runCmd.Flags().StringVarP(&runName, "name", "n", "", "Product name")
	runCmd.Flags().StringVarP(&runDesc, "desc", "d", "", "Product description")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "Run id (generated when empty)")
	_ = runCmd.MarkFlagRequired("name")
	_ = runCmd.MarkFlagRequired("desc")

	rootCmd.AddCommand(serveCmd, workerCmd, runCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loaded
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Queue.Backend == "pool" {
		if err := a.usePool(); err != nil {
			return err
		}
	} else {
		a.useQueue()
	}

	sweeper := service.NewSweeper(a.store, cfg.Pipeline.StaleAfter)
	if err := sweeper.Start(cfg.Pipeline.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	srv := &http.Server{
		Addr: cfg.Server.Port,
		Handler: routers.InitRouter(a.orch, routers.Options{
			RateLimit:    cfg.Server.RateLimit,
			Burst:        cfg.Server.Burst,
			PollInterval: time.Second,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("queue", cfg.Queue.Backend).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loaded
	if cfg.Redis.Addr == "" {
		return errors.New("worker needs redis.addr")
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	p := service.NewProcessor(a.orch.Execute)
	if err := p.Start(redisOpt(cfg), cfg.Queue.Concurrency); err != nil {
		return err
	}
	<-ctx.Done()
	log.Info().Msg("worker shutting down")
	p.Shutdown()
	return nil
}

// inlineDispatcher executes the run before Dispatch returns. Run failures are
// already in run state, so they are not reported as dispatch failures.
type inlineDispatcher func(ctx context.Context, job pipeline.RunJob) error

func (d inlineDispatcher) Dispatch(ctx context.Context, job pipeline.RunJob) error {
	if err := d(ctx, job); err != nil {
		log.Warn().Err(err).Str("run_id", job.RunID).Msg("run ended with error")
	}
	return nil
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded.Log.Pretty = true
	setupLogger(loaded)

	a, err := buildApp(ctx, loaded)
	if err != nil {
		return err
	}
	defer a.close()
	a.orch.SetDispatcher(inlineDispatcher(a.orch.Execute))

	runID, err := a.orch.StartRun(ctx, runName, runDesc, runRunID)
	if err != nil {
		return err
	}
	state, serr := a.orch.GetRunStatus(context.WithoutCancel(ctx), runID)
	if serr != nil {
		return serr
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run %s\n", runID)
	for _, step := range models.Steps {
		fmt.Fprintf(out, "  %-18s %s\n", string(step)+":", state.Status(step))
	}
	if state.FinalVideoURI != nil {
		fmt.Fprintf(out, "final video: %s\n", *state.FinalVideoURI)
	}
	if !state.Succeeded() {
		return fmt.Errorf("run %s did not complete", runID)
	}
	return nil
}

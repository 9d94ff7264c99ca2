package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"AdReel-server/models"
)

// DefaultRunTimeout bounds a whole run.
const DefaultRunTimeout = 90 * time.Minute

const failureWriteTimeout = 15 * time.Second

// ErrManifestNotReady is returned for a run that has not completed.
var ErrManifestNotReady = errors.New("manifest not ready")

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

type Options struct {
	// Prefix is prepended to every blob key of a run.
	Prefix      string
	RunTimeout  time.Duration
	Retry       RetryPolicy
	TextTimeout time.Duration
	// BlobTimeout bounds each JSON, stat or presign call on the blob store.
	BlobTimeout time.Duration
}

type Deps struct {
	Store      StateStore
	Blobs      BlobStore
	Dispatcher Dispatcher
	Ideas      IdeaGenerator
	Loop       *ScriptLoop
	FanOut     *FanOut
	Assembly   *Assembly
}

// Orchestrator is the only writer of run state while a run executes.
type Orchestrator struct {
	store      StateStore
	blobs      BlobStore
	dispatcher Dispatcher
	ideas      IdeaGenerator
	loop       *ScriptLoop
	fanout     *FanOut
	assembly   *Assembly
	opts       Options
	newRunID   func() string
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = DefaultRunTimeout
	}
	return &Orchestrator{
		store:      deps.Store,
		blobs:      withBlobTimeout(deps.Blobs, opts.BlobTimeout),
		dispatcher: deps.Dispatcher,
		ideas:      deps.Ideas,
		loop:       deps.Loop,
		fanout:     deps.FanOut,
		assembly:   deps.Assembly,
		opts:       opts,
		newRunID:   uuid.NewString,
	}
}

// SetDispatcher breaks the construction cycle with in-process dispatchers that call Execute.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

// StartRun initializes the run's state row and hands the run to the dispatcher.
// It returns as soon as the run is queued; progress is only visible through run state.
func (o *Orchestrator) StartRun(ctx context.Context, productName, productDescription, runID string) (string, error) {
	job := RunJob{
		RunID:              strings.TrimSpace(runID),
		ProductName:        strings.TrimSpace(productName),
		ProductDescription: strings.TrimSpace(productDescription),
	}
	if job.ProductName == "" || job.ProductDescription == "" {
		return "", fmt.Errorf("%w: product name and description are required", ErrInvalidRequest)
	}
	if job.RunID == "" {
		job.RunID = o.newRunID()
	} else if !runIDPattern.MatchString(job.RunID) {
		return "", fmt.Errorf("%w: run id %q", ErrInvalidRequest, job.RunID)
	}

	if err := o.store.Ensure(ctx, job.RunID); err != nil {
		return "", fmt.Errorf("initialize run %s: %w", job.RunID, err)
	}
	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		err = fmt.Errorf("dispatch run %s: %w", job.RunID, err)
		o.recordFailure(ctx, job.RunID, models.StepScriptGeneration, err)
		return "", err
	}
	log.Info().Str("run_id", job.RunID).Str("product", job.ProductName).Msg("run dispatched")
	return job.RunID, nil
}

func (o *Orchestrator) GetRunStatus(ctx context.Context, runID string) (*models.RunState, error) {
	return o.store.Get(ctx, runID)
}

// GetManifest loads the run summary and refreshes the final artifact's presigned URL.
func (o *Orchestrator) GetManifest(ctx context.Context, runID string) (*models.Manifest, error) {
	state, err := o.store.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !state.Succeeded() {
		return nil, ErrManifestNotReady
	}
	var m models.Manifest
	if err := getJSON(ctx, o.blobs, models.NewLayout(o.opts.Prefix, runID).ManifestKey(), &m); err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	presign := func(key string, dst *string) {
		if uri, err := o.blobs.PresignedURL(ctx, key); err == nil {
			*dst = uri
		}
	}
	presign(m.Combined.FinalVideoKey, &m.Combined.FinalVideoURI)
	presign(m.Combined.CombinedVideoKey, &m.Combined.CombinedVideoURI)
	presign(m.Combined.CombinedAudioKey, &m.Combined.CombinedAudioURI)
	return &m, nil
}

// Execute runs one job to a terminal state. Any error has already been recorded
// as a failed step (best effort) when Execute returns it.
func (o *Orchestrator) Execute(ctx context.Context, job RunJob) error {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RunTimeout)
	defer cancel()
	logger := log.With().Str("run_id", job.RunID).Logger()

	if err := o.store.Ensure(ctx, job.RunID); err != nil {
		logger.Error().Err(err).Msg("cannot initialize run state")
		return err
	}
	state, err := o.store.Get(ctx, job.RunID)
	if err != nil {
		logger.Error().Err(err).Msg("cannot read run state")
		return err
	}
	if state.Terminal() {
		logger.Info().Msg("run already finished, skipping")
		return nil
	}

	r := &execution{
		o:      o,
		job:    job,
		state:  state,
		layout: models.NewLayout(o.opts.Prefix, job.RunID),
		logger: logger,
	}
	start := time.Now()
	if err := r.run(ctx); err != nil {
		logger.Error().Err(err).Str("step", string(r.current)).Msg("run failed")
		o.recordFailure(ctx, job.RunID, r.current, err)
		return err
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("run completed")
	return nil
}

// recordFailure writes the terminal failed status. The write itself may be what
// is failing, so errors are only logged.
func (o *Orchestrator) recordFailure(ctx context.Context, runID string, current models.Step, cause error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if errors.Is(cause, models.ErrStorageUnavailable) {
		log.Error().Err(cause).Str("run_id", runID).Msg("storage unavailable, recording failure best effort")
	}
	status := models.FailedStatus(cause.Error())
	for _, step := range failedSteps(current, cause) {
		if err := o.store.UpdateStep(wctx, runID, step, status); err != nil {
			log.Error().Err(err).
				Str("run_id", runID).
				Str("step", string(step)).
				AnErr("cause", cause).
				Msg("could not record run failure")
		}
	}
}

// failedSteps maps a fatal error to the steps that report it.
func failedSteps(current models.Step, err error) []models.Step {
	var gen *GenerationFailed
	var scene *SceneAssetFailed
	var asm *AssemblyFailed
	switch {
	case errors.As(err, &gen):
		if gen.Stage == StageEvaluate {
			return []models.Step{models.StepScriptGeneration, models.StepScriptEvaluation}
		}
		return []models.Step{models.StepScriptGeneration}
	case errors.As(err, &scene):
		if scene.Stage == StageSpeech {
			return []models.Step{models.StepVideoGeneration, models.StepAudioGeneration}
		}
		return []models.Step{models.StepVideoGeneration}
	case errors.As(err, &asm):
		if asm.Stage == StageConcatAudios {
			return []models.Step{models.StepAudioGeneration, models.StepEditing}
		}
		return []models.Step{models.StepEditing}
	}
	if current == "" {
		current = models.StepScriptGeneration
	}
	return []models.Step{current}
}

// execution carries the state of one Execute call.
type execution struct {
	o       *Orchestrator
	job     RunJob
	state   *models.RunState
	layout  models.Layout
	logger  zerolog.Logger
	current models.Step
}

func (r *execution) run(ctx context.Context) error {
	script, err := r.script(ctx)
	if err != nil {
		return err
	}
	assets, err := r.scenes(ctx, script)
	if err != nil {
		return err
	}
	return r.assemble(ctx, script, assets)
}

func (r *execution) mark(ctx context.Context, step models.Step, status string) error {
	r.current = step
	if err := r.o.store.UpdateStep(ctx, r.job.RunID, step, status); err != nil {
		return fmt.Errorf("set %s %s: %w", step, status, err)
	}
	r.logger.Info().Str("step", string(step)).Str("status", status).Msg("step updated")
	return nil
}

func (r *execution) script(ctx context.Context) (*models.Script, error) {
	if r.state.ScriptEvaluationStatus == models.StatusCompleted {
		r.current = models.StepScriptEvaluation
		var s models.Script
		if err := getJSON(ctx, r.o.blobs, r.layout.ScriptKey(), &s); err != nil {
			return nil, fmt.Errorf("reload approved script: %w", err)
		}
		if r.state.ScriptGenerationStatus != models.StatusCompleted {
			if err := r.mark(ctx, models.StepScriptGeneration, models.StatusCompleted); err != nil {
				return nil, err
			}
		}
		r.logger.Info().Int("scenes", len(s.Scenes)).Msg("reusing stored script")
		return &s, nil
	}

	if err := r.mark(ctx, models.StepScriptGeneration, models.StatusRunning); err != nil {
		return nil, err
	}
	idea, err := r.o.generateIdea(ctx, r.job)
	if err != nil {
		return nil, err
	}
	res, err := r.o.loop.Run(ctx, ScriptRequest{
		ProductName:        r.job.ProductName,
		ProductDescription: r.job.ProductDescription,
		Idea:               idea,
	})
	if err != nil {
		return nil, err
	}

	if err := putJSON(ctx, r.o.blobs, r.layout.ScriptKey(), res.Script); err != nil {
		return nil, fmt.Errorf("store script: %w", err)
	}
	if err := putJSON(ctx, r.o.blobs, r.layout.ReviewKey(), res.Review()); err != nil {
		return nil, fmt.Errorf("store evaluation: %w", err)
	}
	if err := r.mark(ctx, models.StepScriptGeneration, models.StatusCompleted); err != nil {
		return nil, err
	}
	if err := r.mark(ctx, models.StepScriptEvaluation, models.StatusCompleted); err != nil {
		return nil, err
	}
	r.logger.Info().
		Int("rounds", res.Rounds).
		Bool("approved", res.Approved).
		Int("scenes", len(res.Script.Scenes)).
		Msg("script ready")
	return res.Script, nil
}

func (r *execution) scenes(ctx context.Context, script *models.Script) (*SceneAssets, error) {
	if r.state.VideoGenerationStatus == models.StatusCompleted {
		return AssetsFromLayout(r.layout, script.Scenes), nil
	}
	if err := r.mark(ctx, models.StepVideoGeneration, models.StatusRunning); err != nil {
		return nil, err
	}
	assets, err := r.o.fanout.Run(ctx, r.layout, script.Scenes)
	if err != nil {
		return nil, err
	}
	if err := r.mark(ctx, models.StepVideoGeneration, models.StatusCompleted); err != nil {
		return nil, err
	}
	return assets, nil
}

func (r *execution) assemble(ctx context.Context, script *models.Script, assets *SceneAssets) error {
	// 配音轨道先于剪辑完成
	audioDone := r.state.AudioGenerationStatus == models.StatusCompleted
	if !audioDone {
		if err := r.mark(ctx, models.StepAudioGeneration, models.StatusRunning); err != nil {
			return err
		}
	}
	audioKey, err := r.o.assembly.ConcatAudios(ctx, r.layout, assets.Audios)
	if err != nil {
		return err
	}
	if !audioDone {
		if err := r.mark(ctx, models.StepAudioGeneration, models.StatusCompleted); err != nil {
			return err
		}
	}

	if err := r.mark(ctx, models.StepEditing, models.StatusRunning); err != nil {
		return err
	}
	videoKey, err := r.o.assembly.ConcatVideos(ctx, r.layout, assets.Videos)
	if err != nil {
		return err
	}
	finalKey, err := r.o.assembly.Mux(ctx, r.layout, videoKey, audioKey)
	if err != nil {
		return err
	}
	uri, err := r.o.blobs.PresignedURL(ctx, finalKey)
	if err != nil {
		return fmt.Errorf("presign final video: %w", err)
	}

	manifest := models.Manifest{
		RunID:       r.job.RunID,
		Title:       script.Title,
		CTA:         script.CTA,
		Folders:     r.layout.Folders(),
		SceneAssets: assets.Manifest(),
		Combined: models.Combined{
			CombinedVideoKey: videoKey,
			CombinedAudioKey: audioKey,
			FinalVideoKey:    finalKey,
			FinalVideoURI:    uri,
		},
	}
	if err := putJSON(ctx, r.o.blobs, r.layout.ManifestKey(), manifest); err != nil {
		return fmt.Errorf("store manifest: %w", err)
	}
	if err := r.o.store.Complete(ctx, r.job.RunID, uri); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func (o *Orchestrator) generateIdea(ctx context.Context, job RunJob) (string, error) {
	if o.ideas == nil {
		return job.ProductDescription, nil
	}
	var idea string
	err := Retry(ctx, o.opts.Retry, o.opts.TextTimeout, "generate_idea", func(ctx context.Context) error {
		s, err := o.ideas.GenerateIdea(ctx, job.ProductName, job.ProductDescription)
		if err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("empty idea")
		}
		idea = strings.TrimSpace(s)
		return nil
	})
	if err != nil {
		return "", &GenerationFailed{Stage: StageIdea, Cause: err}
	}
	return idea, nil
}

func putJSON(ctx context.Context, blobs BlobStore, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func getJSON(ctx context.Context, blobs BlobStore, key string, v interface{}) error {
	data, err := blobs.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"AdReel-server/models"
)

var fastRetry = RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}

var errFlaky = errors.New("provider hiccup")

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
	// hang makes Put, Get and Exists block until their context ends.
	hang bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}}
}

func (b *memBlobs) stall(ctx context.Context) error {
	b.mu.Lock()
	hang := b.hang
	b.mu.Unlock()
	if !hang {
		return nil
	}
	<-ctx.Done()
	return ctx.Err()
}

func (b *memBlobs) Put(ctx context.Context, key string, body io.Reader, _ int64) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if err := b.stall(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return fmt.Errorf("%w: put %s", models.ErrStorageUnavailable, key)
	}
	b.data[key] = raw
	return nil
}

func (b *memBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	if err := b.stall(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, fmt.Errorf("%w: get %s", models.ErrStorageUnavailable, key)
	}
	raw, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("no such key %s", key)
	}
	return raw, nil
}

func (b *memBlobs) Exists(ctx context.Context, key string) (bool, error) {
	if err := b.stall(ctx); err != nil {
		return false, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return false, fmt.Errorf("%w: stat %s", models.ErrStorageUnavailable, key)
	}
	_, ok := b.data[key]
	return ok, nil
}

func (b *memBlobs) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (b *memBlobs) keys(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

func (b *memBlobs) put(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = []byte(value)
}

type stepWrite struct {
	Step   models.Step
	Status string
}

// memStore enforces the same transition rules as the persistent stores.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]*models.RunState
	history map[string][]stepWrite
	down    bool
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]*models.RunState{}, history: map[string][]stepWrite{}}
}

func (s *memStore) Ensure(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return fmt.Errorf("%w: ensure", models.ErrStorageUnavailable)
	}
	if _, ok := s.rows[runID]; !ok {
		row := models.NewRunState(runID, time.Now())
		s.rows[runID] = &row
	}
	return nil
}

func (s *memStore) UpdateStep(ctx context.Context, runID string, step models.Step, status string) error {
	if err := s.Ensure(ctx, runID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[runID]
	if !models.CanTransition(row.Status(step), status) {
		return fmt.Errorf("%w: %s %s -> %s", models.ErrInvalidTransition, step, row.Status(step), status)
	}
	switch step {
	case models.StepScriptGeneration:
		row.ScriptGenerationStatus = status
	case models.StepScriptEvaluation:
		row.ScriptEvaluationStatus = status
	case models.StepVideoGeneration:
		row.VideoGenerationStatus = status
	case models.StepAudioGeneration:
		row.AudioGenerationStatus = status
	case models.StepEditing:
		row.EditingStatus = status
	}
	row.UpdatedAt = time.Now()
	s.history[runID] = append(s.history[runID], stepWrite{step, status})
	return nil
}

func (s *memStore) Complete(ctx context.Context, runID string, finalURI string) error {
	if err := s.UpdateStep(ctx, runID, models.StepEditing, models.StatusCompleted); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[runID].FinalVideoURI = &finalURI
	return nil
}

func (s *memStore) Get(_ context.Context, runID string) (*models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, fmt.Errorf("%w: get", models.ErrStorageUnavailable)
	}
	row, ok := s.rows[runID]
	if !ok {
		return nil, models.ErrRunNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memStore) writes(runID string) []stepWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stepWrite(nil), s.history[runID]...)
}

func sampleScript(title string, scenes int) *models.Script {
	s := &models.Script{Title: title, CTA: "Order today", BrandVoice: "warm", Hook: "Wake up better"}
	for i := 1; i <= scenes; i++ {
		s.Scenes = append(s.Scenes, models.Scene{
			ID:       i,
			Visual:   fmt.Sprintf("scene %d visual", i),
			Dialogue: "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen eighteen nineteen twenty",
		})
	}
	return s
}

// fakeWriter returns "Draft N" on the Nth call and records the ideas it received.
type fakeWriter struct {
	mu       sync.Mutex
	calls    int
	ideas    []string
	failures int
	err      error
	scenes   int
}

func (w *fakeWriter) GenerateScript(_ context.Context, req ScriptRequest) (*models.Script, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	if w.failures > 0 {
		w.failures--
		return nil, errFlaky
	}
	w.ideas = append(w.ideas, req.Idea)
	n := w.scenes
	if n == 0 {
		n = 3
	}
	return sampleScript(fmt.Sprintf("Draft %d", len(w.ideas)), n), nil
}

// fakeEvaluator answers with decisions in order, repeating the last one.
type fakeEvaluator struct {
	mu        sync.Mutex
	calls     int
	decisions []string
	err       error
	seen      []*models.Script
}

func (e *fakeEvaluator) EvaluateScript(_ context.Context, _ ScriptRequest, script *models.Script) (*models.Verdict, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	e.seen = append(e.seen, script)
	d := models.DecisionApprove
	if len(e.decisions) > 0 {
		idx := len(e.seen) - 1
		if idx >= len(e.decisions) {
			idx = len(e.decisions) - 1
		}
		d = e.decisions[idx]
	}
	return &models.Verdict{Decision: d, Overall: 6, Notes: fmt.Sprintf("note %d", len(e.seen))}, nil
}

type fakeIdeas struct{ calls int }

func (f *fakeIdeas) GenerateIdea(_ context.Context, name, _ string) (string, error) {
	f.calls++
	return "A sunrise story for " + name, nil
}

// fakeAssets implements the three scene generators and fails one (scene, stage) pair persistently.
type fakeAssets struct {
	blobs     *memBlobs
	mu        sync.Mutex
	calls     []string
	failScene int
	failStage string
}

func (f *fakeAssets) record(stage string, sceneID int, dst string) error {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", stage, sceneID))
	f.mu.Unlock()
	if sceneID == f.failScene && stage == f.failStage {
		return &TransientProviderError{Provider: "fake", StatusCode: 503, Message: "busy"}
	}
	f.blobs.put(dst, stage)
	return nil
}

func (f *fakeAssets) GenerateImage(_ context.Context, scene models.Scene, dst string) error {
	return f.record(StageImage, scene.ID, dst)
}

func (f *fakeAssets) GenerateVideo(_ context.Context, _ string, scene models.Scene, dst string) error {
	return f.record(StageVideo, scene.ID, dst)
}

func (f *fakeAssets) SynthesizeSpeech(_ context.Context, scene models.Scene, dst string) error {
	return f.record(StageSpeech, scene.ID, dst)
}

func (f *fakeAssets) callsFor(stage string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, stage+":") {
			out = append(out, c)
		}
	}
	return out
}

type fakeComposer struct {
	blobs     *memBlobs
	mu        sync.Mutex
	videos    [][]string
	audios    [][]string
	gaps      []time.Duration
	muxes     [][2]string
	failStage string
}

func (c *fakeComposer) ConcatVideos(_ context.Context, keys []string, dst string) error {
	c.mu.Lock()
	c.videos = append(c.videos, append([]string(nil), keys...))
	c.mu.Unlock()
	if c.failStage == StageConcatVideos {
		return errors.New("ffmpeg exited with status 1")
	}
	c.blobs.put(dst, "video")
	return nil
}

func (c *fakeComposer) ConcatAudios(_ context.Context, keys []string, gap time.Duration, dst string) error {
	c.mu.Lock()
	c.audios = append(c.audios, append([]string(nil), keys...))
	c.gaps = append(c.gaps, gap)
	c.mu.Unlock()
	if c.failStage == StageConcatAudios {
		return errors.New("ffmpeg exited with status 1")
	}
	c.blobs.put(dst, "audio")
	return nil
}

func (c *fakeComposer) Mux(_ context.Context, videoKey, audioKey, dst string) error {
	c.mu.Lock()
	c.muxes = append(c.muxes, [2]string{videoKey, audioKey})
	c.mu.Unlock()
	if c.failStage == StageMux {
		return errors.New("ffmpeg exited with status 1")
	}
	c.blobs.put(dst, "final")
	return nil
}

type recordingDispatcher struct {
	jobs []RunJob
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job RunJob) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

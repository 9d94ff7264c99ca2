package pipeline

import (
	"context"
	"io"
	"time"

	"AdReel-server/models"
)

// ScriptRequest is the creative brief handed to the script writer and evaluator.
type ScriptRequest struct {
	ProductName        string
	ProductDescription string
	Idea               string
}

type IdeaGenerator interface {
	GenerateIdea(ctx context.Context, productName, productDescription string) (string, error)
}

type ScriptWriter interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (*models.Script, error)
}

type ScriptEvaluator interface {
	EvaluateScript(ctx context.Context, req ScriptRequest, script *models.Script) (*models.Verdict, error)
}

// The asset generators write their output to dstKey in blob storage.

type ImageGenerator interface {
	GenerateImage(ctx context.Context, scene models.Scene, dstKey string) error
}

type VideoGenerator interface {
	GenerateVideo(ctx context.Context, imageKey string, scene models.Scene, dstKey string) error
}

type SpeechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, scene models.Scene, dstKey string) error
}

// Composer reads its inputs from blob storage and writes the result to dstKey.
type Composer interface {
	ConcatVideos(ctx context.Context, keys []string, dstKey string) error
	ConcatAudios(ctx context.Context, keys []string, gap time.Duration, dstKey string) error
	Mux(ctx context.Context, videoKey, audioKey, dstKey string) error
}

// BlobStore is the key/value artifact store. Implementations wrap
// connectivity failures in models.ErrStorageUnavailable.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string) (string, error)
}

type StateStore interface {
	Ensure(ctx context.Context, runID string) error
	UpdateStep(ctx context.Context, runID string, step models.Step, status string) error
	Complete(ctx context.Context, runID string, finalURI string) error
	Get(ctx context.Context, runID string) (*models.RunState, error)
}

// RunJob is the unit of background work for one run.
type RunJob struct {
	RunID              string `json:"run_id"`
	ProductName        string `json:"product_name"`
	ProductDescription string `json:"product_description"`
}

// Dispatcher hands a run to a background executor and returns without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, job RunJob) error
}

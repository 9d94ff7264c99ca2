// Package pipeline sequences an ad run: script revision loop, per-scene asset
// fan-out, assembly, and the run-state writes that report progress.
package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidRequest rejects a run before anything is persisted.
var ErrInvalidRequest = errors.New("invalid run request")

// ErrRunnerBusy is returned by a dispatcher with no free capacity. The caller may retry later.
var ErrRunnerBusy = errors.New("run capacity exhausted")

// TransientProviderError is a timeout, rate limit or 5xx from a capability adapter.
type TransientProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransientProviderError) Error() string {
	msg := fmt.Sprintf("%s transient error", e.Provider)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *TransientProviderError) Unwrap() error {
	return e.Cause
}

// PermanentError is never retried: bad requests, rejected content, missing credentials.
type PermanentError struct {
	Provider string
	Message  string
	Cause    error
}

func (e *PermanentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s permanent error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s permanent error: %s", e.Provider, e.Message)
}

func (e *PermanentError) Unwrap() error {
	return e.Cause
}

// ClassifyHTTPStatus maps a provider HTTP status to the retry taxonomy.
// It returns nil for 2xx.
func ClassifyHTTPStatus(provider string, status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return &TransientProviderError{Provider: provider, StatusCode: status, Message: body}
	default:
		return &PermanentError{Provider: provider, Message: fmt.Sprintf("status %d: %s", status, body)}
	}
}

// Script loop stages.
const (
	StageIdea     = "idea"
	StageGenerate = "generate"
	StageEvaluate = "evaluate"
)

// GenerationFailed means no script could be produced.
type GenerationFailed struct {
	Stage string
	Round int
	Cause error
}

func (e *GenerationFailed) Error() string {
	if e.Round > 0 {
		return fmt.Sprintf("script %s failed in round %d: %v", e.Stage, e.Round, e.Cause)
	}
	return fmt.Sprintf("script %s failed: %v", e.Stage, e.Cause)
}

func (e *GenerationFailed) Unwrap() error {
	return e.Cause
}

// Scene asset stages.
const (
	StageImage  = "image"
	StageVideo  = "video"
	StageSpeech = "speech"
)

// SceneAssetFailed means one scene is missing an asset after retries.
type SceneAssetFailed struct {
	SceneID int
	Stage   string
	Cause   error
}

func (e *SceneAssetFailed) Error() string {
	return fmt.Sprintf("scene %d %s generation failed: %v", e.SceneID, e.Stage, e.Cause)
}

func (e *SceneAssetFailed) Unwrap() error {
	return e.Cause
}

// Assembly sub-steps.
const (
	StageConcatVideos = "concat_videos"
	StageConcatAudios = "concat_audios"
	StageMux          = "mux"
)

type AssemblyFailed struct {
	Stage string
	Cause error
}

func (e *AssemblyFailed) Error() string {
	return fmt.Sprintf("assembly %s failed: %v", e.Stage, e.Cause)
}

func (e *AssemblyFailed) Unwrap() error {
	return e.Cause
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"AdReel-server/models"
)

// DefaultSilenceGap separates consecutive dialogue clips.
const DefaultSilenceGap = 1500 * time.Millisecond

// Assembly concatenates the scene clips and tracks, then muxes them. Every
// sub-step stores its output before the next one reads it, and a sub-step whose
// output is already stored is skipped.
type Assembly struct {
	Composer    Composer
	Blobs       BlobStore
	Retry       RetryPolicy
	Timeout     time.Duration
	SilenceGap  time.Duration
	// BlobTimeout bounds the stat that decides whether a sub-step can be skipped.
	BlobTimeout time.Duration
}

func (a *Assembly) ConcatVideos(ctx context.Context, layout models.Layout, videos []string) (string, error) {
	dst := layout.CombinedVideoKey()
	err := a.step(ctx, StageConcatVideos, dst, len(videos), func(ctx context.Context) error {
		return a.Composer.ConcatVideos(ctx, videos, dst)
	})
	return dst, err
}

func (a *Assembly) ConcatAudios(ctx context.Context, layout models.Layout, audios []string) (string, error) {
	dst := layout.CombinedAudioKey()
	gap := a.SilenceGap
	if gap < 0 {
		gap = 0
	}
	err := a.step(ctx, StageConcatAudios, dst, len(audios), func(ctx context.Context) error {
		return a.Composer.ConcatAudios(ctx, audios, gap, dst)
	})
	return dst, err
}

func (a *Assembly) Mux(ctx context.Context, layout models.Layout, videoKey, audioKey string) (string, error) {
	dst := layout.FinalVideoKey()
	err := a.step(ctx, StageMux, dst, 1, func(ctx context.Context) error {
		return a.Composer.Mux(ctx, videoKey, audioKey, dst)
	})
	return dst, err
}

func (a *Assembly) step(ctx context.Context, stage, dst string, inputs int, run func(ctx context.Context) error) error {
	if inputs == 0 {
		return &AssemblyFailed{Stage: stage, Cause: fmt.Errorf("no inputs")}
	}
	exists, err := withBlobTimeout(a.Blobs, a.BlobTimeout).Exists(ctx, dst)
	if err != nil {
		return &AssemblyFailed{Stage: stage, Cause: err}
	}
	if exists {
		log.Debug().Str("stage", stage).Str("key", dst).Msg("reusing stored intermediate")
		return nil
	}
	if err := Retry(ctx, a.Retry, a.Timeout, stage, run); err != nil {
		return &AssemblyFailed{Stage: stage, Cause: err}
	}
	log.Info().Str("stage", stage).Str("key", dst).Msg("assembly step stored")
	return nil
}

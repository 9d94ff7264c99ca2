package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"AdReel-server/models"
)

// SceneAssets holds one key per scene in each slice; index i always belongs to scenes[i].
type SceneAssets struct {
	SceneIDs []int
	Images   []string
	Videos   []string
	Audios   []string
}

func newSceneAssets(n int) *SceneAssets {
	return &SceneAssets{
		SceneIDs: make([]int, n),
		Images:   make([]string, n),
		Videos:   make([]string, n),
		Audios:   make([]string, n),
	}
}

// AssetsFromLayout rebuilds the asset keys of a run whose fan-out already completed.
func AssetsFromLayout(layout models.Layout, scenes []models.Scene) *SceneAssets {
	a := newSceneAssets(len(scenes))
	for i, sc := range scenes {
		a.SceneIDs[i] = sc.ID
		a.Images[i] = layout.ImageKey(sc.ID)
		a.Videos[i] = layout.VideoKey(sc.ID)
		a.Audios[i] = layout.AudioKey(sc.ID)
	}
	return a
}

// Aligned reports that every sequence has exactly n entries and none is empty.
func (a *SceneAssets) Aligned(n int) bool {
	if len(a.SceneIDs) != n || len(a.Images) != n || len(a.Videos) != n || len(a.Audios) != n {
		return false
	}
	for i := 0; i < n; i++ {
		if a.Images[i] == "" || a.Videos[i] == "" || a.Audios[i] == "" {
			return false
		}
	}
	return true
}

func (a *SceneAssets) Manifest() []models.SceneAsset {
	out := make([]models.SceneAsset, len(a.SceneIDs))
	for i, id := range a.SceneIDs {
		out[i] = models.SceneAsset{SceneID: id, ImageKey: a.Images[i], VideoKey: a.Videos[i], AudioKey: a.Audios[i]}
	}
	return out
}

type FanOutTimeouts struct {
	Image  time.Duration
	Video  time.Duration
	Speech time.Duration
}

// FanOut drives image, clip and speech generation for every scene. With
// Concurrency 1 scenes run strictly in order; higher values overlap scenes but
// results are still stored at the scene's own index.
type FanOut struct {
	Images      ImageGenerator
	Videos      VideoGenerator
	Speech      SpeechSynthesizer
	Blobs       BlobStore
	Retry       RetryPolicy
	Timeouts    FanOutTimeouts
	Concurrency int
	BlobTimeout time.Duration
}

// Run stops at the first scene that cannot be completed; the returned error is
// a *SceneAssetFailed or a storage failure.
func (f *FanOut) Run(ctx context.Context, layout models.Layout, scenes []models.Scene) (*SceneAssets, error) {
	assets := newSceneAssets(len(scenes))

	limit := f.Concurrency
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, sc := range scenes {
		if gctx.Err() != nil {
			break
		}
		i, sc := i, sc
		g.Go(func() error {
			img, vid, aud, err := f.scene(gctx, layout, sc)
			if err != nil {
				return err
			}
			assets.SceneIDs[i] = sc.ID
			assets.Images[i] = img
			assets.Videos[i] = vid
			assets.Audios[i] = aud
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !assets.Aligned(len(scenes)) {
		return nil, fmt.Errorf("scene assets misaligned for %d scenes", len(scenes))
	}
	return assets, nil
}

func (f *FanOut) scene(ctx context.Context, layout models.Layout, sc models.Scene) (string, string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", "", err
	}
	logger := log.With().Int("scene_id", sc.ID).Logger()

	imgKey := layout.ImageKey(sc.ID)
	err := f.ensure(ctx, imgKey, sc.ID, StageImage, f.Timeouts.Image, func(ctx context.Context) error {
		return f.Images.GenerateImage(ctx, sc, imgKey)
	})
	if err != nil {
		return "", "", "", err
	}

	vidKey := layout.VideoKey(sc.ID)
	err = f.ensure(ctx, vidKey, sc.ID, StageVideo, f.Timeouts.Video, func(ctx context.Context) error {
		return f.Videos.GenerateVideo(ctx, imgKey, sc, vidKey)
	})
	if err != nil {
		return "", "", "", err
	}

	audKey := layout.AudioKey(sc.ID)
	err = f.ensure(ctx, audKey, sc.ID, StageSpeech, f.Timeouts.Speech, func(ctx context.Context) error {
		return f.Speech.SynthesizeSpeech(ctx, sc, audKey)
	})
	if err != nil {
		return "", "", "", err
	}

	logger.Info().Msg("scene assets ready")
	return imgKey, vidKey, audKey, nil
}

// ensure skips generation when key is already stored from an earlier attempt.
func (f *FanOut) ensure(ctx context.Context, key string, sceneID int, stage string, timeout time.Duration, gen func(ctx context.Context) error) error {
	exists, err := withBlobTimeout(f.Blobs, f.BlobTimeout).Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check %s: %w", key, err)
	}
	if exists {
		log.Debug().Int("scene_id", sceneID).Str("key", key).Msg("reusing stored asset")
		return nil
	}
	if err := Retry(ctx, f.Retry, timeout, "scene_"+stage, gen); err != nil {
		return &SceneAssetFailed{SceneID: sceneID, Stage: stage, Cause: err}
	}
	return nil
}

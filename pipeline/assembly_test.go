package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AdReel-server/models"
)

func newAssembly(blobs *memBlobs, c *fakeComposer) *Assembly {
	return &Assembly{Composer: c, Blobs: blobs, Retry: fastRetry, SilenceGap: DefaultSilenceGap}
}

func TestAssembly_PassesKeysInOrder(t *testing.T) {
	blobs := newMemBlobs()
	c := &fakeComposer{blobs: blobs}
	a := newAssembly(blobs, c)
	layout := models.NewLayout("runs", "r1")
	videos := []string{"v1", "v2", "v3"}
	audios := []string{"a1", "a2", "a3"}

	v, err := a.ConcatVideos(context.Background(), layout, videos)
	require.NoError(t, err)
	au, err := a.ConcatAudios(context.Background(), layout, audios)
	require.NoError(t, err)
	final, err := a.Mux(context.Background(), layout, v, au)
	require.NoError(t, err)

	assert.Equal(t, [][]string{videos}, c.videos)
	assert.Equal(t, [][]string{audios}, c.audios)
	assert.Equal(t, DefaultSilenceGap, c.gaps[0])
	assert.Equal(t, [][2]string{{layout.CombinedVideoKey(), layout.CombinedAudioKey()}}, c.muxes)
	assert.Equal(t, layout.FinalVideoKey(), final)

	ok, _ := blobs.Exists(context.Background(), final)
	assert.True(t, ok)
}

func TestAssembly_SkipsStoredIntermediate(t *testing.T) {
	blobs := newMemBlobs()
	c := &fakeComposer{blobs: blobs}
	layout := models.NewLayout("runs", "r1")
	blobs.put(layout.CombinedVideoKey(), "earlier attempt")

	key, err := newAssembly(blobs, c).ConcatVideos(context.Background(), layout, []string{"v1"})
	require.NoError(t, err)

	assert.Equal(t, layout.CombinedVideoKey(), key)
	assert.Empty(t, c.videos)
}

func TestAssembly_FailureNamesSubStep(t *testing.T) {
	tests := []struct {
		stage string
		run   func(a *Assembly, l models.Layout) error
	}{
		{StageConcatVideos, func(a *Assembly, l models.Layout) error {
			_, err := a.ConcatVideos(context.Background(), l, []string{"v1"})
			return err
		}},
		{StageConcatAudios, func(a *Assembly, l models.Layout) error {
			_, err := a.ConcatAudios(context.Background(), l, []string{"a1"})
			return err
		}},
		{StageMux, func(a *Assembly, l models.Layout) error {
			_, err := a.Mux(context.Background(), l, "v", "a")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			blobs := newMemBlobs()
			c := &fakeComposer{blobs: blobs, failStage: tt.stage}

			err := tt.run(newAssembly(blobs, c), models.NewLayout("", "r1"))

			var af *AssemblyFailed
			require.ErrorAs(t, err, &af)
			assert.Equal(t, tt.stage, af.Stage)
			assert.Contains(t, err.Error(), tt.stage)
		})
	}
}

func TestAssembly_RejectsEmptyInput(t *testing.T) {
	blobs := newMemBlobs()
	c := &fakeComposer{blobs: blobs}

	_, err := newAssembly(blobs, c).ConcatVideos(context.Background(), models.NewLayout("", "r1"), nil)

	var af *AssemblyFailed
	require.ErrorAs(t, err, &af)
	assert.Empty(t, c.videos)
}

func TestAssembly_StalledStatFailsWithinBlobTimeout(t *testing.T) {
	blobs := newMemBlobs()
	blobs.hang = true
	c := &fakeComposer{blobs: blobs}
	a := newAssembly(blobs, c)
	a.BlobTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := a.ConcatAudios(context.Background(), models.NewLayout("runs", "r1"), []string{"a1"})

	var af *AssemblyFailed
	require.ErrorAs(t, err, &af)
	assert.Equal(t, StageConcatAudios, af.Stage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, c.audios)
}

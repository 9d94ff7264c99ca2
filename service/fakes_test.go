package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"AdReel-server/models"
)

// memBlobs backs the adapters under test with an in-memory bucket.
type memBlobs struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemBlobs() *memBlobs {
	return &memBlobs{data: map[string][]byte{}}
}

func (b *memBlobs) Put(_ context.Context, key string, body io.Reader, _ int64) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = raw
	return nil
}

func (b *memBlobs) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return raw, nil
}

func (b *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.data[key]
	return ok, nil
}

func (b *memBlobs) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://blobs.test/" + key, nil
}

func (b *memBlobs) DownloadFile(ctx context.Context, key, localPath string) error {
	raw, err := b.Get(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(localPath, raw, 0o644)
}

func (b *memBlobs) UploadFile(_ context.Context, localPath, key string) error {
	raw, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = raw
	return nil
}

func (b *memBlobs) put(key, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = []byte(value)
}

func (b *memBlobs) value(key string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data[key])
}

var testScene = models.Scene{
	ID:              2,
	Visual:          "A barista pours cold brew over ice",
	Camera:          "slow push-in",
	Dialogue:        "Your morning, already brewed.",
	DurationSeconds: 6,
	Mood:            "bright",
}

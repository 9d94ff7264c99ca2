package pipeline

import (
	"context"
	"io"
	"time"
)

// DefaultBlobTimeout bounds a single metadata or JSON blob call.
const DefaultBlobTimeout = time.Minute

// timedBlobs gives every call its own deadline, independent of the run deadline.
type timedBlobs struct {
	BlobStore
	timeout time.Duration
}

func withBlobTimeout(b BlobStore, d time.Duration) BlobStore {
	if b == nil {
		return nil
	}
	if t, ok := b.(timedBlobs); ok {
		b = t.BlobStore
	}
	if d <= 0 {
		d = DefaultBlobTimeout
	}
	return timedBlobs{BlobStore: b, timeout: d}
}

func (t timedBlobs) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.BlobStore.Put(ctx, key, body, size)
}

func (t timedBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.BlobStore.Get(ctx, key)
}

func (t timedBlobs) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.BlobStore.Exists(ctx, key)
}

func (t timedBlobs) PresignedURL(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.BlobStore.PresignedURL(ctx, key)
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"AdReel-server/models"
)

func TestRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", errs: []error{nil}, wantCalls: 1},
		{name: "transient then success", errs: []error{errFlaky, errFlaky, nil}, wantCalls: 3},
		{name: "attempts exhausted", errs: []error{errFlaky, errFlaky, errFlaky, nil}, wantCalls: 3, wantErr: true},
		{name: "permanent error stops", errs: []error{&PermanentError{Provider: "p", Message: "bad request"}}, wantCalls: 1, wantErr: true},
		{name: "storage outage stops", errs: []error{fmt.Errorf("%w: put", models.ErrStorageUnavailable)}, wantCalls: 1, wantErr: true},
		{name: "5xx is retried", errs: []error{ClassifyHTTPStatus("p", 503, ""), nil}, wantCalls: 2},
		{name: "4xx is not retried", errs: []error{ClassifyHTTPStatus("p", 400, "bad prompt")}, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Retry(context.Background(), fastRetry, 0, "test", func(context.Context) error {
				e := tt.errs[calls]
				calls++
				return e
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetry_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastRetry, 5*time.Millisecond, "slow", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_ParentCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, fastRetry, 0, "cancelled", func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.NoError(t, ClassifyHTTPStatus("p", 200, ""))

	var transient *TransientProviderError
	assert.True(t, errors.As(ClassifyHTTPStatus("p", 429, "slow down"), &transient))
	assert.Equal(t, 429, transient.StatusCode)
	assert.True(t, errors.As(ClassifyHTTPStatus("p", 502, ""), &transient))

	var perm *PermanentError
	assert.True(t, errors.As(ClassifyHTTPStatus("p", 401, "no key"), &perm))
	assert.Contains(t, perm.Error(), "401")
}

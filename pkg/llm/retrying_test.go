package llm_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/llm"
)

// stumblingEmbedder fails its first len(errs) calls with errs in order.
type stumblingEmbedder struct {
	inner *llm.HashEmbedder
	errs  []error
	calls atomic.Int32
}

func (s *stumblingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := int(s.calls.Add(1))
	if n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return s.inner.Embed(ctx, texts)
}

func (s *stumblingEmbedder) Dimension() int { return s.inner.Dimension() }

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryingEmbedder(t *testing.T) {
	unavailable := errors.New("503 service unavailable")

	tests := []struct {
		name      string
		errs      []error
		wantCalls int32
		wantErr   bool
	}{
		{"first call succeeds", nil, 1, false},
		{"recovers from one transient failure", []error{unavailable}, 2, false},
		{"recovers on the last attempt", []error{unavailable, context.DeadlineExceeded}, 3, false},
		{"exhausts attempts", []error{unavailable, unavailable, unavailable}, 3, true},
		{"permanent failure is not retried", []error{errors.New("401 unauthorized")}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stumblingEmbedder{inner: llm.NewHashEmbedder(16), errs: tt.errs}
			emb := llm.NewRetryingEmbedder(inner, fastRetry())

			vecs, err := emb.Embed(context.Background(), []string{"go services", "kubernetes"})
			assert.Equal(t, tt.wantCalls, inner.calls.Load())
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrEmbeddingService)
				assert.Nil(t, vecs)
				return
			}
			require.NoError(t, err)
			assert.Len(t, vecs, 2)
			assert.Equal(t, 16, emb.Dimension())
		})
	}
}

func TestRetryingEmbedder_ExhaustionNamesAttempts(t *testing.T) {
	unavailable := errors.New("503 service unavailable")
	inner := &stumblingEmbedder{inner: llm.NewHashEmbedder(16), errs: []error{unavailable, unavailable, unavailable}}

	_, err := llm.NewRetryingEmbedder(inner, fastRetry()).Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, unavailable)
	assert.ErrorContains(t, err, "after 3 attempts")
}

func TestRetryingEmbedder_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &stumblingEmbedder{inner: llm.NewHashEmbedder(16), errs: []error{errors.New("503 service unavailable")}}
	emb := llm.NewRetryingEmbedder(inner, llm.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Hour})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := emb.Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
	assert.EqualValues(t, 1, inner.calls.Load())
}

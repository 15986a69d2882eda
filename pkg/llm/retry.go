package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/xhad/reachout/internal/models"
)

var transientMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"resource_exhausted",
	"timeout",
	"timed out",
	"deadline exceeded",
	"502",
	"503",
	"504",
	"unavailable",
	"overloaded",
	"connection reset",
	"connection refused",
}

// IsTransient reports whether an external failure is worth retrying.
// Authentication failures and rejected prompts are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, models.ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Backoff is an exponential delay schedule.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the wait before retry number n, counting from 1.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Initial
	for i := 1; i < n; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

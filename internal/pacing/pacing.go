// Package pacing spaces out requests to the GDELT server.
package pacing

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
)

// Pacer blocks until the next request to the remote server is allowed.
type Pacer interface {
	Wait(ctx context.Context, kind domain.ArchiveKind) error
}

// Limiter is a token bucket with one token per interval and a burst of one,
// so the first request goes out immediately and later ones are spaced.
// Yearly backfiles are several times larger and cost extra tokens.
type Limiter struct {
	limiter *rate.Limiter
	weights map[domain.ArchiveKind]int
}

// DefaultWeights gives yearly archives twice the spacing of the others.
func DefaultWeights() map[domain.ArchiveKind]int {
	return map[domain.ArchiveKind]int{
		domain.KindDaily:   1,
		domain.KindMonthly: 1,
		domain.KindYearly:  2,
	}
}

// NewLimiter returns a pacer with the given interval. An interval of zero or
// less disables pacing.
func NewLimiter(interval time.Duration) *Limiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		limiter: rate.NewLimiter(limit, 1),
		weights: DefaultWeights(),
	}
}

// Wait takes one token, waiting if needed, then reserves any extra weight of
// kind so the request after it is pushed back accordingly.
func (l *Limiter) Wait(ctx context.Context, kind domain.ArchiveKind) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}

	now := time.Now()
	for i := 1; i < l.weight(kind); i++ {
		l.limiter.ReserveN(now, 1)
	}
	return nil
}

func (l *Limiter) weight(kind domain.ArchiveKind) int {
	if w, ok := l.weights[kind]; ok && w > 0 {
		return w
	}
	return 1
}

// Noop never waits.
type Noop struct{}

func (Noop) Wait(ctx context.Context, _ domain.ArchiveKind) error {
	return ctx.Err()
}

var (
	_ Pacer = (*Limiter)(nil)
	_ Pacer = Noop{}
)

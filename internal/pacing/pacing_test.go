package pacing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/gdelt-fetch/backend-go/internal/domain"
)

func TestLimiterSpacesRequests(t *testing.T) {
	l := NewLimiter(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(ctx, domain.KindMonthly))
	}
	// First token is free, the next two each wait one interval.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestYearlyArchivesCostExtra(t *testing.T) {
	l := NewLimiter(40 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, domain.KindYearly))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, domain.KindMonthly))
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestZeroIntervalDisablesPacing(t *testing.T) {
	l := NewLimiter(0)
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), domain.KindYearly))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitHonoursCancellation(t *testing.T) {
	l := NewLimiter(time.Hour)
	require.NoError(t, l.Wait(context.Background(), domain.KindDaily))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, l.Wait(ctx, domain.KindDaily))
	assert.ErrorIs(t, Noop{}.Wait(ctx, domain.KindDaily), context.Canceled)
}

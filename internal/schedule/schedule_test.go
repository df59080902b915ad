package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadInput(t *testing.T) {
	noop := func(context.Context) error { return nil }

	_, err := New("not a cron", "", noop, zerolog.Nop())
	require.Error(t, err)

	_, err = New("0 10 * * *", "Mars/Olympus_Mons", noop, zerolog.Nop())
	require.Error(t, err)

	s, err := New("", "UTC", noop, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultSpec, s.Spec())
	assert.True(t, s.Next().IsZero(), "not started yet")
}

func TestRunFiresJobAndStops(t *testing.T) {
	var calls int32
	s, err := New("@every 1s", "UTC", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("remote returned 404")
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 5*time.Second, 20*time.Millisecond)
	assert.False(t, s.Next().IsZero())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	last, lastErr := s.LastRun()
	assert.False(t, last.IsZero())
	assert.EqualError(t, lastErr, "remote returned 404")
}

func TestRunCancelsJobInFlight(t *testing.T) {
	started := make(chan struct{})
	var sawCancel int32
	s, err := New("@every 1s", "", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		atomic.StoreInt32(&sawCancel, 1)
		return ctx.Err()
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&sawCancel))
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunsImmediatelyThenOnInterval(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, Config{Interval: 10 * time.Millisecond}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestFailuresDoNotStopSchedule(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(func(context.Context) error {
		calls.Add(1)
		return errors.New("listing unreachable")
	}, Config{Interval: 10 * time.Millisecond}, nil)
	go s.Run(ctx)

	require.Eventually(t, func() bool { return s.Runs() >= 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestTriggerRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(func(ctx context.Context) error {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, Config{Interval: time.Hour}, zap.NewNop())
	go s.Run(ctx)

	<-started
	require.False(t, s.TriggerRun(), "a run is in progress")
	release <- struct{}{}

	require.Eventually(t, s.TriggerRun, 2*time.Second, 5*time.Millisecond)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not start")
	}
	release <- struct{}{}
	require.Eventually(t, func() bool { return s.Runs() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSkipInitial(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s := New(func(context.Context) error {
		calls.Add(1)
		return nil
	}, Config{Interval: time.Hour, SkipInitial: true}, zap.NewNop())
	s.Run(ctx)
	require.Zero(t, calls.Load())
	require.Equal(t, 24*time.Hour, New(nil, Config{}, nil).cfg.Interval)
}

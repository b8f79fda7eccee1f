package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalbot/internal/markethours"
	"signalbot/internal/model"
	"signalbot/internal/notify"
)

type recordingNotifier struct {
	alerts atomic.Int64
}

func (n *recordingNotifier) SendSignal(ctx context.Context, s *model.Signal) error { return nil }

func (n *recordingNotifier) SendOrderUpdate(ctx context.Context, s *model.Signal, executed bool, message string) error {
	return nil
}

func (n *recordingNotifier) SendPnLUpdate(ctx context.Context, s *model.Signal, reason model.ExitReason) error {
	return nil
}

func (n *recordingNotifier) SendSystemAlert(ctx context.Context, level notify.AlertLevel, message string) error {
	n.alerts.Add(1)
	return nil
}

// closedClock keeps the control loop from ever starting jobs.
func closedClock() time.Time {
	return time.Date(2026, 3, 2, 6, 0, 0, 0, markethours.IST)
}

func openClock() time.Time {
	return time.Date(2026, 3, 2, 11, 0, 0, 0, markethours.IST)
}

func TestStartStop(t *testing.T) {
	s := New(Config{}, &recordingNotifier{}, nil)
	s.SetClock(closedClock)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(), "double start must fail")

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop() // stopping a stopped scheduler is a no-op
}

func TestJobsFireWhileMarketOpen(t *testing.T) {
	var fired atomic.Int64

	s := New(Config{ControlInterval: time.Hour}, &recordingNotifier{}, nil)
	s.SetClock(openClock)
	s.AddJob("pipeline", time.Hour, func(ctx context.Context) error {
		fired.Add(1)
		return nil
	})

	require.NoError(t, s.Start())
	defer s.Stop()

	// each job fires once immediately after the open evaluation
	deadline := time.After(2 * time.Second)
	for fired.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("job never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, int64(1), fired.Load())
}

func TestJobsDoNotFireWhileMarketClosed(t *testing.T) {
	var fired atomic.Int64

	s := New(Config{ControlInterval: time.Hour}, &recordingNotifier{}, nil)
	s.SetClock(closedClock)
	s.AddJob("pipeline", time.Millisecond, func(ctx context.Context) error {
		fired.Add(1)
		return nil
	})

	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(0), fired.Load())
}

func TestTriggerJob(t *testing.T) {
	var fired int
	s := New(Config{}, &recordingNotifier{}, nil)
	s.AddJob("executor", time.Hour, func(ctx context.Context) error {
		fired++
		return nil
	})
	s.AddJob("failing", time.Hour, func(ctx context.Context) error {
		return errors.New("boom")
	})

	require.NoError(t, s.TriggerJob(context.Background(), "executor"))
	assert.Equal(t, 1, fired)

	assert.Error(t, s.TriggerJob(context.Background(), "failing"), "job error propagates")
	assert.Error(t, s.TriggerJob(context.Background(), "nope"), "unknown job")
}

func TestTriggerJobSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})

	s := New(Config{}, &recordingNotifier{}, nil)
	s.AddJob("slow", time.Hour, func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- s.TriggerJob(context.Background(), "slow") }()

	<-entered
	err := s.TriggerJob(context.Background(), "slow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	close(release)
	require.NoError(t, <-done)
}

func TestJobNames(t *testing.T) {
	s := New(Config{}, &recordingNotifier{}, nil)
	s.AddJob("pipeline", time.Hour, func(ctx context.Context) error { return nil })
	s.AddJob("executor", time.Hour, func(ctx context.Context) error { return nil })
	assert.Equal(t, []string{"pipeline", "executor"}, s.JobNames())
}

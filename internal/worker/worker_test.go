package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRunner_RunsAtStartupAndOnInterval(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	r := NewRunner(nil, nil, Task{Name: "tick", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
		n.Add(1)
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunner_OneShotTaskReturns(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	r := NewRunner(nil, nil, Task{Name: "once", Run: func(context.Context) error {
		n.Add(1)
		return errors.New("boom")
	}})
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, int32(1), n.Load())
}

func TestRunner_SingleFlight(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	r := NewRunner(nil, nil, Task{Name: "slow", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})

	done := make(chan error, 1)
	go func() { done <- r.RunNow(context.Background(), "slow") }()
	<-started

	require.ErrorIs(t, r.RunNow(context.Background(), "slow"), ErrBusy)
	close(release)
	require.NoError(t, <-done)
}

func TestRunner_RecoversPanicsAndLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	r := NewRunner(zap.New(core), nil, Task{Name: "bad", Run: func(context.Context) error {
		panic("oops")
	}})

	err := r.RunNow(context.Background(), "bad")
	require.ErrorContains(t, err, "panicked: oops")
	require.Equal(t, 1, logs.FilterMessage("task failed").Len())

	require.Error(t, r.RunNow(context.Background(), "missing"))
}

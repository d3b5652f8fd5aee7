package worker_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/serr"
	"github.com/shacron/sled/internal/worker"
)

// countingEngine is a minimal worker.Steppable: runnable until a target
// step count is reached, then it parks (Runnable() == false) so Run's loop
// falls back to blocking on the queue, the same shape riscv.Core's WFI
// path exercises for the real engine. stepped is accessed with atomics
// since Run drives it from the worker goroutine while the test goroutine
// polls it.
type countingEngine struct {
	stepped atomic.Uint64
	limit   uint64
}

func (c *countingEngine) Runnable() bool { return c.stepped.Load() < c.limit }

func (c *countingEngine) Step(n uint64) (uint64, error) {
	remaining := c.limit - c.stepped.Load()
	if n == 0 || n > remaining {
		n = remaining
	}
	c.stepped.Add(n)
	return n, nil
}

func TestWorkerStepsUntilParked(t *testing.T) {
	w := worker.New(4)
	eng := &countingEngine{limit: 10}
	w.SetEngine(eng)

	var handled atomic.Int32
	require.NoError(t, w.RegisterEndpoint(0, handlerFunc(func(ev *event.Event) error {
		handled.Add(1)
		return serr.ErrExited
	})))

	done := make(chan error, 1)
	go func() { done <- w.Run() }()

	for eng.Runnable() {
	}
	w.Queue.Push(event.NewFree(0, 0))

	require.NoError(t, <-done)
	require.Equal(t, uint64(10), eng.stepped.Load())
	require.Equal(t, int32(1), handled.Load())
}

// handlerFunc adapts a plain function to worker.EventHandler.
type handlerFunc func(*event.Event) error

func (f handlerFunc) HandleEvent(ev *event.Event) error { return f(ev) }

func TestWorkerRejectsOutOfRangeEndpoint(t *testing.T) {
	w := worker.New(4)
	require.Error(t, w.RegisterEndpoint(worker.MaxEndpoints, handlerFunc(func(*event.Event) error { return nil })))
}

func TestWorkerRunRequiresEngine(t *testing.T) {
	w := worker.New(4)
	require.ErrorIs(t, w.Run(), serr.ErrState)
}

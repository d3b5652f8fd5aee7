package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shacron/sled/internal/engine"
	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/serr"
)

// fakeOps is a minimal engine.Ops that counts Step/Interrupt calls without
// any real architectural state, the way core_test.go exercises the real
// riscv.Core but scoped to just the engine contract.
type fakeOps struct {
	steps   uint64
	irqs    int
	stepErr error
}

func (f *fakeOps) Step(n uint64) (uint64, error) {
	f.steps += n
	return n, f.stepErr
}

func (f *fakeOps) Interrupt() error {
	f.irqs++
	return nil
}

func TestRunnableAndWFI(t *testing.T) {
	q := event.NewQueue()
	ops := &fakeOps{}
	e := engine.New(q, 0, ops)

	require.True(t, e.Runnable())
	e.EnterWFI()
	require.False(t, e.Runnable())

	n, err := e.Step(10)
	require.NoError(t, err)
	require.Equal(t, uint64(0), n)
	require.Equal(t, uint64(0), ops.steps)
}

func TestHandleEventClearsWFI(t *testing.T) {
	q := event.NewQueue()
	ops := &fakeOps{}
	e := engine.New(q, 0, ops)
	e.EnterWFI()

	err := e.HandleEvent(&event.Event{Type: engine.EventTypeIRQ})
	require.NoError(t, err)
	require.True(t, e.Runnable())
	require.Equal(t, 1, ops.irqs)
}

func TestHandleEventHaltReArmsWFI(t *testing.T) {
	q := event.NewQueue()
	ops := &fakeOps{}
	e := engine.New(q, 0, ops)

	ev := &event.Event{Type: engine.EventTypeControl}
	ev.Arg[0] = uint64(engine.CmdHalt)
	require.NoError(t, e.HandleEvent(ev))
	require.False(t, e.Runnable())
}

func TestHandleEventExitReturnsErrExited(t *testing.T) {
	q := event.NewQueue()
	ops := &fakeOps{}
	e := engine.New(q, 0, ops)

	ev := &event.Event{Type: engine.EventTypeControl}
	ev.Arg[0] = uint64(engine.CmdExit)
	err := e.HandleEvent(ev)
	require.ErrorIs(t, err, serr.ErrExited)
}

func TestIRQEdgeWakesWorkerQueue(t *testing.T) {
	q := event.NewQueue()
	ops := &fakeOps{}
	e := engine.New(q, 3, ops)
	e.EnterWFI()

	e.IRQ.Assert(0, true)

	ev := q.WaitOne()
	require.NotNil(t, ev)
	require.Equal(t, engine.EventTypeIRQ, ev.Type)
	require.Equal(t, uint32(3), ev.EPID)
}

func TestAsyncCommandWaitBlocksUntilHandled(t *testing.T) {
	q := event.NewQueue()
	ops := &fakeOps{}
	e := engine.New(q, 0, ops)

	done := make(chan error, 1)
	go func() { done <- e.AsyncCommand(engine.CmdHalt, true) }()

	ev := q.WaitOne()
	require.NotNil(t, ev)
	err := e.HandleEvent(ev)
	event.Finish(ev, err)

	require.NoError(t, <-done)
	require.False(t, e.Runnable())
}

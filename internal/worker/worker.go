// Package worker implements the single-threaded cooperative loop each core
// runs (spec §3 "Worker", §4.4): it owns a fixed-size table of event
// endpoints and a shared queue, draining events and, while the engine is
// runnable, stepping it in bounded batches.
package worker

import (
	"errors"

	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/serr"
)

// MaxEndpoints bounds the per-worker endpoint table (spec §3: "a small
// fixed bound, spec: 64").
const MaxEndpoints = 64

// EventHandler is anything registered on a worker's endpoint table.
type EventHandler interface {
	HandleEvent(ev *event.Event) error
}

// Steppable is the subset of engine.Engine the worker loop drives.
type Steppable interface {
	Runnable() bool
	Step(n uint64) (uint64, error)
}

// Worker owns one goroutine draining Queue and, while Engine is runnable,
// stepping it in batches of Batch instructions (0 selects unbounded
// stepping via a single Step(0) call per batch).
type Worker struct {
	Queue *event.Queue
	Batch uint64

	endpoints [MaxEndpoints]EventHandler
	engine    Steppable
}

// New returns a worker with an open queue and no endpoints registered.
func New(batch uint64) *Worker {
	return &Worker{Queue: event.NewQueue(), Batch: batch}
}

// SetEngine installs the engine this worker steps. Must be called before
// Run (spec §9 "engine.worker may be NULL" hazard -> State precondition).
func (w *Worker) SetEngine(e Steppable) { w.engine = e }

// RegisterEndpoint assigns epid's handler slot. epid is fixed for the
// lifetime of the worker once assigned (spec §3: "assigned at registration
// and never moves").
func (w *Worker) RegisterEndpoint(epid uint32, h EventHandler) error {
	if epid >= MaxEndpoints {
		return serr.ErrRange
	}
	w.endpoints[epid] = h
	return nil
}

// Run is the worker's main loop (spec §4.4). It returns nil on a clean Exit
// command, or the first non-Exited error raised by an event handler or by
// Engine.Step.
func (w *Worker) Run() error {
	if w.engine == nil {
		return serr.ErrState
	}
	for {
		var events []*event.Event
		if w.engine.Runnable() {
			events = w.Queue.DrainNonBlocking()
		} else if ev := w.Queue.WaitOne(); ev != nil {
			events = []*event.Event{ev}
		}

		for _, ev := range events {
			err := w.dispatch(ev)
			event.Finish(ev, err)
			if errors.Is(err, serr.ErrExited) {
				w.drainOnExit()
				return nil
			}
			if err != nil {
				w.drainOnExit()
				return err
			}
		}

		if w.engine.Runnable() {
			if _, err := w.engine.Step(w.Batch); err != nil {
				w.drainOnExit()
				return err
			}
		}
	}
}

func (w *Worker) dispatch(ev *event.Event) error {
	if ev.Flags&event.Callback != 0 {
		if ev.Callback == nil {
			return serr.ErrArg
		}
		return ev.Callback(ev)
	}
	if ev.EPID >= MaxEndpoints || w.endpoints[ev.EPID] == nil {
		return serr.ErrIoNoDev
	}
	return w.endpoints[ev.EPID].HandleEvent(ev)
}

// drainOnExit releases any events still queued when the loop stops,
// posting ErrExited to waiters without dispatching them (spec §4.4).
func (w *Worker) drainOnExit() {
	w.Queue.Close()
	for _, ev := range w.Queue.DrainRemaining() {
		event.Finish(ev, serr.ErrExited)
	}
}

// Package engine implements the abstract per-core execution state described
// in spec §3/§4.1: an IRQ endpoint, an event endpoint on some worker, a
// small run-state bit-set ({interrupts-enabled, WFI}), and the two
// architecture hooks (step, interrupt) a concrete core (internal/riscv)
// implements. It owns the async-command path (spec §4.1 "Public contract")
// and the WFI wakeup contract (spec §4.1.6).
package engine

import (
	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/irq"
	"github.com/shacron/sled/internal/serr"
)

// Event types delivered to an Engine's endpoint slot.
const (
	EventTypeIRQ     uint32 = iota // wakeup kick following an IRQ edge
	EventTypeControl               // Run/Halt/Exit (spec §4.1 async_command)
)

// Cmd is the async control command carried by an EventTypeControl event.
type Cmd uint64

const (
	CmdRun Cmd = iota
	CmdHalt
	CmdExit
)

// Bit is a run-state flag.
type Bit uint32

const (
	InterruptsEnabled Bit = 1 << iota
	WFI
)

// Ops is the architecture-specific hook set a concrete core implements.
// Step must only be called by the worker goroutine that owns this engine.
type Ops interface {
	// Step advances by up to n instructions (n == 0 means run unbounded
	// until error) and returns the count actually executed.
	Step(n uint64) (uint64, error)
	// Interrupt is invoked when a wakeup event from an IRQ edge is
	// dispatched, letting the core perform any architecture bookkeeping
	// beyond the generic WFI-clear engine already does.
	Interrupt() error
}

// Engine is the generic per-core execution state described in spec §3.
type Engine struct {
	state Bit

	IRQ   *irq.Endpoint
	queue *event.Queue
	epid  uint32

	// ops is a non-owning back-reference to the concrete core
	// implementing Step/Interrupt (spec §9 cyclic-ownership note).
	ops Ops
}

// New creates an engine registered at epid on queue, with an independent
// IRQ endpoint whose edges wake the worker via queue.
func New(queue *event.Queue, epid uint32, ops Ops) *Engine {
	e := &Engine{
		IRQ:   irq.New(),
		queue: queue,
		epid:  epid,
		ops:   ops,
		state: InterruptsEnabled,
	}
	e.IRQ.SetEnabled(^uint32(0))
	e.IRQ.SetEdgeCallback(func(active bool) {
		if active {
			queue.Push(&event.Event{EPID: epid, Type: EventTypeIRQ, Flags: event.Free})
		}
	})
	return e
}

// Runnable reports engine_runnable, which per spec §8 is defined purely as
// the negation of WFI.
func (e *Engine) Runnable() bool {
	return e.state&WFI == 0
}

// InterruptsEnabled reports whether the engine will vector a pending
// interrupt at the next dispatch check (spec §4.1 step 1).
func (e *Engine) InterruptsEnabled() bool {
	return e.state&InterruptsEnabled != 0
}

// SetInterruptsEnabled updates the interrupts-enabled run-state bit; the
// core calls this from mstatus/sstatus CSR writes and exception entry/return.
func (e *Engine) SetInterruptsEnabled(enabled bool) {
	if enabled {
		e.state |= InterruptsEnabled
	} else {
		e.state &^= InterruptsEnabled
	}
}

// EnterWFI marks the engine not-runnable; the core calls this from the WFI
// instruction (spec §4.1.6).
func (e *Engine) EnterWFI() {
	e.state |= WFI
}

// EPID returns the endpoint slot this engine is registered at.
func (e *Engine) EPID() uint32 { return e.epid }

// Step forwards to the architecture hook, refusing to run while not
// runnable.
func (e *Engine) Step(n uint64) (uint64, error) {
	if !e.Runnable() {
		return 0, nil
	}
	return e.ops.Step(n)
}

// AsyncCommand enqueues a Run/Halt/Exit control event for this engine's
// worker. If wait, the caller blocks until the worker has processed it
// (spec §4.1 "Public contract").
func (e *Engine) AsyncCommand(cmd Cmd, wait bool) error {
	ev := &event.Event{EPID: e.epid, Type: EventTypeControl, Flags: event.Free}
	ev.Arg[0] = uint64(cmd)
	if wait {
		ev.Flags = event.Wait
		ev.Done = make(chan struct{})
	}
	e.queue.Push(ev)
	if wait {
		<-ev.Done
		return ev.Err
	}
	return nil
}

// HandleEvent implements worker.EventHandler. Any delivered event clears
// WFI (spec §4.1.6: "[an event] arrives, which clears WFI and dispatches").
// A Halt command re-arms WFI so the worker blocks again; Exit propagates
// serr.ErrExited to terminate the worker loop (spec §4.4 "Cancellation").
func (e *Engine) HandleEvent(ev *event.Event) error {
	e.state &^= WFI

	switch ev.Type {
	case EventTypeIRQ:
		return e.ops.Interrupt()
	case EventTypeControl:
		switch Cmd(ev.Arg[0]) {
		case CmdExit:
			return serr.ErrExited
		case CmdHalt:
			e.state |= WFI
		case CmdRun:
		}
	}
	return nil
}

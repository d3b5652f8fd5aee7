// Package irq implements the per-receiver interrupt endpoint: a bitmask of
// asserted, sticky-retained, and enabled lines, with an edge-triggered
// hand-off to a downstream client endpoint. This is the IRQ delivery
// primitive used between devices, the engine, and the exception dispatcher
// (spec §3 "IRQ endpoint", §4.1.5).
package irq

import "sync"

// MaxLines is the number of interrupt lines an endpoint multiplexes.
const MaxLines = 32

// Endpoint is a bitmask-based interrupt receiver that can hand edges off to
// one downstream client line. The client reference is non-owning: its
// lifetime is guaranteed by the owning tree (spec §9), not by this struct.
type Endpoint struct {
	mu sync.Mutex

	asserted uint32 // current level
	retained uint32 // sticky until cleared
	enabled  uint32 // mask

	client     *Endpoint
	clientLine uint32

	// onEdge, if set, is invoked (outside the lock) on every transition of
	// this endpoint's own active mask to/from zero. The terminal endpoint
	// owned by an engine uses this to enqueue a wakeup event on its
	// worker (spec §2 "device IRQ line transitions -> engine IRQ
	// endpoint.async_assert -> event enqueued on worker").
	onEdge func(active bool)
}

// New returns a ready-to-use endpoint with no lines asserted or enabled.
func New() *Endpoint {
	return &Endpoint{}
}

func (e *Endpoint) activeLocked() uint32 {
	return e.retained & e.enabled
}

// Active returns the current active mask: retained & enabled.
func (e *Endpoint) Active() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeLocked()
}

// Asserted returns the current level mask.
func (e *Endpoint) Asserted() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.asserted
}

// SetClient installs (or clears, with ep == nil) the downstream endpoint
// that receives edge-triggered hand-offs on transitions of Active() to/from
// zero.
func (e *Endpoint) SetClient(ep *Endpoint, line uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = ep
	e.clientLine = line
}

// SetEdgeCallback installs the wakeup hook described above. Not itself
// part of the C++-flavored spec data model; it is the minimal extra hook
// needed to bridge a synchronous bitmask mutation to the asynchronous
// event-queue wakeup spec §2's data-flow diagram requires.
func (e *Endpoint) SetEdgeCallback(fn func(active bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onEdge = fn
}

// SetEnabled replaces the enabled-line mask, propagating any resulting
// active-state edge to the client.
func (e *Endpoint) SetEnabled(mask uint32) {
	e.mu.Lock()
	before := e.activeLocked()
	e.enabled = mask
	after := e.activeLocked()
	client, line, onEdge := e.client, e.clientLine, e.onEdge
	e.mu.Unlock()
	propagateEdge(client, line, onEdge, before, after)
}

// Assert sets or clears line's current level. A rising edge on the combined
// active mask propagates an assertion to the client; a falling edge
// propagates a de-assertion.
func (e *Endpoint) Assert(line uint32, high bool) {
	if line >= MaxLines {
		return
	}
	bit := uint32(1) << line
	e.mu.Lock()
	before := e.activeLocked()
	if high {
		e.asserted |= bit
		e.retained |= bit
	} else {
		e.asserted &^= bit
	}
	after := e.activeLocked()
	client, cline, onEdge := e.client, e.clientLine, e.onEdge
	e.mu.Unlock()
	propagateEdge(client, cline, onEdge, before, after)
}

// Clear zeroes the selected retained bits, except for lines that are still
// currently asserted (a still-high level cannot be cleared, spec §3).
func (e *Endpoint) Clear(vec uint32) {
	e.mu.Lock()
	before := e.activeLocked()
	e.retained &^= vec &^ e.asserted
	after := e.activeLocked()
	client, cline, onEdge := e.client, e.clientLine, e.onEdge
	e.mu.Unlock()
	propagateEdge(client, cline, onEdge, before, after)
}

func propagateEdge(client *Endpoint, line uint32, onEdge func(bool), before, after uint32) {
	if before == 0 && after != 0 {
		if onEdge != nil {
			onEdge(true)
		}
		if client != nil {
			client.Assert(line, true)
		}
	} else if before != 0 && after == 0 {
		if onEdge != nil {
			onEdge(false)
		}
		if client != nil {
			client.Assert(line, false)
		}
	}
}

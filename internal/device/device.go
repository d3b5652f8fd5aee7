// Package device implements the IO-endpoint + lock + optional owned mapper
// + optional worker attachment described in spec §3/§4.3. A leaf device
// (UART, RTC, timer, INTC) supplies Read/Write hooks invoked under the
// device's own lock; a composite device (a Bus) owns a mapper.Mapper and
// forwards IO into it instead.
package device

import (
	"sync"
	"sync/atomic"

	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/irq"
	"github.com/shacron/sled/internal/mapper"
	"github.com/shacron/sled/internal/serr"
	"github.com/shacron/sled/internal/worker"
)

// ReadFunc services In/Resolve ops at offset (relative to the device's
// aperture base).
type ReadFunc func(d *Device, offset uint64, op *ioop.Op) error

// WriteFunc services Out ops at offset.
type WriteFunc func(d *Device, offset uint64, op *ioop.Op) error

// AtomicFunc services an atomic RMW op at offset, for devices with
// interrupt-status-style registers that need read-modify-write semantics
// beyond plain Read/Write composition.
type AtomicFunc func(d *Device, offset uint64, op *ioop.Op) error

// Ops is a leaf device's capability set (spec §9 "CoreOps/DeviceOps").
type Ops struct {
	Read    ReadFunc
	Write   WriteFunc
	Atomic  AtomicFunc
	Destroy func(d *Device) error
}

var idCounter uint64 // per-process fallback; Machine assigns its own counter (spec §9)

func nextID() uint64 { return atomic.AddUint64(&idCounter, 1) }

// Device is the shared shape for every memory-mapped model in the system.
type Device struct {
	mu sync.Mutex

	ID       uint64
	Name     string
	Aperture uint64
	Base     uint64

	IRQMux *irq.Endpoint

	Mapper *mapper.Mapper // set for composite devices (e.g. Bus)
	ops    Ops

	Context any
}

// NewLeaf creates a device backed by Ops.Read/Write/Atomic, each invoked
// under the device's own lock.
func NewLeaf(name string, aperture uint64, ops Ops) *Device {
	return &Device{ID: nextID(), Name: name, Aperture: aperture, ops: ops, IRQMux: irq.New()}
}

// NewComposite creates a device whose endpoint is an owned mapper (spec
// §4.3 "Bus").
func NewComposite(name string, aperture uint64, mp *mapper.Mapper) *Device {
	return &Device{ID: nextID(), Name: name, Aperture: aperture, Mapper: mp, IRQMux: irq.New()}
}

// SetBase records the base address this device was installed at on some
// parent bus (spec §3 invariant: "a device registered on a bus has base
// set").
func (d *Device) SetBase(base uint64) { d.Base = base }

// SetID overrides the process-global fallback ID with one from a Machine's
// own counter, so device IDs are stable and scoped to one simulated machine
// rather than shared across every machine in the process (spec §9).
func (d *Device) SetID(id uint64) { d.ID = id }

// IO implements mapper.Endpoint: it is the device's own map_ep.
func (d *Device) IO(op *ioop.Op) error {
	if err := op.Validate(); err != nil {
		return err
	}
	if d.Mapper != nil {
		return d.Mapper.IO(op)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case op.Op == ioop.In || op.Op == ioop.Resolve:
		if d.ops.Read == nil {
			return serr.ErrIoNoRd
		}
		return d.ops.Read(d, op.Addr, op)
	case op.Op == ioop.Out:
		if d.ops.Write == nil {
			return serr.ErrIoNoWr
		}
		return d.ops.Write(d, op.Addr, op)
	case op.Op.IsAtomic():
		if d.ops.Atomic == nil {
			return serr.ErrIoInvalid
		}
		return d.ops.Atomic(d, op.Addr, op)
	default:
		return serr.ErrIoInvalid
	}
}

// Lock/Unlock take the same per-device lock IO holds while a Read/Write/
// Atomic hook runs; the lock is not reentrant, so a hook must not call them.
func (d *Device) Lock()   { d.mu.Lock() }
func (d *Device) Unlock() { d.mu.Unlock() }

// SubmitMapperUpdate enqueues an Update event (spec §4.2 "Asynchronous
// update") onto the worker owning the consumer of target -- typically the
// core whose instruction/data mapper chain includes this device's mapper,
// not the device's own worker. The mapper mutation runs as an event-queue
// Callback so it is serialized onto that worker's single thread, and
// therefore never races the IO it is reconfiguring.
func SubmitMapperUpdate(w *worker.Worker, target *mapper.Mapper, mode mapper.Mode, mappings []mapper.Mapping, replace bool, wait bool) error {
	ev := &event.Event{Type: EventTypeMapperUpdate, Flags: event.Free}
	ev.Callback = func(*event.Event) error { return target.Install(mode, mappings, replace) }
	if wait {
		ev.Flags = event.Wait
		ev.Done = make(chan struct{})
	}
	ev.Flags |= event.Callback
	w.Queue.Push(ev)
	if wait {
		<-ev.Done
		return ev.Err
	}
	return nil
}

// EventTypeMapperUpdate tags a mapper-reconfiguration event pushed via
// SubmitMapperUpdate.
const EventTypeMapperUpdate uint32 = 0xD0DA0001

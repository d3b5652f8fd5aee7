// Package timer implements a per-unit countdown timer device backed by
// internal/chrono: RUN/CONTINUOUS control bits, a reset (reload) value, a
// live current-value readback, and a maskable, W1C pending-IRQ status
// register. Grounded on the teacher's rv64/clint.go timer-compare model,
// generalized from CLINT's single hardwired machine-timer-interrupt compare
// register into the distilled spec's general per-unit timer device backed
// by the shared chrono service rather than inline time.Now() polling.
package timer

import (
	"sync"

	"github.com/shacron/sled/internal/chrono"
	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/ioop"
)

// Register offsets.
const (
	RegDevType      = 0x00
	RegDevVersion   = 0x04
	RegControl      = 0x08 // bit0 RUN, bit1 CONTINUOUS
	RegResetValue   = 0x0C // 8 bytes, microsecond reload value
	RegCurrentValue = 0x14 // 8 bytes, read-only, microseconds remaining
	RegIRQMask      = 0x1C // bit0: IRQ enabled on fire
	RegIRQStatus    = 0x20 // bit0: pending, W1C
	Aperture        = 0x24
)

const (
	DevType    = 0x54494D52 // "TIMR"
	DevVersion = 1

	controlRun        = 1 << 0
	controlContinuous = 1 << 1
	irqMaskEnable     = 1 << 0
	irqStatusPending  = 1 << 0
)

type state struct {
	mu sync.Mutex

	c *chrono.Chrono
	d *device.Device

	running    bool
	continuous bool
	resetUs    int64
	timerID    uint64
	irqEnabled bool
	pending    bool
}

// New returns a timer device driven by c.
func New(name string, c *chrono.Chrono) *device.Device {
	d := device.NewLeaf(name, Aperture, device.Ops{Read: read, Write: write})
	st := &state{c: c}
	d.Context = st
	st.d = d
	return d
}

func read(d *device.Device, offset uint64, op *ioop.Op) error {
	st := d.Context.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()

	var v uint64
	switch offset {
	case RegDevType:
		v = DevType
	case RegDevVersion:
		v = DevVersion
	case RegControl:
		if st.running {
			v |= controlRun
		}
		if st.continuous {
			v |= controlContinuous
		}
	case RegResetValue:
		v = uint64(st.resetUs)
	case RegCurrentValue:
		if st.running {
			remaining, err := st.c.TimerGetRemaining(st.timerID)
			if err == nil {
				v = uint64(remaining)
			}
		}
	case RegIRQMask:
		if st.irqEnabled {
			v = irqMaskEnable
		}
	case RegIRQStatus:
		if st.pending {
			v = irqStatusPending
		}
	}
	return regio.Load(op, v)
}

func write(d *device.Device, offset uint64, op *ioop.Op) error {
	val, err := regio.Store(op)
	if err != nil {
		return err
	}
	st := d.Context.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch offset {
	case RegControl:
		st.continuous = val&controlContinuous != 0
		wantRun := val&controlRun != 0
		if wantRun && !st.running {
			st.arm()
		} else if !wantRun && st.running {
			st.disarm()
		}
	case RegResetValue:
		st.resetUs = int64(val)
	case RegIRQMask:
		st.irqEnabled = val&irqMaskEnable != 0
		st.d.IRQMux.SetEnabled(uint32(val & irqMaskEnable))
	case RegIRQStatus:
		if val&irqStatusPending != 0 {
			st.pending = false
			st.d.IRQMux.Assert(0, false)
			st.d.IRQMux.Clear(1)
		}
	}
	return nil
}

// arm schedules the next fire; caller holds st.mu.
func (st *state) arm() {
	st.running = true
	st.timerID = st.c.TimerSet(st.resetUs, st.fire, nil)
}

// disarm cancels any pending fire; caller holds st.mu.
func (st *state) disarm() {
	if st.running {
		_ = st.c.TimerCancel(st.timerID)
		st.running = false
	}
}

// fire runs on the chrono goroutine, never the device's calling goroutine.
func (st *state) fire(_ any, flags uint32) chrono.Result {
	st.mu.Lock()
	defer st.mu.Unlock()

	if flags&chrono.ExitFlag != 0 {
		st.running = false
		return chrono.Done
	}

	st.pending = true
	if st.irqEnabled {
		st.d.IRQMux.Assert(0, true)
	}
	if st.continuous {
		return chrono.Restart
	}
	st.running = false
	return chrono.Done
}

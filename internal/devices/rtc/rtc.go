// Package rtc implements the real-time clock device: a single read-only
// 64-bit microsecond counter register, grounded on the teacher's
// rv64/clint.go mtime register (time.Now-derived) but split out of the
// timer/IRQ logic that CLINT bundles together, per the distilled spec's
// separate "RTC: monotonic 64-bit microsecond counter register" device.
package rtc

import (
	"time"

	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/ioop"
)

const (
	RegCounter = 0x00
	Aperture   = 0x08
)

// New returns an RTC device reading the wall clock through now (injectable
// for tests; nil selects time.Now().UnixMicro).
func New(name string, now func() int64) *device.Device {
	if now == nil {
		now = func() int64 { return time.Now().UnixMicro() }
	}
	d := device.NewLeaf(name, Aperture, device.Ops{Read: read})
	d.Context = now
	return d
}

func read(d *device.Device, offset uint64, op *ioop.Op) error {
	var v uint64
	if offset == RegCounter {
		v = uint64(d.Context.(func() int64)())
	}
	return regio.Load(op, v)
}

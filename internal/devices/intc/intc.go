// Package intc implements the interrupt controller device: a bank of child
// IRQ lines fanned into one line on a downstream client (normally a core's
// engine.Engine.IRQ), grounded on the teacher's rv64/plic.go register
// layout (DEV_TYPE/DEV_VERSION identification pair plus a masked, W1C
// status register) generalized from a fixed 32-source PLIC to the
// distilled spec's generic "one line per child IRQ source" controller.
package intc

import (
	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/ioop"
)

// Register offsets within the device's 16-byte aperture.
const (
	RegDevType    = 0x00
	RegDevVersion = 0x04
	RegAsserted   = 0x08 // read: retained (sticky) & enabled bits; write: W1C clear
	RegMask       = 0x0C // enabled-line mask, read/write
)

const (
	DevType    = 0x494E5443 // "INTC"
	DevVersion = 1
	Aperture   = 0x10
)

// New returns an INTC device. Child sources assert their line via
// AssertLine; the platform wires this controller's aggregated line to a core's
// engine.Engine.IRQ via dev.IRQMux.SetClient.
func New(name string) *device.Device {
	d := device.NewLeaf(name, Aperture, device.Ops{Read: read, Write: write})
	mask := new(uint32)
	d.Context = mask
	return d
}

// AssertLine sets or clears child line's input on dev (dev must be one
// returned by New).
func AssertLine(dev *device.Device, line uint32, high bool) {
	dev.IRQMux.Assert(line, high)
}

func read(d *device.Device, offset uint64, op *ioop.Op) error {
	var v uint64
	switch offset {
	case RegDevType:
		v = DevType
	case RegDevVersion:
		v = DevVersion
	case RegAsserted:
		v = uint64(d.IRQMux.Active())
	case RegMask:
		v = uint64(*d.Context.(*uint32))
	}
	return regio.Load(op, v)
}

func write(d *device.Device, offset uint64, op *ioop.Op) error {
	v, err := regio.Store(op)
	if err != nil {
		return err
	}
	switch offset {
	case RegAsserted:
		d.IRQMux.Clear(uint32(v))
	case RegMask:
		*d.Context.(*uint32) = uint32(v)
		d.IRQMux.SetEnabled(uint32(v))
	}
	return nil
}

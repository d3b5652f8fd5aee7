// Package mpu implements the memory protection/translation unit: a staged
// table of up to 64 (virtual, physical, length) entries committed to a
// core's per-core mapper via an APPLY register. Grounded on the
// distilled spec's "spliced ahead of the bus mapper as core.mapper" MPU
// device and _examples/original_source/dev/sled's apply-on-write MPU
// register convention; the staged-then-applied shape mirrors
// internal/mapper's own Install(replace) contract, submitted asynchronously
// per spec §4.2 so a core's own store to its APPLY register never
// reenters its own worker loop synchronously.
package mpu

import (
	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/mapper"
	"github.com/shacron/sled/internal/worker"
)

// MaxEntries bounds the translation table (spec: "up to 64 entries").
const MaxEntries = 64

// Register offsets.
const (
	RegDevType    = 0x00
	RegDevVersion = 0x04
	RegIndex      = 0x08 // selects the staged entry 0..MaxEntries-1
	RegVirt       = 0x10 // 8 bytes
	RegPhys       = 0x18 // 8 bytes
	RegLength     = 0x20 // 8 bytes
	RegControl    = 0x28 // bit0: entry enabled
	RegApply      = 0x2C // write (any value): commit all enabled entries
	RegClear      = 0x30 // write: drop every staged entry and disable translation
	Aperture      = 0x38
)

const (
	DevType    = 0x4D505530 // "MPU0"
	DevVersion = 1

	controlEnable = 1 << 0
)

type entry struct {
	virt, phys, length uint64
	enabled            bool
}

type state struct {
	entries [MaxEntries]entry
	index   uint32

	target *mapper.Mapper // the core's per-core mapper, spliced ahead of the bus
	next   *mapper.Mapper // the shared bus mapper, every entry's translation target
	w      *worker.Worker // the core's own worker, for the async Install submission
}

// New returns an MPU device. target is the owning core's per-core mapper
// (machine.CoreSlot.Mapper); next is the shared bus mapper every entry
// ultimately forwards into; w is the owning core's worker, used to
// serialize Install calls onto that core's single thread.
func New(name string, target, next *mapper.Mapper, w *worker.Worker) *device.Device {
	d := device.NewLeaf(name, Aperture, device.Ops{Read: read, Write: write})
	d.Context = &state{target: target, next: next, w: w}
	return d
}

func read(d *device.Device, offset uint64, op *ioop.Op) error {
	st := d.Context.(*state)
	var v uint64
	cur := &st.entries[st.index]
	switch offset {
	case RegDevType:
		v = DevType
	case RegDevVersion:
		v = DevVersion
	case RegIndex:
		v = uint64(st.index)
	case RegVirt:
		v = cur.virt
	case RegPhys:
		v = cur.phys
	case RegLength:
		v = cur.length
	case RegControl:
		if cur.enabled {
			v = controlEnable
		}
	}
	return regio.Load(op, v)
}

func write(d *device.Device, offset uint64, op *ioop.Op) error {
	v, err := regio.Store(op)
	if err != nil {
		return err
	}
	st := d.Context.(*state)
	cur := &st.entries[st.index]

	switch offset {
	case RegIndex:
		if idx := uint32(v); idx < MaxEntries {
			st.index = idx
		}
	case RegVirt:
		cur.virt = v
	case RegPhys:
		cur.phys = v
	case RegLength:
		cur.length = v
	case RegControl:
		cur.enabled = v&controlEnable != 0
	case RegApply:
		return st.apply()
	case RegClear:
		st.entries = [MaxEntries]entry{}
		return device.SubmitMapperUpdate(st.w, st.target, mapper.Passthrough, nil, true, false)
	}
	return nil
}

func (st *state) apply() error {
	var mappings []mapper.Mapping
	for _, e := range st.entries {
		if !e.enabled || e.length == 0 {
			continue
		}
		mappings = append(mappings, mapper.Mapping{
			InputBase:   e.virt,
			Length:      e.length,
			OutputBase:  e.phys,
			Type:        mapper.TypeMapper,
			Permissions: mapper.PermRead | mapper.PermWrite | mapper.PermExec,
			Endpoint:    st.next,
		})
	}
	return device.SubmitMapperUpdate(st.w, st.target, mapper.Translate, mappings, true, false)
}

// Package bus implements the top-level aggregate described in spec §4.3: a
// device whose IO endpoint is a Translate-mode mapper holding memory
// regions and child devices. Grounded on rv64.Bus's AddDevice/LoadBytes
// idiom, generalized onto the mapper/device abstractions instead of a flat
// linearly-scanned slice.
package bus

import (
	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/mapper"
	"github.com/shacron/sled/internal/memregion"
)

// Bus is a device whose endpoint is a Translate-mode mapper.
type Bus struct {
	*device.Device
	mapper *mapper.Mapper
}

// New creates an empty bus ready to accept memory regions and devices.
func New(name string) *Bus {
	mp := mapper.New(mapper.Translate)
	return &Bus{Device: device.NewComposite(name, 0, mp), mapper: mp}
}

// Mapper returns the bus's root translation table, e.g. to splice an MPU or
// MMU stage ahead of it via mapper.SetNext (spec §4.3).
func (b *Bus) Mapper() *mapper.Mapper { return b.mapper }

// AddMemRegion installs a Memory mapping at base.
func (b *Bus) AddMemRegion(base uint64, region *memregion.Region) error {
	return b.mapper.AddMapping(mapper.Mapping{
		InputBase:   base,
		Length:      region.Len(),
		OutputBase:  0,
		Type:        mapper.TypeMemory,
		Permissions: mapper.PermRead | mapper.PermWrite | mapper.PermExec,
		Endpoint:    region,
	})
}

// AddDevice installs a Device mapping over dev's aperture at base, and
// records base on dev per the spec §3 Device invariant.
func (b *Bus) AddDevice(base uint64, dev *device.Device) error {
	dev.SetBase(base)
	return b.mapper.AddMapping(mapper.Mapping{
		InputBase:   base,
		Length:      dev.Aperture,
		OutputBase:  0,
		Type:        mapper.TypeDevice,
		Permissions: mapper.PermRead | mapper.PermWrite,
		Endpoint:    dev,
	})
}

// LoadBytes writes data at addr through the bus's own mapper, the
// bus-relative equivalent of rv64.Bus.LoadBytes.
func (b *Bus) LoadBytes(addr uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	op := ioop.Op{Addr: addr, Size: 1, Op: ioop.Out, Count: uint32(len(data)), Buf: data}
	return b.mapper.IO(&op)
}

// ReadBytes reads length bytes from addr through the bus's mapper.
func (b *Bus) ReadBytes(addr uint64, length int) ([]byte, error) {
	buf := make([]byte, length)
	op := ioop.Op{Addr: addr, Size: 1, Op: ioop.In, Count: uint32(length), Buf: buf}
	if err := b.mapper.IO(&op); err != nil {
		return nil, err
	}
	return buf, nil
}

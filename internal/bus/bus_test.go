package bus_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shacron/sled/internal/bus"
	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/memregion"
	"github.com/shacron/sled/internal/serr"
)

func TestBusLoadAndReadBytesRoundTrip(t *testing.T) {
	b := bus.New("test")
	region := memregion.New(0x1000, 0x100)
	require.NoError(t, b.AddMemRegion(0x1000, region))

	data := []byte{1, 2, 3, 4}
	require.NoError(t, b.LoadBytes(0x1004, data))

	got, err := b.ReadBytes(0x1004, len(data))
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBusAddDeviceSetsBaseAndRoutesIO(t *testing.T) {
	b := bus.New("test")
	var last uint64
	dev := device.NewLeaf("probe", 0x10, device.Ops{
		Write: func(d *device.Device, offset uint64, op *ioop.Op) error {
			v, err := regio.Store(op)
			if err != nil {
				return err
			}
			last = v
			return nil
		},
	})
	require.NoError(t, b.AddDevice(0x5000, dev))
	require.Equal(t, uint64(0x5000), dev.Base)

	op := &ioop.Op{Addr: 0x5000, Size: 4, Count: 1, Op: ioop.Out, Buf: []byte{0xef, 0xbe, 0xad, 0xde}}
	require.NoError(t, b.Mapper().IO(op))
	require.Equal(t, uint64(0xdeadbeef), last)
}

func TestBusReadUnmappedAddressFails(t *testing.T) {
	b := bus.New("test")
	_, err := b.ReadBytes(0x9999, 4)
	require.ErrorIs(t, err, serr.ErrIoNoMap)
}

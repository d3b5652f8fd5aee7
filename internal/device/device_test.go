package device_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/mapper"
	"github.com/shacron/sled/internal/serr"
	"github.com/shacron/sled/internal/worker"
)

func TestLeafDeviceReadWriteDispatch(t *testing.T) {
	var stored uint64
	d := device.NewLeaf("scratch", 8, device.Ops{
		Read: func(d *device.Device, offset uint64, op *ioop.Op) error {
			return regio.Load(op, stored)
		},
		Write: func(d *device.Device, offset uint64, op *ioop.Op) error {
			v, err := regio.Store(op)
			if err != nil {
				return err
			}
			stored = v
			return nil
		},
	})

	writeOp := &ioop.Op{Addr: 0, Size: 4, Op: ioop.Out, Buf: make([]byte, 4)}
	writeOp.Buf[0] = 0x2a
	require.NoError(t, d.IO(writeOp))
	require.Equal(t, uint64(0x2a), stored)

	readOp := &ioop.Op{Addr: 0, Size: 4, Op: ioop.In, Buf: make([]byte, 4)}
	require.NoError(t, d.IO(readOp))
	require.Equal(t, byte(0x2a), readOp.Buf[0])
}

func TestLeafDeviceMissingHookReturnsNoSupport(t *testing.T) {
	d := device.NewLeaf("readonly", 4, device.Ops{
		Read: func(d *device.Device, offset uint64, op *ioop.Op) error { return regio.Load(op, 0) },
	})
	op := &ioop.Op{Addr: 0, Size: 4, Op: ioop.Out, Buf: make([]byte, 4)}
	require.ErrorIs(t, d.IO(op), serr.ErrIoNoWr)
}

func TestCompositeDeviceForwardsToMapper(t *testing.T) {
	mp := mapper.New(mapper.Block)
	d := device.NewComposite("bus", 0, mp)
	op := &ioop.Op{Addr: 0, Size: 4, Op: ioop.In, Buf: make([]byte, 4)}
	require.ErrorIs(t, d.IO(op), serr.ErrIoNoMap)
}

func TestSubmitMapperUpdateAppliesThroughWorkerQueue(t *testing.T) {
	target := mapper.New(mapper.Passthrough)
	w := worker.New(4)
	// Drain the queue manually instead of running the full worker loop,
	// mirroring how mpu.go's apply() posts a Callback event without
	// waiting, then a worker drains it on its next pass.
	require.NoError(t, device.SubmitMapperUpdate(w, target, mapper.Block, nil, true, false))

	ev := w.Queue.WaitOne()
	require.NotNil(t, ev)
	require.True(t, ev.Flags&event.Callback != 0)
	require.NoError(t, ev.Callback(ev))
}

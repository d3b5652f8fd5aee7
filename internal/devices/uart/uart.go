// Package uart implements the console UART device: a single-byte transmit
// register plus a status register, line-buffered and flushed to an
// io.Writer on newline or overflow. Grounded on the teacher's rv64/uart.go
// byte-shuttling register pair, generalized so the sink is an injected
// io.Writer (the CLI's --serial= routing, per SPEC_FULL.md §6) instead of a
// hardcoded os.Stdout.
package uart

import (
	"bytes"
	"io"
	"sync"

	"github.com/shacron/sled/internal/device"
	"github.com/shacron/sled/internal/devices/regio"
	"github.com/shacron/sled/internal/ioop"
)

// Register offsets.
const (
	RegData   = 0x00 // write: transmit one byte; read: next received byte or 0
	RegStatus = 0x04 // bit0: tx ready (always 1), bit1: rx data available
	Aperture  = 0x08
)

const (
	statusTxReady = 1 << 0
	statusRxReady = 1 << 1
)

type state struct {
	mu  sync.Mutex
	out io.Writer
	buf bytes.Buffer

	rx []byte
}

// New returns a UART device that writes transmitted bytes to out, flushing
// its line buffer on '\n' or once it holds 4096 bytes. A nil out discards
// output.
func New(name string, out io.Writer) *device.Device {
	if out == nil {
		out = io.Discard
	}
	d := device.NewLeaf(name, Aperture, device.Ops{Read: read, Write: write})
	d.Context = &state{out: out}
	return d
}

// Feed appends bytes the host side has received for the guest to read back
// through RegData.
func Feed(dev *device.Device, data []byte) {
	st := dev.Context.(*state)
	st.mu.Lock()
	st.rx = append(st.rx, data...)
	st.mu.Unlock()
}

func read(d *device.Device, offset uint64, op *ioop.Op) error {
	st := d.Context.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()

	var v uint64
	switch offset {
	case RegData:
		if len(st.rx) > 0 {
			v = uint64(st.rx[0])
			st.rx = st.rx[1:]
		}
	case RegStatus:
		v = statusTxReady
		if len(st.rx) > 0 {
			v |= statusRxReady
		}
	}
	return regio.Load(op, v)
}

func write(d *device.Device, offset uint64, op *ioop.Op) error {
	v, err := regio.Store(op)
	if err != nil {
		return err
	}
	if offset != RegData {
		return nil
	}
	st := d.Context.(*state)
	st.mu.Lock()
	defer st.mu.Unlock()

	b := byte(v)
	st.buf.WriteByte(b)
	if b == '\n' || st.buf.Len() >= 4096 {
		st.out.Write(st.buf.Bytes())
		st.buf.Reset()
	}
	return nil
}

// Package regio provides the little-endian register-access helpers every
// concrete device in internal/devices shares, so each device's Read/Write
// hook only deals in uint64 register values instead of raw ioop.Op buffers
// (grounded on rv64's devices, which each hand-roll the same Buf<->uint64
// conversion inline; this is the single shared spot for it).
package regio

import (
	"encoding/binary"

	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/serr"
)

// Load encodes the register value v into op's In/Resolve payload at op.Size
// width.
func Load(op *ioop.Op, v uint64) error {
	n := int(op.Size)
	if len(op.Buf) < n {
		return serr.ErrIoCount
	}
	switch n {
	case 1:
		op.Buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(op.Buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(op.Buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(op.Buf, v)
	default:
		return serr.ErrIoSize
	}
	return nil
}

// Store decodes op's Out payload into a register value.
func Store(op *ioop.Op) (uint64, error) {
	n := int(op.Size)
	if len(op.Buf) < n {
		return 0, serr.ErrIoCount
	}
	switch n {
	case 1:
		return uint64(op.Buf[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(op.Buf)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(op.Buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(op.Buf), nil
	default:
		return 0, serr.ErrIoSize
	}
}

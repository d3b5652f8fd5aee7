// Package memregion implements the memory region component (spec §3, §4.3):
// a contiguous, owned byte buffer exposing a mapper.Endpoint for reads,
// writes, zero-copy resolves, and atomic read-modify-writes. The In/Out/
// Resolve shape is grounded on rv64.MemoryRegion; atomics generalize
// rv64/atomic.go's AMO switch to an endpoint-level primitive so the RISC-V
// core stays architecture-only and never touches raw bytes directly.
package memregion

import (
	"encoding/binary"
	"sync"

	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/serr"
)

// Region owns a fixed-size byte buffer for its entire lifetime.
type Region struct {
	mu   sync.Mutex
	Base uint64
	data []byte
}

// New allocates a zero-filled region of the given length.
func New(base uint64, length uint64) *Region {
	return &Region{Base: base, data: make([]byte, length)}
}

// NewFromBytes wraps an existing buffer (e.g. a loaded guest image) as a
// region without copying.
func NewFromBytes(base uint64, data []byte) *Region {
	return &Region{Base: base, data: data}
}

// Len returns the region's length in bytes.
func (r *Region) Len() uint64 { return uint64(len(r.data)) }

// Bytes returns the backing slice; callers must not retain it past the
// region's lifetime.
func (r *Region) Bytes() []byte { return r.data }

// IO implements mapper.Endpoint.
func (r *Region) IO(op *ioop.Op) error {
	if err := op.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case op.Op == ioop.In:
		return r.readLocked(op)
	case op.Op == ioop.Out:
		return r.writeLocked(op)
	case op.Op == ioop.Resolve:
		return r.resolveLocked(op)
	case op.Op.IsAtomic():
		return r.atomicLocked(op)
	default:
		return serr.ErrIoInvalid
	}
}

func (r *Region) boundsOK(addr uint64, n uint64) bool {
	return addr+n <= uint64(len(r.data)) && addr <= uint64(len(r.data))
}

func (r *Region) readLocked(op *ioop.Op) error {
	n := op.Bytes()
	if !r.boundsOK(op.Addr, n) {
		return serr.ErrMem
	}
	copy(op.Buf[:n], r.data[op.Addr:op.Addr+n])
	return nil
}

func (r *Region) writeLocked(op *ioop.Op) error {
	n := op.Bytes()
	if !r.boundsOK(op.Addr, n) {
		return serr.ErrMem
	}
	copy(r.data[op.Addr:op.Addr+n], op.Buf[:n])
	return nil
}

func (r *Region) resolveLocked(op *ioop.Op) error {
	if !r.boundsOK(op.Addr, 0) {
		return serr.ErrMem
	}
	op.ResolveBuf = r.data[op.Addr:]
	return nil
}

func (r *Region) atomicLocked(op *ioop.Op) error {
	n := uint64(op.Size)
	if !r.boundsOK(op.Addr, n) {
		return serr.ErrMem
	}
	buf := r.data[op.Addr : op.Addr+n]

	old := loadLE(buf)
	arg := op.Arg[0]

	var next uint64
	switch op.Op {
	case ioop.AtomicSwap:
		next = arg
	case ioop.AtomicCas:
		if old != arg {
			op.Arg[0] = old
			return nil
		}
		next = op.Arg[1]
	case ioop.AtomicAdd:
		next = old + arg
	case ioop.AtomicSub:
		next = old - arg
	case ioop.AtomicAnd:
		next = old & arg
	case ioop.AtomicOr:
		next = old | arg
	case ioop.AtomicXor:
		next = old ^ arg
	case ioop.AtomicSMax:
		next = maxSigned(old, arg, op.Size)
	case ioop.AtomicSMin:
		next = minSigned(old, arg, op.Size)
	case ioop.AtomicUMax:
		next = maxUnsigned(old, arg, op.Size)
	case ioop.AtomicUMin:
		next = minUnsigned(old, arg, op.Size)
	default:
		return serr.ErrIoInvalid
	}

	storeLE(buf, next)
	op.Arg[0] = old
	return nil
}

func loadLE(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		return binary.LittleEndian.Uint64(b[:8])
	}
}

func storeLE(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		binary.LittleEndian.PutUint64(b[:8], v)
	}
}

func signExtend(v uint64, size uint8) int64 {
	bits := uint(size) * 8
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func maxSigned(a, b uint64, size uint8) uint64 {
	if signExtend(a, size) > signExtend(b, size) {
		return a
	}
	return b
}

func minSigned(a, b uint64, size uint8) uint64 {
	if signExtend(a, size) < signExtend(b, size) {
		return a
	}
	return b
}

func maxUnsigned(a, b uint64, size uint8) uint64 {
	mask := mask64(size)
	if a&mask > b&mask {
		return a
	}
	return b
}

func minUnsigned(a, b uint64, size uint8) uint64 {
	mask := mask64(size)
	if a&mask < b&mask {
		return a
	}
	return b
}

func mask64(size uint8) uint64 {
	bits := uint(size) * 8
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << bits) - 1
}

package riscv

import (
	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/serr"
)

func undef(insn uint32) error { return serr.NewException(serr.CauseUndefined, uint64(insn)) }

func (c *Core) execLui(insn uint32) error {
	c.WriteReg(rd(insn), uint64(immU(insn)))
	return nil
}

func (c *Core) execAuipc(insn uint32) error {
	c.WriteReg(rd(insn), uint64(int64(c.PC)+immU(insn)))
	return nil
}

func (c *Core) execJal(insn uint32) error {
	target := uint64(int64(c.PC) + immJ(insn))
	c.WriteReg(rd(insn), c.PC+uint64(c.pendingLen))
	c.PC = target
	c.BranchTaken = true
	return nil
}

func (c *Core) execJalr(insn uint32) error {
	target := (uint64(int64(c.ReadReg(rs1(insn))) + immI(insn))) &^ 1
	c.WriteReg(rd(insn), c.PC+uint64(c.pendingLen))
	c.PC = target
	c.BranchTaken = true
	return nil
}

func (c *Core) execBranch(insn uint32) error {
	r1, r2 := c.ReadReg(rs1(insn)), c.ReadReg(rs2(insn))
	var taken bool
	switch funct3(insn) {
	case 0b000:
		taken = r1 == r2
	case 0b001:
		taken = r1 != r2
	case 0b100:
		taken = int64(r1) < int64(r2)
	case 0b101:
		taken = int64(r1) >= int64(r2)
	case 0b110:
		taken = r1 < r2
	case 0b111:
		taken = r1 >= r2
	default:
		return undef(insn)
	}
	if taken {
		c.PC = uint64(int64(c.PC) + immB(insn))
		c.BranchTaken = true
	}
	return nil
}

func (c *Core) execLoad(insn uint32) error {
	addr := uint64(int64(c.ReadReg(rs1(insn))) + immI(insn))
	f3 := funct3(insn)

	var size uint8
	var signed bool
	switch f3 {
	case 0b000:
		size, signed = 1, true
	case 0b001:
		size, signed = 2, true
	case 0b010:
		size, signed = 4, true
	case 0b011:
		size, signed = 8, false
	case 0b100:
		size, signed = 1, false
	case 0b101:
		size, signed = 2, false
	case 0b110:
		size, signed = 4, false
	default:
		return undef(insn)
	}
	if size == 8 && c.XLen == XLen32 {
		return undef(insn)
	}

	v, err := c.ioRead(addr, size)
	if err != nil {
		return serr.NewException(serr.CauseAbortLoad, addr)
	}
	if signed {
		v = uint64(signExtend(v, int(size)*8))
	}
	c.WriteReg(rd(insn), v)
	return nil
}

func (c *Core) execStore(insn uint32) error {
	addr := uint64(int64(c.ReadReg(rs1(insn))) + immS(insn))
	val := c.ReadReg(rs2(insn))
	var size uint8
	switch funct3(insn) {
	case 0b000:
		size = 1
	case 0b001:
		size = 2
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		return undef(insn)
	}
	if size == 8 && c.XLen == XLen32 {
		return undef(insn)
	}
	if err := c.ioWrite(addr, size, val); err != nil {
		return serr.NewException(serr.CauseAbortStore, addr)
	}
	return nil
}

func (c *Core) execOpImm(insn uint32) error {
	r1 := c.ReadReg(rs1(insn))
	imm := immI(insn)
	sh := shamt(insn)
	if c.XLen == XLen32 {
		sh &= 0x1f
	}

	var val uint64
	switch funct3(insn) {
	case 0b000:
		val = uint64(int64(r1) + imm)
	case 0b001:
		val = r1 << sh
	case 0b010:
		if int64(r1) < imm {
			val = 1
		}
	case 0b011:
		if r1 < uint64(imm) {
			val = 1
		}
	case 0b100:
		val = r1 ^ uint64(imm)
	case 0b101:
		if (insn>>30)&1 == 1 {
			val = uint64(int64(r1) >> sh)
		} else {
			val = r1 >> sh
		}
	case 0b110:
		val = r1 | uint64(imm)
	case 0b111:
		val = r1 & uint64(imm)
	default:
		return undef(insn)
	}
	c.WriteReg(rd(insn), val)
	return nil
}

func (c *Core) execOpImm32(insn uint32) error {
	if c.XLen != XLen64 {
		return undef(insn)
	}
	r1 := uint32(c.ReadReg(rs1(insn)))
	imm := int32(immI(insn))
	sh := shamt32(insn)

	var val int32
	switch funct3(insn) {
	case 0b000:
		val = int32(r1) + imm
	case 0b001:
		val = int32(r1 << sh)
	case 0b101:
		if (insn>>30)&1 == 1 {
			val = int32(r1) >> sh
		} else {
			val = int32(r1 >> sh)
		}
	default:
		return undef(insn)
	}
	c.WriteReg(rd(insn), uint64(val))
	return nil
}

func (c *Core) execOp(insn uint32) error {
	r1, r2 := c.ReadReg(rs1(insn)), c.ReadReg(rs2(insn))
	f7 := funct7(insn)
	if f7 == 0b0000001 {
		if c.Ext&ExtM == 0 {
			return undef(insn)
		}
		return c.execOpM(insn, r1, r2, funct3(insn))
	}

	var val uint64
	shamtMask := uint64(0x3f)
	if c.XLen == XLen32 {
		shamtMask = 0x1f
	}
	switch funct3(insn) {
	case 0b000:
		if f7 == 0b0100000 {
			val = uint64(int64(r1) - int64(r2))
		} else {
			val = uint64(int64(r1) + int64(r2))
		}
	case 0b001:
		val = r1 << (r2 & shamtMask)
	case 0b010:
		if int64(r1) < int64(r2) {
			val = 1
		}
	case 0b011:
		if r1 < r2 {
			val = 1
		}
	case 0b100:
		val = r1 ^ r2
	case 0b101:
		if f7 == 0b0100000 {
			val = uint64(int64(r1) >> (r2 & shamtMask))
		} else {
			val = r1 >> (r2 & shamtMask)
		}
	case 0b110:
		val = r1 | r2
	case 0b111:
		val = r1 & r2
	default:
		return undef(insn)
	}
	c.WriteReg(rd(insn), val)
	return nil
}

func (c *Core) execOpM(insn uint32, r1, r2 uint64, f3 uint32) error {
	var val uint64
	switch f3 {
	case 0b000:
		val = uint64(int64(r1) * int64(r2))
	case 0b001:
		hi, _ := mulh64(int64(r1), int64(r2))
		val = uint64(hi)
	case 0b010:
		hi, _ := mulhsu64(int64(r1), r2)
		val = uint64(hi)
	case 0b011:
		hi, _ := mulhu64(r1, r2)
		val = hi
	case 0b100:
		if r2 == 0 {
			val = ^uint64(0)
		} else if r1 == uint64(1)<<63 && r2 == ^uint64(0) {
			val = r1
		} else {
			val = uint64(int64(r1) / int64(r2))
		}
	case 0b101:
		if r2 == 0 {
			val = ^uint64(0)
		} else {
			val = r1 / r2
		}
	case 0b110:
		if r2 == 0 {
			val = r1
		} else if r1 == uint64(1)<<63 && r2 == ^uint64(0) {
			val = 0
		} else {
			val = uint64(int64(r1) % int64(r2))
		}
	case 0b111:
		if r2 == 0 {
			val = r1
		} else {
			val = r1 % r2
		}
	default:
		return undef(insn)
	}
	c.WriteReg(rd(insn), val)
	return nil
}

func (c *Core) execOp32(insn uint32) error {
	if c.XLen != XLen64 {
		return undef(insn)
	}
	r1, r2 := uint32(c.ReadReg(rs1(insn))), uint32(c.ReadReg(rs2(insn)))
	f7 := funct7(insn)
	if f7 == 0b0000001 {
		if c.Ext&ExtM == 0 {
			return undef(insn)
		}
		return c.execOp32M(insn, r1, r2, funct3(insn))
	}

	var val int32
	switch funct3(insn) {
	case 0b000:
		if f7 == 0b0100000 {
			val = int32(r1) - int32(r2)
		} else {
			val = int32(r1) + int32(r2)
		}
	case 0b001:
		val = int32(r1 << (r2 & 0x1f))
	case 0b101:
		if f7 == 0b0100000 {
			val = int32(r1) >> (r2 & 0x1f)
		} else {
			val = int32(r1 >> (r2 & 0x1f))
		}
	default:
		return undef(insn)
	}
	c.WriteReg(rd(insn), uint64(val))
	return nil
}

func (c *Core) execOp32M(insn uint32, r1, r2 uint32, f3 uint32) error {
	var val int32
	switch f3 {
	case 0b000:
		val = int32(r1) * int32(r2)
	case 0b100:
		if r2 == 0 {
			val = -1
		} else if r1 == uint32(1)<<31 && r2 == ^uint32(0) {
			val = int32(r1)
		} else {
			val = int32(r1) / int32(r2)
		}
	case 0b101:
		if r2 == 0 {
			val = -1
		} else {
			val = int32(r1 / r2)
		}
	case 0b110:
		if r2 == 0 {
			val = int32(r1)
		} else if r1 == uint32(1)<<31 && r2 == ^uint32(0) {
			val = 0
		} else {
			val = int32(r1) % int32(r2)
		}
	case 0b111:
		if r2 == 0 {
			val = int32(r1)
		} else {
			val = int32(r1 % r2)
		}
	default:
		return undef(insn)
	}
	c.WriteReg(rd(insn), uint64(val))
	return nil
}

// execMiscMem handles FENCE/FENCE.I. Both are no-ops: a core only ever runs
// on the single goroutine stepping its worker, so there is no other agent
// on this hart for a fence to order against; cross-hart visibility is
// provided by the mutexes memregion/device already take on every IO.
func (c *Core) execMiscMem(insn uint32) error {
	switch funct3(insn) {
	case 0b000, 0b001:
		return nil
	default:
		return undef(insn)
	}
}

func (c *Core) execAMO(insn uint32) error {
	if c.Ext&ExtA == 0 {
		return undef(insn)
	}
	addr := c.ReadReg(rs1(insn))
	width := (funct3(insn) & 0x3)
	var size uint8
	switch width {
	case 0b010:
		size = 4
	case 0b011:
		size = 8
	default:
		return undef(insn)
	}
	if size == 8 && c.XLen == XLen32 {
		return undef(insn)
	}

	op := funct7(insn) >> 2
	rdReg := rd(insn)
	rs1Val := addr

	switch op {
	case 0b00010: // LR
		v, err := c.ioRead(rs1Val, size)
		if err != nil {
			return serr.NewException(serr.CauseAbortLoad, rs1Val)
		}
		c.Monitor = Monitor{Addr: rs1Val, Width: size, Armed: true}
		c.WriteReg(rdReg, uint64(signExtend(v, int(size)*8)))
		return nil

	case 0b00011: // SC
		if !c.Monitor.Armed || c.Monitor.Addr != rs1Val || c.Monitor.Width != size {
			c.Monitor.Armed = false
			c.WriteReg(rdReg, 1) // failure
			return nil
		}
		c.Monitor.Armed = false
		if err := c.ioWrite(rs1Val, size, c.ReadReg(rs2(insn))); err != nil {
			return serr.NewException(serr.CauseAbortStore, rs1Val)
		}
		c.WriteReg(rdReg, 0) // success
		return nil
	}

	c.Monitor.Armed = false

	var kind ioop.Kind
	switch op {
	case 0b00001:
		kind = ioop.AtomicSwap
	case 0b00000:
		kind = ioop.AtomicAdd
	case 0b00100:
		kind = ioop.AtomicXor
	case 0b01100:
		kind = ioop.AtomicAnd
	case 0b01000:
		kind = ioop.AtomicOr
	case 0b10000:
		kind = ioop.AtomicSMin
	case 0b10100:
		kind = ioop.AtomicSMax
	case 0b11000:
		kind = ioop.AtomicUMin
	case 0b11100:
		kind = ioop.AtomicUMax
	default:
		return undef(insn)
	}

	arg := c.ReadReg(rs2(insn))
	old, err := c.ioAtomic(rs1Val, size, kind, arg, 0)
	if err != nil {
		return serr.NewException(serr.CauseAbortStore, rs1Val)
	}
	c.WriteReg(rdReg, uint64(signExtend(old, int(size)*8)))
	return nil
}

func mulhu64(a, b uint64) (uint64, uint64) {
	const mask32 = 0xFFFFFFFF
	a0, a1 := a&mask32, a>>32
	b0, b1 := b&mask32, b>>32
	p0 := a0 * b0
	p1 := a0 * b1
	p2 := a1 * b0
	p3 := a1 * b1
	carry := ((p0 >> 32) + (p1 & mask32) + (p2 & mask32)) >> 32
	hi := p3 + (p1 >> 32) + (p2 >> 32) + carry
	lo := a * b
	return hi, lo
}

func mulh64(a, b int64) (int64, uint64) {
	negResult := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	hi, lo := mulhu64(ua, ub)
	if negResult {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

func mulhsu64(a int64, b uint64) (int64, uint64) {
	negResult := a < 0
	ua := uint64(a)
	if a < 0 {
		ua = uint64(-a)
	}
	hi, lo := mulhu64(ua, b)
	if negResult {
		lo = ^lo + 1
		hi = ^hi
		if lo == 0 {
			hi++
		}
	}
	return int64(hi), lo
}

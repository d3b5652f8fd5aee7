// Floating point: F/D subset, grounded on rv64/float.go near verbatim, with
// loads/stores routed through ioRead/ioWrite instead of a direct bus
// interface and every entry point gated on the core's parsed F/D extension
// bits (spec §4.1 "a parsed ISA-extension bitfield gates the optional
// decode paths").
package riscv

import "math"

func f32ToU64(f float32) uint64 {
	return 0xffffffff00000000 | uint64(math.Float32bits(f))
}

func u64ToF32(val uint64) float32 {
	if val>>32 != 0xffffffff {
		return float32(math.NaN())
	}
	return math.Float32frombits(uint32(val))
}

func f64ToU64(f float64) uint64 { return math.Float64bits(f) }
func u64ToF64(val uint64) float64 { return math.Float64frombits(val) }

func (c *Core) setFS(state uint64) {
	c.Mstatus = (c.Mstatus &^ mstatusFS) | (state << 13)
	if state == 3 {
		c.Mstatus |= mstatusSD
	}
}

func (c *Core) execLoadFP(insn uint32) error {
	if c.Ext&ExtF == 0 {
		return undef(insn)
	}
	addr := uint64(int64(c.ReadReg(rs1(insn))) + immI(insn))
	rdReg := rd(insn)

	switch funct3(insn) {
	case 0b010: // FLW
		v, err := c.ioRead(addr, 4)
		if err != nil {
			return exceptionLoad(addr)
		}
		c.F[rdReg] = f32ToU64(math.Float32frombits(uint32(v)))
	case 0b011: // FLD
		if c.Ext&ExtD == 0 {
			return undef(insn)
		}
		v, err := c.ioRead(addr, 8)
		if err != nil {
			return exceptionLoad(addr)
		}
		c.F[rdReg] = v
	default:
		return undef(insn)
	}
	c.setFS(3)
	return nil
}

func (c *Core) execStoreFP(insn uint32) error {
	if c.Ext&ExtF == 0 {
		return undef(insn)
	}
	addr := uint64(int64(c.ReadReg(rs1(insn))) + immS(insn))
	rs2Reg := rs2(insn)

	switch funct3(insn) {
	case 0b010: // FSW
		if err := c.ioWrite(addr, 4, uint64(uint32(c.F[rs2Reg]))); err != nil {
			return exceptionStore(addr)
		}
	case 0b011: // FSD
		if c.Ext&ExtD == 0 {
			return undef(insn)
		}
		if err := c.ioWrite(addr, 8, c.F[rs2Reg]); err != nil {
			return exceptionStore(addr)
		}
	default:
		return undef(insn)
	}
	return nil
}

func (c *Core) execOpFP(insn uint32) error {
	if c.Ext&ExtF == 0 {
		return undef(insn)
	}
	f7 := funct7(insn)
	f3 := funct3(insn)
	rdReg, rs1Reg, rs2Reg := rd(insn), rs1(insn), rs2(insn)
	isDouble := f7&1 == 1
	if isDouble && c.Ext&ExtD == 0 {
		return undef(insn)
	}

	switch f7 >> 2 {
	case 0b00000: // FADD
		c.storeF(rdReg, isDouble, c.fbinop(isDouble, rs1Reg, rs2Reg, func(a, b float64) float64 { return a + b }))
	case 0b00001: // FSUB
		c.storeF(rdReg, isDouble, c.fbinop(isDouble, rs1Reg, rs2Reg, func(a, b float64) float64 { return a - b }))
	case 0b00010: // FMUL
		c.storeF(rdReg, isDouble, c.fbinop(isDouble, rs1Reg, rs2Reg, func(a, b float64) float64 { return a * b }))
	case 0b00011: // FDIV
		c.storeF(rdReg, isDouble, c.fbinop(isDouble, rs1Reg, rs2Reg, func(a, b float64) float64 { return a / b }))
	case 0b01011: // FSQRT
		c.storeF(rdReg, isDouble, c.fbinop(isDouble, rs1Reg, rs1Reg, func(a, _ float64) float64 { return math.Sqrt(a) }))

	case 0b00100: // FSGNJ/FSGNJN/FSGNJX
		if err := c.execFSGNJ(insn, isDouble, f3, rdReg, rs1Reg, rs2Reg); err != nil {
			return err
		}
	case 0b00101: // FMIN/FMAX
		fn := math.Min
		if f3 != 0b000 {
			fn = math.Max
		}
		c.storeF(rdReg, isDouble, c.fbinop(isDouble, rs1Reg, rs2Reg, fn))

	case 0b10100: // FEQ/FLT/FLE
		a, b := c.fval(isDouble, rs1Reg), c.fval(isDouble, rs2Reg)
		var result uint64
		switch f3 {
		case 0b010:
			if a == b {
				result = 1
			}
		case 0b001:
			if a < b {
				result = 1
			}
		case 0b000:
			if a <= b {
				result = 1
			}
		default:
			return undef(insn)
		}
		c.WriteReg(rdReg, result)
		return nil

	case 0b11000: // FCVT.W/WU/L/LU.S/D
		a := c.fval(isDouble, rs1Reg)
		var result int64
		switch rs2Reg {
		case 0b00000:
			result = int64(int32(a))
		case 0b00001:
			result = int64(int32(uint32(a)))
		case 0b00010:
			result = int64(a)
		case 0b00011:
			result = int64(uint64(a))
		default:
			return undef(insn)
		}
		c.WriteReg(rdReg, uint64(result))
		return nil

	case 0b11010: // FCVT.S/D.W/WU/L/LU
		var result float64
		switch rs2Reg {
		case 0b00000:
			result = float64(int32(c.ReadReg(rs1Reg)))
		case 0b00001:
			result = float64(uint32(c.ReadReg(rs1Reg)))
		case 0b00010:
			result = float64(int64(c.ReadReg(rs1Reg)))
		case 0b00011:
			result = float64(c.ReadReg(rs1Reg))
		default:
			return undef(insn)
		}
		c.storeF(rdReg, isDouble, result)
		return nil

	case 0b11100: // FMV.X.W/D, FCLASS
		switch f3 {
		case 0b000:
			if isDouble {
				c.WriteReg(rdReg, c.F[rs1Reg])
			} else {
				c.WriteReg(rdReg, uint64(int32(c.F[rs1Reg])))
			}
		case 0b001:
			if isDouble {
				c.WriteReg(rdReg, classifyF64(u64ToF64(c.F[rs1Reg])))
			} else {
				c.WriteReg(rdReg, classifyF32(u64ToF32(c.F[rs1Reg])))
			}
		default:
			return undef(insn)
		}
		return nil

	case 0b11110: // FMV.W/D.X
		if isDouble {
			c.F[rdReg] = c.ReadReg(rs1Reg)
		} else {
			c.F[rdReg] = f32ToU64(math.Float32frombits(uint32(c.ReadReg(rs1Reg))))
		}
		c.setFS(3)
		return nil

	case 0b01000: // FCVT.S.D / FCVT.D.S
		if isDouble {
			c.F[rdReg] = f64ToU64(float64(u64ToF32(c.F[rs1Reg])))
		} else {
			c.F[rdReg] = f32ToU64(float32(u64ToF64(c.F[rs1Reg])))
		}
		c.setFS(3)
		return nil

	default:
		return undef(insn)
	}
	c.setFS(3)
	return nil
}

func (c *Core) fval(isDouble bool, reg uint32) float64 {
	if isDouble {
		return u64ToF64(c.F[reg])
	}
	return float64(u64ToF32(c.F[reg]))
}

func (c *Core) fbinop(isDouble bool, r1, r2 uint32, fn func(a, b float64) float64) float64 {
	return fn(c.fval(isDouble, r1), c.fval(isDouble, r2))
}

func (c *Core) storeF(rdReg uint32, isDouble bool, v float64) {
	if isDouble {
		c.F[rdReg] = f64ToU64(v)
	} else {
		c.F[rdReg] = f32ToU64(float32(v))
	}
}

func (c *Core) execFSGNJ(insn uint32, isDouble bool, f3 uint32, rdReg, rs1Reg, rs2Reg uint32) error {
	if isDouble {
		a, b := c.F[rs1Reg], c.F[rs2Reg]
		signA, signB := a&(1<<63), b&(1<<63)
		switch f3 {
		case 0b000:
			c.F[rdReg] = (a &^ (1 << 63)) | signB
		case 0b001:
			c.F[rdReg] = (a &^ (1 << 63)) | (^signB & (1 << 63))
		case 0b010:
			c.F[rdReg] = (a &^ (1 << 63)) | (signA ^ signB)
		default:
			return undef(insn)
		}
		return nil
	}
	a, b := uint32(c.F[rs1Reg]), uint32(c.F[rs2Reg])
	signA, signB := a&(1<<31), b&(1<<31)
	var result uint32
	switch f3 {
	case 0b000:
		result = (a &^ (1 << 31)) | signB
	case 0b001:
		result = (a &^ (1 << 31)) | (^signB & (1 << 31))
	case 0b010:
		result = (a &^ (1 << 31)) | (signA ^ signB)
	default:
		return undef(insn)
	}
	c.F[rdReg] = f32ToU64(math.Float32frombits(result))
	return nil
}

func (c *Core) execFMA(insn uint32, op uint32) error {
	if c.Ext&ExtF == 0 {
		return undef(insn)
	}
	rdReg, rs1Reg, rs2Reg, rs3Reg := rd(insn), rs1(insn), rs2(insn), rs3(insn)
	isDouble := funct2(insn)&1 == 1
	if isDouble && c.Ext&ExtD == 0 {
		return undef(insn)
	}

	a, b, cc := c.fval(isDouble, rs1Reg), c.fval(isDouble, rs2Reg), c.fval(isDouble, rs3Reg)
	var result float64
	switch op {
	case opMadd:
		result = a*b + cc
	case opMsub:
		result = a*b - cc
	case opNmsub:
		result = -(a * b) + cc
	case opNmadd:
		result = -(a * b) - cc
	default:
		return undef(insn)
	}
	c.storeF(rdReg, isDouble, result)
	c.setFS(3)
	return nil
}

func classifyF32(f float32) uint64 {
	bits := math.Float32bits(f)
	sign, exp, frac := bits>>31, (bits>>23)&0xff, bits&0x7fffff
	switch {
	case exp == 0xff && frac != 0:
		if frac&(1<<22) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == 0xff:
		if sign != 0 {
			return 1 << 0
		}
		return 1 << 7
	case exp == 0 && frac == 0:
		if sign != 0 {
			return 1 << 3
		}
		return 1 << 4
	case exp == 0:
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	default:
		if sign != 0 {
			return 1 << 1
		}
		return 1 << 6
	}
}

func classifyF64(f float64) uint64 {
	bits := math.Float64bits(f)
	sign, exp, frac := bits>>63, (bits>>52)&0x7ff, bits&0xfffffffffffff
	switch {
	case exp == 0x7ff && frac != 0:
		if frac&(1<<51) != 0 {
			return 1 << 9
		}
		return 1 << 8
	case exp == 0x7ff:
		if sign != 0 {
			return 1 << 0
		}
		return 1 << 7
	case exp == 0 && frac == 0:
		if sign != 0 {
			return 1 << 3
		}
		return 1 << 4
	case exp == 0:
		if sign != 0 {
			return 1 << 2
		}
		return 1 << 5
	default:
		if sign != 0 {
			return 1 << 1
		}
		return 1 << 6
	}
}

// 16-bit compressed-instruction expansion, grounded on rv64/compressed.go:
// each compressed form expands to its native-width equivalent, which then
// runs through the ordinary execute dispatch. Only reachable when the
// core's ExtC bit is set (checked in Core.fetch). The width-8 load/store
// slots (C.LD/C.SD/C.LDSP/C.SDSP and their *SP siblings) are RV64-only per
// the base ISA; on an RV32 core the same encoding slots instead decode the
// FLW/FSW *SP forms, as the standard specifies.
package riscv

import "github.com/shacron/sled/internal/serr"

func cOp(insn uint16) uint16     { return insn & 0x3 }
func cFunct3(insn uint16) uint16 { return (insn >> 13) & 0x7 }

func cRd_(insn uint16) uint32  { return uint32(((insn >> 2) & 0x7) + 8) }
func cRs1_(insn uint16) uint32 { return uint32(((insn >> 7) & 0x7) + 8) }
func cRs2_(insn uint16) uint32 { return uint32(((insn >> 2) & 0x7) + 8) }

func cRd(insn uint16) uint32  { return uint32((insn >> 7) & 0x1f) }
func cRs1(insn uint16) uint32 { return uint32((insn >> 7) & 0x1f) }
func cRs2(insn uint16) uint32 { return uint32((insn >> 2) & 0x1f) }

func cIllegal(insn uint16) (uint32, error) {
	return 0, serr.NewException(serr.CauseUndefined, uint64(insn))
}

func (c *Core) expandCompressed(insn uint16) (uint32, error) {
	switch cOp(insn) {
	case 0b00:
		return c.expandQ0(insn, cFunct3(insn))
	case 0b01:
		return c.expandQ1(insn, cFunct3(insn))
	case 0b10:
		return c.expandQ2(insn, cFunct3(insn))
	default:
		return cIllegal(insn)
	}
}

func (c *Core) expandQ0(insn uint16, f3 uint16) (uint32, error) {
	rv64 := c.XLen == XLen64

	switch f3 {
	case 0b000: // C.ADDI4SPN
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 5) & 0x1) << 3
		imm |= ((uint32(insn) >> 11) & 0x3) << 4
		imm |= ((uint32(insn) >> 7) & 0xf) << 6
		if imm == 0 {
			return cIllegal(insn)
		}
		rdReg := cRd_(insn)
		return (imm << 20) | (2 << 15) | (rdReg << 7) | 0b0010011, nil

	case 0b001: // C.FLD (RV64/RV32 with D)
		imm := ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		rs1Reg, rdReg := cRs1_(insn), cRd_(insn)
		return (imm << 20) | (rs1Reg << 15) | (0b011 << 12) | (rdReg << 7) | 0b0000111, nil

	case 0b010: // C.LW
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x1) << 6
		rs1Reg, rdReg := cRs1_(insn), cRd_(insn)
		return (imm << 20) | (rs1Reg << 15) | (0b010 << 12) | (rdReg << 7) | 0b0000011, nil

	case 0b011: // C.LD (RV64) / C.FLW (RV32)
		rs1Reg, rdReg := cRs1_(insn), cRd_(insn)
		if rv64 {
			imm := ((uint32(insn) >> 10) & 0x7) << 3
			imm |= ((uint32(insn) >> 5) & 0x3) << 6
			return (imm << 20) | (rs1Reg << 15) | (0b011 << 12) | (rdReg << 7) | 0b0000011, nil
		}
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x1) << 6
		return (imm << 20) | (rs1Reg << 15) | (0b010 << 12) | (rdReg << 7) | 0b0000111, nil

	case 0b101: // C.FSD
		imm := ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		rs1Reg, rs2Reg := cRs1_(insn), cRs2_(insn)
		immHi, immLo := (imm>>5)&0x7f, imm&0x1f
		return (immHi << 25) | (rs2Reg << 20) | (rs1Reg << 15) | (0b011 << 12) | (immLo << 7) | 0b0100111, nil

	case 0b110: // C.SW
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x1) << 6
		rs1Reg, rs2Reg := cRs1_(insn), cRs2_(insn)
		immHi, immLo := (imm>>5)&0x7f, imm&0x1f
		return (immHi << 25) | (rs2Reg << 20) | (rs1Reg << 15) | (0b010 << 12) | (immLo << 7) | 0b0100011, nil

	case 0b111: // C.SD (RV64) / C.FSW (RV32)
		rs1Reg, rs2Reg := cRs1_(insn), cRs2_(insn)
		if rv64 {
			imm := ((uint32(insn) >> 10) & 0x7) << 3
			imm |= ((uint32(insn) >> 5) & 0x3) << 6
			immHi, immLo := (imm>>5)&0x7f, imm&0x1f
			return (immHi << 25) | (rs2Reg << 20) | (rs1Reg << 15) | (0b011 << 12) | (immLo << 7) | 0b0100011, nil
		}
		imm := ((uint32(insn) >> 6) & 0x1) << 2
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		imm |= ((uint32(insn) >> 5) & 0x1) << 6
		immHi, immLo := (imm>>5)&0x7f, imm&0x1f
		return (immHi << 25) | (rs2Reg << 20) | (rs1Reg << 15) | (0b010 << 12) | (immLo << 7) | 0b0100111, nil
	}
	return cIllegal(insn)
}

func (c *Core) expandQ1(insn uint16, f3 uint16) (uint32, error) {
	switch f3 {
	case 0b000: // C.NOP / C.ADDI
		rdReg := cRd(insn)
		imm := uint32(insn>>2) & 0x1f
		if (insn>>12)&1 != 0 {
			imm |= 0xffffffe0
		}
		if rdReg == 0 {
			return 0b0010011, nil
		}
		return (imm << 20) | (rdReg << 15) | (rdReg << 7) | 0b0010011, nil

	case 0b001: // C.ADDIW (RV64 only)
		if c.XLen != XLen64 {
			return cIllegal(insn)
		}
		rdReg := cRd(insn)
		if rdReg == 0 {
			return cIllegal(insn)
		}
		imm := uint32(insn>>2) & 0x1f
		if (insn>>12)&1 != 0 {
			imm |= 0xffffffe0
		}
		return (imm << 20) | (rdReg << 15) | (rdReg << 7) | 0b0011011, nil

	case 0b010: // C.LI
		rdReg := cRd(insn)
		imm := uint32(insn>>2) & 0x1f
		if (insn>>12)&1 != 0 {
			imm |= 0xffffffe0
		}
		return (imm << 20) | (rdReg << 7) | 0b0010011, nil

	case 0b011: // C.ADDI16SP / C.LUI
		rdReg := cRd(insn)
		if rdReg == 2 {
			imm := ((uint32(insn) >> 2) & 0x1) << 5
			imm |= ((uint32(insn) >> 3) & 0x3) << 7
			imm |= ((uint32(insn) >> 5) & 0x1) << 6
			imm |= ((uint32(insn) >> 6) & 0x1) << 4
			if (insn>>12)&1 != 0 {
				imm |= 0xfffffe00
			}
			if imm == 0 {
				return cIllegal(insn)
			}
			return (imm << 20) | (2 << 15) | (2 << 7) | 0b0010011, nil
		}
		if rdReg == 0 {
			return cIllegal(insn)
		}
		imm := (uint32(insn>>2) & 0x1f) << 12
		if (insn>>12)&1 != 0 {
			imm |= 0xfffe0000
		}
		if imm == 0 {
			return cIllegal(insn)
		}
		return (imm & 0xfffff000) | (rdReg << 7) | 0b0110111, nil

	case 0b100:
		fn2 := (insn >> 10) & 0x3
		rdReg := cRs1_(insn)
		switch fn2 {
		case 0b00: // C.SRLI
			sh := uint32(insn>>2) & 0x1f
			if (insn>>12)&1 != 0 {
				sh |= 0x20
			}
			return (sh << 20) | (rdReg << 15) | (0b101 << 12) | (rdReg << 7) | 0b0010011, nil
		case 0b01: // C.SRAI
			sh := uint32(insn>>2) & 0x1f
			if (insn>>12)&1 != 0 {
				sh |= 0x20
			}
			return (uint32(0b010000)<<26 | sh<<20) | (rdReg << 15) | (0b101 << 12) | (rdReg << 7) | 0b0010011, nil
		case 0b10: // C.ANDI
			imm := uint32(insn>>2) & 0x1f
			if (insn>>12)&1 != 0 {
				imm |= 0xffffffe0
			}
			return (imm << 20) | (rdReg << 15) | (0b111 << 12) | (rdReg << 7) | 0b0010011, nil
		case 0b11:
			rs2Reg := cRs2_(insn)
			wide := (insn >> 12) & 0x1
			sel := (insn >> 5) & 0x3
			if wide == 0 {
				switch sel {
				case 0b00:
					return (uint32(0b0100000) << 25) | (rs2Reg << 20) | (rdReg << 15) | (rdReg << 7) | 0b0110011, nil
				case 0b01:
					return (rs2Reg << 20) | (rdReg << 15) | (0b100 << 12) | (rdReg << 7) | 0b0110011, nil
				case 0b10:
					return (rs2Reg << 20) | (rdReg << 15) | (0b110 << 12) | (rdReg << 7) | 0b0110011, nil
				case 0b11:
					return (rs2Reg << 20) | (rdReg << 15) | (0b111 << 12) | (rdReg << 7) | 0b0110011, nil
				}
			} else if c.XLen == XLen64 {
				switch sel {
				case 0b00:
					return (uint32(0b0100000) << 25) | (rs2Reg << 20) | (rdReg << 15) | (rdReg << 7) | 0b0111011, nil
				case 0b01:
					return (rs2Reg << 20) | (rdReg << 15) | (rdReg << 7) | 0b0111011, nil
				}
			}
		}
		return cIllegal(insn)

	case 0b101: // C.J
		imm := ((uint32(insn) >> 2) & 0x1) << 5
		imm |= ((uint32(insn) >> 3) & 0x7) << 1
		imm |= ((uint32(insn) >> 6) & 0x1) << 7
		imm |= ((uint32(insn) >> 7) & 0x1) << 6
		imm |= ((uint32(insn) >> 8) & 0x1) << 10
		imm |= ((uint32(insn) >> 9) & 0x3) << 8
		imm |= ((uint32(insn) >> 11) & 0x1) << 4
		if (insn>>12)&1 != 0 {
			imm |= 0xfffff800
		}
		jimm := ((imm >> 12) & 0xff) << 12
		jimm |= ((imm >> 11) & 0x1) << 20
		jimm |= ((imm >> 1) & 0x3ff) << 21
		jimm |= ((imm >> 11) & 0x1) << 31
		return (jimm & 0xfffff000) | 0b1101111, nil

	case 0b110, 0b111: // C.BEQZ / C.BNEZ
		rs1Reg := cRs1_(insn)
		imm := ((uint32(insn) >> 2) & 0x1) << 5
		imm |= ((uint32(insn) >> 3) & 0x3) << 1
		imm |= ((uint32(insn) >> 5) & 0x3) << 6
		imm |= ((uint32(insn) >> 10) & 0x3) << 3
		if (insn>>12)&1 != 0 {
			imm |= 0xffffff00
		}
		bimm := ((imm >> 11) & 0x1) << 31
		bimm |= ((imm >> 5) & 0x3f) << 25
		bimm |= ((imm >> 1) & 0xf) << 8
		bimm |= ((imm >> 11) & 0x1) << 7
		branchF3 := uint32(0b000)
		if f3 == 0b111 {
			branchF3 = 0b001
		}
		return bimm | (rs1Reg << 15) | (branchF3 << 12) | 0b1100011, nil
	}
	return cIllegal(insn)
}

func (c *Core) expandQ2(insn uint16, f3 uint16) (uint32, error) {
	rv64 := c.XLen == XLen64

	switch f3 {
	case 0b000: // C.SLLI
		rdReg := cRd(insn)
		if rdReg == 0 {
			return cIllegal(insn)
		}
		sh := uint32(insn>>2) & 0x1f
		if (insn>>12)&1 != 0 {
			sh |= 0x20
		}
		return (sh << 20) | (rdReg << 15) | (0b001 << 12) | (rdReg << 7) | 0b0010011, nil

	case 0b001: // C.FLDSP
		rdReg := cRd(insn)
		imm := ((uint32(insn) >> 2) & 0x7) << 6
		imm |= ((uint32(insn) >> 5) & 0x3) << 3
		imm |= ((uint32(insn) >> 12) & 0x1) << 5
		return (imm << 20) | (2 << 15) | (0b011 << 12) | (rdReg << 7) | 0b0000111, nil

	case 0b010: // C.LWSP
		rdReg := cRd(insn)
		if rdReg == 0 {
			return cIllegal(insn)
		}
		imm := ((uint32(insn) >> 2) & 0x3) << 6
		imm |= ((uint32(insn) >> 4) & 0x7) << 2
		imm |= ((uint32(insn) >> 12) & 0x1) << 5
		return (imm << 20) | (2 << 15) | (0b010 << 12) | (rdReg << 7) | 0b0000011, nil

	case 0b011: // C.LDSP (RV64) / C.FLWSP (RV32)
		rdReg := cRd(insn)
		if rv64 {
			if rdReg == 0 {
				return cIllegal(insn)
			}
			imm := ((uint32(insn) >> 2) & 0x7) << 6
			imm |= ((uint32(insn) >> 5) & 0x3) << 3
			imm |= ((uint32(insn) >> 12) & 0x1) << 5
			return (imm << 20) | (2 << 15) | (0b011 << 12) | (rdReg << 7) | 0b0000011, nil
		}
		imm := ((uint32(insn) >> 2) & 0x3) << 6
		imm |= ((uint32(insn) >> 4) & 0x7) << 2
		imm |= ((uint32(insn) >> 12) & 0x1) << 5
		return (imm << 20) | (2 << 15) | (0b010 << 12) | (rdReg << 7) | 0b0000111, nil

	case 0b100: // C.JR/C.MV/C.EBREAK/C.JALR/C.ADD
		rs1Reg, rs2Reg := cRs1(insn), cRs2(insn)
		if (insn>>12)&1 == 0 {
			if rs2Reg == 0 {
				if rs1Reg == 0 {
					return cIllegal(insn)
				}
				return (rs1Reg << 15) | 0b1100111, nil
			}
			return (rs2Reg << 20) | (rs1Reg << 7) | 0b0110011, nil
		}
		if rs2Reg == 0 {
			if rs1Reg == 0 {
				return 0x00100073, nil
			}
			return (rs1Reg << 15) | (1 << 7) | 0b1100111, nil
		}
		return (rs2Reg << 20) | (rs1Reg << 15) | (rs1Reg << 7) | 0b0110011, nil

	case 0b101: // C.FSDSP
		rs2Reg := cRs2(insn)
		imm := ((uint32(insn) >> 7) & 0x7) << 6
		imm |= ((uint32(insn) >> 10) & 0x7) << 3
		immHi, immLo := (imm>>5)&0x7f, imm&0x1f
		return (immHi << 25) | (rs2Reg << 20) | (2 << 15) | (0b011 << 12) | (immLo << 7) | 0b0100111, nil

	case 0b110: // C.SWSP
		rs2Reg := cRs2(insn)
		imm := ((uint32(insn) >> 7) & 0x3) << 6
		imm |= ((uint32(insn) >> 9) & 0xf) << 2
		immHi, immLo := (imm>>5)&0x7f, imm&0x1f
		return (immHi << 25) | (rs2Reg << 20) | (2 << 15) | (0b010 << 12) | (immLo << 7) | 0b0100011, nil

	case 0b111: // C.SDSP (RV64) / C.FSWSP (RV32)
		rs2Reg := cRs2(insn)
		if rv64 {
			imm := ((uint32(insn) >> 7) & 0x7) << 6
			imm |= ((uint32(insn) >> 10) & 0x7) << 3
			immHi, immLo := (imm>>5)&0x7f, imm&0x1f
			return (immHi << 25) | (rs2Reg << 20) | (2 << 15) | (0b011 << 12) | (immLo << 7) | 0b0100011, nil
		}
		imm := ((uint32(insn) >> 7) & 0x3) << 6
		imm |= ((uint32(insn) >> 9) & 0xf) << 2
		immHi, immLo := (imm>>5)&0x7f, imm&0x1f
		return (immHi << 25) | (rs2Reg << 20) | (2 << 15) | (0b010 << 12) | (immLo << 7) | 0b0100111, nil
	}
	return cIllegal(insn)
}

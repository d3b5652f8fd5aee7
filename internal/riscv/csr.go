package riscv

import "github.com/shacron/sled/internal/serr"

// CSR addresses, grounded on rv64/cpu.go's CSR* table.
const (
	csrFflags = 0x001
	csrFrm    = 0x002
	csrFcsr   = 0x003
	csrCycle  = 0xC00
	csrTime   = 0xC01
	csrInstret = 0xC02

	csrSstatus    = 0x100
	csrSie        = 0x104
	csrStvec      = 0x105
	csrScounteren = 0x106
	csrSscratch   = 0x140
	csrSepc       = 0x141
	csrScause     = 0x142
	csrStval      = 0x143
	csrSip        = 0x144
	csrSatp       = 0x180

	csrMstatus    = 0x300
	csrMisa       = 0x301
	csrMedeleg    = 0x302
	csrMideleg    = 0x303
	csrMie        = 0x304
	csrMtvec      = 0x305
	csrMcounteren = 0x306
	csrMscratch   = 0x340
	csrMepc       = 0x341
	csrMcause     = 0x342
	csrMtval      = 0x343
	csrMip        = 0x344
	csrMhartid    = 0xF14
)

const (
	mstatusSIE  uint64 = 1 << 1
	mstatusMIE  uint64 = 1 << 3
	mstatusSPIE uint64 = 1 << 5
	mstatusMPIE uint64 = 1 << 7
	mstatusSPP  uint64 = 1 << 8
	mstatusFS   uint64 = 3 << 13
	mstatusSD   uint64 = 1 << 63

	mipSSIP uint64 = 1 << 1
	mipMSIP uint64 = 1 << 3
	mipSTIP uint64 = 1 << 5
	mipMTIP uint64 = 1 << 7
	mipSEIP uint64 = 1 << 9
	mipMEIP uint64 = 1 << 11
)

// execSystem dispatches the SYSTEM opcode: ECALL/EBREAK/xRET/WFI/SFENCE.VMA
// and the CSR*/CSR*I instruction family, grounded on rv64/execute.go's
// execSystem and csr.go's csrRead/csrWrite.
func (c *Core) execSystem(insn uint32) error {
	f3 := funct3(insn)

	if f3 == 0 {
		switch insn {
		case 0x00000073: // ECALL
			return c.handleEcall()
		case 0x00100073: // EBREAK
			return serr.NewException(serr.CauseBreakpoint, c.PC)
		case 0x30200073: // MRET
			return c.execMRET()
		case 0x10200073: // SRET
			return c.execSRET()
		case 0x10500073: // WFI
			c.Engine.EnterWFI()
			return nil
		default:
			if insn>>25 == 0b0001001 { // SFENCE.VMA
				return nil
			}
			return undef(insn)
		}
	}

	csr := uint16(insn >> 20)
	rdReg := rd(insn)
	rs1Reg := rs1(insn)

	rs1Val := c.ReadReg(rs1Reg)
	if f3 >= 5 {
		rs1Val = uint64(rs1Reg) // immediate forms repurpose rs1 as a 5-bit uimm
	}

	old, err := c.csrRead(csr)
	if err != nil {
		return err
	}

	var next uint64
	write := true
	switch f3 & 0x3 {
	case 0b01: // CSRRW/CSRRWI
		next = rs1Val
	case 0b10: // CSRRS/CSRRSI
		next = old | rs1Val
		write = rs1Reg != 0
	case 0b11: // CSRRC/CSRRCI
		next = old &^ rs1Val
		write = rs1Reg != 0
	default:
		return undef(insn)
	}

	if write {
		if err := c.csrWrite(csr, next); err != nil {
			return err
		}
	}
	c.WriteReg(rdReg, old)
	return nil
}

// handleEcall raises the abstract syscall cause; the dispatcher's
// riscvCauseFor resolves it to CAUSE_ECALL_FROM_{U,S,M} using the current
// privilege level at trap-entry time.
func (c *Core) handleEcall() error {
	return serr.NewException(serr.CauseSyscall, 0)
}

func (c *Core) csrRead(csr uint16) (uint64, error) {
	if uint16(c.EL) < (csr>>8)&0x3 {
		return 0, undef(uint32(csr))
	}
	switch csr {
	case csrFflags:
		return uint64(c.Fflags), nil
	case csrFrm:
		return uint64(c.Frm), nil
	case csrFcsr:
		return uint64(c.Fflags) | uint64(c.Frm)<<5, nil
	case csrCycle, csrTime:
		return c.Ticks, nil
	case csrInstret:
		return c.Ticks, nil

	case csrSstatus:
		return c.readSstatus(), nil
	case csrSie:
		return c.Mie & c.Mideleg, nil
	case csrStvec:
		return c.Stvec, nil
	case csrScounteren:
		return c.Scounteren, nil
	case csrSscratch:
		return c.Sscratch, nil
	case csrSepc:
		return c.Sepc, nil
	case csrScause:
		return c.Scause, nil
	case csrStval:
		return c.Stval, nil
	case csrSip:
		return c.Mip & c.Mideleg, nil
	case csrSatp:
		return c.Satp, nil

	case csrMstatus:
		return c.Mstatus, nil
	case csrMisa:
		return c.Misa, nil
	case csrMedeleg:
		return c.Medeleg, nil
	case csrMideleg:
		return c.Mideleg, nil
	case csrMie:
		return c.Mie, nil
	case csrMtvec:
		return c.Mtvec, nil
	case csrMcounteren:
		return c.Mcounteren, nil
	case csrMscratch:
		return c.Mscratch, nil
	case csrMepc:
		return c.Mepc, nil
	case csrMcause:
		return c.Mcause, nil
	case csrMtval:
		return c.Mtval, nil
	case csrMip:
		return c.Mip, nil
	case csrMhartid:
		return c.HartID, nil
	default:
		return 0, nil
	}
}

func (c *Core) csrWrite(csr uint16, val uint64) error {
	if uint16(c.EL) < (csr>>8)&0x3 {
		return undef(uint32(csr))
	}
	if csr>>10 == 0x3 {
		return undef(uint32(csr))
	}

	switch csr {
	case csrFflags:
		c.Fflags = uint8(val & 0x1f)
	case csrFrm:
		c.Frm = uint8(val & 0x7)
	case csrFcsr:
		c.Fflags = uint8(val & 0x1f)
		c.Frm = uint8((val >> 5) & 0x7)

	case csrSstatus:
		c.writeSstatus(val)
		if c.EL == ELSupervisor {
			c.Engine.SetInterruptsEnabled(c.Mstatus&mstatusSIE != 0)
		}
	case csrSie:
		c.Mie = (c.Mie &^ c.Mideleg) | (val & c.Mideleg)
	case csrStvec:
		c.Stvec = val
	case csrScounteren:
		c.Scounteren = val
	case csrSscratch:
		c.Sscratch = val
	case csrSepc:
		c.Sepc = val &^ 1
	case csrScause:
		c.Scause = val
	case csrStval:
		c.Stval = val
	case csrSip:
		c.Mip = (c.Mip &^ mipSSIP) | (val & mipSSIP)
	case csrSatp:
		c.Satp = val

	case csrMstatus:
		c.writeMstatus(val)
		if c.EL == ELMachine {
			c.Engine.SetInterruptsEnabled(c.Mstatus&mstatusMIE != 0)
		}
	case csrMisa:
		// read-only here: extension set is fixed at core construction.
	case csrMedeleg:
		c.Medeleg = val & 0xb3ff
	case csrMideleg:
		c.Mideleg = val & (mipSSIP | mipSTIP | mipSEIP)
	case csrMie:
		c.Mie = val & (mipSSIP | mipMSIP | mipSTIP | mipMTIP | mipSEIP | mipMEIP)
	case csrMtvec:
		c.Mtvec = val
	case csrMcounteren:
		c.Mcounteren = val
	case csrMscratch:
		c.Mscratch = val
	case csrMepc:
		c.Mepc = val &^ 1
	case csrMcause:
		c.Mcause = val
	case csrMtval:
		c.Mtval = val
	case csrMip:
		mask := mipSSIP | mipSTIP | mipSEIP
		c.Mip = (c.Mip &^ mask) | (val & mask)
	}
	return nil
}

const sstatusMask = mstatusSIE | mstatusSPIE | mstatusSPP | mstatusFS | mstatusSD

func (c *Core) readSstatus() uint64 { return c.Mstatus & sstatusMask }

func (c *Core) writeSstatus(val uint64) {
	c.Mstatus = (c.Mstatus &^ sstatusMask) | (val & sstatusMask)
}

func (c *Core) writeMstatus(val uint64) {
	const mask = mstatusSIE | mstatusMIE | mstatusSPIE | mstatusMPIE | mstatusSPP |
		(3 << 11) /* MPP */ | mstatusFS | (1 << 17) /* MPRV */ | (1 << 18) /* SUM */ |
		(1 << 19) /* MXR */ | (1 << 20) /* TVM */ | (1 << 21) /* TW */ | (1 << 22) /* TSR */

	c.Mstatus = (c.Mstatus &^ mask) | (val & mask)
	if c.Mstatus&mstatusFS == mstatusFS {
		c.Mstatus |= mstatusSD
	} else {
		c.Mstatus &^= mstatusSD
	}
}

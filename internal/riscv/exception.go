package riscv

import (
	"errors"

	"github.com/shacron/sled/internal/serr"
)

// RISC-V cause numbers (spec §4.1.4), grounded on rv64/cpu.go's Cause*
// constants.
const (
	causeInsnAddrMisaligned  uint64 = 0
	causeInsnAccessFault     uint64 = 1
	causeIllegalInsn         uint64 = 2
	causeBreakpoint          uint64 = 3
	causeLoadAddrMisaligned  uint64 = 4
	causeLoadAccessFault     uint64 = 5
	causeStoreAddrMisaligned uint64 = 6
	causeStoreAccessFault    uint64 = 7
	causeEcallFromU          uint64 = 8
	causeEcallFromS          uint64 = 9
	causeEcallFromM          uint64 = 11

	interruptBit uint64 = 1 << 63

	causeSSoftwareInt uint64 = interruptBit | 1
	causeMSoftwareInt uint64 = interruptBit | 3
	causeSTimerInt    uint64 = interruptBit | 5
	causeMTimerInt    uint64 = interruptBit | 7
	causeSExternalInt uint64 = interruptBit | 9
	causeMExternalInt uint64 = interruptBit | 11
)

func riscvCauseFor(cause serr.Cause, el EL) uint64 {
	switch cause {
	case serr.CauseSyscall:
		return causeEcallFromU + uint64(el) // U(0)->8, S(1)->9, M(3)->11
	case serr.CauseUndefined:
		return causeIllegalInsn
	case serr.CauseAbortLoad:
		return causeLoadAccessFault
	case serr.CauseAbortLoadAlign:
		return causeLoadAddrMisaligned
	case serr.CauseAbortStore:
		return causeStoreAccessFault
	case serr.CauseAbortStoreAlign:
		return causeStoreAddrMisaligned
	case serr.CauseAbortInst:
		return causeInsnAccessFault
	case serr.CauseAbortInstAlign:
		return causeInsnAddrMisaligned
	case serr.CauseBreakpoint:
		return causeBreakpoint
	default:
		return causeIllegalInsn
	}
}

func trapOptionFor(cause serr.Cause) TrapOption {
	switch cause {
	case serr.CauseUndefined:
		return TrapUndef
	case serr.CauseSyscall:
		return TrapSyscall
	case serr.CauseBreakpoint:
		return TrapBreakpoint
	default:
		return TrapAbort
	}
}

// raiseSync handles a synchronous fault raised during retireOne (spec
// §4.1.4 step 6 "synchronous_exception"). If the core's TrapOption for this
// cause's category is set, the raw error is surfaced to the caller (the
// host-debug passthrough); otherwise it vectors into the guest trap handler
// and execution continues.
func (c *Core) raiseSync(err error) error {
	var exc serr.Exception
	if !errors.As(err, &exc) {
		return err
	}
	if c.Option&trapOptionFor(exc.Cause) != 0 {
		return err
	}
	c.enterException(riscvCauseFor(exc.Cause, c.EL), exc.Tval)
	return nil
}

// enterException and enterInterrupt both implement spec §4.1.4's literal
// entry algorithm, which always traps to Monitor (M-mode): medeleg/mideleg
// are modeled as plain CSR storage but are not consulted, since this core
// supports M-mode plus partial S-mode only (no trap delegation).
func (c *Core) enterException(cause uint64, tval uint64) {
	c.trapEnter(cause, tval)
}

func (c *Core) enterInterrupt(cause uint64) {
	c.trapEnter(cause|interruptBit, 0)
}

func (c *Core) trapEnter(cause uint64, tval uint64) {
	c.Mcause = cause
	c.Mepc = c.PC
	c.Mtval = tval

	mie := (c.Mstatus >> 3) & 1
	c.Mstatus = setBits(c.Mstatus, 7, 1, mie) // MPIE := MIE
	c.Mstatus = setBits(c.Mstatus, 11, 2, uint64(c.EL))
	c.Mstatus = setBits(c.Mstatus, 3, 1, 0) // MIE := 0

	c.EL = ELMachine
	c.Engine.SetInterruptsEnabled(false)

	base := c.Mtvec &^ 0x3
	if c.Mtvec&0x1 != 0 && cause&interruptBit != 0 {
		base += (cause &^ interruptBit) * 4
	}
	c.PC = base
	c.BranchTaken = true
}

// execMRET implements the M-mode exception-return sequence (spec §4.1.4
// "xRET"): restore MIE from MPIE, set MPIE, reset MPP to User, and resume
// at mepc.
func (c *Core) execMRET() error {
	if c.EL != ELMachine {
		return serr.NewException(serr.CauseUndefined, 0)
	}
	mpp := (c.Mstatus >> 11) & 0x3
	mpie := (c.Mstatus >> 7) & 1
	c.Mstatus = setBits(c.Mstatus, 3, 1, mpie)
	c.Mstatus = setBits(c.Mstatus, 7, 1, 1)
	c.Mstatus = setBits(c.Mstatus, 11, 2, 0)
	c.EL = EL(mpp)
	c.PC = c.Mepc
	c.Engine.SetInterruptsEnabled(mpie != 0)
	c.BranchTaken = true
	return nil
}

// execSRET implements the S-mode exception-return sequence. Trapped if the
// core is below Supervisor, or if Supervisor attempts it while mstatus.TSR
// is set (spec's delegation-free model still honors TSR as a pure
// guest-visible trap-SRET bit).
func (c *Core) execSRET() error {
	if c.EL < ELSupervisor {
		return serr.NewException(serr.CauseUndefined, 0)
	}
	const tsrBit = 1 << 22
	if c.EL == ELSupervisor && c.Mstatus&tsrBit != 0 {
		return serr.NewException(serr.CauseUndefined, 0)
	}
	spp := (c.Mstatus >> 8) & 0x1
	spie := (c.Mstatus >> 5) & 0x1
	c.Mstatus = setBits(c.Mstatus, 1, 1, spie)
	c.Mstatus = setBits(c.Mstatus, 5, 1, 1)
	c.Mstatus = setBits(c.Mstatus, 8, 1, 0)
	c.EL = EL(spp)
	c.PC = c.Sepc
	c.Engine.SetInterruptsEnabled(spie != 0)
	c.BranchTaken = true
	return nil
}

func exceptionLoad(addr uint64) error  { return serr.NewException(serr.CauseAbortLoad, addr) }
func exceptionStore(addr uint64) error { return serr.NewException(serr.CauseAbortStore, addr) }

func setBits(v uint64, shift, width uint, bits uint64) uint64 {
	mask := ((uint64(1) << width) - 1) << shift
	return (v &^ mask) | ((bits << shift) & mask)
}

// highestPriorityIRQ picks the interrupt cause to service first among a
// non-zero active mask, following the standard RISC-V priority order
// (spec §4.1.5): external > software > timer, machine over supervisor.
func highestPriorityIRQ(active uint32) uint64 {
	order := []struct {
		bit   uint32
		cause uint64
	}{
		{1 << 11, causeMExternalInt},
		{1 << 3, causeMSoftwareInt},
		{1 << 7, causeMTimerInt},
		{1 << 9, causeSExternalInt},
		{1 << 1, causeSSoftwareInt},
		{1 << 5, causeSTimerInt},
	}
	for _, o := range order {
		if active&o.bit != 0 {
			return o.cause &^ interruptBit
		}
	}
	return causeMExternalInt &^ interruptBit
}

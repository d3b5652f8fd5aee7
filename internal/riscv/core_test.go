package riscv_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shacron/sled/internal/event"
	"github.com/shacron/sled/internal/mapper"
	"github.com/shacron/sled/internal/memregion"
	"github.com/shacron/sled/internal/riscv"
	"github.com/shacron/sled/internal/serr"
)

func newTestCore(t *testing.T, program []byte) (*riscv.Core, *memregion.Region) {
	t.Helper()
	region := memregion.NewFromBytes(0, make([]byte, 0x1000))
	copy(region.Bytes(), program)

	mp := mapper.New(mapper.Translate)
	require.NoError(t, mp.AddMapping(mapper.Mapping{
		InputBase: 0, Length: region.Len(), Type: mapper.TypeMemory,
		Permissions: mapper.PermRead | mapper.PermWrite | mapper.PermExec,
		Endpoint:    region,
	}))

	c := riscv.New(0, riscv.XLen64, riscv.ExtM|riscv.ExtA, mp, 0)
	c.AttachEngine(event.NewQueue(), 0)
	return c, region
}

func le32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestAddiThenEbreak(t *testing.T) {
	var program []byte
	program = append(program, le32(0x02a00093)...) // addi x1, x0, 42
	program = append(program, le32(0x00100073)...) // ebreak

	c, _ := newTestCore(t, program)
	c.Option = riscv.TrapBreakpoint
	n, err := c.Step(0)
	require.Equal(t, uint64(1), n)
	require.True(t, errors.Is(err, serr.ErrBreakpoint))
	require.Equal(t, uint64(42), c.ReadReg(1))
}

func TestBackwardBranchLoop(t *testing.T) {
	// x1 counts down from 3 to 0 via:
	//   addi x1, x1, -1      (0)
	//   bne x1, x0, -4       (back to addi)
	//   ebreak               (8)
	var program []byte
	program = append(program, le32(0xfff08093)...) // addi x1, x1, -1
	program = append(program, le32(0xfe009ee3)...) // bne x1, x0, -4
	program = append(program, le32(0x00100073)...) // ebreak

	c, _ := newTestCore(t, program)
	c.Option = riscv.TrapBreakpoint
	c.WriteReg(1, 3)
	_, err := c.Step(0)
	require.True(t, errors.Is(err, serr.ErrBreakpoint))
	require.Equal(t, uint64(0), c.ReadReg(1))
}

func TestLoadStoreRoundTrip(t *testing.T) {
	// addi x1, x0, 99
	// sw   x1, 4(x0)
	// lw   x2, 4(x0)
	// ebreak
	var program []byte
	program = append(program, le32(0x06300093)...) // addi x1, x0, 99
	program = append(program, le32(0x00102223)...) // sw x1, 4(x0)
	program = append(program, le32(0x00402103)...) // lw x2, 4(x0)
	program = append(program, le32(0x00100073)...) // ebreak

	c, _ := newTestCore(t, program)
	c.Option = riscv.TrapBreakpoint
	_, err := c.Step(0)
	require.True(t, errors.Is(err, serr.ErrBreakpoint))
	require.Equal(t, uint64(99), c.ReadReg(2))
}

func TestUndefinedInstructionTraps(t *testing.T) {
	program := le32(0x00000000) // all-zero word: opcode 0 is not a valid instruction
	c, _ := newTestCore(t, program)
	c.Option = 0 // vector into the guest trap handler instead of host passthrough
	c.Mtvec = 0x100

	n, err := c.Step(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	require.Equal(t, uint64(0x100), c.PC)
}

func TestWfiParksEngineUntilEvent(t *testing.T) {
	program := le32(0x10500073) // wfi
	c, _ := newTestCore(t, program)

	n, err := c.Step(0)
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
	require.False(t, c.Engine.Runnable())
}

// Package console implements the line-oriented debug shell (spec §6): step
// N instructions, read or set a register, read (never write) guest memory,
// or quit. Grounded on the teacher's cmd/ccapp-style interactive command
// loop idiom (a bufio.Scanner line reader dispatching on the first token)
// but scoped to five commands (step, reg, mem, help, quit) -- no disassembly,
// no breakpoints, matching §1's explicit "no disassembly pretty-printing"
// scope note. mem write is stubbed Unimplemented per spec: "writes are not
// implemented in the source".
package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	cterm "github.com/charmbracelet/x/term"

	"github.com/shacron/sled/internal/machine"
	"github.com/shacron/sled/internal/serr"
)

// CookedMode records fd's current terminal state and returns a function
// that restores it when the console exits. It does not itself change the
// terminal's mode: the console runs in whatever mode fd is already in.
// Centralized here
// (rather than in cmd/sled directly) so the console and the UART
// passthrough path never fight over which package owns the terminal's raw/
// cooked toggle (SPEC_FULL.md §2 domain stack note).
func CookedMode(fd int) (restore func(), err error) {
	state, err := cterm.GetState(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = cterm.Restore(fd, state) }, nil
}

var regNames = []string{
	"zero", "ra", "sp", "gp", "tp", "t0", "t1", "t2",
	"s0", "s1", "a0", "a1", "a2", "a3", "a4", "a5",
	"a6", "a7", "s2", "s3", "s4", "s5", "s6", "s7",
	"s8", "s9", "s10", "s11", "t3", "t4", "t5", "t6",
}

func regIndex(name string) (uint32, bool) {
	for i, n := range regNames {
		if n == name {
			return uint32(i), true
		}
	}
	if strings.HasPrefix(name, "x") {
		if n, err := strconv.Atoi(name[1:]); err == nil && n >= 0 && n < 32 {
			return uint32(n), true
		}
	}
	return 0, false
}

// Console drives a single hart of m interactively.
type Console struct {
	m    *machine.Machine
	hart int
	out  io.Writer
}

// New returns a console driving m's hart at index hart, writing prompts and
// command output to out.
func New(m *machine.Machine, hart int, out io.Writer) *Console {
	return &Console{m: m, hart: hart, out: out}
}

// Run reads commands from r until quit or EOF.
func (c *Console) Run(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for {
		fmt.Fprint(c.out, "(sled) ")
		if !sc.Scan() {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		done, err := c.Exec(line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if done {
			return nil
		}
	}
}

// Exec runs one command line, returning done=true on "quit".
func (c *Console) Exec(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	switch fields[0] {
	case "help":
		c.help()
	case "quit":
		return true, nil
	case "step":
		return false, c.step(fields[1:])
	case "reg":
		return false, c.reg(fields[1:])
	case "mem":
		return false, c.mem(fields[1:])
	default:
		fmt.Fprintf(c.out, "unknown command %q (try \"help\")\n", fields[0])
	}
	return false, nil
}

func (c *Console) help() {
	fmt.Fprint(c.out, "commands:\n"+
		"  step [n]                 execute n instructions (default 1)\n"+
		"  reg [name [value]]       print all registers, one register, or set one\n"+
		"  mem r<size> <addr> [num] read num (default 1) values of size bytes\n"+
		"  mem w<size> <addr> <val> unimplemented\n"+
		"  help                     show this text\n"+
		"  quit                     leave the console\n")
}

func (c *Console) core() *machine.CoreSlot {
	return c.m.Cores[c.hart]
}

func (c *Console) step(args []string) error {
	n := uint64(1)
	if len(args) > 0 {
		v, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad step count %q: %w", args[0], err)
		}
		n = v
	}
	count, err := c.core().Core.Step(n)
	fmt.Fprintf(c.out, "stepped %d instructions\n", count)
	return err
}

func (c *Console) reg(args []string) error {
	core := c.core().Core
	if len(args) == 0 {
		fmt.Fprintf(c.out, "pc  = 0x%x\n", core.PC)
		for i, name := range regNames {
			fmt.Fprintf(c.out, "%-4s= 0x%x\n", name, core.ReadReg(uint32(i)))
		}
		return nil
	}
	if args[0] == "pc" {
		if len(args) > 1 {
			v, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return fmt.Errorf("bad value %q: %w", args[1], err)
			}
			core.PC = v
			return nil
		}
		fmt.Fprintf(c.out, "pc = 0x%x\n", core.PC)
		return nil
	}
	idx, ok := regIndex(args[0])
	if !ok {
		return fmt.Errorf("unknown register %q", args[0])
	}
	if len(args) > 1 {
		v, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("bad value %q: %w", args[1], err)
		}
		core.WriteReg(idx, v)
		return nil
	}
	fmt.Fprintf(c.out, "%s = 0x%x\n", args[0], core.ReadReg(idx))
	return nil
}

func (c *Console) mem(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: mem r<size>|w<size> <addr> [num]")
	}
	if strings.HasPrefix(args[0], "w") {
		return serr.ErrUnimplemented
	}
	if !strings.HasPrefix(args[0], "r") {
		return fmt.Errorf("bad mem mode %q", args[0])
	}
	size, err := strconv.Atoi(args[0][1:])
	if err != nil {
		return fmt.Errorf("bad mem size %q: %w", args[0], err)
	}
	addr, err := strconv.ParseUint(args[1], 0, 64)
	if err != nil {
		return fmt.Errorf("bad address %q: %w", args[1], err)
	}
	num := 1
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("bad count %q: %w", args[2], err)
		}
		num = n
	}
	data, err := c.m.Bus.ReadBytes(addr, size*num)
	if err != nil {
		return err
	}
	for i := 0; i < num; i++ {
		chunk := data[i*size : (i+1)*size]
		var v uint64
		for j := size - 1; j >= 0; j-- {
			v = v<<8 | uint64(chunk[j])
		}
		fmt.Fprintf(c.out, "0x%x: 0x%x\n", addr+uint64(i*size), v)
	}
	return nil
}

// Command sled is the reference host front end (spec §6): it assembles a
// platform.Platform, loads a monitor and/or kernel ELF plus any raw binary
// blobs, points the hart's PC at the requested entry, and either runs the
// guest to completion or drops into the interactive console. Grounded on
// wut4/emul/main.go's flag-parsed, raw-terminal-aware CLI idiom (one flat
// main using the stdlib flag package, a defer-based terminal restore, a
// signal-driven clean shutdown) generalized from wut4's single fixed image
// to the distilled spec's monitor+kernel+raw multi-image load model.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/shacron/sled/internal/console"
	"github.com/shacron/sled/internal/elfload"
	"github.com/shacron/sled/internal/hostsig"
	"github.com/shacron/sled/internal/machine"
	"github.com/shacron/sled/internal/platform"
	"github.com/shacron/sled/internal/riscv"
	"github.com/shacron/sled/internal/serr"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "sled:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("sled", flag.ContinueOnError)
	var (
		monitorPath = fs.String("monitor", "", "monitor ELF to load")
		kernelPath  = fs.String("kernel", "", "kernel ELF to load")
		rawSpec     = fs.String("raw", "", "raw image to load, as path:addr (addr in hex or 0x-prefixed)")
		entrySpec   = fs.String("entry", "", "override entry point (hex or 0x-prefixed); defaults to the last loaded ELF's e_entry")
		step        = fs.Uint64("step", 0, "stop after n instructions (0 runs until trap or exit)")
		useConsole  = fs.Bool("console", false, "drop into the interactive debug console instead of free-running")
		serialSpec  = fs.String("serial", "-", "serial backend: -, null, file path, or port:n")
		progress    = fs.Bool("progress", false, "show a progress bar while loading images")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *monitorPath == "" && fs.NArg() > 0 {
		*monitorPath = fs.Arg(0)
	}
	if *monitorPath == "" && *kernelPath == "" && *rawSpec == "" {
		return errors.New("nothing to load: pass a monitor/kernel ELF, --raw image, or a positional ELF path")
	}

	serialOut, serialIn, closeSerial, err := openSerial(*serialSpec)
	if err != nil {
		return fmt.Errorf("opening serial backend %q: %w", *serialSpec, err)
	}
	defer closeSerial()

	cfg := platform.Default()
	plat, err := platform.New("sled0", riscv.XLen64, riscv.ExtM|riscv.ExtA|riscv.ExtC|riscv.ExtS|riscv.ExtU, 0, cfg, serialOut)
	if err != nil {
		return fmt.Errorf("building platform: %w", err)
	}
	m := plat.Machine

	var entryPC uint64
	var haveEntry bool
	loadELF := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		img, err := elfload.Load(data)
		if err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		bar := newBar(*progress, path, len(img.Segments))
		for _, seg := range img.Segments {
			if err := m.LoadBytes(seg.Addr, seg.Data); err != nil {
				return fmt.Errorf("loading segment of %s at 0x%x: %w", path, seg.Addr, err)
			}
			bar.Add(1)
		}
		entryPC = img.Entry
		haveEntry = true
		return nil
	}

	if *monitorPath != "" {
		if err := loadELF(*monitorPath); err != nil {
			return err
		}
	}
	if *kernelPath != "" {
		if err := loadELF(*kernelPath); err != nil {
			return err
		}
	}
	if *rawSpec != "" {
		path, addr, err := parseRaw(*rawSpec)
		if err != nil {
			return fmt.Errorf("parsing --raw %q: %w", *rawSpec, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		bar := newBar(*progress, path, 1)
		if err := m.LoadBytes(addr, data); err != nil {
			return fmt.Errorf("loading raw image %s at 0x%x: %w", path, addr, err)
		}
		bar.Add(1)
	}

	if *entrySpec != "" {
		v, err := strconv.ParseUint(strings.TrimPrefix(*entrySpec, "0x"), 16, 64)
		if err != nil {
			return fmt.Errorf("parsing --entry %q: %w", *entrySpec, err)
		}
		entryPC = v
		haveEntry = true
	}
	if haveEntry {
		if err := m.SetPC(0, entryPC); err != nil {
			return err
		}
	}

	bridge := hostsig.Install(m)
	defer bridge.Close()

	if *useConsole {
		return runConsole(m, serialIn)
	}
	return runHeadless(m, *step)
}

// runHeadless runs the guest with no interactive console attached.
//
// A nonzero --step bound drives hart 0's core directly and synchronously
// (the chrono service still runs, so timer IRQs still fire) instead of
// starting its worker goroutine: a bounded run is a single-shot debugging
// aid, and starting the worker at the same time would step the same core
// from two goroutines at once. A zero bound ("run to completion") instead
// starts every core's worker goroutine, the concurrent model the rest of
// the machine is built for, and waits for them all to finish.
func runHeadless(m *machine.Machine, step uint64) error {
	if step != 0 {
		m.Chrono.Start()
		defer m.Chrono.Stop()
		_, err := m.Cores[0].Core.Step(step)
		return err
	}
	m.Run()
	err := m.Wait()
	if errors.Is(err, serr.ErrExited) {
		return nil
	}
	return err
}

// runConsole drives an interactive console.Console session against hart 0
// on stdin/stdout. It never starts the machine's worker goroutines: the
// console steps the core directly and synchronously, the same way the
// package-level tests do, so step counts and register reads are never
// racing a background goroutine.
func runConsole(m *machine.Machine, _ io.Reader) error {
	fd := int(os.Stdin.Fd())
	if isTerminal(fd) {
		restore, err := console.CookedMode(fd)
		if err == nil {
			defer restore()
		}
	}
	c := console.New(m, 0, os.Stdout)
	return c.Run(os.Stdin)
}

// openSerial resolves --serial into a writer (the UART's TX sink) and an
// optional reader (handed to runConsole, which does not read it; nothing is
// fed into the UART's RX buffer):
// "-" attaches the host terminal, "null" discards output and has no input,
// "port:n" listens on TCP port n and accepts one connection for both
// directions, and anything else is opened as a plain output file.
func openSerial(spec string) (io.Writer, io.Reader, func(), error) {
	switch {
	case spec == "-":
		return os.Stdout, os.Stdin, func() {}, nil
	case spec == "null":
		return io.Discard, nil, func() {}, nil
	case strings.HasPrefix(spec, "port:"):
		portStr := strings.TrimPrefix(spec, "port:")
		ln, err := net.Listen("tcp", ":"+portStr)
		if err != nil {
			return nil, nil, nil, err
		}
		conn, err := ln.Accept()
		if err != nil {
			ln.Close()
			return nil, nil, nil, err
		}
		return conn, conn, func() { conn.Close(); ln.Close() }, nil
	default:
		f, err := os.OpenFile(spec, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, err
		}
		return f, nil, func() { f.Close() }, nil
	}
}

// parseRaw splits a --raw argument of the form path:addr, taking the last
// ':'-delimited field as the address so a path containing colons elsewhere
// is not misread.
func parseRaw(spec string) (path string, addr uint64, err error) {
	i := strings.LastIndex(spec, ":")
	if i < 0 {
		return "", 0, errors.New("expected path:addr")
	}
	path = spec[:i]
	addrStr := strings.TrimPrefix(spec[i+1:], "0x")
	addr, err = strconv.ParseUint(addrStr, 16, 64)
	if err != nil {
		return "", 0, err
	}
	return path, addr, nil
}

// bar is the subset of *progressbar.ProgressBar this command drives.
type bar interface{ Add(int) error }

type noopBar struct{}

func (noopBar) Add(int) error { return nil }

func newBar(enabled bool, label string, n int) bar {
	if !enabled {
		return noopBar{}
	}
	return progressbar.Default(int64(n), "loading "+label)
}

// isTerminal reports whether fd is an interactive terminal, so the console
// never tries to toggle raw/cooked mode on a piped, non-interactive stdin.
func isTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

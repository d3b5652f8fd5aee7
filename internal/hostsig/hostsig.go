// Package hostsig bridges a host Ctrl-C (or SIGTERM) into a clean
// async_command(Exit) against one or more engines, grounded on the pack's
// raw-terminal/signal-aware CLI idiom (wut4/emul/main.go's defer-based
// terminal restore) and generalized with golang.org/x/sys/unix's portable
// signal constants instead of hardcoding package syscall's platform-specific
// ones.
package hostsig

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/shacron/sled/internal/machine"
)

// Bridge relays host interrupt/terminate signals into m.Stop(), letting
// every core's worker drain and exit cleanly instead of the process dying
// mid-instruction.
type Bridge struct {
	ch chan os.Signal
	m  *machine.Machine
}

// Install starts relaying SIGINT/SIGTERM to m.Stop on their own goroutine.
// Call Close to stop listening.
func Install(m *machine.Machine) *Bridge {
	b := &Bridge{ch: make(chan os.Signal, 1), m: m}
	signal.Notify(b.ch, unix.SIGINT, unix.SIGTERM)
	go b.run()
	return b
}

func (b *Bridge) run() {
	for range b.ch {
		b.m.Stop()
		return
	}
}

// Close stops relaying signals.
func (b *Bridge) Close() {
	signal.Stop(b.ch)
	close(b.ch)
}

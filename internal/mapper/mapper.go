// Package mapper implements the address-translation pipeline (spec §4.2): a
// sorted interval table of (input range -> endpoint) mappings, a mode that
// selects Block/Passthrough/Translate behavior, and an optional next stage
// forming a chain. It generalizes the flat, linearly-scanned device list in
// rv64.Bus (tinyrange-cc's Bus.findDevice) into a binary-searched, runtime
// reconfigurable translation stage, since the distilled spec requires
// splicing extra stages (MPU, MMU) ahead of the bus.
package mapper

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shacron/sled/internal/ioop"
	"github.com/shacron/sled/internal/serr"
)

// Mode selects how a Mapper handles an incoming IO op.
type Mode uint8

const (
	Block Mode = iota
	Passthrough
	Translate
)

// Type identifies what an endpoint is, for diagnostics.
type Type uint8

const (
	TypeMemory Type = iota
	TypeDevice
	TypeMapper
)

// Permission flags.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// Endpoint is anything a mapping can forward an IO op to: a memory region,
// a device, or another mapper.
type Endpoint interface {
	IO(op *ioop.Op) error
}

// Mapping is one row of the translation table.
type Mapping struct {
	InputBase   uint64
	Length      uint64
	OutputBase  uint64
	Domain      uint32
	Permissions Perm
	Type        Type
	Endpoint    Endpoint
}

func (m Mapping) end() uint64 { return m.InputBase + m.Length }

func (m Mapping) contains(addr uint64) bool {
	return addr >= m.InputBase && addr < m.end()
}

// Mapper is a sorted, non-overlapping set of mappings plus a mode and an
// optional next stage. It implements Endpoint, so mappers chain directly as
// each other's targets.
type Mapper struct {
	mu       sync.RWMutex
	mode     Mode
	mappings []Mapping
	next     *Mapper
}

// New creates a mapper in the given mode with no mappings installed.
func New(mode Mode) *Mapper {
	return &Mapper{mode: mode}
}

// Mode returns the mapper's current mode.
func (m *Mapper) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// SetNext installs (or clears) the passthrough next stage.
func (m *Mapper) SetNext(next *Mapper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = next
}

// Install replaces or appends mappings to the table, per the Update event
// contract (spec §4.2 "Asynchronous update"). Submitting with replace=true
// atomically swaps the whole table (relative to IO on this mapper); the
// caller is responsible for only calling Install from the thread that owns
// this mapper's consumer, so no IO races with the swap.
func (m *Mapper) Install(mode Mode, mappings []Mapping, replace bool) error {
	sorted := append([]Mapping(nil), mappings...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].InputBase < sorted[j].InputBase })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].InputBase < sorted[i-1].end() {
			return fmt.Errorf("%w: mapping [0x%x,0x%x) overlaps [0x%x,0x%x)",
				serr.ErrArg, sorted[i].InputBase, sorted[i].end(), sorted[i-1].InputBase, sorted[i-1].end())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	if replace {
		m.mappings = sorted
		return nil
	}
	merged := append(append([]Mapping(nil), m.mappings...), sorted...)
	sort.Slice(merged, func(i, j int) bool { return merged[i].InputBase < merged[j].InputBase })
	for i := 1; i < len(merged); i++ {
		if merged[i].InputBase < merged[i-1].end() {
			return fmt.Errorf("%w: mapping [0x%x,0x%x) overlaps [0x%x,0x%x)",
				serr.ErrArg, merged[i].InputBase, merged[i].end(), merged[i-1].InputBase, merged[i-1].end())
		}
	}
	m.mappings = merged
	return nil
}

// AddMapping installs a single mapping without disturbing the rest of the
// table or changing the mode.
func (m *Mapper) AddMapping(mp Mapping) error {
	m.mu.RLock()
	mode := m.mode
	m.mu.RUnlock()
	return m.Install(mode, []Mapping{mp}, false)
}

// lookup finds the unique mapping covering addr via binary search on
// InputBase, confirming the probed mapping's end strictly exceeds addr.
func (m *Mapper) lookup(addr uint64) (Mapping, bool) {
	n := len(m.mappings)
	i := sort.Search(n, func(i int) bool { return m.mappings[i].InputBase > addr })
	if i == 0 {
		return Mapping{}, false
	}
	cand := m.mappings[i-1]
	if !cand.contains(addr) {
		return Mapping{}, false
	}
	return cand, true
}

// IO dispatches op per the mapper's mode (spec §4.2 "IO path").
func (m *Mapper) IO(op *ioop.Op) error {
	if err := op.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	mode := m.mode
	next := m.next
	m.mu.RUnlock()

	switch mode {
	case Block:
		return serr.ErrIoNoMap
	case Passthrough:
		if next == nil {
			return serr.ErrIoNoMap
		}
		return next.IO(op)
	case Translate:
		return m.translate(op)
	default:
		return serr.ErrIoNoMap
	}
}

func (m *Mapper) translate(op *ioop.Op) error {
	if op.Op.IsAtomic() || op.Op == ioop.Resolve {
		m.mu.RLock()
		mp, ok := m.lookup(op.Addr)
		m.mu.RUnlock()
		if !ok {
			return serr.ErrIoNoMap
		}
		if op.Addr+uint64(op.Size) > mp.end() {
			return serr.ErrIoInvalid
		}
		sub := *op
		sub.Addr = mp.OutputBase + (op.Addr - mp.InputBase)
		return mp.Endpoint.IO(&sub)
	}

	// In/Out: split at mapping boundaries, non-atomic only.
	remainingCount := op.Count
	addr := op.Addr
	bufOff := uint32(0)

	for remainingCount > 0 {
		m.mu.RLock()
		mp, ok := m.lookup(addr)
		m.mu.RUnlock()
		if !ok {
			return serr.ErrIoNoMap
		}

		available := (mp.end() - addr) / uint64(op.Size)
		n := uint64(remainingCount)
		if available < n {
			n = available
		}
		if n == 0 {
			return serr.ErrIoInvalid
		}

		sub := *op
		sub.Addr = mp.OutputBase + (addr - mp.InputBase)
		sub.Count = uint32(n)
		if op.Buf != nil {
			lo := uint64(bufOff) * uint64(op.Size)
			hi := lo + n*uint64(op.Size)
			sub.Buf = op.Buf[lo:hi]
		}
		if err := mp.Endpoint.IO(&sub); err != nil {
			return err
		}

		addr += n * uint64(op.Size)
		bufOff += uint32(n)
		remainingCount -= uint32(n)
	}
	return nil
}

// Mappings returns a snapshot copy of the current translation table, for
// diagnostics and tests.
func (m *Mapper) Mappings() []Mapping {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Mapping(nil), m.mappings...)
}

// Package elfload loads RISC-V ELF32/64 images through the standard
// library's debug/elf reader and parses the GNU build-attributes section
// (".riscv.attributes") into a riscv.Ext bitfield, grounded on
// _examples/original_source/core/elf.c's section-walking contract but built
// atop debug/elf -- the only ELF reader anywhere in the pack or stdlib (see
// DESIGN.md). This is an external collaborator per the spec's explicit
// scope note, not a core subsystem: it hands the machine a load map and a
// parsed arch-options bitfield, nothing more.
package elfload

import (
	"bytes"
	"debug/elf"
	"fmt"
	"strconv"
	"strings"

	"github.com/shacron/sled/internal/riscv"
)

// Segment is one loadable chunk of an ELF image, relative to the guest's
// physical address space.
type Segment struct {
	Addr uint64
	Data []byte
}

// Image is the result of loading an ELF file: its entry point, loadable
// segments, XLEN, and the extension set parsed from .riscv.attributes (if
// present; otherwise a minimal IMAC default per RISC-V convention).
type Image struct {
	Entry    uint64
	XLen     riscv.XLen
	Ext      riscv.Ext
	Segments []Segment
}

// Load parses an ELF32/64 EM_RISCV image from data.
func Load(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elfload: %w", err)
	}
	defer f.Close()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("elfload: unsupported machine %v, want EM_RISCV", f.Machine)
	}

	img := &Image{Entry: f.Entry}
	switch f.Class {
	case elf.ELFCLASS32:
		img.XLen = riscv.XLen32
	case elf.ELFCLASS64:
		img.XLen = riscv.XLen64
	default:
		return nil, fmt.Errorf("elfload: unsupported ELF class %v", f.Class)
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Filesz == 0 {
			continue
		}
		buf := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(buf, 0); err != nil {
			return nil, fmt.Errorf("elfload: reading PT_LOAD at 0x%x: %w", prog.Vaddr, err)
		}
		img.Segments = append(img.Segments, Segment{Addr: prog.Vaddr, Data: buf})
		if prog.Memsz > prog.Filesz {
			img.Segments = append(img.Segments, Segment{
				Addr: prog.Vaddr + prog.Filesz,
				Data: make([]byte, prog.Memsz-prog.Filesz),
			})
		}
	}

	img.Ext = defaultExt(img.XLen)
	if sec := f.Section(".riscv.attributes"); sec != nil {
		raw, err := sec.Data()
		if err == nil {
			if ext, ok := parseAttributes(raw); ok {
				img.Ext = ext
			}
		}
	}
	return img, nil
}

func defaultExt(xlen riscv.XLen) riscv.Ext {
	ext := riscv.ExtI | riscv.ExtM | riscv.ExtA | riscv.ExtC
	_ = xlen
	return ext
}

// parseAttributes scans a GNU build-attributes section for a Tag_arch
// string like "rv64i2p0_m2p0_a2p0_c2p0_zicsr2p0" and converts its letter
// run into a riscv.Ext bitfield. The section's binary framing (vendor
// sub-section headers, ULEB128 tag/size fields) is walked loosely: this
// reads only the first embedded arch string found, which is sufficient for
// single-translation-unit images (the only kind this simulator loads).
func parseAttributes(raw []byte) (riscv.Ext, bool) {
	idx := bytes.Index(raw, []byte("rv32"))
	if idx < 0 {
		idx = bytes.Index(raw, []byte("rv64"))
	}
	if idx < 0 {
		return 0, false
	}
	end := idx
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	return extFromArchString(string(raw[idx:end])), true
}

// extFromArchString converts "rv32i2p0_m2p0_a2p0_c2p0_zicsr2p0" style
// strings into a bitfield: the leading "rv32"/"rv64" width is stripped, the
// first (multi-letter) token's single-letter extensions are read off
// letter-by-letter up to its first digit, and every subsequent
// '_'-separated token selects an Ext bit from its name prefix.
func extFromArchString(arch string) riscv.Ext {
	ext := riscv.ExtI
	body := arch
	if strings.HasPrefix(body, "rv32") || strings.HasPrefix(body, "rv64") {
		body = body[4:]
	}
	tokens := strings.Split(body, "_")
	if len(tokens) > 0 {
		letters := tokens[0]
		for i, r := range letters {
			if _, err := strconv.Atoi(string(r)); err == nil {
				letters = letters[:i]
				break
			}
		}
		for _, letter := range letters {
			ext |= extBitFor(string(letter))
		}
		tokens = tokens[1:]
	}
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		name := tok
		for i, r := range tok {
			if _, err := strconv.Atoi(string(r)); err == nil {
				name = tok[:i]
				break
			}
		}
		ext |= extBitFor(name)
	}
	return ext
}

func extBitFor(name string) riscv.Ext {
	switch name {
	case "i":
		return riscv.ExtI
	case "m":
		return riscv.ExtM
	case "a":
		return riscv.ExtA
	case "f":
		return riscv.ExtF
	case "d":
		return riscv.ExtD
	case "c":
		return riscv.ExtC
	case "s":
		return riscv.ExtS
	case "u":
		return riscv.ExtU
	case "zicsr":
		return riscv.ExtZicsr
	default:
		return 0
	}
}

// Copyright 2017 Denis Bernard <db047h@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package reloc walks an ELF's relocation sections and patches the loaded
// image. It does not itself know how to interpret any particular
// architecture's relocation types; concrete engines (see reloc/riscv)
// register themselves against a machine type and are looked up by it.
package reloc

import (
	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/loader"
	"github.com/robotman2412/elfloader/reader"
)

// SymbolResolver resolves an undefined (SHN_UNDEF) symbol by name to a
// runtime address. The embedder supplies this; the engine never guesses.
type SymbolResolver func(name string) (elfloader.Address, bool)

// RelEntry is one decoded relocation entry, independent of whether it came
// from an SHT_REL or SHT_RELA section.
type RelEntry struct {
	// Offset is the raw r_offset field: a byte offset within the section
	// named by the owning RelSection's Target, not yet added to
	// Target.Addr. The engine computes the file-view target address as
	// Target.Addr + Offset.
	Offset uint64
	Sym    uint32
	Type   uint32
	// Addend is the addend from an SHT_RELA entry. For SHT_REL sections it
	// is zero. The RISC-V engine reads an implicit addend from the word in
	// place only for R_RISCV_RELATIVE; every other type applied from an
	// SHT_REL section uses an addend of zero.
	Addend    int64
	HasAddend bool
}

// RelSection groups the decoded entries of one relocation section with the
// symbol table it is linked against.
type RelSection struct {
	Target  reader.SectInfo
	Syms    []reader.SymInfo
	Entries []RelEntry
}

// Engine applies every relocation section of an ELF to a loaded Program. A
// concrete architecture registers one factory under its Machine value.
type Engine interface {
	Apply(r *reader.Reader, prog *loader.Program, sections []RelSection, resolve SymbolResolver, log elfloader.Logger) error
}

var registry = map[elfloader.Machine]func() Engine{}

// Register associates a Machine value with an Engine factory. Called from
// the init() of a concrete architecture package (see reloc/riscv).
func Register(m elfloader.Machine, factory func() Engine) {
	registry[m] = factory
}

// Get returns the Engine registered for m, if any.
func Get(m elfloader.Machine) (Engine, bool) {
	factory, ok := registry[m]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Apply looks up the Engine registered for the reader's validated machine
// type, collects every relocation section, and runs the engine over them.
func Apply(r *reader.Reader, prog *loader.Program, resolve SymbolResolver, log elfloader.Logger) error {
	if log == nil {
		log = elfloader.NopLogger{}
	}
	eng, ok := Get(r.Header().Machine)
	if !ok {
		return elfloader.NewError(elfloader.UnsupportedArchitecture, "no relocation engine registered for machine %v", r.Header().Machine)
	}
	sections, err := Collect(r)
	if err != nil {
		return err
	}
	return eng.Apply(r, prog, sections, resolve, log)
}

// Collect walks the reader's sections, decodes every SHT_REL/SHT_RELA
// section whose linked symbol table and sh_info target section are both
// valid, and returns them together with their resolved symbol tables.
func Collect(r *reader.Reader) ([]RelSection, error) {
	sects := r.Sects()
	var out []RelSection
	for _, s := range sects {
		if s.Type != reader.ShtRel && s.Type != reader.ShtRela {
			continue
		}
		if int(s.Link) >= len(sects) {
			return nil, elfloader.NewError(elfloader.InvalidFormat, "relocation section %q: sh_link %d out of range", s.Name, s.Link)
		}
		if int(s.Info) >= len(sects) {
			return nil, elfloader.NewError(elfloader.InvalidFormat, "relocation section %q: sh_info %d out of range", s.Name, s.Info)
		}
		symSec := sects[s.Link]
		var syms []reader.SymInfo
		switch symSec.Name {
		case ".symtab":
			syms = r.Syms()
		case ".dynsym":
			syms = r.DynSyms()
		default:
			return nil, elfloader.NewError(elfloader.InvalidFormat, "relocation section %q: sh_link %d is not a symbol table", s.Name, s.Link)
		}

		entries, err := decodeEntries(r, s)
		if err != nil {
			return nil, err
		}
		out = append(out, RelSection{Target: sects[s.Info], Syms: syms, Entries: entries})
	}
	return out, nil
}

func decodeEntries(r *reader.Reader, s reader.SectInfo) ([]RelEntry, error) {
	class64 := r.Header().Class == elfloader.Class64
	rela := s.Type == reader.ShtRela

	var entSize uint64
	switch {
	case rela && class64:
		entSize = 24
	case rela && !class64:
		entSize = 12
	case !rela && class64:
		entSize = 16
	default:
		entSize = 8
	}
	if entSize == 0 || s.Size%entSize != 0 {
		return nil, elfloader.NewError(elfloader.InvalidFormat, "relocation section %q: size %d not a multiple of entsize %d", s.Name, s.Size, entSize)
	}
	count := int(s.Size / entSize)
	order := r.Header().ByteOrder()

	out := make([]RelEntry, count)
	buf := make([]byte, entSize)
	for i := 0; i < count; i++ {
		if err := r.ReadFileAt(buf, int64(s.Offset)+int64(i)*int64(entSize)); err != nil {
			return nil, err
		}
		var e RelEntry
		if class64 {
			e.Offset = order.Uint64(buf[0:8])
			info := order.Uint64(buf[8:16])
			e.Sym = uint32(info >> 32)
			e.Type = uint32(info)
			if rela {
				e.Addend = int64(order.Uint64(buf[16:24]))
				e.HasAddend = true
			}
		} else {
			e.Offset = uint64(order.Uint32(buf[0:4]))
			info := order.Uint32(buf[4:8])
			e.Sym = info >> 8
			e.Type = info & 0xff
			if rela {
				e.Addend = int64(int32(order.Uint32(buf[8:12])))
				e.HasAddend = true
			}
		}
		out[i] = e
	}
	return out, nil
}

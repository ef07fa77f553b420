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

// Package reader implements the ELF streaming parser: header validation, the
// section table, the program-header table, the static and dynamic symbol
// tables, and the PT_DYNAMIC DT_NEEDED list. It owns all parsed metadata and
// never mutates the byte source it is given.
package reader

import (
	"io"

	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/config"
)

// Source is the random-access byte source a Reader streams from. Any
// io.ReaderAt the embedder can produce satisfies it: an *os.File, an
// in-memory bytes.Reader, or a flash-mapped region wrapped accordingly. The
// reader never closes it.
type Source interface {
	io.ReaderAt
}

// Reader parses and validates an ELF file incrementally. The zero value is
// not usable; construct one with Open.
type Reader struct {
	src Source
	cfg config.Config
	log elfloader.Logger

	valid  bool
	header Header

	progs      []ProgInfo
	progsRead  bool
	sects      []SectInfo
	sectsRead  bool
	syms       []SymInfo
	symsRead   bool
	dynsyms    []SymInfo
	dynsymRead bool
	needed     []string
	neededRead bool
}

// Open constructs a Reader over src and eagerly reads and validates the ELF
// file header. log may be nil, in which case elfloader.NopLogger is used.
//
// Open fails with InvalidFormat when: the magic is wrong; the word-size
// class, endianness, version, or header-size constants fail their
// invariants; or cfg.Machine is non-zero and doesn't match the file.
func Open(src Source, cfg config.Config, log elfloader.Logger) (*Reader, error) {
	if log == nil {
		log = elfloader.NopLogger{}
	}
	r := &Reader{src: src, cfg: cfg, log: log}

	buf := make([]byte, ehSize64)
	n, err := src.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, elfloader.WrapError(elfloader.IoError, err, "reading ELF header")
	}
	buf = buf[:n]

	h, perr := parseHeader(buf, cfg.Machine)
	if perr != nil {
		log.Errorf("elf header rejected: %v", perr)
		return nil, perr
	}
	if h.Class != cfg.Class {
		err := elfloader.NewError(elfloader.InvalidFormat, "file class %v does not match configured class %v", h.Class, cfg.Class)
		log.Errorf("%v", err)
		return nil, err
	}

	r.header = h
	r.valid = true
	log.Debugf("opened %v %v file, machine=%v, entry=0x%x", h.Class, h.Data, h.Machine, h.Entry)
	return r, nil
}

// Header returns the validated file header.
func (r *Reader) Header() Header { return r.header }

// Valid reports whether the reader has not yet hit a parse failure. The
// first failure poisons the reader: subsequent operations refuse to run.
func (r *Reader) Valid() bool { return r.valid }

func (r *Reader) poison(err error) error {
	r.valid = false
	r.log.Errorf("%v", err)
	return err
}

func (r *Reader) checkValid() error {
	if !r.valid {
		return elfloader.NewError(elfloader.InvalidFormat, "reader is poisoned by a previous failure")
	}
	return nil
}

// EnsureProgs parses the program-header table if it hasn't been parsed yet.
// The loader calls this instead of ReadAll/ReadDynamic when it only needs
// segment placement, not the full metadata set.
func (r *Reader) EnsureProgs() error {
	if err := r.checkValid(); err != nil {
		return err
	}
	if err := r.readProgs(); err != nil {
		return r.poison(err)
	}
	return nil
}

// ReadFileAt reads exactly len(buf) bytes at file offset off. Used by the
// loader to copy PT_LOAD segment contents; not needed for metadata parsing.
func (r *Reader) ReadFileAt(buf []byte, off int64) error {
	return r.readAt(buf, off)
}

// readAt reads exactly len(buf) bytes at the given file offset.
func (r *Reader) readAt(buf []byte, off int64) error {
	_, err := io.ReadFull(io.NewSectionReader(r.src, off, int64(len(buf))), buf)
	if err != nil {
		return elfloader.WrapError(elfloader.IoError, err, "reading %d bytes at offset %#x", len(buf), off)
	}
	return nil
}

// ReadAll populates program headers, section headers (with names resolved),
// static symbols (from .symtab/.strtab) and dynamic symbols (from
// .dynsym/.strtab). Missing .symtab or .dynsym is not an error; those tables
// simply remain empty. A missing or out-of-range link from a symbol table to
// its string table is an error.
func (r *Reader) ReadAll() error {
	if err := r.checkValid(); err != nil {
		return err
	}
	if err := r.readProgs(); err != nil {
		return r.poison(err)
	}
	if err := r.readSects(); err != nil {
		return r.poison(err)
	}
	if err := r.readSymtab(".symtab", &r.syms); err != nil {
		return r.poison(err)
	}
	r.symsRead = true
	if err := r.readSymtab(".dynsym", &r.dynsyms); err != nil {
		return r.poison(err)
	}
	r.dynsymRead = true
	return nil
}

// ReadDynamic parses the subset required for loading: program headers,
// section headers, dynamic symbols, and the PT_DYNAMIC DT_NEEDED list. It
// fails if no PT_DYNAMIC program header is present.
func (r *Reader) ReadDynamic() error {
	if err := r.checkValid(); err != nil {
		return err
	}
	if err := r.readProgs(); err != nil {
		return r.poison(err)
	}
	if err := r.readSects(); err != nil {
		return r.poison(err)
	}
	if err := r.readSymtab(".dynsym", &r.dynsyms); err != nil {
		return r.poison(err)
	}
	r.dynsymRead = true
	if err := r.readNeeded(); err != nil {
		return r.poison(err)
	}
	return nil
}

// Progs returns the parsed program headers. ReadAll or ReadDynamic (or the
// loader, which parses them on demand) must have run first.
func (r *Reader) Progs() []ProgInfo { return r.progs }

// Sects returns the parsed section headers, with names resolved.
func (r *Reader) Sects() []SectInfo { return r.sects }

// Syms returns the static symbol table (.symtab), or nil if the file has
// none.
func (r *Reader) Syms() []SymInfo { return r.syms }

// DynSyms returns the dynamic symbol table (.dynsym), or nil if the file has
// none.
func (r *Reader) DynSyms() []SymInfo { return r.dynsyms }

// Needed returns the ordered list of DT_NEEDED dependency names collected
// from PT_DYNAMIC.
func (r *Reader) Needed() []string { return r.needed }

// FindSection looks up a section by exact name match.
func (r *Reader) FindSection(name string) (SectInfo, bool) {
	for _, s := range r.sects {
		if s.Name == name {
			return s, true
		}
	}
	return SectInfo{}, false
}

// FindSymbol looks up a static symbol by exact name match.
func (r *Reader) FindSymbol(name string) (SymInfo, bool) {
	return findSym(r.syms, name)
}

// FindDynSym looks up a dynamic symbol by exact name match.
func (r *Reader) FindDynSym(name string) (SymInfo, bool) {
	return findSym(r.dynsyms, name)
}

func findSym(syms []SymInfo, name string) (SymInfo, bool) {
	for _, s := range syms {
		if s.Name == name {
			return s, true
		}
	}
	return SymInfo{}, false
}

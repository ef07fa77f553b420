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

// Package loader places a validated ELF reader's PT_LOAD segments into a
// region of host memory supplied by an embedder-provided allocator callback,
// and produces the Program handle the relocation engine and MPU policy
// consume. It does not apply relocations and does not program the MPU;
// those are separate steps the embedder chooses to run afterwards.
package loader

import (
	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/reader"
)

// AllocResult is what an Allocator returns for a successful allocation. A
// zero Vaddr signals failure; Mem and Cookie are then ignored.
type AllocResult struct {
	// Vaddr is the real base address the region was placed at. It need not
	// equal the requested base.
	Vaddr elfloader.Address
	// Mem is a host-writable view of the allocated region, at least size
	// bytes long. The loader copies and zero-fills through it, and Load
	// hands it on as the returned Program's Mem.
	Mem []byte
	// Cookie is opaque to the loader; the embedder hands it back to its own
	// deallocator when the Program is released.
	Cookie any
}

// Allocator requests size bytes of host memory aligned to alignment,
// preferably placed at requestedVaddr. The allocator is free to place it
// elsewhere; Load computes the resulting load bias either way.
type Allocator func(requestedVaddr elfloader.Address, size, alignment uint64) AllocResult

// Program is the loader's output: the real placement of a loaded image, its
// entry point, and (if present) a pointer to its in-memory dynamic table.
type Program struct {
	VaddrReq   elfloader.Address
	VaddrReal  elfloader.Address
	Size       uint64
	Mem        []byte
	Cookie     any
	Entry      elfloader.Address
	Dynamic    elfloader.Address
	HasDynamic bool

	// Offs is vaddr_real - vaddr_req, used uniformly to translate
	// file-view addresses into host-view addresses. It is signed because
	// the real base may land below the requested one.
	Offs int64
}

// Translate converts a file-view address (as it appears in the ELF image)
// into the corresponding host-view address for this Program.
func (p *Program) Translate(fileAddr elfloader.Address) elfloader.Address {
	return elfloader.Address(int64(fileAddr) + p.Offs)
}

// Load computes the virtual-address span of every PT_LOAD segment, requests
// one contiguous backing region from alloc, copies file-backed bytes into
// it, zero-fills mem_size-file_size tails, and returns a Program handle.
//
// Failure (alloc returning a zero Vaddr) yields a nil Program and an
// AllocationFailed error; the attempt is logged.
//
// A PT_DYNAMIC segment whose range falls outside the PT_LOAD span is logged
// through log.Errorf and does not abort the load; Dynamic is still set.
//
// Per the loader's own historical TODO, the alignment floor cfg.Align is not
// the last word: Load also takes the max p_align across PT_LOAD segments and
// uses whichever is larger, so a segment with a stricter natural alignment
// than the configured floor still gets it.
func Load(r *reader.Reader, align uint64, log elfloader.Logger, alloc Allocator) (*Program, error) {
	if log == nil {
		log = elfloader.NopLogger{}
	}
	if err := r.EnsureProgs(); err != nil {
		return nil, err
	}

	var (
		haveLoad         bool
		addrMin, addrMax elfloader.Address
		maxAlign         uint64
	)
	for _, p := range r.Progs() {
		if p.Type != reader.PtLoad {
			continue
		}
		lo := p.Vaddr
		hi := p.Vaddr + elfloader.Address(p.Memsz)
		if !haveLoad || lo < addrMin {
			addrMin = lo
		}
		if !haveLoad || hi > addrMax {
			addrMax = hi
		}
		if p.Align > maxAlign {
			maxAlign = p.Align
		}
		haveLoad = true
	}
	if !haveLoad {
		return nil, elfloader.NewError(elfloader.InvalidFormat, "no PT_LOAD segments")
	}

	if maxAlign > align {
		align = maxAlign
	}
	size := uint64(addrMax - addrMin)

	res := alloc(addrMin, size, align)
	if res.Vaddr == 0 {
		err := elfloader.NewError(elfloader.AllocationFailed, "allocator refused %d bytes @ 0x%x align %d", size, addrMin, align)
		log.Errorf("%v", err)
		return nil, err
	}
	if uint64(len(res.Mem)) < size {
		err := elfloader.NewError(elfloader.AllocationFailed, "allocator returned a %d-byte view for a %d-byte request", len(res.Mem), size)
		log.Errorf("%v", err)
		return nil, err
	}

	offs := int64(res.Vaddr) - int64(addrMin)
	prog := &Program{
		VaddrReq:  addrMin,
		VaddrReal: res.Vaddr,
		Size:      size,
		Mem:       res.Mem,
		Cookie:    res.Cookie,
		Offs:      offs,
	}

	for _, p := range r.Progs() {
		if p.Type != reader.PtLoad {
			continue
		}
		dst := uint64(p.Vaddr) - uint64(addrMin)
		if err := copySegment(r, prog.Mem, dst, p.Offset, p.Filesz, p.Memsz); err != nil {
			return nil, err
		}
	}

	prog.Entry = elfloader.Address(int64(r.Header().Entry) + offs)

	if dyn, ok := r.ProgDynamic(); ok {
		lo, hi := dyn.Vaddr, dyn.Vaddr+elfloader.Address(dyn.Memsz)
		if lo < addrMin || hi > addrMax {
			log.Errorf("PT_DYNAMIC range [0x%x, 0x%x) outside load range [0x%x, 0x%x)", lo, hi, addrMin, addrMax)
		}
		prog.Dynamic = elfloader.Address(int64(dyn.Vaddr) + offs)
		prog.HasDynamic = true
	}

	log.Infof("loaded: req=0x%x real=0x%x size=0x%x entry=0x%x offs=%d", prog.VaddrReq, prog.VaddrReal, prog.Size, prog.Entry, prog.Offs)
	return prog, nil
}

// copySegment copies filesz bytes from the reader's byte source at file
// offset fileOff into mem[dst:], then zero-fills the memsz-filesz tail.
func copySegment(r *reader.Reader, mem []byte, dst, fileOff, filesz, memsz uint64) error {
	if dst+memsz > uint64(len(mem)) {
		return elfloader.NewError(elfloader.InvalidFormat, "segment [0x%x, 0x%x) exceeds allocated region of size %d", dst, dst+memsz, len(mem))
	}
	if filesz > 0 {
		if err := r.ReadFileAt(mem[dst:dst+filesz], int64(fileOff)); err != nil {
			return err
		}
	}
	for i := filesz; i < memsz; i++ {
		mem[dst+i] = 0
	}
	return nil
}

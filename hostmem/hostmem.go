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

// Package hostmem provides reference, non-authoritative implementations of
// the loader's three embedder contracts (allocator, global symbol resolver,
// MPU writer), built on mmap/mprotect via golang.org/x/sys/unix. They exist
// so the pipeline can be exercised end to end in tests and by cmd/elfdump
// without real embedded hardware; an embedder targeting actual firmware
// supplies its own implementations instead.
package hostmem

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/loader"
	"github.com/robotman2412/elfloader/mpu"
	"github.com/robotman2412/elfloader/reloc"
)

// MmapCookie is the allocator cookie returned through loader.AllocResult.
// Free releases the mapping it wraps.
type MmapCookie struct {
	mem []byte
}

// Free unmaps the region backing c. The embedder calls this once it is done
// with a Program, mirroring how a real allocator's release call is threaded
// back through the opaque cookie.
func Free(cookie any) error {
	c, ok := cookie.(*MmapCookie)
	if !ok {
		return elfloader.NewError(elfloader.InvalidFormat, "hostmem: cookie is not an *MmapCookie")
	}
	return unix.Munmap(c.mem)
}

// MmapAllocator returns a loader.Allocator that satisfies every request with
// a fresh anonymous, PROT_READ|PROT_WRITE mapping sized and aligned up to
// the host page size. An alignment coarser than the page size degrades to
// page alignment, with a warning logged; there is no coarser-than-page
// alignment primitive available through plain mmap.
func MmapAllocator(log elfloader.Logger) loader.Allocator {
	if log == nil {
		log = elfloader.NopLogger{}
	}
	return func(requestedVaddr elfloader.Address, size, alignment uint64) loader.AllocResult {
		pageSize := uint64(unix.Getpagesize())
		if alignment > pageSize {
			log.Warnf("hostmem: requested alignment %d exceeds page size %d, degrading", alignment, pageSize)
		}
		mapLen := roundUp(size, pageSize)
		if mapLen == 0 {
			mapLen = pageSize
		}

		mem, err := unix.Mmap(-1, 0, int(mapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
		if err != nil {
			log.Errorf("hostmem: mmap %d bytes: %v", mapLen, err)
			return loader.AllocResult{}
		}

		vaddr := elfloader.Address(uintptr(unsafe.Pointer(&mem[0])))
		log.Debugf("hostmem: mapped %d bytes (requested %d for vaddr 0x%x) at 0x%x", mapLen, size, requestedVaddr, vaddr)
		return loader.AllocResult{
			Vaddr:  vaddr,
			Mem:    mem[:size:mapLen],
			Cookie: &MmapCookie{mem: mem},
		}
	}
}

// StaticResolver returns a reloc.SymbolResolver backed by a fixed name ->
// address map, for tests that need a handful of undefined symbols resolved
// without a real dynamic linker.
func StaticResolver(symbols map[string]elfloader.Address) reloc.SymbolResolver {
	return func(name string) (elfloader.Address, bool) {
		addr, ok := symbols[name]
		return addr, ok
	}
}

// MprotectMPU returns an mpu.Writer that calls mprotect on each NAPOT range
// translated back to a page-aligned span with the region's requested
// protection bits. This is a host-side stand-in for a real PMP register
// write: it is not bit-compatible with NAPOT pmpaddr/pmpcfg encoding, only
// with its access-rights intent, and exists purely so reference tests can
// observe the MPU policy's effect on real page protections.
func MprotectMPU(log elfloader.Logger) mpu.Writer {
	if log == nil {
		log = elfloader.NopLogger{}
	}
	return func(index int, r mpu.Region) error {
		pageSize := uintptr(unix.Getpagesize())
		start := uintptr(r.Base) &^ (pageSize - 1)
		end := (uintptr(r.Limit) + pageSize - 1) &^ (pageSize - 1)
		if end <= start {
			return elfloader.NewError(elfloader.InvalidFormat, "mpu region %d has non-positive page-aligned length", index)
		}

		prot := 0
		if r.Read {
			prot |= unix.PROT_READ
		}
		if r.Write {
			prot |= unix.PROT_WRITE
		}
		if r.Exec {
			prot |= unix.PROT_EXEC
		}

		seg := unsafe.Slice((*byte)(unsafe.Pointer(start)), int(end-start))
		if err := unix.Mprotect(seg, prot); err != nil {
			return elfloader.WrapError(elfloader.IoError, err, "mprotect region %d [0x%x, 0x%x)", index, start, end)
		}
		log.Infof("hostmem: mprotect region %d [0x%x, 0x%x) prot=%#o", index, start, end, prot)
		return nil
	}
}

func roundUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

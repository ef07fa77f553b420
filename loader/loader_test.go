package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/config"
	"github.com/robotman2412/elfloader/reader"
)

// buildLoadable assembles a minimal well-formed ELF64 file with a single
// PT_LOAD segment (vaddr loadVaddr, filesz bytes of fill, memsz total) and,
// if withDynamic is set, a second PT_DYNAMIC segment describing an empty
// (DT_NULL-only) dynamic table placed right after the PT_LOAD payload.
func buildLoadable(t *testing.T, loadVaddr elfloader.Address, fill []byte, memsz uint64, withDynamic bool) []byte {
	t.Helper()
	order := binary.NativeEndian

	phnum := 1
	if withDynamic {
		phnum = 2
	}

	// Segment data is laid out right after the program header table, in
	// file-offset order: PT_LOAD's payload first, then (if present)
	// PT_DYNAMIC's. Every offset is known upfront, so headers can be
	// written in one pass.
	loadOff := uint64(ehSize64() + phnum*phEntSize64())
	dynOff := loadOff + uint64(len(fill))
	const dynSize = 16 // one DT_NULL entry, class64 entsize

	buf := make([]byte, ehSize64())

	phOff := len(buf)
	ph := make([]byte, phEntSize64())
	order.PutUint32(ph[0:4], reader.PtLoad)
	order.PutUint32(ph[4:8], reader.PfR|reader.PfX)
	order.PutUint64(ph[8:16], loadOff)
	order.PutUint64(ph[16:24], uint64(loadVaddr))
	order.PutUint64(ph[24:32], uint64(loadVaddr))
	order.PutUint64(ph[32:40], uint64(len(fill)))
	order.PutUint64(ph[40:48], memsz)
	order.PutUint64(ph[48:56], 0x1000)
	buf = append(buf, ph...)

	if withDynamic {
		dynVaddr := uint64(loadVaddr) + uint64(len(fill))
		ph2 := make([]byte, phEntSize64())
		order.PutUint32(ph2[0:4], reader.PtDynamic)
		order.PutUint32(ph2[4:8], reader.PfR|reader.PfW)
		order.PutUint64(ph2[8:16], dynOff)
		order.PutUint64(ph2[16:24], dynVaddr)
		order.PutUint64(ph2[24:32], dynVaddr)
		order.PutUint64(ph2[32:40], dynSize)
		order.PutUint64(ph2[40:48], dynSize)
		order.PutUint64(ph2[48:56], 8)
		buf = append(buf, ph2...)
	}

	buf = append(buf, fill...)
	if withDynamic {
		buf = append(buf, make([]byte, dynSize)...) // DT_NULL entry, all zero
	}

	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = byte(elfloader.Class64)
	buf[5] = byte(hostData())
	buf[6] = 1
	order.PutUint16(buf[16:18], uint16(elfloader.MachineRISCV))
	order.PutUint32(buf[20:24], 1)
	order.PutUint64(buf[24:32], uint64(loadVaddr)) // e_entry == segment base
	order.PutUint64(buf[32:40], uint64(phOff))
	order.PutUint64(buf[40:48], 0) // no section headers; the loader never reads them
	order.PutUint32(buf[48:52], 0)
	order.PutUint16(buf[52:54], uint16(ehSize64()))
	order.PutUint16(buf[54:56], uint16(phEntSize64()))
	order.PutUint16(buf[56:58], uint16(phnum))
	order.PutUint16(buf[58:60], 0)
	order.PutUint16(buf[60:62], 0)
	order.PutUint16(buf[62:64], 0)

	return buf
}

// ehSize64/phEntSize64/hostData mirror the unexported constants in package
// reader; the loader's tests build their own fixtures rather than reach into
// another package's internals.
func ehSize64() int    { return 64 }
func phEntSize64() int { return 56 }
func hostData() elfloader.Data {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return elfloader.DataLittle
	}
	return elfloader.DataBig
}

func openLoaderReader(t *testing.T, buf []byte) *reader.Reader {
	t.Helper()
	cfg := config.Config{Machine: elfloader.MachineRISCV, Class: elfloader.Class64}
	r, err := reader.Open(bytes.NewReader(buf), cfg, elfloader.NopLogger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

// flatAllocator returns an Allocator that always succeeds, backed by a plain
// heap buffer, placing the region at whatever address the loader requested.
func flatAllocator() Allocator {
	return func(requestedVaddr elfloader.Address, size, alignment uint64) AllocResult {
		return AllocResult{Vaddr: requestedVaddr, Mem: make([]byte, size)}
	}
}

func TestLoadPlacement(t *testing.T) {
	fill := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	buf := buildLoadable(t, 0x8000, fill, 16, false)
	r := openLoaderReader(t, buf)

	prog, err := Load(r, 4, elfloader.NopLogger{}, flatAllocator())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if prog.VaddrReal != 0x8000 {
		t.Fatalf("VaddrReal = 0x%x, want 0x8000", prog.VaddrReal)
	}
	if prog.Size != 16 {
		t.Fatalf("Size = %d, want 16", prog.Size)
	}
	if !bytes.Equal(prog.Mem[0:4], fill) {
		t.Fatalf("Mem[0:4] = %v, want %v", prog.Mem[0:4], fill)
	}
	for i := 4; i < 16; i++ {
		if prog.Mem[i] != 0 {
			t.Fatalf("Mem[%d] = %d, want 0 (bss tail)", i, prog.Mem[i])
		}
	}
}

func TestLoadEntryRelocation(t *testing.T) {
	buf := buildLoadable(t, 0x8000, []byte{1, 2, 3, 4}, 4, false)
	r := openLoaderReader(t, buf)

	reloc := func(requestedVaddr elfloader.Address, size, alignment uint64) AllocResult {
		return AllocResult{Vaddr: requestedVaddr + 0x1000, Mem: make([]byte, size)}
	}
	prog, err := Load(r, 4, elfloader.NopLogger{}, reloc)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if prog.Offs != 0x1000 {
		t.Fatalf("Offs = %d, want 0x1000", prog.Offs)
	}
	if prog.Entry != 0x9000 {
		t.Fatalf("Entry = 0x%x, want 0x9000", prog.Entry)
	}
	if got := prog.Translate(0x8000); got != 0x9000 {
		t.Fatalf("Translate(0x8000) = 0x%x, want 0x9000", got)
	}
}

func TestLoadFailsAllocator(t *testing.T) {
	buf := buildLoadable(t, 0x8000, []byte{1, 2, 3, 4}, 4, false)
	r := openLoaderReader(t, buf)

	refuse := func(elfloader.Address, uint64, uint64) AllocResult { return AllocResult{} }
	if _, err := Load(r, 4, elfloader.NopLogger{}, refuse); err == nil {
		t.Fatal("expected AllocationFailed error")
	} else if k, ok := elfloader.KindOf(err); !ok || k != elfloader.AllocationFailed {
		t.Fatalf("KindOf(err) = %v, %v, want AllocationFailed", k, ok)
	}
}

func TestLoadLocatesDynamic(t *testing.T) {
	buf := buildLoadable(t, 0x8000, []byte{1, 2, 3, 4}, 4, true)
	r := openLoaderReader(t, buf)

	prog, err := Load(r, 4, elfloader.NopLogger{}, flatAllocator())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !prog.HasDynamic {
		t.Fatal("expected HasDynamic = true")
	}
	if prog.Dynamic != 0x8004 {
		t.Fatalf("Dynamic = 0x%x, want 0x8004", prog.Dynamic)
	}
}

func TestLoadRejectsNoLoadSegments(t *testing.T) {
	buf := buildLoadable(t, 0x8000, []byte{1, 2, 3, 4}, 4, false)
	// blank out PT_LOAD's type so EnsureProgs sees no PT_LOAD at all.
	binary.NativeEndian.PutUint32(buf[ehSize64():ehSize64()+4], reader.PtNull)
	r := openLoaderReader(t, buf)

	if _, err := Load(r, 4, elfloader.NopLogger{}, flatAllocator()); err == nil {
		t.Fatal("expected InvalidFormat error for no PT_LOAD segments")
	}
}

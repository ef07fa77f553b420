package reader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/config"
)

// strtab builds a string table starting with the mandatory leading NUL (so
// index 0 is always the empty string), returning the table bytes and the
// byte offset of each name within it.
func strtab(names ...string) ([]byte, map[string]uint32) {
	buf := []byte{0}
	idx := map[string]uint32{"": 0}
	for _, n := range names {
		idx[n] = uint32(len(buf))
		buf = append(buf, []byte(n)...)
		buf = append(buf, 0)
	}
	return buf, idx
}

type sectSpec struct {
	name      string
	typ       uint32
	flags     uint64
	addr      uint64
	offset    uint64
	size      uint64
	link      uint32
	info      uint32
	addralign uint64
	entsize   uint64
}

// buildELF64 assembles a minimal, well-formed ELF64 file in the host's own
// byte order: an ELF header, one PT_LOAD (and optionally one PT_DYNAMIC)
// program header, and the given sections (with .shstrtab appended
// automatically). Section "offset"/"size" of 0 are filled in automatically
// from the bytes in data[name]; callers who need specific on-disk placement
// (PT_DYNAMIC's segment, for instance) pre-fill offset/size themselves and
// omit the section from data.
func buildELF64(t *testing.T, machine elfloader.Machine, dynProg *progSpecT, specs []sectSpec, data map[string][]byte) []byte {
	t.Helper()
	order := binary.NativeEndian

	buf := make([]byte, ehSize64) // header placeholder, patched at the end

	phOff := len(buf)
	phnum := 1

	// PT_LOAD: values are not dereferenced by the reader, only recorded.
	ph := make([]byte, phEntSize64)
	order.PutUint32(ph[0:4], PtLoad)
	order.PutUint32(ph[4:8], PfR|PfX)
	order.PutUint64(ph[8:16], 0)
	order.PutUint64(ph[16:24], 0x1000)
	order.PutUint64(ph[24:32], 0x1000)
	order.PutUint64(ph[32:40], 16)
	order.PutUint64(ph[40:48], 16)
	order.PutUint64(ph[48:56], 0x1000)
	buf = append(buf, ph...)

	if dynProg != nil {
		phnum++
		ph2 := make([]byte, phEntSize64)
		order.PutUint32(ph2[0:4], PtDynamic)
		order.PutUint32(ph2[4:8], PfR|PfW)
		order.PutUint64(ph2[8:16], dynProg.offset)
		order.PutUint64(ph2[16:24], dynProg.vaddr)
		order.PutUint64(ph2[24:32], dynProg.vaddr)
		order.PutUint64(ph2[32:40], dynProg.filesz)
		order.PutUint64(ph2[40:48], dynProg.filesz)
		order.PutUint64(ph2[48:56], 8)
		buf = append(buf, ph2...)
	}

	// section name string table, built from every section name plus an
	// entry for itself.
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.name
	}
	names = append(names, ".shstrtab")
	shstrtabData, nameIdx := strtab(names...)

	// lay out section data (skipping sections that already specify their
	// own offset/size, e.g. PT_DYNAMIC's backing section).
	offsets := make([]uint64, len(specs))
	sizes := make([]uint64, len(specs))
	for i, s := range specs {
		if s.offset != 0 || s.size != 0 {
			offsets[i] = s.offset
			sizes[i] = s.size
			continue
		}
		d := data[s.name]
		offsets[i] = uint64(len(buf))
		sizes[i] = uint64(len(d))
		buf = append(buf, d...)
	}
	shstrtabOff := uint64(len(buf))
	buf = append(buf, shstrtabData...)
	shstrtabSize := uint64(len(shstrtabData))

	// section header table: [0]=SHN_UNDEF null section, then every spec,
	// then .shstrtab itself.
	shOff := len(buf)
	shnum := 1 + len(specs) + 1
	shstrndx := uint16(shnum - 1)

	writeShdr := func(nameOff, typ uint32, flags, addr, offset, size uint64, link, info uint32, addralign, entsize uint64) {
		sh := make([]byte, shEntSize64)
		order.PutUint32(sh[0:4], nameOff)
		order.PutUint32(sh[4:8], typ)
		order.PutUint64(sh[8:16], flags)
		order.PutUint64(sh[16:24], addr)
		order.PutUint64(sh[24:32], offset)
		order.PutUint64(sh[32:40], size)
		order.PutUint32(sh[40:44], link)
		order.PutUint32(sh[44:48], info)
		order.PutUint64(sh[48:56], addralign)
		order.PutUint64(sh[56:64], entsize)
		buf = append(buf, sh...)
	}

	writeShdr(0, ShtNull, 0, 0, 0, 0, 0, 0, 0, 0)
	for i, s := range specs {
		writeShdr(nameIdx[s.name], s.typ, s.flags, s.addr, offsets[i], sizes[i], s.link, s.info, s.addralign, s.entsize)
	}
	writeShdr(nameIdx[".shstrtab"], ShtStrTab, 0, 0, shstrtabOff, shstrtabSize, 0, 0, 1, 0)

	// patch the header now that every offset/count is known.
	buf[0], buf[1], buf[2], buf[3] = magic0, magic1, magic2, magic3
	buf[eiClass] = byte(elfloader.Class64)
	buf[eiData] = byte(hostData)
	buf[eiVersion] = evCurrent
	order.PutUint16(buf[16:18], uint16(machine))
	order.PutUint32(buf[20:24], evCurrent)
	order.PutUint64(buf[24:32], 0x1000) // e_entry
	order.PutUint64(buf[32:40], uint64(phOff))
	order.PutUint64(buf[40:48], uint64(shOff))
	order.PutUint32(buf[48:52], 0) // e_flags
	order.PutUint16(buf[52:54], ehSize64)
	order.PutUint16(buf[54:56], phEntSize64)
	order.PutUint16(buf[56:58], uint16(phnum))
	order.PutUint16(buf[58:60], shEntSize64)
	order.PutUint16(buf[60:62], uint16(shnum))
	order.PutUint16(buf[62:64], shstrndx)

	return buf
}

type progSpecT struct {
	offset, vaddr, filesz uint64
}

func symEntry64(order binary.ByteOrder, nameOff uint32, info, other byte, shndx uint16, value, size uint64) []byte {
	b := make([]byte, symEntSize64)
	order.PutUint32(b[0:4], nameOff)
	b[4] = info
	b[5] = other
	order.PutUint16(b[6:8], shndx)
	order.PutUint64(b[8:16], value)
	order.PutUint64(b[16:24], size)
	return b
}

func openReader(t *testing.T, buf []byte, machine elfloader.Machine) *Reader {
	t.Helper()
	cfg := config.Config{Machine: machine, Class: elfloader.Class64}
	r, err := Open(bytes.NewReader(buf), cfg, elfloader.NopLogger{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func staticELF(t *testing.T) []byte {
	t.Helper()
	order := binary.NativeEndian
	strData, strIdx := strtab("start", "helper")
	sym0 := make([]byte, symEntSize64) // mandatory null symbol
	sym1 := symEntry64(order, strIdx["start"], 0x12, 0, 1, 0x1000, 0)
	sym2 := symEntry64(order, strIdx["helper"], 0x11, 0, 1, 0x1004, 4)
	symtabData := append(append(sym0, sym1...), sym2...)

	// .strtab is specs[0], .symtab is specs[1]; link must point at .strtab's
	// section index, which is 1 (index 0 is the mandatory null section).
	specs := []sectSpec{
		{name: ".strtab", typ: ShtStrTab, addralign: 1},
		{name: ".symtab", typ: ShtSymTab, link: 1, entsize: symEntSize64, addralign: 8},
	}

	data := map[string][]byte{
		".strtab": strData,
		".symtab": symtabData,
	}
	return buildELF64(t, elfloader.MachineRISCV, nil, specs, data)
}

func TestOpenValid(t *testing.T) {
	r := openReader(t, staticELF(t), 0)
	if !r.Valid() {
		t.Fatal("expected valid reader")
	}
	if r.Header().Machine != elfloader.MachineRISCV {
		t.Fatalf("Machine = %v, want riscv", r.Header().Machine)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	buf := staticELF(t)
	buf[0] = 0x00
	if _, err := Open(bytes.NewReader(buf), config.Config{Class: elfloader.Class64}, nil); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestOpenRejectsWrongClass(t *testing.T) {
	buf := staticELF(t)
	cfg := config.Config{Class: elfloader.Class32}
	if _, err := Open(bytes.NewReader(buf), cfg, nil); err == nil {
		t.Fatal("expected error for class mismatch")
	}
}

func TestOpenRejectsWrongEndianness(t *testing.T) {
	buf := staticELF(t)
	if hostData == elfloader.DataLittle {
		buf[eiData] = byte(elfloader.DataBig)
	} else {
		buf[eiData] = byte(elfloader.DataLittle)
	}
	if _, err := Open(bytes.NewReader(buf), config.Config{Class: elfloader.Class64}, nil); err == nil {
		t.Fatal("expected error for endianness mismatch")
	}
}

func TestOpenRejectsBadVersion(t *testing.T) {
	buf := staticELF(t)
	buf[eiVersion] = 0
	if _, err := Open(bytes.NewReader(buf), config.Config{Class: elfloader.Class64}, nil); err == nil {
		t.Fatal("expected error for EI_VERSION mismatch")
	}
}

func TestOpenRejectsBadHeaderSize(t *testing.T) {
	buf := staticELF(t)
	binary.NativeEndian.PutUint16(buf[52:54], 63)
	if _, err := Open(bytes.NewReader(buf), config.Config{Class: elfloader.Class64}, nil); err == nil {
		t.Fatal("expected error for e_ehsize mismatch")
	}
}

func TestOpenRejectsMachineMismatch(t *testing.T) {
	buf := staticELF(t)
	cfg := config.Config{Machine: elfloader.MachineX8664, Class: elfloader.Class64}
	if _, err := Open(bytes.NewReader(buf), cfg, nil); err == nil {
		t.Fatal("expected error for machine mismatch")
	}
}

func TestReadAllRoundTrip(t *testing.T) {
	buf := staticELF(t)
	r := openReader(t, buf, 0)
	if err := r.ReadAll(); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(r.Progs()) != int(r.Header().PhNum) {
		t.Fatalf("len(Progs) = %d, want %d", len(r.Progs()), r.Header().PhNum)
	}
	if len(r.Sects()) != int(r.Header().ShNum) {
		t.Fatalf("len(Sects) = %d, want %d", len(r.Sects()), r.Header().ShNum)
	}
	if len(r.Syms()) != 3 {
		t.Fatalf("len(Syms) = %d, want 3 (null + start + helper)", len(r.Syms()))
	}
	if len(r.DynSyms()) != 0 {
		t.Fatalf("len(DynSyms) = %d, want 0 (no .dynsym present)", len(r.DynSyms()))
	}
	sym, ok := r.FindSymbol("start")
	if !ok || sym.Value != 0x1000 {
		t.Fatalf("FindSymbol(start) = %+v, %v", sym, ok)
	}
	if _, ok := r.FindSymbol("nonexistent"); ok {
		t.Fatal("FindSymbol(nonexistent) should not be found")
	}
}

func TestReadAllMissingSymtabIsNotAnError(t *testing.T) {
	buf := buildELF64(t, elfloader.MachineRISCV, nil, nil, nil)
	r := openReader(t, buf, 0)
	if err := r.ReadAll(); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if r.Syms() != nil {
		t.Fatalf("Syms() = %v, want nil", r.Syms())
	}
}

func TestReadAllRejectsOutOfRangeStrtabLink(t *testing.T) {
	buf := staticELF(t)
	r := openReader(t, buf, 0)

	// Section 1 is .strtab, section 2 is .symtab; corrupt .symtab's sh_link
	// to point past shnum.
	h := r.Header()
	symtabShIdx := 2
	shOff := int64(h.ShOff) + int64(symtabShIdx)*int64(h.ShEntSize)
	binary.NativeEndian.PutUint32(buf[shOff+40:shOff+44], uint32(h.ShNum)+5)

	r2 := openReader(t, buf, 0)
	if err := r2.ReadAll(); err == nil {
		t.Fatal("expected error for out-of-range sh_link")
	}
	if r2.Valid() {
		t.Fatal("reader should be poisoned after a parse failure")
	}
}

func TestReadAllRejectsOutOfRangeSymbolShndx(t *testing.T) {
	buf := staticELF(t)
	r := openReader(t, buf, 0)
	h := r.Header()

	// locate .symtab's file offset (specs[1]) to corrupt the first real
	// symbol's st_shndx.
	if err := r.ReadAll(); err != nil {
		t.Fatalf("ReadAll (control): %v", err)
	}
	symtab, ok := r.FindSection(".symtab")
	if !ok {
		t.Fatal("expected a .symtab section")
	}
	// symbol 1 (index 0 is the mandatory null symbol) starts at
	// symtab.Offset + symEntSize64; st_shndx is at byte offset 6 within it.
	shndxOff := int64(symtab.Offset) + symEntSize64 + 6
	binary.NativeEndian.PutUint16(buf[shndxOff:shndxOff+2], uint16(h.ShNum)+100)

	r2 := openReader(t, buf, 0)
	if err := r2.ReadAll(); err == nil {
		t.Fatal("expected error for out-of-range st_shndx")
	}
}

func TestStringTableBoundsSafety(t *testing.T) {
	buf := staticELF(t)
	r := openReader(t, buf, 0)
	if err := r.ReadAll(); err != nil {
		t.Fatalf("ReadAll (control): %v", err)
	}
	symtab, _ := r.FindSection(".symtab")
	// corrupt symbol 1's st_name to reference an index well past the end
	// of the (short) string table.
	strtab, _ := r.FindSection(".strtab")
	nameOff := int64(symtab.Offset) + symEntSize64
	binary.NativeEndian.PutUint32(buf[nameOff:nameOff+4], uint32(strtab.Size)+1000)

	r2 := openReader(t, buf, 0)
	if err := r2.ReadAll(); err == nil {
		t.Fatal("expected error for out-of-bounds string index")
	}
}

func dynamicELF(t *testing.T) []byte {
	t.Helper()
	order := binary.NativeEndian

	dynstrData, dynstrIdx := strtab("libc.so")

	// DT_NEEDED -> "libc.so", then DT_NULL.
	dyn := make([]byte, 0, dynEntSize64*2)
	e1 := make([]byte, dynEntSize64)
	order.PutUint64(e1[0:8], DtNeeded)
	order.PutUint64(e1[8:16], uint64(dynstrIdx["libc.so"]))
	dyn = append(dyn, e1...)
	e2 := make([]byte, dynEntSize64)
	order.PutUint64(e2[0:8], DtNull)
	dyn = append(dyn, e2...)

	// The dynamic segment's bytes are placed right after the program
	// headers by buildELF64 when a section also claims that file range, so
	// here we give PT_DYNAMIC its own section (".dynamic") to host the
	// bytes, and point both at the same offset/size pair chosen by the
	// builder once section layout is known. We pre-compute the offset by
	// reserving it as the first section written.
	// section indices, once built: 0=null, 1=.dynamic, 2=.dynstr, 3=.dynsym, 4=.shstrtab.
	specs := []sectSpec{
		{name: ".dynamic", typ: ShtDynamic, link: 2, addralign: 8},
		{name: ".dynstr", typ: ShtStrTab, addralign: 1},
		{name: ".dynsym", typ: ShtDynSym, link: 2, entsize: symEntSize64, addralign: 8},
	}
	data := map[string][]byte{
		".dynamic": dyn,
		".dynstr":  dynstrData,
		".dynsym":  make([]byte, symEntSize64), // just the mandatory null symbol
	}

	// First pass: build with a placeholder PT_DYNAMIC (same byte length as
	// the real one, so section layout is identical) to discover where
	// buildELF64 places ".dynamic", then rebuild with the real offset/size
	// so the program header and the section agree.
	probe := buildELF64(t, elfloader.MachineRISCV, &progSpecT{}, specs, data)
	probeReader := openReader(t, probe, 0)
	if err := probeReader.ReadAll(); err != nil {
		t.Fatalf("probe ReadAll: %v", err)
	}
	dynSec, ok := probeReader.FindSection(".dynamic")
	if !ok {
		t.Fatal("probe missing .dynamic section")
	}

	dynProg := &progSpecT{offset: dynSec.Offset, vaddr: 0x2000, filesz: dynSec.Size}
	return buildELF64(t, elfloader.MachineRISCV, dynProg, specs, data)
}

func TestReadDynamicCollectsNeeded(t *testing.T) {
	buf := dynamicELF(t)
	r := openReader(t, buf, 0)
	if err := r.ReadDynamic(); err != nil {
		t.Fatalf("ReadDynamic: %v", err)
	}
	if len(r.Needed()) != 1 || r.Needed()[0] != "libc.so" {
		t.Fatalf("Needed = %v, want [libc.so]", r.Needed())
	}
}

func TestReadDynamicFailsWithoutPTDynamic(t *testing.T) {
	buf := staticELF(t)
	r := openReader(t, buf, 0)
	if err := r.ReadDynamic(); err == nil {
		t.Fatal("expected error: no PT_DYNAMIC present")
	}
}

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

// Package riscv implements the RISC-V relocation engine registered against
// elfloader.MachineRISCV.
package riscv

import (
	"encoding/binary"
	"math/bits"

	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/loader"
	"github.com/robotman2412/elfloader/reader"
	"github.com/robotman2412/elfloader/reloc"
)

// Relocation types, from the RISC-V ELF psABI.
const (
	RNone       = 0
	R32         = 1
	R64         = 2
	RRelative   = 3
	RJumpSlot   = 5
	RCall       = 18
	RCallPlt    = 19
	RBranch     = 16
	RJal        = 17
	RPCRelHi20  = 23
	RPCRelLo12I = 24
	RPCRelLo12S = 25
)

func init() {
	reloc.Register(elfloader.MachineRISCV, func() reloc.Engine { return &engine{} })
}

// hi20Record is a recorded R_RISCV_PCREL_HI20 site, keyed by its file-view
// target address, holding the already-computed displacement (S + A) - P. LO12 entries
// referencing this site's address inherit the displacement rather than
// resolving their own symbol.
type hi20Record struct {
	disp int64
}

type engine struct{}

// Apply implements reloc.Engine. It performs a first pass recording every
// PCREL_HI20 site by its file-view target address, then a second pass that
// applies every entry, so a LO12 entry can always find its paired HI20
// regardless of section order.
func (engine) Apply(_ *reader.Reader, prog *loader.Program, sections []reloc.RelSection, resolve reloc.SymbolResolver, log elfloader.Logger) error {
	// The reader already validated EI_DATA == host byte order (package
	// reader does not support cross-endian files), so patched words are
	// always written in the host's own order.
	order := binary.NativeEndian
	hi20 := map[uint64]hi20Record{}

	for _, sec := range sections {
		for _, e := range sec.Entries {
			if e.Type != RPCRelHi20 {
				continue
			}
			fileAddr := sec.Target.Addr + elfloader.Address(e.Offset)
			s, a, err := resolveSym(prog, sec.Syms, e, resolve)
			if err != nil {
				return err
			}
			p := int64(prog.Translate(fileAddr))
			hi20[uint64(fileAddr)] = hi20Record{disp: int64(s) + a - p}
		}
	}

	for _, sec := range sections {
		for _, e := range sec.Entries {
			fileAddr := sec.Target.Addr + elfloader.Address(e.Offset)
			target := prog.Translate(fileAddr)
			dst := int64(target) - int64(prog.VaddrReal)
			if dst < 0 || dst+4 > int64(len(prog.Mem)) {
				return elfloader.NewError(elfloader.InvalidFormat, "relocation target 0x%x outside loaded image", target)
			}
			word := prog.Mem[dst : dst+4]
			if bits.UintSize == 64 && (e.Type == RRelative || e.Type == RJumpSlot) && dst+8 > int64(len(prog.Mem)) {
				return elfloader.NewError(elfloader.InvalidFormat, "relocation target 0x%x outside loaded image", target)
			}

			switch e.Type {
			case RNone:
				// no-op.
			case R32:
				s, a, err := resolveSym(prog, sec.Syms, e, resolve)
				if err != nil {
					return err
				}
				order.PutUint32(word, uint32(int64(s)+a))
			case R64:
				if dst+8 > int64(len(prog.Mem)) {
					return elfloader.NewError(elfloader.InvalidFormat, "R_RISCV_64 target 0x%x outside loaded image", target)
				}
				s, a, err := resolveSym(prog, sec.Syms, e, resolve)
				if err != nil {
					return err
				}
				order.PutUint64(prog.Mem[dst:dst+8], uint64(int64(s)+a))
			case RRelative:
				a := e.Addend
				if bits.UintSize == 64 {
					if dst+8 > int64(len(prog.Mem)) {
						return elfloader.NewError(elfloader.InvalidFormat, "R_RISCV_RELATIVE target 0x%x outside loaded image", target)
					}
					if !e.HasAddend {
						a = int64(order.Uint64(prog.Mem[dst : dst+8]))
					}
					order.PutUint64(prog.Mem[dst:dst+8], uint64(prog.Offs+a))
					break
				}
				if !e.HasAddend {
					a = int64(order.Uint32(word))
				}
				order.PutUint32(word, uint32(prog.Offs+a))
			case RJumpSlot:
				s, _, err := resolveSym(prog, sec.Syms, e, resolve)
				if err != nil {
					return err
				}
				if bits.UintSize == 64 {
					order.PutUint64(prog.Mem[dst:dst+8], uint64(s))
					break
				}
				order.PutUint32(word, uint32(s))
			case RCall, RCallPlt:
				s, a, err := resolveSym(prog, sec.Syms, e, resolve)
				if err != nil {
					return err
				}
				disp := int64(s) + a - int64(target)
				if dst+8 > int64(len(prog.Mem)) {
					return elfloader.NewError(elfloader.InvalidFormat, "R_RISCV_CALL target 0x%x outside loaded image", target)
				}
				patchAUIPCJALR(order, prog.Mem[dst:dst+8], disp)
			case RBranch:
				s, a, err := resolveSym(prog, sec.Syms, e, resolve)
				if err != nil {
					return err
				}
				disp := int64(s) + a - int64(target)
				patchBType(order, word, disp)
			case RJal:
				s, a, err := resolveSym(prog, sec.Syms, e, resolve)
				if err != nil {
					return err
				}
				disp := int64(s) + a - int64(target)
				patchJType(order, word, disp)
			case RPCRelHi20:
				rec := hi20[uint64(fileAddr)]
				patchUType(order, word, rec.disp)
			case RPCRelLo12I, RPCRelLo12S:
				// A LO12 entry's symbol+addend names the file-view address
				// of its paired HI20 site directly; unlike every other
				// type, this is a lookup key, not something to resolve
				// through offs or the undefined-symbol resolver.
				if int(e.Sym) >= len(sec.Syms) {
					return elfloader.NewError(elfloader.InvalidFormat, "relocation symbol index %d out of range (%d symbols)", e.Sym, len(sec.Syms))
				}
				pairSym := sec.Syms[e.Sym]
				pairAddr := uint64(int64(pairSym.Value) + e.Addend)
				rec, ok := hi20[pairAddr]
				if !ok {
					return elfloader.NewError(elfloader.InvalidFormat, "PCREL_LO12 at 0x%x has no paired HI20 at 0x%x", target, pairAddr)
				}
				if e.Type == RPCRelLo12I {
					patchIType(order, word, rec.disp)
				} else {
					patchSType(order, word, rec.disp)
				}
			default:
				return elfloader.NewError(elfloader.UnsupportedRelocation, "unsupported RISC-V relocation type %d", e.Type)
			}
		}
	}

	log.Infof("riscv: applied relocations across %d section(s)", len(sections))
	return nil
}

// resolveSym resolves entry e's symbol to a runtime address S and returns
// its addend A. A SHN_UNDEF symbol is resolved through resolve; any other
// symbol is sym.Value + prog.Offs.
func resolveSym(prog *loader.Program, syms []reader.SymInfo, e reloc.RelEntry, resolve reloc.SymbolResolver) (elfloader.Address, int64, error) {
	a := e.Addend
	if int(e.Sym) >= len(syms) {
		return 0, 0, elfloader.NewError(elfloader.InvalidFormat, "relocation symbol index %d out of range (%d symbols)", e.Sym, len(syms))
	}
	sym := syms[e.Sym]

	if sym.Shndx == reader.ShnUndef {
		if resolve == nil {
			return 0, 0, elfloader.NewError(elfloader.InvalidFormat, "undefined symbol %q with no resolver configured", sym.Name)
		}
		addr, ok := resolve(sym.Name)
		if !ok {
			return 0, 0, elfloader.NewError(elfloader.InvalidFormat, "unresolved undefined symbol %q", sym.Name)
		}
		return addr, a, nil
	}
	return elfloader.Address(int64(sym.Value) + prog.Offs), a, nil
}

// patchAUIPCJALR encodes disp as an AUIPC (hi20) followed by a JALR (lo12)
// at word[0:4] and word[4:8] respectively, preserving each instruction's
// opcode/rd/rs1 bits already present.
func patchAUIPCJALR(order binary.ByteOrder, word []byte, disp int64) {
	hi, lo := splitHiLo(disp)
	auipc := order.Uint32(word[0:4])
	auipc = (auipc & 0xFFF) | (uint32(hi) << 12)
	order.PutUint32(word[0:4], auipc)

	jalr := order.Uint32(word[4:8])
	jalr = (jalr & 0x000FFFFF) | (uint32(lo&0xFFF) << 20)
	order.PutUint32(word[4:8], jalr)
}

// patchUType rewrites a U-type instruction's imm[31:12] field (used for both
// LUI and AUIPC) to the high 20 bits of disp (with the LO12 rounding
// adjustment applied so HI20+LO12I/S reconstruct disp exactly).
func patchUType(order binary.ByteOrder, word []byte, disp int64) {
	hi, _ := splitHiLo(disp)
	insn := order.Uint32(word)
	insn = (insn & 0xFFF) | (uint32(hi) << 12)
	order.PutUint32(word, insn)
}

// patchIType rewrites an I-type instruction's imm[11:0] field to the low 12
// bits of disp.
func patchIType(order binary.ByteOrder, word []byte, disp int64) {
	_, lo := splitHiLo(disp)
	insn := order.Uint32(word)
	insn = (insn & 0x000FFFFF) | (uint32(lo&0xFFF) << 20)
	order.PutUint32(word, insn)
}

// patchSType rewrites an S-type instruction's split imm[11:5]/imm[4:0]
// fields to the low 12 bits of disp.
func patchSType(order binary.ByteOrder, word []byte, disp int64) {
	_, lo := splitHiLo(disp)
	imm := uint32(lo) & 0xFFF
	insn := order.Uint32(word)
	insn &^= 0xFE000F80
	insn |= (imm & 0x1F) << 7
	insn |= ((imm >> 5) & 0x7F) << 25
	order.PutUint32(word, insn)
}

// patchBType rewrites a B-type instruction's split branch-offset fields to
// disp, which must be even (RISC-V branch targets are 2-byte aligned).
func patchBType(order binary.ByteOrder, word []byte, disp int64) {
	imm := uint32(disp)
	insn := order.Uint32(word)
	insn &^= 0xFE000F80
	insn |= ((imm >> 11) & 0x1) << 7
	insn |= ((imm >> 1) & 0xF) << 8
	insn |= ((imm >> 5) & 0x3F) << 25
	insn |= ((imm >> 12) & 0x1) << 31
	order.PutUint32(word, insn)
}

// patchJType rewrites a J-type instruction's split jump-offset fields to
// disp, which must be even.
func patchJType(order binary.ByteOrder, word []byte, disp int64) {
	imm := uint32(disp)
	insn := order.Uint32(word)
	insn &^= 0xFFFFF000
	insn |= ((imm >> 12) & 0xFF) << 12
	insn |= ((imm >> 11) & 0x1) << 20
	insn |= ((imm >> 1) & 0x3FF) << 21
	insn |= ((imm >> 20) & 0x1) << 31
	order.PutUint32(word, insn)
}

// splitHiLo splits disp into the HI20/LO12 pair the psABI defines: lo is the
// sign-extending low 12 bits, hi is the remaining high bits adjusted so that
// (hi<<12)+signExtend12(lo) reconstructs disp exactly.
func splitHiLo(disp int64) (hi int32, lo int32) {
	lo = int32(disp & 0xFFF)
	if lo >= 0x800 {
		lo -= 0x1000
	}
	hi = int32((disp - int64(lo)) >> 12)
	return hi, lo
}

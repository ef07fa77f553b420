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

package reader

import "github.com/robotman2412/elfloader"

// SymInfo is a parsed symbol-table entry.
type SymInfo struct {
	Name    string
	NameIdx uint32
	Value   elfloader.Address
	Size    uint64
	Info    byte
	Other   byte
	Shndx   uint16
}

// Bind returns the symbol's binding (the upper 4 bits of st_info).
func (s SymInfo) Bind() byte { return s.Info >> 4 }

// Type returns the symbol's type (the lower 4 bits of st_info).
func (s SymInfo) Type() byte { return s.Info & 0xf }

// readSymtab parses the symbol table named secName (".symtab" or ".dynsym")
// into *out. Absence of the named section is not an error: *out is left nil.
// A present section with no valid link to a string table is InvalidFormat.
//
// readSects must have run first; readSymtab does not parse sections itself.
func (r *Reader) readSymtab(secName string, out *[]SymInfo) error {
	sec, ok := r.FindSection(secName)
	if !ok {
		*out = nil
		return nil
	}

	if int(sec.Link) >= len(r.sects) {
		return elfloader.NewError(elfloader.InvalidFormat, "%s: sh_link %d out of range (shnum=%d)", secName, sec.Link, len(r.sects))
	}
	strs, err := r.loadStringTable(r.sects[sec.Link])
	if err != nil {
		return elfloader.WrapError(elfloader.InvalidFormat, err, "%s: loading linked string table", secName)
	}

	entSize := int(sec.EntSize)
	if entSize == 0 {
		if r.header.Class == elfloader.Class32 {
			entSize = symEntSize32
		} else {
			entSize = symEntSize64
		}
	}
	if entSize == 0 || sec.Size%uint64(entSize) != 0 {
		return elfloader.NewError(elfloader.InvalidFormat, "%s: size %d not a multiple of entsize %d", secName, sec.Size, entSize)
	}
	count := int(sec.Size / uint64(entSize))

	order := r.header.byteOrder()
	syms := make([]SymInfo, 0, count)
	buf := make([]byte, entSize)
	shnum := len(r.sects)

	for i := 0; i < count; i++ {
		off := int64(sec.Offset) + int64(i)*int64(entSize)
		if err := r.readAt(buf, off); err != nil {
			return elfloader.WrapError(elfloader.IoError, err, "%s: reading entry %d", secName, i)
		}

		var s SymInfo
		if r.header.Class == elfloader.Class32 {
			s.NameIdx = order.Uint32(buf[0:4])
			s.Value = elfloader.Address(order.Uint32(buf[4:8]))
			s.Size = uint64(order.Uint32(buf[8:12]))
			s.Info = buf[12]
			s.Other = buf[13]
			s.Shndx = order.Uint16(buf[14:16])
		} else {
			s.NameIdx = order.Uint32(buf[0:4])
			s.Info = buf[4]
			s.Other = buf[5]
			s.Shndx = order.Uint16(buf[6:8])
			s.Value = elfloader.Address(order.Uint64(buf[8:16]))
			s.Size = order.Uint64(buf[16:24])
		}

		// Out-of-range indices in [shnum, 0xff00) are a parse error; the
		// reserved range [0xff00, 0xffff] passes through unchecked.
		if int(s.Shndx) >= shnum && s.Shndx < ShnLoReserve {
			return elfloader.NewError(elfloader.InvalidFormat, "%s: entry %d has out-of-range st_shndx %d (shnum=%d)", secName, i, s.Shndx, shnum)
		}

		name, err := stringAt(strs, s.NameIdx)
		if err != nil {
			return elfloader.WrapError(elfloader.InvalidFormat, err, "%s: resolving name of entry %d", secName, i)
		}
		s.Name = name

		syms = append(syms, s)
	}

	*out = syms
	return nil
}

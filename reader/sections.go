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

import (
	"bytes"

	"github.com/robotman2412/elfloader"
)

// SectInfo is a parsed section-header entry, with its name resolved from the
// section-name string table in a second pass.
type SectInfo struct {
	Name      string
	NameIdx   uint32
	Type      uint32
	Flags     uint64
	Addr      elfloader.Address
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// readSects parses the section-header table, if it hasn't been parsed yet,
// then resolves every section's name from the section-name string table at
// index ShStrNdx.
func (r *Reader) readSects() error {
	if r.sectsRead {
		return nil
	}
	h := r.header
	order := h.byteOrder()

	entSize := int(h.ShEntSize)
	if h.ShNum == 0 {
		r.sectsRead = true
		return nil
	}
	if entSize == 0 {
		return elfloader.NewError(elfloader.InvalidFormat, "sh_entsize is zero with shnum=%d", h.ShNum)
	}

	sects := make([]SectInfo, 0, h.ShNum)
	buf := make([]byte, entSize)
	for i := 0; i < int(h.ShNum); i++ {
		off := int64(h.ShOff) + int64(i)*int64(entSize)
		if err := r.readAt(buf, off); err != nil {
			return err
		}

		var s SectInfo
		if h.Class == elfloader.Class32 {
			s.NameIdx = order.Uint32(buf[0:4])
			s.Type = order.Uint32(buf[4:8])
			s.Flags = uint64(order.Uint32(buf[8:12]))
			s.Addr = elfloader.Address(order.Uint32(buf[12:16]))
			s.Offset = uint64(order.Uint32(buf[16:20]))
			s.Size = uint64(order.Uint32(buf[20:24]))
			s.Link = order.Uint32(buf[24:28])
			s.Info = order.Uint32(buf[28:32])
			s.AddrAlign = uint64(order.Uint32(buf[32:36]))
			s.EntSize = uint64(order.Uint32(buf[36:40]))
		} else {
			s.NameIdx = order.Uint32(buf[0:4])
			s.Type = order.Uint32(buf[4:8])
			s.Flags = order.Uint64(buf[8:16])
			s.Addr = elfloader.Address(order.Uint64(buf[16:24]))
			s.Offset = order.Uint64(buf[24:32])
			s.Size = order.Uint64(buf[32:40])
			s.Link = order.Uint32(buf[40:44])
			s.Info = order.Uint32(buf[44:48])
			s.AddrAlign = order.Uint64(buf[48:56])
			s.EntSize = order.Uint64(buf[56:64])
		}
		sects = append(sects, s)
	}

	if int(h.ShStrNdx) < len(sects) {
		strs, err := r.loadStringTable(sects[h.ShStrNdx])
		if err != nil {
			return err
		}
		for i := range sects {
			name, err := stringAt(strs, sects[i].NameIdx)
			if err != nil {
				return elfloader.WrapError(elfloader.InvalidFormat, err, "resolving name of section %d", i)
			}
			sects[i].Name = name
		}
	}

	r.sects = sects
	r.sectsRead = true
	return nil
}

// loadStringTable bulk-loads a string-table section into memory.
func (r *Reader) loadStringTable(s SectInfo) ([]byte, error) {
	buf := make([]byte, s.Size)
	if s.Size == 0 {
		return buf, nil
	}
	if err := r.readAt(buf, int64(s.Offset)); err != nil {
		return nil, err
	}
	return buf, nil
}

// stringAt reads a NUL-terminated string from a bulk-loaded string table at
// byte index idx. If idx is at or beyond the table size, this is an
// InvalidFormat error: no out-of-bounds byte is ever read.
func stringAt(table []byte, idx uint32) (string, error) {
	if uint64(idx) >= uint64(len(table)) {
		return "", elfloader.NewError(elfloader.InvalidFormat, "string index %d out of bounds for table of size %d", idx, len(table))
	}
	rest := table[idx : len(table)-1]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		// strnlen semantics: no more than table_size - idx - 1 bytes are
		// ever considered, so an unterminated tail is truncated, not an
		// out-of-bounds read.
		end = len(rest)
	}
	return string(rest[:end]), nil
}

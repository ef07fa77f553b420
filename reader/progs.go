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

// ProgInfo is a parsed program-header entry. On-file fields are preserved
// as-is; the loader interprets Type/Flags/Vaddr/Memsz/Filesz to place
// PT_LOAD segments and to locate PT_DYNAMIC.
type ProgInfo struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  elfloader.Address
	Paddr  elfloader.Address
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// readProgs parses the program-header table if it hasn't been parsed yet.
func (r *Reader) readProgs() error {
	if r.progsRead {
		return nil
	}
	h := r.header
	order := h.byteOrder()

	entSize := int(h.PhEntSize)
	if entSize == 0 {
		if h.PhNum == 0 {
			r.progsRead = true
			return nil
		}
		if h.Class == elfloader.Class32 {
			entSize = phEntSize32
		} else {
			entSize = phEntSize64
		}
	}

	progs := make([]ProgInfo, 0, h.PhNum)
	buf := make([]byte, entSize)
	for i := 0; i < int(h.PhNum); i++ {
		off := int64(h.PhOff) + int64(i)*int64(entSize)
		if err := r.readAt(buf, off); err != nil {
			return err
		}

		var p ProgInfo
		if h.Class == elfloader.Class32 {
			p.Type = order.Uint32(buf[0:4])
			p.Offset = uint64(order.Uint32(buf[4:8]))
			p.Vaddr = elfloader.Address(order.Uint32(buf[8:12]))
			p.Paddr = elfloader.Address(order.Uint32(buf[12:16]))
			p.Filesz = uint64(order.Uint32(buf[16:20]))
			p.Memsz = uint64(order.Uint32(buf[20:24]))
			p.Flags = order.Uint32(buf[24:28])
			p.Align = uint64(order.Uint32(buf[28:32]))
		} else {
			p.Type = order.Uint32(buf[0:4])
			p.Flags = order.Uint32(buf[4:8])
			p.Offset = order.Uint64(buf[8:16])
			p.Vaddr = elfloader.Address(order.Uint64(buf[16:24]))
			p.Paddr = elfloader.Address(order.Uint64(buf[24:32]))
			p.Filesz = order.Uint64(buf[32:40])
			p.Memsz = order.Uint64(buf[40:48])
			p.Align = order.Uint64(buf[48:56])
		}
		progs = append(progs, p)
	}

	r.progs = progs
	r.progsRead = true
	return nil
}

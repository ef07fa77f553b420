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

// dynEntry is a single PT_DYNAMIC entry. Only the tag and value are kept;
// this loader consumes only DT_NEEDED, per its scope (§1).
type dynEntry struct {
	Tag int64
	Val uint64
}

// ProgDynamic returns the PT_DYNAMIC program header, if any. readProgs must
// have run first.
func (r *Reader) ProgDynamic() (ProgInfo, bool) {
	for _, p := range r.progs {
		if p.Type == PtDynamic {
			return p, true
		}
	}
	return ProgInfo{}, false
}

// readNeeded parses PT_DYNAMIC and collects the ordered DT_NEEDED dependency
// names into r.needed, resolving each through the .dynstr section. It fails
// if no PT_DYNAMIC program header is present.
func (r *Reader) readNeeded() error {
	if r.neededRead {
		return nil
	}

	dyn, ok := r.ProgDynamic()
	if !ok {
		return elfloader.NewError(elfloader.InvalidFormat, "no PT_DYNAMIC program header present")
	}

	entSize := dynEntSize64
	if r.header.Class == elfloader.Class32 {
		entSize = dynEntSize32
	}
	if entSize == 0 || dyn.Filesz%uint64(entSize) != 0 {
		return elfloader.NewError(elfloader.InvalidFormat, "PT_DYNAMIC filesz %d not a multiple of entsize %d", dyn.Filesz, entSize)
	}
	count := int(dyn.Filesz / uint64(entSize))

	order := r.header.byteOrder()
	entries := make([]dynEntry, 0, count)
	buf := make([]byte, entSize)
	for i := 0; i < count; i++ {
		off := int64(dyn.Offset) + int64(i)*int64(entSize)
		if err := r.readAt(buf, off); err != nil {
			return elfloader.WrapError(elfloader.IoError, err, "PT_DYNAMIC: reading entry %d", i)
		}
		var e dynEntry
		if r.header.Class == elfloader.Class32 {
			e.Tag = int64(int32(order.Uint32(buf[0:4])))
			e.Val = uint64(order.Uint32(buf[4:8]))
		} else {
			e.Tag = int64(order.Uint64(buf[0:8]))
			e.Val = order.Uint64(buf[8:16])
		}
		entries = append(entries, e)
		if e.Tag == DtNull {
			break
		}
	}

	var needed []string
	if hasNeeded(entries) {
		dynstr, ok := r.FindSection(".dynstr")
		if !ok {
			return elfloader.NewError(elfloader.InvalidFormat, "PT_DYNAMIC has DT_NEEDED entries but no .dynstr section")
		}
		strs, err := r.loadStringTable(dynstr)
		if err != nil {
			return elfloader.WrapError(elfloader.InvalidFormat, err, "loading .dynstr")
		}
		for _, e := range entries {
			if e.Tag != DtNeeded {
				continue
			}
			name, err := stringAt(strs, uint32(e.Val))
			if err != nil {
				return elfloader.WrapError(elfloader.InvalidFormat, err, "resolving DT_NEEDED value %d", e.Val)
			}
			needed = append(needed, name)
		}
	}

	r.needed = needed
	r.neededRead = true
	return nil
}

func hasNeeded(entries []dynEntry) bool {
	for _, e := range entries {
		if e.Tag == DtNeeded {
			return true
		}
	}
	return false
}

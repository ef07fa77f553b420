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
	"encoding/binary"

	"github.com/robotman2412/elfloader"
)

// hostData reports the loader's own byte order, i.e. the only value EI_DATA
// is allowed to take for open to succeed. Determined once via
// binary.NativeEndian rather than hard-coded, so the loader is correct on
// both little- and big-endian hosts without a build tag.
var hostData = func() elfloader.Data {
	if binary.NativeEndian.Uint16([]byte{1, 0}) == 1 {
		return elfloader.DataLittle
	}
	return elfloader.DataBig
}()

// Header is the parsed and validated ELF file header.
type Header struct {
	Class     elfloader.Class
	Data      elfloader.Data
	Version   uint32
	Machine   elfloader.Machine
	Entry     elfloader.Address
	PhOff     uint64
	ShOff     uint64
	Flags     uint32
	EhSize    uint16
	PhEntSize uint16
	PhNum     uint16
	ShEntSize uint16
	ShNum     uint16
	ShStrNdx  uint16
}

// byteOrder returns the binary.ByteOrder corresponding to h.Data. Only called
// after h.Data has been validated to equal hostData, so it never needs to
// report failure.
func (h Header) byteOrder() binary.ByteOrder {
	if h.Data == elfloader.DataBig {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ByteOrder exposes byteOrder to other packages in this module (reloc, in
// particular, needs it to decode relocation entries from the same file).
func (h Header) ByteOrder() binary.ByteOrder { return h.byteOrder() }

// parseHeader validates and decodes the ELF file header from buf, which must
// contain at least ehSize32 bytes (the smallest possible header).
//
// Invariants enforced, matching the loader's contract: magic matches; class
// equals Class32 or Class64; data equals the host's own byte order; both
// version fields equal 1; the declared header size equals the known on-disk
// size for the detected class; if wantMachine is non-zero, the file's machine
// must match it.
func parseHeader(buf []byte, wantMachine elfloader.Machine) (Header, error) {
	if len(buf) < eiIdentSize+8 {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "file too short for an ELF identification block")
	}
	if buf[eiMag0] != magic0 || buf[eiMag1] != magic1 || buf[eiMag2] != magic2 || buf[eiMag3] != magic3 {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "bad magic %02x %02x %02x %02x", buf[0], buf[1], buf[2], buf[3])
	}

	class := elfloader.Class(buf[eiClass])
	if class != elfloader.Class32 && class != elfloader.Class64 {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "unsupported EI_CLASS %d", buf[eiClass])
	}

	data := elfloader.Data(buf[eiData])
	if data != hostData {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "EI_DATA %v does not match host byte order %v", data, hostData)
	}

	if buf[eiVersion] != evCurrent {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "unsupported EI_VERSION %d", buf[eiVersion])
	}

	h := Header{Class: class, Data: data}
	order := h.byteOrder()

	var want int
	if class == elfloader.Class32 {
		want = ehSize32
	} else {
		want = ehSize64
	}
	if len(buf) < want {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "file too short for an %s header", class)
	}

	machine := elfloader.Machine(order.Uint16(buf[16:18]))
	version := order.Uint32(buf[20:24])
	if version != evCurrent {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "unsupported e_version %d", version)
	}

	if class == elfloader.Class32 {
		h.Entry = elfloader.Address(order.Uint32(buf[24:28]))
		h.PhOff = uint64(order.Uint32(buf[28:32]))
		h.ShOff = uint64(order.Uint32(buf[32:36]))
		h.Flags = order.Uint32(buf[36:40])
		h.EhSize = order.Uint16(buf[40:42])
		h.PhEntSize = order.Uint16(buf[42:44])
		h.PhNum = order.Uint16(buf[44:46])
		h.ShEntSize = order.Uint16(buf[46:48])
		h.ShNum = order.Uint16(buf[48:50])
		h.ShStrNdx = order.Uint16(buf[50:52])
		if h.EhSize != ehSize32 {
			return Header{}, elfloader.NewError(elfloader.InvalidFormat, "e_ehsize %d != %d", h.EhSize, ehSize32)
		}
	} else {
		h.Entry = elfloader.Address(order.Uint64(buf[24:32]))
		h.PhOff = order.Uint64(buf[32:40])
		h.ShOff = order.Uint64(buf[40:48])
		h.Flags = order.Uint32(buf[48:52])
		h.EhSize = order.Uint16(buf[52:54])
		h.PhEntSize = order.Uint16(buf[54:56])
		h.PhNum = order.Uint16(buf[56:58])
		h.ShEntSize = order.Uint16(buf[58:60])
		h.ShNum = order.Uint16(buf[60:62])
		h.ShStrNdx = order.Uint16(buf[62:64])
		if h.EhSize != ehSize64 {
			return Header{}, elfloader.NewError(elfloader.InvalidFormat, "e_ehsize %d != %d", h.EhSize, ehSize64)
		}
	}

	if wantMachine != 0 && machine != wantMachine {
		return Header{}, elfloader.NewError(elfloader.InvalidFormat, "machine %v does not match configured machine %v", machine, wantMachine)
	}
	h.Machine = machine
	h.Version = version

	return h, nil
}

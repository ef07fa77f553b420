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

// Package pmp implements the RISC-V Physical Memory Protection policy
// registered against elfloader.MachineRISCV: one NAPOT region per PT_LOAD
// segment.
package pmp

import (
	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/mpu"
)

// PMP access-permission bits, matching the pmpcfg R/W/X field layout.
const (
	PermR = 1 << 0
	PermW = 1 << 1
	PermX = 1 << 2
)

func init() {
	mpu.Register(elfloader.MachineRISCV, func() mpu.Policy { return &policy{} })
}

type policy struct{}

// Apply implements mpu.Policy. It derives one NAPOT region per PT_LOAD
// segment and writes each via w at the next usable index, starting at
// firstUsable. Exceeding regions-firstUsable available slots fails with
// TooManyRegions; no entry below firstUsable is ever touched.
func (policy) Apply(view *mpu.ProgramView, regions, firstUsable int, w mpu.Writer, log elfloader.Logger) error {
	available := regions - firstUsable
	if available < 0 {
		available = 0
	}
	if len(view.Segments) > available {
		return elfloader.NewError(elfloader.TooManyRegions, "program needs %d PMP regions but only %d are usable (total=%d, firstUsable=%d)",
			len(view.Segments), available, regions, firstUsable)
	}

	for i, seg := range view.Segments {
		base, length := napotEnclosing(uint64(seg.Base), seg.Size)
		var perm byte
		if seg.Read {
			perm |= PermR
		}
		if seg.Write {
			perm |= PermW
		}
		if seg.Exec {
			perm |= PermX
		}
		r := mpu.Region{
			Base:  elfloader.Address(base),
			Limit: elfloader.Address(base + length),
			Read:  seg.Read,
			Write: seg.Write,
			Exec:  seg.Exec,
		}
		idx := firstUsable + i
		if err := w(idx, r); err != nil {
			return err
		}
		log.Infof("pmp: region %d = [0x%x, 0x%x) encoded=0x%x perm=%02b", idx, base, base+length, Encode(base, length), perm)
	}
	return nil
}

// napotEnclosing returns the smallest naturally-aligned, power-of-two-sized
// range [base, base+length) that contains [addr, addr+size). A zero-size
// input still yields a minimum 8-byte region, the smallest NAPOT range RISC-V
// PMP can encode.
func napotEnclosing(addr, size uint64) (base, length uint64) {
	end := addr + size
	length = uint64(8)
	for {
		base = addr &^ (length - 1)
		if base+length >= end {
			return base, length
		}
		length <<= 1
	}
}

// Encode returns the NAPOT pmpaddr encoding for a region [base, base+length):
// base | ((length/2 - 1) >> 2).
func Encode(base, length uint64) uint64 {
	return base | ((length/2 - 1) >> 2)
}

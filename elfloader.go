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

// Package elfloader is the root package for the ELF dynamic loader. It
// provides the types shared by every sub-package: the word-size/endianness/
// machine description of a target, the loader's error model, and the logging
// interface threaded through the whole pipeline.
package elfloader

import "strconv"

// Address is a host virtual address, either in file-view (as it appears in
// the ELF image) or in host-view (after the load bias has been applied).
type Address uint64

// Class corresponds to ELF Ident[EI_CLASS]: the word-size of the file.
type Class byte

// Class values.
const (
	ClassNone Class = iota // Unknown class.
	Class32                // 32-bit word size.
	Class64                // 64-bit word size.
)

func (c Class) String() string {
	switch c {
	case Class32:
		return "ELF32"
	case Class64:
		return "ELF64"
	default:
		return "ELFCLASSNONE"
	}
}

// Data corresponds to ELF Ident[EI_DATA]: the byte order of the file.
type Data byte

// Data values.
const (
	DataNone   Data = iota // Unknown byte order.
	DataLittle             // 2's complement little-endian.
	DataBig                // 2's complement big-endian.
)

func (d Data) String() string {
	switch d {
	case DataLittle:
		return "little-endian"
	case DataBig:
		return "big-endian"
	default:
		return "none"
	}
}

// Machine corresponds to ELF Header.Machine (e_machine).
type Machine uint16

// Machine IDs referenced by this loader. RISC-V is the one architecture with
// a concrete relocation engine and MPU policy; x86 and x86-64 are listed
// because ELFLOADER_MACHINE (see package config) may legitimately pin to them
// even though no reloc.Engine or mpu.Policy is registered for them.
const (
	MachineX86   Machine = 0x03
	MachineX8664 Machine = 0x3E
	MachineRISCV Machine = 0xF3
)

var machineNames = []struct {
	mach Machine
	name string
}{
	{MachineX86, "x86"},
	{MachineX8664, "x86-64"},
	{MachineRISCV, "riscv"},
}

func (m Machine) String() string {
	for _, n := range machineNames {
		if n.mach == m {
			return n.name
		}
	}
	return "unknown-" + strconv.Itoa(int(m))
}

// Arch groups the machine, word-size class and byte order describing a
// target. Package reader validates files against config.Config, not Arch.
type Arch struct {
	Machine Machine
	Class   Class
	Data    Data
}

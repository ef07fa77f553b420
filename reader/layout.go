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

// Identification-block layout (e_ident).
const (
	eiMag0       = 0
	eiMag1       = 1
	eiMag2       = 2
	eiMag3       = 3
	eiClass      = 4
	eiData       = 5
	eiVersion    = 6
	eiIdentSize  = 16
	evCurrent    = 1 // required value of both EI_VERSION and e_version.
	magic0 byte = 0x7F
	magic1 byte = 'E'
	magic2 byte = 'L'
	magic3 byte = 'F'
)

// On-disk header sizes, by class. These are the values e_ehsize must equal.
const (
	ehSize32 = 52
	ehSize64 = 64
)

// On-disk program header entry sizes, by class.
const (
	phEntSize32 = 32
	phEntSize64 = 56
)

// On-disk section header entry sizes, by class.
const (
	shEntSize32 = 40
	shEntSize64 = 64
)

// On-disk symbol table entry sizes, by class.
const (
	symEntSize32 = 16
	symEntSize64 = 24
)

// On-disk dynamic table entry sizes, by class.
const (
	dynEntSize32 = 8
	dynEntSize64 = 16
)

// Program header types (p_type).
const (
	PtNull    = 0
	PtLoad    = 1
	PtDynamic = 2
	PtInterp  = 3
	PtNote    = 4
	PtPhdr    = 6
)

// Program header flags (p_flags).
const (
	PfX = 1 << 0
	PfW = 1 << 1
	PfR = 1 << 2
)

// Section header types (sh_type).
const (
	ShtNull     = 0
	ShtProgBits = 1
	ShtSymTab   = 2
	ShtStrTab   = 3
	ShtRela     = 4
	ShtHash     = 5
	ShtDynamic  = 6
	ShtNoBits   = 8
	ShtRel      = 9
	ShtDynSym   = 11
)

// Reserved section indices (st_shndx / e_shstrndx special values).
const (
	ShnUndef     = 0x0000
	ShnLoReserve = 0xff00
	ShnAbs       = 0xfff1
	ShnCommon    = 0xfff2
	ShnXindex    = 0xffff
	ShnHiReserve = 0xffff
)

// Dynamic table tags (d_tag).
const (
	DtNull   = 0
	DtNeeded = 1
)

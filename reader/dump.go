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

// Dump emits a human-readable dump of program headers, sections, symbols and
// dynamic symbols through the reader's Logger, at Info level. Intended for
// interactive inspection (see cmd/elfdump); not meant to be parsed.
func (r *Reader) Dump() {
	h := r.header
	r.log.Infof("ELF header: class=%v data=%v machine=%v entry=0x%x phnum=%d shnum=%d", h.Class, h.Data, h.Machine, h.Entry, h.PhNum, h.ShNum)

	for i, p := range r.progs {
		r.log.Infof("prog[%d]: type=%#x flags=%#x vaddr=0x%x paddr=0x%x filesz=0x%x memsz=0x%x align=0x%x",
			i, p.Type, p.Flags, p.Vaddr, p.Paddr, p.Filesz, p.Memsz, p.Align)
	}

	for i, s := range r.sects {
		r.log.Infof("sect[%d]: name=%q type=%#x flags=%#x addr=0x%x offset=0x%x size=0x%x link=%d info=%d",
			i, s.Name, s.Type, s.Flags, s.Addr, s.Offset, s.Size, s.Link, s.Info)
	}

	for i, s := range r.syms {
		r.log.Infof("sym[%d]: name=%q value=0x%x size=%d bind=%d type=%d shndx=%#x",
			i, s.Name, s.Value, s.Size, s.Bind(), s.Type(), s.Shndx)
	}

	for i, s := range r.dynsyms {
		r.log.Infof("dynsym[%d]: name=%q value=0x%x size=%d bind=%d type=%d shndx=%#x",
			i, s.Name, s.Value, s.Size, s.Bind(), s.Type(), s.Shndx)
	}

	for i, n := range r.needed {
		r.log.Infof("needed[%d]: %s", i, n)
	}
}

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

// Package mpu derives hardware memory-protection regions for a loaded
// Program and dispatches their encoding to an architecture-specific policy,
// the way package reloc dispatches relocation application.
package mpu

import (
	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/loader"
	"github.com/robotman2412/elfloader/reader"
)

// Region is one memory-protection region a Policy derives: a host address
// range and the access rights the segment it covers requires.
type Region struct {
	Base  elfloader.Address
	Limit elfloader.Address // exclusive
	Read  bool
	Write bool
	Exec  bool
}

// Writer programs a derived Region into hardware (or a reference stand-in;
// see hostmem.MprotectMPU) at the given PMP-equivalent index.
type Writer func(index int, r Region) error

// Policy derives protection regions for a loaded Program's PT_LOAD segments
// and writes them via w, starting at firstUsable and never touching entries
// below it. regions bounds how many entries are available in total.
type Policy interface {
	Apply(r *ProgramView, regions, firstUsable int, w Writer, log elfloader.Logger) error
}

// ProgramView is the subset of loader.Program and its source segments a
// Policy needs. Kept separate from loader.Program so a Policy works from the
// per-segment inputs BuildView derives and never reads program headers
// itself.
type ProgramView struct {
	Prog     *loader.Program
	Segments []Segment
}

// Segment is one PT_LOAD segment's host-view placement and access flags,
// already translated by the loader's offs.
type Segment struct {
	Base  elfloader.Address
	Size  uint64
	Read  bool
	Write bool
	Exec  bool
}

// BuildView derives the per-segment Region inputs a Policy needs from a
// loaded Program and the reader it was loaded from: every PT_LOAD segment's
// host-view base (already translated by the loader's offs), size, and
// access flags.
func BuildView(r *reader.Reader, prog *loader.Program) *ProgramView {
	var segs []Segment
	for _, p := range r.Progs() {
		if p.Type != reader.PtLoad {
			continue
		}
		segs = append(segs, Segment{
			Base:  prog.Translate(p.Vaddr),
			Size:  p.Memsz,
			Read:  p.Flags&reader.PfR != 0,
			Write: p.Flags&reader.PfW != 0,
			Exec:  p.Flags&reader.PfX != 0,
		})
	}
	return &ProgramView{Prog: prog, Segments: segs}
}

var registry = map[elfloader.Machine]func() Policy{}

// Register associates a Machine value with a Policy factory. Called from
// the init() of a concrete architecture package (see mpu/pmp).
func Register(m elfloader.Machine, factory func() Policy) {
	registry[m] = factory
}

// Get returns the Policy registered for m, if any.
func Get(m elfloader.Machine) (Policy, bool) {
	factory, ok := registry[m]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// Apply looks up the Policy registered for machine, then runs it over view.
func Apply(machine elfloader.Machine, view *ProgramView, regions, firstUsable int, w Writer, log elfloader.Logger) error {
	if log == nil {
		log = elfloader.NopLogger{}
	}
	p, ok := Get(machine)
	if !ok {
		return elfloader.NewError(elfloader.UnsupportedArchitecture, "no MPU policy registered for machine %v", machine)
	}
	return p.Apply(view, regions, firstUsable, w, log)
}

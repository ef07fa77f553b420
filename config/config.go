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

// Package config resolves the loader's compile-time knobs (ELFLOADER_MACHINE,
// ELFLOADER_ELF_IS_ELF32) and its PMP/alignment tuning knobs from the process
// environment. Resolution happens once per call to Resolve; nothing in this
// package mutates global state, so a test can resolve several independent
// Configs with different os.Setenv calls.
package config

import (
	"strconv"
	"strings"

	"github.com/xyproto/env/v2"

	"github.com/robotman2412/elfloader"
)

// Default values used when the corresponding environment variable is unset.
const (
	DefaultAlign          = 32
	DefaultPMPRegions     = 8
	DefaultPMPFirstUsable = 0
)

// Config is the resolved set of compile-time and tuning knobs. It is plain
// data: construct it directly for tests, or call Resolve to build one from
// the environment.
type Config struct {
	// Machine pins the accepted e_machine value. Zero means "accept any
	// machine"; the embedder is then expected to check.
	Machine elfloader.Machine

	// Class selects the word-size record layout a reader parses.
	// ELFLOADER_ELF_IS_ELF32 set (to any truthy value) selects Class32;
	// unset or falsy selects Class64.
	Class elfloader.Class

	// Align is the default allocator alignment, in bytes, used by the
	// loader's alignment floor (see the loader package's Load documentation
	// for how this interacts with per-segment p_align).
	Align uint64

	// PMPRegions is the total number of hardware PMP entries available.
	PMPRegions int

	// PMPFirstUsable is the first PMP index the MPU policy may write; entries
	// below it are reserved for the host context.
	PMPFirstUsable int
}

// Resolve builds a Config from the process environment, applying defaults
// for anything unset.
func Resolve() Config {
	cfg := Config{
		Machine:        parseMachine(env.Str("ELFLOADER_MACHINE")),
		Class:          elfloader.Class64,
		Align:          DefaultAlign,
		PMPRegions:     DefaultPMPRegions,
		PMPFirstUsable: DefaultPMPFirstUsable,
	}
	if env.Bool("ELFLOADER_ELF_IS_ELF32") {
		cfg.Class = elfloader.Class32
	}
	if v := env.Str("ELFLOADER_ALIGN"); v != "" {
		if n, err := strconv.ParseUint(v, 0, 64); err == nil && n != 0 {
			cfg.Align = n
		}
	}
	if v := env.Str("ELFLOADER_PMP_REGIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PMPRegions = n
		}
	}
	if v := env.Str("ELFLOADER_PMP_FIRST_USABLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PMPFirstUsable = n
		}
	}
	return cfg
}

// parseMachine accepts decimal or 0x-prefixed hexadecimal. An empty or
// unparsable string means "accept any machine".
func parseMachine(v string) elfloader.Machine {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 0, 16)
	if err != nil {
		return 0
	}
	return elfloader.Machine(n)
}

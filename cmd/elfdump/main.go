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

// Command elfdump inspects an ELF file through the reader package and,
// with -load, drives it through the full load/relocate/MPU pipeline against
// the hostmem reference collaborators.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/robotman2412/elfloader"
	"github.com/robotman2412/elfloader/config"
	"github.com/robotman2412/elfloader/hostmem"
	"github.com/robotman2412/elfloader/loader"
	"github.com/robotman2412/elfloader/mpu"
	"github.com/robotman2412/elfloader/reader"
	"github.com/robotman2412/elfloader/reloc"

	_ "github.com/robotman2412/elfloader/mpu/pmp"
	_ "github.com/robotman2412/elfloader/reloc/riscv"
)

func main() {
	load := flag.Bool("load", false, "run the full load, relocate and MPU policy pipeline")
	verbose := flag.Bool("v", false, "enable debug-level logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-load] [-v] <elf-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := elfloader.NewStdLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(flag.Arg(0), *load, log); err != nil {
		kind, _ := elfloader.KindOf(err)
		fmt.Fprintf(os.Stderr, "elfdump: %s: %v\n", kind, err)
		os.Exit(1)
	}
}

func run(path string, load bool, log elfloader.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return elfloader.WrapError(elfloader.IoError, err, "opening %s", path)
	}
	defer f.Close()

	cfg := config.Resolve()
	r, err := reader.Open(f, cfg, log)
	if err != nil {
		return err
	}
	if err := r.ReadAll(); err != nil {
		return err
	}
	r.Dump()

	if !load {
		return nil
	}
	return runLoad(r, cfg, log)
}

func runLoad(r *reader.Reader, cfg config.Config, log elfloader.Logger) error {
	alloc := hostmem.MmapAllocator(log)
	prog, err := loader.Load(r, cfg.Align, log, alloc)
	if err != nil {
		return err
	}
	defer func() {
		if err := hostmem.Free(prog.Cookie); err != nil {
			log.Warnf("elfdump: freeing mapping: %v", err)
		}
	}()

	log.Infof("loaded: vaddr_req=0x%x vaddr_real=0x%x size=0x%x entry=0x%x offs=%#x has_dynamic=%v dynamic=0x%x",
		prog.VaddrReq, prog.VaddrReal, prog.Size, prog.Entry, prog.Offs, prog.HasDynamic, prog.Dynamic)

	resolve := hostmem.StaticResolver(nil)
	if err := reloc.Apply(r, prog, resolve, log); err != nil {
		return err
	}

	view := mpu.BuildView(r, prog)
	writer := hostmem.MprotectMPU(log)
	if err := mpu.Apply(r.Header().Machine, view, cfg.PMPRegions, cfg.PMPFirstUsable, writer, log); err != nil {
		return err
	}

	log.Infof("elfdump: load, relocate and MPU policy completed successfully")
	return nil
}

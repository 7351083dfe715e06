// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// mmioemu decodes trapped instructions and replays MMIO scenario files.
//
//	mmioemu decode -mode prot32 "a3 f0 00 e0 fe"
//	mmioemu run -config pkg/scenario/testdata/mmioemu.cfg
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/arch/x86/x86asm"

	"github.com/google/mmioemu/pkg/log"
	"github.com/google/mmioemu/pkg/scenario"
	"github.com/google/mmioemu/pkg/stat"
	"github.com/google/mmioemu/pkg/tool"
	"github.com/google/mmioemu/pkg/x86emu"
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
	}
	switch args[0] {
	case "decode":
		decode(args[1:])
	case "run":
		run(args[1:])
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  mmioemu [-vv N] decode [-mode %v] [-rip addr] hex bytes\n",
		strings.Join(scenario.Modes(), "|"))
	fmt.Fprintf(os.Stderr, "  mmioemu [-vv N] run [-config file] [-override json] [-save file] [-scenarios a.yaml,b.yaml]\n")
	os.Exit(1)
}

func decode(args []string) {
	flags := flag.NewFlagSet("decode", flag.ExitOnError)
	flagMode := flags.String("mode", x86emu.ModeLong64.String(), "execution mode")
	flagRIP := flags.String("rip", "0", "address of the instruction")
	defer tool.Init(flags, args)()
	mode, err := scenario.ParseMode(*flagMode)
	if err != nil {
		tool.Fail(err)
	}
	rip, err := tool.ParseUint(*flagRIP)
	if err != nil {
		tool.Fail(err)
	}
	text, err := tool.ParseHex(strings.Join(flags.Args(), " "))
	if err != nil {
		tool.Fail(err)
	}
	insn, err := x86emu.Decode(mode, text, rip)
	if err != nil {
		tool.Failf("% x: %v", text, err)
	}
	fmt.Printf("insn:      %v\n", insn)
	fmt.Printf("class:     %v\n", insn.Class())
	fmt.Printf("length:    %v (next rip %#x)\n", insn.Len, insn.NextRIP())
	fmt.Printf("sizes:     operand %v, address %v\n", insn.OpSize, insn.AddrSize)
	if enc, err := x86emu.Encode(insn); err != nil {
		fmt.Printf("encoded:   %v\n", err)
	} else {
		fmt.Printf("encoded:   % x\n", enc)
	}
	bits := 64
	if mode == x86emu.ModeProt32 {
		bits = 32
	}
	if ref, err := x86asm.Decode(text, bits); err != nil {
		fmt.Printf("reference: %v\n", err)
	} else {
		fmt.Printf("reference: %v\n", x86asm.GNUSyntax(ref, rip, nil))
	}
}

func run(args []string) {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	flagConfig := flags.String("config", "", "config file")
	flagOverride := flags.String("override", "", "JSON object merged on top of the config")
	flagSave := flags.String("save", "", "write the effective config to this file")
	var files tool.ListFlag
	flags.Var(&files, "scenarios", "comma-separated scenario files, replace the ones in the config")
	defer tool.Init(flags, args)()

	cfg := scenario.DefaultConfig()
	var err error
	if *flagConfig != "" {
		cfg, err = scenario.LoadConfig(*flagConfig)
	} else {
		err = cfg.Complete()
	}
	if err != nil {
		tool.Fail(err)
	}
	if *flagOverride != "" {
		if cfg, err = cfg.Override(*flagOverride); err != nil {
			tool.Failf("bad override: %v", err)
		}
	}
	if len(files) != 0 {
		cfg.Scenarios = files
	}
	if len(cfg.Scenarios) == 0 {
		tool.Failf("no scenario files")
	}
	if *flagSave != "" {
		if err := cfg.Save(*flagSave); err != nil {
			tool.Fail(err)
		}
	}
	if cfg.Verbosity != 0 {
		log.SetVerbosity(cfg.Verbosity)
	}
	log.EnableLogCaching(1000, 1<<20)
	session := uuid.New().String()
	log.Logf(0, "session %v: %v vcpus, %v repeats", session, cfg.VCPUs, cfg.Repeat)
	if cfg.MetricsAddr != "" {
		serveHTTP(cfg.MetricsAddr, session)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	var passed, failed int
	for _, name := range cfg.Scenarios {
		file, err := scenario.Load(name)
		if err != nil {
			tool.Fail(err)
		}
		results, err := scenario.Run(ctx, cfg, file)
		if errors.Is(err, context.Canceled) {
			break
		}
		if err != nil {
			tool.Failf("%v: %v", name, err)
		}
		for _, res := range results {
			if !res.Passed() || log.V(1) {
				fmt.Printf("%v\n", res)
			}
		}
		p, f := scenario.Summarize(results)
		log.Logf(0, "%v: %v passed, %v failed", name, p, f)
		passed += p
		failed += f
	}
	for _, ui := range stat.Collect(stat.Simple) {
		fmt.Printf("%-20v %v\n", ui.Name+":", ui.Value)
	}
	fmt.Printf("session %v: %v passed, %v failed\n", session, passed, failed)
	if failed != 0 {
		fmt.Fprintf(os.Stderr, "recent log:\n%v", log.CachedLogOutput())
		tool.Failf("%v scenario runs failed", failed)
	}
}

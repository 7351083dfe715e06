// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package tool contains various helper utilitites useful for implementation of command line tools.
package tool

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
)

// Init parses args into set and installs -cpuprofile and -memprofile.
// The returned function must be called before the tool exits.
func Init(set *flag.FlagSet, args []string) func() {
	cpuprof := set.String("cpuprofile", "", "write cpu profile to this file")
	memprof := set.String("memprofile", "", "write memory profile to this file")
	if err := set.Parse(args); err != nil {
		Fail(err)
	}
	stopCPU := startCPUProfile(*cpuprof)
	return func() {
		stopCPU()
		if *memprof != "" {
			writeHeapProfile(*memprof)
		}
	}
}

func startCPUProfile(file string) func() {
	if file == "" {
		return func() {}
	}
	f, err := os.Create(file)
	if err != nil {
		Failf("failed to create cpu profile: %v", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		Failf("failed to start cpu profile: %v", err)
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}
}

func writeHeapProfile(file string) {
	f, err := os.Create(file)
	if err != nil {
		Failf("failed to create memory profile: %v", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		Failf("failed to write memory profile: %v", err)
	}
}

func Failf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func Fail(err error) {
	Failf("%v", err)
}

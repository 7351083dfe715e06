// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log provides functionality similar to standard log package with some extensions:
//   - verbosity levels
//   - global verbosity setting that can be used by multiple packages
//   - ability to cache recent output in memory, e.g. the last emulated
//     instructions before a failure
package log

import (
	"bytes"
	"flag"
	"fmt"
	golog "log"
	"sync"
	"sync/atomic"
	"time"
)

var (
	flagV        = flag.Int("vv", 0, "verbosity")
	verbosity    atomic.Int64
	mu           sync.Mutex
	cacheMem     int
	cacheMaxMem  int
	cachePos     int
	cacheEntries []string
	prependTime  = true // for testing
)

func init() {
	verbosity.Store(-1)
}

// SetVerbosity overrides the -vv flag, e.g. with a value from a config file.
func SetVerbosity(v int) {
	verbosity.Store(int64(v))
}

func level() int {
	if v := verbosity.Load(); v >= 0 {
		return int(v)
	}
	return *flagV
}

// V reports whether messages at verbosity v are printed.
// Use it to avoid building expensive log arguments.
func V(v int) bool {
	return v <= level()
}

// EnableLogCaching enables in memory caching of log output.
// Caches up to maxLines, but no more than maxMem bytes.
// Cached output can later be queried with CachedLogOutput.
func EnableLogCaching(maxLines, maxMem int) {
	mu.Lock()
	defer mu.Unlock()
	if cacheEntries != nil {
		Fatalf("log caching is already enabled")
	}
	if maxLines < 1 || maxMem < 1 {
		panic("invalid maxLines/maxMem")
	}
	cacheMaxMem = maxMem
	cacheEntries = make([]string, maxLines)
}

// CachedLogOutput retrieves cached log output.
func CachedLogOutput() string {
	mu.Lock()
	defer mu.Unlock()
	buf := new(bytes.Buffer)
	for i := range cacheEntries {
		pos := (cachePos + i) % len(cacheEntries)
		if cacheEntries[pos] == "" {
			continue
		}
		buf.WriteString(cacheEntries[pos])
		buf.Write([]byte{'\n'})
	}
	return buf.String()
}

func Logf(v int, msg string, args ...any) {
	doLog := V(v)
	mu.Lock()
	if cacheEntries != nil && v <= 2 {
		cache(fmt.Sprintf(msg, args...))
	}
	mu.Unlock()

	if doLog {
		golog.Printf(msg, args...)
	}
}

func cache(entry string) {
	cacheMem -= len(cacheEntries[cachePos])
	if cacheMem < 0 {
		panic("log cache size underflow")
	}
	if prependTime {
		entry = time.Now().Format("2006/01/02 15:04:05 ") + entry
	}
	cacheEntries[cachePos] = entry
	cacheMem += len(entry)
	cachePos++
	if cachePos == len(cacheEntries) {
		cachePos = 0
	}
	for i := 0; i < len(cacheEntries)-1 && cacheMem > cacheMaxMem; i++ {
		pos := (cachePos + i) % len(cacheEntries)
		cacheMem -= len(cacheEntries[pos])
		cacheEntries[pos] = ""
	}
	if cacheMem < 0 {
		panic("log cache size underflow")
	}
}

func Fatalf(msg string, args ...any) {
	golog.Fatalf(msg, args...)
}

// ErrorLogger adapts Logf to loggers that take Println, e.g. promhttp.HandlerOpts.ErrorLog.
type ErrorLogger int

func (l ErrorLogger) Println(args ...any) {
	Logf(int(l), "%v", fmt.Sprint(args...))
}

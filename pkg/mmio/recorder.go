// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mmio

import (
	"fmt"

	"github.com/google/mmioemu/pkg/x86emu"
)

// Access is one device access seen by a Recorder.
type Access struct {
	Write bool
	GPA   uint64
	Size  int
	Val   uint64
	Err   error
}

func (a Access) String() string {
	op := "read"
	if a.Write {
		op = "write"
	}
	s := fmt.Sprintf("%v %#x/%v=%#x", op, a.GPA, a.Size, a.Val)
	if a.Err != nil {
		s += fmt.Sprintf(" (%v)", a.Err)
	}
	return s
}

// Recorder logs the accesses a single emulated instruction makes. It is
// created per exit and must not be shared between vCPUs.
type Recorder struct {
	Inner    x86emu.MemoryAccessor
	Accesses []Access
}

var (
	_ x86emu.MemoryAccessor = (*Recorder)(nil)
	_ x86emu.Translator     = (*Recorder)(nil)
)

func NewRecorder(inner x86emu.MemoryAccessor) *Recorder {
	return &Recorder{Inner: inner}
}

func (rec *Recorder) ReadMem(gpa uint64, size int) (uint64, error) {
	val, err := rec.Inner.ReadMem(gpa, size)
	rec.Accesses = append(rec.Accesses, Access{GPA: gpa, Size: size, Val: val, Err: err})
	return val, err
}

func (rec *Recorder) WriteMem(gpa uint64, size int, val uint64) error {
	err := rec.Inner.WriteMem(gpa, size, val)
	rec.Accesses = append(rec.Accesses, Access{Write: true, GPA: gpa, Size: size, Val: val, Err: err})
	return err
}

// Translate forwards to the wrapped accessor if it translates, so wrapping
// does not change how string and stack operands are resolved.
func (rec *Recorder) Translate(gla uint64) (uint64, error) {
	if tr, ok := rec.Inner.(x86emu.Translator); ok {
		return tr.Translate(gla)
	}
	return gla, nil
}

// Writes counts the write accesses.
func (rec *Recorder) Writes() int {
	n := 0
	for _, a := range rec.Accesses {
		if a.Write {
			n++
		}
	}
	return n
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"errors"
	"fmt"
)

type testRegs struct {
	vals    [RegLast]uint64
	failGet Reg
	failSet Reg
}

var errTestRegister = errors.New("test register fault")

func newTestRegs() *testRegs {
	return &testRegs{failGet: RegNone, failSet: RegNone}
}

func (regs *testRegs) GetRegister(reg Reg) (uint64, error) {
	if reg == regs.failGet {
		return 0, errTestRegister
	}
	return regs.vals[reg], nil
}

func (regs *testRegs) SetRegister(reg Reg, val uint64) error {
	if reg == regs.failSet {
		return errTestRegister
	}
	regs.vals[reg] = val
	return nil
}

type access struct {
	Write bool
	GPA   uint64
	Size  int
	Val   uint64
}

func (a access) String() string {
	op := "read"
	if a.Write {
		op = "write"
	}
	return fmt.Sprintf("%v %#x/%v=%#x", op, a.GPA, a.Size, a.Val)
}

// testMem is byte-addressed little-endian memory that logs every access.
type testMem struct {
	data    map[uint64]byte
	log     []access
	failGPA map[uint64]bool
}

var errTestMemory = errors.New("test memory fault")

func newTestMem() *testMem {
	return &testMem{
		data:    make(map[uint64]byte),
		failGPA: make(map[uint64]bool),
	}
}

func (mem *testMem) set(gpa uint64, size int, val uint64) {
	for i := 0; i < size; i++ {
		mem.data[gpa+uint64(i)] = byte(val >> (8 * uint(i)))
	}
}

func (mem *testMem) get(gpa uint64, size int) uint64 {
	var val uint64
	for i := 0; i < size; i++ {
		val |= uint64(mem.data[gpa+uint64(i)]) << (8 * uint(i))
	}
	return val
}

func (mem *testMem) ReadMem(gpa uint64, size int) (uint64, error) {
	if mem.failGPA[gpa] {
		return 0, errTestMemory
	}
	val := mem.get(gpa, size)
	mem.log = append(mem.log, access{GPA: gpa, Size: size, Val: val})
	return val, nil
}

func (mem *testMem) WriteMem(gpa uint64, size int, val uint64) error {
	if mem.failGPA[gpa] {
		return errTestMemory
	}
	mem.log = append(mem.log, access{Write: true, GPA: gpa, Size: size, Val: val})
	mem.set(gpa, size, val)
	return nil
}

func (mem *testMem) writes() int {
	n := 0
	for _, a := range mem.log {
		if a.Write {
			n++
		}
	}
	return n
}

// pagedMem adds a fixed linear-to-physical offset.
type pagedMem struct {
	*testMem
	offset uint64
	fault  uint64
}

func (mem *pagedMem) Translate(gla uint64) (uint64, error) {
	if gla == mem.fault {
		return 0, errTestMemory
	}
	return gla + mem.offset, nil
}

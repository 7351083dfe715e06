// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mmio provides device models that back trapped guest accesses:
// a single-register cell, guest RAM, and a bus that routes accesses to
// devices mapped at fixed guest physical ranges.
package mmio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/mmioemu/pkg/x86emu"
)

var (
	ErrUnhandled = errors.New("access outside any device")
	ErrSize      = errors.New("bad access size")
)

func checkSize(size int) error {
	switch size {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: %v", ErrSize, size)
}

func sizeMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(uint(size)*8) - 1
}

// Cell is a single 64-bit device register at Addr. Narrow accesses at
// Addr+off read and merge the corresponding bytes, so a byte write to the
// low byte leaves the rest of the register intact. Accesses that do not
// fit inside the register fail with ErrUnhandled.
type Cell struct {
	Addr uint64

	mu  sync.Mutex
	val uint64
}

var _ x86emu.MemoryAccessor = (*Cell)(nil)

func NewCell(addr, val uint64) *Cell {
	return &Cell{Addr: addr, val: val}
}

func (cell *Cell) offset(gpa uint64, size int) (uint, error) {
	if err := checkSize(size); err != nil {
		return 0, err
	}
	if gpa < cell.Addr || gpa-cell.Addr+uint64(size) > 8 {
		return 0, fmt.Errorf("%w: %#x/%v, cell is at %#x", ErrUnhandled, gpa, size, cell.Addr)
	}
	return uint(gpa-cell.Addr) * 8, nil
}

func (cell *Cell) ReadMem(gpa uint64, size int) (uint64, error) {
	shift, err := cell.offset(gpa, size)
	if err != nil {
		return 0, err
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.val >> shift & sizeMask(size), nil
}

func (cell *Cell) WriteMem(gpa uint64, size int, val uint64) error {
	shift, err := cell.offset(gpa, size)
	if err != nil {
		return err
	}
	mask := sizeMask(size) << shift
	cell.mu.Lock()
	defer cell.mu.Unlock()
	cell.val = cell.val&^mask | val<<shift&mask
	return nil
}

// Value returns the whole register.
func (cell *Cell) Value() uint64 {
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.val
}

func (cell *Cell) Set(val uint64) {
	cell.mu.Lock()
	defer cell.mu.Unlock()
	cell.val = val
}

func (cell *Cell) String() string {
	return fmt.Sprintf("cell@%#x=%#x", cell.Addr, cell.Value())
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mmio

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// RAM is guest memory backing [Base, Base+Size). String and stack
// instructions reach it through the translated RSI/RDI/RSP addresses.
type RAM struct {
	Base uint64

	mu   sync.RWMutex
	data []byte
}

func NewRAM(base, size uint64) *RAM {
	return &RAM{Base: base, data: make([]byte, size)}
}

func (ram *RAM) Size() uint64 {
	return uint64(len(ram.data))
}

func (ram *RAM) slice(gpa uint64, size int) ([]byte, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if gpa < ram.Base || gpa-ram.Base+uint64(size) > ram.Size() {
		return nil, fmt.Errorf("%w: %#x/%v, ram is [%#x, %#x)",
			ErrUnhandled, gpa, size, ram.Base, ram.Base+ram.Size())
	}
	off := gpa - ram.Base
	return ram.data[off : off+uint64(size)], nil
}

func (ram *RAM) ReadMem(gpa uint64, size int) (uint64, error) {
	ram.mu.RLock()
	defer ram.mu.RUnlock()
	buf, err := ram.slice(gpa, size)
	if err != nil {
		return 0, err
	}
	var tmp [8]byte
	copy(tmp[:], buf)
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func (ram *RAM) WriteMem(gpa uint64, size int, val uint64) error {
	ram.mu.Lock()
	defer ram.mu.Unlock()
	buf, err := ram.slice(gpa, size)
	if err != nil {
		return err
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], val)
	copy(buf, tmp[:size])
	return nil
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mmio

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/mmioemu/pkg/x86emu"
)

var (
	ErrOverlap = errors.New("overlapping regions")
	ErrSealed  = errors.New("bus is sealed")
)

// Device is anything mapped on the bus. It receives absolute guest
// physical addresses.
type Device = x86emu.MemoryAccessor

type region struct {
	name  string
	start uint64
	end   uint64 // inclusive
	dev   Device
}

// Bus routes accesses to the device mapped at the address. Mappings are set
// up with Map before the vCPUs start and are read-only after Seal, so lookups
// from concurrent vCPUs only take the read lock.
type Bus struct {
	mu        sync.RWMutex
	regions   []region // sorted by start
	sealed    atomic.Bool
	translate func(gla uint64) (uint64, error)
}

var (
	_ x86emu.MemoryAccessor = (*Bus)(nil)
	_ x86emu.Translator     = (*Bus)(nil)
)

func NewBus() *Bus {
	return new(Bus)
}

// Map places dev at [start, start+size).
func (bus *Bus) Map(name string, start, size uint64, dev Device) error {
	if bus.sealed.Load() {
		return fmt.Errorf("%w: mapping %v at %#x", ErrSealed, name, start)
	}
	if size == 0 || start+size-1 < start {
		return fmt.Errorf("bad region %v [%#x, +%#x)", name, start, size)
	}
	r := region{name: name, start: start, end: start + size - 1, dev: dev}
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, other := range bus.regions {
		if r.start <= other.end && other.start <= r.end {
			return fmt.Errorf("%w: %v [%#x-%#x] and %v [%#x-%#x]",
				ErrOverlap, name, r.start, r.end, other.name, other.start, other.end)
		}
	}
	bus.regions = append(bus.regions, r)
	sort.Slice(bus.regions, func(i, j int) bool {
		return bus.regions[i].start < bus.regions[j].start
	})
	return nil
}

// SetTranslation installs the linear to physical mapping used for string
// and stack operands. Without it linear addresses are physical.
func (bus *Bus) SetTranslation(fn func(gla uint64) (uint64, error)) error {
	if bus.sealed.Load() {
		return fmt.Errorf("%w: setting translation", ErrSealed)
	}
	bus.translate = fn
	return nil
}

// OffsetTranslation maps linear address gla to gla+offset.
func OffsetTranslation(offset uint64) func(uint64) (uint64, error) {
	return func(gla uint64) (uint64, error) {
		return gla + offset, nil
	}
}

// Seal prevents further changes to the mappings.
func (bus *Bus) Seal() {
	bus.sealed.Store(true)
}

func (bus *Bus) find(gpa uint64, size int) (Device, error) {
	if err := checkSize(size); err != nil {
		return nil, err
	}
	if !bus.sealed.Load() {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
	}
	i := sort.Search(len(bus.regions), func(i int) bool {
		return bus.regions[i].end >= gpa
	})
	last := gpa + uint64(size) - 1
	if i == len(bus.regions) || gpa < bus.regions[i].start || last > bus.regions[i].end || last < gpa {
		return nil, fmt.Errorf("%w: %#x/%v", ErrUnhandled, gpa, size)
	}
	return bus.regions[i].dev, nil
}

func (bus *Bus) ReadMem(gpa uint64, size int) (uint64, error) {
	dev, err := bus.find(gpa, size)
	if err != nil {
		return 0, err
	}
	return dev.ReadMem(gpa, size)
}

func (bus *Bus) WriteMem(gpa uint64, size int, val uint64) error {
	dev, err := bus.find(gpa, size)
	if err != nil {
		return err
	}
	return dev.WriteMem(gpa, size, val)
}

func (bus *Bus) Translate(gla uint64) (uint64, error) {
	if bus.translate == nil {
		return gla, nil
	}
	return bus.translate(gla)
}

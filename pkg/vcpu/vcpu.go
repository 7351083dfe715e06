// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package vcpu holds the register state of a single virtual CPU.
package vcpu

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/mmioemu/pkg/x86emu"
)

var ErrInvalidRegister = errors.New("invalid register")

// Regs is the register file of one vCPU. It is owned by the goroutine that
// handles the vCPU's exits and is not safe for concurrent use.
type Regs struct {
	ID   int
	vals [x86emu.RegLast]uint64
}

// resetFlags is RFLAGS after reset: only the reserved bit 1 is set.
const resetFlags = 0x2

func New(id int) *Regs {
	regs := &Regs{ID: id}
	regs.vals[x86emu.RFLAGS] = resetFlags
	return regs
}

func (regs *Regs) GetRegister(reg x86emu.Reg) (uint64, error) {
	if !reg.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRegister, int(reg))
	}
	return regs.vals[reg], nil
}

func (regs *Regs) SetRegister(reg x86emu.Reg, val uint64) error {
	if !reg.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidRegister, int(reg))
	}
	regs.vals[reg] = val
	return nil
}

// Load sets registers by name, e.g. {"rax": 0xff000000}.
func (regs *Regs) Load(vals map[string]uint64) error {
	for name, val := range vals {
		reg, ok := x86emu.RegByName(strings.ToLower(name))
		if !ok {
			return fmt.Errorf("%w: %q", ErrInvalidRegister, name)
		}
		regs.vals[reg] = val
	}
	return nil
}

// Snapshot returns the non-zero registers by name.
func (regs *Regs) Snapshot() map[string]uint64 {
	res := make(map[string]uint64)
	for reg, val := range regs.vals {
		if val != 0 {
			res[x86emu.Reg(reg).String()] = val
		}
	}
	return res
}

func (regs *Regs) String() string {
	snap := regs.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	buf := new(strings.Builder)
	fmt.Fprintf(buf, "vcpu%v:", regs.ID)
	for _, name := range names {
		fmt.Fprintf(buf, " %v=%#x", name, snap[name])
	}
	return buf.String()
}

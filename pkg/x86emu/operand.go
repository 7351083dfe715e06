// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"fmt"
)

// Operand is the decoded r/m operand. It is one of RegOperand, MemOperand,
// RIPOperand or AbsOperand; string and stack instructions without an
// explicit r/m operand leave it nil.
type Operand interface {
	isOperand()
	String() string
}

// RegOperand is a register-direct r/m operand (ModRM.mod == 11).
type RegOperand struct {
	Reg  Reg
	High bool // AH, CH, DH or BH
}

// MemOperand is base + index*scale + disp. Base and Index are RegNone
// when absent; Scale is 1 when there is no index.
type MemOperand struct {
	Base  Reg
	Index Reg
	Scale uint8
	Disp  int64
}

// RIPOperand addresses relative to the next instruction.
type RIPOperand struct {
	Disp int64
}

// AbsOperand is the absolute offset of the accumulator moffs forms.
type AbsOperand struct {
	Addr uint64
}

func (RegOperand) isOperand() {}
func (MemOperand) isOperand() {}
func (RIPOperand) isOperand() {}
func (AbsOperand) isOperand() {}

func (op RegOperand) String() string {
	if op.High {
		return []string{"ah", "ch", "dh", "bh"}[op.Reg-RAX]
	}
	return op.Reg.String()
}

func (op MemOperand) String() string {
	s := ""
	if op.Base != RegNone {
		s = op.Base.String()
	}
	if op.Index != RegNone {
		if s != "" {
			s += "+"
		}
		s += fmt.Sprintf("%v*%v", op.Index, op.Scale)
	}
	switch {
	case s == "":
		s = fmt.Sprintf("%#x", uint64(op.Disp))
	case op.Disp > 0:
		s += fmt.Sprintf("+%#x", op.Disp)
	case op.Disp < 0:
		s += fmt.Sprintf("-%#x", -op.Disp)
	}
	return "[" + s + "]"
}

func (op RIPOperand) String() string {
	if op.Disp < 0 {
		return fmt.Sprintf("[rip-%#x]", -op.Disp)
	}
	return fmt.Sprintf("[rip+%#x]", op.Disp)
}

func (op AbsOperand) String() string {
	return fmt.Sprintf("[%#x]", op.Addr)
}

// IsMemory reports whether the operand references memory.
func IsMemory(op Operand) bool {
	switch op.(type) {
	case MemOperand, RIPOperand, AbsOperand:
		return true
	}
	return false
}

func sizeMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(uint(size)*8) - 1
}

func signExtend(v uint64, size int) uint64 {
	if size >= 8 {
		return v
	}
	shift := 64 - uint(size)*8
	return uint64(int64(v<<shift) >> shift)
}

// EffectiveAddr computes the linear address the instruction's memory operand
// refers to, from the registers in regs. Segment bases are not added: the
// result is the offset within the flat segment.
// POP with an RSP base addresses its destination after RSP was incremented.
func (insn *Insn) EffectiveAddr(regs RegisterFile) (uint64, error) {
	mask := sizeMask(insn.AddrSize)
	switch op := insn.RM.(type) {
	case MemOperand:
		var addr uint64
		if op.Base != RegNone {
			v, err := getReg(regs, op.Base)
			if err != nil {
				return 0, err
			}
			addr += v
			if op.Base == RSP && insn.Class() == ClassPop {
				addr += uint64(insn.OpSize)
			}
		}
		if op.Index != RegNone {
			v, err := getReg(regs, op.Index)
			if err != nil {
				return 0, err
			}
			addr += v * uint64(op.Scale)
		}
		addr += uint64(op.Disp)
		return addr & mask, nil
	case RIPOperand:
		return (insn.NextRIP() + uint64(op.Disp)) & mask, nil
	case AbsOperand:
		return op.Addr & mask, nil
	default:
		return 0, ErrNoMemOperand
	}
}

func getReg(regs RegisterFile, reg Reg) (uint64, error) {
	if !reg.Valid() {
		return 0, fmt.Errorf("%w: %v", ErrInvalidRegister, reg)
	}
	v, err := regs.GetRegister(reg)
	if err != nil {
		return 0, fmt.Errorf("%w: get %v: %w", ErrRegisterAccess, reg, err)
	}
	return v, nil
}

func setReg(regs RegisterFile, reg Reg, val uint64) error {
	if !reg.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidRegister, reg)
	}
	if err := regs.SetRegister(reg, val); err != nil {
		return fmt.Errorf("%w: set %v: %w", ErrRegisterAccess, reg, err)
	}
	return nil
}

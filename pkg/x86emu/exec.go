// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"fmt"
)

type emulator struct {
	insn *Insn
	gpa  uint64
	regs RegisterFile
	mem  MemoryAccessor
}

// Execute performs the effect of insn. gpa is the guest physical address of
// the faulting access and stands in for the memory operand. The first failing
// accessor call aborts execution; side effects already performed stay.
func Execute(insn *Insn, gpa uint64, regs RegisterFile, mem MemoryAccessor) error {
	if insn == nil || insn.Op == nil {
		return fmt.Errorf("%w: no instruction", ErrUnsupportedOpcode)
	}
	e := &emulator{
		insn: insn,
		gpa:  gpa,
		regs: regs,
		mem:  mem,
	}
	switch insn.Op.Class {
	case ClassLoadReg, ClassMoveZeroExtend:
		return e.load(false)
	case ClassMoveSignExtend:
		return e.load(true)
	case ClassStoreReg, ClassStoreImm:
		return e.store()
	case ClassAnd, ClassOr, ClassSub, ClassCompare:
		return e.alu()
	case ClassBitTest:
		return e.bitTest()
	case ClassMoveString:
		return e.moveString()
	case ClassStoreString:
		return e.storeString()
	case ClassPush:
		return e.push()
	case ClassPop:
		return e.pop()
	default:
		return fmt.Errorf("%w: no semantics for class %v", ErrUnsupportedOpcode, insn.Op.Class)
	}
}

func (e *emulator) readMem(gpa uint64, size int) (uint64, error) {
	v, err := e.mem.ReadMem(gpa, size)
	if err != nil {
		return 0, fmt.Errorf("%w: read %#x/%v: %w", ErrMemoryAccess, gpa, size, err)
	}
	return v & sizeMask(size), nil
}

func (e *emulator) writeMem(gpa uint64, size int, val uint64) error {
	if err := e.mem.WriteMem(gpa, size, val&sizeMask(size)); err != nil {
		return fmt.Errorf("%w: write %#x/%v: %w", ErrMemoryAccess, gpa, size, err)
	}
	return nil
}

// readGPR reads size bytes of a general purpose register.
func (e *emulator) readGPR(reg Reg, high bool, size int) (uint64, error) {
	v, err := getReg(e.regs, reg)
	if err != nil {
		return 0, err
	}
	if high {
		v >>= 8
	}
	return v & sizeMask(size), nil
}

// writeGPR updates size bytes of a general purpose register. 32-bit writes
// zero the upper half, 8 and 16-bit writes keep the untouched bytes.
func (e *emulator) writeGPR(reg Reg, high bool, size int, val uint64) error {
	switch size {
	case 8:
		return setReg(e.regs, reg, val)
	case 4:
		return setReg(e.regs, reg, val&0xffffffff)
	}
	old, err := getReg(e.regs, reg)
	if err != nil {
		return err
	}
	mask := sizeMask(size)
	shift := uint(0)
	if high {
		shift = 8
	}
	return setReg(e.regs, reg, old&^(mask<<shift)|(val&mask)<<shift)
}

// readRM reads the r/m operand: the faulting address for memory operands,
// the register for register-direct ones.
func (e *emulator) readRM(size int) (uint64, error) {
	if op, ok := e.insn.RM.(RegOperand); ok {
		return e.readGPR(op.Reg, op.High, size)
	}
	return e.readMem(e.gpa, size)
}

func (e *emulator) writeRM(size int, val uint64) error {
	if op, ok := e.insn.RM.(RegOperand); ok {
		return e.writeGPR(op.Reg, op.High, size, val)
	}
	return e.writeMem(e.gpa, size, val)
}

func (e *emulator) updateFlags(flags, mask uint64) error {
	rflags, err := getReg(e.regs, RFLAGS)
	if err != nil {
		return err
	}
	return setReg(e.regs, RFLAGS, mergeFlags(rflags, flags, mask))
}

func (e *emulator) load(signed bool) error {
	insn := e.insn
	srcSize := insn.SrcSize()
	val, err := e.readRM(srcSize)
	if err != nil {
		return err
	}
	if signed {
		val = signExtend(val, srcSize)
	}
	return e.writeGPR(insn.Reg, insn.RegHigh, insn.OpSize, val)
}

func (e *emulator) store() error {
	insn := e.insn
	var val uint64
	if insn.Op.Class == ClassStoreImm {
		val = uint64(insn.Imm)
	} else {
		var err error
		if val, err = e.readGPR(insn.Reg, insn.RegHigh, insn.OpSize); err != nil {
			return err
		}
	}
	return e.writeRM(insn.OpSize, val)
}

// source returns the second ALU operand: the immediate if present,
// otherwise the ModRM.reg register.
func (e *emulator) source() (uint64, error) {
	insn := e.insn
	if insn.ImmSize != 0 {
		return uint64(insn.Imm) & sizeMask(insn.OpSize), nil
	}
	return e.readGPR(insn.Reg, insn.RegHigh, insn.OpSize)
}

func (e *emulator) alu() error {
	insn := e.insn
	size := insn.OpSize
	var a, b uint64
	var err error
	if insn.Op.MemDest() {
		if a, err = e.readRM(size); err != nil {
			return err
		}
		if b, err = e.source(); err != nil {
			return err
		}
	} else {
		if a, err = e.readGPR(insn.Reg, insn.RegHigh, size); err != nil {
			return err
		}
		if b, err = e.readRM(size); err != nil {
			return err
		}
	}
	var r, flags uint64
	switch insn.Op.Class {
	case ClassAnd:
		r = a & b
		flags = logicFlags(r, size)
	case ClassOr:
		r = a | b
		flags = logicFlags(r, size)
	case ClassSub, ClassCompare:
		r = a - b
		flags = subFlags(a, b, size)
	}
	r &= sizeMask(size)
	if insn.Op.Class != ClassCompare {
		if insn.Op.MemDest() {
			err = e.writeRM(size, r)
		} else {
			err = e.writeGPR(insn.Reg, insn.RegHigh, size, r)
		}
		if err != nil {
			return err
		}
	}
	return e.updateFlags(flags, StatusFlags)
}

func (e *emulator) bitTest() error {
	insn := e.insn
	size := insn.OpSize
	val, err := e.readRM(size)
	if err != nil {
		return err
	}
	bit := uint64(insn.Imm) & (uint64(size)*8 - 1)
	var flags uint64
	if val>>bit&1 != 0 {
		flags = FlagCF
	}
	return e.updateFlags(flags, FlagCF)
}

func (e *emulator) translate(gla uint64) (uint64, error) {
	tr, ok := e.mem.(Translator)
	if !ok {
		return gla, nil
	}
	gpa, err := tr.Translate(gla)
	if err != nil {
		return 0, fmt.Errorf("%w: translate %#x: %w", ErrMemoryAccess, gla, err)
	}
	return gpa, nil
}

// addrReg reads an address register truncated to the address size.
func (e *emulator) addrReg(reg Reg) (uint64, error) {
	v, err := getReg(e.regs, reg)
	if err != nil {
		return 0, err
	}
	return v & sizeMask(e.insn.AddrSize), nil
}

// writeAddrReg stores an updated address register at the address size.
func (e *emulator) writeAddrReg(reg Reg, val uint64) error {
	return e.writeGPR(reg, false, e.insn.AddrSize, val)
}

// stringStep returns the signed element stride for string instructions.
func (e *emulator) stringStep() (uint64, error) {
	rflags, err := getReg(e.regs, RFLAGS)
	if err != nil {
		return 0, err
	}
	step := uint64(e.insn.OpSize)
	if rflags&FlagDF != 0 {
		step = -step
	}
	return step, nil
}

// repCount returns the remaining iteration count and whether an iteration
// should run at all.
func (e *emulator) repCount() (uint64, bool, error) {
	if !e.insn.Rep() {
		return 0, true, nil
	}
	cnt, err := e.addrReg(RCX)
	if err != nil {
		return 0, false, err
	}
	return cnt, cnt != 0, nil
}

func (e *emulator) finishRep(cnt uint64) error {
	if !e.insn.Rep() {
		return nil
	}
	return e.writeAddrReg(RCX, cnt-1)
}

func (e *emulator) moveString() error {
	size := e.insn.OpSize
	cnt, run, err := e.repCount()
	if err != nil || !run {
		return err
	}
	step, err := e.stringStep()
	if err != nil {
		return err
	}
	rsi, err := e.addrReg(RSI)
	if err != nil {
		return err
	}
	rdi, err := e.addrReg(RDI)
	if err != nil {
		return err
	}
	src, dst, err := e.stringOperands(rsi, rdi)
	if err != nil {
		return err
	}
	val, err := e.readMem(src, size)
	if err != nil {
		return err
	}
	if err := e.writeMem(dst, size, val); err != nil {
		return err
	}
	if err := e.writeAddrReg(RSI, rsi+step); err != nil {
		return err
	}
	if err := e.writeAddrReg(RDI, rdi+step); err != nil {
		return err
	}
	return e.finishRep(cnt)
}

// stringOperands returns the physical source and destination of MOVS.
// The faulting access is one of the two sides and is served at gpa; only the
// other side goes through translation. The destination is the faulting side
// iff RDI translates to gpa, otherwise it is the source.
func (e *emulator) stringOperands(rsi, rdi uint64) (src, dst uint64, err error) {
	dst, err = e.translate(rdi)
	if err != nil {
		return 0, 0, err
	}
	if dst != e.gpa {
		return e.gpa, dst, nil
	}
	src, err = e.translate(rsi)
	if err != nil {
		return 0, 0, err
	}
	return src, e.gpa, nil
}

func (e *emulator) storeString() error {
	insn := e.insn
	cnt, run, err := e.repCount()
	if err != nil || !run {
		return err
	}
	step, err := e.stringStep()
	if err != nil {
		return err
	}
	rdi, err := e.addrReg(RDI)
	if err != nil {
		return err
	}
	val, err := e.readGPR(insn.Reg, false, insn.OpSize)
	if err != nil {
		return err
	}
	if err := e.writeMem(e.gpa, insn.OpSize, val); err != nil {
		return err
	}
	if err := e.writeAddrReg(RDI, rdi+step); err != nil {
		return err
	}
	return e.finishRep(cnt)
}

// stackSize is the width of the stack pointer.
func (e *emulator) stackSize() int {
	if e.insn.Mode == ModeLong64 {
		return 8
	}
	return 4
}

func (e *emulator) push() error {
	size := e.insn.OpSize
	val, err := e.readRM(size)
	if err != nil {
		return err
	}
	rsp, err := getReg(e.regs, RSP)
	if err != nil {
		return err
	}
	rsp = (rsp - uint64(size)) & sizeMask(e.stackSize())
	dst, err := e.translate(rsp)
	if err != nil {
		return err
	}
	if err := e.writeMem(dst, size, val); err != nil {
		return err
	}
	return e.writeGPR(RSP, false, e.stackSize(), rsp)
}

func (e *emulator) pop() error {
	size := e.insn.OpSize
	rsp, err := getReg(e.regs, RSP)
	if err != nil {
		return err
	}
	rsp &= sizeMask(e.stackSize())
	src, err := e.translate(rsp)
	if err != nil {
		return err
	}
	val, err := e.readMem(src, size)
	if err != nil {
		return err
	}
	if err := e.writeRM(size, val); err != nil {
		return err
	}
	return e.writeGPR(RSP, false, e.stackSize(), rsp+uint64(size))
}

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package x86emu decodes and emulates x86 instructions that fault on
// memory-mapped device registers.
//
// A hypervisor that traps a guest access to an MMIO region hands the fetched
// instruction bytes to Decode and the resulting Insn, together with the
// faulting guest physical address, to Execute. Execute performs the
// instruction's effect through the caller's RegisterFile and MemoryAccessor.
// Decode and Execute share only the Insn record and the read-only opcode
// table, so any number of vCPUs may use the package concurrently.
package x86emu

import (
	"errors"
	"fmt"
)

// Mode is the CPU execution mode the instruction was fetched in.
type Mode int

const (
	ModeLong64 Mode = iota
	ModeProt32
	ModeLast
)

func (mode Mode) String() string {
	switch mode {
	case ModeLong64:
		return "long64"
	case ModeProt32:
		return "prot32"
	default:
		return fmt.Sprintf("mode%d", int(mode))
	}
}

// Reg identifies a guest register. General purpose registers come first in
// hardware encoding order, so Reg(n) is the register encoded as n in
// ModRM/SIB/REX fields.
type Reg int

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	RIP
	RFLAGS
	CR0
	CR4
	EFER
	ES
	CS
	SS
	DS
	FS
	GS
	RegLast

	// RegNone marks an absent register operand.
	RegNone = RegLast
)

var regNames = [...]string{
	RAX: "rax", RCX: "rcx", RDX: "rdx", RBX: "rbx",
	RSP: "rsp", RBP: "rbp", RSI: "rsi", RDI: "rdi",
	R8: "r8", R9: "r9", R10: "r10", R11: "r11",
	R12: "r12", R13: "r13", R14: "r14", R15: "r15",
	RIP: "rip", RFLAGS: "rflags", CR0: "cr0", CR4: "cr4", EFER: "efer",
	ES: "es", CS: "cs", SS: "ss", DS: "ds", FS: "fs", GS: "gs",
}

func (reg Reg) String() string {
	if reg >= 0 && reg < RegLast {
		return regNames[reg]
	}
	if reg == RegNone {
		return "none"
	}
	return fmt.Sprintf("reg%d", int(reg))
}

// Valid reports whether reg is inside the register id space.
func (reg Reg) Valid() bool {
	return reg >= 0 && reg < RegLast
}

// IsGPR reports whether reg is one of the 16 general purpose registers.
func (reg Reg) IsGPR() bool {
	return reg >= RAX && reg <= R15
}

// RegByName maps lower-case register names back to ids.
func RegByName(name string) (Reg, bool) {
	for reg, n := range regNames {
		if n == name {
			return Reg(reg), true
		}
	}
	return RegNone, false
}

// RegisterFile is the per-vCPU register state the emulator reads and updates.
type RegisterFile interface {
	GetRegister(reg Reg) (uint64, error)
	SetRegister(reg Reg, val uint64) error
}

// MemoryAccessor is the device model behind the trapped region.
// Sizes are 1, 2, 4 or 8 bytes; values are little-endian and zero-extended.
type MemoryAccessor interface {
	ReadMem(gpa uint64, size int) (uint64, error)
	WriteMem(gpa uint64, size int, val uint64) error
}

// Translator may be implemented by a MemoryAccessor whose address space also
// covers guest RAM. String and stack instructions use it to turn the linear
// addresses held in RSI/RDI/RSP into guest physical addresses.
// Without it linear addresses are used as is.
type Translator interface {
	Translate(gla uint64) (uint64, error)
}

var (
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	ErrMalformedOperand  = errors.New("malformed operand")
	ErrTruncated         = errors.New("truncated instruction")
	ErrTrailingBytes     = errors.New("instruction shorter than valid bytes")

	ErrRegisterAccess  = errors.New("register access fault")
	ErrMemoryAccess    = errors.New("memory access fault")
	ErrInvalidRegister = errors.New("invalid register index")
	ErrNoMemOperand    = errors.New("instruction has no explicit memory operand")
)

// MaxInsnLen is the architectural limit on instruction length.
const MaxInsnLen = 15

// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"fmt"
)

// Class selects the execution semantics of an opcode.
type Class int

const (
	ClassLoadReg Class = iota
	ClassStoreReg
	ClassStoreImm
	ClassMoveZeroExtend
	ClassMoveSignExtend
	ClassAnd
	ClassOr
	ClassSub
	ClassCompare
	ClassBitTest
	ClassMoveString
	ClassStoreString
	ClassPush
	ClassPop
	ClassLast
)

var classNames = [...]string{
	ClassLoadReg:        "LoadReg",
	ClassStoreReg:       "StoreReg",
	ClassStoreImm:       "StoreImm",
	ClassMoveZeroExtend: "MoveZeroExtend",
	ClassMoveSignExtend: "MoveSignExtend",
	ClassAnd:            "And",
	ClassOr:             "Or",
	ClassSub:            "Sub",
	ClassCompare:        "Compare",
	ClassBitTest:        "BitTest",
	ClassMoveString:     "MoveString",
	ClassStoreString:    "StoreString",
	ClassPush:           "Push",
	ClassPop:            "Pop",
}

func (class Class) String() string {
	if class >= 0 && class < ClassLast {
		return classNames[class]
	}
	return fmt.Sprintf("class%d", int(class))
}

// Immediate size policies (same convention as ifuzz instruction tables).
const (
	immNone = 0
	imm8    = 1
	immZ    = -1 // 2 bytes with 16-bit operand size, 4 bytes otherwise
)

type opFlags uint32

const (
	opByte       opFlags = 1 << iota // operand size is always 1
	opMemDest                        // r/m operand is the destination
	opSignImm                        // immediate is sign-extended to operand size
	opStack                          // operand size defaults to 8 in long mode
	opMoffs                          // address-size absolute offset follows the opcode
	opAccum                          // register operand is the accumulator
	opString                         // implicit RSI/RDI operands, accepts REP
	opLong64                         // valid in long mode only
	opLockable                       // LOCK prefix is legal with a memory destination
	opImplicitOp                     // no explicit memory operand, skip GLA verification
)

// Opcode is one row of the opcode table. Decode, Execute and Encode all
// consult the same rows.
type Opcode struct {
	Name   string
	Class  Class
	Escape bool // two-byte opcode behind 0x0f
	Byte   byte // opcode byte
	Modrm  bool // ModRM byte follows the opcode
	Reg    int8 // ModRM.reg group selector, -1 if reg names a register
	Imm    int8 // immediate size policy
	Src    int8 // fixed source size for zero/sign extending loads
	flags  opFlags
}

func (op *Opcode) has(f opFlags) bool {
	return op.flags&f != 0
}

// MemDest reports whether the r/m operand is the destination.
func (op *Opcode) MemDest() bool {
	return op.has(opMemDest)
}

// ByteOp reports whether the operand size is fixed at one byte.
func (op *Opcode) ByteOp() bool {
	return op.has(opByte)
}

func (op *Opcode) String() string {
	if op.Escape {
		return fmt.Sprintf("%v(0f %02x)", op.Name, op.Byte)
	}
	return fmt.Sprintf("%v(%02x)", op.Name, op.Byte)
}

// aluRows generates the four ModRM forms of a two-operand ALU instruction:
// r/m8,r8; r/m,r; r8,r/m8; r,r/m.
func aluRows(name string, class Class, base byte) []*Opcode {
	lock := opLockable
	if class == ClassCompare {
		lock = 0
	}
	return []*Opcode{
		{Name: name, Class: class, Byte: base, Modrm: true, Reg: -1, flags: opByte | opMemDest | lock},
		{Name: name, Class: class, Byte: base + 1, Modrm: true, Reg: -1, flags: opMemDest | lock},
		{Name: name, Class: class, Byte: base + 2, Modrm: true, Reg: -1, flags: opByte},
		{Name: name, Class: class, Byte: base + 3, Modrm: true, Reg: -1},
	}
}

// group1Rows generates the immediate forms 80/81/83 for one ModRM.reg slot.
func group1Rows(name string, class Class, slot int8) []*Opcode {
	lock := opLockable
	if class == ClassCompare {
		lock = 0
	}
	return []*Opcode{
		{Name: name, Class: class, Byte: 0x80, Modrm: true, Reg: slot, Imm: imm8, flags: opByte | opMemDest | lock},
		{Name: name, Class: class, Byte: 0x81, Modrm: true, Reg: slot, Imm: immZ, flags: opMemDest | opSignImm | lock},
		{Name: name, Class: class, Byte: 0x83, Modrm: true, Reg: slot, Imm: imm8, flags: opMemDest | opSignImm | lock},
	}
}

func makeTable() []*Opcode {
	var rows []*Opcode
	rows = append(rows, aluRows("or", ClassOr, 0x08)...)
	rows = append(rows, aluRows("and", ClassAnd, 0x20)...)
	rows = append(rows, aluRows("sub", ClassSub, 0x28)...)
	rows = append(rows, aluRows("cmp", ClassCompare, 0x38)...)
	rows = append(rows, group1Rows("or", ClassOr, 1)...)
	rows = append(rows, group1Rows("and", ClassAnd, 4)...)
	rows = append(rows, group1Rows("sub", ClassSub, 5)...)
	rows = append(rows, group1Rows("cmp", ClassCompare, 7)...)
	rows = append(rows, []*Opcode{
		{Name: "movsxd", Class: ClassMoveSignExtend, Byte: 0x63, Modrm: true, Reg: -1, Src: 4, flags: opLong64},
		{Name: "mov", Class: ClassStoreReg, Byte: 0x88, Modrm: true, Reg: -1, flags: opByte | opMemDest},
		{Name: "mov", Class: ClassStoreReg, Byte: 0x89, Modrm: true, Reg: -1, flags: opMemDest},
		{Name: "mov", Class: ClassLoadReg, Byte: 0x8a, Modrm: true, Reg: -1, flags: opByte},
		{Name: "mov", Class: ClassLoadReg, Byte: 0x8b, Modrm: true, Reg: -1},
		{Name: "pop", Class: ClassPop, Byte: 0x8f, Modrm: true, Reg: 0, flags: opStack | opMemDest},
		{Name: "mov", Class: ClassLoadReg, Byte: 0xa0, flags: opByte | opMoffs | opAccum},
		{Name: "mov", Class: ClassLoadReg, Byte: 0xa1, flags: opMoffs | opAccum},
		{Name: "mov", Class: ClassStoreReg, Byte: 0xa2, flags: opByte | opMoffs | opAccum | opMemDest},
		{Name: "mov", Class: ClassStoreReg, Byte: 0xa3, flags: opMoffs | opAccum | opMemDest},
		{Name: "movs", Class: ClassMoveString, Byte: 0xa4, flags: opByte | opString | opImplicitOp},
		{Name: "movs", Class: ClassMoveString, Byte: 0xa5, flags: opString | opImplicitOp},
		{Name: "stos", Class: ClassStoreString, Byte: 0xaa, flags: opByte | opString | opAccum | opImplicitOp},
		{Name: "stos", Class: ClassStoreString, Byte: 0xab, flags: opString | opAccum | opImplicitOp},
		{Name: "mov", Class: ClassStoreImm, Byte: 0xc6, Modrm: true, Reg: 0, Imm: imm8, flags: opByte | opMemDest},
		{Name: "mov", Class: ClassStoreImm, Byte: 0xc7, Modrm: true, Reg: 0, Imm: immZ, flags: opMemDest | opSignImm},
		{Name: "push", Class: ClassPush, Byte: 0xff, Modrm: true, Reg: 6, flags: opStack},
		{Name: "movzx", Class: ClassMoveZeroExtend, Escape: true, Byte: 0xb6, Modrm: true, Reg: -1, Src: 1},
		{Name: "movzx", Class: ClassMoveZeroExtend, Escape: true, Byte: 0xb7, Modrm: true, Reg: -1, Src: 2},
		{Name: "bt", Class: ClassBitTest, Escape: true, Byte: 0xba, Modrm: true, Reg: 4, Imm: imm8},
		{Name: "movsx", Class: ClassMoveSignExtend, Escape: true, Byte: 0xbe, Modrm: true, Reg: -1, Src: 1},
		{Name: "movsx", Class: ClassMoveSignExtend, Escape: true, Byte: 0xbf, Modrm: true, Reg: -1, Src: 2},
	}...)
	return rows
}

func opcodeKey(escape bool, b byte) uint16 {
	if escape {
		return 0x0f00 | uint16(b)
	}
	return uint16(b)
}

var (
	// Opcodes lists every supported table row.
	Opcodes = makeTable()
	opIndex = buildIndex(Opcodes)
)

func buildIndex(rows []*Opcode) map[uint16][]*Opcode {
	index := make(map[uint16][]*Opcode)
	for _, op := range rows {
		key := opcodeKey(op.Escape, op.Byte)
		for _, other := range index[key] {
			if other.Reg == op.Reg || other.Reg < 0 || op.Reg < 0 {
				panic(fmt.Sprintf("duplicate opcode rows %v and %v", other, op))
			}
		}
		index[key] = append(index[key], op)
	}
	return index
}

// lookupOpcode returns the candidate rows for an opcode. The second result
// tells whether the rows are selected by ModRM.reg.
func lookupOpcode(escape bool, b byte) ([]*Opcode, bool) {
	rows := opIndex[opcodeKey(escape, b)]
	if len(rows) == 0 {
		return nil, false
	}
	return rows, rows[0].Reg >= 0
}

func selectGroup(rows []*Opcode, reg byte) *Opcode {
	for _, op := range rows {
		if op.Reg < 0 || op.Reg == int8(reg) {
			return op
		}
	}
	return nil
}

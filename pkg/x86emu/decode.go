// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"fmt"
	"strings"
)

// Prefix is a bitmask of the prefixes present on an instruction.
type Prefix uint16

const (
	PrefixOpSize   Prefix = 1 << iota // 0x66
	PrefixAddrSize                    // 0x67
	PrefixRep                         // 0xf3
	PrefixRepne                       // 0xf2
	PrefixLock                        // 0xf0
	PrefixRex                         // 0x40-0x4f in long mode
)

const (
	rexW = 0x8
	rexR = 0x4
	rexX = 0x2
	rexB = 0x1
)

// Insn is a decoded instruction. It is produced by Decode, consumed by
// Execute and keeps no reference to the bytes it was decoded from.
type Insn struct {
	Op       *Opcode
	Mode     Mode
	Prefixes Prefix
	Rex      byte
	Seg      Reg // segment override or RegNone
	OpSize   int
	AddrSize int
	Reg      Reg // register operand or RegNone
	RegHigh  bool
	RM       Operand
	Imm      int64
	ImmSize  int
	RIP      uint64
	Len      int
}

// Class returns the execution class of the instruction.
func (insn *Insn) Class() Class {
	return insn.Op.Class
}

// NextRIP is the address of the following instruction.
func (insn *Insn) NextRIP() uint64 {
	return insn.RIP + uint64(insn.Len)
}

// Rep reports whether a string instruction carries a repeat prefix.
func (insn *Insn) Rep() bool {
	return insn.Op.has(opString) && insn.Prefixes&(PrefixRep|PrefixRepne) != 0
}

// Implicit reports whether the memory operand is addressed through RSI/RDI
// rather than ModRM, so there is no effective address to check against
// the linear address reported by the exit.
func (insn *Insn) Implicit() bool {
	return insn.Op.has(opImplicitOp)
}

// SrcSize is the size of the memory read of zero/sign extending loads.
func (insn *Insn) SrcSize() int {
	if insn.Op.Src != 0 {
		return int(insn.Op.Src)
	}
	return insn.OpSize
}

func (insn *Insn) String() string {
	buf := new(strings.Builder)
	if insn.Rep() {
		buf.WriteString("rep ")
	}
	if insn.Prefixes&PrefixLock != 0 {
		buf.WriteString("lock ")
	}
	fmt.Fprintf(buf, "%v%v", insn.Op.Name, sizeSuffix(insn.OpSize))
	var args []string
	reg := ""
	if insn.Reg != RegNone {
		reg = RegOperand{Reg: insn.Reg, High: insn.RegHigh}.String()
	}
	rm := ""
	if insn.RM != nil {
		rm = insn.RM.String()
	}
	if insn.Op.MemDest() {
		args = append(args, rm, reg)
	} else {
		args = append(args, reg, rm)
	}
	if insn.ImmSize != 0 {
		args = append(args, fmt.Sprintf("%#x", uint64(insn.Imm)&sizeMask(insn.OpSize)))
	}
	sep := " "
	for _, arg := range args {
		if arg == "" {
			continue
		}
		buf.WriteString(sep)
		buf.WriteString(arg)
		sep = ", "
	}
	return buf.String()
}

func sizeSuffix(size int) string {
	switch size {
	case 1:
		return "b"
	case 2:
		return "w"
	case 4:
		return "l"
	default:
		return "q"
	}
}

var segPrefixes = map[byte]Reg{
	0x26: ES, 0x2e: CS, 0x36: SS, 0x3e: DS, 0x64: FS, 0x65: GS,
}

type decoder struct {
	text []byte
	pos  int
	insn *Insn
}

func (d *decoder) next() (byte, bool) {
	if d.pos >= len(d.text) {
		return 0, false
	}
	b := d.text[d.pos]
	d.pos++
	return b, true
}

func (d *decoder) peek() (byte, bool) {
	if d.pos >= len(d.text) {
		return 0, false
	}
	return d.text[d.pos], true
}

// fetch reads a little-endian value of the given size.
func (d *decoder) fetch(size int) (uint64, error) {
	if len(d.text)-d.pos < size {
		return 0, fmt.Errorf("%w: need %v more bytes at offset %v", ErrTruncated, size, d.pos)
	}
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(d.text[d.pos+i]) << (8 * uint(i))
	}
	d.pos += size
	return v, nil
}

func (d *decoder) fetchSigned(size int) (int64, error) {
	v, err := d.fetch(size)
	return int64(signExtend(v, size)), err
}

// Decode decodes a single instruction fetched at rip. len(text) is the number
// of valid bytes; the instruction must consume exactly all of them.
func Decode(mode Mode, text []byte, rip uint64) (*Insn, error) {
	if mode < 0 || mode >= ModeLast {
		return nil, fmt.Errorf("bad mode %v", mode)
	}
	insn := &Insn{
		Mode: mode,
		Seg:  RegNone,
		Reg:  RegNone,
		RIP:  rip,
	}
	d := &decoder{text: text, insn: insn}
	if err := d.decodePrefixes(); err != nil {
		return nil, err
	}
	op, modrm, err := d.decodeOpcode()
	if err != nil {
		return nil, err
	}
	insn.Op = op
	d.decodeSizes()
	if err := d.checkPrefixes(modrm); err != nil {
		return nil, err
	}
	if op.Modrm {
		if err := d.decodeModrm(modrm); err != nil {
			return nil, err
		}
	}
	if op.has(opAccum) {
		insn.Reg = RAX
	}
	if op.has(opMoffs) {
		addr, err := d.fetch(insn.AddrSize)
		if err != nil {
			return nil, err
		}
		insn.RM = AbsOperand{Addr: addr}
	}
	if err := d.decodeImm(); err != nil {
		return nil, err
	}
	if d.pos > MaxInsnLen {
		return nil, fmt.Errorf("%w: %v is %v bytes long", ErrMalformedOperand, op, d.pos)
	}
	if d.pos != len(text) {
		return nil, fmt.Errorf("%w: %v decoded from %v of %v bytes",
			ErrTrailingBytes, op, d.pos, len(text))
	}
	insn.Len = d.pos
	return insn, nil
}

func (d *decoder) decodePrefixes() error {
	insn := d.insn
	for {
		b, ok := d.peek()
		if !ok {
			return fmt.Errorf("%w: no opcode after %v prefix bytes", ErrTruncated, d.pos)
		}
		if d.pos >= MaxInsnLen-1 {
			return fmt.Errorf("%w: prefixes exceed %v bytes", ErrMalformedOperand, MaxInsnLen)
		}
		if insn.Mode == ModeLong64 && b&0xf0 == 0x40 {
			insn.Prefixes |= PrefixRex
			insn.Rex = b
			d.pos++
			continue
		}
		var prefix Prefix
		switch b {
		case 0x66:
			prefix = PrefixOpSize
		case 0x67:
			prefix = PrefixAddrSize
		case 0xf3:
			prefix = PrefixRep
		case 0xf2:
			prefix = PrefixRepne
		case 0xf0:
			prefix = PrefixLock
		default:
			seg, isSeg := segPrefixes[b]
			if !isSeg {
				return nil
			}
			insn.Seg = seg
		}
		if insn.Prefixes&PrefixRex != 0 {
			// REX only counts when it immediately precedes the opcode.
			insn.Prefixes &^= PrefixRex
			insn.Rex = 0
		}
		if prefix == PrefixRep || prefix == PrefixRepne {
			insn.Prefixes &^= PrefixRep | PrefixRepne
		}
		insn.Prefixes |= prefix
		d.pos++
	}
}

// decodeOpcode matches the opcode bytes against the table. For group
// opcodes it peeks at the ModRM byte to select the row; the returned ModRM
// byte is not consumed.
func (d *decoder) decodeOpcode() (*Opcode, byte, error) {
	b, _ := d.next()
	escape := false
	if b == 0x0f {
		escape = true
		var ok bool
		if b, ok = d.next(); !ok {
			return nil, 0, fmt.Errorf("%w: missing byte after 0f escape", ErrTruncated)
		}
	}
	rows, group := lookupOpcode(escape, b)
	if len(rows) == 0 {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedOpcode, opcodeString(escape, b))
	}
	var modrm byte
	if rows[0].Modrm {
		var ok bool
		if modrm, ok = d.peek(); !ok {
			return nil, 0, fmt.Errorf("%w: missing ModRM after %v", ErrTruncated, opcodeString(escape, b))
		}
	}
	op := rows[0]
	if group {
		if op = selectGroup(rows, (modrm>>3)&7); op == nil {
			return nil, 0, fmt.Errorf("%w: %v /%v", ErrUnsupportedOpcode, opcodeString(escape, b), (modrm>>3)&7)
		}
	}
	if op.has(opLong64) && d.insn.Mode != ModeLong64 {
		return nil, 0, fmt.Errorf("%w: %v outside long mode", ErrUnsupportedOpcode, op)
	}
	return op, modrm, nil
}

func opcodeString(escape bool, b byte) string {
	if escape {
		return fmt.Sprintf("0f %02x", b)
	}
	return fmt.Sprintf("%02x", b)
}

func (d *decoder) decodeSizes() {
	insn := d.insn
	op := insn.Op
	switch insn.Mode {
	case ModeLong64:
		insn.AddrSize = 8
		if insn.Prefixes&PrefixAddrSize != 0 {
			insn.AddrSize = 4
		}
	case ModeProt32:
		insn.AddrSize = 4
		if insn.Prefixes&PrefixAddrSize != 0 {
			insn.AddrSize = 2
		}
	}
	switch {
	case op.has(opByte):
		insn.OpSize = 1
	case insn.Rex&rexW != 0:
		insn.OpSize = 8
	case insn.Prefixes&PrefixOpSize != 0:
		insn.OpSize = 2
	case op.has(opStack) && insn.Mode == ModeLong64:
		insn.OpSize = 8
	default:
		insn.OpSize = 4
	}
}

func (d *decoder) checkPrefixes(modrm byte) error {
	insn := d.insn
	op := insn.Op
	if insn.Prefixes&PrefixLock != 0 {
		if !op.has(opLockable) || modrm>>6 == 3 {
			return fmt.Errorf("%w: lock prefix on %v", ErrMalformedOperand, op)
		}
	}
	if op.Escape && insn.Prefixes&(PrefixRep|PrefixRepne) != 0 {
		// f2/f3 select different instructions in the two-byte map.
		return fmt.Errorf("%w: %v with rep prefix", ErrUnsupportedOpcode, op)
	}
	return nil
}

func (d *decoder) decodeModrm(modrm byte) error {
	insn := d.insn
	d.pos++
	mod := modrm >> 6
	reg := (modrm >> 3) & 7
	rm := modrm & 7
	if insn.Op.Reg < 0 {
		insn.Reg, insn.RegHigh = d.gpr(reg, insn.Rex&rexR != 0, insn.OpSize)
	}
	if mod == 3 {
		r, high := d.gpr(rm, insn.Rex&rexB != 0, insn.SrcSize())
		insn.RM = RegOperand{Reg: r, High: high}
		return nil
	}
	if insn.AddrSize == 2 {
		return d.decodeModrm16(mod, rm)
	}
	mem := MemOperand{Base: RegNone, Index: RegNone, Scale: 1}
	if rm == 4 {
		sib, ok := d.next()
		if !ok {
			return fmt.Errorf("%w: missing SIB", ErrTruncated)
		}
		scale := sib >> 6
		index := (sib >> 3) & 7
		base := sib & 7
		if index != 4 || insn.Rex&rexX != 0 {
			mem.Index = Reg(index) + Reg(insn.Rex&rexX)<<2
			mem.Scale = 1 << scale
		}
		if base == 5 && mod == 0 {
			disp, err := d.fetchSigned(4)
			if err != nil {
				return err
			}
			mem.Disp = disp
			insn.RM = mem
			return nil
		}
		mem.Base = Reg(base) + Reg(insn.Rex&rexB)<<3
	} else if rm == 5 && mod == 0 {
		disp, err := d.fetchSigned(4)
		if err != nil {
			return err
		}
		if insn.Mode == ModeLong64 {
			insn.RM = RIPOperand{Disp: disp}
		} else {
			mem.Disp = disp
			insn.RM = mem
		}
		return nil
	} else {
		mem.Base = Reg(rm) + Reg(insn.Rex&rexB)<<3
	}
	var err error
	switch mod {
	case 1:
		mem.Disp, err = d.fetchSigned(1)
	case 2:
		mem.Disp, err = d.fetchSigned(4)
	}
	if err != nil {
		return err
	}
	insn.RM = mem
	return nil
}

var modrm16 = [8][2]Reg{
	{RBX, RSI}, {RBX, RDI}, {RBP, RSI}, {RBP, RDI},
	{RSI, RegNone}, {RDI, RegNone}, {RBP, RegNone}, {RBX, RegNone},
}

func (d *decoder) decodeModrm16(mod, rm byte) error {
	mem := MemOperand{Base: modrm16[rm][0], Index: modrm16[rm][1], Scale: 1}
	var err error
	switch {
	case mod == 0 && rm == 6:
		mem.Base = RegNone
		mem.Disp, err = d.fetchSigned(2)
	case mod == 1:
		mem.Disp, err = d.fetchSigned(1)
	case mod == 2:
		mem.Disp, err = d.fetchSigned(2)
	}
	if err != nil {
		return err
	}
	d.insn.RM = mem
	return nil
}

// gpr maps a 3-bit register field plus REX extension bit to a register.
// Byte registers 4-7 name AH/CH/DH/BH unless any REX prefix is present.
func (d *decoder) gpr(n byte, ext bool, size int) (Reg, bool) {
	if ext {
		n += 8
	}
	if size == 1 && d.insn.Prefixes&PrefixRex == 0 && n >= 4 && n < 8 {
		return Reg(n - 4), true
	}
	return Reg(n), false
}

func (d *decoder) decodeImm() error {
	insn := d.insn
	op := insn.Op
	switch op.Imm {
	case immNone:
		return nil
	case imm8:
		insn.ImmSize = 1
	case immZ:
		insn.ImmSize = 4
		if insn.OpSize == 2 {
			insn.ImmSize = 2
		}
	default:
		panic(fmt.Sprintf("bad immediate policy %v for %v", op.Imm, op))
	}
	v, err := d.fetch(insn.ImmSize)
	if err != nil {
		return err
	}
	if op.has(opSignImm) {
		v = signExtend(v, insn.ImmSize)
	}
	insn.Imm = int64(v)
	return nil
}

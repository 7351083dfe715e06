// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"fmt"
	"math"
)

var (
	segBytes = map[Reg]byte{
		ES: 0x26, CS: 0x2e, SS: 0x36, DS: 0x3e, FS: 0x64, GS: 0x65,
	}
	scaleBits = map[uint8]byte{1: 0, 2: 1, 4: 2, 8: 3}
)

type encoder struct {
	insn    *Insn
	rex     byte
	needRex bool
	noRex   bool
	body    []byte
}

// Encode produces the canonical encoding of insn: legacy prefixes, REX,
// opcode, ModRM/SIB, the shortest displacement and the immediate.
// Decoding the result yields the same operands, sizes and prefixes.
func Encode(insn *Insn) ([]byte, error) {
	if insn.Op == nil {
		return nil, fmt.Errorf("%w: no opcode", ErrUnsupportedOpcode)
	}
	op := insn.Op
	e := &encoder{insn: insn, needRex: insn.Prefixes&PrefixRex != 0}
	if insn.Rex&rexW != 0 || insn.OpSize == 8 && !(op.has(opStack) && insn.Mode == ModeLong64) {
		e.rex |= rexW
	}
	if op.Escape {
		e.body = append(e.body, 0x0f)
	}
	e.body = append(e.body, op.Byte)
	if op.Modrm {
		if err := e.encodeModrm(); err != nil {
			return nil, err
		}
	}
	if op.has(opMoffs) {
		abs, ok := insn.RM.(AbsOperand)
		if !ok {
			return nil, fmt.Errorf("%w: %v needs an absolute operand, got %T", ErrMalformedOperand, op, insn.RM)
		}
		e.appendInt(abs.Addr, insn.AddrSize)
	}
	if insn.ImmSize != 0 {
		e.appendInt(uint64(insn.Imm), insn.ImmSize)
	}
	var text []byte
	if insn.Seg != RegNone {
		b, ok := segBytes[insn.Seg]
		if !ok {
			return nil, fmt.Errorf("%w: segment override %v", ErrMalformedOperand, insn.Seg)
		}
		text = append(text, b)
	}
	for _, p := range []struct {
		prefix Prefix
		b      byte
	}{
		{PrefixLock, 0xf0},
		{PrefixRep, 0xf3},
		{PrefixRepne, 0xf2},
		{PrefixOpSize, 0x66},
		{PrefixAddrSize, 0x67},
	} {
		if insn.Prefixes&p.prefix != 0 {
			text = append(text, p.b)
		}
	}
	if e.rex != 0 || e.needRex {
		if insn.Mode != ModeLong64 {
			return nil, fmt.Errorf("%w: REX outside long mode", ErrMalformedOperand)
		}
		if e.noRex {
			return nil, fmt.Errorf("%w: high byte register with REX", ErrMalformedOperand)
		}
		text = append(text, 0x40|e.rex)
	}
	text = append(text, e.body...)
	if len(text) > MaxInsnLen {
		return nil, fmt.Errorf("%w: %v bytes", ErrMalformedOperand, len(text))
	}
	return text, nil
}

func (e *encoder) appendInt(v uint64, size int) {
	for i := 0; i < size; i++ {
		e.body = append(e.body, byte(v>>(8*uint(i))))
	}
}

// gpr returns the 3-bit field for reg and records the REX requirements.
func (e *encoder) gpr(reg Reg, high bool, size int, rexBit byte) (byte, error) {
	if !reg.IsGPR() {
		return 0, fmt.Errorf("%w: %v is not a general purpose register", ErrInvalidRegister, reg)
	}
	n := byte(reg)
	if high {
		if reg > RBX {
			return 0, fmt.Errorf("%w: no high byte of %v", ErrMalformedOperand, reg)
		}
		e.noRex = true
		return n + 4, nil
	}
	if size == 1 && reg >= RSP && reg <= RDI {
		e.needRex = true
	}
	if n >= 8 {
		e.rex |= rexBit
	}
	return n & 7, nil
}

func (e *encoder) encodeModrm() error {
	insn := e.insn
	var reg byte
	if insn.Op.Reg >= 0 {
		reg = byte(insn.Op.Reg)
	} else {
		var err error
		if reg, err = e.gpr(insn.Reg, insn.RegHigh, insn.OpSize, rexR); err != nil {
			return err
		}
	}
	switch rm := insn.RM.(type) {
	case RegOperand:
		n, err := e.gpr(rm.Reg, rm.High, insn.SrcSize(), rexB)
		if err != nil {
			return err
		}
		e.body = append(e.body, 3<<6|reg<<3|n)
		return nil
	case RIPOperand:
		if insn.Mode != ModeLong64 {
			return fmt.Errorf("%w: rip-relative operand outside long mode", ErrMalformedOperand)
		}
		if rm.Disp < math.MinInt32 || rm.Disp > math.MaxInt32 {
			return fmt.Errorf("%w: displacement %#x", ErrMalformedOperand, rm.Disp)
		}
		e.body = append(e.body, reg<<3|5)
		e.appendInt(uint64(rm.Disp), 4)
		return nil
	case MemOperand:
		if insn.AddrSize == 2 {
			return e.encodeMem16(reg, rm)
		}
		return e.encodeMem(reg, rm)
	default:
		return fmt.Errorf("%w: %v needs a ModRM operand, got %T", ErrMalformedOperand, insn.Op, insn.RM)
	}
}

func (e *encoder) encodeMem(reg byte, mem MemOperand) error {
	insn := e.insn
	if mem.Disp < math.MinInt32 || mem.Disp > math.MaxInt32 {
		return fmt.Errorf("%w: displacement %#x", ErrMalformedOperand, mem.Disp)
	}
	var base, index byte
	var err error
	useSIB := mem.Index != RegNone ||
		mem.Base == RegNone && insn.Mode == ModeLong64 ||
		mem.Base != RegNone && mem.Base&7 == RSP
	if mem.Base != RegNone {
		if base, err = e.gpr(mem.Base, false, insn.AddrSize, rexB); err != nil {
			return err
		}
	}
	index = 4
	var scale byte
	if mem.Index != RegNone {
		if mem.Index == RSP {
			return fmt.Errorf("%w: rsp as index", ErrMalformedOperand)
		}
		if index, err = e.gpr(mem.Index, false, insn.AddrSize, rexX); err != nil {
			return err
		}
		var ok bool
		if scale, ok = scaleBits[mem.Scale]; !ok {
			return fmt.Errorf("%w: scale %v", ErrMalformedOperand, mem.Scale)
		}
	}
	if mem.Base == RegNone {
		if useSIB {
			e.body = append(e.body, reg<<3|4, scale<<6|index<<3|5)
		} else {
			e.body = append(e.body, reg<<3|5)
		}
		e.appendInt(uint64(mem.Disp), 4)
		return nil
	}
	var mod byte
	dispSize := 0
	switch {
	case mem.Disp == 0 && base != 5:
	case mem.Disp >= math.MinInt8 && mem.Disp <= math.MaxInt8:
		mod, dispSize = 1, 1
	default:
		mod, dispSize = 2, 4
	}
	if useSIB {
		e.body = append(e.body, mod<<6|reg<<3|4, scale<<6|index<<3|base)
	} else {
		e.body = append(e.body, mod<<6|reg<<3|base)
	}
	e.appendInt(uint64(mem.Disp), dispSize)
	return nil
}

func (e *encoder) encodeMem16(reg byte, mem MemOperand) error {
	if mem.Disp < math.MinInt16 || mem.Disp > math.MaxInt16 {
		return fmt.Errorf("%w: displacement %#x", ErrMalformedOperand, mem.Disp)
	}
	if mem.Base == RegNone && mem.Index == RegNone {
		e.body = append(e.body, reg<<3|6)
		e.appendInt(uint64(mem.Disp), 2)
		return nil
	}
	rm := -1
	for i, pair := range modrm16 {
		if pair[0] == mem.Base && pair[1] == mem.Index {
			rm = i
		}
	}
	if rm < 0 || mem.Index != RegNone && mem.Scale != 1 {
		return fmt.Errorf("%w: %v has no 16-bit encoding", ErrMalformedOperand, mem)
	}
	var mod byte
	dispSize := 0
	switch {
	case mem.Disp == 0 && rm != 6:
	case mem.Disp >= math.MinInt8 && mem.Disp <= math.MaxInt8:
		mod, dispSize = 1, 1
	default:
		mod, dispSize = 2, 2
	}
	e.body = append(e.body, mod<<6|reg<<3|byte(rm))
	e.appendInt(uint64(mem.Disp), dispSize)
	return nil
}

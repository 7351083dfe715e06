// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

// RFLAGS bits.
const (
	FlagCF uint64 = 1 << 0
	FlagPF uint64 = 1 << 2
	FlagAF uint64 = 1 << 4
	FlagZF uint64 = 1 << 6
	FlagSF uint64 = 1 << 7
	FlagDF uint64 = 1 << 10
	FlagOF uint64 = 1 << 11

	StatusFlags = FlagCF | FlagPF | FlagAF | FlagZF | FlagSF | FlagOF
)

// parity is true when the low byte has an even number of set bits.
func parity(v uint64) bool {
	b := byte(v)
	b ^= b >> 4
	b ^= b >> 2
	b ^= b >> 1
	return b&1 == 0
}

func signBit(size int) uint64 {
	return 1 << (uint(size)*8 - 1)
}

func resultFlags(r uint64, size int) uint64 {
	var flags uint64
	if r == 0 {
		flags |= FlagZF
	}
	if r&signBit(size) != 0 {
		flags |= FlagSF
	}
	if parity(r) {
		flags |= FlagPF
	}
	return flags
}

// logicFlags computes status flags after AND/OR. CF and OF are cleared,
// AF is left clear.
func logicFlags(r uint64, size int) uint64 {
	return resultFlags(r&sizeMask(size), size)
}

// subFlags computes status flags for a - b at the given size.
func subFlags(a, b uint64, size int) uint64 {
	mask := sizeMask(size)
	a &= mask
	b &= mask
	r := (a - b) & mask
	flags := resultFlags(r, size)
	if a < b {
		flags |= FlagCF
	}
	if (a^b)&(a^r)&signBit(size) != 0 {
		flags |= FlagOF
	}
	if (a^b^r)&0x10 != 0 {
		flags |= FlagAF
	}
	return flags
}

// mergeFlags replaces the status bits selected by mask.
func mergeFlags(rflags, flags, mask uint64) uint64 {
	return rflags&^mask | flags&mask
}

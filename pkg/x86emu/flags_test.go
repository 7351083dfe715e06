// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package x86emu

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParity(t *testing.T) {
	assert.True(t, parity(0))
	assert.True(t, parity(3))
	assert.True(t, parity(0xff))
	assert.True(t, parity(0x100))
	assert.False(t, parity(1))
	assert.False(t, parity(0x7f))
	assert.False(t, parity(0x80))
}

func TestSubFlags(t *testing.T) {
	tests := []struct {
		a, b uint64
		size int
		want uint64
	}{
		{0, 1, 1, FlagCF | FlagPF | FlagAF | FlagSF},
		{0x80, 1, 1, FlagOF | FlagAF},
		{5, 5, 4, FlagZF | FlagPF},
		{7, 5, 4, 0},
		{5, 7, 4, FlagCF | FlagAF | FlagSF},
		{0x8000, 1, 2, FlagOF | FlagAF | FlagPF},
		{0x7fffffff, 0xffffff80, 4, FlagCF | FlagOF | FlagSF},
		{0, 0, 8, FlagZF | FlagPF},
		{1 << 63, 1, 8, FlagOF | FlagAF | FlagPF},
		// Only the low size bytes take part.
		{0x1_00000005, 5, 4, FlagZF | FlagPF},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%#x-%#x/%v", test.a, test.b, test.size), func(t *testing.T) {
			got := subFlags(test.a, test.b, test.size)
			assert.Equal(t, test.want, got, "got %#x want %#x", got, test.want)
		})
	}
}

func TestLogicFlags(t *testing.T) {
	assert.Equal(t, FlagZF|FlagPF, logicFlags(0, 4))
	assert.Equal(t, FlagSF, logicFlags(0x80, 1))
	assert.Zero(t, logicFlags(0x80, 2))
	assert.Equal(t, FlagSF|FlagPF, logicFlags(0x80000000, 4))
	assert.Equal(t, FlagZF|FlagPF, logicFlags(0x100, 1))
	assert.Zero(t, logicFlags(0x100, 4)&(FlagCF|FlagOF|FlagAF))
}

func TestMergeFlags(t *testing.T) {
	rflags := uint64(0x2 | FlagDF | 0x200 | FlagCF | FlagOF)
	assert.Equal(t, uint64(0x2|FlagDF|0x200|FlagZF), mergeFlags(rflags, FlagZF, StatusFlags))
	assert.Equal(t, uint64(0x2|FlagDF|0x200|FlagOF), mergeFlags(rflags, FlagZF, FlagCF))
}

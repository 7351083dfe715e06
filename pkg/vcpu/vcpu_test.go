// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package vcpu

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/mmioemu/pkg/x86emu"
)

func TestGetSet(t *testing.T) {
	regs := New(0)
	val, err := regs.GetRegister(x86emu.RFLAGS)
	require.NoError(t, err)
	assert.Equal(t, uint64(resetFlags), val)

	require.NoError(t, regs.SetRegister(x86emu.R8, 0xa5a5a5a5deadbeef))
	val, err = regs.GetRegister(x86emu.R8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xa5a5a5a5deadbeef), val)
}

func TestInvalidRegister(t *testing.T) {
	regs := New(0)
	for _, reg := range []x86emu.Reg{x86emu.RegLast, x86emu.RegNone, -1, 1000} {
		_, err := regs.GetRegister(reg)
		assert.ErrorIs(t, err, ErrInvalidRegister, "get %v", reg)
		assert.ErrorIs(t, regs.SetRegister(reg, 1), ErrInvalidRegister, "set %v", reg)
	}
}

func TestPerVCPUState(t *testing.T) {
	a, b := New(0), New(1)
	require.NoError(t, a.SetRegister(x86emu.RAX, 1))
	val, err := b.GetRegister(x86emu.RAX)
	require.NoError(t, err)
	assert.Zero(t, val)
}

func TestLoadSnapshot(t *testing.T) {
	regs := New(3)
	require.NoError(t, regs.Load(map[string]uint64{
		"rax": 0xff000000,
		"RIP": 0x1000,
	}))
	want := map[string]uint64{
		"rax":    0xff000000,
		"rip":    0x1000,
		"rflags": resetFlags,
	}
	if diff := cmp.Diff(want, regs.Snapshot()); diff != "" {
		t.Fatal(diff)
	}
	assert.Equal(t, "vcpu3: rax=0xff000000 rflags=0x2 rip=0x1000", regs.String())
	assert.ErrorIs(t, regs.Load(map[string]uint64{"xmm0": 1}), ErrInvalidRegister)
}

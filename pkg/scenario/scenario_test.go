// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package scenario

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/mmioemu/pkg/mmio"
	"github.com/google/mmioemu/pkg/trap"
	"github.com/google/mmioemu/pkg/x86emu"
)

func TestTestdata(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "mmioemu.cfg"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.VCPUs)
	require.Len(t, cfg.Scenarios, 2)
	for _, name := range cfg.Scenarios {
		t.Run(filepath.Base(name), func(t *testing.T) {
			file, err := Load(name)
			require.NoError(t, err)
			results, err := Run(context.Background(), cfg, file)
			require.NoError(t, err)
			require.Len(t, results, cfg.Repeat*len(file.Scenarios))
			for _, res := range results {
				assert.True(t, res.Passed(), "%v", res)
			}
			passed, failed := Summarize(results)
			assert.Equal(t, len(results), passed)
			assert.Zero(t, failed)
		})
	}
}

func TestResultOrder(t *testing.T) {
	file, err := Load(filepath.Join("testdata", "string.yaml"))
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.VCPUs = 3
	cfg.Repeat = 2
	require.NoError(t, cfg.Complete())
	results, err := Run(context.Background(), cfg, file)
	require.NoError(t, err)
	var got []string
	for _, res := range results {
		got = append(got, fmt.Sprintf("%v#%v", res.Scenario, res.Iteration))
	}
	want := []string{
		"rep-movs-restart#0", "rep-movs-last#0", "stos#0", "push#0", "pop#0",
		"rep-movs-restart#1", "rep-movs-last#1", "stos#1", "push#1", "pop#1",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	assert.Contains(t, results[0].Insn, "rep movs")
	assert.True(t, results[0].Restart)
	assert.Equal(t, []string{"read 0x1000/8=0x1122334455667788", "write 0x2000/8=0x1122334455667788"},
		accessStrings(results[0].Accesses))
}

func accessStrings(accesses []mmio.Access) []string {
	var res []string
	for _, a := range accesses {
		res = append(res, a.String())
	}
	return res
}

func TestFailures(t *testing.T) {
	file, err := Parse([]byte(`
devices:
  - {name: lapic, kind: cell, addr: 0xfee000f0, value: 0xa1aa}
scenarios:
  - name: wrong
    text: 81 a0 f0 00 00 00 ff fe ff ff
    gpa: 0xfee000f0
    regs: {RIP: 0x1000}
    expect:
      regs: {rip: 0x1000, RCX: 1}
      memory: {0xfee000f0: 0xa1aa, 0x1000: 0}
      restart: true
      writes: 0
  - name: missing-error
    text: 89 08
    gpa: 0xfee000f0
    expect:
      error: unhandled
  - name: wrong-error
    text: 0f 0b
    gpa: 0xfee000f0
    expect:
      error: truncated
  - name: unexpected-error
    text: 0f 0b
    gpa: 0xfee000f0
`))
	require.NoError(t, err)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Complete())
	results, err := Run(context.Background(), cfg, file)
	require.NoError(t, err)
	var got [][]string
	for _, res := range results {
		got = append(got, res.Failures)
	}
	want := [][]string{
		{
			"RCX=0x0, want 0x1",
			"rip=0x100a, want 0x1000",
			"reading 0x1000: access outside any device: 0x1000/8",
			"memory 0xfee000f0=0xa0aa, want 0xa1aa",
			"restart=false, want true",
			"1 writes, want 0",
		},
		{"want unhandled error, got none"},
		{"want truncated error, got unsupported opcode: 0f 0b"},
		{"unexpected error: unsupported opcode: 0f 0b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	passed, failed := Summarize(results)
	assert.Equal(t, 0, passed)
	assert.Equal(t, 4, failed)
}

func TestTranslation(t *testing.T) {
	file, err := Parse([]byte(`
devices:
  - {name: lapic, kind: cell, addr: 0xfee000f0, value: 0xa1aa}
  - {name: ram, kind: ram, addr: 0x100000, size: 0x10000}
scenarios:
  - name: push
    text: ff 30
    gpa: 0xfee000f0
    regs: {rsp: 0x8000}
    expect:
      regs: {rsp: 0x7ff8}
      memory: {0x107ff8: 0xa1aa}
`))
	require.NoError(t, err)
	cfg, err := LoadConfigData([]byte(`{"linear_offset": 1048576}`))
	require.NoError(t, err)
	results, err := Run(context.Background(), cfg, file)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Passed(), "%v", results[0])
}

func TestVerifyGLADisabled(t *testing.T) {
	file, err := Parse([]byte(`
devices:
  - {name: lapic, kind: cell, addr: 0xfee000f0, value: 0xa1aa}
scenarios:
  - name: and
    text: 81 a0 f0 00 00 00 ff fe ff ff
    gpa: 0xfee000f0
    gla: 0x1234
    expect:
      memory: {0xfee000f0: 0xa0aa}
`))
	require.NoError(t, err)
	cfg, err := LoadConfigData([]byte(`{"verify_gla": false}`))
	require.NoError(t, err)
	results, err := Run(context.Background(), cfg, file)
	require.NoError(t, err)
	assert.True(t, results[0].Passed(), "%v", results[0])
}

func TestRunCanceled(t *testing.T) {
	file, err := Load(filepath.Join("testdata", "lapic.yaml"))
	require.NoError(t, err)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Complete())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Run(ctx, cfg, file)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunSetupError(t *testing.T) {
	file, err := Parse([]byte(`
devices:
  - {name: lapic, kind: cell, addr: 0xfee000f0}
scenarios:
  - name: bad-memory
    text: 89 08
    memory: {0x1000: 1}
`))
	require.NoError(t, err)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Complete())
	_, err = Run(context.Background(), cfg, file)
	assert.ErrorIs(t, err, mmio.ErrUnhandled)
	assert.ErrorContains(t, err, "scenario bad-memory")

	file.Devices = append(file.Devices, Device{Name: "overlap", Kind: KindCell, Addr: 0xfee000f4})
	_, err = Run(context.Background(), cfg, file)
	assert.ErrorIs(t, err, mmio.ErrOverlap)

	// Not completed.
	_, err = Run(context.Background(), &Config{Repeat: 1}, file)
	assert.ErrorContains(t, err, "bad vcpus 0")
}

func TestParseErrors(t *testing.T) {
	const scenario = "scenarios: [{name: a, text: '90'}]\n"
	tests := []struct {
		data string
		err  string
	}{
		{"devices: [{name: x, kind: rom}]\n" + scenario, `unknown kind "rom"`},
		{"devices: [{name: x, kind: ram}]\n" + scenario, "ram needs a size"},
		{"devices: [{name: x, kind: cell}, {name: x, kind: cell}]\n" + scenario, "duplicate name"},
		{"devices: [{kind: cell}]\n" + scenario, "duplicate name"},
		{"devices: []\n", "no scenarios"},
		{"scenarios: [{name: a, text: '90'}, {name: a, text: '90'}]", "duplicate name"},
		{"scenarios: [{name: a}]", "no instruction text"},
		{"scenarios: [{name: a, text: 'zz'}]", "bad hex bytes"},
		{"scenarios: [{name: a, text: '90', mode: real16}]", `unknown mode "real16"`},
		{"scenarios: [{name: a, text: '90', regs: {xmm0: 1}}]", `unknown register "xmm0"`},
		{"scenarios: [{name: a, text: '90', expect: {regs: {eax: 1}}}]", `unknown register "eax"`},
		{"scenarios: [{name: a, text: '90', expect: {error: boom}}]", `unknown error class "boom"`},
		{"scenarios: [{name: a, text: '90', expect: {flags: 1}}]", "field flags not found"},
	}
	for _, test := range tests {
		_, err := Parse([]byte(test.data))
		assert.ErrorContains(t, err, test.err, test.data)
	}
}

func TestConfigErrors(t *testing.T) {
	for data, want := range map[string]string{
		`{"vcpus": 0}`:       "bad vcpus",
		`{"repeat": -1}`:     "bad repeat",
		`{"mode": "real16"}`: "unknown mode",
		`{"cpus": 1}`:        "unknown field",
	} {
		_, err := LoadConfigData([]byte(data))
		assert.ErrorContains(t, err, want, data)
	}
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Error(t, err)
	assert.Equal(t, []string{"long64", "prot32"}, Modes())
}

func TestErrorName(t *testing.T) {
	for _, test := range []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: 0f 0b", x86emu.ErrUnsupportedOpcode), "unsupported-opcode"},
		{fmt.Errorf("%w: write: %w", x86emu.ErrMemoryAccess, mmio.ErrUnhandled), "unhandled"},
		{fmt.Errorf("%w: read", x86emu.ErrMemoryAccess), "memory-access"},
		{trap.ErrGLAMismatch, "gla-mismatch"},
		{fmt.Errorf("other"), ""},
		{nil, ""},
	} {
		assert.Equal(t, test.want, ErrorName(test.err), "%v", test.err)
		if test.want != "" {
			assert.ErrorIs(t, test.err, namedError(test.want))
		}
	}
}

func TestConfigSave(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "mmioemu.cfg"))
	require.NoError(t, err)
	cfg, err = cfg.Override(`{"vcpus": 2, "linear_offset": 4096}`)
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "saved.cfg")
	require.NoError(t, cfg.Save(file))
	saved, err := LoadConfig(file)
	require.NoError(t, err)
	var want []string
	for _, name := range cfg.Scenarios {
		abs, err := filepath.Abs(name)
		require.NoError(t, err)
		want = append(want, abs)
	}
	assert.Equal(t, want, saved.Scenarios)
	assert.Equal(t, 2, saved.VCPUs)
	assert.Equal(t, uint64(4096), saved.LinearOffset)
	assert.Equal(t, cfg.Repeat, saved.Repeat)
	assert.Equal(t, cfg.VerifyGLA, saved.VerifyGLA)
}

func TestConfigOverride(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata", "mmioemu.cfg"))
	require.NoError(t, err)
	cfg1, err := cfg.Override(`{"vcpus": 8, "mode": "prot32"}`)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg1.VCPUs)
	assert.Equal(t, x86emu.ModeProt32, cfg1.mode)
	assert.Equal(t, cfg.Repeat, cfg1.Repeat)
	assert.Equal(t, cfg.Scenarios, cfg1.Scenarios)
	assert.Equal(t, 4, cfg.VCPUs)
	_, err = cfg.Override(`{"vcpus": 0}`)
	assert.Error(t, err)
	_, err = cfg.Override(`{"cpus": 1}`)
	assert.Error(t, err)
}

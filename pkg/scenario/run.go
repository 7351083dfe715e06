// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/google/mmioemu/pkg/log"
	"github.com/google/mmioemu/pkg/mmio"
	"github.com/google/mmioemu/pkg/trap"
	"github.com/google/mmioemu/pkg/vcpu"
	"github.com/google/mmioemu/pkg/x86emu"
)

// Result is the outcome of one replay of a scenario.
type Result struct {
	Scenario  string
	Iteration int
	VCPU      int
	Insn      string
	Accesses  []mmio.Access
	Writes    int
	Restart   bool
	Regs      map[string]uint64
	// Err is the error returned by the trap handler.
	Err error
	// Failures lists the expectations that did not hold.
	Failures []string
}

func (res *Result) Passed() bool {
	return len(res.Failures) == 0
}

func (res *Result) String() string {
	status := "ok"
	if !res.Passed() {
		status = "FAIL: " + strings.Join(res.Failures, "; ")
	}
	return fmt.Sprintf("%v#%v vcpu%v: %v", res.Scenario, res.Iteration, res.VCPU, status)
}

// Run replays every scenario in file cfg.Repeat times. Each replay gets
// fresh devices and a fresh vCPU, at most cfg.VCPUs replays run at once.
// Results are ordered by iteration, then by position in file.
// The returned error is only set if the replays could not be set up.
func Run(ctx context.Context, cfg *Config, file *File) ([]*Result, error) {
	if cfg.VCPUs < 1 {
		return nil, fmt.Errorf("bad vcpus %v, want at least 1", cfg.VCPUs)
	}
	n := len(file.Scenarios)
	results := make([]*Result, cfg.Repeat*n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.VCPUs)
	for i := range results {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := replay(cfg, file.Devices, file.Scenarios[i%n], i/n, i%cfg.VCPUs)
			if err != nil {
				return fmt.Errorf("scenario %v: %w", file.Scenarios[i%n].Name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Summarize counts passed and failed results.
func Summarize(results []*Result) (passed, failed int) {
	for _, res := range results {
		if res.Passed() {
			passed++
		} else {
			failed++
		}
	}
	return
}

func newBus(cfg *Config, devices []Device) (*mmio.Bus, error) {
	bus := mmio.NewBus()
	for _, d := range devices {
		var dev mmio.Device
		size := d.Size
		switch d.Kind {
		case KindCell:
			dev, size = mmio.NewCell(d.Addr, d.Value), 8
		case KindRAM:
			dev = mmio.NewRAM(d.Addr, d.Size)
		default:
			return nil, fmt.Errorf("device %v: unknown kind %q", d.Name, d.Kind)
		}
		if err := bus.Map(d.Name, d.Addr, size, dev); err != nil {
			return nil, err
		}
	}
	if cfg.LinearOffset != 0 {
		if err := bus.SetTranslation(mmio.OffsetTranslation(cfg.LinearOffset)); err != nil {
			return nil, err
		}
	}
	bus.Seal()
	return bus, nil
}

func replay(cfg *Config, devices []Device, sc *Scenario, iter, id int) (*Result, error) {
	bus, err := newBus(cfg, devices)
	if err != nil {
		return nil, err
	}
	for addr, val := range sc.Memory {
		if err := bus.WriteMem(addr, 8, val); err != nil {
			return nil, fmt.Errorf("initial memory: %w", err)
		}
	}
	regs := vcpu.New(id)
	if err := regs.Load(sc.Regs); err != nil {
		return nil, err
	}
	mode := cfg.mode
	if sc.Mode != "" {
		if mode, err = ParseMode(sc.Mode); err != nil {
			return nil, err
		}
	}
	exit := &trap.Exit{
		VCPU: id,
		Mode: mode,
		Text: sc.Text,
		GPA:  sc.GPA,
	}
	if sc.GLA != nil {
		exit.GLA, exit.HasGLA = *sc.GLA, true
	}
	h := trap.NewHandler(bus)
	h.VerifyGLA = cfg.VerifyGLA
	out, err := h.HandleMMIO(regs, exit)
	res := &Result{
		Scenario:  sc.Name,
		Iteration: iter,
		VCPU:      id,
		Err:       err,
		Regs:      regs.Snapshot(),
	}
	if out != nil {
		res.Insn = out.Insn.String()
		res.Accesses = out.Accesses
		res.Writes = out.Writes
		res.Restart = out.Restart
	}
	res.Failures = check(&sc.Expect, res, bus)
	if !res.Passed() {
		log.Logf(0, "%v", res)
	}
	return res, nil
}

func check(want *Expect, res *Result, bus *mmio.Bus) []string {
	var failures []string
	failf := func(msg string, args ...any) {
		failures = append(failures, fmt.Sprintf(msg, args...))
	}
	switch {
	case want.Error == "" && res.Err != nil:
		failf("unexpected error: %v", res.Err)
	case want.Error != "" && res.Err == nil:
		failf("want %v error, got none", want.Error)
	case want.Error != "" && !errors.Is(res.Err, namedError(want.Error)):
		failf("want %v error, got %v", want.Error, res.Err)
	}
	for _, name := range sortedKeys(want.Regs) {
		got := res.Regs[strings.ToLower(name)]
		if got != want.Regs[name] {
			failf("%v=%#x, want %#x", name, got, want.Regs[name])
		}
	}
	for _, addr := range sortedKeys(want.Memory) {
		got, err := bus.ReadMem(addr, 8)
		if err != nil {
			failf("reading %#x: %v", addr, err)
		} else if got != want.Memory[addr] {
			failf("memory %#x=%#x, want %#x", addr, got, want.Memory[addr])
		}
	}
	if want.Restart != nil && *want.Restart != res.Restart {
		failf("restart=%v, want %v", res.Restart, *want.Restart)
	}
	if want.Writes != nil {
		if res.Writes != *want.Writes {
			failf("%v writes, want %v", res.Writes, *want.Writes)
		}
	}
	return failures
}

func sortedKeys[K string | uint64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Modes lists the modes scenarios can be run in.
func Modes() []string {
	var modes []string
	for mode := x86emu.Mode(0); mode < x86emu.ModeLast; mode++ {
		modes = append(modes, mode.String())
	}
	return modes
}

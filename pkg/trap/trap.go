// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package trap handles MMIO exits of guest vCPUs: it decodes the faulting
// instruction, emulates it against the device models and moves the vCPU
// past it.
package trap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/mmioemu/pkg/log"
	"github.com/google/mmioemu/pkg/mmio"
	"github.com/google/mmioemu/pkg/stat"
	"github.com/google/mmioemu/pkg/x86emu"
)

var ErrGLAMismatch = errors.New("guest linear address mismatch")

// Exit describes one trapped access as reported by the hypervisor.
type Exit struct {
	VCPU int
	Mode x86emu.Mode
	// Text holds the instruction bytes fetched at RIP. Its length is the
	// number of valid bytes, the instruction must use all of them.
	Text []byte
	GPA  uint64
	// GLA is the linear address of the access if the hardware reported it.
	GLA    uint64
	HasGLA bool
}

// Result is what happened while handling an exit.
type Result struct {
	Insn     *x86emu.Insn
	Accesses []mmio.Access
	// Writes is the number of write accesses, failed ones included.
	Writes int
	// Restart is set when a REP string instruction has iterations left and
	// RIP was left pointing at it.
	Restart bool
}

type Handler struct {
	mem       x86emu.MemoryAccessor
	VerifyGLA bool
}

func NewHandler(mem x86emu.MemoryAccessor) *Handler {
	return &Handler{
		mem:       mem,
		VerifyGLA: true,
	}
}

var (
	statExits = stat.New("mmio exits", "Trapped MMIO accesses",
		stat.Console, stat.Rate{}, stat.Prometheus("mmioemu_exits"))
	statDecodeErrors = stat.New("decode errors", "Exits with undecodable instructions",
		stat.Console, stat.Prometheus("mmioemu_decode_errors"))
	statEmulateErrors = stat.New("emulation errors", "Exits that failed during emulation",
		stat.Console, stat.Prometheus("mmioemu_emulation_errors"))
	statGLAMismatch = stat.New("gla mismatch", "Decoded address differs from the reported linear address",
		stat.Prometheus("mmioemu_gla_mismatch"))
	statRestarts = stat.New("rep restarts", "REP string iterations that re-enter the guest at the same RIP",
		stat.Simple, stat.Prometheus("mmioemu_rep_restarts"))
	statInsnLen = stat.New("insn length", "Length of emulated instructions",
		stat.Distribution{})
	emulateTime   stat.AverageValue[time.Duration]
	statEmulateUs = stat.New("emulation time", "Average decode and execute time (us)",
		func() int { return int(emulateTime.Value() / time.Microsecond) })
	statClasses = newClassStats()
)

func newClassStats() [x86emu.ClassLast]*stat.Val {
	var vals [x86emu.ClassLast]*stat.Val
	for class := x86emu.Class(0); class < x86emu.ClassLast; class++ {
		name := strings.ToLower(class.String())
		vals[class] = stat.New("emulated "+name, fmt.Sprintf("Emulated %v instructions", class),
			stat.Prometheus("mmioemu_class_"+name))
	}
	return vals
}

// HandleMMIO emulates the instruction that caused exit on the vCPU whose
// registers are regs. On success RIP points to the next instruction, or
// stays unchanged if a REP string instruction must run again.
// On failure the side effects that already happened are kept and RIP is
// not advanced.
func (h *Handler) HandleMMIO(regs x86emu.RegisterFile, exit *Exit) (*Result, error) {
	statExits.Add(1)
	start := time.Now()
	res, err := h.handle(regs, exit)
	emulateTime.Save(time.Since(start))
	if err != nil {
		log.Logf(0, "vcpu%v: mmio exit at gpa %#x [% x]: %v", exit.VCPU, exit.GPA, exit.Text, err)
		return res, err
	}
	if log.V(2) {
		var accesses []string
		for _, a := range res.Accesses {
			accesses = append(accesses, a.String())
		}
		log.Logf(2, "vcpu%v: %v at %#x gpa %#x: %v", exit.VCPU, res.Insn, res.Insn.RIP, exit.GPA,
			strings.Join(accesses, ", "))
	}
	return res, nil
}

func (h *Handler) handle(regs x86emu.RegisterFile, exit *Exit) (*Result, error) {
	rip, err := regs.GetRegister(x86emu.RIP)
	if err != nil {
		return nil, fmt.Errorf("%w: get rip: %w", x86emu.ErrRegisterAccess, err)
	}
	insn, err := x86emu.Decode(exit.Mode, exit.Text, rip)
	if err != nil {
		statDecodeErrors.Add(1)
		return nil, err
	}
	statInsnLen.Add(insn.Len)
	res := &Result{Insn: insn}
	if err := h.verifyGLA(regs, exit, insn); err != nil {
		statGLAMismatch.Add(1)
		return res, err
	}
	rec := mmio.NewRecorder(h.mem)
	err = x86emu.Execute(insn, exit.GPA, regs, rec)
	res.Accesses = rec.Accesses
	res.Writes = rec.Writes()
	if err != nil {
		statEmulateErrors.Add(1)
		return res, fmt.Errorf("%v: %w", insn, err)
	}
	statClasses[insn.Class()].Add(1)
	if res.Restart, err = restart(regs, insn); err != nil {
		return res, err
	}
	if res.Restart {
		statRestarts.Add(1)
		return res, nil
	}
	next := insn.NextRIP()
	if exit.Mode != x86emu.ModeLong64 {
		next &= 0xffffffff
	}
	if err := regs.SetRegister(x86emu.RIP, next); err != nil {
		return res, fmt.Errorf("%w: set rip: %w", x86emu.ErrRegisterAccess, err)
	}
	return res, nil
}

// verifyGLA checks that the instruction's own memory operand resolves to the
// linear address the hardware reported. String and stack instructions have
// no such operand and are not checked. Neither are FS and GS overrides: the
// reported address includes their base, which is not part of the register file.
func (h *Handler) verifyGLA(regs x86emu.RegisterFile, exit *Exit, insn *x86emu.Insn) error {
	if !h.VerifyGLA || !exit.HasGLA || insn.Implicit() || !x86emu.IsMemory(insn.RM) {
		return nil
	}
	if insn.Seg == x86emu.FS || insn.Seg == x86emu.GS {
		return nil
	}
	addr, err := insn.EffectiveAddr(regs)
	if err != nil {
		return err
	}
	if addr != exit.GLA {
		return fmt.Errorf("%w: %v resolves to %#x, exit reported %#x", ErrGLAMismatch, insn, addr, exit.GLA)
	}
	return nil
}

// restart reports whether a REP string instruction has iterations left.
func restart(regs x86emu.RegisterFile, insn *x86emu.Insn) (bool, error) {
	if !insn.Rep() {
		return false, nil
	}
	rcx, err := regs.GetRegister(x86emu.RCX)
	if err != nil {
		return false, fmt.Errorf("%w: get rcx: %w", x86emu.ErrRegisterAccess, err)
	}
	if insn.AddrSize < 8 {
		rcx &= 1<<(uint(insn.AddrSize)*8) - 1
	}
	return rcx != 0, nil
}

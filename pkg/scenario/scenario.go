// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package scenario replays trapped MMIO accesses described in YAML files
// against fresh device models and checks the resulting guest state.
//
//	devices:
//	  - {name: lapic, kind: cell, addr: 0xfee000f0, value: 0xa1aa}
//	scenarios:
//	  - name: and-imm32
//	    text: 81 a0 f0 00 00 00 ff fe ff ff
//	    gpa: 0xfee000f0
//	    regs: {rip: 0x1000, rax: 0xfee00000}
//	    expect:
//	      regs: {rip: 0x100a}
//	      memory: {0xfee000f0: 0xa0aa}
package scenario

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/google/mmioemu/pkg/config"
	"github.com/google/mmioemu/pkg/mmio"
	"github.com/google/mmioemu/pkg/tool"
	"github.com/google/mmioemu/pkg/trap"
	"github.com/google/mmioemu/pkg/x86emu"
)

type File struct {
	Devices   []Device    `yaml:"devices"`
	Scenarios []*Scenario `yaml:"scenarios"`
}

const (
	KindCell = "cell"
	KindRAM  = "ram"
)

type Device struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Addr uint64 `yaml:"addr"`
	// Size of ram devices, cells are always 8 bytes.
	Size uint64 `yaml:"size"`
	// Initial value of cell devices.
	Value uint64 `yaml:"value"`
}

type Scenario struct {
	Name string `yaml:"name"`
	Mode string `yaml:"mode"`
	Text Hex    `yaml:"text"`
	GPA  uint64 `yaml:"gpa"`
	// GLA is the linear address reported with the exit, if any.
	GLA  *uint64           `yaml:"gla"`
	Regs map[string]uint64 `yaml:"regs"`
	// Memory holds 8-byte values written to the devices before the exit.
	Memory map[uint64]uint64 `yaml:"memory"`
	Expect Expect            `yaml:"expect"`
}

type Expect struct {
	Regs   map[string]uint64 `yaml:"regs"`
	Memory map[uint64]uint64 `yaml:"memory"`
	// Error names the failure class, see ErrorName.
	Error   string `yaml:"error"`
	Restart *bool  `yaml:"restart"`
	Writes  *int   `yaml:"writes"`
}

// Hex is instruction text written as hex bytes, e.g. "44 89 05 dc ec 58 00".
type Hex []byte

func (h *Hex) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	data, err := tool.ParseHex(s)
	if err != nil {
		return fmt.Errorf("line %v: %w", node.Line, err)
	}
	*h = data
	return nil
}

var errorNames = []struct {
	name string
	err  error
}{
	{"unsupported-opcode", x86emu.ErrUnsupportedOpcode},
	{"malformed-operand", x86emu.ErrMalformedOperand},
	{"truncated", x86emu.ErrTruncated},
	{"trailing-bytes", x86emu.ErrTrailingBytes},
	{"gla-mismatch", trap.ErrGLAMismatch},
	{"no-mem-operand", x86emu.ErrNoMemOperand},
	{"invalid-register", x86emu.ErrInvalidRegister},
	{"register-access", x86emu.ErrRegisterAccess},
	// Unhandled accesses are also memory access faults, so check them first.
	{"unhandled", mmio.ErrUnhandled},
	{"memory-access", x86emu.ErrMemoryAccess},
}

// ErrorName returns the name of the first failure class err belongs to.
func ErrorName(err error) string {
	for _, e := range errorNames {
		if errors.Is(err, e.err) {
			return e.name
		}
	}
	return ""
}

func namedError(name string) error {
	for _, e := range errorNames {
		if e.name == name {
			return e.err
		}
	}
	return nil
}

func Load(filename string) (*File, error) {
	file := new(File)
	if err := config.LoadYAMLFile(filename, file); err != nil {
		return nil, err
	}
	if err := file.validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return file, nil
}

func Parse(data []byte) (*File, error) {
	file := new(File)
	if err := config.LoadYAMLData(data, file); err != nil {
		return nil, err
	}
	if err := file.validate(); err != nil {
		return nil, err
	}
	return file, nil
}

func (file *File) validate() error {
	names := make(map[string]bool)
	for _, dev := range file.Devices {
		if dev.Name == "" || names[dev.Name] {
			return fmt.Errorf("device %q: empty or duplicate name", dev.Name)
		}
		names[dev.Name] = true
		switch dev.Kind {
		case KindCell:
		case KindRAM:
			if dev.Size == 0 {
				return fmt.Errorf("device %v: ram needs a size", dev.Name)
			}
		default:
			return fmt.Errorf("device %v: unknown kind %q", dev.Name, dev.Kind)
		}
	}
	if len(file.Scenarios) == 0 {
		return fmt.Errorf("no scenarios")
	}
	names = make(map[string]bool)
	for _, sc := range file.Scenarios {
		if sc.Name == "" || names[sc.Name] {
			return fmt.Errorf("scenario %q: empty or duplicate name", sc.Name)
		}
		names[sc.Name] = true
		if err := sc.validate(); err != nil {
			return fmt.Errorf("scenario %v: %w", sc.Name, err)
		}
	}
	return nil
}

func (sc *Scenario) validate() error {
	if len(sc.Text) == 0 {
		return fmt.Errorf("no instruction text")
	}
	if sc.Mode != "" {
		if _, err := ParseMode(sc.Mode); err != nil {
			return err
		}
	}
	for _, regs := range []map[string]uint64{sc.Regs, sc.Expect.Regs} {
		for name := range regs {
			if _, ok := x86emu.RegByName(strings.ToLower(name)); !ok {
				return fmt.Errorf("unknown register %q", name)
			}
		}
	}
	if sc.Expect.Error != "" && namedError(sc.Expect.Error) == nil {
		return fmt.Errorf("unknown error class %q", sc.Expect.Error)
	}
	return nil
}

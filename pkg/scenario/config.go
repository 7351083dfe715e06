// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package scenario

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/mmioemu/pkg/config"
	"github.com/google/mmioemu/pkg/x86emu"
)

type Config struct {
	// Mode used by scenarios that do not set one (long64, prot32).
	Mode string `json:"mode"`
	// Number of scenarios emulated concurrently, each on its own vCPU.
	VCPUs int `json:"vcpus"`
	// How many times every scenario is replayed on fresh devices.
	Repeat    int `json:"repeat"`
	Verbosity int `json:"verbosity"`
	// Address to serve Prometheus metrics on, e.g. "localhost:9090".
	MetricsAddr string `json:"metrics_addr,omitempty"`
	// Linear addresses of string and stack operands are translated
	// to physical by adding this offset.
	LinearOffset uint64 `json:"linear_offset,omitempty"`
	VerifyGLA    bool   `json:"verify_gla"`
	// Scenario files, relative to the config file.
	Scenarios []string `json:"scenarios"`

	mode x86emu.Mode
}

func DefaultConfig() *Config {
	return &Config{
		Mode:      x86emu.ModeLong64.String(),
		VCPUs:     1,
		Repeat:    1,
		VerifyGLA: true,
	}
}

func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	for i, file := range cfg.Scenarios {
		if !filepath.IsAbs(file) {
			cfg.Scenarios[i] = filepath.Join(filepath.Dir(filename), file)
		}
	}
	if err := cfg.Complete(); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return cfg, nil
}

func LoadConfigData(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Complete(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to filename. Scenario paths are made absolute, so the
// saved config does not depend on its location.
func (cfg *Config) Save(filename string) error {
	saved := *cfg
	saved.Scenarios = nil
	for _, file := range cfg.Scenarios {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		saved.Scenarios = append(saved.Scenarios, abs)
	}
	return config.SaveFile(filename, &saved)
}

// Override returns a copy of cfg with the JSON object override merged on
// top, e.g. {"vcpus": 8}.
func (cfg *Config) Override(override string) (*Config, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	merged, err := config.MergeJSONData(data, []byte(override))
	if err != nil {
		return nil, err
	}
	return LoadConfigData(merged)
}

// Complete checks the config and resolves derived fields.
// Configs built in code must be completed before use.
func (cfg *Config) Complete() error {
	if cfg.VCPUs < 1 {
		return fmt.Errorf("bad vcpus %v, want at least 1", cfg.VCPUs)
	}
	if cfg.Repeat < 1 {
		return fmt.Errorf("bad repeat %v, want at least 1", cfg.Repeat)
	}
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	cfg.mode = mode
	return nil
}

func ParseMode(name string) (x86emu.Mode, error) {
	for mode := x86emu.Mode(0); mode < x86emu.ModeLast; mode++ {
		if mode.String() == name {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", name)
}

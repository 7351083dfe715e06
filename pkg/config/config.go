// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config loads emulator configs (JSON with # comments) and
// scenario files (YAML). Unknown fields are errors in both formats.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"

	"gopkg.in/yaml.v3"
)

var errNotStructPtr = errors.New("config type is not pointer to struct")

func LoadFile(filename string, cfg any) error {
	if filename == "" {
		return fmt.Errorf("no config file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadData(data, cfg)
}

var commentRe = regexp.MustCompile(`(^|\n)\s*#[^\n]*`)

func LoadData(data []byte, cfg any) error {
	if err := checkStructPtr(cfg); err != nil {
		return err
	}
	// Remove comment lines starting with #.
	data = commentRe.ReplaceAll(data, nil)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func SaveFile(filename string, cfg any) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, append(data, '\n'), 0644)
}

func LoadYAMLFile(filename string, v any) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read %v: %w", filename, err)
	}
	if err := LoadYAMLData(data, v); err != nil {
		return fmt.Errorf("%v: %w", filename, err)
	}
	return nil
}

func LoadYAMLData(data []byte, v any) error {
	if err := checkStructPtr(v); err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse yaml: %w", err)
	}
	return nil
}

func checkStructPtr(v any) error {
	typ := reflect.TypeOf(v)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return errNotStructPtr
	}
	return nil
}

// MergeJSONData overlays right on top of left. Objects are merged
// recursively, any other value in right replaces the one in left.
// It is used to apply command line overrides to a config file.
func MergeJSONData(left, right []byte) ([]byte, error) {
	vLeft := map[string]any{}
	if err := unmarshalNumbers(left, &vLeft); err != nil {
		return nil, fmt.Errorf("left merge failed: %w", err)
	}
	vRight := map[string]any{}
	if len(bytes.TrimSpace(right)) != 0 {
		if err := unmarshalNumbers(right, &vRight); err != nil {
			return nil, fmt.Errorf("right merge failed: %w", err)
		}
	}
	return json.Marshal(mergeRecursive(vLeft, vRight))
}

// unmarshalNumbers keeps numbers as json.Number so that 64-bit addresses
// survive the round trip.
func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func mergeRecursive(left, right any) any {
	lMap, lOk := left.(map[string]any)
	rMap, rOk := right.(map[string]any)
	if !lOk || !rOk {
		return right
	}
	for key, val := range rMap {
		if old, ok := lMap[key]; ok {
			lMap[key] = mergeRecursive(old, val)
		} else {
			lMap[key] = val
		}
	}
	return lMap
}

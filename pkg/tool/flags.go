// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ListFlag allows passing a comma-separated list of files to the same flag.
type ListFlag []string

func (list *ListFlag) String() string {
	return fmt.Sprint(*list)
}

func (list *ListFlag) Set(value string) error {
	if len(*list) > 0 {
		return errors.New("list flag was already set")
	}
	for _, elem := range strings.Split(value, ",") {
		if elem = strings.TrimSpace(elem); elem != "" {
			*list = append(*list, elem)
		}
	}
	return nil
}

var hexSeparators = strings.NewReplacer(" ", "", "\t", "", "\n", "", ",", "", ":", "", `\x`, "", "0x", "")

// ParseHex parses instruction bytes written as "44 89 05 dc", "448905dc",
// `\x44\x89` or "0x44,0x89".
func ParseHex(s string) ([]byte, error) {
	data, err := hex.DecodeString(hexSeparators.Replace(s))
	if err != nil {
		return nil, fmt.Errorf("bad hex bytes %q: %w", s, err)
	}
	return data, nil
}

// ParseUint parses a decimal or 0x-prefixed address.
func ParseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q: %w", s, err)
	}
	return v, nil
}

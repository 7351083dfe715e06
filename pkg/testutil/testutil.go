// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package testutil

import (
	"encoding/hex"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

func IterCount() int {
	iters := 1000
	if testing.Short() {
		iters /= 10
	}
	if RaceEnabled {
		iters /= 10
	}
	return iters
}

func RandSource(t testing.TB) rand.Source {
	seed := time.Now().UnixNano()
	if fixed := os.Getenv("MMIOEMU_SEED"); fixed != "" {
		seed, _ = strconv.ParseInt(fixed, 0, 64)
	}
	if os.Getenv("CI") != "" {
		seed = 0 // required for deterministic coverage reports
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}

// RandText returns between 1 and maxLen random instruction bytes.
// Half of the time the text starts with a few bytes taken from hot,
// e.g. prefixes and opcodes, so that decoders get past the first byte.
func RandText(r *rand.Rand, maxLen int, hot []byte) []byte {
	text := make([]byte, 1+r.Intn(maxLen))
	r.Read(text)
	if len(hot) != 0 && r.Intn(2) == 0 {
		for i := 0; i < len(text) && i < 1+r.Intn(4); i++ {
			text[i] = hot[r.Intn(len(hot))]
		}
	}
	return text
}

// MustHex parses space-separated hex bytes like "44 89 05 dc".
func MustHex(t testing.TB, s string) []byte {
	t.Helper()
	data, err := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return data
}

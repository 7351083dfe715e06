// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"testing"
)

func init() {
	EnableLogCaching(4, 20)
}

func TestCaching(t *testing.T) {
	tests := []struct{ str, want string }{
		{"", ""},
		{"a", "a\n"},
		{"bb", "a\nbb\n"},
		{"ccc", "a\nbb\nccc\n"},
		{"dddd", "a\nbb\nccc\ndddd\n"},
		{"eeeee", "bb\nccc\ndddd\neeeee\n"},
		{"ffffff", "ccc\ndddd\neeeee\nffffff\n"},
		{"ggggggg", "eeeee\nffffff\nggggggg\n"},
		{"hhhhhhhh", "ggggggg\nhhhhhhhh\n"},
		{"jjjjjjjjjjjjjjjjjjjjjjjjj", "jjjjjjjjjjjjjjjjjjjjjjjjj\n"},
	}
	prependTime = false
	for _, test := range tests {
		Logf(1, "%s", test.str)
		out := CachedLogOutput()
		if out != test.want {
			t.Fatalf("wrote: %v\nwant: %v\ngot: %v", test.str, test.want, out)
		}
	}
	// Verbose messages are not cached.
	Logf(3, "verbose")
	if out := CachedLogOutput(); out != "jjjjjjjjjjjjjjjjjjjjjjjjj\n" {
		t.Fatalf("verbose message was cached: %q", out)
	}
}

func TestVerbosity(t *testing.T) {
	defer SetVerbosity(-1)
	SetVerbosity(2)
	if !V(2) || V(3) {
		t.Fatalf("verbosity 2: V(2)=%v V(3)=%v", V(2), V(3))
	}
	SetVerbosity(0)
	if V(1) || !V(0) {
		t.Fatalf("verbosity 0: V(0)=%v V(1)=%v", V(0), V(1))
	}
}

// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package stat

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/mmioemu/pkg/testutil"
)

func TestSet(t *testing.T) {
	s := newSet()
	exits := s.New("exits", "Trapped accesses", Console)
	restarts := s.New("restarts", "Rep restarts", Simple)
	errors := s.New("errors", "Failed exits")
	external := 0
	s.New("external", "External value", func() int { return external })
	custom := s.New("custom", "Custom format", Simple,
		func(v int, period time.Duration) string { return "custom" })

	exits.Add(3)
	restarts.Add(1)
	errors.Add(2)
	errors.Add(1)
	custom.Add(7)
	external = 42
	assert.Equal(t, 3, exits.Val())
	assert.Equal(t, 3, errors.Val())
	assert.Equal(t, 7, custom.Val())

	got := s.Collect(All)
	want := []UI{
		{Name: "exits", Desc: "Trapped accesses", Level: Console, Value: "3", V: 3},
		{Name: "custom", Desc: "Custom format", Level: Simple, Value: "custom", V: 7},
		{Name: "restarts", Desc: "Rep restarts", Level: Simple, Value: "1", V: 1},
		{Name: "errors", Desc: "Failed exits", Value: "3", V: 3},
		{Name: "external", Desc: "External value", Value: "42", V: 42},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	assert.Len(t, s.Collect(Simple), 3)
	assert.Len(t, s.Collect(Console), 1)
	assert.Panics(t, func() { s.New("bad", "", 1.5) })
}

func TestExternalAdd(t *testing.T) {
	s := newSet()
	v := s.New("ext", "", func() int { return 1 })
	assert.Panics(t, func() { v.Add(1) })
	assert.Panics(t, func() { v.Quantile(0.5) })
}

func TestRate(t *testing.T) {
	tests := []struct {
		v      int
		period time.Duration
		want   string
	}{
		{100, time.Second, "100 (100/sec)"},
		{100, 20 * time.Second, "100 (300/min)"},
		{100, time.Hour, "100 (100/hour)"},
		{0, time.Minute, "0 (0/hour)"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, formatRate(test.v, test.period), "%v in %v", test.v, test.period)
	}
}

func TestDistribution(t *testing.T) {
	s := newSet()
	lens := s.New("insn length", "", Distribution{})
	assert.Equal(t, 0, lens.Val())
	assert.Zero(t, lens.Quantile(0.5))
	r := rand.New(testutil.RandSource(t))
	for i := 0; i < 1000; i++ {
		lens.Add(2 + r.Intn(2))
	}
	assert.Equal(t, 2, lens.Val())
	assert.InDelta(t, 3, lens.Quantile(0.99), 0.5)
	assert.InDelta(t, 2, lens.Quantile(0.01), 0.5)
	ui := s.Collect(All)
	require.Len(t, ui, 1)
	assert.Regexp(t, `^2 \(p50 \d\.\d, p99 \d\.\d\)$`, ui[0].Value)
}

func TestConcurrentAdd(t *testing.T) {
	s := newSet()
	v := s.New("exits", "")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, v.Val())
}

func TestAverageValue(t *testing.T) {
	var av AverageValue[time.Duration]
	assert.Zero(t, av.Value())
	av.Save(time.Second)
	av.Save(3 * time.Second)
	assert.Equal(t, 2*time.Second, av.Value())
	av.Save(5 * time.Second)
	assert.Equal(t, 3*time.Second, av.Value())
}

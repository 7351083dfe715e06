// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/google/mmioemu/pkg/stat"
)

func TestHTTPStats(t *testing.T) {
	stat.New("test exits", "Exits seen by the test").Add(3)
	w := httptest.NewRecorder()
	httpStats(w, "0123")
	body := w.Body.String()
	assert.Contains(t, body, "session 0123\n")
	assert.Regexp(t, `test exits +3 +Exits seen by the test`, body)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
}

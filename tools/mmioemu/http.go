// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net/http"
	"text/tabwriter"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/mmioemu/pkg/log"
	"github.com/google/mmioemu/pkg/stat"
)

func serveHTTP(addr, session string) {
	mux := http.NewServeMux()
	handle := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, handlers.CompressHandler(handler))
	}
	handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog: log.ErrorLogger(0),
	}))
	handle("/stats", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpStats(w, session)
	}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Fatalf("failed to serve http on %v: %v", addr, err)
		}
	}()
	log.Logf(0, "serving metrics on http://%v/metrics", addr)
}

func httpStats(w http.ResponseWriter, session string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "session %v\n\n", session)
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, ui := range stat.Collect(stat.All) {
		fmt.Fprintf(tw, "%v\t%v\t%v\n", ui.Name, ui.Value, ui.Desc)
	}
	tw.Flush()
}

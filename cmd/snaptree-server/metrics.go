package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var GoVersion = runtime.Version()

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "A metric with a constant '1' value labeled by version, and goversion.",
		},
		[]string{"version", "goversion"},
	)
	insertOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insert_operations",
			Help: "Incremented for each insert operation, labeled by success or failure.",
		},
		[]string{"success"},
	)
	insertDur = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Name: "insert_duration",
			Help: "Summary of how long an insert operation takes to complete, in microseconds.",
		},
	)
	proofOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proof_operations",
			Help: "Incremented for each proof generated, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	requestCtr = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests",
			Help: "Incremented for each API request received.",
		},
		[]string{"path", "status"},
	)
	treeSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tree_size",
			Help: "Number of leaves in the accumulator.",
		},
	)
)

func metrics(ctx context.Context, addr string) error {
	buildInfo.WithLabelValues(Version, GoVersion).Set(1)
	prometheus.MustRegister(buildInfo)
	prometheus.MustRegister(insertOps)
	prometheus.MustRegister(insertDur)
	prometheus.MustRegister(proofOps)
	prometheus.MustRegister(requestCtr)
	prometheus.MustRegister(treeSize)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(rw http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/" {
			fmt.Fprintln(rw, "Hi, I'm a snaptree metrics and debugging server!")
		} else {
			rw.WriteHeader(404)
			fmt.Fprintln(rw, "404 not found")
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/debug/version", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprintf(w, "Version: %s, GoVersion: %s", Version, GoVersion)
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Infof("Starting metrics server at: %v", addr)
	return srv.ListenAndServe()
}

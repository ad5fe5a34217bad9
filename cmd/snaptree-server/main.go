// Command snaptree-server is the main server process that answers all client
// requests and sequences new values into the accumulator.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Bren2010/snaptree/db"
	"github.com/Bren2010/snaptree/tree/ledger"
)

var (
	configFile = flag.String("config", "", "Location of config file.")
)

var log = logging.MustGetLogger("main")

var stdoutLogFormat = logging.MustStringFormatter(
	`%{color:reset}%{color}%{time:15:04:05.000} [%{module}] [%{level}] %{message}`,
)

var fileLogFormat = logging.MustStringFormatter(
	`%{time:2006-01-02T15:04:05.000Z07:00} [%{module}] [%{shortfile}] [%{level}] %{message}`,
)

func setupLogging(config *Config) {
	backendStdout := logging.NewLogBackend(os.Stdout, "", 0)
	backends := []logging.Backend{logging.NewBackendFormatter(backendStdout, stdoutLogFormat)}

	if config.LogFile != "" {
		w := &lumberjack.Logger{
			Filename:   config.LogFile,
			MaxSize:    10, // Megabytes
			MaxBackups: 3,
			MaxAge:     30, // Days
		}
		backendFile := logging.NewLogBackend(w, "", 0)
		backends = append(backends, logging.NewBackendFormatter(backendFile, fileLogFormat))
	}

	logging.SetBackend(backends...)
	logging.SetLevel(config.logLevel, "")
}

func main() {
	flag.Parse()

	// Load config from disk.
	if *configFile == "" {
		log.Fatalf("No config file provided, see --help.")
	}
	config, err := ReadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}
	setupLogging(config)

	// Start the inserter thread.
	tx, err := db.NewLDBAccumulatorStore(config.DatabaseFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	snapshots, err := config.snapshotStore(tx)
	if err != nil {
		log.Fatalf("Failed to initialize snapshot store: %v", err)
	}
	tree, err := ledger.Open(config.cipherSuite, tx, snapshots)
	if err != nil {
		log.Fatalf("Failed to initialize tree: %v", err)
	}
	treeSize.Set(float64(tree.State().Count))
	ch := make(chan InsertRequest)

	go inserter(tree, ch)

	// Setup the API server.
	h := &Handler{home: config.HomeRedirect, tree: tree, ch: ch}
	srv := &http.Server{
		Addr:      config.ServerAddr,
		Handler:   NewRouter(h),
		TLSConfig: config.tlsConfig,

		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	// If either server stops, the other is closed and the process exits.
	g, ctx := errgroup.WithContext(context.Background())
	if config.MetricsAddr != "" {
		g.Go(func() error { return metrics(ctx, config.MetricsAddr) })
	}
	g.Go(func() error {
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
		log.Infof("Starting API server at: %v", config.ServerAddr)
		if config.tlsConfig == nil {
			return srv.ListenAndServe()
		}
		return srv.ListenAndServeTLS("", "")
	})
	log.Fatal(g.Wait())
}

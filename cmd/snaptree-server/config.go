package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/op/go-logging"
	"gopkg.in/yaml.v2"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/db"
	"github.com/Bren2010/snaptree/tree/replica"
)

// Config specifies the file format of config files.
type Config struct {
	ServerAddr  string     `yaml:"addr"`
	MetricsAddr string     `yaml:"metrics-addr"`
	TLSConfig   *TLSConfig `yaml:"tls"`
	tlsConfig   *tls.Config

	HomeRedirect string `yaml:"home"`

	DatabaseFile string `yaml:"database"`

	Hash        string `yaml:"hash"` // Name of the hash suite, defaults to sha256.
	cipherSuite suites.CipherSuite

	Snapshots     string `yaml:"snapshots"`      // Either "database" (default) or "memory".
	SnapshotCache int    `yaml:"snapshot-cache"` // Parsed snapshots kept in memory.

	LogLevel string `yaml:"log-level"`
	LogFile  string `yaml:"log-file"`
	logLevel logging.Level
}

// TLSConfig specifies the API server's TLS config. If a client CA is given,
// the server also starts requiring a valid client certificate.
type TLSConfig struct {
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	ClientCA string `yaml:"client-ca"`
}

const defaultSnapshotCache = 64

func ReadConfig(filename string) (*Config, error) {
	// Read from file and parse.
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var parsed Config
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	// Check that all required fields are populated.
	if parsed.ServerAddr == "" {
		return nil, fmt.Errorf("field not provided: addr")
	} else if parsed.DatabaseFile == "" {
		return nil, fmt.Errorf("field not provided: database")
	}

	// Fill in defaults.
	if parsed.Hash == "" {
		parsed.Hash = suites.Sha256{}.Name()
	}
	if parsed.Snapshots == "" {
		parsed.Snapshots = "database"
	}
	if parsed.SnapshotCache == 0 {
		parsed.SnapshotCache = defaultSnapshotCache
	}
	if parsed.LogLevel == "" {
		parsed.LogLevel = "info"
	}

	// Parse everything else.
	if parsed.DatabaseFile, err = homedir.Expand(parsed.DatabaseFile); err != nil {
		return nil, fmt.Errorf("failed to expand database path: %v", err)
	}
	if parsed.LogFile != "" {
		if parsed.LogFile, err = homedir.Expand(parsed.LogFile); err != nil {
			return nil, fmt.Errorf("failed to expand log file path: %v", err)
		}
	}
	if parsed.cipherSuite, err = suites.FromName(parsed.Hash); err != nil {
		return nil, err
	}
	if parsed.Snapshots != "database" && parsed.Snapshots != "memory" {
		return nil, fmt.Errorf("unknown snapshot store: %v", parsed.Snapshots)
	} else if parsed.SnapshotCache < 0 {
		return nil, fmt.Errorf("snapshot-cache may not be negative")
	}
	if parsed.logLevel, err = logging.LogLevel(parsed.LogLevel); err != nil {
		return nil, fmt.Errorf("failed to parse log level: %v", err)
	}

	// Parse TLS config if necessary.
	if parsed.TLSConfig != nil {
		cert, err := tls.LoadX509KeyPair(parsed.TLSConfig.Cert, parsed.TLSConfig.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS certificate/key: %v", err)
		}
		parsed.tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}

		if parsed.TLSConfig.ClientCA != "" {
			certPool := x509.NewCertPool()
			caCerts, err := os.ReadFile(parsed.TLSConfig.ClientCA)
			if err != nil {
				return nil, fmt.Errorf("failed to load TLS client CA: %v", err)
			} else if ok := certPool.AppendCertsFromPEM(caCerts); !ok {
				return nil, fmt.Errorf("no client CA certificates successfully parsed from file")
			}
			parsed.tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
			parsed.tlsConfig.ClientCAs = certPool
		}
	}

	return &parsed, nil
}

// snapshotStore returns the snapshot store selected by the config.
func (c *Config) snapshotStore(tx db.AccumulatorStore) (replica.SnapshotStore, error) {
	if c.Snapshots == "memory" {
		return replica.NewMemorySnapshots(), nil
	}
	return replica.NewKVSnapshots(tx.SnapshotStore(), c.SnapshotCache)
}

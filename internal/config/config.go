// Copyright 2025 FleetTools Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config assembles the Core's configuration from environment
// variables (spec §6.6) plus internal defaults for knobs the spec leaves to
// the implementer. Mirrors the teacher's DatabaseConfig/ServerConfig split:
// one struct per concern, each with SetDefaults and Validate.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// PathPolicy is the case-folding policy applied when normalizing file paths
// for lock reservations (spec §9, Open Question). Chosen once at startup and
// persisted into the store's reserved metadata row.
type PathPolicy string

const (
	// PathPolicyPreserve treats "/P/a.ts" and "/p/a.ts" as distinct paths.
	PathPolicyPreserve PathPolicy = "preserve"
	// PathPolicyFold case-folds paths before comparison, so they collide.
	PathPolicyFold PathPolicy = "fold"
)

// StoreConfig configures the embedded SQL store (spec §4.1).
type StoreConfig struct {
	// Path is the sqlite database file (state.db under the data dir).
	Path string
	// BusyTimeoutMS bounds how long a writer waits for the write lock.
	BusyTimeoutMS int
	// WALCheckpointEveryWrites triggers an incremental WAL checkpoint.
	WALCheckpointEveryWrites int
	// WALDegradedBytes is the WAL size above which /health reports degraded.
	WALDegradedBytes int64
	// VacuumIdleAfterSeconds is how long, in seconds, the store must be idle before an
	// opportunistic VACUUM is allowed to run.
	VacuumIdleAfterSeconds int
}

func (c *StoreConfig) SetDefaults() {
	if c.BusyTimeoutMS == 0 {
		c.BusyTimeoutMS = 5000
	}
	if c.WALCheckpointEveryWrites == 0 {
		c.WALCheckpointEveryWrites = 1000
	}
	if c.WALDegradedBytes == 0 {
		c.WALDegradedBytes = 64 * 1024 * 1024
	}
	if c.VacuumIdleAfterSeconds == 0 {
		c.VacuumIdleAfterSeconds = 300
	}
}

func (c *StoreConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}

// LockConfig configures the Lock Manager (spec §4.4).
type LockConfig struct {
	DefaultTimeoutMS  int
	SweepIntervalSecs int
}

func (c *LockConfig) SetDefaults() {
	if c.DefaultTimeoutMS == 0 {
		c.DefaultTimeoutMS = 5 * 60 * 1000
	}
	if c.SweepIntervalSecs == 0 {
		c.SweepIntervalSecs = 5
	}
}

// HeartbeatConfig configures specialist staleness (spec §3.4).
type HeartbeatConfig struct {
	StaleAfterSeconds int
}

func (c *HeartbeatConfig) SetDefaults() {
	if c.StaleAfterSeconds == 0 {
		c.StaleAfterSeconds = 120
	}
}

// CheckpointConfig configures the Checkpoint Engine (spec §4.6).
type CheckpointConfig struct {
	DefaultTTLHours        int
	SummaryTruncationChars int
	ProgressThresholds     []int
}

func (c *CheckpointConfig) SetDefaults() {
	if c.DefaultTTLHours == 0 {
		c.DefaultTTLHours = 24 * 7
	}
	if c.SummaryTruncationChars == 0 {
		c.SummaryTruncationChars = 2000
	}
	if len(c.ProgressThresholds) == 0 {
		c.ProgressThresholds = []int{25, 50, 75, 100}
	}
}

// ServerConfig configures the Coordinator API's HTTP listener.
type ServerConfig struct {
	Host                string
	Port                int
	ShutdownGraceSeconds int
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8420
	}
	if c.ShutdownGraceSeconds == 0 {
		c.ShutdownGraceSeconds = 10
	}
}

func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint.
	Enabled bool
	// Namespace prefixes every metric name.
	Namespace string
}

func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "fleetcore"
	}
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool
	// Exporter selects the trace exporter: "otlp" or "stdout".
	Exporter string
	// Endpoint is the OTLP collector endpoint (host:port, gRPC).
	Endpoint string
	// ServiceName identifies this service in traces.
	ServiceName string
	// SamplingRate is the fraction of traces sampled, 0.0-1.0.
	SamplingRate float64
}

func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.ServiceName == "" {
		c.ServiceName = "fleetcore"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// Config is the Core's full configuration, built from environment variables
// per spec §6.6 with internal defaults for everything the spec leaves open.
type Config struct {
	DataDir    string
	LogLevel   string
	PathPolicy PathPolicy

	Store      StoreConfig
	Lock       LockConfig
	Heartbeat  HeartbeatConfig
	Checkpoint CheckpointConfig
	Server     ServerConfig
	Metrics    MetricsConfig
	Tracing    TracingConfig
}

// loadEnvFiles loads .env.local then .env into the process environment if
// present, the teacher's precedence (pkg/config/env.go's LoadEnvFiles).
// Variables already set in the environment are left untouched by godotenv,
// so an operator's real environment always wins over either file. Missing
// files are not an error.
func loadEnvFiles() {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
}

// FromEnv builds a Config from the environment variables recognized by the
// Core: FLEET_DATA_DIR, FLEET_LOG_LEVEL, FLEET_METRICS_ENABLED,
// FLEET_TRACING_ENABLED, FLEET_TRACING_ENDPOINT (spec §6.6). .env.local and
// .env are loaded first, purely as a devex convenience for setting these same
// variables locally; no new configuration surface is introduced.
func FromEnv() *Config {
	loadEnvFiles()
	cfg := &Config{
		DataDir:    os.Getenv("FLEET_DATA_DIR"),
		LogLevel:   os.Getenv("FLEET_LOG_LEVEL"),
		PathPolicy: PathPolicyFold,
	}
	cfg.Metrics.Enabled = os.Getenv("FLEET_METRICS_ENABLED") == "true"
	cfg.Tracing.Enabled = os.Getenv("FLEET_TRACING_ENABLED") == "true"
	if ep := os.Getenv("FLEET_TRACING_ENDPOINT"); ep != "" {
		cfg.Tracing.Endpoint = ep
	}
	cfg.SetDefaults()
	return cfg
}

func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = ".flightline"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.PathPolicy == "" {
		c.PathPolicy = PathPolicyFold
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "state.db")
	}
	c.Store.SetDefaults()
	c.Lock.SetDefaults()
	c.Heartbeat.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Server.SetDefaults()
	c.Metrics.SetDefaults()
	c.Tracing.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch c.PathPolicy {
	case PathPolicyPreserve, PathPolicyFold:
	default:
		return fmt.Errorf("invalid path policy: %s", c.PathPolicy)
	}
	return nil
}

// CheckpointsDir returns the well-known checkpoint directory (spec §6.2).
func (c *Config) CheckpointsDir() string {
	return filepath.Join(c.DataDir, "checkpoints")
}

// LogsDir returns the well-known log directory (spec §6.2).
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

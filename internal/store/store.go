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

// Package store owns the embedded SQL database (spec §4.1): WAL mode,
// schema ownership, and the three primitives the rest of the Core builds
// on — ReadTxn, WriteTxn, Prepare. SQLite only supports one writer, so
// (like the teacher's DBPool) the pool is pinned to a single connection,
// which is also the Core's single serialization point (spec §5).
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/codes"

	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/observability"
)

// Store is the Core's single embedded database handle.
type Store struct {
	db     *sql.DB
	cfg    config.StoreConfig
	breaker *gobreaker.CircuitBreaker

	writeMu sync.Mutex // the single serialization point (spec §5)

	writesSinceCheckpoint atomic.Int64
	lastWriteAt           atomic.Int64 // unix nanos, for idle-VACUUM scheduling
}

// Open creates the data directory if needed, opens the sqlite database in
// WAL mode, and applies the schema (spec §4.1: "applied at startup in a
// single transaction... full file replay rather than statement splitting").
func Open(cfg config.StoreConfig) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=%d",
		cfg.Path, cfg.BusyTimeoutMS,
	)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite supports exactly one writer; pinning the pool to a single
	// connection serializes all access and avoids "database is locked".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:  db,
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "store-writer",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
	s.lastWriteAt.Store(time.Now().UnixNano())

	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// applySchema replays the full schema script inside one transaction, then
// validates (or seeds) the schema_version metadata row. A version mismatch
// is fatal per spec §4.1.
func (s *Store) applySchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema txn: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var storedVersion sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT value FROM core_metadata WHERE key = 'schema_version'`).Scan(&storedVersion)
	switch {
	case err == sql.ErrNoRows || !storedVersion.Valid:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO core_metadata (key, value) VALUES ('schema_version', ?)`,
			strconv.Itoa(schemaVersion))
		if err != nil {
			return fmt.Errorf("seed schema_version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema_version: %w", err)
	default:
		want := strconv.Itoa(schemaVersion)
		if storedVersion.String != want {
			return corerr.NewCorruption("SCHEMA_MISMATCH",
				fmt.Sprintf("database schema_version=%s, binary expects %s; migration missing", storedVersion.String, want), nil)
		}
	}

	return tx.Commit()
}

// PathPolicy persists (or reads back) the case-folding policy chosen at
// startup into the reserved metadata row (spec §9, Open Question).
func (s *Store) PathPolicy(ctx context.Context, policy config.PathPolicy) (config.PathPolicy, error) {
	var stored sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT value FROM core_metadata WHERE key = 'path_policy'`).Scan(&stored)
	if err == sql.ErrNoRows || !stored.Valid {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO core_metadata (key, value) VALUES ('path_policy', ?)`, string(policy))
		if err != nil {
			return "", fmt.Errorf("seed path_policy: %w", err)
		}
		return policy, nil
	}
	if err != nil {
		return "", fmt.Errorf("read path_policy: %w", err)
	}
	return config.PathPolicy(stored.String), nil
}

// ReadTxn runs fn inside a read-only transaction. Reads never take writeMu,
// but they share the pool's single connection, so a read waits for any
// transaction that holds that connection to finish.
func (s *Store) ReadTxn(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return corerr.NewTransient("STORE_BUSY", "failed to begin read transaction", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteTxn serializes through the Store's single write lock (spec §5) and
// runs fn inside a transaction. A failed write aborts the transaction; the
// caller sees a TRANSIENT error it may retry (spec §4.1).
func (s *Store) WriteTxn(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx, span := observability.Tracer().Start(ctx, "store.WriteTxn")
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.breaker.Execute(func() (interface{}, error) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, corerr.NewTransient("STORE_BUSY", "failed to begin write transaction", err)
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, corerr.NewTransient("STORE_COMMIT_FAILED", "failed to commit write transaction", err)
		}
		return nil, nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return corerr.NewTransient("STORE_BREAKER_OPEN", "store writer circuit open, retry later", err)
		}
		return err
	}
	_ = result

	s.lastWriteAt.Store(time.Now().UnixNano())
	if n := s.writesSinceCheckpoint.Add(1); n >= int64(s.cfg.WALCheckpointEveryWrites) {
		s.writesSinceCheckpoint.Store(0)
		go s.walCheckpoint()
	}
	return nil
}

// WriteTxnDryRun runs fn inside a real write transaction — so it can use
// the same INSERT/UPDATE statements a committed write would — but always
// rolls back and never touches the circuit breaker. Used by the Recovery
// Engine's dry_run restore (spec §4.7), where repeated simulations must not
// count as failures against the breaker that guards real writes.
func (s *Store) WriteTxnDryRun(ctx context.Context, fn func(*sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return corerr.NewTransient("STORE_BUSY", "failed to begin write transaction", err)
	}
	defer tx.Rollback()
	return fn(tx)
}

// Prepare compiles a statement against the underlying connection. Callers
// are responsible for closing returned statements.
func (s *Store) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	return s.db.PrepareContext(ctx, query)
}

func (s *Store) walCheckpoint() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`); err != nil {
		slog.Warn("wal checkpoint failed", "error", err)
	}
}

// MaybeVacuum runs an opportunistic VACUUM if the store has been idle for
// at least VacuumIdleAfterSeconds. Intended to be invoked from a
// low-frequency background tick; it is a no-op under write contention since
// it tries (not blocks on) the write lock.
func (s *Store) MaybeVacuum(ctx context.Context) {
	idleSince := time.Duration(time.Now().UnixNano()-s.lastWriteAt.Load()) * time.Nanosecond
	if idleSince < time.Duration(s.cfg.VacuumIdleAfterSeconds)*time.Second {
		return
	}
	if !s.writeMu.TryLock() {
		return
	}
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		slog.Warn("opportunistic vacuum failed", "error", err)
	}
}

// WALSizeBytes stats the -wal sidecar file for the /health endpoint.
func (s *Store) WALSizeBytes() int64 {
	fi, err := os.Stat(s.cfg.Path + "-wal")
	if err != nil {
		return 0
	}
	return fi.Size()
}

// Health executes SELECT 1 plus a table-existence probe and reports
// degraded if the WAL file exceeds the configured size (spec §4.1).
type HealthStatus struct {
	Status        string `json:"status"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	LatencyMillis int64  `json:"latency_ms"`
}

func (s *Store) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	status := "ok"

	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		status = "unhealthy"
	}
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='events'`).Scan(&exists)
	if err != nil || exists == 0 {
		status = "unhealthy"
	}

	walSize := s.WALSizeBytes()
	if status == "ok" && walSize > s.cfg.WALDegradedBytes {
		status = "degraded"
	}

	return HealthStatus{
		Status:        status,
		WALSizeBytes:  walSize,
		LatencyMillis: time.Since(start).Milliseconds(),
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for components (Projections) that must run
// inside a transaction handed to them by the Event Log, rather than opening
// their own.
func (s *Store) DB() *sql.DB { return s.db }

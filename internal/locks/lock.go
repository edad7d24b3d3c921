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

// Package locks implements the Lock Manager (spec §4.4): exclusive file-path
// reservations ("CTK") with TTL-based expiry, ownership-checked release, and
// a sweeper that reclaims expired locks.
package locks

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/projections"
)

// Registry is the shared projections registry every component's event
// handlers are wired into (spec §4.3).
type Registry = projections.Registry

// Purpose is the intent behind a reservation (spec §3.5).
type Purpose string

const (
	PurposeEdit   Purpose = "edit"
	PurposeRead   Purpose = "read"
	PurposeDelete Purpose = "delete"
)

// Status is the lock lifecycle state (spec §3.5).
type Status string

const (
	StatusActive        Status = "active"
	StatusReleased       Status = "released"
	StatusExpired        Status = "expired"
	StatusForceReleased  Status = "force_released"
)

// Lock is the read model for spec §3.5.
type Lock struct {
	ID             string    `json:"id"`
	File           string    `json:"file"`
	NormalizedPath string    `json:"normalized_path"`
	ReservedBy     string    `json:"reserved_by"`
	ReservedAt     time.Time `json:"reserved_at"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	ExpiresAt      time.Time `json:"expires_at"`
	Purpose        Purpose   `json:"purpose"`
	Checksum       string    `json:"checksum,omitempty"`
	Status         Status    `json:"status"`
}

// IsExpired reports whether the lock's TTL has elapsed as of now. The
// boundary is inclusive (spec §8): a lock expiring at exactly now is
// already expired.
func (l Lock) IsExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// exclusive reports whether purpose p takes the normalized_path exclusively
// (spec §4.4: "exclusive semantics always for edit and delete; multiple
// read purposes on the same normalized_path are permitted to coexist").
func (p Purpose) exclusive() bool {
	return p == PurposeEdit || p == PurposeDelete
}

type lockAcquiredPayload struct {
	File           string  `json:"file"`
	NormalizedPath string  `json:"normalized_path"`
	ReservedBy     string  `json:"reserved_by"`
	ExpiresAt      string  `json:"expires_at"`
	Purpose        Purpose `json:"purpose"`
	Checksum       string  `json:"checksum,omitempty"`
}

type lockReleasedPayload struct {
	ReleasedBy string `json:"released_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Forced     bool   `json:"forced"`
}

type lockExpiredPayload struct{}

type lockExtendedPayload struct {
	ExpiresAt string `json:"expires_at"`
}

// registerHandlers wires ctk lifecycle events into the shared projections
// registry, keeping the locks table updated in the same transaction as the
// event append that causes it (spec §4.3).
func registerHandlers(r *Registry) {
	r.On("lock_acquired", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p lockAcquiredPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		var checksum any
		if p.Checksum != "" {
			checksum = p.Checksum
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locks (id, file, normalized_path, reserved_by, reserved_at, expires_at, purpose, checksum, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			ev.StreamID, p.File, p.NormalizedPath, p.ReservedBy, formatTime(ev.RecordedAt), p.ExpiresAt, p.Purpose, checksum, StatusActive)
		return err
	})

	r.On("lock_released", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p lockReleasedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		status := StatusReleased
		if p.Forced {
			status = StatusForceReleased
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE locks SET status = ?, released_at = ? WHERE id = ?`,
			status, formatTime(ev.RecordedAt), ev.StreamID)
		return err
	})

	r.On("lock_expired", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE locks SET status = ? WHERE id = ? AND status = ?`,
			StatusExpired, ev.StreamID, StatusActive)
		return err
	})

	r.On("lock_extended", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p lockExtendedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE locks SET expires_at = ? WHERE id = ?`, p.ExpiresAt, ev.StreamID)
		return err
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

const lockColumns = `id, file, normalized_path, reserved_by, reserved_at, released_at, expires_at, purpose, checksum, status`

func scanLock(row interface{ Scan(...any) error }) (Lock, error) {
	var l Lock
	var reservedAt, expiresAt string
	var releasedAt, checksum sql.NullString
	if err := row.Scan(&l.ID, &l.File, &l.NormalizedPath, &l.ReservedBy, &reservedAt, &releasedAt,
		&expiresAt, &l.Purpose, &checksum, &l.Status); err != nil {
		return Lock{}, err
	}
	l.ReservedAt = parseTime(reservedAt)
	l.ExpiresAt = parseTime(expiresAt)
	l.ReleasedAt = parseTimePtr(releasedAt)
	l.Checksum = checksum.String
	return l, nil
}

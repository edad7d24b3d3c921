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

package projections

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fleettools/coordination-core/internal/eventlog"
)

// SpecialistStatus enumerates spec §3.4.
type SpecialistStatus string

const (
	SpecialistActive    SpecialistStatus = "active"
	SpecialistBusy      SpecialistStatus = "busy"
	SpecialistIdle      SpecialistStatus = "idle"
	SpecialistInactive  SpecialistStatus = "inactive"
	SpecialistCompleted SpecialistStatus = "completed"
)

// Specialist is the read model for spec §3.4.
type Specialist struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Status         SpecialistStatus `json:"status"`
	Capabilities   []string         `json:"capabilities"`
	RegisteredAt   time.Time        `json:"registered_at"`
	LastSeen       time.Time        `json:"last_seen"`
	CurrentSortie  string           `json:"current_sortie,omitempty"`
}

type SpecialistRegisteredPayload struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities,omitempty"`
}

type SpecialistHeartbeatPayload struct {
	Status        SpecialistStatus `json:"status,omitempty"`
	CurrentSortie string           `json:"current_sortie,omitempty"`
}

// RegisterSpecialistHandlers wires specialist lifecycle events (spec §3.4).
func RegisterSpecialistHandlers(r *Registry) {
	r.On("specialist_registered", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SpecialistRegisteredPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		caps, _ := json.Marshal(p.Capabilities)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO specialists (id, name, status, capabilities, registered_at, last_seen)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, capabilities = excluded.capabilities, last_seen = excluded.last_seen`,
			ev.StreamID, p.Name, SpecialistActive, string(caps), formatTime(ev.RecordedAt), formatTime(ev.RecordedAt))
		return err
	})

	r.On("specialist_heartbeat", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SpecialistHeartbeatPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		if p.Status != "" {
			_, err := tx.ExecContext(ctx,
				`UPDATE specialists SET last_seen = ?, status = ?, current_sortie = ? WHERE id = ?`,
				formatTime(ev.RecordedAt), p.Status, nullIfEmpty(p.CurrentSortie), ev.StreamID)
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE specialists SET last_seen = ? WHERE id = ?`, formatTime(ev.RecordedAt), ev.StreamID)
		return err
	})

	r.On("sortie_assigned", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieAssignedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE specialists SET status = ?, current_sortie = ? WHERE id = ?`,
			SpecialistBusy, ev.StreamID, p.SpecialistID)
		return err
	})

	r.On("sortie_completed", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var specialistID sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT assigned_to FROM sorties WHERE id = ?`, ev.StreamID).Scan(&specialistID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if !specialistID.Valid || specialistID.String == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE specialists SET status = ?, current_sortie = NULL WHERE id = ? AND current_sortie = ?`,
			SpecialistIdle, specialistID.String, ev.StreamID)
		return err
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const specialistColumns = `id, name, status, capabilities, registered_at, last_seen, current_sortie`

func scanSpecialist(row interface{ Scan(...any) error }) (Specialist, error) {
	var s Specialist
	var currentSortie sql.NullString
	var registeredAt, lastSeen, caps string
	if err := row.Scan(&s.ID, &s.Name, &s.Status, &caps, &registeredAt, &lastSeen, &currentSortie); err != nil {
		return Specialist{}, err
	}
	_ = json.Unmarshal([]byte(caps), &s.Capabilities)
	s.RegisteredAt, _ = time.Parse(time.RFC3339Nano, registeredAt)
	s.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	s.CurrentSortie = currentSortie.String
	return s, nil
}

func (q *Queries) GetSpecialist(ctx context.Context, id string) (*Specialist, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+specialistColumns+` FROM specialists WHERE id = ?`, id)
	s, err := scanSpecialist(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *Queries) ListSpecialists(ctx context.Context) ([]Specialist, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+specialistColumns+` FROM specialists ORDER BY registered_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Specialist
	for rows.Next() {
		s, err := scanSpecialist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// IsStale reports whether a specialist's last_seen is older than the
// configured heartbeat threshold (spec §3.4).
func IsStale(s Specialist, threshold time.Duration, now time.Time) bool {
	return now.Sub(s.LastSeen) > threshold
}

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

// SortieStatus enumerates the sortie lifecycle (spec §3.3).
type SortieStatus string

const (
	SortiePending    SortieStatus = "pending"
	SortieAssigned   SortieStatus = "assigned"
	SortieInProgress SortieStatus = "in_progress"
	SortieBlocked    SortieStatus = "blocked"
	SortieReview     SortieStatus = "review"
	SortieCompleted  SortieStatus = "completed"
	SortieFailed     SortieStatus = "failed"
	SortieCancelled  SortieStatus = "cancelled"
)

// Sortie is the read model for spec §3.3.
type Sortie struct {
	ID             string          `json:"id"`
	MissionID      string          `json:"mission_id,omitempty"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Status         SortieStatus    `json:"status"`
	Priority       Priority        `json:"priority"`
	AssignedTo     string          `json:"assigned_to,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Progress       int             `json:"progress"`
	ProgressNotes  string          `json:"progress_notes,omitempty"`
	BlockedBy      string          `json:"blocked_by,omitempty"`
	BlockedReason  string          `json:"blocked_reason,omitempty"`
	Files          []string        `json:"files"`
	Result         json.RawMessage `json:"result,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type SortieCreatedPayload struct {
	MissionID   string          `json:"mission_id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    Priority        `json:"priority"`
	Files       []string        `json:"files,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type SortieAssignedPayload struct {
	SpecialistID string `json:"specialist_id"`
}

type SortieStartedPayload struct {
	SpecialistID string `json:"specialist_id"`
}

type SortieProgressPayload struct {
	Progress int    `json:"progress"`
	Notes    string `json:"notes,omitempty"`
}

type SortieBlockedPayload struct {
	BlockedBy     string `json:"blocked_by,omitempty"`
	BlockedReason string `json:"blocked_reason"`
}

type SortieCompletionPayload struct {
	Status SortieStatus    `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RegisterSortieHandlers wires sortie lifecycle events into the registry.
func RegisterSortieHandlers(r *Registry) {
	r.On("sortie_created", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieCreatedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		filesJSON, _ := json.Marshal(p.Files)
		metadata := p.Metadata
		if metadata == nil {
			metadata = json.RawMessage(`{}`)
		}
		var missionID any
		if p.MissionID != "" {
			missionID = p.MissionID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sorties (id, mission_id, title, description, status, priority, created_at, progress, files, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			ev.StreamID, missionID, p.Title, p.Description, SortiePending, p.Priority, formatTime(ev.RecordedAt), string(filesJSON), string(metadata))
		return err
	})

	r.On("sortie_assigned", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieAssignedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE sorties SET status = ?, assigned_to = ? WHERE id = ?`,
			SortieAssigned, p.SpecialistID, ev.StreamID)
		return err
	})

	r.On("sortie_started", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE sorties SET status = ?, started_at = COALESCE(started_at, ?) WHERE id = ?`,
			SortieInProgress, formatTime(ev.RecordedAt), ev.StreamID)
		return err
	})

	r.On("sortie_progress", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieProgressPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sorties SET progress = ?, progress_notes = ? WHERE id = ?`, p.Progress, p.Notes, ev.StreamID)
		return err
	})

	r.On("sortie_blocked", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieBlockedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sorties SET status = ?, blocked_by = ?, blocked_reason = ? WHERE id = ?`,
			SortieBlocked, p.BlockedBy, p.BlockedReason, ev.StreamID)
		return err
	})

	r.On("sortie_unblocked", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE sorties SET status = ?, blocked_by = NULL, blocked_reason = NULL WHERE id = ?`,
			SortieInProgress, ev.StreamID)
		return err
	})

	r.On("sortie_completed", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieCompletionPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		status := p.Status
		if status == "" {
			status = SortieCompleted
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE sorties SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
			status, formatTime(ev.RecordedAt), string(p.Result), ev.StreamID)
		return err
	})
}

// --- Queries ---

const sortieColumns = `id, mission_id, title, description, status, priority, assigned_to, created_at, started_at, completed_at, progress, progress_notes, blocked_by, blocked_reason, files, result, metadata`

func scanSortie(row interface{ Scan(...any) error }) (Sortie, error) {
	var s Sortie
	var missionID, description, assignedTo, progressNotes, blockedBy, blockedReason, result, metadata sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt, filesJSON string
	if err := row.Scan(&s.ID, &missionID, &s.Title, &description, &s.Status, &s.Priority, &assignedTo,
		&createdAt, &startedAt, &completedAt, &s.Progress, &progressNotes, &blockedBy, &blockedReason,
		&filesJSON, &result, &metadata); err != nil {
		return Sortie{}, err
	}
	s.MissionID = missionID.String
	s.Description = description.String
	s.AssignedTo = assignedTo.String
	s.ProgressNotes = progressNotes.String
	s.BlockedBy = blockedBy.String
	s.BlockedReason = blockedReason.String
	if result.Valid {
		s.Result = json.RawMessage(result.String)
	}
	if metadata.Valid {
		s.Metadata = json.RawMessage(metadata.String)
	}
	_ = json.Unmarshal([]byte(filesJSON), &s.Files)
	s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	s.StartedAt = parseTimePtr(startedAt)
	s.CompletedAt = parseTimePtr(completedAt)
	return s, nil
}

func (q *Queries) GetSortie(ctx context.Context, id string) (*Sortie, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sortieColumns+` FROM sorties WHERE id = ?`, id)
	s, err := scanSortie(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSortieInTx is GetSortie scoped to an already-open transaction.
// store.Store pins its pool to a single connection, so any read issued
// against q.db while that connection is checked out by a transaction
// blocks forever; callers running inside a WriteTxn/ReadTxn/WriteTxnDryRun
// closure must use this instead (spec §5).
func (q *Queries) GetSortieInTx(ctx context.Context, tx *sql.Tx, id string) (*Sortie, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sortieColumns+` FROM sorties WHERE id = ?`, id)
	s, err := scanSortie(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type SortieQuery struct {
	MissionID string
	Status    SortieStatus
	Priority  Priority
	Limit     int
	Offset    int
}

func (q *Queries) ListSorties(ctx context.Context, f SortieQuery) ([]Sortie, error) {
	query := `SELECT ` + sortieColumns + ` FROM sorties WHERE 1=1`
	var args []any
	if f.MissionID != "" {
		query += ` AND mission_id = ?`
		args = append(args, f.MissionID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, f.Priority)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at ASC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sortie
	for rows.Next() {
		s, err := scanSortie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SortiesForMission returns every sortie belonging to a mission, used by
// the Checkpoint Engine to snapshot full sortie state (spec §4.6).
func (q *Queries) SortiesForMission(ctx context.Context, missionID string) ([]Sortie, error) {
	return q.ListSorties(ctx, SortieQuery{MissionID: missionID, Limit: 100000})
}

// SortiesForMissionInTx is SortiesForMission scoped to an already-open
// transaction (see GetSortieInTx).
func (q *Queries) SortiesForMissionInTx(ctx context.Context, tx *sql.Tx, missionID string) ([]Sortie, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+sortieColumns+` FROM sorties WHERE mission_id = ? ORDER BY created_at ASC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sortie
	for rows.Next() {
		s, err := scanSortie(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

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

// MissionStatus enumerates the mission lifecycle (spec §3.2).
type MissionStatus string

const (
	MissionPending    MissionStatus = "pending"
	MissionInProgress MissionStatus = "in_progress"
	MissionReview     MissionStatus = "review"
	MissionCompleted  MissionStatus = "completed"
	MissionCancelled  MissionStatus = "cancelled"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Mission is the read model for spec §3.2.
type Mission struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	Status           MissionStatus   `json:"status"`
	Priority         Priority        `json:"priority"`
	CreatedAt        time.Time       `json:"created_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	TotalSorties     int             `json:"total_sorties"`
	CompletedSorties int             `json:"completed_sorties"`
	Result           json.RawMessage `json:"result,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// MissionCreatedPayload is the data payload for event_type "mission_created".
type MissionCreatedPayload struct {
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    Priority        `json:"priority"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

type MissionStartedPayload struct{}

type MissionStatusPayload struct {
	Status MissionStatus   `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// RegisterMissionHandlers wires mission lifecycle events into the registry.
func RegisterMissionHandlers(r *Registry) {
	r.On("mission_created", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p MissionCreatedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		metadata := p.Metadata
		if metadata == nil {
			metadata = json.RawMessage(`{}`)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO missions (id, title, description, status, priority, created_at, total_sorties, completed_sorties, metadata)
			VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)
			ON CONFLICT(id) DO NOTHING`,
			ev.StreamID, p.Title, p.Description, MissionPending, p.Priority, formatTime(ev.RecordedAt), string(metadata))
		return err
	})

	r.On("mission_started", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE missions SET status = ?, started_at = ? WHERE id = ? AND started_at IS NULL`,
			MissionInProgress, formatTime(ev.RecordedAt), ev.StreamID)
		return err
	})

	r.On("mission_status_changed", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p MissionStatusPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		if p.Status == MissionCompleted || p.Status == MissionCancelled {
			_, err := tx.ExecContext(ctx,
				`UPDATE missions SET status = ?, completed_at = ?, result = ? WHERE id = ?`,
				p.Status, formatTime(ev.RecordedAt), string(p.Result), ev.StreamID)
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE missions SET status = ? WHERE id = ?`, p.Status, ev.StreamID)
		return err
	})

	r.On("sortie_created", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p SortieCreatedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		if p.MissionID == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE missions SET total_sorties = total_sorties + 1 WHERE id = ?`, p.MissionID)
		return err
	})

	r.On("sortie_completed", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var missionID sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT mission_id FROM sorties WHERE id = ?`, ev.StreamID).Scan(&missionID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if !missionID.Valid || missionID.String == "" {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE missions SET completed_sorties = completed_sorties + 1 WHERE id = ?`, missionID.String)
		return err
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
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

// --- Queries ---

type MissionQuery struct {
	Status   MissionStatus
	Priority Priority
	Limit    int
	Offset   int
}

// Queries is the read-only query surface over all projections, backed by a
// *sql.DB (reads never take the Store's write lock; spec §5).
type Queries struct {
	db *sql.DB
}

func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func scanMission(row interface {
	Scan(...any) error
}) (Mission, error) {
	var m Mission
	var description, result, metadata sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt string
	if err := row.Scan(&m.ID, &m.Title, &description, &m.Status, &m.Priority, &createdAt,
		&startedAt, &completedAt, &m.TotalSorties, &m.CompletedSorties, &result, &metadata); err != nil {
		return Mission{}, err
	}
	m.Description = description.String
	if result.Valid {
		m.Result = json.RawMessage(result.String)
	}
	if metadata.Valid {
		m.Metadata = json.RawMessage(metadata.String)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	m.StartedAt = parseTimePtr(startedAt)
	m.CompletedAt = parseTimePtr(completedAt)
	return m, nil
}

const missionColumns = `id, title, description, status, priority, created_at, started_at, completed_at, total_sorties, completed_sorties, result, metadata`

func (q *Queries) GetMission(ctx context.Context, id string) (*Mission, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMissionInTx is GetMission scoped to an already-open transaction (see
// Queries.GetSortieInTx for why this variant exists).
func (q *Queries) GetMissionInTx(ctx context.Context, tx *sql.Tx, id string) (*Mission, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+missionColumns+` FROM missions WHERE id = ?`, id)
	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (q *Queries) ListMissions(ctx context.Context, f MissionQuery) ([]Mission, error) {
	query := `SELECT ` + missionColumns + ` FROM missions WHERE 1=1`
	var args []any
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

	var out []Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

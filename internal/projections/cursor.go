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

// Cursor is the read model for spec §3.7: a named, monotonically advancing
// position bookmark a consumer uses to resume reading a stream (e.g. a
// specialist's review queue position) across restarts.
type Cursor struct {
	ID         string    `json:"id"`
	StreamType string    `json:"stream_type"`
	StreamID   string    `json:"stream_id"`
	Position   int64     `json:"position"`
	ConsumerID string    `json:"consumer_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CursorAdvancedPayload struct {
	StreamType eventlog.StreamType `json:"stream_type"`
	StreamID   string              `json:"stream_id"`
	Position   int64               `json:"position"`
	ConsumerID string              `json:"consumer_id,omitempty"`
}

// RegisterCursorHandlers wires cursor_advanced into the registry.
// advance(id, p) requires p >= position (spec §3.7); the upsert enforces it
// by keeping the stored position when an event carries a lower one.
func RegisterCursorHandlers(r *Registry) {
	r.On("cursor_advanced", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p CursorAdvancedPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		recorded := formatTime(ev.RecordedAt)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cursors (id, stream_type, stream_id, position, consumer_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				consumer_id = excluded.consumer_id,
				updated_at = excluded.updated_at
			WHERE excluded.position >= cursors.position`,
			ev.StreamID, p.StreamType, p.StreamID, p.Position, nullIfEmpty(p.ConsumerID), recorded, recorded)
		return err
	})
}

const cursorColumns = `id, stream_type, stream_id, position, consumer_id, created_at, updated_at`

func scanCursor(row interface{ Scan(...any) error }) (Cursor, error) {
	var c Cursor
	var consumerID sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.StreamType, &c.StreamID, &c.Position, &consumerID, &createdAt, &updatedAt); err != nil {
		return Cursor{}, err
	}
	c.ConsumerID = consumerID.String
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return c, nil
}

func (q *Queries) GetCursor(ctx context.Context, id string) (*Cursor, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+cursorColumns+` FROM cursors WHERE id = ?`, id)
	c, err := scanCursor(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (q *Queries) ListCursors(ctx context.Context, consumerID string) ([]Cursor, error) {
	query := `SELECT ` + cursorColumns + ` FROM cursors WHERE 1=1`
	var args []any
	if consumerID != "" {
		query += ` AND consumer_id = ?`
		args = append(args, consumerID)
	}
	query += ` ORDER BY id ASC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

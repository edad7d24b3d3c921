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

// Package projections maintains the Core's derived read models (spec §4.3):
// missions, sorties, specialists, cursors, plus a shared Registry that the
// Lock Manager and Mailbox also register their own event handlers into, so
// every projection update happens in the same transaction as the event
// append that caused it.
package projections

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/fleettools/coordination-core/internal/eventlog"
)

// Handler applies a single event to a projection's tables. Handlers must be
// idempotent: replaying the same event twice (rebuild mode) leaves the
// projection in the same state as applying it once.
type Handler func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error

// Registry maps event_type to the handlers that must run when it is
// appended. It implements eventlog.Applier.
type Registry struct {
	handlers map[string][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Handler)}
}

// On registers fn to run for every event of the given type. Multiple
// handlers may be registered for the same type (e.g. a sortie_assigned
// event updates both the sorties table and the assigned specialist's row).
func (r *Registry) On(eventType string, fn Handler) {
	r.handlers[eventType] = append(r.handlers[eventType], fn)
}

// Apply implements eventlog.Applier. Unknown event types are logged and
// ignored — forward compatibility (spec §4.3, §6.3).
func (r *Registry) Apply(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
	handlers, ok := r.handlers[ev.EventType]
	if !ok {
		slog.Warn("no projection handler for event type", "event_type", ev.EventType, "event_id", ev.EventID)
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild replays every event for the given stream types, in global order,
// through the registry (spec §4.3). The Core does not call it at startup
// and nothing compares projection_versions with the running code, so a
// rebuild happens only when a caller invokes it. Events are read in full
// before the rebuild transaction begins, because the Store's pool has a
// single connection.
func (r *Registry) Rebuild(ctx context.Context, db *sql.DB, streamTypes []eventlog.StreamType) error {
	placeholders := ""
	args := make([]any, 0, len(streamTypes))
	for i, st := range streamTypes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, st)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT event_id, event_type, stream_type, stream_id, sequence_number, data, causation_id, correlation_id,
		        occurred_at, recorded_at, global_seq, schema_version
		 FROM events WHERE stream_type IN (`+placeholders+`) ORDER BY global_seq ASC`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var ev eventlog.Event
		var data string
		var causation, occurred, recorded sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.StreamType, &ev.StreamID, &ev.SequenceNumber,
			&data, &causation, &ev.CorrelationID, &occurred, &recorded, &ev.GlobalSeq, &ev.SchemaVersion); err != nil {
			return err
		}
		ev.Data = []byte(data)
		ev.CausationID = causation.String
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range events {
		if err := r.Apply(ctx, tx, ev); err != nil {
			return err
		}
	}

	return tx.Commit()
}

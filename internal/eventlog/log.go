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

package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/ids"
	"github.com/fleettools/coordination-core/internal/metrics"
	"github.com/fleettools/coordination-core/internal/observability"
	"github.com/fleettools/coordination-core/internal/store"
)

// Applier is implemented by the Projections registry. Append and
// AppendBatch invoke it inside the same write transaction as the insert, so
// a read after an append always observes the derived row (spec §4.3).
type Applier interface {
	Apply(ctx context.Context, tx *sql.Tx, ev Event) error
}

// Log is the single writer for the event stream (spec §4.2).
type Log struct {
	store   *store.Store
	applier Applier
	metrics *metrics.Metrics
}

func New(s *store.Store, applier Applier) *Log {
	return &Log{store: s, applier: applier}
}

// SetMetrics attaches a Metrics sink. Called once during wiring; nil is
// valid and leaves the Log silent on the metrics front.
func (l *Log) SetMetrics(m *metrics.Metrics) {
	l.metrics = m
}

// Append assigns a per-stream sequence number, an opaque event id, and
// correlation/causation linkage, inserts the row, and applies it to
// projections — all inside one write transaction (spec §4.2).
func (l *Log) Append(ctx context.Context, in AppendInput) (Event, error) {
	events, err := l.AppendBatch(ctx, []AppendInput{in})
	if err != nil {
		return Event{}, err
	}
	return events[0], nil
}

// AppendBatch is atomic: either every input persists or none do (spec §4.2).
func (l *Log) AppendBatch(ctx context.Context, inputs []AppendInput) ([]Event, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ctx, span := observability.Tracer().Start(ctx, "eventlog.AppendBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("fleetcore.batch_size", len(inputs)))
	start := time.Now()

	payloads := make([]json.RawMessage, len(inputs))
	for i, in := range inputs {
		raw, err := json.Marshal(in.Data)
		if err != nil {
			err = corerr.NewValidation("MALFORMED_PAYLOAD", fmt.Sprintf("event %d: payload does not marshal: %v", i, err))
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		payloads[i] = raw
	}

	results := make([]Event, len(inputs))
	err := l.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		for i, in := range inputs {
			ev, err := appendOne(ctx, tx, in, payloads[i])
			if err != nil {
				return err
			}
			if l.applier != nil {
				if err := l.applier.Apply(ctx, tx, ev); err != nil {
					return err
				}
			}
			results[i] = ev
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	for _, in := range inputs {
		l.metrics.RecordEventAppend(string(in.StreamType), in.EventType, time.Since(start))
	}
	return results, nil
}

// AppendInTx appends a single event within a caller-owned transaction,
// applying it to projections just as Append does. Lock/Mailbox/Checkpoint
// managers use this to combine a conflict pre-check and an event append
// atomically inside one store.WriteTxn call they open themselves — calling
// Append/AppendBatch there would re-enter the Store's non-reentrant write
// lock and deadlock (spec §5).
func (l *Log) AppendInTx(ctx context.Context, tx *sql.Tx, in AppendInput) (Event, error) {
	start := time.Now()
	payload, err := json.Marshal(in.Data)
	if err != nil {
		return Event{}, corerr.NewValidation("MALFORMED_PAYLOAD", fmt.Sprintf("payload does not marshal: %v", err))
	}
	ev, err := appendOne(ctx, tx, in, payload)
	if err != nil {
		return Event{}, err
	}
	if l.applier != nil {
		if err := l.applier.Apply(ctx, tx, ev); err != nil {
			return Event{}, err
		}
	}
	l.metrics.RecordEventAppend(string(in.StreamType), in.EventType, time.Since(start))
	return ev, nil
}

func appendOne(ctx context.Context, tx *sql.Tx, in AppendInput, payload json.RawMessage) (Event, error) {
	var nextSeq int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM events WHERE stream_type = ? AND stream_id = ?`,
		in.StreamType, in.StreamID,
	).Scan(&nextSeq)
	if err != nil {
		return Event{}, corerr.NewTransient("SEQUENCE_LOOKUP_FAILED", "failed to compute next sequence number", err)
	}

	var nextGlobal int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(global_seq), 0) + 1 FROM events`).Scan(&nextGlobal); err != nil {
		return Event{}, corerr.NewTransient("GLOBAL_SEQUENCE_LOOKUP_FAILED", "failed to compute next global sequence", err)
	}

	eventID := ids.New(ids.Event)
	now := time.Now().UTC()

	correlationID := in.CorrelationID
	if correlationID == "" {
		if in.CausationID != "" {
			var parentCorrelation string
			err := tx.QueryRowContext(ctx, `SELECT correlation_id FROM events WHERE event_id = ?`, in.CausationID).Scan(&parentCorrelation)
			if err == sql.ErrNoRows {
				return Event{}, corerr.NewValidation("CAUSATION_NOT_FOUND", fmt.Sprintf("causation_id %s does not reference a persisted event", in.CausationID))
			}
			if err != nil {
				return Event{}, corerr.NewTransient("CAUSATION_LOOKUP_FAILED", "failed to resolve causation_id", err)
			}
			correlationID = parentCorrelation
		} else {
			correlationID = eventID
		}
	}

	schemaVersion := in.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	ev := Event{
		EventID:        eventID,
		EventType:      in.EventType,
		StreamType:     in.StreamType,
		StreamID:       in.StreamID,
		SequenceNumber: nextSeq,
		Data:           payload,
		CausationID:    in.CausationID,
		CorrelationID:  correlationID,
		OccurredAt:     now,
		RecordedAt:     now,
		GlobalSeq:      nextGlobal,
		SchemaVersion:  schemaVersion,
	}

	var causationID any
	if ev.CausationID != "" {
		causationID = ev.CausationID
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (event_id, event_type, stream_type, stream_id, sequence_number, data,
		                     causation_id, correlation_id, occurred_at, recorded_at, global_seq, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.EventType, ev.StreamType, ev.StreamID, ev.SequenceNumber, string(ev.Data),
		causationID, ev.CorrelationID, formatTime(ev.OccurredAt), formatTime(ev.RecordedAt), ev.GlobalSeq, ev.SchemaVersion,
	)
	if err != nil {
		// The uniqueness constraint on (stream_type, stream_id, sequence_number)
		// is the authoritative guard against racing writers; sqlite surfaces
		// this as a constraint-violation error the caller may retry (spec §4.2).
		return Event{}, corerr.NewTransient("SEQUENCE_CONFLICT", "concurrent append raced on stream sequence, retry", err)
	}

	return ev, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}

// Filter narrows Query and Count.
type Filter struct {
	StreamType    StreamType
	StreamID      string
	EventType     string
	AfterSequence int64
	Limit         int
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		var data string
		var causation sql.NullString
		var occurred, recorded sql.NullString
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.StreamType, &ev.StreamID, &ev.SequenceNumber,
			&data, &causation, &ev.CorrelationID, &occurred, &recorded, &ev.GlobalSeq, &ev.SchemaVersion); err != nil {
			return nil, err
		}
		ev.Data = json.RawMessage(data)
		ev.CausationID = causation.String
		ev.OccurredAt = parseTime(occurred)
		ev.RecordedAt = parseTime(recorded)
		out = append(out, ev)
	}
	return out, rows.Err()
}

const selectColumns = `event_id, event_type, stream_type, stream_id, sequence_number, data, causation_id, correlation_id, occurred_at, recorded_at, global_seq, schema_version`

// GetByStream returns events for (stream_type, stream_id) in sequence
// order, optionally only those after a given sequence number.
func (l *Log) GetByStream(ctx context.Context, streamType StreamType, streamID string, afterSequence int64) ([]Event, error) {
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE stream_type = ? AND stream_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`,
		streamType, streamID, afterSequence)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// GetByStreamInTx is GetByStream scoped to an already-open transaction.
// l.store pins its pool to a single connection, so a query against
// l.store.DB() while that connection is checked out by a transaction
// blocks forever; callers inside a WriteTxn/ReadTxn/WriteTxnDryRun closure
// must use this instead (spec §5).
func (l *Log) GetByStreamInTx(ctx context.Context, tx *sql.Tx, streamType StreamType, streamID string, afterSequence int64) ([]Event, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE stream_type = ? AND stream_id = ? AND sequence_number > ? ORDER BY sequence_number ASC`,
		streamType, streamID, afterSequence)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (l *Log) GetByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE event_type = ? ORDER BY global_seq ASC LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (l *Log) GetByCausation(ctx context.Context, causationID string) ([]Event, error) {
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE causation_id = ? ORDER BY global_seq ASC`, causationID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (l *Log) GetByCorrelation(ctx context.Context, correlationID string) ([]Event, error) {
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE correlation_id = ? ORDER BY global_seq ASC`, correlationID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// GetAfterSequence returns events globally ordered by recorded_at (via the
// monotonic global_seq insertion counter), after the given global sequence.
func (l *Log) GetAfterSequence(ctx context.Context, globalSeq int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := l.store.DB().QueryContext(ctx,
		`SELECT `+selectColumns+` FROM events WHERE global_seq > ? ORDER BY global_seq ASC LIMIT ?`, globalSeq, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Query supports the Coordinator API's GET /events filter set.
func (l *Log) Query(ctx context.Context, f Filter) ([]Event, error) {
	q := `SELECT ` + selectColumns + ` FROM events WHERE 1=1`
	var args []any
	if f.StreamType != "" {
		q += ` AND stream_type = ?`
		args = append(args, f.StreamType)
	}
	if f.StreamID != "" {
		q += ` AND stream_id = ?`
		args = append(args, f.StreamID)
	}
	if f.EventType != "" {
		q += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	if f.AfterSequence > 0 {
		q += ` AND global_seq > ?`
		args = append(args, f.AfterSequence)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	q += ` ORDER BY global_seq ASC LIMIT ?`
	args = append(args, limit)

	rows, err := l.store.DB().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (l *Log) Count(ctx context.Context, f Filter) (int64, error) {
	q := `SELECT COUNT(*) FROM events WHERE 1=1`
	var args []any
	if f.StreamType != "" {
		q += ` AND stream_type = ?`
		args = append(args, f.StreamType)
	}
	if f.StreamID != "" {
		q += ` AND stream_id = ?`
		args = append(args, f.StreamID)
	}
	if f.EventType != "" {
		q += ` AND event_type = ?`
		args = append(args, f.EventType)
	}
	var count int64
	err := l.store.DB().QueryRowContext(ctx, q, args...).Scan(&count)
	return count, err
}

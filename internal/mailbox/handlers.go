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

package mailbox

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/fleettools/coordination-core/internal/eventlog"
)

type messageSentPayload struct {
	MailboxID   string   `json:"mailbox_id"`
	SenderID    string   `json:"sender_id,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
	MessageType string   `json:"message_type"`
	Content     string   `json:"content"`
	Priority    Priority `json:"priority"`
}

// registerHandlers wires squawk lifecycle events into the shared
// projections registry (spec §4.3, §4.5).
func registerHandlers(r *Registry) {
	r.On("message_sent", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		var p messageSentPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil {
			return err
		}
		var nextSeq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(insertion_seq), 0) + 1 FROM messages`).Scan(&nextSeq); err != nil {
			return err
		}
		var senderID, threadID any
		if p.SenderID != "" {
			senderID = p.SenderID
		}
		if p.ThreadID != "" {
			threadID = p.ThreadID
		}
		var causationID any
		if ev.CausationID != "" {
			causationID = ev.CausationID
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, mailbox_id, sender_id, thread_id, message_type, content, status, priority, sent_at, causation_id, insertion_seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			ev.StreamID, p.MailboxID, senderID, threadID, p.MessageType, p.Content, StatusPending, p.Priority,
			formatTime(ev.RecordedAt), causationID, nextSeq)
		return err
	})

	r.On("message_read", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = ?, read_at = ? WHERE id = ? AND status = ?`,
			StatusRead, formatTime(ev.RecordedAt), ev.StreamID, StatusPending)
		return err
	})

	r.On("message_acked", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = ?, acked_at = ? WHERE id = ?`,
			StatusAcked, formatTime(ev.RecordedAt), ev.StreamID)
		return err
	})

	r.On("message_requeued", func(ctx context.Context, tx *sql.Tx, ev eventlog.Event) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE messages SET status = ?, read_at = NULL, acked_at = NULL WHERE id = ?`,
			StatusPending, ev.StreamID)
		return err
	})
}

const messageColumns = `id, mailbox_id, sender_id, thread_id, message_type, content, status, priority, sent_at, read_at, acked_at, causation_id, insertion_seq`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	var senderID, threadID, readAt, ackedAt, causationID sql.NullString
	var sentAt string
	if err := row.Scan(&m.ID, &m.MailboxID, &senderID, &threadID, &m.MessageType, &m.Content, &m.Status,
		&m.Priority, &sentAt, &readAt, &ackedAt, &causationID, &m.InsertionSeq); err != nil {
		return Message{}, err
	}
	m.SenderID = senderID.String
	m.ThreadID = threadID.String
	m.CausationID = causationID.String
	m.SentAt = parseTime(sentAt)
	m.ReadAt = parseTimePtr(readAt)
	m.AckedAt = parseTimePtr(ackedAt)
	return m, nil
}

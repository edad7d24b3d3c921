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

// Package mailbox implements per-addressee message queues (spec §3.6,
// §4.5): a closed, per-project facility for specialists to exchange
// messages with forward-only read/ack state. Every mailbox event lives in
// the "squawk" stream (spec §3.1).
package mailbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/ids"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/store"
)

// Registry is the shared projections registry (spec §4.3).
type Registry = projections.Registry

// Status is the forward-only message lifecycle (spec §3.6).
type Status string

const (
	StatusPending Status = "pending"
	StatusRead    Status = "read"
	StatusAcked   Status = "acked"
)

// Priority classifies delivery urgency (spec §3.6).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Mailbox is the read model for spec §3.6.
type Mailbox struct {
	MailboxID string    `json:"mailbox_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is the read model for spec §3.6.
type Message struct {
	ID           string     `json:"id"`
	MailboxID    string     `json:"mailbox_id"`
	SenderID     string     `json:"sender_id,omitempty"`
	ThreadID     string     `json:"thread_id,omitempty"`
	MessageType  string     `json:"message_type"`
	Content      string     `json:"content"`
	Status       Status     `json:"status"`
	Priority     Priority   `json:"priority"`
	SentAt       time.Time  `json:"sent_at"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
	AckedAt      *time.Time `json:"acked_at,omitempty"`
	CausationID  string     `json:"causation_id,omitempty"`
	InsertionSeq int64      `json:"-"`
}

// Manager owns the mailbox/message write paths (spec §4.5).
type Manager struct {
	store *store.Store
	log   *eventlog.Log
}

func New(s *store.Store, l *eventlog.Log, r *Registry) *Manager {
	registerHandlers(r)
	return &Manager{store: s, log: l}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

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

// Send delivers content to the mailbox addressed by mailboxID, auto-creating
// it on first send (spec §4.5). causationID threads an optional command
// origin through into the appended event.
func (m *Manager) Send(ctx context.Context, mailboxID, ownerID, senderID, threadID, messageType, content string, priority Priority, causationID string) (Message, error) {
	if mailboxID == "" {
		return Message{}, corerr.NewValidation("MAILBOX_ID_REQUIRED", "mailbox_id is required")
	}
	if content == "" {
		return Message{}, corerr.NewValidation("CONTENT_REQUIRED", "content is required")
	}
	if priority == "" {
		priority = PriorityNormal
	}

	var result Message
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		if err := ensureMailbox(ctx, tx, mailboxID, ownerID); err != nil {
			return err
		}

		id := ids.New(ids.Message)
		ev, err := m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "message_sent",
			StreamType:  eventlog.StreamSquawk,
			StreamID:    id,
			CausationID: causationID,
			Data: messageSentPayload{
				MailboxID:   mailboxID,
				SenderID:    senderID,
				ThreadID:    threadID,
				MessageType: messageType,
				Content:     content,
				Priority:    priority,
			},
		})
		if err != nil {
			return err
		}

		result = Message{
			ID:          id,
			MailboxID:   mailboxID,
			SenderID:    senderID,
			ThreadID:    threadID,
			MessageType: messageType,
			Content:     content,
			Status:      StatusPending,
			Priority:    priority,
			SentAt:      ev.RecordedAt,
			CausationID: causationID,
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return result, nil
}

func ensureMailbox(ctx context.Context, tx *sql.Tx, mailboxID, ownerID string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO mailboxes (mailbox_id, owner_id, created_at) VALUES (?, ?, ?) ON CONFLICT(mailbox_id) DO NOTHING`,
		mailboxID, ownerID, formatTime(time.Now()))
	return err
}

// MarkRead transitions a message to read. Idempotent: marking an already-
// read or acked message read again is a no-op (spec §4.5).
func (m *Manager) MarkRead(ctx context.Context, messageID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		msg, err := getForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if msg.Status != StatusPending {
			return nil
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "message_read",
			StreamType: eventlog.StreamSquawk,
			StreamID:   messageID,
		})
		return err
	})
}

// Acknowledge transitions a message to acked. Idempotent (spec §4.5).
func (m *Manager) Acknowledge(ctx context.Context, messageID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		msg, err := getForUpdate(ctx, tx, messageID)
		if err != nil {
			return err
		}
		if msg.Status == StatusAcked {
			return nil
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "message_acked",
			StreamType: eventlog.StreamSquawk,
			StreamID:   messageID,
		})
		return err
	})
}

// Requeue resets a message to pending. Restricted to the Recovery Engine
// (spec §4.5, §4.7); callers outside internal/recovery must not call this.
func (m *Manager) Requeue(ctx context.Context, messageID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		return m.RequeueInTx(ctx, tx, messageID)
	})
}

// RequeueInTx is Requeue run inside a caller-owned transaction, used by the
// Recovery Engine's Restore so message requeuing participates in the same
// atomic restore as sortie and lock updates (spec §4.7).
func (m *Manager) RequeueInTx(ctx context.Context, tx *sql.Tx, messageID string) error {
	if _, err := getForUpdate(ctx, tx, messageID); err != nil {
		return err
	}
	_, err := m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
		EventType:  "message_requeued",
		StreamType: eventlog.StreamSquawk,
		StreamID:   messageID,
	})
	return err
}

func getForUpdate(ctx context.Context, tx *sql.Tx, messageID string) (Message, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return Message{}, corerr.NewNotFound("MESSAGE_NOT_FOUND", "message not found")
	}
	if err != nil {
		return Message{}, corerr.NewTransient("MESSAGE_LOOKUP_FAILED", "failed to load message", err)
	}
	return msg, nil
}

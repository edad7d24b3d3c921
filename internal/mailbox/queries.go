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
)

// GetByMailbox returns messages for mailboxID ordered by sent_at with an
// insertion_seq tiebreak (spec §4.5), optionally filtered by status.
func (m *Manager) GetByMailbox(ctx context.Context, mailboxID string, status Status) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE mailbox_id = ?`
	args := []any{mailboxID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY sent_at ASC, insertion_seq ASC`

	rows, err := m.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// GetPending is GetByMailbox filtered to pending messages, the common case
// for a specialist resuming consumption (spec §4.5).
func (m *Manager) GetPending(ctx context.Context, mailboxID string) ([]Message, error) {
	return m.GetByMailbox(ctx, mailboxID, StatusPending)
}

// GetPendingInTx is GetPending scoped to an already-open transaction (see
// MailboxesForOwnerInTx for why this variant exists).
func (m *Manager) GetPendingInTx(ctx context.Context, tx *sql.Tx, mailboxID string) ([]Message, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE mailbox_id = ? AND status = ? ORDER BY sent_at ASC, insertion_seq ASC`,
		mailboxID, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (m *Manager) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	row := m.store.DB().QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MailboxesForOwner returns every mailbox addressed to ownerID, used by the
// Checkpoint Engine to snapshot pending messages for a mission's assigned
// specialists (spec §4.6).
func (m *Manager) MailboxesForOwner(ctx context.Context, ownerID string) ([]Mailbox, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT mailbox_id, owner_id, created_at FROM mailboxes WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mailbox
	for rows.Next() {
		var mb Mailbox
		var createdAt string
		if err := rows.Scan(&mb.MailboxID, &mb.OwnerID, &createdAt); err != nil {
			return nil, err
		}
		mb.CreatedAt = parseTime(createdAt)
		out = append(out, mb)
	}
	return out, rows.Err()
}

// MailboxesForOwnerInTx is MailboxesForOwner scoped to an already-open
// transaction. m.store pins its pool to a single connection, so a query
// against m.store.DB() while that connection is checked out by a
// transaction blocks forever; callers inside a WriteTxn/ReadTxn/
// WriteTxnDryRun closure must use this instead (spec §5).
func (m *Manager) MailboxesForOwnerInTx(ctx context.Context, tx *sql.Tx, ownerID string) ([]Mailbox, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT mailbox_id, owner_id, created_at FROM mailboxes WHERE owner_id = ?`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mailbox
	for rows.Next() {
		var mb Mailbox
		var createdAt string
		if err := rows.Scan(&mb.MailboxID, &mb.OwnerID, &createdAt); err != nil {
			return nil, err
		}
		mb.CreatedAt = parseTime(createdAt)
		out = append(out, mb)
	}
	return out, rows.Err()
}

func (m *Manager) GetMailbox(ctx context.Context, mailboxID string) (*Mailbox, error) {
	row := m.store.DB().QueryRowContext(ctx, `SELECT mailbox_id, owner_id, created_at FROM mailboxes WHERE mailbox_id = ?`, mailboxID)
	var mb Mailbox
	var createdAt string
	if err := row.Scan(&mb.MailboxID, &mb.OwnerID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	mb.CreatedAt = parseTime(createdAt)
	return &mb, nil
}

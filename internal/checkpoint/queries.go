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

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
)

const checkpointColumns = `id, mission_id, ts, trigger, progress_percent, sorties_json, active_locks_json, pending_msgs_json, recovery_context, created_by, expires_at, consumed_at, version`

func scanCheckpoint(row interface{ Scan(...any) error }) (Checkpoint, error) {
	var cp Checkpoint
	var ts string
	var sortiesJSON, locksJSON, msgsJSON, rcJSON string
	var expiresAt, consumedAt sql.NullString
	if err := row.Scan(&cp.ID, &cp.MissionID, &ts, &cp.Trigger, &cp.ProgressPercent, &sortiesJSON, &locksJSON,
		&msgsJSON, &rcJSON, &cp.CreatedBy, &expiresAt, &consumedAt, &cp.Version); err != nil {
		return Checkpoint{}, err
	}
	cp.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	_ = json.Unmarshal([]byte(sortiesJSON), &cp.Sorties)
	_ = json.Unmarshal([]byte(locksJSON), &cp.ActiveLocks)
	_ = json.Unmarshal([]byte(msgsJSON), &cp.PendingMessages)
	_ = json.Unmarshal([]byte(rcJSON), &cp.RecoveryContext)
	if expiresAt.Valid && expiresAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
		if err == nil {
			cp.ExpiresAt = &t
		}
	}
	if consumedAt.Valid && consumedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, consumedAt.String)
		if err == nil {
			cp.ConsumedAt = &t
		}
	}
	return cp, nil
}

// GetById loads a checkpoint by id. The DB row is authoritative over the
// file backup (spec §4.6); the file is only consulted as a fallback when
// the row itself is missing.
func (e *Engine) GetById(ctx context.Context, id string) (*Checkpoint, error) {
	row := e.store.DB().QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM checkpoints WHERE id = ?`, id)
	cp, err := scanCheckpoint(row)
	if err == nil {
		return &cp, nil
	}
	if err != sql.ErrNoRows {
		return nil, corerr.NewTransient("CHECKPOINT_LOOKUP_FAILED", "failed to load checkpoint", err)
	}

	fileCp, fileErr := e.files.Read(id)
	if fileErr != nil {
		return nil, nil
	}
	slog.Warn("checkpoint row missing, re-ingested file backup as read-only artifact", "checkpoint_id", id)
	return &fileCp, nil
}

func (e *Engine) GetLatest(ctx context.Context, missionID string) (*Checkpoint, error) {
	row := e.store.DB().QueryRowContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE mission_id = ? ORDER BY ts DESC LIMIT 1`, missionID)
	cp, err := scanCheckpoint(row)
	if err == nil {
		return &cp, nil
	}
	if err != sql.ErrNoRows {
		return nil, corerr.NewTransient("CHECKPOINT_LOOKUP_FAILED", "failed to load latest checkpoint", err)
	}

	fileCp, fileErr := e.files.ReadLatest(missionID)
	if fileErr != nil {
		return nil, nil
	}
	return &fileCp, nil
}

func (e *Engine) ListByMission(ctx context.Context, missionID string) ([]Checkpoint, error) {
	rows, err := e.store.DB().QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE mission_id = ? ORDER BY ts DESC`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// GetPrunable returns checkpoints eligible for deletion: older than
// olderThanDays, keeping keepPerMission most recent per mission, optionally
// including checkpoints for completed missions (spec §4.6).
func (e *Engine) GetPrunable(ctx context.Context, olderThanDays int, keepPerMission int, includeCompleted bool) ([]Checkpoint, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)

	rows, err := e.store.DB().QueryContext(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints ORDER BY mission_id ASC, ts DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byMission := make(map[string][]Checkpoint)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		byMission[cp.MissionID] = append(byMission[cp.MissionID], cp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var prunable []Checkpoint
	for missionID, cps := range byMission {
		if !includeCompleted {
			completed, err := e.missionCompleted(ctx, missionID)
			if err != nil {
				return nil, err
			}
			if completed {
				continue
			}
		}
		for i, cp := range cps {
			if i < keepPerMission {
				continue
			}
			if cp.Timestamp.Before(cutoff) {
				prunable = append(prunable, cp)
			}
		}
	}
	return prunable, nil
}

func (e *Engine) missionCompleted(ctx context.Context, missionID string) (bool, error) {
	m, err := e.queries.GetMission(ctx, missionID)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, nil
	}
	return string(m.Status) == "completed" || string(m.Status) == "cancelled", nil
}

// MarkConsumed records that the Recovery Engine used checkpointID to
// restore state (spec §4.6, §4.7).
func (e *Engine) MarkConsumed(ctx context.Context, checkpointID string) error {
	return e.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		now := formatTime(time.Now())
		res, err := tx.ExecContext(ctx, `UPDATE checkpoints SET consumed_at = ? WHERE id = ?`, now, checkpointID)
		if err != nil {
			return corerr.NewTransient("CHECKPOINT_UPDATE_FAILED", "failed to mark checkpoint consumed", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return corerr.NewNotFound("CHECKPOINT_NOT_FOUND", "checkpoint not found")
		}
		_, err = e.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "checkpoint_consumed",
			StreamType: eventlog.StreamCheckpoint,
			StreamID:   checkpointID,
			Data:       checkpointConsumedPayload{},
		})
		return err
	})
}

// Prune deletes checkpointID's row and backing JSON file (spec §6.1 `DELETE
// /checkpoints?older_than_days=&keep_per_mission=`). Callers are expected to
// have selected checkpointID via GetPrunable first.
func (e *Engine) Prune(ctx context.Context, checkpointID string) error {
	err := e.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, checkpointID)
		if err != nil {
			return corerr.NewTransient("CHECKPOINT_DELETE_FAILED", "failed to delete checkpoint row", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return corerr.NewNotFound("CHECKPOINT_NOT_FOUND", "checkpoint not found")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.files.Remove(checkpointID); err != nil {
		return corerr.NewTransient("CHECKPOINT_FILE_DELETE_FAILED", "failed to remove checkpoint file", err)
	}
	return nil
}

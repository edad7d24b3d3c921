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

package recovery

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fleettools/coordination-core/internal/checkpoint"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/locks"
	"github.com/fleettools/coordination-core/internal/observability"
)

// Restored summarizes what a Restore actually did (spec §4.7).
type Restored struct {
	Sorties  []string `json:"sorties"`
	Locks    []string `json:"locks"`
	Messages []string `json:"messages"`
}

// Result is Restore's return value (spec §4.7).
type Result struct {
	Success   bool                    `json:"success"`
	Restored  Restored                `json:"restored"`
	Conflicts []locks.ReacquireResult `json:"conflicts,omitempty"`
}

// Restore loads a checkpoint (DB first, file fallback) and, inside one
// write transaction, replays it as new events that move sorties and
// messages to the snapshotted state and reacquire the snapshotted locks
// (spec §4.7). Locks acquired after the checkpoint was taken are not
// released. A dry_run performs
// every step but rolls back instead of committing, so the caller can see
// what would happen without mutating the event log.
func (e *Engine) Restore(ctx context.Context, checkpointID string, dryRun bool) (Result, error) {
	ctx, span := observability.Tracer().Start(ctx, "recovery.Restore")
	defer span.End()
	span.SetAttributes(
		attribute.String("fleetcore.checkpoint_id", checkpointID),
		attribute.Bool("fleetcore.dry_run", dryRun),
	)

	result, err := e.restore(ctx, checkpointID, dryRun)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordRecoveryRestore(dryRun, err == nil && result.Success)
	return result, err
}

func (e *Engine) restore(ctx context.Context, checkpointID string, dryRun bool) (Result, error) {
	cp, err := e.checkpoint.GetById(ctx, checkpointID)
	if err != nil {
		return Result{}, corerr.NewTransient("CHECKPOINT_LOOKUP_FAILED", "failed to load checkpoint", err)
	}
	if cp == nil {
		return Result{}, corerr.NewNotFound("CHECKPOINT_NOT_FOUND", "checkpoint not found")
	}

	txRunner := e.store.WriteTxn
	if dryRun {
		txRunner = e.store.WriteTxnDryRun
	}

	var result Result
	txErr := txRunner(ctx, func(tx *sql.Tx) error {
		restored := Restored{}

		for _, snap := range cp.Sorties {
			applied, err := restoreSortie(ctx, tx, e.log, e.queries, snap)
			if err != nil {
				return err
			}
			if applied {
				restored.Sorties = append(restored.Sorties, snap.ID)
			}
		}

		lockSnaps := make([]locks.Snapshot, 0, len(cp.ActiveLocks))
		for _, l := range cp.ActiveLocks {
			lockSnaps = append(lockSnaps, locks.Snapshot{
				File:       l.File,
				ReservedBy: l.ReservedBy,
				Purpose:    locks.Purpose(l.Purpose),
				Checksum:   l.Checksum,
			})
		}
		lockResults := e.locksM.ReacquireInTx(ctx, tx, lockSnaps)
		for _, r := range lockResults {
			if r.Conflict {
				result.Conflicts = append(result.Conflicts, r)
				continue
			}
			restored.Locks = append(restored.Locks, r.Lock.ID)
		}

		for _, msg := range cp.PendingMessages {
			if err := e.mailM.RequeueInTx(ctx, tx, msg.ID); err != nil {
				if corerr.Is(err, corerr.NotFound) {
					slog.Warn("skipping requeue of missing message during restore", "message_id", msg.ID)
					continue
				}
				return err
			}
			restored.Messages = append(restored.Messages, msg.ID)
		}

		if _, err := e.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "checkpoint_consumed",
			StreamType: eventlog.StreamCheckpoint,
			StreamID:   checkpointID,
			Data:       struct{}{},
		}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE checkpoints SET consumed_at = ? WHERE id = ?`, nowRFC3339(), checkpointID); err != nil {
			return corerr.NewTransient("CHECKPOINT_UPDATE_FAILED", "failed to mark checkpoint consumed", err)
		}

		result.Restored = restored
		result.Success = true
		return nil
	})
	if txErr != nil {
		return Result{Success: false}, txErr
	}
	return result, nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

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

	"github.com/fleettools/coordination-core/internal/checkpoint"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/projections"
)

// restoreSortie appends whichever sortie lifecycle events are needed to
// move the live projection to snap's state (spec §4.7 step 3: "append
// sortie update events that move the projection to the snapshot state, no
// direct projection writes"). If the sortie no longer exists it is skipped
// with a warning rather than failing the whole restore. A snapshot status of
// pending or review leaves the current status unchanged, and in_progress is
// restored only from blocked.
func restoreSortie(ctx context.Context, tx *sql.Tx, log *eventlog.Log, q *projections.Queries, snap checkpoint.SortieSnapshot) (bool, error) {
	current, err := q.GetSortieInTx(ctx, tx, snap.ID)
	if err != nil {
		return false, err
	}
	if current == nil {
		slog.Warn("skipping restore of missing sortie", "sortie_id", snap.ID)
		return false, nil
	}

	applied := false

	if snap.AssignedTo != "" && current.AssignedTo != snap.AssignedTo {
		if _, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "sortie_assigned",
			StreamType: eventlog.StreamSortie,
			StreamID:   snap.ID,
			Data:       projections.SortieAssignedPayload{SpecialistID: snap.AssignedTo},
		}); err != nil {
			return false, err
		}
		applied = true
	}

	if snap.Progress != current.Progress || snap.ProgressNotes != current.ProgressNotes {
		if _, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "sortie_progress",
			StreamType: eventlog.StreamSortie,
			StreamID:   snap.ID,
			Data:       projections.SortieProgressPayload{Progress: snap.Progress, Notes: snap.ProgressNotes},
		}); err != nil {
			return false, err
		}
		applied = true
	}

	switch projections.SortieStatus(snap.Status) {
	case projections.SortieBlocked:
		if current.Status != projections.SortieBlocked {
			if _, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
				EventType:  "sortie_blocked",
				StreamType: eventlog.StreamSortie,
				StreamID:   snap.ID,
				Data:       projections.SortieBlockedPayload{BlockedBy: snap.BlockedBy, BlockedReason: snap.BlockedReason},
			}); err != nil {
				return false, err
			}
			applied = true
		}
	case projections.SortieCompleted, projections.SortieFailed, projections.SortieCancelled:
		if current.Status != projections.SortieStatus(snap.Status) {
			if _, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
				EventType:  "sortie_completed",
				StreamType: eventlog.StreamSortie,
				StreamID:   snap.ID,
				Data:       projections.SortieCompletionPayload{Status: projections.SortieStatus(snap.Status), Result: snap.Result},
			}); err != nil {
				return false, err
			}
			applied = true
		}
	case projections.SortieAssigned:
		// A differing assignee was re-assigned above, which already resets
		// the status to assigned.
		if current.Status != projections.SortieAssigned && snap.AssignedTo != "" && current.AssignedTo == snap.AssignedTo {
			if _, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
				EventType:  "sortie_assigned",
				StreamType: eventlog.StreamSortie,
				StreamID:   snap.ID,
				Data:       projections.SortieAssignedPayload{SpecialistID: snap.AssignedTo},
			}); err != nil {
				return false, err
			}
			applied = true
		}
	case projections.SortieInProgress:
		if current.Status == projections.SortieBlocked {
			if _, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
				EventType:  "sortie_unblocked",
				StreamType: eventlog.StreamSortie,
				StreamID:   snap.ID,
			}); err != nil {
				return false, err
			}
			applied = true
		}
	}

	return applied, nil
}

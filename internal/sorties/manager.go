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

// Package sorties is the Sortie command boundary (spec §3.3): the only path
// by which a sortie's lifecycle events are appended. State machines are
// enforced here, not in the projection layer — invalid transitions are
// rejected before any event reaches the log.
package sorties

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/ids"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/store"
)

// Manager owns every sortie state transition.
type Manager struct {
	store   *store.Store
	log     *eventlog.Log
	queries *projections.Queries
}

func New(s *store.Store, l *eventlog.Log, q *projections.Queries) *Manager {
	return &Manager{store: s, log: l, queries: q}
}

// Get returns a sortie by id, or nil if it does not exist.
func (m *Manager) Get(ctx context.Context, sortieID string) (*projections.Sortie, error) {
	return m.queries.GetSortie(ctx, sortieID)
}

// List returns sorties matching f.
func (m *Manager) List(ctx context.Context, f projections.SortieQuery) ([]projections.Sortie, error) {
	return m.queries.ListSorties(ctx, f)
}

// Create appends sortie_created and returns the new sortie's id.
func (m *Manager) Create(ctx context.Context, missionID, title, description string, priority projections.Priority, files []string, metadata json.RawMessage, causationID string) (string, error) {
	if title == "" {
		return "", corerr.NewValidation("TITLE_REQUIRED", "title is required")
	}
	if priority == "" {
		priority = projections.PriorityMedium
	}
	switch priority {
	case projections.PriorityLow, projections.PriorityMedium, projections.PriorityHigh, projections.PriorityCritical:
	default:
		return "", corerr.NewValidation("PRIORITY_INVALID", "priority must be one of low, medium, high, critical")
	}

	id := ids.New(ids.Sortie)
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		if missionID != "" {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM missions WHERE id = ?`, missionID).Scan(&exists); err != nil {
				return corerr.NewTransient("MISSION_LOOKUP_FAILED", "failed to verify mission", err)
			}
			if exists == 0 {
				return corerr.NewNotFound("MISSION_NOT_FOUND", "mission_id does not reference a mission")
			}
		}
		_, err := m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_created",
			StreamType:  eventlog.StreamSortie,
			StreamID:    id,
			CausationID: causationID,
			Data: projections.SortieCreatedPayload{
				MissionID:   missionID,
				Title:       title,
				Description: description,
				Priority:    priority,
				Files:       files,
				Metadata:    metadata,
			},
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Assign sets assigned_to. Legal from pending or assigned (reassignment).
func (m *Manager) Assign(ctx context.Context, sortieID, specialistID, causationID string) error {
	if specialistID == "" {
		return corerr.NewValidation("SPECIALIST_REQUIRED", "specialist_id is required")
	}
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		switch s.Status {
		case projections.SortiePending, projections.SortieAssigned:
		default:
			return corerr.NewPrecondition("SORTIE_NOT_ASSIGNABLE", "sortie must be pending or assigned to assign")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_assigned",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        projections.SortieAssignedPayload{SpecialistID: specialistID},
		})
		return err
	})
}

// Start transitions assigned → in_progress. Requires assigned_to to be set
// and to equal specialistID (spec §3.3).
func (m *Manager) Start(ctx context.Context, sortieID, specialistID, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		if s.AssignedTo == "" {
			return corerr.NewPrecondition("SORTIE_NOT_ASSIGNED", "sortie has no assigned_to")
		}
		if s.AssignedTo != specialistID {
			return corerr.NewOwnershipError("NOT_ASSIGNED_SPECIALIST", "only the assigned specialist may start this sortie")
		}
		if s.Status != projections.SortieAssigned {
			return corerr.NewPrecondition("SORTIE_NOT_ASSIGNED_STATE", "sortie must be assigned to start")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_started",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        projections.SortieStartedPayload{SpecialistID: specialistID},
		})
		return err
	})
}

// Progress records a progress update. Must be in_progress; progress is
// non-decreasing within a single in_progress run (spec §3.3).
func (m *Manager) Progress(ctx context.Context, sortieID string, progress int, notes, causationID string) error {
	if progress < 0 || progress > 100 {
		return corerr.NewValidation("PROGRESS_OUT_OF_RANGE", "progress must be between 0 and 100")
	}
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		if s.Status != projections.SortieInProgress {
			return corerr.NewPrecondition("SORTIE_NOT_IN_PROGRESS", "sortie must be in_progress to report progress")
		}
		if progress < s.Progress {
			return corerr.NewPrecondition("PROGRESS_DECREASED", "progress cannot decrease within an in_progress run")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_progress",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        projections.SortieProgressPayload{Progress: progress, Notes: notes},
		})
		return err
	})
}

// Block transitions in_progress → blocked.
func (m *Manager) Block(ctx context.Context, sortieID, blockedBy, reason, causationID string) error {
	if reason == "" {
		return corerr.NewValidation("REASON_REQUIRED", "blocked_reason is required")
	}
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		if s.Status != projections.SortieInProgress {
			return corerr.NewPrecondition("SORTIE_NOT_IN_PROGRESS", "sortie must be in_progress to block")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_blocked",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        projections.SortieBlockedPayload{BlockedBy: blockedBy, BlockedReason: reason},
		})
		return err
	})
}

// Unblock transitions blocked → in_progress.
func (m *Manager) Unblock(ctx context.Context, sortieID, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		if s.Status != projections.SortieBlocked {
			return corerr.NewPrecondition("SORTIE_NOT_BLOCKED", "sortie must be blocked to unblock")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_unblocked",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        struct{}{},
		})
		return err
	})
}

// Complete transitions {in_progress, review} → completed (spec §3.3).
func (m *Manager) Complete(ctx context.Context, sortieID string, result json.RawMessage, causationID string) error {
	return m.completeAs(ctx, sortieID, projections.SortieCompleted, result, causationID)
}

// Fail transitions {in_progress, review} → failed, recording result as the
// failure detail.
func (m *Manager) Fail(ctx context.Context, sortieID string, result json.RawMessage, causationID string) error {
	return m.completeAs(ctx, sortieID, projections.SortieFailed, result, causationID)
}

func (m *Manager) completeAs(ctx context.Context, sortieID string, status projections.SortieStatus, result json.RawMessage, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		switch s.Status {
		case projections.SortieInProgress, projections.SortieReview:
		default:
			return corerr.NewPrecondition("SORTIE_NOT_COMPLETABLE", "sortie must be in_progress or review to complete")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_completed",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        projections.SortieCompletionPayload{Status: status, Result: result},
		})
		return err
	})
}

// Cancel transitions any non-terminal status to cancelled.
func (m *Manager) Cancel(ctx context.Context, sortieID string, result json.RawMessage, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		s, err := getForUpdate(ctx, tx, sortieID)
		if err != nil {
			return err
		}
		switch s.Status {
		case projections.SortieCompleted, projections.SortieFailed, projections.SortieCancelled:
			return corerr.NewPrecondition("SORTIE_TERMINAL", "sortie is already terminal")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "sortie_completed",
			StreamType:  eventlog.StreamSortie,
			StreamID:    sortieID,
			CausationID: causationID,
			Data:        projections.SortieCompletionPayload{Status: projections.SortieCancelled, Result: result},
		})
		return err
	})
}

func getForUpdate(ctx context.Context, tx *sql.Tx, sortieID string) (projections.Sortie, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, mission_id, title, description, status, priority, assigned_to, created_at, started_at, completed_at, progress, progress_notes, blocked_by, blocked_reason, files, result, metadata FROM sorties WHERE id = ?`, sortieID)
	var s projections.Sortie
	var missionID, description, assignedTo, progressNotes, blockedBy, blockedReason, result, metadata sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt, filesJSON string
	err := row.Scan(&s.ID, &missionID, &s.Title, &description, &s.Status, &s.Priority, &assignedTo,
		&createdAt, &startedAt, &completedAt, &s.Progress, &progressNotes, &blockedBy, &blockedReason,
		&filesJSON, &result, &metadata)
	if err == sql.ErrNoRows {
		return projections.Sortie{}, corerr.NewNotFound("SORTIE_NOT_FOUND", "sortie not found")
	}
	if err != nil {
		return projections.Sortie{}, corerr.NewTransient("SORTIE_LOOKUP_FAILED", "failed to load sortie", err)
	}
	s.MissionID = missionID.String
	s.Description = description.String
	s.AssignedTo = assignedTo.String
	s.ProgressNotes = progressNotes.String
	s.BlockedBy = blockedBy.String
	s.BlockedReason = blockedReason.String
	if result.Valid {
		s.Result = json.RawMessage(result.String)
	}
	if metadata.Valid {
		s.Metadata = json.RawMessage(metadata.String)
	}
	_ = json.Unmarshal([]byte(filesJSON), &s.Files)
	return s, nil
}

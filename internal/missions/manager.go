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

// Package missions is the Mission command boundary (spec §3.2): the only
// path by which a mission's lifecycle events are appended. State machines
// are enforced here, not in the projection layer — invalid transitions are
// rejected before any event reaches the log.
package missions

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

// Manager owns every mission state transition.
type Manager struct {
	store   *store.Store
	log     *eventlog.Log
	queries *projections.Queries
}

func New(s *store.Store, l *eventlog.Log, q *projections.Queries) *Manager {
	return &Manager{store: s, log: l, queries: q}
}

// Create appends mission_created and returns the new mission's id.
func (m *Manager) Create(ctx context.Context, title, description string, priority projections.Priority, metadata json.RawMessage, causationID string) (string, error) {
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

	id := ids.New(ids.Mission)
	_, err := m.log.Append(ctx, eventlog.AppendInput{
		EventType:   "mission_created",
		StreamType:  eventlog.StreamMission,
		StreamID:    id,
		CausationID: causationID,
		Data: projections.MissionCreatedPayload{
			Title:       title,
			Description: description,
			Priority:    priority,
			Metadata:    metadata,
		},
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Start transitions pending → in_progress. Any other current status is
// rejected (spec §3.2).
func (m *Manager) Start(ctx context.Context, missionID, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := getForUpdate(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if mission.Status != projections.MissionPending {
			return corerr.NewPrecondition("MISSION_NOT_PENDING", "mission must be pending to start")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "mission_started",
			StreamType:  eventlog.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			Data:        projections.MissionStartedPayload{},
		})
		return err
	})
}

// Complete transitions {in_progress, review} → completed. Rejected if any
// child sortie is not terminal (spec §3.2).
func (m *Manager) Complete(ctx context.Context, missionID string, result json.RawMessage, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := getForUpdate(ctx, tx, missionID)
		if err != nil {
			return err
		}
		switch mission.Status {
		case projections.MissionInProgress, projections.MissionReview:
		default:
			return corerr.NewPrecondition("MISSION_NOT_ACTIVE", "mission must be in_progress or review to complete")
		}

		nonTerminal, err := nonTerminalSortieCount(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if nonTerminal > 0 {
			return corerr.NewPrecondition("SORTIES_NOT_TERMINAL", "mission has sorties that are not yet terminal")
		}

		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "mission_status_changed",
			StreamType:  eventlog.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			Data: projections.MissionStatusPayload{
				Status: projections.MissionCompleted,
				Result: result,
			},
		})
		return err
	})
}

// Cancel transitions any non-terminal status to cancelled.
func (m *Manager) Cancel(ctx context.Context, missionID string, reason json.RawMessage, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := getForUpdate(ctx, tx, missionID)
		if err != nil {
			return err
		}
		switch mission.Status {
		case projections.MissionCompleted, projections.MissionCancelled:
			return corerr.NewPrecondition("MISSION_TERMINAL", "mission is already terminal")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "mission_status_changed",
			StreamType:  eventlog.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			Data: projections.MissionStatusPayload{
				Status: projections.MissionCancelled,
				Result: reason,
			},
		})
		return err
	})
}

// MarkReview transitions in_progress → review, a checkpoint before a
// human or a parent process accepts the mission's result.
func (m *Manager) MarkReview(ctx context.Context, missionID, causationID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		mission, err := getForUpdate(ctx, tx, missionID)
		if err != nil {
			return err
		}
		if mission.Status != projections.MissionInProgress {
			return corerr.NewPrecondition("MISSION_NOT_IN_PROGRESS", "mission must be in_progress to move to review")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:   "mission_status_changed",
			StreamType:  eventlog.StreamMission,
			StreamID:    missionID,
			CausationID: causationID,
			Data:        projections.MissionStatusPayload{Status: projections.MissionReview},
		})
		return err
	})
}

// Get returns a mission by id, or nil if it does not exist.
func (m *Manager) Get(ctx context.Context, missionID string) (*projections.Mission, error) {
	return m.queries.GetMission(ctx, missionID)
}

// List returns missions matching f.
func (m *Manager) List(ctx context.Context, f projections.MissionQuery) ([]projections.Mission, error) {
	return m.queries.ListMissions(ctx, f)
}

func getForUpdate(ctx context.Context, tx *sql.Tx, missionID string) (projections.Mission, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, title, description, status, priority, created_at, started_at, completed_at, total_sorties, completed_sorties, result, metadata FROM missions WHERE id = ?`, missionID)
	var mis projections.Mission
	var description, result, metadata sql.NullString
	var startedAt, completedAt sql.NullString
	var createdAt string
	err := row.Scan(&mis.ID, &mis.Title, &description, &mis.Status, &mis.Priority, &createdAt,
		&startedAt, &completedAt, &mis.TotalSorties, &mis.CompletedSorties, &result, &metadata)
	if err == sql.ErrNoRows {
		return projections.Mission{}, corerr.NewNotFound("MISSION_NOT_FOUND", "mission not found")
	}
	if err != nil {
		return projections.Mission{}, corerr.NewTransient("MISSION_LOOKUP_FAILED", "failed to load mission", err)
	}
	return mis, nil
}

func nonTerminalSortieCount(ctx context.Context, tx *sql.Tx, missionID string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sorties WHERE mission_id = ? AND status NOT IN (?, ?, ?)`,
		missionID, projections.SortieCompleted, projections.SortieFailed, projections.SortieCancelled).Scan(&count)
	if err != nil {
		return 0, corerr.NewTransient("SORTIE_LOOKUP_FAILED", "failed to count non-terminal sorties", err)
	}
	return count, nil
}

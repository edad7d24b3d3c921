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
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/ids"
	"github.com/fleettools/coordination-core/internal/locks"
	"github.com/fleettools/coordination-core/internal/mailbox"
	"github.com/fleettools/coordination-core/internal/metrics"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/store"
)

// Engine is the Checkpoint Engine (spec §4.6).
type Engine struct {
	store   *store.Store
	log     *eventlog.Log
	queries *projections.Queries
	locksM  *locks.Manager
	mailM   *mailbox.Manager
	files   *fileStorage
	cfg     config.CheckpointConfig
	metrics *metrics.Metrics

	mu              sync.Mutex
	crossedAt25_50_75_100 map[string]map[int]bool // mission_id -> threshold -> seen, for OnProgress dedup ahead of the DB constraint
}

// SetMetrics attaches a Metrics sink; nil is valid.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// New wires the Checkpoint Engine to its dependencies. checkpointsDir is the
// well-known directory (spec §6.2) the JSON backups are written under.
func New(s *store.Store, l *eventlog.Log, q *projections.Queries, lm *locks.Manager, mm *mailbox.Manager, cfg config.CheckpointConfig, checkpointsDir string) (*Engine, error) {
	fs, err := newFileStorage(checkpointsDir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:                 s,
		log:                   l,
		queries:               q,
		locksM:                lm,
		mailM:                 mm,
		files:                 fs,
		cfg:                   cfg,
		crossedAt25_50_75_100: make(map[string]map[int]bool),
	}, nil
}

// Create snapshots mission state under one read transaction and persists it
// both to the DB and to a JSON file (spec §4.6).
func (e *Engine) Create(ctx context.Context, missionID string, trigger Trigger, triggerDetails string, createdBy string, progressPercent int, ttlHours int) (Checkpoint, error) {
	if missionID == "" {
		return Checkpoint{}, corerr.NewValidation("MISSION_ID_REQUIRED", "mission_id is required")
	}
	start := time.Now()

	cp, err := e.snapshot(ctx, missionID, trigger, triggerDetails, createdBy, progressPercent, ttlHours)
	if err != nil {
		return Checkpoint{}, err
	}

	if err := e.files.Write(cp); err != nil {
		// The DB row is authoritative (spec §4.6 "Validation on load"); a
		// file-write failure is logged but does not fail the checkpoint.
		slog.Error("failed to write checkpoint backup file", "checkpoint_id", cp.ID, "error", err)
	}

	if err := e.persistRow(ctx, cp); err != nil {
		return Checkpoint{}, err
	}

	e.metrics.RecordCheckpoint(string(trigger), time.Since(start))
	return cp, nil
}

func (e *Engine) snapshot(ctx context.Context, missionID string, trigger Trigger, triggerDetails, createdBy string, progressPercent int, ttlHours int) (Checkpoint, error) {
	var cp Checkpoint
	err := e.store.ReadTxn(ctx, func(tx *sql.Tx) error {
		mission, err := e.queries.GetMissionInTx(ctx, tx, missionID)
		if err != nil {
			return corerr.NewTransient("MISSION_LOOKUP_FAILED", "failed to load mission", err)
		}
		if mission == nil {
			return corerr.NewNotFound("MISSION_NOT_FOUND", "mission not found")
		}

		sorties, err := e.queries.SortiesForMissionInTx(ctx, tx, missionID)
		if err != nil {
			return corerr.NewTransient("SORTIE_LOOKUP_FAILED", "failed to load sorties", err)
		}

		assigned := make(map[string]bool)
		sortieSnaps := make([]SortieSnapshot, 0, len(sorties))
		for _, s := range sorties {
			sortieSnaps = append(sortieSnaps, SortieSnapshot{
				ID:            s.ID,
				Status:        string(s.Status),
				AssignedTo:    s.AssignedTo,
				Progress:      s.Progress,
				ProgressNotes: s.ProgressNotes,
				Files:         s.Files,
				BlockedBy:     s.BlockedBy,
				BlockedReason: s.BlockedReason,
				Result:        s.Result,
			})
			if s.AssignedTo != "" {
				assigned[s.AssignedTo] = true
			}
		}

		var lockSnaps []LockSnapshot
		var msgSnaps []MessageSnapshot
		for specialistID := range assigned {
			activeLocks, err := e.locksM.GetBySpecialistInTx(ctx, tx, specialistID)
			if err != nil {
				return corerr.NewTransient("LOCK_LOOKUP_FAILED", "failed to load active locks", err)
			}
			for _, l := range activeLocks {
				lockSnaps = append(lockSnaps, LockSnapshot{
					ID:             l.ID,
					File:           l.File,
					NormalizedPath: l.NormalizedPath,
					ReservedBy:     l.ReservedBy,
					Purpose:        string(l.Purpose),
					Checksum:       l.Checksum,
				})
			}

			mailboxes, err := e.mailM.MailboxesForOwnerInTx(ctx, tx, specialistID)
			if err != nil {
				return corerr.NewTransient("MAILBOX_LOOKUP_FAILED", "failed to load mailboxes", err)
			}
			for _, mb := range mailboxes {
				pending, err := e.mailM.GetPendingInTx(ctx, tx, mb.MailboxID)
				if err != nil {
					return corerr.NewTransient("MESSAGE_LOOKUP_FAILED", "failed to load pending messages", err)
				}
				for _, msg := range pending {
					msgSnaps = append(msgSnaps, MessageSnapshot{
						ID:        msg.ID,
						MailboxID: msg.MailboxID,
						SenderID:  msg.SenderID,
						Content:   msg.Content,
						Priority:  string(msg.Priority),
					})
				}
			}
		}

		recoveryCtx, err := e.computeRecoveryContext(ctx, tx, missionID, triggerDetails, mission)
		if err != nil {
			return err
		}

		id := ids.New(ids.Checkpoint)
		now := time.Now().UTC()
		var expiresAt *time.Time
		if ttlHours <= 0 {
			ttlHours = e.cfg.DefaultTTLHours
		}
		if ttlHours > 0 {
			t := now.Add(time.Duration(ttlHours) * time.Hour)
			expiresAt = &t
		}

		cp = Checkpoint{
			ID:              id,
			MissionID:       missionID,
			Timestamp:       now,
			Trigger:         trigger,
			ProgressPercent: progressPercent,
			Sorties:         sortieSnaps,
			ActiveLocks:     lockSnaps,
			PendingMessages: msgSnaps,
			RecoveryContext: recoveryCtx,
			CreatedBy:       createdBy,
			ExpiresAt:       expiresAt,
			Version:         checkpointFormatVersion,
		}
		return nil
	})
	if err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

// computeRecoveryContext derives a human-meaningful summary from the most
// recent events in the mission's stream (spec §4.6 step 3).
func (e *Engine) computeRecoveryContext(ctx context.Context, tx *sql.Tx, missionID, triggerDetails string, mission *projections.Mission) (RecoveryContext, error) {
	events, err := e.log.GetByStreamInTx(ctx, tx, eventlog.StreamMission, missionID, 0)
	if err != nil {
		return RecoveryContext{}, corerr.NewTransient("EVENT_LOOKUP_FAILED", "failed to load mission events", err)
	}

	rc := RecoveryContext{MissionSummary: mission.Title}
	var blockers, filesModified []string
	var lastActivity time.Time
	var firstEventAt time.Time

	for i, ev := range events {
		if i == 0 {
			firstEventAt = ev.RecordedAt
		}
		lastActivity = ev.RecordedAt
		switch ev.EventType {
		case "sortie_blocked":
			var p struct {
				BlockedReason string `json:"blocked_reason"`
			}
			if json.Unmarshal(ev.Data, &p) == nil && p.BlockedReason != "" {
				blockers = append(blockers, p.BlockedReason)
			}
		case "sortie_created":
			var p struct {
				Files []string `json:"files"`
			}
			if json.Unmarshal(ev.Data, &p) == nil {
				filesModified = append(filesModified, p.Files...)
			}
		}
		rc.LastAction = ev.EventType
	}
	if triggerDetails != "" {
		rc.LastAction = triggerDetails
	}

	rc.Blockers = blockers
	rc.FilesModified = filesModified
	rc.LastActivityAt = lastActivity
	if !firstEventAt.IsZero() && !lastActivity.IsZero() {
		rc.ElapsedTimeMS = lastActivity.Sub(firstEventAt).Milliseconds()
	}
	if len(rc.MissionSummary) > e.cfg.SummaryTruncationChars {
		rc.MissionSummary = rc.MissionSummary[:e.cfg.SummaryTruncationChars]
	}
	return rc, nil
}

func (e *Engine) persistRow(ctx context.Context, cp Checkpoint) error {
	return e.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		sortiesJSON, _ := json.Marshal(cp.Sorties)
		locksJSON, _ := json.Marshal(cp.ActiveLocks)
		msgsJSON, _ := json.Marshal(cp.PendingMessages)
		rcJSON, _ := json.Marshal(cp.RecoveryContext)
		var expiresAt any
		if cp.ExpiresAt != nil {
			expiresAt = formatTime(*cp.ExpiresAt)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (id, mission_id, ts, trigger, progress_percent, sorties_json, active_locks_json,
			                          pending_msgs_json, recovery_context, created_by, expires_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			cp.ID, cp.MissionID, formatTime(cp.Timestamp), cp.Trigger, cp.ProgressPercent,
			string(sortiesJSON), string(locksJSON), string(msgsJSON), string(rcJSON), cp.CreatedBy, expiresAt, cp.Version)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint") {
				return corerr.NewConflict("CHECKPOINT_ALREADY_EXISTS",
					fmt.Sprintf("a %s checkpoint at %d%% already exists for this mission", cp.Trigger, cp.ProgressPercent), nil)
			}
			return corerr.NewTransient("CHECKPOINT_INSERT_FAILED", "failed to persist checkpoint row", err)
		}

		_, err = e.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "checkpoint_created",
			StreamType: eventlog.StreamCheckpoint,
			StreamID:   cp.ID,
			Data: checkpointCreatedPayload{
				MissionID: cp.MissionID,
				Trigger:   cp.Trigger,
			},
		})
		return err
	})
}

type checkpointCreatedPayload struct {
	MissionID string  `json:"mission_id"`
	Trigger   Trigger `json:"trigger"`
}

type checkpointConsumedPayload struct{}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// OnProgress creates a progress checkpoint the first time progress crosses
// one of the configured thresholds for missionID (spec §4.6). Crossing the
// same threshold twice is a no-op: the DB's uniqueness constraint on
// (mission_id, trigger, progress_percent) is the authority, this in-memory
// map only avoids a wasted snapshot+transaction on the common repeat case.
func (e *Engine) OnProgress(ctx context.Context, missionID string, progress int) (*Checkpoint, error) {
	threshold := e.crossedThreshold(missionID, progress)
	if threshold == 0 {
		return nil, nil
	}
	cp, err := e.Create(ctx, missionID, TriggerProgress, "", "system", threshold, 0)
	if err != nil {
		if corerr.Is(err, corerr.Conflict) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (e *Engine) crossedThreshold(missionID string, progress int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen, ok := e.crossedAt25_50_75_100[missionID]
	if !ok {
		seen = make(map[int]bool)
		e.crossedAt25_50_75_100[missionID] = seen
	}
	for _, t := range e.cfg.ProgressThresholds {
		if progress >= t && !seen[t] {
			seen[t] = true
			return t
		}
	}
	return 0
}

// OnError creates an error checkpoint (spec §4.6).
func (e *Engine) OnError(ctx context.Context, missionID string, details string) (Checkpoint, error) {
	return e.Create(ctx, missionID, TriggerError, details, "system", 0, 0)
}

// OnManualRequest creates a manual checkpoint (spec §4.6).
func (e *Engine) OnManualRequest(ctx context.Context, missionID, createdBy string, progressPercent, ttlHours int) (Checkpoint, error) {
	return e.Create(ctx, missionID, TriggerManual, "", createdBy, progressPercent, ttlHours)
}

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

// Package checkpoint implements the Checkpoint Engine (spec §4.6): it
// takes a consistent, point-in-time snapshot of a mission's state and
// persists it both as a database row and as a JSON file under
// <data_dir>/checkpoints/, so a mission can be resumed after process death.
package checkpoint

import (
	"encoding/json"
	"time"
)

// Trigger is what caused a checkpoint to be created (spec §3.8).
type Trigger string

const (
	TriggerProgress   Trigger = "progress"
	TriggerError      Trigger = "error"
	TriggerManual     Trigger = "manual"
	TriggerCompaction Trigger = "compaction"
)

// SortieSnapshot is one sortie's full state at checkpoint time (spec §4.6).
type SortieSnapshot struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	AssignedTo    string          `json:"assigned_to,omitempty"`
	Progress      int             `json:"progress"`
	ProgressNotes string          `json:"progress_notes,omitempty"`
	Files         []string        `json:"files"`
	BlockedBy     string          `json:"blocked_by,omitempty"`
	BlockedReason string          `json:"blocked_reason,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
}

// LockSnapshot is one active lock's state at checkpoint time (spec §4.6).
type LockSnapshot struct {
	ID             string `json:"id"`
	File           string `json:"file"`
	NormalizedPath string `json:"normalized_path"`
	ReservedBy     string `json:"reserved_by"`
	Purpose        string `json:"purpose"`
	Checksum       string `json:"checksum,omitempty"`
}

// MessageSnapshot is one pending message's state at checkpoint time (spec
// §4.6).
type MessageSnapshot struct {
	ID        string `json:"id"`
	MailboxID string `json:"mailbox_id"`
	SenderID  string `json:"sender_id,omitempty"`
	Content   string `json:"content"`
	Priority  string `json:"priority"`
}

// RecoveryContext summarizes recent mission activity for a human or agent
// resuming the mission (spec §3.8).
type RecoveryContext struct {
	LastAction      string    `json:"last_action,omitempty"`
	NextSteps       []string  `json:"next_steps,omitempty"`
	Blockers        []string  `json:"blockers,omitempty"`
	FilesModified   []string  `json:"files_modified,omitempty"`
	MissionSummary  string    `json:"mission_summary,omitempty"`
	ElapsedTimeMS   int64     `json:"elapsed_time_ms"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Checkpoint is the read model for spec §3.8.
type Checkpoint struct {
	ID               string            `json:"id"`
	MissionID        string            `json:"mission_id"`
	Timestamp        time.Time         `json:"timestamp"`
	Trigger          Trigger           `json:"trigger"`
	ProgressPercent  int               `json:"progress_percent"`
	Sorties          []SortieSnapshot  `json:"sorties"`
	ActiveLocks      []LockSnapshot    `json:"active_locks"`
	PendingMessages  []MessageSnapshot `json:"pending_messages"`
	RecoveryContext  RecoveryContext   `json:"recovery_context"`
	CreatedBy        string            `json:"created_by"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	ConsumedAt       *time.Time        `json:"consumed_at,omitempty"`
	Version          int               `json:"version"`
}

const checkpointFormatVersion = 1

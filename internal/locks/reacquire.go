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

package locks

import (
	"context"
	"database/sql"

	"github.com/fleettools/coordination-core/internal/corerr"
)

// Snapshot is one lock as captured by a checkpoint, handed to Reacquire by
// the Recovery Engine (spec §4.7).
type Snapshot struct {
	File           string
	ReservedBy     string
	Purpose        Purpose
	TimeoutMS      int
	Checksum       string // content checksum at snapshot time, if known
	CurrentChecksum string // content checksum observed at restore time, if known
}

// ReacquireResult is the per-snapshot outcome of Reacquire.
type ReacquireResult struct {
	File     string `json:"file"`
	Lock     *Lock  `json:"lock,omitempty"`
	Conflict bool   `json:"conflict"`
	Reason   string `json:"reason,omitempty"`
}

// Reacquire is used exclusively by the Recovery Engine to restore locks
// captured in a checkpoint. For each snapshot it attempts Acquire with the
// original owner; if the file's current content checksum differs from the
// one recorded in the snapshot, a fresh lock would silently paper over an
// external edit, so Reacquire reports a conflict instead of force-taking it
// (spec §4.4).
func (m *Manager) Reacquire(ctx context.Context, snapshots []Snapshot) []ReacquireResult {
	results := make([]ReacquireResult, len(snapshots))
	for i, snap := range snapshots {
		if diverged(snap) {
			results[i] = ReacquireResult{File: snap.File, Conflict: true, Reason: "content checksum diverged since checkpoint"}
			continue
		}
		l, err := m.Acquire(ctx, snap.File, snap.ReservedBy, snap.TimeoutMS, snap.Purpose, snap.Checksum)
		results[i] = reacquireResult(snap, l, err)
	}
	return results
}

// ReacquireInTx is Reacquire run inside a caller-owned transaction, used by
// the Recovery Engine's Restore so lock reacquisition participates in the
// same atomic restore as sortie and message updates (spec §4.7).
func (m *Manager) ReacquireInTx(ctx context.Context, tx *sql.Tx, snapshots []Snapshot) []ReacquireResult {
	results := make([]ReacquireResult, len(snapshots))
	for i, snap := range snapshots {
		if diverged(snap) {
			results[i] = ReacquireResult{File: snap.File, Conflict: true, Reason: "content checksum diverged since checkpoint"}
			continue
		}
		l, err := m.AcquireInTx(ctx, tx, snap.File, snap.ReservedBy, snap.TimeoutMS, snap.Purpose, snap.Checksum)
		results[i] = reacquireResult(snap, l, err)
	}
	return results
}

func diverged(snap Snapshot) bool {
	return snap.Checksum != "" && snap.CurrentChecksum != "" && snap.Checksum != snap.CurrentChecksum
}

func reacquireResult(snap Snapshot, l Lock, err error) ReacquireResult {
	if err != nil {
		reason := err.Error()
		if ce, ok := corerr.As(err); ok {
			reason = ce.Message
		}
		return ReacquireResult{File: snap.File, Conflict: true, Reason: reason}
	}
	return ReacquireResult{File: snap.File, Lock: &l}
}

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

// Package recovery implements the Recovery Engine (spec §4.7): detecting
// missions that appear abandoned, and restoring them from a checkpoint.
package recovery

import (
	"context"
	"time"

	"github.com/fleettools/coordination-core/internal/checkpoint"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/locks"
	"github.com/fleettools/coordination-core/internal/mailbox"
	"github.com/fleettools/coordination-core/internal/metrics"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/store"
)

// Engine is the Recovery Engine (spec §4.7).
type Engine struct {
	store      *store.Store
	log        *eventlog.Log
	queries    *projections.Queries
	locksM     *locks.Manager
	mailM      *mailbox.Manager
	checkpoint *checkpoint.Engine
	metrics    *metrics.Metrics
}

func New(s *store.Store, l *eventlog.Log, q *projections.Queries, lm *locks.Manager, mm *mailbox.Manager, ck *checkpoint.Engine) *Engine {
	return &Engine{store: s, log: l, queries: q, locksM: lm, mailM: mm, checkpoint: ck}
}

// SetMetrics attaches a Metrics sink; nil is valid.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// Candidate is a mission Detect believes may have been abandoned (spec
// §4.7).
type Candidate struct {
	MissionID          string    `json:"mission_id"`
	LatestCheckpointID string    `json:"latest_checkpoint_id,omitempty"`
	LatestEventType    string    `json:"latest_event_type"`
	Age                time.Duration `json:"age"`
	Confidence         float64   `json:"confidence"`
}

// Detect returns missions with status=in_progress whose latest event is
// older than activityThreshold, each annotated with the mission's latest
// checkpoint, latest event, age, and a confidence score (spec §4.7).
func (e *Engine) Detect(ctx context.Context, activityThreshold time.Duration) ([]Candidate, error) {
	missions, err := e.queries.ListMissions(ctx, projections.MissionQuery{
		Status: projections.MissionInProgress,
		Limit:  100000,
	})
	if err != nil {
		return nil, corerr.NewTransient("MISSION_LOOKUP_FAILED", "failed to list in-progress missions", err)
	}

	now := time.Now().UTC()
	var candidates []Candidate
	for _, m := range missions {
		events, err := e.log.GetByStream(ctx, eventlog.StreamMission, m.ID, 0)
		if err != nil {
			return nil, corerr.NewTransient("EVENT_LOOKUP_FAILED", "failed to load mission events", err)
		}
		if len(events) == 0 {
			continue
		}
		latest := events[len(events)-1]
		age := now.Sub(latest.RecordedAt)
		if age < activityThreshold {
			continue
		}

		var checkpointID string
		if cp, err := e.checkpoint.GetLatest(ctx, m.ID); err == nil && cp != nil {
			checkpointID = cp.ID
		}

		candidates = append(candidates, Candidate{
			MissionID:          m.ID,
			LatestCheckpointID: checkpointID,
			LatestEventType:    latest.EventType,
			Age:                age,
			Confidence:         confidenceScore(age, activityThreshold, checkpointID != ""),
		})
	}
	return candidates, nil
}

// confidenceScore grows with how far past the threshold the mission's last
// activity falls, and is boosted when a checkpoint exists to restore from.
func confidenceScore(age, threshold time.Duration, hasCheckpoint bool) float64 {
	ratio := float64(age) / float64(threshold)
	score := 0.5 + 0.1*ratio
	if score > 0.9 {
		score = 0.9
	}
	if hasCheckpoint {
		score += 0.1
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

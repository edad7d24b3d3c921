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

// Package specialists is the command boundary for specialist registration
// and heartbeats (spec §3.4). Unlike missions/sorties there is no state
// machine to enforce: registration is idempotent (upsert) and a heartbeat
// advances last_seen and optionally records a reported status and current
// sortie, so both append directly without a precheck transaction.
package specialists

import (
	"context"

	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/ids"
	"github.com/fleettools/coordination-core/internal/projections"
)

// Manager owns specialist registration and liveness events.
type Manager struct {
	log     *eventlog.Log
	queries *projections.Queries
}

func New(l *eventlog.Log, q *projections.Queries) *Manager {
	return &Manager{log: l, queries: q}
}

// Register appends specialist_registered. If id is empty a new opaque id
// is minted; a caller-supplied id (e.g. a stable specialist name-derived
// id) is accepted as-is so re-registration after a restart is idempotent.
func (m *Manager) Register(ctx context.Context, id, name string, capabilities []string, causationID string) (string, error) {
	if name == "" {
		return "", corerr.NewValidation("NAME_REQUIRED", "name is required")
	}
	if id == "" {
		id = ids.New(ids.Specialist)
	}
	_, err := m.log.Append(ctx, eventlog.AppendInput{
		EventType:   "specialist_registered",
		StreamType:  eventlog.StreamSpecialist,
		StreamID:    id,
		CausationID: causationID,
		Data: projections.SpecialistRegisteredPayload{
			Name:         name,
			Capabilities: capabilities,
		},
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Heartbeat records liveness and, optionally, a status/current_sortie
// transition reported by the specialist itself.
func (m *Manager) Heartbeat(ctx context.Context, specialistID string, status projections.SpecialistStatus, currentSortie, causationID string) error {
	existing, err := m.queries.GetSpecialist(ctx, specialistID)
	if err != nil {
		return corerr.NewTransient("SPECIALIST_LOOKUP_FAILED", "failed to load specialist", err)
	}
	if existing == nil {
		return corerr.NewNotFound("SPECIALIST_NOT_FOUND", "specialist not found")
	}
	_, err = m.log.Append(ctx, eventlog.AppendInput{
		EventType:   "specialist_heartbeat",
		StreamType:  eventlog.StreamSpecialist,
		StreamID:    specialistID,
		CausationID: causationID,
		Data: projections.SpecialistHeartbeatPayload{
			Status:        status,
			CurrentSortie: currentSortie,
		},
	})
	return err
}

// Get returns a specialist by id, or nil if it does not exist.
func (m *Manager) Get(ctx context.Context, specialistID string) (*projections.Specialist, error) {
	return m.queries.GetSpecialist(ctx, specialistID)
}

// List returns all known specialists.
func (m *Manager) List(ctx context.Context) ([]projections.Specialist, error) {
	return m.queries.ListSpecialists(ctx)
}

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

// Package coreapp wires the Store, Event Log, Projections, and every
// command-boundary manager (Locks, Mailbox, Checkpoint, Recovery, Missions,
// Sorties, Specialists) into one process-scoped handle. Nothing here is a
// package-level global; main constructs exactly one Core and passes it down
// to the HTTP layer.
package coreapp

import (
	"context"
	"fmt"

	"github.com/fleettools/coordination-core/internal/checkpoint"
	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/locks"
	"github.com/fleettools/coordination-core/internal/mailbox"
	"github.com/fleettools/coordination-core/internal/metrics"
	"github.com/fleettools/coordination-core/internal/missions"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/recovery"
	"github.com/fleettools/coordination-core/internal/sorties"
	"github.com/fleettools/coordination-core/internal/specialists"
	"github.com/fleettools/coordination-core/internal/store"
)

// Core is the fully wired Coordination Core.
type Core struct {
	Config  *config.Config
	Store   *store.Store
	Log     *eventlog.Log
	Queries *projections.Queries
	Metrics *metrics.Metrics

	Locks       *locks.Manager
	Mailbox     *mailbox.Manager
	Checkpoints *checkpoint.Engine
	Recovery    *recovery.Engine
	Missions    *missions.Manager
	Sorties     *sorties.Manager
	Specialists *specialists.Manager
}

// New opens the store, applies the path policy, and wires every component
// together in the dependency order the spec's component list implies:
// Store → Event Log (needs the Projections registry as its Applier) →
// Lock Manager / Mailbox (register their own handlers into that same
// registry) → Checkpoint Engine → Recovery Engine → the Mission/Sortie/
// Specialist command layers (Mission and Sortie take the Store, Log and
// Queries; Specialist takes only the Log and Queries).
func New(ctx context.Context, cfg *config.Config) (*Core, error) {
	s, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	policy, err := s.PathPolicy(ctx, cfg.PathPolicy)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("resolve path policy: %w", err)
	}

	registry := projections.NewRegistry()
	projections.RegisterMissionHandlers(registry)
	projections.RegisterSortieHandlers(registry)
	projections.RegisterSpecialistHandlers(registry)

	log := eventlog.New(s, registry)
	queries := projections.NewQueries(s.DB())

	m := metrics.New(cfg.Metrics, func() int64 { return s.WALSizeBytes() })

	lockMgr := locks.New(s, log, registry, policy, cfg.Lock)
	mailMgr := mailbox.New(s, log, registry)

	ckpt, err := checkpoint.New(s, log, queries, lockMgr, mailMgr, cfg.Checkpoint, cfg.CheckpointsDir())
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("init checkpoint engine: %w", err)
	}
	rec := recovery.New(s, log, queries, lockMgr, mailMgr, ckpt)

	log.SetMetrics(m)
	lockMgr.SetMetrics(m)
	ckpt.SetMetrics(m)
	rec.SetMetrics(m)

	return &Core{
		Config:      cfg,
		Store:       s,
		Log:         log,
		Queries:     queries,
		Metrics:     m,
		Locks:       lockMgr,
		Mailbox:     mailMgr,
		Checkpoints: ckpt,
		Recovery:    rec,
		Missions:    missions.New(s, log, queries),
		Sorties:     sorties.New(s, log, queries),
		Specialists: specialists.New(log, queries),
	}, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}

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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/locks"
	"github.com/fleettools/coordination-core/internal/mailbox"
	"github.com/fleettools/coordination-core/internal/missions"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/store"
)

type testEnv struct {
	engine   *Engine
	missions *missions.Manager
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	scfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "state.db")}
	scfg.SetDefaults()
	s, err := store.Open(scfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	registry := projections.NewRegistry()
	projections.RegisterMissionHandlers(registry)
	projections.RegisterSortieHandlers(registry)
	log := eventlog.New(s, registry)
	queries := projections.NewQueries(s.DB())

	lockCfg := config.LockConfig{}
	lockCfg.SetDefaults()
	lm := locks.New(s, log, registry, config.PathPolicyPreserve, lockCfg)
	mm := mailbox.New(s, log, registry)

	cpCfg := config.CheckpointConfig{}
	cpCfg.SetDefaults()
	engine, err := New(s, log, queries, lm, mm, cpCfg, filepath.Join(t.TempDir(), "checkpoints"))
	require.NoError(t, err)

	return testEnv{engine: engine, missions: missions.New(s, log, queries)}
}

func TestOnManualRequestRejectsUnknownMission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.engine.OnManualRequest(context.Background(), "msn-doesnotexist00", "api", 0, 0)
	require.True(t, corerr.Is(err, corerr.NotFound))
}

func TestPruneDeletesCheckpointRowAndFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	missionID, err := env.missions.Create(ctx, "prune me", "", projections.PriorityLow, nil, "")
	require.NoError(t, err)

	cp, err := env.engine.OnManualRequest(ctx, missionID, "api", 10, 1)
	require.NoError(t, err)

	require.NoError(t, env.engine.Prune(ctx, cp.ID))

	got, err := env.engine.GetById(ctx, cp.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestPruneUnknownCheckpointReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.engine.Prune(context.Background(), "chk-doesnotexist00")
	require.True(t, corerr.Is(err, corerr.NotFound))
}

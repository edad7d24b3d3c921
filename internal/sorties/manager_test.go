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

package sorties

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/projections"
	"github.com/fleettools/coordination-core/internal/store"
)

type testEnv struct {
	manager *Manager
	queries *projections.Queries
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "state.db")}
	cfg.SetDefaults()
	s, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	registry := projections.NewRegistry()
	projections.RegisterMissionHandlers(registry)
	projections.RegisterSortieHandlers(registry)

	log := eventlog.New(s, registry)
	queries := projections.NewQueries(s.DB())
	return testEnv{manager: New(s, log, queries), queries: queries}
}

func TestSortieCreateRejectsUnknownMission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.Create(context.Background(), "msn-doesnotexist00", "write the code", "", "", nil, nil, "")
	require.True(t, corerr.Is(err, corerr.NotFound))
}

func TestSortieLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", projections.PriorityLow, []string{"a.go"}, nil, "")
	require.NoError(t, err)

	require.NoError(t, env.manager.Assign(ctx, id, "spc-alice", ""))
	require.NoError(t, env.manager.Start(ctx, id, "spc-alice", ""))

	require.NoError(t, env.manager.Progress(ctx, id, 40, "halfway-ish", ""))
	require.NoError(t, env.manager.Progress(ctx, id, 90, "almost done", ""))

	require.NoError(t, env.manager.Complete(ctx, id, nil, ""))

	s, err := env.queries.GetSortie(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.SortieCompleted, s.Status)
	require.Equal(t, 90, s.Progress)
}

func TestStartRequiresAssignedSpecialist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, env.manager.Assign(ctx, id, "spc-alice", ""))

	err = env.manager.Start(ctx, id, "spc-bob", "")
	require.True(t, corerr.Is(err, corerr.OwnershipError))
}

func TestStartRequiresAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", "", nil, nil, "")
	require.NoError(t, err)

	err = env.manager.Start(ctx, id, "spc-alice", "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

func TestProgressRejectsDecrease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, env.manager.Assign(ctx, id, "spc-alice", ""))
	require.NoError(t, env.manager.Start(ctx, id, "spc-alice", ""))
	require.NoError(t, env.manager.Progress(ctx, id, 50, "", ""))

	err = env.manager.Progress(ctx, id, 20, "", "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

func TestBlockAndUnblock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, env.manager.Assign(ctx, id, "spc-alice", ""))
	require.NoError(t, env.manager.Start(ctx, id, "spc-alice", ""))

	require.NoError(t, env.manager.Block(ctx, id, "spc-bob", "waiting on review", ""))
	s, err := env.queries.GetSortie(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.SortieBlocked, s.Status)

	require.NoError(t, env.manager.Unblock(ctx, id, ""))
	s, err = env.queries.GetSortie(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.SortieInProgress, s.Status)
}

func TestCompleteRejectsFromPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", "", nil, nil, "")
	require.NoError(t, err)

	err = env.manager.Complete(ctx, id, nil, "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

func TestCancelRejectsTerminalSortie(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	id, err := env.manager.Create(ctx, "", "write the code", "", "", nil, nil, "")
	require.NoError(t, err)
	require.NoError(t, env.manager.Assign(ctx, id, "spc-alice", ""))
	require.NoError(t, env.manager.Start(ctx, id, "spc-alice", ""))
	require.NoError(t, env.manager.Complete(ctx, id, nil, ""))

	err = env.manager.Cancel(ctx, id, nil, "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

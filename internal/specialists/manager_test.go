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

package specialists

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

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "state.db")}
	cfg.SetDefaults()
	s, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	registry := projections.NewRegistry()
	projections.RegisterSpecialistHandlers(registry)

	log := eventlog.New(s, registry)
	queries := projections.NewQueries(s.DB())
	return New(log, queries)
}

func TestRegisterRejectsMissingName(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Register(context.Background(), "", "", nil, "")
	require.True(t, corerr.Is(err, corerr.Validation))
}

func TestRegisterMintsID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Register(ctx, "", "claude-worker", []string{"go", "python"}, "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	spc, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, spc)
	require.Equal(t, "claude-worker", spc.Name)
	require.Equal(t, projections.SpecialistActive, spc.Status)
}

func TestRegisterIsIdempotentForCallerSuppliedID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Register(ctx, "spc-fixed-id", "worker-a", []string{"go"}, "")
	require.NoError(t, err)
	require.Equal(t, "spc-fixed-id", id)

	_, err = m.Register(ctx, "spc-fixed-id", "worker-a", []string{"go", "rust"}, "")
	require.NoError(t, err)

	spc, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"go", "rust"}, spc.Capabilities)
}

func TestHeartbeatRejectsUnknownSpecialist(t *testing.T) {
	m := newTestManager(t)
	err := m.Heartbeat(context.Background(), "spc-doesnotexist0", projections.SpecialistIdle, "", "")
	require.True(t, corerr.Is(err, corerr.NotFound))
}

func TestHeartbeatUpdatesStatus(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Register(ctx, "", "worker-b", nil, "")
	require.NoError(t, err)

	require.NoError(t, m.Heartbeat(ctx, id, projections.SpecialistBusy, "srt-123", ""))

	spc, err := m.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.SpecialistBusy, spc.Status)
	require.Equal(t, "srt-123", spc.CurrentSortie)
}

func TestListReturnsRegistered(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Register(ctx, "", "worker-c", nil, "")
	require.NoError(t, err)
	_, err = m.Register(ctx, "", "worker-d", nil, "")
	require.NoError(t, err)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

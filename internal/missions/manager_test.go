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

package missions

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
	projections.RegisterMissionHandlers(registry)
	projections.RegisterSortieHandlers(registry)

	log := eventlog.New(s, registry)
	queries := projections.NewQueries(s.DB())
	return New(s, log, queries)
}

func TestCreateRejectsMissingTitle(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Create(context.Background(), "", "", "", nil, "")
	require.True(t, corerr.Is(err, corerr.Validation))
}

func TestLifecycleHappyPath(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "ship the thing", "", projections.PriorityHigh, nil, "")
	require.NoError(t, err)

	mis, err := m.queries.GetMission(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.MissionPending, mis.Status)

	require.NoError(t, m.Start(ctx, id, ""))
	mis, err = m.queries.GetMission(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.MissionInProgress, mis.Status)
	require.NotNil(t, mis.StartedAt)

	require.NoError(t, m.Complete(ctx, id, nil, ""))
	mis, err = m.queries.GetMission(ctx, id)
	require.NoError(t, err)
	require.Equal(t, projections.MissionCompleted, mis.Status)
	require.NotNil(t, mis.CompletedAt)
}

func TestStartRejectsNonPending(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "ship the thing", "", "", nil, "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, id, ""))

	err = m.Start(ctx, id, "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

func TestCompleteRejectsNonTerminalSorties(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "ship the thing", "", "", nil, "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, id, ""))

	_, err = m.log.Append(ctx, eventlog.AppendInput{
		EventType:  "sortie_created",
		StreamType: eventlog.StreamSortie,
		StreamID:   "srt-00000000deadbeef",
		Data:       projections.SortieCreatedPayload{MissionID: id, Title: "write the code"},
	})
	require.NoError(t, err)

	err = m.Complete(ctx, id, nil, "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

func TestCancelRejectsTerminalMission(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	id, err := m.Create(ctx, "ship the thing", "", "", nil, "")
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx, id, ""))
	require.NoError(t, m.Complete(ctx, id, nil, ""))

	err = m.Cancel(ctx, id, nil, "")
	require.True(t, corerr.Is(err, corerr.PreconditionFailed))
}

func TestGetForUpdateNotFound(t *testing.T) {
	m := newTestManager(t)
	err := m.Start(context.Background(), "msn-doesnotexist00", "")
	require.True(t, corerr.Is(err, corerr.NotFound))
}

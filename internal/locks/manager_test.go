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
	"path/filepath"
	"testing"
	"time"

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
	log := eventlog.New(s, registry)

	lockCfg := config.LockConfig{}
	lockCfg.SetDefaults()
	return New(s, log, registry, config.PathPolicyPreserve, lockCfg)
}

func TestAcquireRejectsConflict(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "a.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "a.go", "spc-bob", 5000, PurposeEdit, "")
	require.True(t, corerr.Is(err, corerr.Conflict))
}

func TestReleaseRejectsNonOwner(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "b.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)

	err = m.Release(ctx, l.ID, "spc-bob")
	require.True(t, corerr.Is(err, corerr.OwnershipError))
}

func TestReleaseThenReacquireSucceeds(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "c.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, l.ID, "spc-alice"))

	_, err = m.Acquire(ctx, "c.go", "spc-bob", 5000, PurposeEdit, "")
	require.NoError(t, err)
}

func TestExtendRequiresOwnership(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "d.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)

	_, err = m.Extend(ctx, l.ID, "spc-bob", 1000)
	require.True(t, corerr.Is(err, corerr.OwnershipError))

	extended, err := m.Extend(ctx, l.ID, "spc-alice", 1000)
	require.NoError(t, err)
	require.True(t, extended.ExpiresAt.After(l.ExpiresAt))
}

func TestForceReleaseIgnoresOwnership(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "e.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)
	require.NoError(t, m.ForceRelease(ctx, l.ID, "stale, specialist crashed"))

	_, err = m.Acquire(ctx, "e.go", "spc-bob", 5000, PurposeEdit, "")
	require.NoError(t, err)
}

func TestIsExpiredAtExactBoundaryIsTrue(t *testing.T) {
	now := time.Now().UTC()
	l := Lock{ExpiresAt: now}
	require.True(t, l.IsExpired(now), "a lock expiring at exactly now must be treated as expired (spec §8)")
	require.True(t, l.IsExpired(now.Add(time.Nanosecond)))
	require.False(t, l.IsExpired(now.Add(-time.Nanosecond)))
}

func TestReleaseExpiredReclaimsLockAtExactBoundary(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, "boundary.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)

	require.NoError(t, m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		expired, err := expiredActiveLocks(ctx, tx, l.ExpiresAt)
		require.NoError(t, err)
		require.Len(t, expired, 1, "a lock expiring at exactly the sweep time must be reclaimed")
		require.Equal(t, l.ID, expired[0].ID)
		return nil
	}))

	_, err = m.Acquire(ctx, "boundary.go", "spc-bob", 5000, PurposeEdit, "")
	require.True(t, corerr.Is(err, corerr.Conflict), "the original lock is still active until the sweeper appends lock_expired")
}

func TestListActiveReturnsOnlyActiveLocks(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	l1, err := m.Acquire(ctx, "f.go", "spc-alice", 5000, PurposeEdit, "")
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "g.go", "spc-bob", 5000, PurposeEdit, "")
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, l1.ID, "spc-alice"))

	active, err := m.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "g.go", active[0].File)
}

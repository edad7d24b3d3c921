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
	"log/slog"
	"time"

	"github.com/fleettools/coordination-core/internal/config"
	"github.com/fleettools/coordination-core/internal/corerr"
	"github.com/fleettools/coordination-core/internal/eventlog"
	"github.com/fleettools/coordination-core/internal/ids"
	"github.com/fleettools/coordination-core/internal/metrics"
	"github.com/fleettools/coordination-core/internal/store"
)

// Manager is the Lock Manager (spec §4.4). It owns the only write paths
// into the locks table, always combining a conflict pre-check with the
// corresponding event append inside one store.WriteTxn.
type Manager struct {
	store   *store.Store
	log     *eventlog.Log
	policy  config.PathPolicy
	cfg     config.LockConfig
	metrics *metrics.Metrics
}

// New registers the lock projection handlers into r and returns a Manager
// bound to store s and event log l.
func New(s *store.Store, l *eventlog.Log, r *Registry, policy config.PathPolicy, cfg config.LockConfig) *Manager {
	registerHandlers(r)
	return &Manager{store: s, log: l, policy: policy, cfg: cfg}
}

// SetMetrics attaches a Metrics sink; nil is valid.
func (m *Manager) SetMetrics(ms *metrics.Metrics) {
	m.metrics = ms
}

// Conflict is returned alongside a CONFLICT CoreError, carrying the lock
// that blocked the request (spec §4.4).
type Conflict struct {
	ExistingLock Lock `json:"existing_lock"`
}

// Acquire reserves normalized_path(file) for specialistID. If an active,
// unexpired lock already covers the path with exclusive semantics it
// returns a CONFLICT error wrapping the existing lock; an active lock past
// its expiry is opportunistically reclaimed first (spec §4.4).
func (m *Manager) Acquire(ctx context.Context, file, specialistID string, timeoutMS int, purpose Purpose, checksum string) (Lock, error) {
	normalized, err := normalize(file, m.policy)
	if err != nil {
		return Lock{}, err
	}
	if timeoutMS <= 0 {
		timeoutMS = m.cfg.DefaultTimeoutMS
	}

	var result Lock
	err = m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		l, err := acquireInTx(ctx, tx, m.log, file, normalized, specialistID, timeoutMS, purpose, checksum)
		if err != nil {
			return err
		}
		result = l
		return nil
	})
	m.metrics.RecordLockAcquire(string(purpose), corerr.Is(err, corerr.Conflict))
	if err != nil {
		return Lock{}, err
	}
	return result, nil
}

// acquireInTx is the shared conflict-check-and-append core of Acquire, also
// used by the Recovery Engine (via AcquireInTx) to reacquire snapshot locks
// inside its own restore transaction (spec §4.7).
func acquireInTx(ctx context.Context, tx *sql.Tx, log *eventlog.Log, file, normalized, specialistID string, timeoutMS int, purpose Purpose, checksum string) (Lock, error) {
	if specialistID == "" {
		return Lock{}, corerr.NewValidation("SPECIALIST_REQUIRED", "specialist_id is required")
	}
	switch purpose {
	case PurposeEdit, PurposeRead, PurposeDelete:
	default:
		return Lock{}, corerr.NewValidation("PURPOSE_INVALID", "purpose must be one of edit, read, delete")
	}

	now := time.Now().UTC()

	active, err := activeLocksForPath(ctx, tx, normalized)
	if err != nil {
		return Lock{}, corerr.NewTransient("LOCK_LOOKUP_FAILED", "failed to query active locks", err)
	}

	var conflicting *Lock
	for i := range active {
		l := active[i]
		if l.IsExpired(now) {
			if err := expireOne(ctx, tx, log, l); err != nil {
				return Lock{}, err
			}
			continue
		}
		if purpose.exclusive() || l.Purpose.exclusive() {
			conflicting = &l
			break
		}
	}
	if conflicting != nil {
		return Lock{}, corerr.NewConflict("LOCK_CONFLICT", "path is already reserved", Conflict{ExistingLock: *conflicting})
	}

	id := ids.New(ids.Lock)
	expiresAt := now.Add(time.Duration(timeoutMS) * time.Millisecond)

	ev, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
		EventType:  "lock_acquired",
		StreamType: eventlog.StreamCTK,
		StreamID:   id,
		Data: lockAcquiredPayload{
			File:           file,
			NormalizedPath: normalized,
			ReservedBy:     specialistID,
			ExpiresAt:      formatTime(expiresAt),
			Purpose:        purpose,
			Checksum:       checksum,
		},
	})
	if err != nil {
		return Lock{}, err
	}

	return Lock{
		ID:             id,
		File:           file,
		NormalizedPath: normalized,
		ReservedBy:     specialistID,
		ReservedAt:     ev.RecordedAt,
		ExpiresAt:      expiresAt,
		Purpose:        purpose,
		Checksum:       checksum,
		Status:         StatusActive,
	}, nil
}

// AcquireInTx runs Acquire's conflict-check-and-append inside a
// caller-owned transaction, so the Recovery Engine can combine several
// lock reacquisitions with other restore steps atomically (spec §4.7).
func (m *Manager) AcquireInTx(ctx context.Context, tx *sql.Tx, file, specialistID string, timeoutMS int, purpose Purpose, checksum string) (Lock, error) {
	normalized, err := normalize(file, m.policy)
	if err != nil {
		return Lock{}, err
	}
	if timeoutMS <= 0 {
		timeoutMS = m.cfg.DefaultTimeoutMS
	}
	return acquireInTx(ctx, tx, m.log, file, normalized, specialistID, timeoutMS, purpose, checksum)
}

// Release marks a lock released by its holder. Any other caller gets
// OWNERSHIP_ERROR (spec §4.4).
func (m *Manager) Release(ctx context.Context, lockID, specialistID string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		l, err := getForUpdate(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if l.ReservedBy != specialistID {
			return corerr.NewOwnershipError("NOT_LOCK_OWNER", "only the reserving specialist may release this lock")
		}
		if l.Status != StatusActive {
			return corerr.NewPrecondition("LOCK_NOT_ACTIVE", "lock is not active")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "lock_released",
			StreamType: eventlog.StreamCTK,
			StreamID:   lockID,
			Data:       lockReleasedPayload{ReleasedBy: specialistID},
		})
		return err
	})
}

// ForceRelease is an administrative override: it releases any lock
// regardless of owner, recording reason (spec §4.4).
func (m *Manager) ForceRelease(ctx context.Context, lockID, reason string) error {
	return m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		l, err := getForUpdate(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if l.Status != StatusActive {
			return corerr.NewPrecondition("LOCK_NOT_ACTIVE", "lock is not active")
		}
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "lock_released",
			StreamType: eventlog.StreamCTK,
			StreamID:   lockID,
			Data:       lockReleasedPayload{Reason: reason, Forced: true},
		})
		return err
	})
}

// Extend pushes out a lock's expiry. Only the owner may extend, and only
// while the lock is active and unexpired (spec §4.4).
func (m *Manager) Extend(ctx context.Context, lockID, specialistID string, additionalMS int) (Lock, error) {
	var result Lock
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		l, err := getForUpdate(ctx, tx, lockID)
		if err != nil {
			return err
		}
		if l.ReservedBy != specialistID {
			return corerr.NewOwnershipError("NOT_LOCK_OWNER", "only the reserving specialist may extend this lock")
		}
		if l.Status != StatusActive {
			return corerr.NewPrecondition("LOCK_NOT_ACTIVE", "lock is not active")
		}
		now := time.Now().UTC()
		if l.IsExpired(now) {
			return corerr.NewStale("STALE_LOCK", "lock has already expired")
		}
		newExpiry := l.ExpiresAt.Add(time.Duration(additionalMS) * time.Millisecond)
		_, err = m.log.AppendInTx(ctx, tx, eventlog.AppendInput{
			EventType:  "lock_extended",
			StreamType: eventlog.StreamCTK,
			StreamID:   lockID,
			Data:       lockExtendedPayload{ExpiresAt: formatTime(newExpiry)},
		})
		if err != nil {
			return err
		}
		l.ExpiresAt = newExpiry
		result = l
		return nil
	})
	if err != nil {
		return Lock{}, err
	}
	return result, nil
}

// ReleaseExpired is the sweeper: it scans for active locks past expiry and
// appends lock_expired for each, opportunistically reclaiming them ahead of
// the next conflicting Acquire (spec §4.4).
func (m *Manager) ReleaseExpired(ctx context.Context) (int, error) {
	var count int
	err := m.store.WriteTxn(ctx, func(tx *sql.Tx) error {
		expired, err := expiredActiveLocks(ctx, tx, time.Now().UTC())
		if err != nil {
			return err
		}
		for _, l := range expired {
			if err := expireOne(ctx, tx, m.log, l); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Info("lock sweeper reclaimed expired locks", "count", count)
	}
	return count, nil
}

func expireOne(ctx context.Context, tx *sql.Tx, log *eventlog.Log, l Lock) error {
	_, err := log.AppendInTx(ctx, tx, eventlog.AppendInput{
		EventType:  "lock_expired",
		StreamType: eventlog.StreamCTK,
		StreamID:   l.ID,
		Data:       lockExpiredPayload{},
	})
	return err
}

func getForUpdate(ctx context.Context, tx *sql.Tx, lockID string) (Lock, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM locks WHERE id = ?`, lockID)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return Lock{}, corerr.NewNotFound("LOCK_NOT_FOUND", "lock not found")
	}
	if err != nil {
		return Lock{}, corerr.NewTransient("LOCK_LOOKUP_FAILED", "failed to load lock", err)
	}
	return l, nil
}

func activeLocksForPath(ctx context.Context, tx *sql.Tx, normalizedPath string) ([]Lock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE normalized_path = ? AND status = ? ORDER BY reserved_at ASC`,
		normalizedPath, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// expiredActiveLocks scans for active locks whose TTL has elapsed as of now.
// The boundary is inclusive (spec §8), matching Lock.IsExpired: a lock
// expiring at exactly now is reclaimable.
func expiredActiveLocks(ctx context.Context, tx *sql.Tx, now time.Time) ([]Lock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE status = ? AND expires_at <= ?`,
		StatusActive, formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- read-only queries (spec §4.4) ---

func (m *Manager) GetActive(ctx context.Context, lockID string) (*Lock, error) {
	row := m.store.DB().QueryRowContext(ctx, `SELECT `+lockColumns+` FROM locks WHERE id = ? AND status = ?`, lockID, StatusActive)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (m *Manager) GetByFile(ctx context.Context, file string) ([]Lock, error) {
	normalized, err := normalize(file, m.policy)
	if err != nil {
		return nil, err
	}
	rows, err := m.store.DB().QueryContext(ctx, `SELECT `+lockColumns+` FROM locks WHERE normalized_path = ? ORDER BY reserved_at ASC`, normalized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (m *Manager) GetBySpecialist(ctx context.Context, specialistID string) ([]Lock, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE reserved_by = ? AND status = ? ORDER BY reserved_at ASC`, specialistID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetBySpecialistInTx is GetBySpecialist scoped to an already-open
// transaction. m.store pins its pool to a single connection, so a query
// against m.store.DB() while that connection is checked out by a
// transaction blocks forever; callers inside a WriteTxn/ReadTxn/
// WriteTxnDryRun closure must use this instead (spec §5).
func (m *Manager) GetBySpecialistInTx(ctx context.Context, tx *sql.Tx, specialistID string) ([]Lock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE reserved_by = ? AND status = ? ORDER BY reserved_at ASC`, specialistID, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// ListActive returns every currently active lock, regardless of file or
// specialist (spec §6.1 `GET /locks?active=1`).
func (m *Manager) ListActive(ctx context.Context) ([]Lock, error) {
	rows, err := m.store.DB().QueryContext(ctx,
		`SELECT `+lockColumns+` FROM locks WHERE status = ? ORDER BY reserved_at ASC`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (m *Manager) GetExpired(ctx context.Context) ([]Lock, error) {
	var out []Lock
	err := m.store.ReadTxn(ctx, func(tx *sql.Tx) error {
		locks, err := expiredActiveLocks(ctx, tx, time.Now().UTC())
		if err != nil {
			return err
		}
		out = locks
		return nil
	})
	return out, err
}

func (m *Manager) IsLocked(ctx context.Context, file string) (bool, error) {
	locks, err := m.GetByFile(ctx, file)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	for _, l := range locks {
		if l.Status == StatusActive && !l.IsExpired(now) {
			return true, nil
		}
	}
	return false, nil
}

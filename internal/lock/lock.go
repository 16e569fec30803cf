package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

// DefaultTimeout is how long a lock is honoured before it counts as abandoned.
const DefaultTimeout = time.Hour

const maxReleaseAttempts = 3

// Acquire returns Locked(now) when state is unlocked or its holder has been
// gone for longer than timeout. Otherwise it fails with retry.ErrLocked.
func Acquire(state model.LockState, now time.Time, timeout time.Duration) (model.LockState, error) {
	if state.Locked && now.Sub(state.LockedAt) <= timeout {
		return state, fmt.Errorf("%w since %s", retry.ErrLocked, state.LockedAt.UTC().Format(time.RFC3339))
	}
	return model.LockState{Locked: true, LockedAt: now}, nil
}

// Release returns the state after an unlock attempt. held is the state the
// caller acquired, or the zero value for a caller that holds nothing. A
// holder always unlocks; anyone may clear a stale lock; otherwise the state
// is left as is.
func Release(state, held model.LockState, now time.Time, timeout time.Duration) model.LockState {
	if !state.Locked {
		return state
	}
	if held.Locked && state.Equal(held) {
		return model.LockState{}
	}
	if now.Sub(state.LockedAt) > timeout {
		return model.LockState{}
	}
	return state
}

type Option func(*Manager)

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.nowFn = now
		}
	}
}

// Manager applies the lock transitions to persisted state with
// compare-and-swap, so two runs racing for one key cannot both win.
type Manager struct {
	repo    store.LockRepository
	timeout time.Duration
	nowFn   func() time.Time
	logger  *slog.Logger
}

func NewManager(repo store.LockRepository, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		repo:    repo,
		timeout: DefaultTimeout,
		nowFn:   time.Now,
		logger:  logger.With("component", "lock"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// now is truncated to microseconds so lock timestamps survive a round trip
// through every store backend unchanged.
func (m *Manager) now() time.Time {
	return m.nowFn().UTC().Truncate(time.Microsecond)
}

// TryLock acquires the lock of key or fails fast with retry.ErrLocked.
func (m *Manager) TryLock(ctx context.Context, key int64) (*Guard, error) {
	cur, err := m.repo.GetLock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get lock %d: %w", key, err)
	}
	next, err := Acquire(cur, m.now(), m.timeout)
	if err != nil {
		return nil, fmt.Errorf("strategy %d: %w", key, err)
	}
	swapped, err := m.repo.CompareAndSwapLock(ctx, key, cur, next)
	if err != nil {
		return nil, fmt.Errorf("swap lock %d: %w", key, err)
	}
	if !swapped {
		return nil, fmt.Errorf("strategy %d: %w by a concurrent run", key, retry.ErrLocked)
	}
	if cur.Locked {
		m.logger.Warn("recovered stale lock", "strategy", key, "locked_at", cur.LockedAt, "age", next.LockedAt.Sub(cur.LockedAt))
	}
	return &Guard{manager: m, key: key, held: next}, nil
}

// TryUnlock releases the lock of key on behalf of held (zero for a caller
// that holds nothing). A lock held by someone else is cleared only when stale.
func (m *Manager) TryUnlock(ctx context.Context, key int64, held model.LockState) error {
	for attempt := 0; attempt < maxReleaseAttempts; attempt++ {
		cur, err := m.repo.GetLock(ctx, key)
		if err != nil {
			return fmt.Errorf("get lock %d: %w", key, err)
		}
		next := Release(cur, held, m.now(), m.timeout)
		if next.Equal(cur) {
			return nil
		}
		swapped, err := m.repo.CompareAndSwapLock(ctx, key, cur, next)
		if err != nil {
			return fmt.Errorf("swap lock %d: %w", key, err)
		}
		if swapped {
			if !held.Locked || !cur.Equal(held) {
				m.logger.Warn("cleared stale lock", "strategy", key, "locked_at", cur.LockedAt)
			}
			return nil
		}
	}
	return fmt.Errorf("release lock %d: state kept changing", key)
}

// Guard is the handle of an acquired lock. Release is idempotent and meant
// to be deferred right after TryLock.
type Guard struct {
	manager *Manager
	key     int64
	held    model.LockState
	once    sync.Once
	err     error
}

// Key returns the strategy key the guard holds.
func (g *Guard) Key() int64 { return g.key }

// AcquiredAt returns when the lock was taken.
func (g *Guard) AcquiredAt() time.Time { return g.held.LockedAt }

// Release unlocks even when ctx is already cancelled.
func (g *Guard) Release(ctx context.Context) error {
	g.once.Do(func() {
		g.err = g.manager.TryUnlock(context.WithoutCancel(ctx), g.key, g.held)
		if g.err != nil {
			g.manager.logger.Error("release lock failed", "strategy", g.key, "error", g.err)
		}
	})
	return g.err
}

package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
	"github.com/liquity/bold-ir-management-sub000/internal/pipeline/retry"
	storemocks "github.com/liquity/bold-ir-management-sub000/internal/store/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type memLocks struct {
	mu    sync.Mutex
	locks map[int64]model.LockState
	swaps int
}

func newMemLocks() *memLocks { return &memLocks{locks: map[int64]model.LockState{}} }

func (m *memLocks) GetLock(_ context.Context, key int64) (model.LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locks[key], nil
}

func (m *memLocks) CompareAndSwapLock(_ context.Context, key int64, expected, next model.LockState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.locks[key].Equal(expected) {
		return false, nil
	}
	m.locks[key] = next
	m.swaps++
	return true, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestAcquire_TimeoutEdge(t *testing.T) {
	timeout := time.Hour
	held := model.LockState{Locked: true, LockedAt: t0}

	tests := []struct {
		name    string
		gap     time.Duration
		wantErr bool
	}{
		{"fresh", time.Minute, true},
		{"exactly at timeout", timeout, true},
		{"just past timeout", timeout + time.Nanosecond, false},
		{"long abandoned", 5 * timeout, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := t0.Add(tt.gap)
			next, err := Acquire(held, now, timeout)
			if tt.wantErr {
				assert.ErrorIs(t, err, retry.ErrLocked)
				assert.Equal(t, held, next)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.LockState{Locked: true, LockedAt: now}, next)
		})
	}
}

func TestAcquire_Unlocked(t *testing.T) {
	next, err := Acquire(model.LockState{}, t0, time.Hour)
	require.NoError(t, err)
	assert.True(t, next.Locked)
	assert.Equal(t, t0, next.LockedAt)
}

func TestRelease(t *testing.T) {
	timeout := time.Hour
	held := model.LockState{Locked: true, LockedAt: t0}
	other := model.LockState{Locked: true, LockedAt: t0.Add(time.Second)}

	assert.Equal(t, model.LockState{}, Release(held, held, t0.Add(time.Minute), timeout), "holder unlocks")
	assert.Equal(t, held, Release(held, model.LockState{}, t0.Add(time.Minute), timeout), "non-holder is a no-op")
	assert.Equal(t, held, Release(held, other, t0.Add(time.Minute), timeout), "different holder is a no-op")
	assert.Equal(t, model.LockState{}, Release(held, model.LockState{}, t0.Add(timeout+time.Second), timeout), "stale lock cleared")
	assert.Equal(t, model.LockState{}, Release(model.LockState{}, held, t0, timeout))
}

func TestManager_LockRelease(t *testing.T) {
	repo := newMemLocks()
	c := &clock{now: t0}
	m := NewManager(repo, nil, WithClock(c.Now))
	ctx := context.Background()

	g, err := m.TryLock(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), g.Key())
	assert.Equal(t, t0, g.AcquiredAt())

	_, err = m.TryLock(ctx, 7)
	assert.ErrorIs(t, err, retry.ErrLocked)

	other, err := m.TryLock(ctx, 8)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other.Release(ctx))

	require.NoError(t, g.Release(ctx))
	require.NoError(t, g.Release(ctx), "release is idempotent")

	state, _ := repo.GetLock(ctx, 7)
	assert.False(t, state.Locked)
}

func TestManager_StaleLockRecovered(t *testing.T) {
	repo := newMemLocks()
	repo.locks[1] = model.LockState{Locked: true, LockedAt: t0}
	c := &clock{now: t0.Add(30 * time.Minute)}
	m := NewManager(repo, nil, WithClock(c.Now), WithTimeout(time.Hour))
	ctx := context.Background()

	_, err := m.TryLock(ctx, 1)
	assert.ErrorIs(t, err, retry.ErrLocked)

	c.now = t0.Add(61 * time.Minute)
	g, err := m.TryLock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, c.now, g.AcquiredAt())
}

func TestManager_AbandonedHolderCannotUnlockNewHolder(t *testing.T) {
	repo := newMemLocks()
	c := &clock{now: t0}
	m := NewManager(repo, nil, WithClock(c.Now), WithTimeout(time.Hour))
	ctx := context.Background()

	first, err := m.TryLock(ctx, 1)
	require.NoError(t, err)

	c.now = t0.Add(2 * time.Hour)
	second, err := m.TryLock(ctx, 1)
	require.NoError(t, err)

	c.now = c.now.Add(time.Minute)
	require.NoError(t, first.Release(ctx))
	state, _ := repo.GetLock(ctx, 1)
	assert.True(t, state.Locked, "the late first run must not release the second run's lock")

	require.NoError(t, second.Release(ctx))
	state, _ = repo.GetLock(ctx, 1)
	assert.False(t, state.Locked)
}

func TestManager_TryUnlockByNonHolder(t *testing.T) {
	repo := newMemLocks()
	repo.locks[3] = model.LockState{Locked: true, LockedAt: t0}
	c := &clock{now: t0.Add(10 * time.Minute)}
	m := NewManager(repo, nil, WithClock(c.Now))
	ctx := context.Background()

	require.NoError(t, m.TryUnlock(ctx, 3, model.LockState{}))
	state, _ := repo.GetLock(ctx, 3)
	assert.True(t, state.Locked)
	assert.Zero(t, repo.swaps, "no write for a no-op")

	c.now = t0.Add(2 * time.Hour)
	require.NoError(t, m.TryUnlock(ctx, 3, model.LockState{}))
	state, _ = repo.GetLock(ctx, 3)
	assert.False(t, state.Locked)
}

func TestManager_LostRaceIsLocked(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockLockRepository(ctrl)
	m := NewManager(repo, nil, WithClock(func() time.Time { return t0 }))

	repo.EXPECT().GetLock(gomock.Any(), int64(4)).Return(model.LockState{}, nil)
	repo.EXPECT().CompareAndSwapLock(gomock.Any(), int64(4), model.LockState{}, model.LockState{Locked: true, LockedAt: t0}).Return(false, nil)

	_, err := m.TryLock(context.Background(), 4)
	assert.ErrorIs(t, err, retry.ErrLocked)
}

func TestGuard_ReleaseIgnoresCancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockLockRepository(ctrl)
	m := NewManager(repo, nil, WithClock(func() time.Time { return t0 }))
	held := model.LockState{Locked: true, LockedAt: t0}

	repo.EXPECT().GetLock(gomock.Any(), int64(5)).Return(model.LockState{}, nil)
	repo.EXPECT().CompareAndSwapLock(gomock.Any(), int64(5), model.LockState{}, held).Return(true, nil)
	g, err := m.TryLock(context.Background(), 5)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo.EXPECT().GetLock(gomock.Any(), int64(5)).DoAndReturn(func(ctx context.Context, _ int64) (model.LockState, error) {
		assert.NoError(t, ctx.Err())
		return held, nil
	})
	repo.EXPECT().CompareAndSwapLock(gomock.Any(), int64(5), held, model.LockState{}).Return(true, nil)
	require.NoError(t, g.Release(ctx))
}

func TestGuard_ReleaseReportsStoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := storemocks.NewMockLockRepository(ctrl)
	m := NewManager(repo, nil, WithClock(func() time.Time { return t0 }))
	g := &Guard{manager: m, key: 9, held: model.LockState{Locked: true, LockedAt: t0}}

	repo.EXPECT().GetLock(gomock.Any(), int64(9)).Return(model.LockState{}, errors.New("db down")).Times(1)
	assert.Error(t, g.Release(context.Background()))
	assert.Error(t, g.Release(context.Background()), "error is remembered")
}

package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liquity/bold-ir-management-sub000/internal/domain/model"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . StrategyRepository,LockRepository,Journal

var (
	// ErrNotFound is returned when no strategy exists for a key.
	ErrNotFound = errors.New("strategy not found")
	// ErrAlreadyExists is returned when registering a key twice.
	ErrAlreadyExists = errors.New("strategy already exists")
	// ErrAlreadyBound is returned when the batch manager was already set.
	ErrAlreadyBound = errors.New("batch manager already bound")
)

// StrategyRepository stores strategy configuration and runtime state.
// Every method is atomic for a single key.
type StrategyRepository interface {
	ListKeys(ctx context.Context) ([]int64, error)
	Create(ctx context.Context, cfg model.StrategyConfig) error
	Get(ctx context.Context, key int64) (*model.Strategy, error)
	BindBatchManager(ctx context.Context, key int64, addr common.Address) error
	SaveRuntime(ctx context.Context, key int64, state model.StrategyRuntimeState) error
}

// LockRepository stores the per-strategy lock.
type LockRepository interface {
	GetLock(ctx context.Context, key int64) (model.LockState, error)
	// CompareAndSwapLock replaces the lock with next only if it still equals
	// expected. It reports whether the swap happened.
	CompareAndSwapLock(ctx context.Context, key int64, expected, next model.LockState) (bool, error)
}

// Journal is a bounded, append-only narrative log. Oldest entries are
// evicted first and oversized entries are truncated.
type Journal interface {
	Append(ctx context.Context, entry string) error
}

// JournalReader lists journal entries newest first, each prefixed with its
// RFC 3339 timestamp. A limit of zero or less returns every entry.
type JournalReader interface {
	Entries(ctx context.Context, limit int) ([]string, error)
}

const (
	// JournalCapacity is the number of entries a journal retains.
	JournalCapacity = 300
	// JournalMaxEntryBytes is the longest entry a journal keeps.
	JournalMaxEntryBytes = 1024
)

// TruncateEntry cuts entry to JournalMaxEntryBytes without splitting a
// UTF-8 sequence.
func TruncateEntry(entry string) string {
	if len(entry) <= JournalMaxEntryBytes {
		return entry
	}
	cut := JournalMaxEntryBytes
	for cut > 0 && !isRuneStart(entry[cut]) {
		cut--
	}
	return entry[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Package memjournal is an in-process store.Journal used when no Redis or
// Postgres journal is configured.
package memjournal

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

type Journal struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = newest
	nowFn    func() time.Time
}

var (
	_ store.Journal       = (*Journal)(nil)
	_ store.JournalReader = (*Journal)(nil)
)

// New returns a journal holding at most capacity entries; non-positive
// capacity means store.JournalCapacity.
func New(capacity int) *Journal {
	if capacity <= 0 {
		capacity = store.JournalCapacity
	}
	return &Journal{capacity: capacity, order: list.New(), nowFn: time.Now}
}

func (j *Journal) Append(_ context.Context, entry string) error {
	line := store.TruncateEntry(j.nowFn().UTC().Format(time.RFC3339) + " " + entry)

	j.mu.Lock()
	defer j.mu.Unlock()
	j.order.PushFront(line)
	for j.order.Len() > j.capacity {
		j.order.Remove(j.order.Back())
	}
	return nil
}

// Entries returns up to limit entries, newest first.
func (j *Journal) Entries(_ context.Context, limit int) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if limit <= 0 || limit > j.order.Len() {
		limit = j.order.Len()
	}
	out := make([]string, 0, limit)
	for e := j.order.Front(); e != nil && len(out) < limit; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out, nil
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.order.Len()
}

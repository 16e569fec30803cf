package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/store"
	"github.com/redis/go-redis/v9"
)

const defaultJournalKey = "ratekeeper:journal"

// Journal is a capped Redis list, newest entry first.
type Journal struct {
	client   redis.UniversalClient
	key      string
	capacity int64
	nowFn    func() time.Time
}

var (
	_ store.Journal       = (*Journal)(nil)
	_ store.JournalReader = (*Journal)(nil)
)

// Connect parses url, pings the server and returns a client.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewJournal stores entries under key (a default is used when empty).
func NewJournal(client redis.UniversalClient, key string) *Journal {
	if key == "" {
		key = defaultJournalKey
	}
	return &Journal{
		client:   client,
		key:      key,
		capacity: store.JournalCapacity,
		nowFn:    time.Now,
	}
}

// Append pushes and trims in one MULTI so the list never exceeds capacity.
func (j *Journal) Append(ctx context.Context, entry string) error {
	line := store.TruncateEntry(j.nowFn().UTC().Format(time.RFC3339) + " " + entry)
	_, err := j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, j.key, line)
		pipe.LTrim(ctx, j.key, 0, j.capacity-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Entries returns up to limit entries, newest first.
func (j *Journal) Entries(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || int64(limit) > j.capacity {
		limit = int(j.capacity)
	}
	out, err := j.client.LRange(ctx, j.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/liquity/bold-ir-management-sub000/internal/store"
)

// Journal keeps the newest store.JournalCapacity narrative entries in
// journal_entries.
type Journal struct {
	db       *sql.DB
	capacity int
}

func NewJournal(db *DB) *Journal {
	return &Journal{db: db.DB, capacity: store.JournalCapacity}
}

var (
	_ store.Journal       = (*Journal)(nil)
	_ store.JournalReader = (*Journal)(nil)
)

func (j *Journal) Append(ctx context.Context, entry string) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO journal_entries (entry) VALUES ($1)`, store.TruncateEntry(entry)); err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM journal_entries
		WHERE id NOT IN (SELECT id FROM journal_entries ORDER BY id DESC LIMIT $1)`, j.capacity); err != nil {
		return fmt.Errorf("evict journal entries: %w", err)
	}
	return tx.Commit()
}

// Entries returns up to limit entries, newest first.
func (j *Journal) Entries(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > j.capacity {
		limit = j.capacity
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := j.db.QueryContext(ctx, `
		SELECT created_at, entry FROM journal_entries
		ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0, limit)
	for rows.Next() {
		var (
			at    time.Time
			entry string
		)
		if err := rows.Scan(&at, &entry); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		out = append(out, at.UTC().Format(time.RFC3339)+" "+entry)
	}
	return out, rows.Err()
}

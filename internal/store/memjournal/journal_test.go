package memjournal

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/liquity/bold-ir-management-sub000/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_CapacityEviction(t *testing.T) {
	j := New(3)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Append(ctx, fmt.Sprintf("e%d", i)))
	}
	assert.Equal(t, 3, j.Len())

	entries, err := j.Entries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, strings.HasSuffix(entries[0], " e5"))
	assert.True(t, strings.HasSuffix(entries[2], " e3"))
}

func TestJournal_Defaults(t *testing.T) {
	j := New(0)
	assert.Equal(t, store.JournalCapacity, j.capacity)

	require.NoError(t, j.Append(context.Background(), strings.Repeat("x", 5000)))
	entries, _ := j.Entries(context.Background(), 1)
	assert.Len(t, entries[0], store.JournalMaxEntryBytes)
}

func TestTruncateEntry(t *testing.T) {
	assert.Equal(t, "short", store.TruncateEntry("short"))

	// 1023 ASCII bytes followed by a 2-byte rune that would straddle the limit
	s := strings.Repeat("a", store.JournalMaxEntryBytes-1) + "é"
	got := store.TruncateEntry(s)
	assert.Len(t, got, store.JournalMaxEntryBytes-1)
}

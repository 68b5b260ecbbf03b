package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *BBoltStore {
	t.Helper()
	store, err := NewBBoltStore(filepath.Join(t.TempDir(), "history", "threads.db"))
	require.NoError(t, err)
	return store
}

func record(id string, updated time.Time, turns int) ThreadRecord {
	r := ThreadRecord{
		ID:        id,
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
	}
	for i := 0; i < turns; i++ {
		r.Turns = append(r.Turns, Turn{
			Timestamp: updated,
			User:      "how do I deploy a function app?",
			Assistant: "Use az functionapp create.",
		})
	}
	return r
}

func TestSaveAndLoad(t *testing.T) {
	store := newStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, store.Save(record("thread_20260830_101500_000001", now, 2)))

	loaded, err := store.Load("thread_20260830_101500_000001")
	require.NoError(t, err)
	assert.Equal(t, "thread_20260830_101500_000001", loaded.ID)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, "Use az functionapp create.", loaded.Turns[0].Assistant)
}

func TestSaveRequiresID(t *testing.T) {
	assert.Error(t, newStore(t).Save(ThreadRecord{}))
}

func TestLoadMissing(t *testing.T) {
	_, err := newStore(t).Load("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOrdering(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC()

	require.NoError(t, store.Save(record("older", base.Add(-time.Minute), 1)))
	require.NoError(t, store.Save(record("newer", base, 3)))

	summaries, err := store.List()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "newer", summaries[0].ID)
	assert.Equal(t, 3, summaries[0].TurnCount)
	assert.Equal(t, "older", summaries[1].ID)
}

func TestSaveOverwrites(t *testing.T) {
	store := newStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.Save(record("t1", now, 1)))
	require.NoError(t, store.Save(record("t1", now.Add(time.Minute), 2)))

	loaded, err := store.Load("t1")
	require.NoError(t, err)
	assert.Len(t, loaded.Turns, 2)

	summaries, err := store.List()
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 2, summaries[0].TurnCount)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(record("t1", time.Now().UTC(), 1)))

	require.NoError(t, store.Delete("t1"))
	_, err := store.Load("t1")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Absent threads delete cleanly.
	require.NoError(t, store.Delete("t1"))
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, maxCount int) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.json")
	s, err := NewFileStore(path, maxCount)
	require.NoError(t, err)
	return s, path
}

func TestNewFileStoreCreatesArtifact(t *testing.T) {
	_, path := newTestStore(t, 10)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var seq []Message
	require.NoError(t, json.Unmarshal(raw, &seq))
	assert.Empty(t, seq)
}

func TestNewFileStoreCorruptResetsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array`), 0600))

	s, err := NewFileStore(path, 10)
	require.NoError(t, err)
	assert.Empty(t, s.Snapshot())

	// The artifact is rewritten as a valid empty sequence.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var seq []Message
	assert.NoError(t, json.Unmarshal(raw, &seq))
	assert.Empty(t, seq)
}

func TestAppendBoundEvictsOldestFirst(t *testing.T) {
	const bound = 5
	s, _ := newTestStore(t, bound)

	for i := 0; i < bound*3; i++ {
		_, err := s.Append(Message{Id: fmt.Sprintf("m%d", i), UserId: "u1", Text: "x"})
		require.NoError(t, err)

		snap := s.Snapshot()
		assert.LessOrEqual(t, len(snap), bound)
	}

	snap := s.Snapshot()
	require.Len(t, snap, bound)
	// Survivors are exactly the most recent `bound` in original order.
	for i, m := range snap {
		assert.Equal(t, fmt.Sprintf("m%d", bound*2+i), m.Id)
	}
}

func TestAppendAtBoundKeepsExactBound(t *testing.T) {
	const bound = 100
	s, _ := newTestStore(t, bound)

	for i := 0; i < bound; i++ {
		_, err := s.Append(Message{Id: fmt.Sprintf("m%d", i), UserId: "u1", Text: "x"})
		require.NoError(t, err)
	}
	require.Len(t, s.Snapshot(), bound)

	_, err := s.Append(Message{Id: "one-more", UserId: "u1", Text: "x"})
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Len(t, snap, bound)
	assert.Equal(t, "m1", snap[0].Id, "oldest original entry is gone")
	assert.Equal(t, "one-more", snap[bound-1].Id)
}

func TestAppendTimeMonotonic(t *testing.T) {
	s, _ := newTestStore(t, 100)

	var last int64
	for i := 0; i < 50; i++ {
		m, err := s.Append(Message{Id: fmt.Sprintf("m%d", i), UserId: "u1", Text: "x"})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, m.Time, last)
		last = m.Time
	}
}

func TestRemoveByIdKeepsOrder(t *testing.T) {
	s, _ := newTestStore(t, 10)

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.Append(Message{Id: id, UserId: "u1", Text: "x"})
		require.NoError(t, err)
	}

	removed, err := s.RemoveById("b")
	require.NoError(t, err)
	assert.True(t, removed)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].Id)
	assert.Equal(t, "c", snap[1].Id)
	assert.Equal(t, "d", snap[2].Id)

	removed, err = s.RemoveById("nope")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestRemoveByIdRemovesAllMatches(t *testing.T) {
	s, _ := newTestStore(t, 10)

	// Colliding ids are not deduplicated on append; delete removes all.
	for i := 0; i < 3; i++ {
		_, err := s.Append(Message{Id: "dup", UserId: "u1", Text: "x"})
		require.NoError(t, err)
	}
	_, err := s.Append(Message{Id: "keep", UserId: "u1", Text: "x"})
	require.NoError(t, err)

	removed, err := s.RemoveById("dup")
	require.NoError(t, err)
	assert.True(t, removed)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "keep", snap[0].Id)
}

func TestClearPersistsAcrossReload(t *testing.T) {
	s, path := newTestStore(t, 10)

	_, err := s.Append(Message{Id: "m1", UserId: "u1", Text: "x"})
	require.NoError(t, err)

	require.NoError(t, s.Clear())
	assert.Empty(t, s.Snapshot())

	// A fresh load from the persisted artifact is also empty.
	reloaded, err := NewFileStore(path, 10)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Snapshot())
}

func TestPersistenceRoundTrip(t *testing.T) {
	s, path := newTestStore(t, 10)

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Append(Message{Id: id, UserId: "u1", Name: "Alice", Text: "hi " + id})
		require.NoError(t, err)
	}

	reloaded, err := NewFileStore(path, 10)
	require.NoError(t, err)

	assert.Equal(t, s.Snapshot(), reloaded.Snapshot())
}

func TestConcurrentAppendsNoLostUpdate(t *testing.T) {
	const writers = 8
	const perWriter = 25

	s, _ := newTestStore(t, writers*perWriter)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Append(Message{
					Id:     fmt.Sprintf("w%d-m%d", w, i),
					UserId: fmt.Sprintf("u%d", w),
					Text:   "x",
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	assert.Len(t, snap, writers*perWriter)

	// Every writer's messages survive in their original relative order.
	seen := make(map[string]int)
	for i, m := range snap {
		seen[m.Id] = i
	}
	assert.Len(t, seen, writers*perWriter)
	for w := 0; w < writers; w++ {
		last := -1
		for i := 0; i < perWriter; i++ {
			pos, ok := seen[fmt.Sprintf("w%d-m%d", w, i)]
			require.True(t, ok)
			assert.Greater(t, pos, last)
			last = pos
		}
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	s, path := newTestStore(t, 10)

	// Replace the artifact's directory entry with a directory of the same
	// name so the rename step fails.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0700))

	_, err := s.Append(Message{Id: "m1", UserId: "u1", Text: "x"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// In-memory state is not rolled back.
	assert.Len(t, s.Snapshot(), 1)
}

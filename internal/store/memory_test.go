package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/serroba/shortlink/internal/shortlink"
	"github.com/serroba/shortlink/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLink(code string) *shortlink.ShortLink {
	return &shortlink.ShortLink{
		Code:        code,
		Destination: "https://example.com",
		CreatedAt:   time.Now(),
		Active:      true,
	}
}

func TestMemoryStore_Insert(t *testing.T) {
	t.Run("inserts link successfully", func(t *testing.T) {
		s := store.NewMemoryStore()

		err := s.Insert(context.Background(), newLink("abc1234"))

		require.NoError(t, err)
	})

	t.Run("returns conflict for duplicate code", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))

		err := s.Insert(context.Background(), newLink("abc1234"))

		assert.ErrorIs(t, err, shortlink.ErrCodeConflict)
	})

	t.Run("stores a copy, not the caller's pointer", func(t *testing.T) {
		s := store.NewMemoryStore()
		link := newLink("abc1234")
		require.NoError(t, s.Insert(context.Background(), link))

		link.Destination = "https://mutated.example.com"

		got, err := s.FindByCode(context.Background(), "abc1234")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.Destination)
	})
}

func TestMemoryStore_FindByCode(t *testing.T) {
	t.Run("returns the link when found", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))

		got, err := s.FindByCode(context.Background(), "abc1234")

		require.NoError(t, err)
		assert.Equal(t, "https://example.com", got.Destination)
	})

	t.Run("returns ErrNotFound for unknown code", func(t *testing.T) {
		s := store.NewMemoryStore()

		got, err := s.FindByCode(context.Background(), "zzzzzzz")

		assert.Nil(t, got)
		assert.ErrorIs(t, err, shortlink.ErrNotFound)
	})
}

func TestMemoryStore_IncrementUsage(t *testing.T) {
	t.Run("accumulates deltas", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))

		require.NoError(t, s.IncrementUsage(context.Background(), "abc1234", 2))
		require.NoError(t, s.IncrementUsage(context.Background(), "abc1234", 3))

		got, err := s.FindByCode(context.Background(), "abc1234")
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.UsageCount)
	})

	t.Run("rejects non-positive delta", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))

		assert.Error(t, s.IncrementUsage(context.Background(), "abc1234", 0))
		assert.Error(t, s.IncrementUsage(context.Background(), "abc1234", -1))
	})

	t.Run("returns ErrNotFound for unknown code", func(t *testing.T) {
		s := store.NewMemoryStore()

		err := s.IncrementUsage(context.Background(), "zzzzzzz", 1)

		assert.ErrorIs(t, err, shortlink.ErrNotFound)
	})

	t.Run("counter is monotonic under concurrent increments", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))

		var wg sync.WaitGroup

		for range 100 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_ = s.IncrementUsage(context.Background(), "abc1234", 1)
			}()
		}

		wg.Wait()

		got, err := s.FindByCode(context.Background(), "abc1234")
		require.NoError(t, err)
		assert.Equal(t, int64(100), got.UsageCount)
	})
}

func TestMemoryStore_SetActive(t *testing.T) {
	t.Run("deactivates a link", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))

		require.NoError(t, s.SetActive(context.Background(), "abc1234", false))

		got, err := s.FindByCode(context.Background(), "abc1234")
		require.NoError(t, err)
		assert.False(t, got.Active)
	})

	t.Run("deactivation is one-way", func(t *testing.T) {
		s := store.NewMemoryStore()
		require.NoError(t, s.Insert(context.Background(), newLink("abc1234")))
		require.NoError(t, s.SetActive(context.Background(), "abc1234", false))

		require.NoError(t, s.SetActive(context.Background(), "abc1234", true))

		got, err := s.FindByCode(context.Background(), "abc1234")
		require.NoError(t, err)
		assert.False(t, got.Active, "a deactivated link must stay inactive")
	})

	t.Run("returns ErrNotFound for unknown code", func(t *testing.T) {
		s := store.NewMemoryStore()

		err := s.SetActive(context.Background(), "zzzzzzz", false)

		assert.ErrorIs(t, err, shortlink.ErrNotFound)
	})
}

package winctl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEnumerator counts calls and serves a scripted window list
type fakeEnumerator struct {
	windows []Window
	err     error
	calls   int
}

func (f *fakeEnumerator) enum() ([]Window, error) {
	f.calls++
	return f.windows, f.err
}

func TestCache_Resolve(t *testing.T) {
	t.Run("exact title match wins over substring match", func(t *testing.T) {
		// Given two windows where one title contains the other
		enum := &fakeEnumerator{windows: []Window{
			{Handle: 101, Title: "Legend of Merchant - Settings"},
			{Handle: 102, Title: "Legend of Merchant"},
		}}
		cache := NewCache(enum.enum)

		// When resolving the shorter title
		w, err := cache.Resolve("Legend of Merchant")

		// Then the exact match is returned even though it enumerates later
		require.NoError(t, err)
		assert.Equal(t, uintptr(102), w.Handle)
	})

	t.Run("falls back to substring match", func(t *testing.T) {
		// Given a window whose full title decorates the configured one
		enum := &fakeEnumerator{windows: []Window{
			{Handle: 200, Title: "Diablo II: Resurrected"},
		}}
		cache := NewCache(enum.enum)

		// When resolving a fragment of the title
		w, err := cache.Resolve("Diablo II")

		// Then the substring match is returned
		require.NoError(t, err)
		assert.Equal(t, uintptr(200), w.Handle)
	})

	t.Run("returns ErrWindowNotFound when nothing matches", func(t *testing.T) {
		enum := &fakeEnumerator{windows: []Window{
			{Handle: 300, Title: "Notepad"},
		}}
		cache := NewCache(enum.enum)

		_, err := cache.Resolve("Legend of Merchant")

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrWindowNotFound))
		assert.Contains(t, err.Error(), "Legend of Merchant")
	})

	t.Run("empty query never substring-matches everything", func(t *testing.T) {
		enum := &fakeEnumerator{windows: []Window{
			{Handle: 300, Title: "Notepad"},
		}}
		cache := NewCache(enum.enum)

		_, err := cache.Resolve("")

		assert.True(t, errors.Is(err, ErrWindowNotFound))
	})

	t.Run("uses the cache until invalidated", func(t *testing.T) {
		// Given a cache that has already resolved once
		enum := &fakeEnumerator{windows: []Window{
			{Handle: 400, Title: "Game"},
		}}
		cache := NewCache(enum.enum)

		_, err := cache.Resolve("Game")
		require.NoError(t, err)
		_, err = cache.Resolve("Game")
		require.NoError(t, err)

		// Then only the first resolve enumerates
		assert.Equal(t, 1, enum.calls)

		// When invalidated, the next resolve enumerates again
		cache.Invalidate()
		_, err = cache.Resolve("Game")
		require.NoError(t, err)
		assert.Equal(t, 2, enum.calls)
	})

	t.Run("ResolveFresh always re-enumerates", func(t *testing.T) {
		enum := &fakeEnumerator{windows: []Window{
			{Handle: 500, Title: "Game"},
		}}
		cache := NewCache(enum.enum)

		_, err := cache.ResolveFresh("Game")
		require.NoError(t, err)
		_, err = cache.ResolveFresh("Game")
		require.NoError(t, err)

		assert.Equal(t, 2, enum.calls)
	})

	t.Run("enumeration failure is wrapped", func(t *testing.T) {
		enum := &fakeEnumerator{err: errors.New("no desktop session")}
		cache := NewCache(enum.enum)

		_, err := cache.Resolve("Game")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "no desktop session")
	})
}

func TestCache_List(t *testing.T) {
	// Given an enumerator with two windows
	enum := &fakeEnumerator{windows: []Window{
		{Handle: 1, Title: "A"},
		{Handle: 2, Title: "B"},
	}}
	cache := NewCache(enum.enum)

	// When listing
	windows, err := cache.List()

	// Then all windows come back and the snapshot is a copy
	require.NoError(t, err)
	require.Len(t, windows, 2)
	windows[0].Title = "mutated"
	again := cache.Windows()
	assert.Equal(t, "A", again[0].Title)
}

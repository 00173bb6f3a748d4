package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	first := h.Hash([]byte("https://example.com/article"))
	second := h.Hash([]byte("https://example.com/article"))
	require.Equal(t, first, second)
	require.Len(t, first, 64)
}

func TestItemIDStableAndShort(t *testing.T) {
	t.Parallel()

	h := New()
	id := h.ItemID("https://example.com/article")
	require.Len(t, id, ItemIDLength)
	require.Equal(t, id, h.ItemID("https://example.com/article"))
	require.NotEqual(t, id, h.ItemID("https://example.com/other"))
}

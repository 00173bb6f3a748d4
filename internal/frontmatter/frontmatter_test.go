package frontmatter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	f := File{
		Meta: map[string]any{
			"id":     "at://did:plc:abc/app.bsky.feed.post/xyz",
			"stage":  "collected",
			"author": "alice.example",
			"engagement": map[string]any{
				"likes":   3,
				"reposts": 1,
				"replies": 0,
			},
			"links": []any{"https://example.com/a"},
		},
		Body: "# Post Content\n\nhello world\n",
	}

	path := filepath.Join(t.TempDir(), "post_xyz.md")
	require.NoError(t, Save(f, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, f.Body, loaded.Body)
	require.Equal(t, "collected", loaded.Meta["stage"])
	require.Equal(t, "alice.example", loaded.Meta["author"])

	engagement, ok := loaded.Meta["engagement"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, 3, engagement["likes"])
}

func TestParseWithoutFrontmatter(t *testing.T) {
	t.Parallel()

	f := Parse("just a plain document\nwith two lines")
	require.Empty(t, f.Meta)
	require.Equal(t, "just a plain document\nwith two lines", f.Body)
}

func TestParseMalformedYAMLFallsBack(t *testing.T) {
	t.Parallel()

	text := "---\n: [unclosed\n  bad yaml ::\n---\n\nbody text"
	f := Parse(text)
	require.Empty(t, f.Meta)
	require.Equal(t, text, f.Body)
}

func TestParseUnterminatedBlockFallsBack(t *testing.T) {
	t.Parallel()

	text := "---\nkey: value\nno closing delimiter"
	f := Parse(text)
	require.Empty(t, f.Meta)
	require.Equal(t, text, f.Body)
}

func TestUpdatePreservesMissingKeys(t *testing.T) {
	t.Parallel()

	existing := map[string]any{"id": "a", "stage": "collected", "links": []string{"x"}}
	merged := Update(existing, map[string]any{"stage": "fetched", "fetched_at": "2026-01-02T00:00:00Z"})

	require.Equal(t, "fetched", merged["stage"])
	require.Equal(t, "a", merged["id"])
	require.Equal(t, []string{"x"}, merged["links"])
	require.Equal(t, "2026-01-02T00:00:00Z", merged["fetched_at"])

	// the input map is untouched
	require.Equal(t, "collected", existing["stage"])
}

func TestSaveIsAtomicRename(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "item.md")
	require.NoError(t, Save(File{Meta: map[string]any{"id": "1"}, Body: "one"}, path))
	require.NoError(t, Save(File{Meta: map[string]any{"id": "2"}, Body: "two"}, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "two", loaded.Body)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}

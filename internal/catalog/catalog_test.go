package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robalobadob/mists/internal/puzzle"
)

func TestLoad_EmbeddedDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, c.Len())
	assert.Equal(t, []string{"circle", "leaf", "fill", "lotus"}, c.Attributes())

	tok, ok := c.Lookup("circle_lotus_fill")
	require.True(t, ok)
	assert.Equal(t, []string{"circle", "lotus", "fill"}, tok.Attributes)

	r, err := puzzle.GenerateRound(c, puzzle.NewRand(1))
	require.NoError(t, err)
	require.NoError(t, r.Validate())
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glyphs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": "a", "attributes": ["circle", "leaf"]},
		{"id": "b", "attributes": ["leaf"]},
		{"id": "c", "attributes": ["lotus"]},
		{"id": "d", "attributes": ["lotus", "fill"]}
	]`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glyphs.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
- id: a
  attributes: [circle, leaf]
- id: b
  attributes: [leaf]
- id: c
  attributes: [lotus]
- id: d
  attributes: [lotus, fill]
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Len())
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unknown extension", func(t *testing.T) {
		path := filepath.Join(dir, "glyphs.txt")
		require.NoError(t, os.WriteFile(path, []byte("a\nb\n"), 0o644))
		_, err := Load(path)
		assert.ErrorIs(t, err, ErrUnknownFormat)
	})

	t.Run("too small", func(t *testing.T) {
		path := filepath.Join(dir, "small.json")
		require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a","attributes":["x"]}]`), 0o644))
		_, err := Load(path)
		assert.ErrorIs(t, err, puzzle.ErrInvalidCatalog)
	})

	t.Run("unknown json field", func(t *testing.T) {
		_, err := Parse([]byte(`[{"id":"a","attrs":["x"]}]`), ".json")
		assert.Error(t, err)
	})
}

func TestInit_DefaultOnce(t *testing.T) {
	require.NoError(t, Init(""))
	require.NotNil(t, Get())

	// a second call keeps the first catalog
	require.NoError(t, Init("/does/not/exist.yaml"))
	tokens, attrs := Stats()
	assert.Equal(t, 8, tokens)
	assert.Equal(t, 4, attrs)
	assert.Equal(t, "embedded:catalog.yaml", Source())
}

func TestAssetPath(t *testing.T) {
	assert.Equal(t, "circle_leaf.png", AssetPath("circle_leaf"))
}

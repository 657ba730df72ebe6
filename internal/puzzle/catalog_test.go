package puzzle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_RejectsSmallCatalog(t *testing.T) {
	_, err := NewCatalog([]Token{
		{ID: "a", Attributes: []string{"circle"}},
		{ID: "b", Attributes: []string{"leaf"}},
		{ID: "c", Attributes: []string{"lotus"}},
	})
	require.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestNewCatalog_RejectsBadTokens(t *testing.T) {
	base := func() []Token {
		return []Token{
			{ID: "a", Attributes: []string{"circle"}},
			{ID: "b", Attributes: []string{"leaf"}},
			{ID: "c", Attributes: []string{"lotus"}},
			{ID: "d", Attributes: []string{"fill"}},
		}
	}

	t.Run("empty id", func(t *testing.T) {
		tokens := base()
		tokens[2].ID = "  "
		_, err := NewCatalog(tokens)
		assert.ErrorIs(t, err, ErrInvalidCatalog)
	})

	t.Run("duplicate id", func(t *testing.T) {
		tokens := base()
		tokens[3].ID = "a"
		_, err := NewCatalog(tokens)
		assert.ErrorIs(t, err, ErrInvalidCatalog)
	})

	t.Run("no attributes", func(t *testing.T) {
		tokens := base()
		tokens[1].Attributes = []string{"", " "}
		_, err := NewCatalog(tokens)
		assert.ErrorIs(t, err, ErrInvalidCatalog)
	})
}

func TestNewCatalog_NormalizesAttributes(t *testing.T) {
	c, err := NewCatalog([]Token{
		{ID: "a", Attributes: []string{"leaf", "circle", "leaf"}},
		{ID: "b", Attributes: []string{" lotus ", "fill"}},
		{ID: "c", Attributes: []string{"lotus"}},
		{ID: "d", Attributes: []string{"leaf"}},
	})
	require.NoError(t, err)

	a, ok := c.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, []string{"leaf", "circle"}, a.Attributes)
	assert.Equal(t, []string{"leaf", "circle", "lotus", "fill"}, c.Attributes())
	assert.Equal(t, 4, c.Len())

	_, ok = c.Lookup("zzz")
	assert.False(t, ok)
}

func TestCatalog_TokensIsACopy(t *testing.T) {
	c := mustCatalog(t, glyphTokens())
	tokens := c.Tokens()
	tokens[0].Attributes[0] = "mutated"
	tokens[1].ID = "mutated"

	first, _ := c.Lookup("circle_leaf_fill")
	assert.Equal(t, "circle", first.Attributes[0])
	assert.Equal(t, "circle_leaf", c.Tokens()[1].ID)
}

func TestCatalog_RoundsAndLookupDoNotAlias(t *testing.T) {
	c := mustCatalog(t, glyphTokens())
	want := c.Tokens()

	r, err := GenerateRound(c, NewRand(3))
	require.NoError(t, err)
	r.Entrance.Attributes[0] = "mutated"
	for i := range r.Choices {
		r.Choices[i].Attributes[0] = "mutated"
	}
	r.Correct.Attributes[0] = "mutated"

	got, ok := c.Lookup(want[0].ID)
	require.True(t, ok)
	got.Attributes[0] = "mutated"

	assert.Equal(t, want, c.Tokens())
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"a", "b"}, []string{"b", "a", "a"}))
	assert.False(t, sameSet([]string{"a", "b"}, []string{"a"}))
	// label "ab" must not match the pair a+b
	assert.False(t, sameSet([]string{"ab"}, []string{"a", "b"}))
}

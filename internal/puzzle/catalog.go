package puzzle

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog is a validated, read-only token list. It is safe for concurrent
// use since nothing mutates it after NewCatalog returns.
type Catalog struct {
	tokens    []Token
	keys      []string       // canonical attribute-set key per token
	attrOrder map[string]int // first position of each label in catalog order
}

// NewCatalog validates tokens and builds a Catalog.
//
// Blank labels are dropped and duplicate labels collapse, keeping the first
// occurrence. The input slice is copied.
func NewCatalog(tokens []Token) (*Catalog, error) {
	if len(tokens) < MinCatalogSize {
		return nil, fmt.Errorf("%w: need at least %d tokens, got %d",
			ErrInvalidCatalog, MinCatalogSize, len(tokens))
	}

	c := &Catalog{
		tokens:    make([]Token, 0, len(tokens)),
		keys:      make([]string, 0, len(tokens)),
		attrOrder: make(map[string]int),
	}
	seen := make(map[string]struct{}, len(tokens))

	for i, t := range tokens {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: token %d has an empty id", ErrInvalidCatalog, i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate token id %q", ErrInvalidCatalog, id)
		}
		seen[id] = struct{}{}

		attrs := normalizeAttributes(t.Attributes)
		if len(attrs) == 0 {
			return nil, fmt.Errorf("%w: token %q has no attributes", ErrInvalidCatalog, id)
		}
		for _, a := range attrs {
			if _, ok := c.attrOrder[a]; !ok {
				c.attrOrder[a] = len(c.attrOrder)
			}
		}

		c.tokens = append(c.tokens, Token{ID: id, Attributes: attrs})
		c.keys = append(c.keys, setKey(attrs))
	}
	return c, nil
}

// Len returns the number of tokens.
func (c *Catalog) Len() int { return len(c.tokens) }

// Tokens returns a copy of the catalog tokens in catalog order.
func (c *Catalog) Tokens() []Token {
	out := make([]Token, len(c.tokens))
	for i, t := range c.tokens {
		out[i] = cloneToken(t)
	}
	return out
}

// cloneToken copies t so callers never share the catalog's attribute arrays.
func cloneToken(t Token) Token {
	return Token{ID: t.ID, Attributes: append([]string(nil), t.Attributes...)}
}

// Lookup finds a token by id.
func (c *Catalog) Lookup(id string) (Token, bool) {
	for _, t := range c.tokens {
		if t.ID == id {
			return cloneToken(t), true
		}
	}
	return Token{}, false
}

// Attributes returns every distinct label in catalog order.
func (c *Catalog) Attributes() []string {
	out := make([]string, len(c.attrOrder))
	for a, i := range c.attrOrder {
		out[i] = a
	}
	return out
}

// attrRank orders labels by first appearance; unknown labels sort last.
func (c *Catalog) attrRank(attr string) int {
	if i, ok := c.attrOrder[attr]; ok {
		return i
	}
	return len(c.attrOrder)
}

func normalizeAttributes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// setKey is an order-insensitive identity for an attribute set.
func setKey(attrs []string) string {
	sorted := append([]string(nil), attrs...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// sameSet compares two attribute lists as sets.
func sameSet(a, b []string) bool {
	return setKey(normalizeAttributes(a)) == setKey(normalizeAttributes(b))
}

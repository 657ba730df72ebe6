// internal/puzzle/engine.go
//
// Round generator for the mists odd-one-out puzzle.
// Responsibilities:
//   - Draw an entrance token and three choice tokens from a Catalog.
//   - Reject draws whose choices share an attribute set or do not single
//     out exactly one choice, retrying in a bounded loop.
//   - Pick the discriminating attribute with a deterministic tie-break.
//
// Notes:
//   - All randomness comes from the *rand.Rand passed in, so a seeded source
//     reproduces the same round for the same catalog.
//   - Correctness is judged among the choices only; the entrance's attributes
//     never count toward multiplicity.

package puzzle

import (
	cryptorand "crypto/rand"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// DefaultMaxAttempts bounds the retry loop of GenerateRound.
const DefaultMaxAttempts = 1000

// ErrInvalidRound is returned by Round.Validate.
var ErrInvalidRound = errors.New("invalid round")

type options struct {
	maxAttempts int
	strict      bool
}

// Option tunes GenerateRound.
type Option func(*options)

// WithMaxAttempts overrides the attempt budget. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithStrict rejects rounds where the correct choice holds more than one
// unique attribute, so exactly one attribute has multiplicity 1.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// NewRand returns a PCG-backed source for seed. Equal seeds yield equal
// rounds for the same catalog.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed>>16|7))
}

func newCryptoSeededRand() *rand.Rand {
	var seed [32]byte
	_, _ = cryptorand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// GenerateRound draws a valid round from c using rng.
//
// Each attempt:
//  1. draws the entrance uniformly;
//  2. draws up to three choices from the rest by partial Fisher-Yates,
//     skipping candidates whose attribute set equals an already chosen one;
//  3. counts attribute multiplicity over the three choices;
//  4. accepts the draw when every multiplicity-1 attribute sits on the same
//     choice, which becomes Correct.
//
// When Correct holds several unique attributes, Discriminator is the one
// that appears first in catalog order (WithStrict rejects such draws).
// After the attempt budget is spent the error wraps ErrRoundGenerationFailed.
// A nil rng is replaced by a crypto-seeded source.
func GenerateRound(c *Catalog, rng *rand.Rand, opts ...Option) (*Round, error) {
	if c == nil || c.Len() < MinCatalogSize {
		return nil, fmt.Errorf("%w: need at least %d tokens", ErrInvalidCatalog, MinCatalogSize)
	}
	if rng == nil {
		rng = newCryptoSeededRand()
	}

	o := options{maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	pool := make([]int, 0, c.Len()-1)
	choices := make([]Token, ChoiceCount)

	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		entrance := rng.IntN(c.Len())

		pool = pool[:0]
		for i := range c.tokens {
			if i != entrance {
				pool = append(pool, i)
			}
		}

		picked, ok := c.pickChoices(rng, pool)
		if !ok {
			continue
		}
		for i, p := range picked {
			choices[i] = c.tokens[p]
		}

		idx, attr, singles, err := discriminate(choices, c.attrRank)
		if err != nil {
			continue
		}
		if o.strict && singles > 1 {
			continue
		}

		out := make([]Token, ChoiceCount)
		for i, t := range choices {
			out[i] = cloneToken(t)
		}
		return &Round{
			Entrance:      cloneToken(c.tokens[entrance]),
			Choices:       out,
			Correct:       cloneToken(choices[idx]),
			Discriminator: attr,
			Attempts:      attempt,
		}, nil
	}

	return nil, fmt.Errorf("%w: no valid round after %d attempts", ErrRoundGenerationFailed, o.maxAttempts)
}

// pickChoices consumes pool in random order until ChoiceCount tokens with
// pairwise distinct attribute sets are found.
func (c *Catalog) pickChoices(rng *rand.Rand, pool []int) ([ChoiceCount]int, bool) {
	var picked [ChoiceCount]int
	n := 0
	for i := 0; i < len(pool) && n < ChoiceCount; i++ {
		j := i + rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]

		cand := pool[i]
		dup := false
		for _, p := range picked[:n] {
			if c.keys[p] == c.keys[cand] {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		picked[n] = cand
		n++
	}
	return picked, n == ChoiceCount
}

// Discriminate finds the odd-one-out among choices. Ties between several
// unique attributes of the same choice go to the label seen first while
// scanning choices in order.
func Discriminate(choices []Token) (int, string, error) {
	order := make(map[string]int)
	for _, ch := range choices {
		for _, a := range normalizeAttributes(ch.Attributes) {
			if _, ok := order[a]; !ok {
				order[a] = len(order)
			}
		}
	}
	idx, attr, _, err := discriminate(choices, func(a string) int { return order[a] })
	return idx, attr, err
}

// Discriminate is like the package-level Discriminate but breaks ties by
// catalog attribute order, matching GenerateRound.
func (c *Catalog) Discriminate(choices []Token) (int, string, error) {
	idx, attr, _, err := discriminate(choices, c.attrRank)
	return idx, attr, err
}

// discriminate returns the index of the only choice holding multiplicity-1
// attributes, the lowest-ranked such attribute, and how many there are.
func discriminate(choices []Token, rank func(string) int) (int, string, int, error) {
	if len(choices) != ChoiceCount {
		return -1, "", 0, fmt.Errorf("%w: want %d choices, got %d", ErrNoOddOneOut, ChoiceCount, len(choices))
	}

	sets := make([][]string, len(choices))
	counts := make(map[string]int)
	for i, ch := range choices {
		sets[i] = normalizeAttributes(ch.Attributes)
		for _, a := range sets[i] {
			counts[a]++
		}
	}

	holder, singles := -1, 0
	best, bestRank := "", 0
	for i, set := range sets {
		for _, a := range set {
			if counts[a] != 1 {
				continue
			}
			if holder != -1 && holder != i {
				return -1, "", 0, fmt.Errorf("%w: %q and %q both hold a unique attribute",
					ErrNoOddOneOut, choices[holder].ID, choices[i].ID)
			}
			holder = i
			singles++
			if r := rank(a); best == "" || r < bestRank {
				best, bestRank = a, r
			}
		}
	}
	if holder == -1 {
		return -1, "", 0, fmt.Errorf("%w: no attribute is held by exactly one choice", ErrNoOddOneOut)
	}
	return holder, best, singles, nil
}

// Validate re-checks the round invariants: three choices with distinct ids
// and attribute sets, none equal to the entrance, and Correct being the only
// choice holding Discriminator.
func (r *Round) Validate() error {
	if len(r.Choices) != ChoiceCount {
		return fmt.Errorf("%w: want %d choices, got %d", ErrInvalidRound, ChoiceCount, len(r.Choices))
	}
	for i, a := range r.Choices {
		if a.ID == r.Entrance.ID {
			return fmt.Errorf("%w: choice %q repeats the entrance", ErrInvalidRound, a.ID)
		}
		for _, b := range r.Choices[i+1:] {
			if a.ID == b.ID {
				return fmt.Errorf("%w: choice %q appears twice", ErrInvalidRound, a.ID)
			}
			if sameSet(a.Attributes, b.Attributes) {
				return fmt.Errorf("%w: %q and %q share an attribute set", ErrInvalidRound, a.ID, b.ID)
			}
		}
	}

	idx, _, err := Discriminate(r.Choices)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRound, err)
	}
	if r.Choices[idx].ID != r.Correct.ID {
		return fmt.Errorf("%w: correct choice is %q, round says %q", ErrInvalidRound, r.Choices[idx].ID, r.Correct.ID)
	}
	if r.Discriminator != "" {
		holders := 0
		for _, ch := range r.Choices {
			if ch.Has(r.Discriminator) {
				holders++
			}
		}
		if holders != 1 || !r.Correct.Has(r.Discriminator) {
			return fmt.Errorf("%w: %q does not single out %q", ErrInvalidRound, r.Discriminator, r.Correct.ID)
		}
	}
	return nil
}

// Items returns the entrance and the choices in a random display order.
func (r *Round) Items(rng *rand.Rand) []Token {
	if rng == nil {
		rng = newCryptoSeededRand()
	}
	items := make([]Token, 0, ChoiceCount+1)
	items = append(items, r.Entrance)
	items = append(items, r.Choices...)
	for i := len(items) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
	return items
}

// Contains reports whether id is the entrance or one of the choices.
func (r *Round) Contains(id string) bool {
	if r.Entrance.ID == id {
		return true
	}
	for _, ch := range r.Choices {
		if ch.ID == id {
			return true
		}
	}
	return false
}

// IsCorrect compares a player's pick with the correct choice by id.
func (r *Round) IsCorrect(id string) bool { return r.Correct.ID == id }

// Generator serializes access to a shared random source so one instance can
// serve concurrent requests.
type Generator struct {
	catalog *Catalog
	opts    []Option

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a Generator with a crypto-seeded source.
func NewGenerator(c *Catalog, opts ...Option) *Generator {
	return &Generator{catalog: c, opts: opts, rng: newCryptoSeededRand()}
}

// NewSeededGenerator returns a Generator whose rounds are reproducible.
func NewSeededGenerator(c *Catalog, seed uint64, opts ...Option) *Generator {
	return &Generator{catalog: c, opts: opts, rng: NewRand(seed)}
}

// Catalog returns the catalog rounds are drawn from.
func (g *Generator) Catalog() *Catalog { return g.catalog }

// Options returns the options every round is generated with.
func (g *Generator) Options() []Option { return append([]Option(nil), g.opts...) }

// Next generates a round.
func (g *Generator) Next() (*Round, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GenerateRound(g.catalog, g.rng, g.opts...)
}

// Shuffle returns the round's tokens in display order.
func (g *Generator) Shuffle(r *Round) []Token {
	g.mu.Lock()
	defer g.mu.Unlock()
	return r.Items(g.rng)
}

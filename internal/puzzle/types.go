// internal/puzzle/types.go
//
// Core type definitions for the mists puzzle.
// Defines:
//   - Token: one glyph of the catalog (id + attribute labels).
//   - Round: one puzzle presentation (entrance, three choices, correct choice).
//   - Sentinel errors shared by the catalog and the generator.

package puzzle

import "errors"

// ChoiceCount is the number of choice tokens shown next to the entrance.
const ChoiceCount = 3

// MinCatalogSize is the smallest catalog a round can be drawn from
// (one entrance + ChoiceCount choices).
const MinCatalogSize = ChoiceCount + 1

var (
	// ErrInvalidCatalog is returned when a catalog is too small or holds
	// tokens without an id or without attributes.
	ErrInvalidCatalog = errors.New("invalid catalog")

	// ErrRoundGenerationFailed is returned when no valid round was found
	// within the attempt budget.
	ErrRoundGenerationFailed = errors.New("round generation failed")

	// ErrNoOddOneOut is returned by Discriminate when the choices do not
	// single out exactly one token.
	ErrNoOddOneOut = errors.New("no unique odd-one-out")
)

// Token is a catalog entry. Attributes behave as a set; the slice keeps the
// first-seen order of each label.
type Token struct {
	ID         string   `json:"id" yaml:"id"`
	Attributes []string `json:"attributes" yaml:"attributes"`
}

// Has reports whether the token carries attr.
func (t Token) Has(attr string) bool {
	for _, a := range t.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Round is one puzzle instance.
type Round struct {
	Entrance Token   `json:"entrance"`
	Choices  []Token `json:"choices"`
	Correct  Token   `json:"correct"`

	// Discriminator is the attribute that only Correct holds among the choices.
	Discriminator string `json:"discriminator"`

	// Attempts counts the discarded attempts before this round was found.
	Attempts int `json:"attempts"`
}

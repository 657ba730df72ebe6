// internal/stats/types.go
//
// Scoreboard and settings types shared by the store and the HTTP layer.
// Defines:
//   - Difficulty: "normal" or "hard"; each keeps its own scoreboard.
//   - Stats:      wins, losses and total answer time for one difficulty.
//   - Settings:   player preferences the UI applies (motion, reveal timing).

package stats

import (
	"errors"
	"fmt"
	"strings"
)

// Difficulty selects a scoreboard bucket. Hard mode only changes how the
// UI draws the glyphs; rounds are generated the same way.
type Difficulty string

const (
	Normal Difficulty = "normal"
	Hard   Difficulty = "hard"
)

// Difficulties lists every bucket in display order.
var Difficulties = []Difficulty{Normal, Hard}

var (
	// ErrInvalidDifficulty is returned for anything but "normal" or "hard".
	ErrInvalidDifficulty = errors.New("invalid difficulty")

	// ErrInvalidSettings is returned by Settings.Validate.
	ErrInvalidSettings = errors.New("invalid settings")
)

// ParseDifficulty accepts "normal" and "hard" (case-insensitive). An empty
// string means Normal.
func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Normal):
		return Normal, nil
	case string(Hard):
		return Hard, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDifficulty, s)
	}
}

// Stats is the scoreboard of one difficulty.
type Stats struct {
	Wins      int   `json:"wins"`
	Losses    int   `json:"losses"`
	ElapsedMs int64 `json:"elapsed"`
}

// Played is wins + losses.
func (s Stats) Played() int { return s.Wins + s.Losses }

// Scoreboard holds every difficulty's stats.
type Scoreboard struct {
	Normal Stats `json:"normal"`
	Hard   Stats `json:"hard"`
}

// Get returns the stats of d.
func (b Scoreboard) Get(d Difficulty) Stats {
	if d == Hard {
		return b.Hard
	}
	return b.Normal
}

func (b *Scoreboard) set(d Difficulty, s Stats) {
	if d == Hard {
		b.Hard = s
		return
	}
	b.Normal = s
}

// MaxShowCorrectDurationMs caps how long the UI keeps the answer on screen.
const MaxShowCorrectDurationMs = 10_000

// Settings are the per-player preferences.
type Settings struct {
	Difficulty            Difficulty `json:"difficulty"`
	ReducedMotion         bool       `json:"reducedMotion"`
	WarnBeforeReset       bool       `json:"warnBeforeReset"`
	ShowCorrect           bool       `json:"showCorrect"`
	ShowCorrectDurationMs int        `json:"showCorrectDuration"`
}

// DefaultSettings is what a player starts with.
func DefaultSettings() Settings {
	return Settings{
		Difficulty:            Normal,
		ReducedMotion:         false,
		WarnBeforeReset:       false,
		ShowCorrect:           true,
		ShowCorrectDurationMs: 1000,
	}
}

// Validate normalizes the difficulty and bounds the reveal duration.
func (s *Settings) Validate() error {
	d, err := ParseDifficulty(string(s.Difficulty))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	s.Difficulty = d
	if s.ShowCorrectDurationMs < 0 || s.ShowCorrectDurationMs > MaxShowCorrectDurationMs {
		return fmt.Errorf("%w: showCorrectDuration must be 0-%d ms", ErrInvalidSettings, MaxShowCorrectDurationMs)
	}
	return nil
}

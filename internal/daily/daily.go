// internal/daily/daily.go
//
// Deterministic daily round.
// Everyone who plays on the same UTC date gets the same round: the date key
// is run through HMAC-SHA256 with a server salt and the digest seeds a PCG
// source that drives the regular round generator.

package daily

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/robalobadob/mists/internal/puzzle"
)

// DateKey returns YYYY-MM-DD in UTC.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Seed derives the two PCG seed words for a date using HMAC(salt, YYYY-MM-DD).
func Seed(date time.Time, salt string) (uint64, uint64) {
	h := hmac.New(sha256.New, []byte(salt))
	h.Write([]byte(DateKey(date)))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8]), binary.BigEndian.Uint64(sum[8:16])
}

// Round generates the round of the day. Items come back in the same
// display order for every caller.
func Round(date time.Time, salt string, c *puzzle.Catalog, opts ...puzzle.Option) (*puzzle.Round, []puzzle.Token, error) {
	s1, s2 := Seed(date, salt)
	rng := rand.New(rand.NewPCG(s1, s2))

	r, err := puzzle.GenerateRound(c, rng, opts...)
	if err != nil {
		return nil, nil, err
	}
	return r, r.Items(rng), nil
}

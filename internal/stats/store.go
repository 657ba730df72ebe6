package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robalobadob/mists/internal/database"
)

// Store persists scoreboards and settings per owner. An owner is an account
// or an anonymous browser; the HTTP layer decides the id.
type Store interface {
	Scoreboard(ctx context.Context, owner string) (Scoreboard, error)
	Record(ctx context.Context, owner string, d Difficulty, won bool, elapsed time.Duration) (Stats, error)
	Reset(ctx context.Context, owner string) error

	Settings(ctx context.Context, owner string) (Settings, error)
	SaveSettings(ctx context.Context, owner string, s Settings) error

	// Claim merges everything recorded for from into to and forgets from.
	Claim(ctx context.Context, from, to string) error
}

// SQLStore is the database-backed Store.
type SQLStore struct {
	db *database.DB
}

// NewSQLStore wraps a migrated database.
func NewSQLStore(db *database.DB) *SQLStore { return &SQLStore{db: db} }

var _ Store = (*SQLStore)(nil)

// Scoreboard returns zeroed stats for difficulties never played.
func (s *SQLStore) Scoreboard(ctx context.Context, owner string) (Scoreboard, error) {
	var board Scoreboard
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(
		`SELECT difficulty, wins, losses, elapsed_ms FROM stats WHERE owner_id=?`), owner)
	if err != nil {
		return board, err
	}
	defer rows.Close()

	for rows.Next() {
		var d string
		var st Stats
		if err := rows.Scan(&d, &st.Wins, &st.Losses, &st.ElapsedMs); err != nil {
			return board, err
		}
		board.set(Difficulty(d), st)
	}
	return board, rows.Err()
}

// Record adds one answered round to the owner's scoreboard and returns the
// updated stats for d.
func (s *SQLStore) Record(ctx context.Context, owner string, d Difficulty, won bool, elapsed time.Duration) (Stats, error) {
	if _, err := ParseDifficulty(string(d)); err != nil {
		return Stats{}, err
	}
	wins, losses := 0, 1
	if won {
		wins, losses = 1, 0
	}

	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO stats (owner_id, difficulty, wins, losses, elapsed_ms)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (owner_id, difficulty) DO UPDATE SET
            wins       = stats.wins + excluded.wins,
            losses     = stats.losses + excluded.losses,
            elapsed_ms = stats.elapsed_ms + excluded.elapsed_ms`),
		owner, string(d), wins, losses, elapsed.Milliseconds(),
	); err != nil {
		return Stats{}, fmt.Errorf("record stats: %w", err)
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT wins, losses, elapsed_ms FROM stats WHERE owner_id=? AND difficulty=?`),
		owner, string(d),
	).Scan(&st.Wins, &st.Losses, &st.ElapsedMs)
	return st, err
}

// Reset clears the scoreboard; settings are kept.
func (s *SQLStore) Reset(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM stats WHERE owner_id=?`), owner)
	return err
}

// Settings returns DefaultSettings when the owner never saved any.
func (s *SQLStore) Settings(ctx context.Context, owner string) (Settings, error) {
	var (
		st                                 Settings
		d                                  string
		reducedMotion, warnReset, showCorr int
	)
	err := s.db.QueryRowContext(ctx, s.db.Rebind(`
        SELECT difficulty, reduced_motion, warn_before_reset, show_correct, show_correct_duration_ms
        FROM settings WHERE owner_id=?`), owner,
	).Scan(&d, &reducedMotion, &warnReset, &showCorr, &st.ShowCorrectDurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	st.Difficulty = Difficulty(d)
	st.ReducedMotion = reducedMotion == 1
	st.WarnBeforeReset = warnReset == 1
	st.ShowCorrect = showCorr == 1
	return st, nil
}

// SaveSettings validates and upserts the owner's settings.
func (s *SQLStore) SaveSettings(ctx context.Context, owner string, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO settings (owner_id, difficulty, reduced_motion, warn_before_reset,
                              show_correct, show_correct_duration_ms, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (owner_id) DO UPDATE SET
            difficulty               = excluded.difficulty,
            reduced_motion           = excluded.reduced_motion,
            warn_before_reset        = excluded.warn_before_reset,
            show_correct             = excluded.show_correct,
            show_correct_duration_ms = excluded.show_correct_duration_ms,
            updated_at               = excluded.updated_at`),
		owner, string(st.Difficulty),
		database.BoolInt(st.ReducedMotion), database.BoolInt(st.WarnBeforeReset),
		database.BoolInt(st.ShowCorrect), st.ShowCorrectDurationMs,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Claim adds from's stats onto to's and hands over from's settings when to
// has none.
func (s *SQLStore) Claim(ctx context.Context, from, to string) error {
	if from == "" || to == "" || from == to {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO stats (owner_id, difficulty, wins, losses, elapsed_ms)
        SELECT ?, difficulty, wins, losses, elapsed_ms FROM stats WHERE owner_id=?
        ON CONFLICT (owner_id, difficulty) DO UPDATE SET
            wins       = stats.wins + excluded.wins,
            losses     = stats.losses + excluded.losses,
            elapsed_ms = stats.elapsed_ms + excluded.elapsed_ms`), to, from); err != nil {
		return fmt.Errorf("merge stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM stats WHERE owner_id=?`), from); err != nil {
		return fmt.Errorf("drop stats: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
        UPDATE settings SET owner_id=?
        WHERE owner_id=? AND NOT EXISTS (SELECT 1 FROM settings WHERE owner_id=?)`), to, from, to); err != nil {
		return fmt.Errorf("move settings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM settings WHERE owner_id=?`), from); err != nil {
		return fmt.Errorf("drop settings: %w", err)
	}

	return tx.Commit()
}

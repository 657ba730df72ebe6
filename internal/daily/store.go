package daily

import (
	"context"
	"time"

	"github.com/robalobadob/mists/internal/database"
)

// Result is one owner's answer to a daily round.
type Result struct {
	OwnerID   string `json:"ownerId"`
	Date      string `json:"date"`
	Correct   bool   `json:"correct"`
	ElapsedMs int64  `json:"elapsedMs"`
}

type Store struct{ db *database.DB }

func NewStore(db *database.DB) *Store { return &Store{db: db} }

func (s *Store) AlreadyPlayed(ctx context.Context, ownerID, date string) (bool, error) {
	var cnt int
	err := s.db.QueryRowContext(ctx, s.db.Rebind(
		"SELECT COUNT(1) FROM daily_results WHERE owner_id=? AND date=?"),
		ownerID, date,
	).Scan(&cnt)
	return cnt > 0, err
}

// InsertResult stores the first answer per owner and date; later ones are
// ignored. It reports whether the row was written.
func (s *Store) InsertResult(ctx context.Context, r Result) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO daily_results (owner_id, date, correct, elapsed_ms, created_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (owner_id, date) DO NOTHING`),
		r.OwnerID, r.Date, database.BoolInt(r.Correct), r.ElapsedMs,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type LBRow struct {
	OwnerID   string `json:"ownerId"`
	Name      string `json:"name"`
	Correct   bool   `json:"correct"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// Leaderboard lists the date's results: correct answers first, then fastest.
// Name is the username for accounts and "guest" otherwise.
func (s *Store) Leaderboard(ctx context.Context, date string, limit int) ([]LBRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
        SELECT d.owner_id, COALESCE(u.username, 'guest'), d.correct, d.elapsed_ms
        FROM daily_results d
        LEFT JOIN users u ON d.owner_id = 'user:' || u.id
        WHERE d.date=?
        ORDER BY d.correct DESC, d.elapsed_ms ASC, d.created_at ASC
        LIMIT ?`), date, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LBRow{}
	for rows.Next() {
		var (
			r       LBRow
			correct int
		)
		if err := rows.Scan(&r.OwnerID, &r.Name, &correct, &r.ElapsedMs); err != nil {
			return nil, err
		}
		r.Correct = correct == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

// Claim moves a guest's daily results to an account, keeping the account's
// own result where both played the same date.
func (s *Store) Claim(ctx context.Context, from, to string) error {
	if from == "" || to == "" || from == to {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`
        INSERT INTO daily_results (owner_id, date, correct, elapsed_ms, created_at)
        SELECT ?, date, correct, elapsed_ms, created_at FROM daily_results WHERE owner_id=?
        ON CONFLICT (owner_id, date) DO NOTHING`), to, from); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM daily_results WHERE owner_id=?`), from); err != nil {
		return err
	}
	return tx.Commit()
}

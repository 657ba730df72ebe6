package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/robalobadob/mists/internal/database"
)

// User matches the users table shape.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Owner is the stats owner id of the account.
func (u *User) Owner() string { return "user:" + u.ID }

// Users reads and writes accounts.
type Users struct{ db *database.DB }

func NewUsers(db *database.DB) *Users { return &Users{db: db} }

// Create validates input, checks uniqueness, hashes the password, and
// inserts a new user.
func (s *Users) Create(ctx context.Context, username, pw string) (*User, error) {
	username = NormalizeUsername(username)
	if err := ValidateSignup(username, pw); err != nil {
		return nil, err
	}
	if _, err := s.ByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	h, err := HashPassword(pw)
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: h,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := s.insert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// insert writes u. A concurrent signup that won the name surfaces as
// ErrUsernameTaken through the case-insensitive unique index.
func (s *Users) insert(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)`),
		u.ID, u.Username, u.PasswordHash, u.CreatedAt.Format(time.RFC3339))
	if database.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	return err
}

// Authenticate returns the user when the password matches.
func (s *Users) Authenticate(ctx context.Context, username, pw string) (*User, error) {
	u, err := s.ByUsername(ctx, NormalizeUsername(username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, pw) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// ByUsername matches case-insensitively; sql.ErrNoRows when missing.
func (s *Users) ByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, username, password_hash, created_at FROM users WHERE lower(username)=lower(?)`), username))
}

// ByID loads a user; sql.ErrNoRows when missing.
func (s *Users) ByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, s.db.Rebind(
		`SELECT id, username, password_hash, created_at FROM users WHERE id=?`), id))
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created); err != nil {
		return nil, err
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}

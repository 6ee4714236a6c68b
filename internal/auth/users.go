package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"display_name"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
}

// UserStore reads the users table. It is the identity collaborator for the
// notification stream (recipient existence) and for event actor snapshots.
type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

// parseUserID rejects IDs that cannot be a users.id before they reach SQL.
func parseUserID(id string) (int64, bool) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Exists reports whether an active user with the given ID exists.
func (s *UserStore) Exists(ctx context.Context, id string) (bool, error) {
	n, ok := parseUserID(id)
	if !ok {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND active)`, n,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user %s: %w", id, err)
	}
	return exists, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (*User, error) {
	n, ok := parseUserID(id)
	if !ok {
		return nil, ErrUserNotFound
	}
	var u User
	var uid int64
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, display_name, active, created_at, last_login
		 FROM users WHERE id = $1`, n,
	).Scan(&uid, &u.Email, &u.DisplayName, &u.Active, &u.CreatedAt, &u.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.ID = strconv.FormatInt(uid, 10)
	return &u, nil
}

// credentials returns the ID, display name and password hash for a login.
func (s *UserStore) credentials(ctx context.Context, email string) (id, name, hash string, err error) {
	var uid int64
	err = s.pool.QueryRow(ctx,
		`SELECT id, display_name, password_hash FROM users WHERE lower(email) = lower($1) AND active`,
		email,
	).Scan(&uid, &name, &hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", "", ErrUserNotFound
	}
	if err != nil {
		return "", "", "", err
	}
	return strconv.FormatInt(uid, 10), name, hash, nil
}

func (s *UserStore) touchLastLogin(ctx context.Context, id string) error {
	n, ok := parseUserID(id)
	if !ok {
		return ErrUserNotFound
	}
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, n)
	return err
}

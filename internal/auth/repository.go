// Package auth handles username/password authentication.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Credentials is the stored login record for one user.
type Credentials struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// ErrUserNotFound is returned when no account exists for the username.
var ErrUserNotFound = errors.New("user not found")

// ErrUserExists is returned when the username is already registered.
var ErrUserExists = errors.New("user already exists")

// Repository handles credential persistence.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new auth Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Create inserts a new account with the given password hash.
func (r *Repository) Create(ctx context.Context, username, passwordHash string) (*Credentials, error) {
	c := &Credentials{}
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, password_hash)
		 VALUES ($1, $2)
		 RETURNING id, username, password_hash, created_at`,
		username, passwordHash,
	).Scan(&c.ID, &c.Username, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return c, nil
}

// GetByUsername fetches the credential record for a username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*Credentials, error) {
	c := &Credentials{}
	err := r.db.QueryRow(ctx,
		`SELECT id, username, password_hash, created_at
		 FROM users WHERE username = $1`,
		username,
	).Scan(&c.ID, &c.Username, &c.PasswordHash, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return c, nil
}

// isUniqueViolation checks whether an error is a PostgreSQL unique_violation (code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

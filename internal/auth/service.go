package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// tokenTTL is how long an issued access token stays valid.
const tokenTTL = 24 * time.Hour

// ErrInvalidCredentials is returned when the username or password is wrong.
// Both cases map to the same error so login cannot be used to probe which
// usernames exist.
var ErrInvalidCredentials = errors.New("username or password incorrect")

// CredentialStore is the persistence surface the service needs. Implemented
// by *Repository; swapped for an in-memory store in tests.
type CredentialStore interface {
	Create(ctx context.Context, username, passwordHash string) (*Credentials, error)
	GetByUsername(ctx context.Context, username string) (*Credentials, error)
}

// Service contains the business logic for account signup and login.
type Service struct {
	store     CredentialStore
	jwtSecret string
}

// NewService creates a new auth Service signing tokens with jwtSecret.
func NewService(store CredentialStore, jwtSecret string) *Service {
	return &Service{store: store, jwtSecret: jwtSecret}
}

// Signup registers a new account. The password is bcrypt-hashed before it
// touches the database. Returns ErrUserExists for duplicate usernames.
func (s *Service) Signup(ctx context.Context, username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if _, err := s.store.Create(ctx, username, string(hash)); err != nil {
		return err
	}
	return nil
}

// Login verifies the password against the stored hash and issues a signed
// access token carrying the username.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	c, err := s.store.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	return s.issueToken(c.Username)
}

// issueToken creates a signed JWT for the given username.
func (s *Service) issueToken(username string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": username,
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.jwtSecret))
}

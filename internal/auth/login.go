package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"facerecog/internal/roster"
)

// RoleInvigilator is the role claim carried by invigilator tokens.
const RoleInvigilator = "invigilator"

// ErrInvalidCredentials means the username is unknown or the password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// CredentialStore looks invigilators up by username.
type CredentialStore interface {
	FindInvigilator(ctx context.Context, username string) (*roster.Invigilator, error)
}

// Service checks invigilator credentials and issues tokens.
type Service struct {
	store      CredentialStore
	issuer     string
	signingKey string
	ttl        time.Duration
}

// NewService constructs a login service.
func NewService(store CredentialStore, issuer, signingKey string, ttl time.Duration) *Service {
	return &Service{store: store, issuer: issuer, signingKey: signingKey, ttl: ttl}
}

// Login returns a token for valid credentials, ErrInvalidCredentials for bad
// ones, and a wrapped store error otherwise.
func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	if username == "" || password == "" {
		return Token{}, ErrInvalidCredentials
	}
	inv, err := s.store.FindInvigilator(ctx, username)
	if err != nil {
		return Token{}, fmt.Errorf("lookup invigilator: %w", err)
	}
	if inv == nil {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(inv.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}
	return Issue(inv.Username, RoleInvigilator, s.issuer, s.signingKey, s.ttl)
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

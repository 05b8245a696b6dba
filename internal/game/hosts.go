package game

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/femildignizant/tambola/internal/tambola"
)

const minPasswordLen = 8

// RegisterHost creates a host account.
func (s *Service) RegisterHost(ctx context.Context, email, name, password string) (tambola.Host, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return tambola.Host{}, tambola.Errorf(tambola.CodeInvalidInput, "a valid email is required")
	}
	if name == "" {
		return tambola.Host{}, tambola.Errorf(tambola.CodeInvalidInput, "name is required")
	}
	if len(password) < minPasswordLen {
		return tambola.Host{}, tambola.Errorf(tambola.CodeInvalidInput, "password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return tambola.Host{}, fmt.Errorf("hashing password: %w", err)
	}

	h := tambola.Host{ID: newID(), Email: email, Name: name, CreatedAt: s.now()}
	err = s.store.CreateHost(ctx, h, string(hash))
	if errors.Is(err, tambola.ErrDuplicate) {
		return tambola.Host{}, tambola.Errorf(tambola.CodeEmailTaken, "email is already registered")
	}
	if err != nil {
		return tambola.Host{}, fmt.Errorf("creating host: %w", err)
	}
	return h, nil
}

// AuthenticateHost checks a host's credentials.
func (s *Service) AuthenticateHost(ctx context.Context, email, password string) (tambola.Host, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return tambola.Host{}, tambola.Errorf(tambola.CodeInvalidInput, "email and password are required")
	}

	h, hash, err := s.store.HostCredentials(ctx, email)
	if errors.Is(err, tambola.ErrNotFound) {
		return tambola.Host{}, tambola.Errorf(tambola.CodeUnauthorized, "invalid credentials")
	}
	if err != nil {
		return tambola.Host{}, fmt.Errorf("loading host: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return tambola.Host{}, tambola.Errorf(tambola.CodeUnauthorized, "invalid credentials")
	}
	return h, nil
}

func (s *Service) Host(ctx context.Context, id string) (tambola.Host, error) {
	h, err := s.store.Host(ctx, id)
	if errors.Is(err, tambola.ErrNotFound) {
		return tambola.Host{}, tambola.Errorf(tambola.CodeUnauthorized, "not authenticated")
	}
	if err != nil {
		return tambola.Host{}, fmt.Errorf("loading host: %w", err)
	}
	return h, nil
}

// Package auth issues API keys and decides whether a presented key may
// use the retrieval API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pbaille/factserp/internal/domain"
)

// DefaultKeyName names keys created without one
const DefaultKeyName = "Default Key"

// ErrRateLimited is returned when a key exceeds its request rate
var ErrRateLimited = errors.New("rate limit exceeded")

// KeyStore persists API keys
type KeyStore interface {
	CreateAPIKey(ctx context.Context, k *domain.APIKey) error
	GetAPIKey(ctx context.Context, token string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]domain.APIKey, error)
	SetAPIKeyActive(ctx context.Context, token string, active bool) error
}

// Gate validates, issues and revokes API keys
type Gate struct {
	store   KeyStore
	limiter *Limiter
}

// NewGate creates a gate. A nil limiter disables rate limiting.
func NewGate(s KeyStore, limiter *Limiter) *Gate {
	return &Gate{store: s, limiter: limiter}
}

// Validate returns the active key matching token
func (g *Gate) Validate(ctx context.Context, token string) (*domain.APIKey, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &domain.AuthError{}
	}

	k, err := g.store.GetAPIKey(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.AuthError{}
	}
	if err != nil {
		return nil, fmt.Errorf("validate api key: %w", err)
	}
	if !k.IsActive {
		return nil, &domain.AuthError{}
	}
	return k, nil
}

// Authorize validates token and charges one request to its rate limit
func (g *Gate) Authorize(ctx context.Context, token string) (*domain.APIKey, error) {
	k, err := g.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !g.limiter.Allow(k.Key) {
		return nil, ErrRateLimited
	}
	return k, nil
}

// CreateKey issues a new active key for a user
func (g *Gate) CreateKey(ctx context.Context, user, email, name string) (*domain.APIKey, error) {
	user = strings.TrimSpace(user)
	email = strings.TrimSpace(email)
	if user == "" || email == "" {
		return nil, &domain.ValidationError{Message: "Username and email are required"}
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultKeyName
	}

	k := &domain.APIKey{
		UserName: user,
		Email:    email,
		Name:     name,
		Key:      NewToken(),
		IsActive: true,
	}
	if err := g.store.CreateAPIKey(ctx, k); err != nil {
		return nil, err
	}
	return k, nil
}

// ListKeys returns every issued key
func (g *Gate) ListKeys(ctx context.Context) ([]domain.APIKey, error) {
	return g.store.ListAPIKeys(ctx)
}

// Revoke deactivates a key
func (g *Gate) Revoke(ctx context.Context, token string) error {
	if err := g.store.SetAPIKeyActive(ctx, token, false); err != nil {
		return err
	}
	g.limiter.Forget(token)
	return nil
}

// NewToken returns a random 32 character hex token
func NewToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

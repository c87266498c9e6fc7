package auth

import (
	"context"
	"errors"
	"fmt"

	"pagat.app/internal/store"
)

// EnsureBootstrapAdmin creates the reserved administrator when no users
// exist. It reports whether an account was created.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context) (bool, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := s.createBootstrapAdmin(ctx); err != nil {
		return false, err
	}
	s.logger.Info("created bootstrap admin", "username", s.bootstrap.Username)
	return true, nil
}

// createBootstrapAdmin inserts the reserved approved administrator. A
// concurrent creation is resolved by reading the winner back.
func (s *Service) createBootstrapAdmin(ctx context.Context) (*store.User, error) {
	hash, err := HashPassword(s.bootstrap.Password, s.cost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &store.User{
		Username:     s.bootstrap.Username,
		PasswordHash: hash,
		Approved:     store.Approved,
		Provider:     store.ProviderLocal,
		Role:         store.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.users.Create(ctx, u)
	if errors.Is(err, store.ErrConflict) {
		return s.users.FindByUsername(ctx, s.bootstrap.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("creating bootstrap admin: %w", err)
	}
	return u, nil
}

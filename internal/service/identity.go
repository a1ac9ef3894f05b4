package service

import (
	"context"
	"errors"

	"talenttrade/backend/internal/models"
	"talenttrade/backend/internal/repository"
	"talenttrade/backend/pkg/cache"
	apperrors "talenttrade/backend/pkg/errors"
	"talenttrade/backend/pkg/jwt"
	"talenttrade/backend/pkg/logger"
	"talenttrade/backend/pkg/middleware"
)

// IdentityService verifies bearer credentials and resolves display identities
type IdentityService struct {
	users  repository.UserRepository
	tokens *jwt.Service
	cache  *cache.Cache[models.User]
	log    *logger.Logger
}

// NewIdentityService creates the verifier. cache may be nil to disable lookup caching.
func NewIdentityService(users repository.UserRepository, tokens *jwt.Service, c *cache.Cache[models.User], log *logger.Logger) *IdentityService {
	return &IdentityService{users: users, tokens: tokens, cache: c, log: log}
}

// Verify resolves a credential to a non-banned user. Every failure is the same Authentication error.
func (s *IdentityService) Verify(ctx context.Context, token string) (*models.User, error) {
	ctx, span := tracer.Start(ctx, "identity.verify")
	defer span.End()

	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, apperrors.Authentication("Authentication error").WithCause(err)
	}

	// always read through so a ban takes effect on the next handshake
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Authentication("Authentication error").WithCause(err)
		}
		return nil, apperrors.Persistence("Failed to load user", err)
	}
	if user.Banned {
		return nil, apperrors.Authentication("Authentication error")
	}

	if s.cache != nil {
		s.cache.Set(user.ID, *user)
	}
	return user, nil
}

// Authenticate adapts Verify for the HTTP auth middleware
func (s *IdentityService) Authenticate(ctx context.Context, token string) (*middleware.Principal, error) {
	user, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &middleware.Principal{ID: user.ID, Name: user.Name, Role: user.Role}, nil
}

// Lookup returns a user for display purposes, served from cache when possible
func (s *IdentityService) Lookup(ctx context.Context, userID string) (*models.User, error) {
	if s.cache != nil {
		if u, ok := s.cache.Get(userID); ok {
			return &u, nil
		}
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.Persistence("Failed to load user", err)
	}

	if s.cache != nil {
		s.cache.Set(user.ID, *user)
	}
	return user, nil
}

// Package service contains the business logic layer: identity
// resolution, the display-name rules, and score ingestion. Services
// take repository interfaces and return domain errors; they know
// nothing about HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bbmw0/stack-server/internal/apperror"
	"github.com/bbmw0/stack-server/internal/auth"
	"github.com/bbmw0/stack-server/internal/model"
	"github.com/bbmw0/stack-server/internal/repository"
)

// MinNameLength is the shortest display name the registry accepts.
const MinNameLength = 2

// reservedNames can never be claimed through a rename or availability
// check; they are the shared defaults any number of users may hold.
var reservedNames = map[string]bool{
	"Guest":  true,
	"Player": true,
}

// IdentityService maps inbound identity evidence (an OAuth profile or
// a device id) to the single canonical user record, creating one on
// first sight.
type IdentityService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(users repository.UserRepository, logger *slog.Logger) *IdentityService {
	return &IdentityService{
		users:  users,
		logger: logger,
	}
}

// ResolveProvider returns the canonical user for an OAuth profile,
// creating one on first login. On subsequent logins the profile fields
// are refreshed from the provider, keeping the stored value wherever
// the provider sent nothing.
func (s *IdentityService) ResolveProvider(ctx context.Context, provider string, profile *auth.Profile) (*model.User, error) {
	if profile == nil || profile.Subject == "" {
		return nil, fmt.Errorf("service/identity: provider profile must not be empty")
	}

	user, err := s.users.FindByProvider(ctx, provider, profile.Subject)
	switch {
	case err == nil:
		return s.refreshProfile(ctx, user, profile)
	case errors.Is(err, apperror.ErrNotFound):
		return s.createUser(ctx, provider, profile.Subject, profile.Name, profile.Email, profile.AvatarURL)
	default:
		return nil, fmt.Errorf("service/identity: resolving %s user: %w", provider, err)
	}
}

// ResolveDevice returns the canonical user for an anonymous device id,
// creating one if absent. name is only used at creation; renames for
// existing users go through the score submission path.
func (s *IdentityService) ResolveDevice(ctx context.Context, deviceID, name string) (*model.User, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, apperror.ValidationFailed("deviceId", "deviceId is required")
	}

	user, err := s.users.FindByProvider(ctx, model.ProviderAnon, deviceID)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, apperror.ErrNotFound):
		return s.createUser(ctx, model.ProviderAnon, deviceID, name, "", "")
	default:
		return nil, fmt.Errorf("service/identity: resolving device user: %w", err)
	}
}

// User returns the user for the given internal ID. Used by /api/me
// after the middleware validates the session token.
func (s *IdentityService) User(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, fmt.Errorf("service/identity: user ID must not be empty")
	}

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %s: %w", id, err)
	}
	return user, nil
}

// IsNameAvailable implements the Name Registry check: a name is
// available when it is long enough, not reserved, and not held
// case-insensitively by any user other than excludeID.
func (s *IdentityService) IsNameAvailable(ctx context.Context, name, excludeID string) (bool, error) {
	name = strings.TrimSpace(name)
	if len(name) < MinNameLength || reservedNames[name] {
		return false, nil
	}

	inUse, err := s.users.NameInUse(ctx, name, excludeID)
	if err != nil {
		return false, fmt.Errorf("service/identity: checking name: %w", err)
	}
	return !inUse, nil
}

// IsNameAvailableForDevice is the variant used by the public
// name-availability endpoint: when the device already has a user, that
// user's own name counts as available to them.
func (s *IdentityService) IsNameAvailableForDevice(ctx context.Context, name, deviceID string) (bool, error) {
	excludeID := ""
	if deviceID != "" {
		user, err := s.users.FindByProvider(ctx, model.ProviderAnon, deviceID)
		if err == nil {
			excludeID = user.ID
		} else if !errors.Is(err, apperror.ErrNotFound) {
			return false, fmt.Errorf("service/identity: resolving device for name check: %w", err)
		}
	}
	return s.IsNameAvailable(ctx, name, excludeID)
}

// renameCandidate decides whether a submission's requested player name
// should be attempted as a rename. Returns "" when the name should be
// ignored: empty, unchanged, reserved, too short, or already held by
// another user. The storage layer still arbitrates races; a candidate
// that loses one is silently dropped there.
func (s *IdentityService) renameCandidate(ctx context.Context, user *model.User, requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == user.DisplayName {
		return ""
	}

	available, err := s.IsNameAvailable(ctx, requested, user.ID)
	if err != nil {
		s.logger.Warn("name availability check failed, keeping existing name",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	if !available {
		return ""
	}
	return requested
}

// createUser inserts a new user, enforcing name uniqueness at creation:
// a requested name that is unavailable (or collides at insert time)
// falls back to the default name rather than failing the resolution.
func (s *IdentityService) createUser(ctx context.Context, provider, providerID, name, email, avatarURL string) (*model.User, error) {
	name = strings.TrimSpace(name)
	if name != "" && name != model.DefaultName {
		available, err := s.IsNameAvailable(ctx, name, "")
		if err != nil || !available {
			name = model.DefaultName
		}
	}
	if name == "" {
		name = model.DefaultName
	}

	user := &model.User{
		Provider:    provider,
		ProviderID:  providerID,
		DisplayName: name,
		Email:       email,
		AvatarURL:   avatarURL,
	}

	err := s.users.Create(ctx, user)
	if errors.Is(err, apperror.ErrNameUnavailable) {
		// Lost the creation race for the name; retry under the default.
		user.DisplayName = model.DefaultName
		err = s.users.Create(ctx, user)
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: creating %s user: %w", provider, err)
	}

	s.logger.Info("user created",
		slog.String("userID", user.ID),
		slog.String("provider", provider),
		slog.String("name", user.DisplayName),
	)
	return user, nil
}

// refreshProfile overwrites the stored profile with the provider's
// latest values, preserving each stored field when the incoming one is
// empty. A display name that collides with another user's degrades to
// keeping the current name.
func (s *IdentityService) refreshProfile(ctx context.Context, user *model.User, profile *auth.Profile) (*model.User, error) {
	currentName := user.DisplayName

	if profile.Name != "" {
		user.DisplayName = profile.Name
	}
	if profile.Email != "" {
		user.Email = profile.Email
	}
	if profile.AvatarURL != "" {
		user.AvatarURL = profile.AvatarURL
	}

	err := s.users.UpdateProfile(ctx, user)
	if errors.Is(err, apperror.ErrNameUnavailable) {
		user.DisplayName = currentName
		err = s.users.UpdateProfile(ctx, user)
	}
	if err != nil {
		return nil, fmt.Errorf("service/identity: refreshing profile for user %s: %w", user.ID, err)
	}

	return user, nil
}

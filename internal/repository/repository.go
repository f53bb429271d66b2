// Package repository declares the storage interfaces the service layer
// depends on. The sqlite subpackage provides the real implementation;
// tests substitute in-memory fakes.
package repository

import (
	"context"

	"github.com/bbmw0/stack-server/internal/model"
)

// UserRepository is the durable store of player accounts and their
// running statistics.
type UserRepository interface {
	// FindByProvider looks a user up by identity evidence.
	// Returns apperror.ErrNotFound if no such user exists.
	FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error)

	// GetByID looks a user up by internal id.
	GetByID(ctx context.Context, id string) (*model.User, error)

	// Create inserts a new user. The display name is checked against the
	// uniqueness constraint at insert time; a collision returns an error
	// wrapping apperror.ErrNameUnavailable so the caller can fall back to
	// the default name.
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile overwrites display name, email, and avatar and
	// refreshes updated_at. Statistics fields are untouched.
	UpdateProfile(ctx context.Context, user *model.User) error

	// NameInUse reports whether any user other than excludeID currently
	// holds the name, compared case-insensitively.
	NameInUse(ctx context.Context, name, excludeID string) (bool, error)

	// Leaderboard returns up to limit users ordered by best score
	// descending, ties broken by id ascending.
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
}

// ScoreRepository owns the append-only score ledger and the atomic
// session merge into the owning user's statistics row.
type ScoreRepository interface {
	// RecordSession applies one session result in a single transaction:
	// append the ledger row, merge the statistics counters, and (when
	// displayName is non-empty) rename the user. A rename that loses the
	// uniqueness race is dropped while the rest of the merge still
	// applies. Returns the updated user snapshot and whether a merge
	// actually happened.
	//
	// When the result carries a SessionKey that was already recorded, the
	// call is a no-op: the current snapshot is returned with merged=false.
	RecordSession(ctx context.Context, userID string, res model.SessionResult, displayName string) (user *model.User, merged bool, err error)

	// ListRecent returns the most recent limit scores for a user,
	// newest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]model.Score, error)
}

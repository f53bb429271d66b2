package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/bbmw0/stack-server/internal/apperror"
	"github.com/bbmw0/stack-server/internal/model"
	"github.com/bbmw0/stack-server/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, provider, provider_id, display_name, email, avatar_url,
	best_score, games_played, total_perfects, best_combo, total_score, xp,
	achievements, created_at, updated_at`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser reads one users row, decoding the achievements JSON column.
func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var achievements string

	err := row.Scan(
		&u.ID,
		&u.Provider,
		&u.ProviderID,
		&u.DisplayName,
		&u.Email,
		&u.AvatarURL,
		&u.BestScore,
		&u.GamesPlayed,
		&u.Perfects,
		&u.BestCombo,
		&u.TotalScore,
		&u.XP,
		&achievements,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(achievements), &u.Achievements); err != nil {
		return nil, fmt.Errorf("decoding achievements for user %s: %w", u.ID, err)
	}
	return &u, nil
}

// marshalAchievements encodes the set for storage; nil becomes "[]" so
// the column is always valid JSON.
func marshalAchievements(achievements []string) (string, error) {
	if achievements == nil {
		achievements = []string{}
	}
	raw, err := json.Marshal(achievements)
	if err != nil {
		return "", fmt.Errorf("encoding achievements: %w", err)
	}
	return string(raw), nil
}

// FindByProvider looks a user up by their (provider, provider_id) pair.
// Returns apperror.ErrNotFound if no such user exists.
func (db *DB) FindByProvider(ctx context.Context, provider, providerID string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE provider = ? AND provider_id = ?`,
		provider, providerID,
	)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", provider+"/"+providerID)
		}
		return nil, fmt.Errorf("sqlite: finding user %s/%s: %w", provider, providerID, err)
	}
	return user, nil
}

// GetByID retrieves a user by internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	)

	user, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return user, nil
}

// Create inserts a new user, generating the internal ID and timestamps.
//
// Display-name uniqueness is enforced by the partial unique index, not a
// prior read: a collision surfaces as an error wrapping
// apperror.ErrNameUnavailable so the caller can retry with the default
// name. A (provider, provider_id) collision is a real conflict and is
// returned as-is.
func (db *DB) Create(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	achievements, err := marshalAchievements(user.Achievements)
	if err != nil {
		return fmt.Errorf("sqlite: creating user: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (id, provider, provider_id, display_name, email, avatar_url,
			best_score, games_played, total_perfects, best_combo, total_score, xp,
			achievements, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Provider,
		user.ProviderID,
		user.DisplayName,
		user.Email,
		user.AvatarURL,
		user.BestScore,
		user.GamesPlayed,
		user.Perfects,
		user.BestCombo,
		user.TotalScore,
		user.XP,
		achievements,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isNameViolation(err) {
			return fmt.Errorf("sqlite: creating user: %w", apperror.NameUnavailable(user.DisplayName))
		}
		return fmt.Errorf("sqlite: creating user (%s/%s): %w", user.Provider, user.ProviderID, err)
	}

	return nil
}

// UpdateProfile overwrites display name, email, and avatar and refreshes
// updated_at. Statistics columns are untouched. A display-name collision
// returns an error wrapping apperror.ErrNameUnavailable.
func (db *DB) UpdateProfile(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET display_name = ?, email = ?, avatar_url = ?, updated_at = ?
		 WHERE id = ?`,
		user.DisplayName,
		user.Email,
		user.AvatarURL,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isNameViolation(err) {
			return fmt.Errorf("sqlite: updating profile: %w", apperror.NameUnavailable(user.DisplayName))
		}
		return fmt.Errorf("sqlite: updating profile for user %s: %w", user.ID, err)
	}

	return nil
}

// NameInUse reports whether any user other than excludeID currently
// holds the name, compared case-insensitively.
func (db *DB) NameInUse(ctx context.Context, name, excludeID string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM users WHERE LOWER(display_name) = LOWER(?) AND id != ?
		 )`,
		name, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking name %q: %w", name, err)
	}
	return exists, nil
}

// Leaderboard returns up to limit users ordered by best score descending.
// Ties break on id ascending so the order is deterministic.
func (db *DB) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, display_name, best_score, avatar_url, xp
		 FROM users
		 ORDER BY best_score DESC, id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]model.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.ID, &e.Name, &e.Score, &e.AvatarURL, &e.XP); err != nil {
			return nil, fmt.Errorf("sqlite: scanning leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: reading leaderboard rows: %w", err)
	}

	return entries, nil
}

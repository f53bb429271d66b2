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

// compile-time check that *DB implements repository.ScoreRepository
var _ repository.ScoreRepository = (*DB)(nil)

// RecordSession applies one session result atomically: ledger append,
// statistics merge, and optional rename all happen in a single write
// transaction, so a submission is either fully visible or not at all.
//
// The statistics UPDATE uses relative expressions (games_played + 1,
// MAX(best_score, ?)) rather than values computed in Go, so concurrent
// merges for the same user can never overwrite each other's increments.
// The achievements union is the one read-modify-write step; it is safe
// because the whole merge runs inside one transaction on the
// single-connection pool.
func (db *DB) RecordSession(ctx context.Context, userID string, res model.SessionResult, displayName string) (*model.User, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: beginning session transaction: %w", err)
	}
	defer tx.Rollback()

	// Replay check: a session key we have already recorded means this is
	// a retried request, not a new session. Return the current snapshot
	// without merging anything.
	if res.SessionKey != "" {
		var seen bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM scores WHERE session_key = ?)`, res.SessionKey,
		).Scan(&seen)
		if err != nil {
			return nil, false, fmt.Errorf("sqlite: checking session key: %w", err)
		}
		if seen {
			user, err := getUserTx(ctx, tx, userID)
			if err != nil {
				return nil, false, err
			}
			if err := tx.Commit(); err != nil {
				return nil, false, fmt.Errorf("sqlite: committing session transaction: %w", err)
			}
			return user, false, nil
		}
	}

	// Ledger append. The empty session key is stored as NULL so the
	// partial unique index ignores keyless submissions.
	var sessionKey sql.NullString
	if res.SessionKey != "" {
		sessionKey = sql.NullString{String: res.SessionKey, Valid: true}
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO scores (id, user_id, score, max_combo, perfects, zone, session_key, played_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		xid.New().String(),
		userID,
		res.Score,
		res.MaxCombo,
		res.Perfects,
		res.Zone,
		sessionKey,
		time.Now(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: appending score for user %s: %w", userID, err)
	}

	// Merge the achievement sets. This is the only field that cannot be
	// expressed as a relative SQL update.
	var rawAchievements string
	err = tx.QueryRowContext(ctx,
		`SELECT achievements FROM users WHERE id = ?`, userID,
	).Scan(&rawAchievements)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, apperror.NotFound("user", userID)
		}
		return nil, false, fmt.Errorf("sqlite: reading achievements for user %s: %w", userID, err)
	}
	merged, err := unionAchievements(rawAchievements, res.Achievements)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: merging achievements for user %s: %w", userID, err)
	}

	// Statistics merge, with the rename folded into the same statement
	// when one was requested. If the rename loses the uniqueness race,
	// drop it and apply the merge under the existing name. An
	// unavailable name never fails a submission.
	if err := updateStatsTx(ctx, tx, userID, res, merged, displayName); err != nil {
		if !isNameViolation(err) {
			return nil, false, err
		}
		if err := updateStatsTx(ctx, tx, userID, res, merged, ""); err != nil {
			return nil, false, err
		}
	}

	user, err := getUserTx(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlite: committing session transaction: %w", err)
	}
	return user, true, nil
}

// updateStatsTx runs the statistics UPDATE. displayName == "" means
// keep the current name.
func updateStatsTx(ctx context.Context, tx *sql.Tx, userID string, res model.SessionResult, achievements, displayName string) error {
	var err error
	if displayName != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET
				display_name   = ?,
				best_score     = MAX(best_score, ?),
				games_played   = games_played + 1,
				total_perfects = total_perfects + ?,
				best_combo     = MAX(best_combo, ?),
				total_score    = total_score + ?,
				xp             = xp + ?,
				achievements   = ?,
				updated_at     = ?
			 WHERE id = ?`,
			displayName, res.Score, res.Perfects, res.MaxCombo, res.Score,
			res.XPEarned, achievements, time.Now(), userID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE users SET
				best_score     = MAX(best_score, ?),
				games_played   = games_played + 1,
				total_perfects = total_perfects + ?,
				best_combo     = MAX(best_combo, ?),
				total_score    = total_score + ?,
				xp             = xp + ?,
				achievements   = ?,
				updated_at     = ?
			 WHERE id = ?`,
			res.Score, res.Perfects, res.MaxCombo, res.Score,
			res.XPEarned, achievements, time.Now(), userID,
		)
	}
	if err != nil && !isNameViolation(err) {
		return fmt.Errorf("sqlite: merging stats for user %s: %w", userID, err)
	}
	return err
}

// unionAchievements decodes the stored JSON set and appends any new
// identifiers not already present. Existing order is preserved.
func unionAchievements(stored string, added []string) (string, error) {
	var set []string
	if err := json.Unmarshal([]byte(stored), &set); err != nil {
		return "", fmt.Errorf("decoding stored achievements: %w", err)
	}

	seen := make(map[string]bool, len(set))
	for _, a := range set {
		seen[a] = true
	}
	for _, a := range added {
		if a != "" && !seen[a] {
			seen[a] = true
			set = append(set, a)
		}
	}

	return marshalAchievements(set)
}

// getUserTx reads a full user row inside the transaction.
func getUserTx(ctx context.Context, tx *sql.Tx, id string) (*model.User, error) {
	row := tx.QueryRowContext(ctx,
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

// ListRecent returns the most recent limit scores for a user, newest
// first.
func (db *DB) ListRecent(ctx context.Context, userID string, limit int) ([]model.Score, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, score, max_combo, perfects, zone, played_at
		 FROM scores
		 WHERE user_id = ?
		 ORDER BY played_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing scores for user %s: %w", userID, err)
	}
	defer rows.Close()

	scores := make([]model.Score, 0, limit)
	for rows.Next() {
		var s model.Score
		if err := rows.Scan(&s.ID, &s.UserID, &s.Score, &s.MaxCombo, &s.Perfects, &s.Zone, &s.PlayedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning score row: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: reading score rows: %w", err)
	}

	return scores, nil
}

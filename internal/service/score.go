package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bbmw0/stack-server/internal/apperror"
	"github.com/bbmw0/stack-server/internal/model"
	"github.com/bbmw0/stack-server/internal/repository"
)

const (
	// LeaderboardLimit caps how many entries a leaderboard read returns.
	LeaderboardLimit = 50
	// DefaultRecentLimit is how many ledger rows a recent-scores read
	// returns when the caller doesn't say.
	DefaultRecentLimit = 20
	// MaxRecentLimit caps a recent-scores read.
	MaxRecentLimit = 50
)

// Submission is one parsed score submission: the identity evidence that
// arrived with it plus the validated session result.
//
// UserID is the authenticated internal user id, empty for anonymous
// requests. DeviceID is the fallback identity. PlayerName, when set,
// requests a rename that is applied only if the Name Registry allows it.
type Submission struct {
	UserID     string
	DeviceID   string
	PlayerName string
	Result     model.SessionResult
}

// ScoreService handles score ingestion: validation, identity
// resolution, the atomic ledger-append-plus-statistics-merge, batch
// sync, and the leaderboard read.
type ScoreService struct {
	identity *IdentityService
	users    repository.UserRepository
	scores   repository.ScoreRepository
	logger   *slog.Logger
}

// NewScoreService creates a ScoreService.
func NewScoreService(identity *IdentityService, users repository.UserRepository, scores repository.ScoreRepository, logger *slog.Logger) *ScoreService {
	return &ScoreService{
		identity: identity,
		users:    users,
		scores:   scores,
		logger:   logger,
	}
}

// Submit applies one session result. The submission is rejected before
// anything is written if the result fails validation or no identity can
// be resolved; after that, the ledger append and statistics merge are a
// single atomic storage operation. Returns the updated user snapshot.
func (s *ScoreService) Submit(ctx context.Context, sub Submission) (*model.User, error) {
	if err := validateResult(sub.Result); err != nil {
		return nil, err
	}

	user, err := s.resolve(ctx, sub)
	if err != nil {
		return nil, err
	}

	// A requested rename rides along with the merge; an unavailable name
	// is dropped, never an error.
	name := s.identity.renameCandidate(ctx, user, sub.PlayerName)

	updated, merged, err := s.scores.RecordSession(ctx, user.ID, sub.Result, name)
	if err != nil {
		s.logger.Error("failed to record session",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("recording session: %w", err)
	}

	if merged {
		s.logger.Info("session recorded",
			slog.String("userID", updated.ID),
			slog.Int64("score", sub.Result.Score),
			slog.Int64("bestScore", updated.BestScore),
		)
	} else {
		s.logger.Info("duplicate session ignored",
			slog.String("userID", updated.ID),
			slog.String("sessionKey", sub.Result.SessionKey),
		)
	}

	return updated, nil
}

// Sync applies a batch of previously-unsynced sessions for one device
// in order. Results that fail validation are skipped and do not abort
// the batch; duplicate session keys are skipped too. Returns how many
// sessions were actually merged.
func (s *ScoreService) Sync(ctx context.Context, deviceID, playerName string, results []model.SessionResult) (int, error) {
	user, err := s.identity.ResolveDevice(ctx, deviceID, playerName)
	if err != nil {
		return 0, err
	}

	name := s.identity.renameCandidate(ctx, user, playerName)

	synced := 0
	for _, res := range results {
		if err := validateResult(res); err != nil {
			continue
		}
		_, merged, err := s.scores.RecordSession(ctx, user.ID, res, name)
		if err != nil {
			return synced, fmt.Errorf("syncing session %d of %d: %w", synced+1, len(results), err)
		}
		if merged {
			synced++
			// The rename (if any) rode along with this merge; a replayed
			// session is a no-op and must not consume it.
			name = ""
		}
	}

	s.logger.Info("sessions synced",
		slog.String("userID", user.ID),
		slog.Int("submitted", len(results)),
		slog.Int("synced", synced),
	)

	return synced, nil
}

// Leaderboard returns the top users by best score, capped at
// LeaderboardLimit.
func (s *ScoreService) Leaderboard(ctx context.Context) ([]model.LeaderboardEntry, error) {
	entries, err := s.users.Leaderboard(ctx, LeaderboardLimit)
	if err != nil {
		s.logger.Error("failed to read leaderboard", slog.String("error", err.Error()))
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	return entries, nil
}

// RecentScores returns the newest ledger rows for a user, newest first.
// limit is clamped to [1, MaxRecentLimit], defaulting to
// DefaultRecentLimit.
func (s *ScoreService) RecentScores(ctx context.Context, userID string, limit int) ([]model.Score, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	scores, err := s.scores.ListRecent(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent scores: %w", err)
	}
	return scores, nil
}

// resolve turns a submission's identity evidence into a user record:
// the authenticated user when there is one, else the device identity,
// else the submission cannot be attached to anyone.
func (s *ScoreService) resolve(ctx context.Context, sub Submission) (*model.User, error) {
	if sub.UserID != "" {
		return s.identity.User(ctx, sub.UserID)
	}
	if sub.DeviceID != "" {
		return s.identity.ResolveDevice(ctx, sub.DeviceID, sub.PlayerName)
	}
	return nil, apperror.IdentityRequired()
}

// validateResult enforces the session-result invariants before anything
// is written: a score is mandatory and no counter may be negative.
func validateResult(res model.SessionResult) error {
	if res.Score < 0 {
		return apperror.ValidationFailed("score", "score must not be negative")
	}
	if res.MaxCombo < 0 {
		return apperror.ValidationFailed("maxCombo", "maxCombo must not be negative")
	}
	if res.Perfects < 0 {
		return apperror.ValidationFailed("perfects", "perfects must not be negative")
	}
	if res.XPEarned < 0 {
		return apperror.ValidationFailed("xpEarned", "xpEarned must not be negative")
	}
	return nil
}

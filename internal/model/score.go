package model

import "time"

// Score is one ledger entry: the outcome of a single played game round.
// Rows are append-only and never mutated after insert.
type Score struct {
	ID       string    `json:"id"       db:"id"`
	UserID   string    `json:"userId"   db:"user_id"`
	Score    int64     `json:"score"    db:"score"`
	MaxCombo int64     `json:"maxCombo" db:"max_combo"`
	Perfects int64     `json:"perfects" db:"perfects"`
	Zone     string    `json:"zone,omitempty" db:"zone"`
	PlayedAt time.Time `json:"playedAt" db:"played_at"`
}

// SessionResult is a validated, parsed game-session submission: the
// input to the statistics merge. Handlers decode the wire payload into
// this struct before anything touches storage.
//
// SessionKey is an optional client-generated idempotency token. When a
// submission carries a key that was already recorded, the whole
// submission is a no-op instead of double-counting a retried request.
type SessionResult struct {
	Score        int64
	MaxCombo     int64
	Perfects     int64
	Zone         string
	XPEarned     int64
	Achievements []string
	SessionKey   string
}

// LeaderboardEntry is the derived per-user leaderboard projection.
// It is never stored, only read out of the users table.
type LeaderboardEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Score     int64  `json:"score"`
	AvatarURL string `json:"avatar,omitempty"`
	XP        int64  `json:"xp"`
}

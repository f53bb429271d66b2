// Package model defines the data structures used throughout the application.
package model

import "time"

// Identity providers a user can come from. ProviderAnon is the literal
// provider used for device-based identities, where the device id takes
// the place of the provider-assigned user id.
const (
	ProviderGoogle   = "google"
	ProviderLinkedIn = "linkedin"
	ProviderAnon     = "anon"
)

// DefaultName is the display name given to users who never picked one.
// Many users may hold it at once; it is exempt from the uniqueness rule.
const DefaultName = "Player"

// User represents one player account.
//
// A user is keyed externally by the (Provider, ProviderID) pair: either
// an OAuth provider's stable subject id or an anonymous device id. We
// still generate our own internal string ID (xid) so primary keys are
// never tied to a third party's numbering scheme.
//
// The statistics fields (BestScore through Achievements) are running
// aggregates maintained by the score ingestion path. BestScore and
// BestCombo only ever grow; the total counters only ever increase.
type User struct {
	ID          string `json:"id"          db:"id"`
	Provider    string `json:"provider"    db:"provider"`
	ProviderID  string `json:"providerId"  db:"provider_id"`
	DisplayName string `json:"name"        db:"display_name"`
	Email       string `json:"email,omitempty"     db:"email"`
	AvatarURL   string `json:"avatarUrl,omitempty" db:"avatar_url"`
	BestScore   int64  `json:"bestScore"   db:"best_score"`
	GamesPlayed int64  `json:"gamesPlayed" db:"games_played"`
	Perfects    int64  `json:"totalPerfects" db:"total_perfects"`
	BestCombo   int64  `json:"bestCombo"   db:"best_combo"`
	TotalScore  int64  `json:"totalScore"  db:"total_score"`
	XP          int64  `json:"xp"          db:"xp"`
	// Achievements is a deduplicated set of opaque achievement identifiers,
	// stored as a JSON array column. Order is not significant.
	Achievements []string  `json:"achievements" db:"achievements"`
	CreatedAt    time.Time `json:"createdAt"    db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"    db:"updated_at"`
}

// IsAnonymous reports whether the user is a device-based identity.
func (u *User) IsAnonymous() bool {
	return u.Provider == ProviderAnon
}

package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bbmw0/stack-server/internal/apperror"
	"github.com/bbmw0/stack-server/internal/model"
)

func newTestScoreService() (*ScoreService, *fakeUserRepo, *fakeScoreRepo) {
	users := newFakeUserRepo()
	scores := newFakeScoreRepo(users)
	identity := NewIdentityService(users, newTestLogger())
	return NewScoreService(identity, users, scores, newTestLogger()), users, scores
}

// =========================================================================
// SUBMIT TESTS
// =========================================================================

func TestSubmit_AnonymousDevice(t *testing.T) {
	svc, _, scores := newTestScoreService()

	user, err := svc.Submit(context.Background(), Submission{
		DeviceID:   "device-1",
		PlayerName: "Trinity",
		Result:     model.SessionResult{Score: 42, XPEarned: 4},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if user.BestScore != 42 {
		t.Errorf("BestScore = %d, want 42", user.BestScore)
	}
	if user.GamesPlayed != 1 {
		t.Errorf("GamesPlayed = %d, want 1", user.GamesPlayed)
	}
	if user.DisplayName != "Trinity" {
		t.Errorf("DisplayName = %q, want %q", user.DisplayName, "Trinity")
	}
	if len(scores.ledger) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(scores.ledger))
	}
}

func TestSubmit_AuthenticatedUser(t *testing.T) {
	svc, users, _ := newTestScoreService()

	existing := &model.User{Provider: model.ProviderGoogle, ProviderID: "g-1", DisplayName: "Alice"}
	if err := users.Create(context.Background(), existing); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	user, err := svc.Submit(context.Background(), Submission{
		UserID: existing.ID,
		Result: model.SessionResult{Score: 10},
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if user.ID != existing.ID {
		t.Errorf("submitted under ID %q, want %q", user.ID, existing.ID)
	}
}

func TestSubmit_NoIdentity(t *testing.T) {
	svc, _, scores := newTestScoreService()

	_, err := svc.Submit(context.Background(), Submission{
		Result: model.SessionResult{Score: 10},
	})
	if !errors.Is(err, apperror.ErrIdentityRequired) {
		t.Errorf("Submit() error = %v, want ErrIdentityRequired", err)
	}
	if len(scores.ledger) != 0 {
		t.Errorf("ledger rows = %d, want 0 after rejection", len(scores.ledger))
	}
}

func TestSubmit_NegativeScore(t *testing.T) {
	svc, _, scores := newTestScoreService()

	_, err := svc.Submit(context.Background(), Submission{
		DeviceID: "device-1",
		Result:   model.SessionResult{Score: -5},
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Submit() error = %v, want ErrValidation", err)
	}
	if len(scores.ledger) != 0 {
		t.Errorf("ledger rows = %d, want 0 after rejection", len(scores.ledger))
	}
}

func TestSubmit_NegativeCounters(t *testing.T) {
	svc, _, _ := newTestScoreService()
	ctx := context.Background()

	for _, res := range []model.SessionResult{
		{Score: 1, MaxCombo: -1},
		{Score: 1, Perfects: -1},
		{Score: 1, XPEarned: -1},
	} {
		_, err := svc.Submit(ctx, Submission{DeviceID: "device-1", Result: res})
		if !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("Submit(%+v) error = %v, want ErrValidation", res, err)
		}
	}
}

func TestSubmit_RenameIgnoredWhenTaken(t *testing.T) {
	svc, _, _ := newTestScoreService()
	ctx := context.Background()

	if _, err := svc.Submit(ctx, Submission{
		DeviceID:   "device-1",
		PlayerName: "Neo",
		Result:     model.SessionResult{Score: 1},
	}); err != nil {
		t.Fatalf("Submit() first: %v", err)
	}

	// A different device asking for the same name: the score lands, the
	// rename does not.
	user, err := svc.Submit(ctx, Submission{
		DeviceID:   "device-2",
		PlayerName: "Neo",
		Result:     model.SessionResult{Score: 2},
	})
	if err != nil {
		t.Fatalf("Submit() second: %v", err)
	}
	if user.DisplayName != model.DefaultName {
		t.Errorf("DisplayName = %q, want %q", user.DisplayName, model.DefaultName)
	}
	if user.GamesPlayed != 1 {
		t.Errorf("GamesPlayed = %d, want 1", user.GamesPlayed)
	}
}

func TestSubmit_DuplicateSessionKey(t *testing.T) {
	svc, _, scores := newTestScoreService()
	ctx := context.Background()

	sub := Submission{
		DeviceID: "device-1",
		Result:   model.SessionResult{Score: 10, SessionKey: "sess-1"},
	}
	if _, err := svc.Submit(ctx, sub); err != nil {
		t.Fatalf("Submit() first: %v", err)
	}

	user, err := svc.Submit(ctx, sub)
	if err != nil {
		t.Fatalf("Submit() replay: %v", err)
	}
	if user.GamesPlayed != 1 {
		t.Errorf("GamesPlayed = %d, want 1 (replay must not merge)", user.GamesPlayed)
	}
	if len(scores.ledger) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(scores.ledger))
	}
}

// =========================================================================
// SYNC TESTS
// =========================================================================

func TestSync_SkipsInvalidResults(t *testing.T) {
	svc, _, _ := newTestScoreService()

	synced, err := svc.Sync(context.Background(), "device-1", "", []model.SessionResult{
		{Score: 5},
		{Score: -1}, // invalid, skipped
		{Score: 8},
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if synced != 2 {
		t.Errorf("synced = %d, want 2", synced)
	}
}

func TestSync_DuplicateKeysCountOnce(t *testing.T) {
	svc, _, _ := newTestScoreService()

	synced, err := svc.Sync(context.Background(), "device-1", "", []model.SessionResult{
		{Score: 5, SessionKey: "sess-a"},
		{Score: 5, SessionKey: "sess-a"},
		{Score: 9, SessionKey: "sess-b"},
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if synced != 2 {
		t.Errorf("synced = %d, want 2", synced)
	}
}

func TestSync_RenameSurvivesLeadingReplay(t *testing.T) {
	svc, users, _ := newTestScoreService()
	ctx := context.Background()

	// The first batch entry was already recorded in an earlier request.
	if _, err := svc.Submit(ctx, Submission{
		DeviceID: "device-1",
		Result:   model.SessionResult{Score: 5, SessionKey: "sess-a"},
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	synced, err := svc.Sync(ctx, "device-1", "Trinity", []model.SessionResult{
		{Score: 5, SessionKey: "sess-a"}, // replay, no merge
		{Score: 9, SessionKey: "sess-b"},
	})
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if synced != 1 {
		t.Errorf("synced = %d, want 1", synced)
	}

	// The replayed no-op must not consume the rename.
	user, err := users.FindByProvider(ctx, model.ProviderAnon, "device-1")
	if err != nil {
		t.Fatalf("FindByProvider() error = %v", err)
	}
	if user.DisplayName != "Trinity" {
		t.Errorf("DisplayName = %q, want %q", user.DisplayName, "Trinity")
	}
}

func TestSync_RequiresDevice(t *testing.T) {
	svc, _, _ := newTestScoreService()

	_, err := svc.Sync(context.Background(), "", "", []model.SessionResult{{Score: 1}})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Errorf("Sync() error = %v, want ErrValidation", err)
	}
}

func TestSync_MergesAllStats(t *testing.T) {
	svc, users, _ := newTestScoreService()

	if _, err := svc.Sync(context.Background(), "device-1", "", []model.SessionResult{
		{Score: 10, XPEarned: 1},
		{Score: 20, XPEarned: 2},
	}); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	user, err := users.FindByProvider(context.Background(), model.ProviderAnon, "device-1")
	if err != nil {
		t.Fatalf("FindByProvider() error = %v", err)
	}
	if user.GamesPlayed != 2 {
		t.Errorf("GamesPlayed = %d, want 2", user.GamesPlayed)
	}
	if user.TotalScore != 30 {
		t.Errorf("TotalScore = %d, want 30", user.TotalScore)
	}
	if user.BestScore != 20 {
		t.Errorf("BestScore = %d, want 20", user.BestScore)
	}
}

func TestSync_StorageFailureReturnsPartialCount(t *testing.T) {
	svc, _, scores := newTestScoreService()

	scores.err = errors.New("disk full")
	synced, err := svc.Sync(context.Background(), "device-1", "", []model.SessionResult{{Score: 1}})
	if err == nil {
		t.Fatal("Sync() should surface the storage error")
	}
	if synced != 0 {
		t.Errorf("synced = %d, want 0", synced)
	}
}

// =========================================================================
// READ TESTS
// =========================================================================

func TestLeaderboard_PassesThrough(t *testing.T) {
	svc, _, _ := newTestScoreService()
	ctx := context.Background()

	for _, sub := range []Submission{
		{DeviceID: "device-1", PlayerName: "aa", Result: model.SessionResult{Score: 10}},
		{DeviceID: "device-2", PlayerName: "bb", Result: model.SessionResult{Score: 30}},
	} {
		if _, err := svc.Submit(ctx, sub); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	entries, err := svc.Leaderboard(ctx)
	if err != nil {
		t.Fatalf("Leaderboard() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Name != "bb" {
		t.Errorf("entries[0].Name = %q, want %q", entries[0].Name, "bb")
	}
}

func TestRecentScores_ClampsLimit(t *testing.T) {
	svc, users, scores := newTestScoreService()

	user := &model.User{Provider: model.ProviderAnon, ProviderID: "device-1", DisplayName: "Player"}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("seeding user: %v", err)
	}

	tests := []struct {
		limit int
		want  int
	}{
		{0, DefaultRecentLimit},
		{-3, DefaultRecentLimit},
		{10, 10},
		{500, MaxRecentLimit},
	}
	for _, tt := range tests {
		if _, err := svc.RecentScores(context.Background(), user.ID, tt.limit); err != nil {
			t.Fatalf("RecentScores(%d) error = %v", tt.limit, err)
		}
		if scores.lastLimit != tt.want {
			t.Errorf("RecentScores(%d) used limit %d, want %d", tt.limit, scores.lastLimit, tt.want)
		}
	}
}

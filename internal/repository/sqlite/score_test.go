package sqlite

import (
	"context"
	"sync"
	"testing"

	"github.com/bbmw0/stack-server/internal/model"
)

// =========================================================================
// RECORD SESSION TESTS
// =========================================================================

func TestRecordSession_MergesStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "merger")

	first := model.SessionResult{Score: 100, MaxCombo: 5, Perfects: 3, XPEarned: 10}
	updated, merged, err := db.RecordSession(ctx, user.ID, first, "")
	if err != nil {
		t.Fatalf("RecordSession() first error = %v", err)
	}
	if !merged {
		t.Error("RecordSession() merged = false, want true for a fresh session")
	}
	if updated.BestScore != 100 || updated.GamesPlayed != 1 {
		t.Errorf("after first: best=%d games=%d, want 100/1", updated.BestScore, updated.GamesPlayed)
	}

	second := model.SessionResult{Score: 40, MaxCombo: 9, Perfects: 2, XPEarned: 5}
	updated, _, err = db.RecordSession(ctx, user.ID, second, "")
	if err != nil {
		t.Fatalf("RecordSession() second error = %v", err)
	}

	// Best score is monotonic; counters accumulate.
	if updated.BestScore != 100 {
		t.Errorf("BestScore = %d, want 100 (lower score must not regress it)", updated.BestScore)
	}
	if updated.GamesPlayed != 2 {
		t.Errorf("GamesPlayed = %d, want 2", updated.GamesPlayed)
	}
	if updated.BestCombo != 9 {
		t.Errorf("BestCombo = %d, want 9", updated.BestCombo)
	}
	if updated.Perfects != 5 {
		t.Errorf("Perfects = %d, want 5", updated.Perfects)
	}
	if updated.TotalScore != 140 {
		t.Errorf("TotalScore = %d, want 140", updated.TotalScore)
	}
	if updated.XP != 15 {
		t.Errorf("XP = %d, want 15", updated.XP)
	}
}

func TestRecordSession_AchievementsUnion(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "collector")

	if _, _, err := db.RecordSession(ctx, user.ID, model.SessionResult{
		Score:        10,
		Achievements: []string{"first_game", "combo_5"},
	}, ""); err != nil {
		t.Fatalf("RecordSession() first: %v", err)
	}

	updated, _, err := db.RecordSession(ctx, user.ID, model.SessionResult{
		Score:        20,
		Achievements: []string{"combo_5", "sky_high"},
	}, "")
	if err != nil {
		t.Fatalf("RecordSession() second: %v", err)
	}

	want := []string{"first_game", "combo_5", "sky_high"}
	if len(updated.Achievements) != len(want) {
		t.Fatalf("Achievements = %v, want %v", updated.Achievements, want)
	}
	for i, a := range want {
		if updated.Achievements[i] != a {
			t.Errorf("Achievements[%d] = %q, want %q", i, updated.Achievements[i], a)
		}
	}
}

func TestRecordSession_SessionKeyReplay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "replayer")

	res := model.SessionResult{Score: 55, XPEarned: 7, SessionKey: "sess-abc"}

	first, merged, err := db.RecordSession(ctx, user.ID, res, "")
	if err != nil {
		t.Fatalf("RecordSession() first: %v", err)
	}
	if !merged {
		t.Fatal("first submission should merge")
	}

	// The same session key again must not touch the stats.
	replay, merged, err := db.RecordSession(ctx, user.ID, res, "")
	if err != nil {
		t.Fatalf("RecordSession() replay: %v", err)
	}
	if merged {
		t.Error("replay merged = true, want false")
	}
	if replay.GamesPlayed != first.GamesPlayed {
		t.Errorf("GamesPlayed after replay = %d, want %d", replay.GamesPlayed, first.GamesPlayed)
	}
	if replay.XP != first.XP {
		t.Errorf("XP after replay = %d, want %d", replay.XP, first.XP)
	}
}

func TestRecordSession_Rename(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "Player")

	updated, _, err := db.RecordSession(ctx, user.ID, model.SessionResult{Score: 5}, "Trinity")
	if err != nil {
		t.Fatalf("RecordSession() with rename: %v", err)
	}
	if updated.DisplayName != "Trinity" {
		t.Errorf("DisplayName = %q, want %q", updated.DisplayName, "Trinity")
	}
}

func TestRecordSession_RenameCollisionKeepsScore(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, model.ProviderAnon, "device-1", "Trinity")
	user := createTestUser(t, db, model.ProviderAnon, "device-2", "Player")

	// The requested name is taken: the score still lands, the name stays.
	updated, merged, err := db.RecordSession(ctx, user.ID, model.SessionResult{Score: 5}, "trinity")
	if err != nil {
		t.Fatalf("RecordSession() with colliding rename: %v", err)
	}
	if !merged {
		t.Error("merged = false, want true")
	}
	if updated.GamesPlayed != 1 {
		t.Errorf("GamesPlayed = %d, want 1", updated.GamesPlayed)
	}
	if updated.DisplayName != "Player" {
		t.Errorf("DisplayName = %q, want %q (rename must not steal a taken name)", updated.DisplayName, "Player")
	}
}

func TestRecordSession_Concurrent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "racer")

	const submissions = 10
	var wg sync.WaitGroup
	errs := make(chan error, submissions)

	for i := 0; i < submissions; i++ {
		wg.Add(1)
		go func(score int64) {
			defer wg.Done()
			_, _, err := db.RecordSession(ctx, user.ID, model.SessionResult{Score: score, XPEarned: 1}, "")
			errs <- err
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent RecordSession() error = %v", err)
		}
	}

	final, err := db.GetByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if final.GamesPlayed != submissions {
		t.Errorf("GamesPlayed = %d, want %d (no lost updates)", final.GamesPlayed, submissions)
	}
	if final.BestScore != submissions {
		t.Errorf("BestScore = %d, want %d", final.BestScore, submissions)
	}
	if final.TotalScore != submissions*(submissions+1)/2 {
		t.Errorf("TotalScore = %d, want %d", final.TotalScore, submissions*(submissions+1)/2)
	}
	if final.XP != submissions {
		t.Errorf("XP = %d, want %d", final.XP, submissions)
	}
}

// =========================================================================
// LIST RECENT TESTS
// =========================================================================

func TestListRecent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "lister")
	other := createTestUser(t, db, model.ProviderAnon, "device-2", "other")

	for i := 1; i <= 5; i++ {
		if _, _, err := db.RecordSession(ctx, user.ID, model.SessionResult{Score: int64(i * 10)}, ""); err != nil {
			t.Fatalf("RecordSession(%d): %v", i, err)
		}
	}
	if _, _, err := db.RecordSession(ctx, other.ID, model.SessionResult{Score: 999}, ""); err != nil {
		t.Fatalf("RecordSession(other): %v", err)
	}

	scores, err := db.ListRecent(ctx, user.ID, 3)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(scores) != 3 {
		t.Fatalf("len(scores) = %d, want 3", len(scores))
	}

	// Newest first; xid ties break the same played_at toward the later row.
	if scores[0].Score != 50 {
		t.Errorf("scores[0].Score = %d, want 50", scores[0].Score)
	}
	for _, s := range scores {
		if s.UserID != user.ID {
			t.Errorf("ListRecent() leaked a score for user %q", s.UserID)
		}
	}
}

func TestListRecent_Empty(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "quiet")

	scores, err := db.ListRecent(context.Background(), user.ID, 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("len(scores) = %d, want 0", len(scores))
	}
}

// TestScoresLedgerRow verifies the ledger keeps one row per accepted
// session with the raw values as submitted.
func TestScoresLedgerRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, model.ProviderAnon, "device-1", "ledger")

	if _, _, err := db.RecordSession(ctx, user.ID, model.SessionResult{
		Score:    42,
		MaxCombo: 7,
		Perfects: 2,
		Zone:     "night",
	}, ""); err != nil {
		t.Fatalf("RecordSession(): %v", err)
	}

	var count int
	var zone string
	row := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(zone) FROM scores WHERE user_id = ?`, user.ID)
	if err := row.Scan(&count, &zone); err != nil {
		t.Fatalf("reading scores ledger: %v", err)
	}
	if count != 1 {
		t.Errorf("ledger rows = %d, want 1", count)
	}
	if zone != "night" {
		t.Errorf("zone = %q, want %q", zone, "night")
	}
}

package convlog

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T, retention time.Duration) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, retention, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestAppendAndRecent(t *testing.T) {
	s := setupTestStore(t, 7*24*time.Hour)
	ctx := context.Background()

	recs := []Record{
		{SessionID: "kitchen", Turn: 1, UserText: "she's asleep", Reply: "Okay, nap started.", Done: false},
		{SessionID: "kitchen", Turn: 2, UserText: "thanks", Reply: "You're welcome!", Done: true},
		{SessionID: "nursery", Turn: 1, UserText: "wet diaper", Reply: "Logged it.", Done: true},
	}
	for i, rec := range recs {
		rec.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got, err := s.Recent(ctx, "kitchen", 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 kitchen records, got %d", len(got))
	}
	// Newest first.
	if got[0].Turn != 2 || !got[0].Done {
		t.Errorf("unexpected newest record: %+v", got[0])
	}
	if got[0].ID == "" {
		t.Error("expected generated ID")
	}
}

func TestRecent_Limit(t *testing.T) {
	s := setupTestStore(t, 7*24*time.Hour)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Append(ctx, Record{
			SessionID: "s",
			Turn:      i + 1,
			UserText:  "x",
			Reply:     "y",
			Timestamp: time.Now().Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(ctx, "s", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("limit ignored: got %d records", len(got))
	}
}

func TestPrune_RespectsRetention(t *testing.T) {
	s := setupTestStore(t, 7*24*time.Hour)
	ctx := context.Background()

	old := Record{
		SessionID: "s", Turn: 1, UserText: "old", Reply: "old",
		Timestamp: time.Now().Add(-8 * 24 * time.Hour),
	}
	fresh := Record{
		SessionID: "s", Turn: 2, UserText: "fresh", Reply: "fresh",
		Timestamp: time.Now().Add(-time.Hour),
	}
	if err := s.Append(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune error: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d records, want 1", n)
	}

	got, _ := s.Recent(ctx, "s", 10)
	if len(got) != 1 || got[0].UserText != "fresh" {
		t.Errorf("wrong records survived: %+v", got)
	}
}

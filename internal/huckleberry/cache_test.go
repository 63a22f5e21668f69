package huckleberry

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCache_NotReadyBeforeFirstSnapshot(t *testing.T) {
	c := NewStateCache(nil)

	if c.Ready() {
		t.Error("new cache should not be ready")
	}
	_, err := c.Current()
	if !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestCache_OptimisticDoesNotMarkReady(t *testing.T) {
	c := NewStateCache(nil)

	c.ApplyOptimistic(Delta{Sleep: &SleepState{Active: true, Since: time.Now()}})

	if c.Ready() {
		t.Error("optimistic update must not mark the cache ready")
	}
	if _, err := c.Current(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestCache_IngestMakesReady(t *testing.T) {
	c := NewStateCache(nil)
	since := time.Now().Add(-20 * time.Minute)

	c.IngestSnapshot(Snapshot{
		Sleep:   &SleepSnapshot{Active: true, Since: since},
		Feeding: &FeedingSnapshot{},
	}, time.Now())

	state, err := c.Current()
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if !state.Sleep.Active {
		t.Error("expected sleep active")
	}
	if !state.Sleep.Since.Equal(since) {
		t.Errorf("sleep since = %v, want %v", state.Sleep.Since, since)
	}
	if state.Feeding.Active {
		t.Error("expected feeding inactive")
	}
	if state.LastDiaper != nil {
		t.Error("expected no diaper recorded")
	}
}

func TestCache_PartialSnapshotLeavesOtherFields(t *testing.T) {
	c := NewStateCache(nil)
	base := time.Now()

	c.IngestSnapshot(Snapshot{
		Sleep:      &SleepSnapshot{Active: true, Since: base},
		LastDiaper: &DiaperSnapshot{Mode: "pee", At: base},
	}, base)

	// A later frame mentioning only feeding must not clear sleep or diaper.
	c.IngestSnapshot(Snapshot{
		Feeding: &FeedingSnapshot{Active: true, Side: "left", Since: base},
	}, base.Add(time.Second))

	state, err := c.Current()
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if !state.Sleep.Active {
		t.Error("partial frame cleared sleep state")
	}
	if state.LastDiaper == nil || state.LastDiaper.Mode != "pee" {
		t.Error("partial frame cleared diaper state")
	}
	if !state.Feeding.Active || state.Feeding.Side != "left" {
		t.Error("feeding not applied from partial frame")
	}
}

func TestCache_StaleSnapshotDoesNotRevertOptimistic(t *testing.T) {
	c := NewStateCache(nil)
	base := time.Now()

	// Feed says awake, then a write succeeds and we go optimistic-asleep.
	c.IngestSnapshot(Snapshot{Sleep: &SleepSnapshot{}}, base.Add(-time.Second))
	c.ApplyOptimistic(Delta{Sleep: &SleepState{Active: true, Since: base}})

	// A frame captured before the write arrives late. It must lose.
	c.IngestSnapshot(Snapshot{Sleep: &SleepSnapshot{Active: false}}, base.Add(-500*time.Millisecond))

	state, err := c.Current()
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if !state.Sleep.Active {
		t.Error("stale snapshot reverted an optimistic update")
	}
}

func TestCache_NewerSnapshotOverwritesOptimistic(t *testing.T) {
	c := NewStateCache(nil)
	base := time.Now()

	c.IngestSnapshot(Snapshot{Sleep: &SleepSnapshot{}}, base.Add(-time.Second))
	c.ApplyOptimistic(Delta{Sleep: &SleepState{Active: true, Since: base}})

	// The confirming frame arrives after the optimistic stamp and wins.
	confirmed := time.Now().Add(time.Second)
	c.IngestSnapshot(Snapshot{Sleep: &SleepSnapshot{Active: true, Since: base}}, confirmed)

	state, err := c.Current()
	if err != nil {
		t.Fatalf("Current error: %v", err)
	}
	if !state.Sleep.Active {
		t.Error("expected confirmed sleep state")
	}
}

func TestCache_CurrentReturnsCopy(t *testing.T) {
	c := NewStateCache(nil)
	c.IngestSnapshot(Snapshot{
		LastDiaper: &DiaperSnapshot{Mode: "both", At: time.Now()},
	}, time.Now())

	state, _ := c.Current()
	state.LastDiaper.Mode = "mutated"

	again, _ := c.Current()
	if again.LastDiaper.Mode != "both" {
		t.Error("Current exposed internal state to mutation")
	}
}

func TestTrackedState_Summary(t *testing.T) {
	loc := time.UTC
	now := time.Now()

	s := TrackedState{
		Sleep:   SleepState{Active: true, Since: now.Add(-45 * time.Minute)},
		Feeding: FeedingState{},
		LastDiaper: &DiaperEvent{
			Mode: "pee",
			At:   now.Add(-2 * time.Hour),
		},
	}

	got := s.Summary(loc)

	if !strings.Contains(got, "asleep since") {
		t.Errorf("summary missing sleep line: %q", got)
	}
	if !strings.Contains(got, "Nursing: not in progress") {
		t.Errorf("summary missing nursing line: %q", got)
	}
	if !strings.Contains(got, "Last diaper: pee") {
		t.Errorf("summary missing diaper line: %q", got)
	}
	if !strings.Contains(got, "Last bottle: none recorded") {
		t.Errorf("summary missing bottle line: %q", got)
	}
}

func TestTrackedState_SummaryPaused(t *testing.T) {
	now := time.Now()

	s := TrackedState{
		Sleep:   SleepState{Active: true, Paused: true, Since: now.Add(-time.Hour)},
		Feeding: FeedingState{Active: true, Paused: true, Side: "right", Since: now.Add(-15 * time.Minute)},
	}

	got := s.Summary(time.UTC)

	if !strings.Contains(got, "Sleep: session paused") {
		t.Errorf("summary missing paused sleep line: %q", got)
	}
	if !strings.Contains(got, "Nursing: paused on the right side") {
		t.Errorf("summary missing paused nursing line: %q", got)
	}
}

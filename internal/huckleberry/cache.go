package huckleberry

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SleepState describes the current sleep activity.
type SleepState struct {
	Active bool
	Paused bool
	Since  time.Time
}

// FeedingState describes the current nursing activity.
type FeedingState struct {
	Active bool
	Paused bool
	Side   string // "left" or "right"
	Since  time.Time
}

// DiaperEvent describes the most recent diaper change.
type DiaperEvent struct {
	Mode        string // pee, poo, both, dry
	PeeAmount   string
	PooAmount   string
	Color       string
	Consistency string
	At          time.Time
}

// BottleEvent describes the most recent bottle feeding.
type BottleEvent struct {
	Amount float64
	Source string // Breast Milk, Formula, Mixed
	Units  string // oz, ml
	At     time.Time
}

// TrackedState is a point-in-time view of everything the cache knows.
type TrackedState struct {
	Sleep      SleepState
	Feeding    FeedingState
	LastDiaper *DiaperEvent
	LastBottle *BottleEvent
	ReceivedAt time.Time
}

// Snapshot is one partial frame from the push feed. Absent fields mean
// "no change", not "cleared".
type Snapshot struct {
	Sleep      *SleepSnapshot   `json:"sleep,omitempty"`
	Feeding    *FeedingSnapshot `json:"feeding,omitempty"`
	LastDiaper *DiaperSnapshot  `json:"last_diaper,omitempty"`
	LastBottle *BottleSnapshot  `json:"last_bottle,omitempty"`
	TS         time.Time        `json:"ts"`
}

// SleepSnapshot is the wire form of sleep state.
type SleepSnapshot struct {
	Active bool      `json:"active"`
	Paused bool      `json:"paused"`
	Since  time.Time `json:"since"`
}

// FeedingSnapshot is the wire form of feeding state.
type FeedingSnapshot struct {
	Active bool      `json:"active"`
	Paused bool      `json:"paused"`
	Side   string    `json:"side"`
	Since  time.Time `json:"since"`
}

// DiaperSnapshot is the wire form of the last diaper event.
type DiaperSnapshot struct {
	Mode        string    `json:"mode"`
	PeeAmount   string    `json:"pee_amount,omitempty"`
	PooAmount   string    `json:"poo_amount,omitempty"`
	Color       string    `json:"color,omitempty"`
	Consistency string    `json:"consistency,omitempty"`
	At          time.Time `json:"at"`
}

// BottleSnapshot is the wire form of the last bottle event.
type BottleSnapshot struct {
	Amount float64   `json:"amount"`
	Source string    `json:"source"`
	Units  string    `json:"units"`
	At     time.Time `json:"at"`
}

// Delta is an optimistic local update applied after a successful write
// to the tracking service, before the confirming snapshot arrives.
type Delta struct {
	Sleep   *SleepState
	Feeding *FeedingState
	Diaper  *DiaperEvent
	Bottle  *BottleEvent
}

// StateCache holds the push-fed view of the child's tracked state.
//
// Reads never block on the network. Until the first snapshot arrives
// the cache reports ErrNotReady so callers can distinguish "unknown"
// from "nothing happening". Each field carries a receipt timestamp:
// an optimistic write stamps the field with local time, and a later
// snapshot only overwrites fields whose receipt time is newer.
type StateCache struct {
	mu    sync.RWMutex
	ready bool
	state TrackedState

	sleepAt   time.Time
	feedingAt time.Time
	diaperAt  time.Time
	bottleAt  time.Time

	logger *slog.Logger
}

// NewStateCache creates an empty, not-yet-ready cache.
func NewStateCache(logger *slog.Logger) *StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateCache{logger: logger}
}

// Ready reports whether at least one snapshot has been ingested.
func (c *StateCache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Current returns a copy of the tracked state, or ErrNotReady if no
// snapshot has arrived yet.
func (c *StateCache) Current() (TrackedState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready {
		return TrackedState{}, ErrNotReady
	}
	return c.cloneLocked(), nil
}

func (c *StateCache) cloneLocked() TrackedState {
	out := c.state
	if c.state.LastDiaper != nil {
		d := *c.state.LastDiaper
		out.LastDiaper = &d
	}
	if c.state.LastBottle != nil {
		b := *c.state.LastBottle
		out.LastBottle = &b
	}
	return out
}

// ApplyOptimistic records the local effect of a confirmed write. It
// stamps the touched fields with the current time so that stale
// snapshots already in flight cannot roll them back. It never marks
// the cache ready: readiness comes only from the feed.
func (c *StateCache) ApplyOptimistic(d Delta) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if d.Sleep != nil {
		c.state.Sleep = *d.Sleep
		c.sleepAt = now
	}
	if d.Feeding != nil {
		c.state.Feeding = *d.Feeding
		c.feedingAt = now
	}
	if d.Diaper != nil {
		ev := *d.Diaper
		c.state.LastDiaper = &ev
		c.diaperAt = now
	}
	if d.Bottle != nil {
		ev := *d.Bottle
		c.state.LastBottle = &ev
		c.bottleAt = now
	}
}

// IngestSnapshot merges one feed frame into the cache. at is the local
// receipt time of the frame. Fields absent from the frame are left
// untouched; fields present overwrite only when the frame was received
// at or after the field's last update.
func (c *StateCache) IngestSnapshot(snap Snapshot, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if snap.Sleep != nil && !at.Before(c.sleepAt) {
		next := SleepState(*snap.Sleep)
		if c.ready && next.Active != c.state.Sleep.Active {
			c.logger.Info("sleep state changed", "active", next.Active)
		}
		c.state.Sleep = next
		c.sleepAt = at
	}
	if snap.Feeding != nil && !at.Before(c.feedingAt) {
		next := FeedingState(*snap.Feeding)
		if c.ready && next.Active != c.state.Feeding.Active {
			c.logger.Info("feeding state changed", "active", next.Active, "side", next.Side)
		}
		c.state.Feeding = next
		c.feedingAt = at
	}
	if snap.LastDiaper != nil && !at.Before(c.diaperAt) {
		ev := DiaperEvent(*snap.LastDiaper)
		c.state.LastDiaper = &ev
		c.diaperAt = at
	}
	if snap.LastBottle != nil && !at.Before(c.bottleAt) {
		ev := BottleEvent(*snap.LastBottle)
		c.state.LastBottle = &ev
		c.bottleAt = at
	}

	c.state.ReceivedAt = at
	c.ready = true
}

// Summary renders the tracked state as a short human-readable block
// for the system prompt. Times are formatted in loc.
func (s TrackedState) Summary(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}

	var b strings.Builder

	switch {
	case s.Sleep.Active && s.Sleep.Paused:
		fmt.Fprintf(&b, "Sleep: session paused, started %s (%s)\n",
			s.Sleep.Since.In(loc).Format("3:04 PM"), sinceText(s.Sleep.Since))
	case s.Sleep.Active:
		fmt.Fprintf(&b, "Sleep: asleep since %s (%s)\n",
			s.Sleep.Since.In(loc).Format("3:04 PM"), sinceText(s.Sleep.Since))
	default:
		b.WriteString("Sleep: awake\n")
	}

	switch {
	case s.Feeding.Active && s.Feeding.Paused:
		fmt.Fprintf(&b, "Nursing: paused on the %s side, started %s\n",
			s.Feeding.Side, s.Feeding.Since.In(loc).Format("3:04 PM"))
	case s.Feeding.Active:
		fmt.Fprintf(&b, "Nursing: in progress on the %s side since %s\n",
			s.Feeding.Side, s.Feeding.Since.In(loc).Format("3:04 PM"))
	default:
		b.WriteString("Nursing: not in progress\n")
	}

	if d := s.LastDiaper; d != nil {
		fmt.Fprintf(&b, "Last diaper: %s at %s (%s)\n",
			d.Mode, d.At.In(loc).Format("3:04 PM"), sinceText(d.At))
	} else {
		b.WriteString("Last diaper: none recorded\n")
	}

	if bo := s.LastBottle; bo != nil {
		fmt.Fprintf(&b, "Last bottle: %.1f %s of %s at %s (%s)\n",
			bo.Amount, bo.Units, bo.Source, bo.At.In(loc).Format("3:04 PM"), sinceText(bo.At))
	} else {
		b.WriteString("Last bottle: none recorded\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func sinceText(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	default:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh ago", h)
		}
		return fmt.Sprintf("%dh %dm ago", h, m)
	}
}

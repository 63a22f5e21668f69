// Package huckleberry talks to the Huckleberry baby-tracking service:
// a REST client for writes, a push feed for state, and a local cache
// that answers reads without touching the network.
package huckleberry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/cradle-ai-agent/internal/httpkit"
)

// Client is an authenticated client for the Huckleberry REST API.
// Writes go to the service; reads come from the push-fed StateCache.
type Client struct {
	baseURL  string
	email    string
	password string
	timezone *time.Location

	httpClient *http.Client
	logger     *slog.Logger
	cache      *StateCache

	mu        sync.Mutex
	token     string
	childUID  string
	childName string

	authenticated atomic.Bool
}

// HistoryEvent is one event returned by the history endpoint.
type HistoryEvent struct {
	Type    string         `json:"type"`
	Start   time.Time      `json:"start"`
	End     *time.Time     `json:"end,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// DiaperEntry carries the arguments for logging a diaper change.
type DiaperEntry struct {
	Mode        string
	PeeAmount   string
	PooAmount   string
	Color       string
	Consistency string
}

// GrowthEntry carries the arguments for logging a growth measurement.
// Nil fields are omitted from the request. Units is "imperial" (lbs/in)
// or "metric" (kg/cm).
type GrowthEntry struct {
	Weight *float64
	Height *float64
	Head   *float64
	Units  string
}

// GrowthRecord is one measurement returned by the growth endpoint.
type GrowthRecord struct {
	At     time.Time `json:"at"`
	Weight *float64  `json:"weight,omitempty"`
	Height *float64  `json:"height,omitempty"`
	Head   *float64  `json:"head,omitempty"`
	Units  string    `json:"units"`
}

// NewClient creates a Huckleberry client. loc controls how times are
// presented to the caller; nil uses the host zone.
func NewClient(baseURL, email, password string, loc *time.Location, cache *StateCache, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	if cache == nil {
		cache = NewStateCache(logger)
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		timezone: loc,
		cache:    cache,
		logger:   logger.With("component", "huckleberry"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(1, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// Cache returns the state cache this client writes optimistic updates to.
func (c *Client) Cache() *StateCache { return c.cache }

// Authenticated reports whether the last auth attempt succeeded.
func (c *Client) Authenticated() bool { return c.authenticated.Load() }

// ChildName returns the tracked child's name, empty before first auth.
func (c *Client) ChildName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.childName
}

// ChildUID returns the tracked child's identifier, empty before first auth.
func (c *Client) ChildUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.childUID
}

// Token returns the current bearer token, empty before first auth.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Timezone returns the presentation timezone.
func (c *Client) Timezone() *time.Location { return c.timezone }

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ChildUID  string `json:"child_uid"`
	ChildName string `json:"child_name"`
}

// Authenticate logs in and stores the bearer token and child identity.
func (c *Client) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		c.authenticated.Store(false)
		return &AuthError{Err: fmt.Errorf("login rejected (status %d): %s", resp.StatusCode, errBody)}
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return &RemoteError{Status: resp.StatusCode, Msg: errBody}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	c.mu.Lock()
	c.token = lr.Token
	c.childUID = lr.ChildUID
	c.childName = lr.ChildName
	c.mu.Unlock()
	c.authenticated.Store(true)

	c.logger.Info("authenticated", "child", lr.ChildName)
	return nil
}

// do sends an authenticated request, logging in lazily and retrying
// once with fresh credentials on a 401. The response body is returned
// for 2xx; the caller owns closing it.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if c.Token() == "" {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		httpkit.DrainAndClose(resp.Body, 2048)
		c.logger.Warn("token rejected, re-authenticating")
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			errBody := httpkit.ReadErrorBody(resp.Body, 2048)
			c.authenticated.Store(false)
			return nil, &AuthError{Err: fmt.Errorf("still unauthorized after re-login: %s", errBody)}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		return nil, &RemoteError{Status: resp.StatusCode, Msg: errBody}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return resp, nil
}

func (c *Client) childPath(suffix string) string {
	return "/v1/children/" + url.PathEscape(c.ChildUID()) + suffix
}

// Status returns the cached tracked state.
func (c *Client) Status() (TrackedState, error) {
	return c.cache.Current()
}

// StartSleep begins a sleep session. Fails with AlreadyInStateError if
// the cache says the child is already asleep.
func (c *Client) StartSleep(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if state.Sleep.Active {
		return &AlreadyInStateError{Activity: "sleep"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/sleep/start"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Sleep: &SleepState{Active: true, Since: time.Now()}})
	c.logger.Info("sleep started")
	return nil
}

// CompleteSleep ends the current sleep session.
func (c *Client) CompleteSleep(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Sleep.Active {
		return &NotInStateError{Activity: "sleep"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/sleep/complete"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Sleep: &SleepState{}})
	c.logger.Info("sleep completed")
	return nil
}

// CancelSleep discards the current sleep session without saving it.
func (c *Client) CancelSleep(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Sleep.Active {
		return &NotInStateError{Activity: "sleep"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/sleep/cancel"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Sleep: &SleepState{}})
	c.logger.Info("sleep cancelled")
	return nil
}

// PauseSleep pauses the current sleep session, keeping it open for a
// later resume (brief wake-up without ending the nap).
func (c *Client) PauseSleep(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Sleep.Active {
		return &NotInStateError{Activity: "sleep"}
	}
	if state.Sleep.Paused {
		return &AlreadyInStateError{Activity: "paused sleep"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/sleep/pause"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Sleep: &SleepState{Active: true, Paused: true, Since: state.Sleep.Since}})
	c.logger.Info("sleep paused")
	return nil
}

// ResumeSleep resumes a paused sleep session.
func (c *Client) ResumeSleep(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Sleep.Active || !state.Sleep.Paused {
		return &NotInStateError{Activity: "paused sleep"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/sleep/resume"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Sleep: &SleepState{Active: true, Since: state.Sleep.Since}})
	c.logger.Info("sleep resumed")
	return nil
}

// StartFeeding begins a nursing session on the given side. Side
// defaults to "left" when empty.
func (c *Client) StartFeeding(ctx context.Context, side string) error {
	if side == "" {
		side = "left"
	}

	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if state.Feeding.Active {
		return &AlreadyInStateError{Activity: "feeding"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/feeding/start"), map[string]string{"side": side}); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Feeding: &FeedingState{Active: true, Side: side, Since: time.Now()}})
	c.logger.Info("feeding started", "side", side)
	return nil
}

// PauseFeeding pauses the current nursing session.
func (c *Client) PauseFeeding(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Feeding.Active {
		return &NotInStateError{Activity: "feeding"}
	}
	if state.Feeding.Paused {
		return &AlreadyInStateError{Activity: "paused feeding"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/feeding/pause"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Feeding: &FeedingState{
		Active: true,
		Paused: true,
		Side:   state.Feeding.Side,
		Since:  state.Feeding.Since,
	}})
	c.logger.Info("feeding paused")
	return nil
}

// ResumeFeeding resumes a paused nursing session on the same side.
func (c *Client) ResumeFeeding(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Feeding.Active || !state.Feeding.Paused {
		return &NotInStateError{Activity: "paused feeding"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/feeding/resume"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Feeding: &FeedingState{
		Active: true,
		Side:   state.Feeding.Side,
		Since:  state.Feeding.Since,
	}})
	c.logger.Info("feeding resumed")
	return nil
}

// SwitchFeedingSide toggles the active nursing session to the other
// side and returns the new side.
func (c *Client) SwitchFeedingSide(ctx context.Context) (string, error) {
	state, err := c.cache.Current()
	if err != nil {
		return "", err
	}
	if !state.Feeding.Active {
		return "", &NotInStateError{Activity: "feeding"}
	}

	newSide := "left"
	if state.Feeding.Side == "left" {
		newSide = "right"
	}

	if _, err := c.do(ctx, "POST", c.childPath("/feeding/switch"), nil); err != nil {
		return "", err
	}

	c.cache.ApplyOptimistic(Delta{Feeding: &FeedingState{
		Active: true,
		Side:   newSide,
		Since:  state.Feeding.Since,
	}})
	c.logger.Info("feeding side switched", "side", newSide)
	return newSide, nil
}

// CompleteFeeding ends the current nursing session.
func (c *Client) CompleteFeeding(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Feeding.Active {
		return &NotInStateError{Activity: "feeding"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/feeding/complete"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Feeding: &FeedingState{}})
	c.logger.Info("feeding completed")
	return nil
}

// CancelFeeding discards the current nursing session without saving it.
func (c *Client) CancelFeeding(ctx context.Context) error {
	state, err := c.cache.Current()
	if err != nil {
		return err
	}
	if !state.Feeding.Active {
		return &NotInStateError{Activity: "feeding"}
	}

	if _, err := c.do(ctx, "POST", c.childPath("/feeding/cancel"), nil); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Feeding: &FeedingState{}})
	c.logger.Info("feeding cancelled")
	return nil
}

// LogDiaper records a diaper change. Point-in-time events need no
// precondition, so this works even before the first snapshot arrives.
func (c *Client) LogDiaper(ctx context.Context, entry DiaperEntry) error {
	payload := map[string]any{"mode": entry.Mode}
	if entry.PeeAmount != "" {
		payload["pee_amount"] = entry.PeeAmount
	}
	if entry.PooAmount != "" {
		payload["poo_amount"] = entry.PooAmount
	}
	if entry.Color != "" {
		payload["color"] = entry.Color
	}
	if entry.Consistency != "" {
		payload["consistency"] = entry.Consistency
	}

	if _, err := c.do(ctx, "POST", c.childPath("/diaper"), payload); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Diaper: &DiaperEvent{
		Mode:        entry.Mode,
		PeeAmount:   entry.PeeAmount,
		PooAmount:   entry.PooAmount,
		Color:       entry.Color,
		Consistency: entry.Consistency,
		At:          time.Now(),
	}})
	c.logger.Info("diaper logged", "mode", entry.Mode)
	return nil
}

// LogBottle records a completed bottle feeding.
func (c *Client) LogBottle(ctx context.Context, amount float64, source, units string) error {
	payload := map[string]any{
		"amount":      amount,
		"bottle_type": source,
		"units":       units,
		"interval_id": newIntervalID(),
	}

	if _, err := c.do(ctx, "POST", c.childPath("/bottle"), payload); err != nil {
		return err
	}

	c.cache.ApplyOptimistic(Delta{Bottle: &BottleEvent{
		Amount: amount,
		Source: source,
		Units:  units,
		At:     time.Now(),
	}})
	c.logger.Info("bottle logged", "amount", amount, "units", units, "source", source)
	return nil
}

// LogGrowth records a growth measurement. Absent fields are left out of
// the request so the service keeps its previous values for them.
func (c *Client) LogGrowth(ctx context.Context, entry GrowthEntry) error {
	units := entry.Units
	if units == "" {
		units = "imperial"
	}
	payload := map[string]any{"units": units}
	if entry.Weight != nil {
		payload["weight"] = *entry.Weight
	}
	if entry.Height != nil {
		payload["height"] = *entry.Height
	}
	if entry.Head != nil {
		payload["head"] = *entry.Head
	}

	if _, err := c.do(ctx, "POST", c.childPath("/growth"), payload); err != nil {
		return err
	}

	c.logger.Info("growth logged", "units", units)
	return nil
}

// GrowthData fetches the child's recorded growth measurements.
func (c *Client) GrowthData(ctx context.Context) ([]GrowthRecord, error) {
	body, err := c.do(ctx, "GET", c.childPath("/growth"), nil)
	if err != nil {
		return nil, err
	}

	var records []GrowthRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode growth records: %w", err)
	}
	return records, nil
}

// newIntervalID builds the event identifier the service expects:
// millisecond timestamp plus 20 hex chars of randomness.
func newIntervalID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), random)
}

// History fetches events in [start, end).
func (c *Client) History(ctx context.Context, start, end time.Time) ([]HistoryEvent, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))

	body, err := c.do(ctx, "GET", c.childPath("/events")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var events []HistoryEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// IsNotReady reports whether err is the cache's not-ready condition.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

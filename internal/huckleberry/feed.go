package huckleberry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnect backoff bounds for the push feed.
const (
	feedBackoffMin = 2 * time.Second
	feedBackoffMax = 60 * time.Second
)

// Feed maintains the WebSocket connection that pushes state snapshots
// from the tracking service. Frames arrive on Snapshots; delivery is
// best-effort and a full channel drops the frame (a later snapshot
// supersedes it anyway).
type Feed struct {
	client *Client

	conn   *websocket.Conn
	connMu sync.Mutex

	snapshots chan Snapshot
	connected atomic.Bool

	logger *slog.Logger
}

// NewFeed creates a feed bound to the client's credentials and child.
func NewFeed(client *Client, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		client:    client,
		snapshots: make(chan Snapshot, 100),
		logger:    logger.With("component", "feed"),
	}
}

// Snapshots returns the channel of incoming state frames.
func (f *Feed) Snapshots() <-chan Snapshot {
	return f.snapshots
}

// Connected reports whether the feed currently has a live connection.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Connect dials the feed endpoint and starts reading frames. The
// client must already hold a token and child UID.
func (f *Feed) Connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	token := f.client.Token()
	childUID := f.client.ChildUID()
	if token == "" || childUID == "" {
		return fmt.Errorf("not authenticated")
	}

	u, err := url.Parse(f.client.baseURL)
	if err != nil {
		return fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/v1/children/" + childUID + "/feed"
	u.RawQuery = url.Values{"token": {token}}.Encode()

	f.logger.Info("connecting to state feed", "child", childUID)

	dialer := websocket.Dialer{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 16 * 1024,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	f.conn = conn
	f.connected.Store(true)

	go f.readLoop(conn)

	return nil
}

// Close closes the feed connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	f.connected.Store(false)
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// readLoop reads frames until the connection dies.
func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.connected.Store(false)

	for {
		var snap Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				f.logger.Info("feed closed normally")
				return
			}
			f.logger.Error("feed read error, connection lost", "error", err)
			return
		}

		select {
		case f.snapshots <- snap:
		default:
			f.logger.Warn("snapshot channel full, dropping frame")
		}
	}
}

// Run keeps the feed connected until ctx is cancelled, reconnecting
// with exponential backoff. A token rejection triggers a re-login
// through the client before the next attempt.
func (f *Feed) Run(ctx context.Context) {
	backoff := feedBackoffMin

	for {
		if !f.Connected() {
			if err := f.Connect(ctx); err != nil {
				f.logger.Warn("feed connect failed", "error", err, "retry_in", backoff)
				if reauthErr := f.client.Authenticate(ctx); reauthErr != nil {
					f.logger.Warn("re-auth before reconnect failed", "error", reauthErr)
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff = min(backoff*2, feedBackoffMax)
				continue
			}
			backoff = feedBackoffMin
		}

		select {
		case <-ctx.Done():
			f.Close()
			return
		case <-time.After(time.Second):
		}
	}
}

// Ingestor drains feed snapshots into the state cache, stamping each
// frame with its local receipt time.
type Ingestor struct {
	cache  *StateCache
	logger *slog.Logger
}

// NewIngestor creates an ingestor writing into cache.
func NewIngestor(cache *StateCache, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{cache: cache, logger: logger}
}

// Run consumes snapshots until ctx is cancelled or the channel closes.
func (i *Ingestor) Run(ctx context.Context, snapshots <-chan Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			i.cache.IngestSnapshot(snap, time.Now())
			i.logger.Debug("snapshot ingested", "ts", snap.TS)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nugget/cradle-ai-agent/internal/agent"
	"github.com/nugget/cradle-ai-agent/internal/huckleberry"
	"github.com/nugget/cradle-ai-agent/internal/llm"
	"github.com/nugget/cradle-ai-agent/internal/session"
	"github.com/nugget/cradle-ai-agent/internal/tools"
)

// scriptedLLM returns canned responses in order.
type scriptedLLM struct {
	responses []*llm.ChatResponse
	errs      []error
	i         int
}

func (f *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	if f.i >= len(f.responses) {
		return nil, errors.New("scriptedLLM: out of responses")
	}
	resp, err := f.responses[f.i], f.errs[f.i]
	f.i++
	return resp, err
}

func (f *scriptedLLM) Ping(ctx context.Context) error { return nil }

func scripted(steps ...any) *scriptedLLM {
	f := &scriptedLLM{}
	for _, step := range steps {
		switch v := step.(type) {
		case string:
			f.responses = append(f.responses, &llm.ChatResponse{
				Message: llm.Message{Role: "assistant", Content: v},
				Done:    true,
			})
			f.errs = append(f.errs, nil)
		case error:
			f.responses = append(f.responses, nil)
			f.errs = append(f.errs, v)
		}
	}
	return f
}

// blockingLLM parks every call until released, or until the request
// context expires.
type blockingLLM struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingLLM() *blockingLLM {
	return &blockingLLM{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
		return &llm.ChatResponse{
			Message: llm.Message{Role: "assistant", Content: "All set."},
			Done:    true,
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingLLM) Ping(ctx context.Context) error { return nil }

// newTestServer stands up the API against a fake tracker login endpoint
// and a scripted model.
func newTestServer(t *testing.T, fake llm.Client, authenticate bool) *httptest.Server {
	t.Helper()
	return newTestServerTimeout(t, fake, authenticate, 5*time.Second)
}

func newTestServerTimeout(t *testing.T, fake llm.Client, authenticate bool, timeout time.Duration) *httptest.Server {
	t.Helper()

	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/auth/login" {
			json.NewEncoder(w).Encode(map[string]string{
				"token":      "tok-1",
				"child_uid":  "child-1",
				"child_name": "Maren",
			})
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(tracker.Close)

	cache := huckleberry.NewStateCache(nil)
	cache.IngestSnapshot(huckleberry.Snapshot{
		Sleep:   &huckleberry.SleepSnapshot{},
		Feeding: &huckleberry.FeedingSnapshot{},
	}, time.Now())

	hb := huckleberry.NewClient(tracker.URL, "t@example.com", "pw", time.UTC, cache, nil)
	if authenticate {
		if err := hb.Authenticate(context.Background()); err != nil {
			t.Fatalf("authenticate: %v", err)
		}
	}

	sessions := session.NewStore(time.Hour, 100*time.Millisecond, nil)
	loop := agent.New(agent.Config{
		LLM:            fake,
		Registry:       tools.NewRegistry(hb, nil),
		Sessions:       sessions,
		HB:             hb,
		Model:          "big-model",
		MaxToolRounds:  3,
		MessageTimeout: timeout,
	})

	srv := NewServer("127.0.0.1", 0, loop, hb, sessions, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postMessage(t *testing.T, ts *httptest.Server, body string) (*http.Response, MessageResponse) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/message", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /message: %v", err)
	}
	defer resp.Body.Close()

	var mr MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, mr
}

func TestMessage_Success(t *testing.T) {
	fake := scripted("She's been awake since her last nap.", "NO")
	ts := newTestServer(t, fake, true)

	resp, mr := postMessage(t, ts, `{"session_id": "sess-1", "message": "is she sleeping?"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if mr.SessionID != "sess-1" {
		t.Errorf("session_id = %q", mr.SessionID)
	}
	if mr.Reply != "She's been awake since her last nap." {
		t.Errorf("reply = %q", mr.Reply)
	}
	if mr.TurnCount != 1 {
		t.Errorf("turn_count = %d, want 1", mr.TurnCount)
	}
	if mr.ConversationDone {
		t.Error("conversation_done = true, want false")
	}
}

func TestMessage_GeneratesSessionID(t *testing.T) {
	fake := scripted("Hi there.", "YES")
	ts := newTestServer(t, fake, true)

	resp, mr := postMessage(t, ts, `{"message": "hello"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if mr.SessionID == "" {
		t.Error("expected a generated session_id")
	}
	if !mr.ConversationDone {
		t.Error("conversation_done = false, want true for YES classification")
	}
}

func TestMessage_EmptyText(t *testing.T) {
	ts := newTestServer(t, scripted(), true)

	resp, err := http.Post(ts.URL+"/message", "application/json", strings.NewReader(`{"message": ""}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMessage_MalformedBody(t *testing.T) {
	ts := newTestServer(t, scripted(), true)

	resp, err := http.Post(ts.URL+"/message", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMessage_NotAuthenticated(t *testing.T) {
	ts := newTestServer(t, scripted(), false)

	resp, mr := postMessage(t, ts, `{"session_id": "s", "message": "hi"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if mr.Reply == "" {
		t.Error("expected a speakable reply on the failure path")
	}
	if !mr.ConversationDone {
		t.Error("failure replies must close the conversation")
	}
}

func TestMessage_LLMFailure(t *testing.T) {
	fake := scripted(errors.New("upstream down"))
	ts := newTestServer(t, fake, true)

	resp, mr := postMessage(t, ts, `{"session_id": "s", "message": "hi"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	if !mr.ConversationDone {
		t.Error("failure replies must close the conversation")
	}
}

func TestMessage_BusySession(t *testing.T) {
	fake := newBlockingLLM()
	ts := newTestServer(t, fake, true)

	firstDone := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/message", "application/json",
			strings.NewReader(`{"session_id": "sess-1", "message": "start a nap"}`))
		if err != nil {
			firstDone <- 0
			return
		}
		resp.Body.Close()
		firstDone <- resp.StatusCode
	}()

	// Wait until the first request is parked inside the model call, then
	// hit the same session again. The busy wait is 100ms; the second
	// request must give up with 409 rather than queue behind the first.
	<-fake.entered
	resp, mr := postMessage(t, ts, `{"session_id": "sess-1", "message": "cancel that"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if mr.Reply != replyBusy {
		t.Errorf("reply = %q, want the fixed busy reply", mr.Reply)
	}
	if !mr.ConversationDone {
		t.Error("busy reply must close the conversation")
	}

	close(fake.release)
	if code := <-firstDone; code != http.StatusOK {
		t.Errorf("first request status = %d, want 200", code)
	}
}

func TestMessage_Timeout(t *testing.T) {
	fake := newBlockingLLM()
	ts := newTestServerTimeout(t, fake, true, 150*time.Millisecond)

	resp, mr := postMessage(t, ts, `{"session_id": "sess-1", "message": "hello"}`)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
	if mr.Reply != replyTimeout {
		t.Errorf("reply = %q, want the fixed timeout reply", mr.Reply)
	}
	if !mr.ConversationDone {
		t.Error("timeout reply must close the conversation")
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, scripted(), true)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v", health["status"])
	}
	if health["huckleberry_authenticated"] != true {
		t.Errorf("huckleberry_authenticated = %v", health["huckleberry_authenticated"])
	}
	if health["feed_connected"] != false {
		t.Errorf("feed_connected = %v, want false with no feed wired", health["feed_connected"])
	}
	if health["state_ready"] != true {
		t.Errorf("state_ready = %v", health["state_ready"])
	}
}

func TestHealth_DegradedWithoutAuth(t *testing.T) {
	ts := newTestServer(t, scripted(), false)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", health["status"])
	}
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, scripted(), true)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	var root map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if root["name"] != "Cradle" {
		t.Errorf("name = %q", root["name"])
	}
}

func TestConversationGet_NotConfigured(t *testing.T) {
	ts := newTestServer(t, scripted(), true)

	resp, err := http.Get(ts.URL + "/v1/conversations/sess-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a conversation log", resp.StatusCode)
	}
}

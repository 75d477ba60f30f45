package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/waabox/agentdeck/internal/auth"
	"github.com/waabox/agentdeck/internal/logging"
)

// reply is one canned HTTP answer.
type reply struct {
	status int
	body   any
}

// fakeRunner serves the /api/auth endpoints from canned replies and records
// what it received. Sequences repeat their last element once exhausted.
type fakeRunner struct {
	t *testing.T

	mu           sync.Mutex
	deviceCodes  []reply
	tokenReplies []reply
	verifyReply  reply
	configReply  reply
	// verifyHook, when set, runs before the verify reply is written.
	verifyHook func(*http.Request)

	deviceRequests int
	polls          []map[string]string
	verifyHeaders  []string
}

func newFakeRunner(t *testing.T) (*fakeRunner, *httptest.Server) {
	t.Helper()
	r := &fakeRunner{
		t:           t,
		verifyReply: reply{body: map[string]any{"valid": true, "user": map[string]any{"id": 1, "username": "ana"}}},
		configReply: reply{body: map[string]any{"client_id": "client1", "base_url": "https://auth.example.com", "scope": "tasks", "required": true}},
	}
	server := httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(server.Close)
	return r, server
}

func pick(seq []reply, i int) reply {
	if len(seq) == 0 {
		return reply{status: http.StatusNotFound, body: map[string]string{"error": "not configured"}}
	}
	if i >= len(seq) {
		return seq[len(seq)-1]
	}
	return seq[i]
}

func (r *fakeRunner) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	var out reply
	var hook func(*http.Request)
	switch {
	case req.Method == http.MethodGet && req.URL.Path == "/api/auth/device-code":
		out = pick(r.deviceCodes, r.deviceRequests)
		r.deviceRequests++
	case req.Method == http.MethodPost && req.URL.Path == "/api/auth/token":
		var body map[string]string
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			r.t.Errorf("decoding token request: %v", err)
		}
		out = pick(r.tokenReplies, len(r.polls))
		r.polls = append(r.polls, body)
	case req.Method == http.MethodGet && req.URL.Path == "/api/auth/verify":
		r.verifyHeaders = append(r.verifyHeaders, req.Header.Get("Authorization"))
		out = r.verifyReply
		hook = r.verifyHook
	case req.Method == http.MethodGet && req.URL.Path == "/api/auth/config":
		out = r.configReply
	default:
		out = reply{status: http.StatusNotFound, body: map[string]string{"error": "not found"}}
	}
	r.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if out.status == 0 {
		out.status = http.StatusOK
	}
	switch b := out.body.(type) {
	case string:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(out.status)
		w.Write([]byte(b))
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(out.status)
		json.NewEncoder(w).Encode(b)
	}
}

func (r *fakeRunner) pollCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.polls)
}

func (r *fakeRunner) polledCodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	codes := make([]string, len(r.polls))
	for i, p := range r.polls {
		codes[i] = p["device_code"]
	}
	return codes
}

func (r *fakeRunner) pollBodies() []map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]string(nil), r.polls...)
}

func (r *fakeRunner) authHeaders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.verifyHeaders...)
}

func deviceCode(code string, interval, expiresIn int) reply {
	return reply{body: map[string]any{
		"device_code":               code,
		"user_code":                 "USER-" + code,
		"verification_uri":          "https://auth.example.com/device",
		"verification_uri_complete": "https://auth.example.com/device?user_code=USER-" + code,
		"expires_in":                expiresIn,
		"interval":                  interval,
	}}
}

func pending() reply  { return reply{status: http.StatusBadRequest, body: map[string]string{"error": "authorization_pending"}} }
func slowDown() reply { return reply{status: http.StatusBadRequest, body: map[string]string{"error": "slow_down"}} }
func token(t string) reply {
	return reply{body: map[string]string{"access_token": t}}
}

// fakeClock advances virtual time by the requested delay every time a timer
// is scheduled, and fires it immediately.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	delays []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.delays = append(c.delays, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// manualClock only fires timers when Fire is called.
type manualClock struct {
	mu        sync.Mutex
	now       time.Time
	waiters   []chan time.Time
	scheduled chan time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{
		now:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		scheduled: make(chan time.Duration, 64),
	}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	ch := make(chan time.Time, 1)
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	c.scheduled <- d
	return ch
}

// Fire advances time by d and releases every scheduled timer.
func (c *manualClock) Fire(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	for _, w := range c.waiters {
		w <- c.now
	}
	c.waiters = nil
}

func newTestFlow(t *testing.T, serverURL string, clock auth.Clock, opts ...auth.FlowOption) (*auth.Flow, *auth.Session, *auth.MemoryStore) {
	t.Helper()
	logger := logging.Discard()
	store := &auth.MemoryStore{}
	session := auth.NewSession(store, logger)
	client := auth.NewClient(serverURL, auth.WithClientLogger(logger))
	opts = append([]auth.FlowOption{auth.WithClock(clock), auth.WithLogger(logger)}, opts...)
	return auth.NewFlow(client, session, "client1", opts...), session, store
}

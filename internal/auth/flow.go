package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/waabox/agentdeck/internal/domain"
)

// Flow drives the OAuth 2.0 Device Authorization Grant against the runner.
//
// At most one grant is active at a time. RequestDeviceCode cancels the
// previous grant's polling loop and waits for it to exit before starting a new
// one, so there is never more than one pending poll timer.
type Flow struct {
	client    *Client
	session   *Session
	clientID  string
	clock     Clock
	logger    *slog.Logger
	onSuccess func(domain.Credentials)

	verifyGroup singleflight.Group

	// startMu serialises RequestDeviceCode, Cancel and Logout.
	startMu sync.Mutex
	mu      sync.Mutex
	active  *login
}

// login is one grant and its polling loop.
type login struct {
	grant  Grant
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state PollState
	err   error
}

func (l *login) setState(s PollState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *login) finish(s PollState, err error) {
	l.mu.Lock()
	l.state = s
	l.err = err
	l.mu.Unlock()
}

func (l *login) result() (PollState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.err
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithClock replaces the real clock; tests use it to advance virtual time.
func WithClock(c Clock) FlowOption {
	return func(f *Flow) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithLogger sets the flow logger.
func WithLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithOnLoginSuccess registers the login-success notification. It is called
// exactly once per successful grant, after the token is persisted and verified.
func WithOnLoginSuccess(fn func(domain.Credentials)) FlowOption {
	return func(f *Flow) {
		f.onSuccess = fn
	}
}

// NewFlow creates a Flow that authenticates clientID through client and keeps
// the result in session.
func NewFlow(client *Client, session *Session, clientID string, opts ...FlowOption) *Flow {
	f := &Flow{
		client:   client,
		session:  session,
		clientID: clientID,
		clock:    RealClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "device-flow")
	return f
}

// Session returns the session the flow writes to.
func (f *Flow) Session() *Session {
	return f.session
}

// RequestDeviceCode starts a new login. Any previous grant is invalidated and
// its polling loop stopped before the new device code is requested.
// On success the polling loop runs in the background; use Wait to observe its
// outcome.
func (f *Flow) RequestDeviceCode(ctx context.Context) (Presentation, error) {
	f.startMu.Lock()
	defer f.startMu.Unlock()

	f.stopActive()

	resp, err := f.client.DeviceCode(ctx)
	if err != nil {
		return Presentation{}, err
	}
	grant := NewGrant(resp, f.clock.Now())

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &login{
		grant:  grant,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StatePending,
	}

	f.mu.Lock()
	f.active = l
	f.mu.Unlock()
	f.session.setGrant(grant.Record())

	f.logger.Info("device code issued",
		"user_code", grant.UserCode,
		"interval", grant.Interval,
		"expires_at", grant.Expiry.Format(time.RFC3339))

	go f.poll(runCtx, l)

	return grant.Presentation(), nil
}

// poll runs the state machine for one grant until it reaches a terminal state.
// Attempts are strictly sequential: the next one is scheduled only after the
// previous response has been handled.
func (f *Flow) poll(ctx context.Context, l *login) {
	defer close(l.done)
	defer l.cancel()
	defer f.session.clearGrant(l.grant.DeviceCode)

	interval := l.grant.PollInterval()
	for {
		if l.grant.Expired(f.clock.Now()) {
			f.logger.Info("device code expired", "user_code", l.grant.UserCode)
			l.finish(StateExpired, &TimeoutError{ExpiredAt: l.grant.Expiry})
			return
		}

		resp, err := f.client.PollToken(ctx, l.grant.DeviceCode, f.clientID)
		if ctx.Err() != nil {
			l.finish(StateCancelled, ErrLoginCancelled)
			return
		}

		var netErr *NetworkError
		switch {
		case errors.As(err, &netErr):
			f.logger.Debug("token poll failed, retrying", "error", err, "retry_in", interval)
		case err != nil:
			f.logger.Warn("token poll returned a malformed response", "error", err)
			l.finish(StateFailed, err)
			return
		case resp.AccessToken != "":
			f.complete(ctx, l, resp.AccessToken)
			return
		case resp.Error == "authorization_pending":
			l.setState(StatePending)
		case resp.Error == "slow_down":
			interval += slowDownStep
			l.setState(StateSlowDown)
			f.logger.Debug("server asked to slow down", "interval", interval)
		default:
			f.logger.Info("authorization denied", "error", resp.Error, "description", resp.ErrorDescription)
			l.finish(StateDenied, &AuthorizationError{Code: resp.Error, Description: resp.ErrorDescription})
			return
		}

		select {
		case <-ctx.Done():
			l.finish(StateCancelled, ErrLoginCancelled)
			return
		case <-f.clock.After(interval):
		}
	}
}

func (f *Flow) complete(ctx context.Context, l *login, token string) {
	if err := f.session.SetToken(token); err != nil {
		f.logger.Warn("persisting token", "error", err)
	}
	verified := f.VerifyToken(ctx)
	if ctx.Err() != nil {
		l.finish(StateCancelled, ErrLoginCancelled)
		return
	}
	l.finish(StateSuccess, nil)

	f.logger.Info("login succeeded", "verified", verified)
	if f.onSuccess != nil {
		f.onSuccess(domain.Credentials{Token: token, User: f.session.User()})
	}
}

// Wait blocks until the current grant reaches a terminal state and returns its
// outcome: nil on success, otherwise a *TimeoutError, *AuthorizationError,
// *ProtocolError or ErrLoginCancelled.
func (f *Flow) Wait(ctx context.Context) error {
	f.mu.Lock()
	l := f.active
	f.mu.Unlock()
	if l == nil {
		return ErrNoActiveLogin
	}

	select {
	case <-l.done:
		_, err := l.result()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the state of the current grant, or StateIdle when none was started.
func (f *Flow) State() PollState {
	f.mu.Lock()
	l := f.active
	f.mu.Unlock()
	if l == nil {
		return StateIdle
	}
	s, _ := l.result()
	return s
}

// Cancel stops the current grant's polling loop. The pending timer is cleared
// before Cancel returns, so no poll fires afterwards.
func (f *Flow) Cancel() {
	f.startMu.Lock()
	defer f.startMu.Unlock()
	f.stopActive()
}

func (f *Flow) stopActive() {
	f.mu.Lock()
	l := f.active
	f.mu.Unlock()
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// VerifyToken checks the stored token against the runner. A valid token marks
// the session authenticated and stores the returned profile. An invalid token,
// a missing token or a transport failure clears the session and returns false.
// Concurrent callers share one in-flight verification.
func (f *Flow) VerifyToken(ctx context.Context) bool {
	v, _, _ := f.verifyGroup.Do("verify", func() (interface{}, error) {
		return f.verify(ctx), nil
	})
	return v.(bool)
}

func (f *Flow) verify(ctx context.Context) bool {
	token := f.session.Token()
	if token == "" {
		return false
	}

	resp, err := f.client.Verify(ctx, token)
	if err != nil {
		f.logger.Warn("token verification failed", "error", err)
		f.session.ClearToken()
		return false
	}
	if !resp.Valid {
		f.logger.Info("stored token is no longer valid")
		f.session.ClearToken()
		return false
	}
	if err := f.session.MarkAuthenticated(resp.User); err != nil {
		f.logger.Warn("persisting profile", "error", err)
	}
	return true
}

// Logout cancels any login in progress and clears the token and profile.
// It never fails and performs no network call.
func (f *Flow) Logout() {
	f.Cancel()
	f.session.ClearToken()
	f.logger.Info("logged out")
}

// FetchConfig returns the client configuration published by the runner.
func (f *Flow) FetchConfig(ctx context.Context) (RemoteConfig, error) {
	return f.client.Config(ctx)
}

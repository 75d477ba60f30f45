package auth

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
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"github.com/waabox/agentdeck/internal/domain"
)

const (
	deviceCodePath = "/api/auth/device-code"
	tokenPath      = "/api/auth/token"
	verifyPath     = "/api/auth/verify"
	configPath     = "/api/auth/config"
)

// Client talks to the runner's /api/auth endpoints.
// Every call goes through a circuit breaker; an open breaker is reported as a
// NetworkError like any other transport failure.
type Client struct {
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithClientLogger sets the logger used for breaker state changes.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for the runner at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "auth-client")
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "runner-auth",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var netErr *NetworkError
			return !errors.As(err, &netErr)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// DeviceCode requests a new device code.
// device_code, user_code, verification_uri and expires_in are required;
// verification_uri_complete and interval may be omitted.
func (c *Client) DeviceCode(ctx context.Context) (DeviceCodeResponse, error) {
	const op = "requesting device code"

	var raw struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               *int   `json:"expires_in"`
		Interval                int    `json:"interval"`
	}
	err := c.execute(op, func() error {
		resp, err := c.do(ctx, op, http.MethodGet, deviceCodePath, nil, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusError(op, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return &ProtocolError{Op: op, Reason: "decoding body", Err: err}
		}
		return nil
	})
	if err != nil {
		return DeviceCodeResponse{}, err
	}

	missing := ""
	switch {
	case raw.DeviceCode == "":
		missing = "device_code"
	case raw.UserCode == "":
		missing = "user_code"
	case raw.VerificationURI == "":
		missing = "verification_uri"
	case raw.ExpiresIn == nil || *raw.ExpiresIn <= 0:
		missing = "expires_in"
	}
	if missing != "" {
		return DeviceCodeResponse{}, &ProtocolError{Op: op, Reason: "missing field " + missing}
	}

	return DeviceCodeResponse{
		DeviceCode:              raw.DeviceCode,
		UserCode:                raw.UserCode,
		VerificationURI:         raw.VerificationURI,
		VerificationURIComplete: raw.VerificationURIComplete,
		ExpiresIn:               *raw.ExpiresIn,
		Interval:                raw.Interval,
	}, nil
}

// PollToken sends one token request for deviceCode.
// OAuth error codes (authorization_pending, slow_down, ...) are returned in the
// TokenResponse, not as errors. A 5xx answer is a NetworkError so the caller
// retries it; a body with neither a token nor an error is a ProtocolError.
func (c *Client) PollToken(ctx context.Context, deviceCode, clientID string) (TokenResponse, error) {
	const op = "polling token"

	payload, err := json.Marshal(map[string]string{
		"device_code": deviceCode,
		"grant_type":  DeviceGrantType,
		"client_id":   clientID,
	})
	if err != nil {
		return TokenResponse{}, fmt.Errorf("encoding token request: %w", err)
	}

	var raw struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	err = c.execute(op, func() error {
		resp, err := c.do(ctx, op, http.MethodPost, tokenPath, bytes.NewReader(payload), "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return statusError(op, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
			return &ProtocolError{Op: op, Reason: fmt.Sprintf("decoding body (status %d)", resp.StatusCode), Err: err}
		}
		return nil
	})
	if err != nil {
		return TokenResponse{}, err
	}
	if raw.AccessToken == "" && raw.Error == "" {
		return TokenResponse{}, &ProtocolError{Op: op, Reason: "neither access_token nor error present"}
	}
	return TokenResponse{
		AccessToken:      raw.AccessToken,
		Error:            raw.Error,
		ErrorDescription: raw.ErrorDescription,
	}, nil
}

// VerifyResponse is the answer of the verification endpoint.
type VerifyResponse struct {
	Valid bool            `json:"valid"`
	User  *domain.Profile `json:"user,omitempty"`
}

// Verify checks token against the runner. A non-2xx answer is reported as an
// invalid token rather than an error.
func (c *Client) Verify(ctx context.Context, token string) (VerifyResponse, error) {
	const op = "verifying token"

	var out VerifyResponse
	err := c.execute(op, func() error {
		resp, err := c.do(ctx, op, http.MethodGet, verifyPath, nil, token)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return statusError(op, resp)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			out = VerifyResponse{}
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return &ProtocolError{Op: op, Reason: "decoding body", Err: err}
		}
		return nil
	})
	return out, err
}

// Config fetches the client configuration published by the runner.
func (c *Client) Config(ctx context.Context) (RemoteConfig, error) {
	const op = "fetching auth config"

	var out RemoteConfig
	err := c.execute(op, func() error {
		resp, err := c.do(ctx, op, http.MethodGet, configPath, nil, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return statusError(op, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return &ProtocolError{Op: op, Reason: "decoding body", Err: err}
		}
		return nil
	})
	return out, err
}

func (c *Client) execute(op string, fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &NetworkError{Op: op, Err: err}
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, token string) (*http.Response, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("building URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	return resp, nil
}

// statusError maps an unexpected HTTP status to an error kind: 5xx is treated
// as a transport problem, anything else as a protocol violation.
func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
	err := fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	if resp.StatusCode >= http.StatusInternalServerError {
		return &NetworkError{Op: op, Err: err}
	}
	return &ProtocolError{Op: op, Reason: "unexpected status", Err: err}
}

// Package api performs authenticated calls against the task runner API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/waabox/agentdeck/internal/auth"
)

// TokenSource provides the bearer token attached to each request.
type TokenSource interface {
	Token() string
	ClearToken()
}

// LoginStarter starts a new device login when the server asks for one.
type LoginStarter interface {
	RequestDeviceCode(ctx context.Context) (auth.Presentation, error)
}

// RequestOptions describes one call. An empty Method means GET.
type RequestOptions struct {
	Method string
	Body   []byte
	Header http.Header
}

// Result is the outcome of Do. HTTP failures are reported here rather than as
// Go errors; Status is 0 when the request never reached the server.
type Result struct {
	OK     bool
	Status int
	// Data holds the body when the response is JSON, Text otherwise.
	Data    json.RawMessage
	Text    string
	Message string

	// AuthInProgress is set when the server required a login and a new
	// device login was started. Login describes what to show the user.
	AuthInProgress bool
	Login          *auth.Presentation
}

// Decode unmarshals the JSON body into v.
func (r Result) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response has no JSON body (status %d)", r.Status)
	}
	return json.Unmarshal(r.Data, v)
}

// Client attaches the session token to every request and starts a login when
// the server answers 401 with needs_login.
type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
	login   LoginStarter
	logger  *slog.Logger
}

// NewClient creates a Client for the API at baseURL.
func NewClient(baseURL string, tokens TokenSource, login LoginStarter, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		tokens:  tokens,
		login:   login,
		logger:  logger.With("component", "api"),
	}
}

// Do sends one request to path.
//
// A 401 carrying {"needs_login": true} clears the token, starts exactly one
// device login and returns an in-progress result. Any other 401 clears the
// token and fails without starting a login.
func (c *Client) Do(ctx context.Context, path string, opts RequestOptions) Result {
	req, err := c.newRequest(ctx, path, opts)
	if err != nil {
		return Result{Message: err.Error()}
	}
	requestID := req.Header.Get("X-Request-ID")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "path", path, "request_id", requestID, "error", err)
		return Result{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: resp.StatusCode, Message: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return c.unauthorized(ctx, path, requestID, body)
	}

	out := Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status: resp.StatusCode,
	}
	if isJSON(resp.Header.Get("Content-Type")) && json.Valid(body) {
		out.Data = json.RawMessage(body)
	} else {
		out.Text = string(body)
	}
	if !out.OK {
		out.Message = errorMessage(out, resp.Status)
	}
	c.logger.Debug("request completed", "path", path, "request_id", requestID, "status", resp.StatusCode)
	return out
}

func (c *Client) newRequest(ctx context.Context, path string, opts RequestOptions) (*http.Request, error) {
	endpoint := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u, err := url.JoinPath(c.baseURL, path)
		if err != nil {
			return nil, fmt.Errorf("building URL: %w", err)
		}
		endpoint = u
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token := c.tokens.Token(); token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}
	return req, nil
}

func (c *Client) unauthorized(ctx context.Context, path, requestID string, body []byte) Result {
	var payload struct {
		NeedsLogin bool `json:"needs_login"`
	}
	_ = json.Unmarshal(body, &payload)

	c.tokens.ClearToken()
	if !payload.NeedsLogin {
		c.logger.Info("request rejected, token cleared", "path", path, "request_id", requestID)
		return Result{Status: http.StatusUnauthorized, Message: "authentication failed"}
	}

	c.logger.Info("server requires login, starting device flow", "path", path, "request_id", requestID)
	p, err := c.login.RequestDeviceCode(ctx)
	if err != nil {
		return Result{Status: http.StatusUnauthorized, Message: fmt.Sprintf("starting login: %v", err)}
	}
	return Result{
		Status:         http.StatusUnauthorized,
		Message:        "login required",
		AuthInProgress: true,
		Login:          &p,
	}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// errorMessage picks a human-readable message from a failed response.
func errorMessage(r Result, status string) string {
	if len(r.Data) > 0 {
		var body struct {
			Detail  any    `json:"detail"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(r.Data, &body) == nil {
			switch {
			case body.Message != "":
				return body.Message
			case body.Error != "":
				return body.Error
			}
			if s, ok := body.Detail.(string); ok && s != "" {
				return s
			}
		}
	}
	if t := strings.TrimSpace(r.Text); t != "" && len(t) <= 200 {
		return t
	}
	return status
}

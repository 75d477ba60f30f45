package auth

import (
	"time"

	"golang.org/x/oauth2"
)

// DeviceGrantType is the grant_type sent on every token poll.
const DeviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// defaultInterval is used when the server omits the polling interval.
const defaultInterval = 5

// slowDownStep is added to the interval each time the server answers slow_down.
const slowDownStep = 5 * time.Second

// DeviceCodeResponse holds the initial response from a device authorization request.
// It contains the code to show the user and the parameters needed for polling.
type DeviceCodeResponse struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int // seconds until the device code expires
	Interval                int // minimum polling interval in seconds
}

// TokenResponse holds one answer from the token endpoint: either an access
// token or an OAuth error code.
type TokenResponse struct {
	AccessToken      string
	Error            string
	ErrorDescription string
}

// Grant is an issued device code together with the absolute time it expires.
// It is created by RequestDeviceCode and lives until the polling loop stops.
type Grant struct {
	oauth2.DeviceAuthResponse
	IssuedAt time.Time
}

// NewGrant anchors resp to the issue time now.
func NewGrant(resp DeviceCodeResponse, now time.Time) Grant {
	interval := resp.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return Grant{
		DeviceAuthResponse: oauth2.DeviceAuthResponse{
			DeviceCode:              resp.DeviceCode,
			UserCode:                resp.UserCode,
			VerificationURI:         resp.VerificationURI,
			VerificationURIComplete: resp.VerificationURIComplete,
			Expiry:                  now.Add(time.Duration(resp.ExpiresIn) * time.Second),
			Interval:                int64(interval),
		},
		IssuedAt: now,
	}
}

// PollInterval returns the initial delay between poll attempts.
func (g Grant) PollInterval() time.Duration {
	return time.Duration(g.Interval) * time.Second
}

// Expired reports whether the grant may no longer be polled at time now.
func (g Grant) Expired(now time.Time) bool {
	return !now.Before(g.Expiry)
}

// Record returns the transient session record for this grant.
func (g Grant) Record() GrantRecord {
	return GrantRecord{
		DeviceCode: g.DeviceCode,
		Interval:   int(g.Interval),
		ExpiresIn:  int(g.Expiry.Sub(g.IssuedAt) / time.Second),
		IssuedAt:   g.IssuedAt,
	}
}

// GrantRecord is the session-scoped record of the in-flight device grant.
type GrantRecord struct {
	DeviceCode string
	Interval   int
	ExpiresIn  int
	IssuedAt   time.Time
}

// Presentation is what the user needs to complete the login out of band.
type Presentation struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int // seconds
}

// Presentation returns the user-facing part of the grant.
func (g Grant) Presentation() Presentation {
	return Presentation{
		UserCode:                g.UserCode,
		VerificationURI:         g.VerificationURI,
		VerificationURIComplete: g.VerificationURIComplete,
		ExpiresIn:               int(g.Expiry.Sub(g.IssuedAt) / time.Second),
	}
}

// RemoteConfig is the client configuration published by the runner.
type RemoteConfig struct {
	ClientID string `json:"client_id"`
	BaseURL  string `json:"base_url"`
	Scope    string `json:"scope"`
	Required bool   `json:"required"`
}

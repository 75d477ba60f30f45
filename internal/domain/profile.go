package domain

import (
	"bytes"
	"encoding/json"
)

// ProfileID is a user identifier. The verification endpoint may send it as
// either a JSON string or a JSON number.
type ProfileID string

// UnmarshalJSON accepts both quoted and numeric identifiers.
func (id *ProfileID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ProfileID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ProfileID(n.String())
	return nil
}

// Profile is the user profile attached to a verified session.
type Profile struct {
	ID       ProfileID `json:"id,omitempty" toml:"id,omitempty"`
	Username string    `json:"username,omitempty" toml:"username,omitempty"`
	Name     string    `json:"name,omitempty" toml:"name,omitempty"`
	Email    string    `json:"email,omitempty" toml:"email,omitempty"`
	Avatar   string    `json:"avatar,omitempty" toml:"avatar,omitempty"`
}

// DisplayName returns the best human-readable label for the profile.
func (p Profile) DisplayName() string {
	switch {
	case p.Name != "":
		return p.Name
	case p.Username != "":
		return p.Username
	case p.Email != "":
		return p.Email
	}
	return string(p.ID)
}

// Credentials is the persisted authentication state: a bearer token and the
// profile it was verified against. User is nil until verification succeeds.
type Credentials struct {
	Token string
	User  *Profile
}

// Empty reports whether no credentials are stored.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.User == nil
}

package jwt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Audience is the aud claim, which may be a single string or an array
// of strings on the wire.
type Audience []string

// UnmarshalJSON accepts both encodings.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("aud claim must be a string or array of strings")
	}
	*a = many
	return nil
}

// Contains reports whether the audience includes the value.
func (a Audience) Contains(value string) bool {
	for _, aud := range a {
		if aud == value {
			return true
		}
	}
	return false
}

// ContainsAny reports whether the audience includes any of the values.
func (a Audience) ContainsAny(values ...string) bool {
	for _, v := range values {
		if a.Contains(v) {
			return true
		}
	}
	return false
}

// NumericDate is a JWT timestamp claim: seconds since the epoch,
// integer or fractional.
type NumericDate struct {
	time.Time
}

// UnmarshalJSON decodes a numeric date.
func (d *NumericDate) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("numeric date must be a number")
	}
	d.Time = time.Unix(int64(seconds), int64((seconds-float64(int64(seconds)))*1e9))
	return nil
}

// Claims is the decoded payload of a token. Registered claims are
// typed; everything is also retained in Raw for claim mapping and
// attribute policies.
type Claims struct {
	Subject   string       `json:"sub"`
	Issuer    string       `json:"iss"`
	Audience  Audience     `json:"aud"`
	ExpiresAt *NumericDate `json:"exp"`
	NotBefore *NumericDate `json:"nbf"`
	IssuedAt  *NumericDate `json:"iat"`
	ID        string       `json:"jti"`

	Raw map[string]interface{} `json:"-"`
}

// decodeClaims parses the payload JSON into Claims.
func decodeClaims(payload []byte) (*Claims, error) {
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	claims.Raw = raw

	return &claims, nil
}

// Get returns a raw claim by name.
func (c *Claims) Get(name string) (interface{}, bool) {
	v, ok := c.Raw[name]
	return v, ok
}

// StringsClaim returns a claim as a string slice. It accepts an array
// of strings, a single string, and a space-separated string (the
// conventional scope encoding).
func (c *Claims) StringsClaim(name string) []string {
	v, ok := c.Raw[name]
	if !ok {
		return nil
	}

	switch value := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(value))
		for _, item := range value {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(value)
	default:
		return nil
	}
}

// StringClaim returns a claim as a string.
func (c *Claims) StringClaim(name string) string {
	if s, ok := c.Raw[name].(string); ok {
		return s
	}
	return ""
}

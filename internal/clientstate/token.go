// Package clientstate encodes the correlation token carried on every
// outbound leg-creation request and echoed back verbatim on each provider
// webhook for that leg. The token is self-describing so the very first
// webhook for a leg can be mapped to (session, leg, call log) without a
// store lookup.
package clientstate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Leg identifies one of the two legs of an outbound session.
// Leg A is always the PSTN leg, leg B the agent's SIP leg.
type Leg string

const (
	LegA Leg = "A"
	LegB Leg = "B"
)

// ErrInvalidToken is returned by Decode for any input that does not
// round-trip through Encode. Callers treat such webhooks as unroutable.
var ErrInvalidToken = errors.New("invalid client state token")

// Token is the decoded content of a client-state value.
type Token struct {
	SessionID string `json:"sid"`
	Leg       Leg    `json:"leg"`
	CallLogID int64  `json:"clid"`
}

// Encode serializes a token as URL-safe base64 JSON. The provider treats
// the value as opaque and echoes it back on every webhook for the leg.
func Encode(sessionID string, leg Leg, callLogID int64) string {
	b, _ := json.Marshal(Token{SessionID: sessionID, Leg: leg, CallLogID: callLogID})
	return base64.URLEncoding.EncodeToString(b)
}

// Decode parses a client-state value produced by Encode. It never panics:
// malformed base64, malformed JSON, or missing fields all yield
// ErrInvalidToken.
func Decode(s string) (Token, error) {
	if s == "" {
		return Token{}, ErrInvalidToken
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if t.SessionID == "" || (t.Leg != LegA && t.Leg != LegB) {
		return Token{}, ErrInvalidToken
	}
	return t, nil
}

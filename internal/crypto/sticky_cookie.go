package crypto

import (
	"time"

	"github.com/gorilla/securecookie"
)

// StickyCookieName is the cookie set on a response when a domain mapping
// has sticky sessions enabled (§4.F "Sticky sessions").
const StickyCookieName = "edgeserve_sticky_alias"

// stickyCookieValue is the signed payload: which alias a client is bound
// to and when that binding expires.
type stickyCookieValue struct {
	AliasID   string `json:"a"`
	ExpiresAt int64  `json:"e"`
}

// StickySigner signs and verifies sticky-session cookies with an HMAC
// derived from ENCRYPTION_KEY, so a client cannot forge a binding to an
// alias it was never assigned.
type StickySigner struct {
	sc *securecookie.SecureCookie
}

// NewStickySigner builds a signer with hashKey as the HMAC key (main passes
// a key derived from ENCRYPTION_KEY, not the header-encryption key itself),
// with no separate block key since the payload is not secret, only
// tamper-evident.
func NewStickySigner(hashKey []byte) *StickySigner {
	return &StickySigner{sc: securecookie.New(hashKey, nil)}
}

// Sign produces the cookie value binding the client to aliasID until
// expiresAt.
func (s *StickySigner) Sign(aliasID string, duration time.Duration) (string, error) {
	v := stickyCookieValue{AliasID: aliasID, ExpiresAt: time.Now().Add(duration).Unix()}
	return s.sc.Encode(StickyCookieName, v)
}

// Verify decodes a cookie value produced by Sign. It returns ok=false if
// the signature is invalid or the binding has expired.
func (s *StickySigner) Verify(cookieValue string) (aliasID string, ok bool) {
	var v stickyCookieValue
	if err := s.sc.Decode(StickyCookieName, cookieValue, &v); err != nil {
		return "", false
	}
	if time.Now().Unix() > v.ExpiresAt {
		return "", false
	}
	return v.AliasID, true
}

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized reports a request that carried no acceptable identity.
var ErrUnauthorized = errors.New("authentication failed")

// MaxOwnerLength bounds an owner identity.
const MaxOwnerLength = 128

// ownerPattern allows what usernames and email-style proxy identities use
var ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9._@+-]+$`)

// ValidOwner reports whether owner is an acceptable identity.
func ValidOwner(owner string) bool {
	return len(owner) <= MaxOwnerLength && ownerPattern.MatchString(owner)
}

// Query parameters carrying credentials on the WebSocket upgrade. Browsers
// cannot set headers on a WebSocket handshake.
const (
	ParamUser  = "user"
	ParamToken = "token"
)

// Config defines the identity sources a Verifier accepts.
type Config struct {
	// Tokens maps owner to the bcrypt hash of that owner's token.
	Tokens map[string]string
	// TrustedHeader names a header set by an authenticating reverse proxy.
	// When set, it is the only identity source.
	TrustedHeader string
}

// Verifier resolves the owner identity of an incoming request.
type Verifier struct {
	tokens        map[string][]byte
	trustedHeader string
	// dummy keeps unknown-owner checks as slow as known-owner ones.
	dummy []byte
}

// NewVerifier creates a verifier. Hashes are validated up front so a bad
// AUTH_TOKENS entry fails at startup rather than on every login.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{
		tokens:        make(map[string][]byte, len(cfg.Tokens)),
		trustedHeader: http.CanonicalHeaderKey(strings.TrimSpace(cfg.TrustedHeader)),
	}
	maxCost := 0
	for owner, hash := range cfg.Tokens {
		owner = strings.TrimSpace(owner)
		if !ValidOwner(owner) {
			return nil, fmt.Errorf("invalid owner %q in auth tokens", owner)
		}
		cost, err := bcrypt.Cost([]byte(hash))
		if err != nil {
			return nil, fmt.Errorf("invalid bcrypt hash for %q: %w", owner, err)
		}
		maxCost = max(maxCost, cost)
		v.tokens[owner] = []byte(hash)
	}
	if len(v.tokens) == 0 {
		return v, nil
	}

	// Match the most expensive configured hash so an unknown owner costs
	// no less than a known one.
	dummy, err := bcrypt.GenerateFromPassword([]byte("webshell"), maxCost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare verifier: %w", err)
	}
	v.dummy = dummy
	return v, nil
}

// Enabled reports whether any identity source is configured. A verifier
// with none rejects every request.
func (v *Verifier) Enabled() bool {
	return v.trustedHeader != "" || len(v.tokens) > 0
}

// Verify returns the owner identity for r or ErrUnauthorized.
func (v *Verifier) Verify(r *http.Request) (string, error) {
	if v.trustedHeader != "" {
		owner := strings.TrimSpace(r.Header.Get(v.trustedHeader))
		if !ValidOwner(owner) {
			return "", ErrUnauthorized
		}
		return owner, nil
	}

	owner, token, ok := r.BasicAuth()
	if !ok {
		q := r.URL.Query()
		owner, token = q.Get(ParamUser), q.Get(ParamToken)
	}
	if !ValidOwner(owner) || token == "" {
		return "", ErrUnauthorized
	}

	hash, known := v.tokens[owner]
	if !known {
		if v.dummy != nil {
			_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(token))
		}
		return "", ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
		return "", ErrUnauthorized
	}
	return owner, nil
}

// HashToken returns the bcrypt hash to put in AUTH_TOKENS for token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", errors.New("token cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hash), nil
}

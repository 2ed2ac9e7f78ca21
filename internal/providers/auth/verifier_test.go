package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func mustHash(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestVerifyTokens(t *testing.T) {
	v, err := NewVerifier(Config{Tokens: map[string]string{
		"alice": mustHash(t, "s3cret"),
		"bob":   mustHash(t, "hunter2"),
	}})
	require.NoError(t, err)
	assert.True(t, v.Enabled())

	tests := []struct {
		name  string
		build func() *http.Request
		owner string
		err   error
	}{
		{
			name: "query params",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws/terminal?user=alice&token=s3cret", nil)
			},
			owner: "alice",
		},
		{
			name: "basic auth",
			build: func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api/terminal/session", nil)
				r.SetBasicAuth("bob", "hunter2")
				return r
			},
			owner: "bob",
		},
		{
			name: "wrong token",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws/terminal?user=alice&token=nope", nil)
			},
			err: ErrUnauthorized,
		},
		{
			name: "unknown owner",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws/terminal?user=mallory&token=s3cret", nil)
			},
			err: ErrUnauthorized,
		},
		{
			name: "missing token",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws/terminal?user=alice", nil)
			},
			err: ErrUnauthorized,
		},
		{
			name: "no credentials",
			build: func() *http.Request {
				return httptest.NewRequest(http.MethodGet, "/ws/terminal", nil)
			},
			err: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, err := v.Verify(tt.build())
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.Empty(t, owner)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
		})
	}
}

func TestVerifyTrustedHeader(t *testing.T) {
	v, err := NewVerifier(Config{
		TrustedHeader: "x-forwarded-user",
		Tokens:        map[string]string{"alice": mustHash(t, "s3cret")},
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws/terminal", nil)
	r.Header.Set("X-Forwarded-User", " carol ")
	owner, err := v.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "carol", owner)

	// The header is authoritative once configured.
	r = httptest.NewRequest(http.MethodGet, "/ws/terminal?user=alice&token=s3cret", nil)
	_, err = v.Verify(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyFailsClosed(t *testing.T) {
	v, err := NewVerifier(Config{})
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	r := httptest.NewRequest(http.MethodGet, "/ws/terminal?user=alice&token=anything", nil)
	_, err = v.Verify(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewVerifierRejectsBadHash(t *testing.T) {
	_, err := NewVerifier(Config{Tokens: map[string]string{"alice": "plaintext"}})
	assert.Error(t, err)

	_, err = NewVerifier(Config{Tokens: map[string]string{" ": mustHash(t, "x")}})
	assert.Error(t, err)
}

func TestHashToken(t *testing.T) {
	hash, err := HashToken("s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	v, err := NewVerifier(Config{Tokens: map[string]string{"alice": hash}})
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/?user=alice&token=s3cret", nil)
	owner, err := v.Verify(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	_, err = HashToken("")
	assert.Error(t, err)
}

func TestValidOwner(t *testing.T) {
	for _, owner := range []string{"alice", "alice.smith", "alice@example.com", "svc-01_ci"} {
		assert.True(t, ValidOwner(owner), owner)
	}
	for _, owner := range []string{"", "alice smith", "../etc", "a\nb", strings.Repeat("a", MaxOwnerLength+1)} {
		assert.False(t, ValidOwner(owner), owner)
	}
}

func TestVerifyTrustedHeaderRejectsJunk(t *testing.T) {
	v, err := NewVerifier(Config{TrustedHeader: "X-Forwarded-User"})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/ws/terminal", nil)
	r.Header.Set("X-Forwarded-User", "alice; rm -rf /")
	_, err = v.Verify(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUnknownOwnerCostMatchesConfiguredHashes(t *testing.T) {
	costly, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost+2)
	require.NoError(t, err)

	v, err := NewVerifier(Config{Tokens: map[string]string{
		"alice": mustHash(t, "s3cret"),
		"bob":   string(costly),
	}})
	require.NoError(t, err)

	cost, err := bcrypt.Cost(v.dummy)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+2, cost)

	r := httptest.NewRequest(http.MethodGet, "/ws/terminal?user=mallory&token=x", nil)
	_, err = v.Verify(r)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

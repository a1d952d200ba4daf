// ABOUTME: Tests for session providers
// ABOUTME: Covers the static provider and JWT verification paths

package session

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-sync/internal/chat"
)

var testSecret = []byte("test-secret")

func TestStatic_CurrentUser(t *testing.T) {
	u := chat.User{ID: "alice", Name: "Alice"}
	p := NewStatic(u)

	got, ok := p.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, u, got)

	id, ok := p.CurrentUserID()
	require.True(t, ok)
	assert.Equal(t, "alice", id)
}

func TestStatic_ZeroUser(t *testing.T) {
	p := NewStatic(chat.User{})
	_, ok := p.CurrentUser()
	assert.False(t, ok)
	_, ok = p.CurrentUserID()
	assert.False(t, ok)
}

func TestTokenProvider_RoundTrip(t *testing.T) {
	u := chat.User{ID: "alice", Name: "Alice", AvatarURL: "https://example.com/a.png"}
	token, err := Generate(u, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	p, err := NewTokenProvider(token, testSecret)
	require.NoError(t, err)

	got, ok := p.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, u, got)
}

func TestTokenProvider_WrongSecret(t *testing.T) {
	token, err := Generate(chat.User{ID: "alice"}, testSecret, nil)
	require.NoError(t, err)

	_, err = NewTokenProvider(token, []byte("other-secret"))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenProvider_Expired(t *testing.T) {
	token, err := Generate(chat.User{ID: "alice"}, testSecret, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	require.NoError(t, err)

	_, err = NewTokenProvider(token, testSecret)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenProvider_MissingSub(t *testing.T) {
	claims := jwt.MapClaims{"name": "no subject"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = NewTokenProvider(token, testSecret)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestTokenProvider_Garbage(t *testing.T) {
	_, err := NewTokenProvider("not-a-token", testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// ABOUTME: Identity/session provider consumed by the sync controller
// ABOUTME: Static provider for wired identities, JWT provider for token-carried ones

package session

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/chat-sync/internal/chat"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Provider exposes the current identity. Read-only: the controller
// never mutates session state.
type Provider interface {
	CurrentUser() (chat.User, bool)
	CurrentUserID() (string, bool)
}

// Static is a Provider with a fixed user, for wiring and tests.
type Static struct {
	User chat.User
}

// NewStatic returns a provider that always reports the given user.
func NewStatic(u chat.User) *Static {
	return &Static{User: u}
}

func (s *Static) CurrentUser() (chat.User, bool) {
	if s == nil || s.User.ID == "" {
		return chat.User{}, false
	}
	return s.User, true
}

func (s *Static) CurrentUserID() (string, bool) {
	u, ok := s.CurrentUser()
	return u.ID, ok
}

// TokenProvider derives the current user from an HS256-signed JWT
// carrying sub, name and avatar claims.
type TokenProvider struct {
	user chat.User
	ok   bool
}

// NewTokenProvider verifies the token against the secret and captures
// the identity it carries. An unverifiable token yields a provider with
// no current user rather than an error at call sites.
func NewTokenProvider(tokenString string, secret []byte) (*TokenProvider, error) {
	user, err := verify(tokenString, secret)
	if err != nil {
		return nil, err
	}
	return &TokenProvider{user: user, ok: true}, nil
}

func (p *TokenProvider) CurrentUser() (chat.User, bool) {
	if p == nil || !p.ok {
		return chat.User{}, false
	}
	return p.user, true
}

func (p *TokenProvider) CurrentUserID() (string, bool) {
	u, ok := p.CurrentUser()
	return u.ID, ok
}

func verify(tokenString string, secret []byte) (chat.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return chat.User{}, ErrExpiredToken
		}
		return chat.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return chat.User{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return chat.User{}, ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return chat.User{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	user := chat.User{ID: sub}
	if name, ok := claims["name"].(string); ok {
		user.Name = name
	}
	if avatar, ok := claims["avatar"].(string); ok {
		user.AvatarURL = avatar
	}
	return user, nil
}

// Generate creates an HS256 token for the given user. Used by tooling
// to mint identities for TokenProvider.
func Generate(user chat.User, secret []byte, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims["sub"] = user.ID
	if user.Name != "" {
		claims["name"] = user.Name
	}
	if user.AvatarURL != "" {
		claims["avatar"] = user.AvatarURL
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Package auth gates the WebSocket upgrade in cmd/pwsd with a bearer JWT.
// It has no knowledge of the persistent-websocket protocol — rejecting the
// upgrade is the full extent of its job.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the peer a jet channel / engine session is attributed
// to in logs.
type Claims struct {
	PeerID string `json:"peerId"`
	jwt.RegisteredClaims
}

// Manager issues and verifies bearer tokens with a single shared secret.
type Manager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewManager constructs a Manager. tokenDuration governs Issue, not Verify.
func NewManager(secretKey string, tokenDuration time.Duration) *Manager {
	return &Manager{secretKey: []byte(secretKey), tokenDuration: tokenDuration}
}

// Issue mints a token identifying peerID, for cmd/pwsc to present.
func (m *Manager) Issue(peerID string) (string, error) {
	claims := &Claims{
		PeerID: peerID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "pwsd",
			Subject:   peerID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates tokenString and returns its claims.
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func extractToken(r *http.Request) (string, error) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	authHeader := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if strings.HasPrefix(authHeader, bearerPrefix) {
		return strings.TrimPrefix(authHeader, bearerPrefix), nil
	}
	return "", errors.New("no bearer token in query or Authorization header")
}

// UpgradeAuth validates the bearer token on an incoming upgrade request.
func (m *Manager) UpgradeAuth(r *http.Request) (*Claims, error) {
	token, err := extractToken(r)
	if err != nil {
		return nil, err
	}
	return m.Verify(token)
}

type contextKey string

const peerContextKey contextKey = "pws_peer"

// WithPeer attaches claims to ctx for downstream handlers/logging.
func WithPeer(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, peerContextKey, claims)
}

// PeerFromContext retrieves claims attached by WithPeer.
func PeerFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(peerContextKey).(*Claims)
	return claims, ok
}

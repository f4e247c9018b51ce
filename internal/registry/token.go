package registry

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Minter issues and verifies the authorization tokens handed to
// debugger clients. The token is an HMAC-signed JWT carrying a fresh
// session UUID, which makes "unforgeable" literal rather than merely
// hard to guess.
type Minter struct {
	secret []byte
	ttl    time.Duration
}

// NewMinter builds a Minter signing with secret. ttl bounds how long a
// minted token verifies; sessions are reaped by the janitor well
// before that.
func NewMinter(secret string, ttl time.Duration) *Minter {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Minter{secret: []byte(secret), ttl: ttl}
}

type sessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Mint creates a fresh session ID and its signed authorization token.
func (m *Minter) Mint() (sessionID, token string, err error) {
	sessionID = uuid.NewString()
	claims := sessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
		},
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign session token: %w", err)
	}
	return sessionID, token, nil
}

// Verify checks an authorization token and returns the session ID it
// carries.
func (m *Minter) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid || claims.SessionID == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.SessionID, nil
}

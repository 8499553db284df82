package gate

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session link tokens are signed so an invalid or forged link is
// rejected before any window evaluation runs.

type linkClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// IssueToken mints a signed link token for a session. The token itself
// outlives the access window; the gate, not the token, decides usability.
func IssueToken(secret []byte, sessionID string, scheduledAt time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret not configured")
	}
	claims := linkClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(scheduledAt.Add(30 * 24 * time.Hour)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// VerifyToken returns the session ID embedded in a link token.
func VerifyToken(secret []byte, token string) (string, error) {
	if token == "" {
		return "", errors.New("missing session token")
	}
	var claims linkClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid session token: %w", err)
	}
	if !parsed.Valid || claims.SessionID == "" {
		return "", errors.New("invalid session token")
	}
	return claims.SessionID, nil
}

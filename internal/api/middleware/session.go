package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string
)

var (
	errSessionMisconfigured = errors.New("jwt secret not configured")
	errSessionClaims        = errors.New("invalid session claims")
)

type sessionClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// SetJWTSecret installs the HS256 signing key. An empty secret is ignored.
func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

// SetJWTValidation sets the issuer and audience stamped on and required of
// session tokens. Empty values disable the check.
func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// IssueSessionToken signs an HS256 session token for userID.
func IssueSessionToken(userID uuid.UUID, role string, ttl time.Duration) (string, time.Time, error) {
	if len(jwtSecret) == 0 {
		return "", time.Time{}, errSessionMisconfigured
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := sessionClaims{
		UserID: userID.String(),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if jwtAudience != "" {
		claims.Audience = jwt.ClaimStrings{jwtAudience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// parseSessionToken verifies raw and returns its claims. The subject, when
// present, must name the same user as the user_id claim.
func parseSessionToken(raw string) (*sessionClaims, error) {
	if len(jwtSecret) == 0 {
		return nil, errSessionMisconfigured
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}

	claims := &sessionClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return jwtSecret, nil
	}, opts...); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(claims.UserID); err != nil {
		return nil, errSessionClaims
	}
	if claims.Subject != "" && claims.Subject != claims.UserID {
		return nil, errSessionClaims
	}
	return claims, nil
}

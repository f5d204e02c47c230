// Package auth verifies the bearer token carried on the Identify opcode:
// golang-jwt/v5 HS256 claims plus a manager that verifies and extracts the
// platform identity and entitlement scope fields.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/odin-emotes/eventapi/internal/id"
)

// Claims is the decoded Identify token: who the connection belongs to and
// which private topics it may subscribe to.
type Claims struct {
	UserID   string   `json:"userId"`
	Platform string   `json:"platform"`
	Scopes   []string `json:"scopes"`
	jwt.RegisteredClaims
}

// ObjectID parses the subject as a native or legacy Id, if present.
func (c *Claims) ObjectID() (id.Tagged, error) {
	if tagged, err := id.ParseNative(c.UserID); err == nil {
		return tagged, nil
	}
	return id.ParseLegacy96(c.UserID)
}

// HasScope reports whether claims grant the named entitlement scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// JWTManager verifies and (for tests and internal tooling) issues Identify
// tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
}

// NewJWTManager builds a manager bound to secretKey, signing tokens that
// expire after tokenDuration.
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
	}
}

// Generate signs a new Identify token.
func (m *JWTManager) Generate(userID, platform string, scopes []string) (string, error) {
	claims := &Claims{
		UserID:   userID,
		Platform: platform,
		Scopes:   scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "eventapi",
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// Verify validates tokenString and returns its claims.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	return claims, nil
}

// ExtractTokenFromHeader pulls a bearer token from the Authorization header.
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("auth: authorization header missing")
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("auth: invalid authorization header format")
	}
	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// ExtractTokenFromQuery pulls a bearer token from the ?token= query param,
// the common path for the initial WebSocket/SSE upgrade request.
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("auth: token query parameter missing")
	}
	return token, nil
}

// VerifyUpgradeRequest verifies the token carried on the initial HTTP
// upgrade request, when a deployment chooses to authenticate at the
// transport layer instead of deferring to the Identify opcode.
func (m *JWTManager) VerifyUpgradeRequest(r *http.Request) (*Claims, error) {
	token, err := ExtractTokenFromQuery(r)
	if err != nil {
		token, err = ExtractTokenFromHeader(r)
		if err != nil {
			return nil, fmt.Errorf("auth: no token on upgrade request: %w", err)
		}
	}
	return m.Verify(token)
}

// Package auth validates bearer tokens and turns them into the caller
// identity the rest of the server works with. Tokens are HMAC-signed JWTs;
// when authentication is disabled every caller gets the configured
// anonymous identity.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNoToken is returned when a request carries no bearer token at all.
var ErrNoToken = errors.New("auth: missing bearer token")

// InvalidTokenError wraps any verification failure. The underlying cause is
// kept for logs; callers should not echo it back to clients verbatim.
type InvalidTokenError struct {
	Cause error
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("auth: invalid token: %v", e.Cause)
}

func (e *InvalidTokenError) Unwrap() error { return e.Cause }

// Level mirrors the server's security level ordering.
type Level int

const (
	LevelPublic Level = iota
	LevelInternal
	LevelConfidential
	LevelSecret
)

var levelNames = map[string]Level{
	"public":       LevelPublic,
	"internal":     LevelInternal,
	"confidential": LevelConfidential,
	"secret":       LevelSecret,
}

// ParseLevel maps a claim string to a Level. Unknown strings are an error so
// a typo in a token cannot silently grant public-only or full access.
func ParseLevel(s string) (Level, error) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("auth: unknown security level %q", s)
	}
	return l, nil
}

func (l Level) String() string {
	switch l {
	case LevelPublic:
		return "public"
	case LevelInternal:
		return "internal"
	case LevelConfidential:
		return "confidential"
	case LevelSecret:
		return "secret"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Identity is the verified caller extracted from a token.
type Identity struct {
	UserID        string
	Roles         []string
	Level         Level
	AllowedTables []string
	SessionID     string
}

// Claims is the JWT payload this server issues and accepts.
type Claims struct {
	Roles         []string `json:"roles,omitempty"`
	SecurityLevel string   `json:"security_level"`
	AllowedTables []string `json:"allowed_tables,omitempty"`
	jwt.RegisteredClaims
}

// Config for the authenticator.
type Config struct {
	// Enabled gates verification. When false, Verify returns Anonymous.
	Enabled bool
	// Secret is the HMAC signing key. Required when Enabled.
	Secret []byte
	// Issuer, when non-empty, must match the token's iss claim.
	Issuer string
	// Leeway tolerates small clock skew on exp/nbf checks.
	Leeway time.Duration
	// Anonymous is the identity handed out when auth is disabled.
	Anonymous Identity
}

// Authenticator verifies bearer tokens.
type Authenticator struct {
	config Config
}

// New panics when the config cannot work at all, matching how the rest of
// the server treats construction-time config errors.
func New(config Config) *Authenticator {
	if config.Enabled && len(config.Secret) == 0 {
		panic("auth: enabled without a signing secret")
	}
	if config.Anonymous.UserID == "" {
		config.Anonymous.UserID = "anonymous"
	}
	return &Authenticator{config: config}
}

// Verify checks a raw bearer token and returns the caller identity with a
// fresh session id. The "Bearer " prefix is accepted and stripped.
func (a *Authenticator) Verify(raw string) (Identity, error) {
	if !a.config.Enabled {
		id := a.config.Anonymous
		id.SessionID = uuid.NewString()
		return id, nil
	}

	raw = strings.TrimSpace(raw)
	if after, ok := strings.CutPrefix(raw, "Bearer "); ok {
		raw = strings.TrimSpace(after)
	} else if raw == "Bearer" {
		raw = ""
	}
	if raw == "" {
		return Identity{}, ErrNoToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.config.Leeway),
	}
	if a.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.config.Issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return a.config.Secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, &InvalidTokenError{Cause: err}
	}

	if claims.Subject == "" {
		return Identity{}, &InvalidTokenError{Cause: errors.New("missing sub claim")}
	}
	level, err := ParseLevel(claims.SecurityLevel)
	if err != nil {
		return Identity{}, &InvalidTokenError{Cause: err}
	}

	return Identity{
		UserID:        claims.Subject,
		Roles:         claims.Roles,
		Level:         level,
		AllowedTables: claims.AllowedTables,
		SessionID:     uuid.NewString(),
	}, nil
}

// Issue signs a token for the given identity.
func (a *Authenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	if len(a.config.Secret) == 0 {
		return "", errors.New("auth: no signing secret configured")
	}
	now := time.Now()
	claims := Claims{
		Roles:         id.Roles,
		SecurityLevel: id.Level.String(),
		AllowedTables: id.AllowedTables,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.config.Secret)
}

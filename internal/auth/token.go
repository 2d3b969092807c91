package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// CookieName carries the session token for both the dashboard and the CLI.
	CookieName = "auth_token"
	// Subject is the single principal a password login grants.
	Subject = "admin"
)

var (
	ErrNotConfigured   = errors.New("access password or signing secret not configured")
	ErrInvalidPassword = errors.New("invalid password")
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenRevoked    = errors.New("token revoked")
)

// Claims is the signed session payload.
type Claims struct {
	User string `json:"user"`
	jwt.RegisteredClaims
}

// Config is the subset of server config the authenticator needs.
type Config struct {
	Password     string
	PasswordHash string
	Secret       string
	TTL          time.Duration
}

// Authenticator exchanges the shared password for signed session tokens and
// verifies them on every request.
type Authenticator struct {
	cfg     Config
	revoked RevocationStore
	now     func() time.Time
}

func NewAuthenticator(cfg Config, revoked RevocationStore) *Authenticator {
	if cfg.TTL <= 0 {
		cfg.TTL = 8 * time.Hour
	}
	if revoked == nil {
		revoked = NewMemoryRevocations()
	}
	return &Authenticator{cfg: cfg, revoked: revoked, now: time.Now}
}

// SetClock replaces the time source.
func (a *Authenticator) SetClock(now func() time.Time) { a.now = now }

// TTL is the lifetime of issued tokens.
func (a *Authenticator) TTL() time.Duration { return a.cfg.TTL }

// Configured reports whether both a password and a signing secret are set.
func (a *Authenticator) Configured() bool {
	return a.cfg.Secret != "" && (a.cfg.Password != "" || a.cfg.PasswordHash != "")
}

// Login checks password and returns a token valid for TTL.
func (a *Authenticator) Login(password string) (string, time.Time, error) {
	if !a.Configured() {
		return "", time.Time{}, ErrNotConfigured
	}
	if !a.checkPassword(password) {
		return "", time.Time{}, ErrInvalidPassword
	}

	now := a.now()
	// exp is second precision on the wire; report the same instant so the
	// cookie never outlives the token.
	exp := now.Add(a.cfg.TTL).Truncate(jwt.TimePrecision)
	claims := &Claims{
		User: Subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (a *Authenticator) checkPassword(password string) bool {
	if a.cfg.PasswordHash != "" {
		ok, err := VerifyPassword(a.cfg.PasswordHash, password)
		return err == nil && ok
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.cfg.Password)) == 1
}

// Verify parses and validates a token. An unconfigured secret rejects everything.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Claims, error) {
	if a.cfg.Secret == "" {
		return nil, ErrNotConfigured
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(a.cfg.Secret), nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.User != Subject {
		return nil, ErrInvalidToken
	}
	if claims.ID != "" {
		revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Logout revokes the token until it would have expired anyway.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	claims, err := a.Verify(ctx, token)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(a.now())
	if ttl <= 0 || claims.ID == "" {
		return nil
	}
	return a.revoked.Revoke(ctx, claims.ID, ttl)
}

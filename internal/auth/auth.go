// Package auth authenticates marketplace users with HS256 bearer tokens.
//
// Authentication model:
// - The webhook route is not token protected; it is gated by the provider signature
// - Buyer and seller actions require a token whose subject is the user id
// - Admin actions additionally require the subject to be listed in ADMIN_USER_IDS
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wiredan/wiredan/internal/apperr"
)

var (
	ErrNoToken      = apperr.New(apperr.Auth, "unauthorized", "bearer token required")
	ErrInvalidToken = apperr.New(apperr.Auth, "invalid_token", "invalid or expired token")
	ErrNotAdmin     = apperr.New(apperr.Forbidden, "forbidden", "admin privileges required")
)

const issuer = "wiredan"

// DefaultTokenTTL bounds tokens minted by Issue when no ttl is given.
const DefaultTokenTTL = 24 * time.Hour

// Claims is the token payload.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Admin  bool   `json:"admin"`
}

// Manager validates and issues tokens.
type Manager struct {
	secret []byte
	admins map[string]bool
	now    func() time.Time
}

// NewManager creates a manager for the shared secret and admin list.
func NewManager(secret string, adminUserIDs []string) *Manager {
	admins := make(map[string]bool, len(adminUserIDs))
	for _, id := range adminUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			admins[id] = true
		}
	}
	return &Manager{secret: []byte(secret), admins: admins, now: time.Now}
}

// IsAdmin reports whether userID is on the admin list.
func (m *Manager) IsAdmin(userID string) bool {
	return m.admins[userID]
}

// Issue mints a token for userID. Used by the ops tooling and tests.
func (m *Manager) Issue(userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := m.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate parses raw and returns the caller it identifies.
func (m *Manager) Validate(raw string) (*Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Admin:  m.IsAdmin(claims.Subject),
	}, nil
}

// Package auth verifies bearer tokens for operator endpoints.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Modes.
const (
	ModeNone = "none"
	ModeHMAC = "hmac"
)

// Roles.
const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

var ErrUnauthorized = errors.New("unauthorized")

type Principal struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanTrigger reports whether the principal may start optimization runs.
func (p Principal) CanTrigger() bool { return p.Role == RoleAdmin || p.Role == RoleDispatcher }

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens. In ModeNone every caller is an admin.
type Verifier struct {
	Mode   string
	secret []byte
}

func NewVerifier(mode, secret string) (*Verifier, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case "", ModeNone:
		return &Verifier{Mode: ModeNone}, nil
	case ModeHMAC:
		if secret == "" {
			return nil, errors.New("auth mode hmac requires a secret")
		}
		return &Verifier{Mode: ModeHMAC, secret: []byte(secret)}, nil
	default:
		return nil, errors.Errorf("unknown auth mode %q", mode)
	}
}

// Authenticate resolves the principal behind an Authorization header value.
func (v *Verifier) Authenticate(header string) (Principal, error) {
	if v == nil || v.Mode == ModeNone {
		return Principal{Subject: "anonymous", Role: RoleAdmin}, nil
	}
	if len(header) < len("bearer ") || !strings.EqualFold(header[:len("bearer ")], "bearer ") {
		return Principal{}, errors.Wrap(ErrUnauthorized, "missing bearer token")
	}
	return v.Verify(strings.TrimSpace(header[len("bearer "):]))
}

// Verify validates a token and extracts subject and role.
func (v *Verifier) Verify(token string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, errors.Wrap(ErrUnauthorized, err.Error())
	}
	if c.Role == "" {
		return Principal{}, errors.Wrap(ErrUnauthorized, "token has no role")
	}
	return Principal{Subject: c.Subject, Role: c.Role}, nil
}

// Sign mints a token for p valid for ttl.
func (v *Verifier) Sign(p Principal, ttl time.Duration) (string, error) {
	if v.Mode != ModeHMAC {
		return "", errors.New("signing requires auth mode hmac")
	}
	now := time.Now()
	c := claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(v.secret)
}

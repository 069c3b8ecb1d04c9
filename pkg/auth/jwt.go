// Package auth verifies the bearer tokens that students and proctors
// present when joining a monitored session or opening an event stream.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoToken means the request carried no usable bearer token.
var ErrNoToken = errors.New("auth: missing bearer token")

// Verifier validates HS256 tokens issued by the platform's auth
// service.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns a Verifier for the shared signing secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{
		secret: secret,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()),
	}
}

// Claims is what the pipeline needs from a verified token.
type Claims struct {
	Subject string // user id
	Role    string
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(token string) (Claims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("auth: invalid token: %w", err)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Claims{}, errors.New("auth: token has no subject")
	}
	role, _ := claims["role"].(string)
	return Claims{Subject: sub, Role: role}, nil
}

// VerifyRequest extracts the token from the Authorization header or the
// token query parameter (the streaming endpoint cannot set headers) and
// verifies it.
func (v *Verifier) VerifyRequest(r *http.Request) (Claims, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if q := r.URL.Query().Get("token"); q != "" {
		raw = q
	}
	if raw == "" {
		return Claims{}, ErrNoToken
	}
	return v.Verify(raw)
}

// Sign issues a token. Used by tests and by deployments that run
// without a separate auth service.
func (v *Verifier) Sign(subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	return tok.SignedString(v.secret)
}

// Package auth verifies bearer credentials and issues dev-convenience tokens.
//
// The signed envelope is an HS256 JWT carrying at minimum a subject claim
// and an expiry, mirroring the teacher's session-token scheme but without
// its refresh-token/cookie machinery — this service has no session store,
// only a shared secret and short-lived bearer credentials.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminSubject is the subject that requires a password check before a
// token is issued for it — see CheckAdminPassword.
const AdminSubject = "admin"

// DefaultTokenTTL is used by the /token dev-convenience endpoint.
const DefaultTokenTTL = 12 * time.Hour

// DefaultSubject is used when a token is issued without an explicit userId.
const DefaultSubject = "anonymous"

// Identity is the resolved subject of a verified credential. A nil *Identity
// (returned alongside a non-nil error, or as the zero value of a failed
// verification) means the credential is absent, malformed, expired, or
// signature-invalid — all of which collapse to "no identity" per spec.
type Identity struct {
	Subject string
}

// claims is the JWT payload. Only Subject and ExpiresAt are meaningful to
// this service; RegisteredClaims brings the rest along for interoperability.
type claims struct {
	jwt.RegisteredClaims
}

// IssueToken creates a signed HS256 JWT for subject, expiring after ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(secret)
}

// VerifyToken validates signature and expiry and returns the resolved
// identity. A nil Identity and non-nil error is returned for any failure;
// callers must not distinguish between failure modes beyond "no identity".
func VerifyToken(secret []byte, raw string) (*Identity, error) {
	if raw == "" {
		return nil, errors.New("auth: empty credential")
	}
	tok, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return nil, errors.New("auth: invalid token claims")
	}
	return &Identity{Subject: c.Subject}, nil
}

// ResolveCredential extracts a bearer credential from, in order: the
// Authorization header's "Bearer <t>" form, any other non-empty
// Authorization header value, and a "token" query parameter. Returns ""
// when none is present.
func ResolveCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return rest
		}
		return h
	}
	return r.URL.Query().Get("token")
}

// CheckAdminPassword verifies password against the configured bcrypt hash.
// An empty hash means admin token issuance is disabled entirely, mirroring
// the teacher's auth.CheckPassword but gating a token grant rather than a
// session login.
func CheckAdminPassword(hash, password string) error {
	if hash == "" {
		return errors.New("auth: admin token issuance is disabled")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// Verify resolves and verifies the credential carried by r, collapsing any
// failure into a nil identity the way spec §4.4 requires.
func Verify(secret []byte, r *http.Request) *Identity {
	raw := ResolveCredential(r)
	id, err := VerifyToken(secret, raw)
	if err != nil {
		return nil
	}
	return id
}

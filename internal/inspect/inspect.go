// Package inspect describes extracted tokens for logging and policy evaluation.
//
// Nothing here validates a token. JWTs are decoded without signature checks and the
// resulting claims are only used for diagnostics and candidate filtering.
package inspect

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// Info summarises a token without exposing its value.
type Info struct {
	JWT         bool
	Subject     string
	Issuer      string
	ExpiresAt   time.Time
	Claims      map[string]any
	Fingerprint string
}

var parser = jwt.NewParser()

// Describe returns Info for token. Non-JWT tokens only get a fingerprint.
func Describe(token string) Info {
	info := Info{Fingerprint: Fingerprint(token)}
	if strings.Count(token, ".") != 2 {
		return info
	}
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return info
	}
	info.JWT = true
	info.Claims = claims
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		info.Issuer = iss
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	return info
}

// Fingerprint returns a short, stable BLAKE2b digest of token that is safe to log.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

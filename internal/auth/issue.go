package auth

import (
	"crypto/ed25519"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssueOptions describes a kick token.
type IssueOptions struct {
	KeyID    string
	Issuer   string
	Audience string
	Subject  string
	Shard    *int
	TTL      time.Duration
}

// Issue signs a kick token with key. TTL below one second is raised to one.
func Issue(key ed25519.PrivateKey, opts IssueOptions, now time.Time) (string, error) {
	ttl := max(opts.TTL, time.Second)
	claims := Claims{
		Shard: opts.Shard,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    opts.Issuer,
			Subject:   opts.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{opts.Audience}
	}

	t := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	if opts.KeyID != "" {
		t.Header["kid"] = opts.KeyID
	}
	return t.SignedString(key)
}

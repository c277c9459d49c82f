package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/notifyhub/push-worker/internal/domain"
)

// Claims is the kick token payload. Shard is informational; the request
// body decides what gets drained.
type Claims struct {
	Shard *int `json:"shard,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens against the cached public key.
type Verifier struct {
	keys     *KeyCache
	keyID    string
	issuer   string
	audience string
}

func NewVerifier(keys *KeyCache, keyID, issuer, audience string) *Verifier {
	return &Verifier{keys: keys, keyID: keyID, issuer: issuer, audience: audience}
}

// Verify parses and validates token. Only EdDSA is accepted; kid, iss, aud
// and exp must all be present and match. Every failure wraps
// domain.ErrUnauthorized.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			if kid != v.keyID {
				return nil, fmt.Errorf("unknown kid %q", kid)
			}
			return v.keys.Key(ctx)
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", fmt.Errorf("%w: missing bearer token", domain.ErrUnauthorized)
	}
	return token, nil
}

// Package auth verifies and issues the short-lived EdDSA bearer tokens that
// guard the kick trigger.
package auth

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyLoader fetches the current verification key.
type KeyLoader func(ctx context.Context) (ed25519.PublicKey, error)

// FileLoader reads a PEM-encoded Ed25519 public key from path on every call.
func FileLoader(path string) KeyLoader {
	return func(context.Context) (ed25519.PublicKey, error) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read public key: %w", err)
		}
		return ParsePublicKeyPEM(raw)
	}
}

// ParsePublicKeyPEM decodes a PKIX "PUBLIC KEY" block holding an Ed25519 key.
func ParsePublicKeyPEM(raw []byte) (ed25519.PublicKey, error) {
	k, err := jwt.ParseEdPublicKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", k)
	}
	return pub, nil
}

// ParsePrivateKeyPEM decodes a PKCS8 "PRIVATE KEY" block holding an Ed25519 key.
func ParsePrivateKeyPEM(raw []byte) (ed25519.PrivateKey, error) {
	k, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want ed25519", k)
	}
	return priv, nil
}

// KeyCache holds the verification key for ttl after each load. It is
// constructed once and injected; there is no package-level cache.
type KeyCache struct {
	mu        sync.Mutex
	load      KeyLoader
	ttl       time.Duration
	now       func() time.Time
	key       ed25519.PublicKey
	fetchedAt time.Time
}

func NewKeyCache(load KeyLoader, ttl time.Duration) *KeyCache {
	return &KeyCache{load: load, ttl: ttl, now: time.Now}
}

// WithClock overrides the time source.
func (c *KeyCache) WithClock(now func() time.Time) *KeyCache {
	c.now = now
	return c
}

// Key returns the cached key, loading it first if it is missing or older
// than the TTL.
func (c *KeyCache) Key(ctx context.Context) (ed25519.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.key, nil
	}
	return c.refreshLocked(ctx)
}

// Refresh reloads the key regardless of age. On failure the previous key,
// if any, stays cached.
func (c *KeyCache) Refresh(ctx context.Context) (ed25519.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *KeyCache) refreshLocked(ctx context.Context) (ed25519.PublicKey, error) {
	k, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	c.key = k
	c.fetchedAt = c.now()
	return k, nil
}

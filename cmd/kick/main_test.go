package main

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/push-worker/internal/auth"
)

func TestParseShardArg(t *testing.T) {
	for _, arg := range []string{"", "all"} {
		got, err := parseShardArg(arg)
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	got, err := parseShardArg("3")
	require.NoError(t, err)
	assert.Equal(t, 3, *got)

	for _, arg := range []string{"-1", "x", "1.5"} {
		_, err := parseShardArg(arg)
		assert.Error(t, err, arg)
	}
}

func TestRun_SendsSignedKick(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "key.pem")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), 0o600))

	verifier := auth.NewVerifier(
		auth.NewKeyCache(func(context.Context) (ed25519.PublicKey, error) { return pub, nil }, time.Minute),
		"k1", "my-issuer", "push-kick",
	)

	var gotShard float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err == nil {
			_, err = verifier.Verify(r.Context(), token)
		}
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]float64
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotShard = body["shard"]
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	shard := 2
	err = run(srv.URL, keyPath, auth.IssueOptions{
		KeyID:    "k1",
		Issuer:   "my-issuer",
		Audience: "push-kick",
		Subject:  "test",
		Shard:    &shard,
		TTL:      time.Minute,
	}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, float64(2), gotShard)

	err = run(srv.URL, keyPath, auth.IssueOptions{KeyID: "k1", Issuer: "someone-else", Audience: "push-kick"}, 5*time.Second)
	require.Error(t, err)
}

// Command kick signs a short-lived trigger token and asks a running worker
// to drain one shard, or all of them.
//
//	kick          all shards
//	kick 3        shard 3
//	kick all      all shards
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/notifyhub/push-worker/internal/auth"
)

func main() {
	_ = godotenv.Load()

	url := flag.String("url", envOr("KICK_URL", "http://localhost:8080/push/kick"), "trigger URL")
	keyPath := flag.String("key", envOr("JWT_PRIVATE_KEY_PATH", "./_ed25519_private.pem"), "Ed25519 PKCS8 private key")
	kid := flag.String("kid", envOr("JWT_KID", "k1"), "key id header")
	issuer := flag.String("iss", envOr("JWT_ISSUER", "my-issuer"), "token issuer")
	audience := flag.String("aud", envOr("JWT_AUDIENCE", "push-kick"), "token audience")
	subject := flag.String("sub", envOr("JWT_SUBJECT", "internal"), "token subject")
	ttl := flag.Duration("ttl", 2*time.Minute, "token lifetime")
	timeout := flag.Duration("timeout", 10*time.Minute, "request timeout")
	flag.Parse()

	shard, err := parseShardArg(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(*url, *keyPath, auth.IssueOptions{
		KeyID:    *kid,
		Issuer:   *issuer,
		Audience: *audience,
		Subject:  *subject,
		Shard:    shard,
		TTL:      *ttl,
	}, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(url, keyPath string, opts auth.IssueOptions, timeout time.Duration) error {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("read private key: %w", err)
	}
	key, err := auth.ParsePrivateKeyPEM(raw)
	if err != nil {
		return err
	}

	token, err := auth.Issue(key, opts, time.Now())
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}

	body := map[string]any{}
	if opts.Shard != nil {
		body["shard"] = *opts.Shard
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kick failed: %s\n%s", resp.Status, text)
	}
	fmt.Println(string(bytes.TrimSpace(text)))
	return nil
}

// parseShardArg maps "", "all" to every shard and anything else to a
// non-negative shard number.
func parseShardArg(arg string) (*int, error) {
	if arg == "" || arg == "all" {
		return nil, nil
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid shard %q: use a number or 'all'", arg)
	}
	return &n, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

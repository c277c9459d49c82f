// Command enqueue writes one push task (and optionally a delivery endpoint
// for its recipient) straight into the queue.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/notifyhub/push-worker/internal/config"
	"github.com/notifyhub/push-worker/internal/db"
	"github.com/notifyhub/push-worker/internal/domain"
	"github.com/notifyhub/push-worker/internal/repository"
	"github.com/notifyhub/push-worker/internal/service"
)

func main() {
	_ = godotenv.Load()

	recipient := flag.String("recipient", "", "recipient id (required)")
	title := flag.String("title", "", "notification title (required)")
	body := flag.String("body", "", "notification body (required)")
	at := flag.String("at", "", "schedule time: RFC3339 or epoch milliseconds (default now)")
	token := flag.String("token", "", "also register this delivery token for the recipient")
	endpoint := flag.String("endpoint", "default", "endpoint id used with -token")
	flag.Parse()

	if *recipient == "" || *title == "" || *body == "" {
		fmt.Fprintln(os.Stderr, `usage: enqueue -recipient <id> -title "<title>" -body "<body>" [-at <time>] [-token <tok>]`)
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger, *recipient, *title, *body, *at, *token, *endpoint); err != nil {
		logger.Error("enqueue failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, recipient, title, body, at, token, endpoint string) error {
	scheduledAt, err := parseScheduledAt(at)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	svc := service.NewTaskService(
		repository.NewPgTaskRepository(pool),
		repository.NewPgEndpointRepository(pool),
		cfg.ShardCount,
		logger,
	)

	if token != "" {
		if err := svc.RegisterEndpoint(ctx, domain.Endpoint{
			RecipientID: recipient,
			EndpointID:  endpoint,
			Token:       token,
		}); err != nil {
			return fmt.Errorf("register endpoint: %w", err)
		}
	}

	task, err := svc.Enqueue(ctx, domain.CreateTaskRequest{
		RecipientID: recipient,
		Title:       title,
		Body:        body,
		ScheduledAt: scheduledAt,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"ok":          true,
		"taskId":      task.ID,
		"recipientId": task.RecipientID,
		"shard":       task.Shard,
		"title":       task.Title,
		"body":        task.Body,
		"scheduledAt": task.ScheduledAt.Format(time.RFC3339),
	})
}

// parseScheduledAt accepts epoch milliseconds or an RFC3339 timestamp.
// Empty means now (nil).
func parseScheduledAt(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.New("invalid -at: use RFC3339 or epoch milliseconds")
	}
	return &t, nil
}

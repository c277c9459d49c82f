package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/push-worker/internal/domain"
)

type pgEndpointRepository struct {
	pool *pgxpool.Pool
}

// NewPgEndpointRepository returns an EndpointRepository backed by PostgreSQL.
func NewPgEndpointRepository(pool *pgxpool.Pool) EndpointRepository {
	return &pgEndpointRepository{pool: pool}
}

func (r *pgEndpointRepository) ListByRecipient(ctx context.Context, recipientID string) ([]domain.Endpoint, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT recipient_id, endpoint_id, token
		FROM push_endpoints
		WHERE recipient_id = $1
		ORDER BY endpoint_id`, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []domain.Endpoint
	for rows.Next() {
		var e domain.Endpoint
		if err := rows.Scan(&e.RecipientID, &e.EndpointID, &e.Token); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

func (r *pgEndpointRepository) Upsert(ctx context.Context, e domain.Endpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO push_endpoints (recipient_id, endpoint_id, token, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (recipient_id, endpoint_id) DO UPDATE SET
			token = EXCLUDED.token,
			updated_at = now()`, e.RecipientID, e.EndpointID, e.Token)
	if err != nil {
		return fmt.Errorf("upsert endpoint: %w", err)
	}
	return nil
}

func (r *pgEndpointRepository) Delete(ctx context.Context, recipientID, endpointID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM push_endpoints WHERE recipient_id = $1 AND endpoint_id = $2`,
		recipientID, endpointID)
	return err
}

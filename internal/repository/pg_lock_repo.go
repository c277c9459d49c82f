package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgLockRepository struct {
	pool *pgxpool.Pool
}

// NewPgLockRepository returns a LockRepository backed by the run_locks table.
func NewPgLockRepository(pool *pgxpool.Pool) LockRepository {
	return &pgLockRepository{pool: pool}
}

func (r *pgLockRepository) TryAcquire(ctx context.Context, key, owner string, now, until time.Time) (bool, error) {
	// The upsert only overwrites a row whose lease is absent or expired, so
	// RowsAffected is 1 exactly when this caller won the lock.
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO run_locks (scope_key, lease_until, owner, updated_at)
		VALUES ($1, $3, $2, now())
		ON CONFLICT (scope_key) DO UPDATE SET
			lease_until = EXCLUDED.lease_until,
			owner = EXCLUDED.owner,
			updated_at = now()
		WHERE run_locks.lease_until IS NULL OR run_locks.lease_until <= $4`,
		key, owner, until, now)
	if err != nil {
		return false, fmt.Errorf("acquire run lock %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgLockRepository) Release(ctx context.Context, key, owner string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE run_locks
		SET lease_until = NULL, owner = NULL, updated_at = now()
		WHERE scope_key = $1 AND owner = $2`, key, owner)
	return err
}

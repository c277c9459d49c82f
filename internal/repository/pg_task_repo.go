package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/push-worker/internal/domain"
)

const taskColumns = `
	id, status, shard, scheduled_at, recipient_id, title, body,
	lease_until, lease_owner, leased_at, attempt,
	total_recipients, success_count, invalid_count, fail_count, last_error, result_summary,
	finalized_at, created_at, updated_at`

type pgTaskRepository struct {
	pool *pgxpool.Pool
}

// NewPgTaskRepository returns a TaskRepository backed by PostgreSQL.
func NewPgTaskRepository(pool *pgxpool.Pool) TaskRepository {
	return &pgTaskRepository{pool: pool}
}

func (r *pgTaskRepository) Create(ctx context.Context, t *domain.Task) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO push_tasks
			(id, status, shard, scheduled_at, recipient_id, title, body,
			 lease_until, lease_owner, attempt, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,NULL,$8,$9,$10)`,
		t.ID, t.Status, t.Shard, t.ScheduledAt, t.RecipientID, t.Title, t.Body,
		t.Attempt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *pgTaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM push_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return t, err
}

func (r *pgTaskRepository) FindDue(ctx context.Context, f DueFilter) ([]*domain.Task, error) {
	// Leased rows are filtered here so a page full of in-flight tasks
	// cannot starve the ones behind it.
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM push_tasks
		WHERE status = 'queued'
		  AND scheduled_at <= $1
		  AND (lease_until IS NULL OR lease_until <= $1)
		  AND ($3::int IS NULL OR shard = $3)
		ORDER BY scheduled_at ASC
		LIMIT $2`, f.Now, f.Limit, f.Shard)
	if err != nil {
		return nil, fmt.Errorf("find due tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (r *pgTaskRepository) CountDue(ctx context.Context, now time.Time) (map[int]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT shard, COUNT(*)
		FROM push_tasks
		WHERE status = 'queued' AND scheduled_at <= $1
		GROUP BY shard`, now)
	if err != nil {
		return nil, fmt.Errorf("count due tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var shard, n int
		if err := rows.Scan(&shard, &n); err != nil {
			return nil, err
		}
		counts[shard] = n
	}
	return counts, rows.Err()
}

func (r *pgTaskRepository) ClaimLease(ctx context.Context, id, owner string, now, until time.Time) (int, bool, error) {
	// Row-level locking makes the guard and the write one atomic step;
	// a concurrent claimer re-evaluates the WHERE clause after we commit.
	var attempt int
	err := r.pool.QueryRow(ctx, `
		UPDATE push_tasks
		SET lease_until = $3, lease_owner = $2, leased_at = now(),
		    attempt = attempt + 1, updated_at = now()
		WHERE id = $1
		  AND status = 'queued'
		  AND finalized_at IS NULL
		  AND (lease_until IS NULL OR lease_until <= $4)
		RETURNING attempt`, id, owner, until, now).Scan(&attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("claim lease: %w", err)
	}
	return attempt, true, nil
}

func (r *pgTaskRepository) RecoverStale(ctx context.Context, shard *int, cutoff time.Time, limit int) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		WITH stale AS (
			SELECT id FROM push_tasks
			WHERE ((status = 'processing' AND leased_at <= $1)
			    OR (status = 'queued' AND lease_until IS NOT NULL AND lease_until <= $1))
			  AND finalized_at IS NULL
			  AND ($2::int IS NULL OR shard = $2)
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE push_tasks t
		SET status = 'queued', lease_until = NULL, lease_owner = NULL, updated_at = now()
		FROM stale
		WHERE t.id = stale.id`, cutoff, shard, limit)
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const finalizeSQL = `
	UPDATE push_tasks
	SET status = $2,
	    total_recipients = $3, success_count = $4, invalid_count = $5, fail_count = $6,
	    last_error = $7, result_summary = $8,
	    lease_until = NULL, lease_owner = NULL,
	    finalized_at = now(), updated_at = now()
	WHERE id = $1 AND finalized_at IS NULL`

func finalizeArgs(f domain.Finalization) []any {
	return []any{
		f.TaskID, f.Status,
		f.Result.TotalRecipients, f.Result.SuccessCount, f.Result.InvalidCount, f.Result.FailCount,
		f.Result.LastError, f.Result.Summary,
	}
}

func (r *pgTaskRepository) Finalize(ctx context.Context, f domain.Finalization) (bool, error) {
	tag, err := r.pool.Exec(ctx, finalizeSQL, finalizeArgs(f)...)
	if err != nil {
		return false, fmt.Errorf("finalize task %s: %w", f.TaskID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgTaskRepository) FinalizeBatch(ctx context.Context, fs []domain.Finalization) ([]string, error) {
	if len(fs) == 0 {
		return nil, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, f := range fs {
		batch.Queue(finalizeSQL, finalizeArgs(f)...)
	}

	br := tx.SendBatch(ctx, batch)
	var applied []string
	for _, f := range fs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("finalize task %s: %w", f.TaskID, err)
		}
		if tag.RowsAffected() > 0 {
			applied = append(applied, f.TaskID)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("close finalize batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit finalize batch: %w", err)
	}
	return applied, nil
}

// ---- helpers ----

// scanTask reads a single task row from any pgx row type.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var (
		t                              domain.Task
		total, success, invalid, fails *int
		lastError                      *string
		summary                        *string
	)
	err := row.Scan(
		&t.ID, &t.Status, &t.Shard, &t.ScheduledAt, &t.RecipientID, &t.Title, &t.Body,
		&t.LeaseUntil, &t.LeaseOwner, &t.LeasedAt, &t.Attempt,
		&total, &success, &invalid, &fails, &lastError, &summary,
		&t.FinalizedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		t.Result = &domain.TaskResult{
			TotalRecipients: deref(total),
			SuccessCount:    deref(success),
			InvalidCount:    deref(invalid),
			FailCount:       deref(fails),
			LastError:       lastError,
			Summary:         domain.ResultSummary(*summary),
		}
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*domain.Task, error) {
	var result []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

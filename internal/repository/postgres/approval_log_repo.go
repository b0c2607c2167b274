package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
)

// ApprovalLogRepository implements domain.ApprovalLogRepository using
// PostgreSQL.
type ApprovalLogRepository struct {
	pool *pgxpool.Pool
}

// NewApprovalLogRepository creates a new ApprovalLogRepository.
func NewApprovalLogRepository(pool *pgxpool.Pool) *ApprovalLogRepository {
	return &ApprovalLogRepository{pool: pool}
}

// Create appends an approval log entry.
func (r *ApprovalLogRepository) Create(ctx context.Context, entry *domain.ApprovalLog) (*domain.ApprovalLog, error) {
	query := `INSERT INTO approval_logs (id, bucket_id, action, performed_by, comments)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, bucket_id, action, performed_by, comments, created_at`

	var created domain.ApprovalLog
	err := querier(ctx, r.pool).QueryRow(ctx, query,
		entry.ID, entry.BucketID, entry.Action, entry.PerformedBy, entry.Comments,
	).Scan(&created.ID, &created.BucketID, &created.Action, &created.PerformedBy,
		&created.Comments, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating approval log: %w", err)
	}
	return &created, nil
}

// ListByBucket returns the approval trail for a bucket, oldest first.
func (r *ApprovalLogRepository) ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]*domain.ApprovalLog, error) {
	query := `SELECT id, bucket_id, action, performed_by, comments, created_at
	FROM approval_logs WHERE bucket_id = $1 ORDER BY created_at, id`
	rows, err := querier(ctx, r.pool).Query(ctx, query, bucketID)
	if err != nil {
		return nil, fmt.Errorf("listing approval logs: %w", err)
	}
	defer rows.Close()
	var items []*domain.ApprovalLog
	for rows.Next() {
		var l domain.ApprovalLog
		if err := rows.Scan(&l.ID, &l.BucketID, &l.Action, &l.PerformedBy,
			&l.Comments, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning approval log row: %w", err)
		}
		items = append(items, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating approval log rows: %w", err)
	}
	return items, nil
}

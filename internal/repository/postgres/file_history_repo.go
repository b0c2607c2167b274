package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
)

const fileHistoryColumns = `id, bucket_id, generated_file_name, file_content, file_size,
	claim_count, total_amount, generated_by, generated_at,
	delivery_status, delivered_at, delivered_by, retry_count, error_message`

// FileHistoryRepository implements domain.FileHistoryRepository using
// PostgreSQL. file_content is a bytea column.
type FileHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewFileHistoryRepository creates a new FileHistoryRepository.
func NewFileHistoryRepository(pool *pgxpool.Pool) *FileHistoryRepository {
	return &FileHistoryRepository{pool: pool}
}

func scanFileHistory(row pgx.Row) (*domain.FileGenerationHistory, error) {
	var h domain.FileGenerationHistory
	var total pgtype.Numeric
	if err := row.Scan(
		&h.ID, &h.BucketID, &h.GeneratedFileName, &h.FileContent, &h.FileSize,
		&h.ClaimCount, &total, &h.GeneratedBy, &h.GeneratedAt,
		&h.DeliveryStatus, &h.DeliveredAt, &h.DeliveredBy, &h.RetryCount, &h.ErrorMessage,
	); err != nil {
		return nil, err
	}
	h.TotalAmount = pgNumericToDecimal(total)
	return &h, nil
}

func scanFileHistories(rows pgx.Rows) ([]*domain.FileGenerationHistory, error) {
	defer rows.Close()
	var items []*domain.FileGenerationHistory
	for rows.Next() {
		h, err := scanFileHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning file history row: %w", err)
		}
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file history rows: %w", err)
	}
	return items, nil
}

// Create persists a generated file. generated_file_name carries a unique
// index.
func (r *FileHistoryRepository) Create(ctx context.Context, h *domain.FileGenerationHistory) (*domain.FileGenerationHistory, error) {
	total, err := decimalToPgNumeric(h.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid total amount: %w", err)
	}

	query := `INSERT INTO file_generation_history (
		id, bucket_id, generated_file_name, file_content, file_size,
		claim_count, total_amount, generated_by, delivery_status, retry_count)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING ` + fileHistoryColumns

	created, err := scanFileHistory(querier(ctx, r.pool).QueryRow(ctx, query,
		h.ID, h.BucketID, h.GeneratedFileName, h.FileContent, h.FileSize,
		h.ClaimCount, total, h.GeneratedBy, h.DeliveryStatus, h.RetryCount,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating file history: %w", err)
	}
	return created, nil
}

// GetByID retrieves a generated file.
func (r *FileHistoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FileGenerationHistory, error) {
	query := `SELECT ` + fileHistoryColumns + ` FROM file_generation_history WHERE id = $1`
	h, err := scanFileHistory(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("getting file history: %w", err)
	}
	return h, nil
}

// ListByBucket returns the generated files for a bucket, newest first.
func (r *FileHistoryRepository) ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]*domain.FileGenerationHistory, error) {
	query := `SELECT ` + fileHistoryColumns + ` FROM file_generation_history
	WHERE bucket_id = $1 ORDER BY generated_at DESC`
	rows, err := querier(ctx, r.pool).Query(ctx, query, bucketID)
	if err != nil {
		return nil, fmt.Errorf("listing file history: %w", err)
	}
	return scanFileHistories(rows)
}

// ListPending returns PENDING deliveries, oldest first.
func (r *FileHistoryRepository) ListPending(ctx context.Context, limit int32) ([]*domain.FileGenerationHistory, error) {
	query := `SELECT ` + fileHistoryColumns + ` FROM file_generation_history
	WHERE delivery_status = $1 ORDER BY generated_at LIMIT $2`
	rows, err := querier(ctx, r.pool).Query(ctx, query, domain.DeliveryStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending deliveries: %w", err)
	}
	return scanFileHistories(rows)
}

// ListFailedRetryable returns FAILED/RETRY deliveries below the retry cap.
func (r *FileHistoryRepository) ListFailedRetryable(ctx context.Context, maxRetries int32, limit int32) ([]*domain.FileGenerationHistory, error) {
	query := `SELECT ` + fileHistoryColumns + ` FROM file_generation_history
	WHERE delivery_status = ANY($1) AND retry_count < $2
	ORDER BY generated_at LIMIT $3`
	statuses := []string{string(domain.DeliveryStatusFailed), string(domain.DeliveryStatusRetry)}
	rows, err := querier(ctx, r.pool).Query(ctx, query, statuses, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("listing retryable deliveries: %w", err)
	}
	return scanFileHistories(rows)
}

// Update persists delivery bookkeeping.
func (r *FileHistoryRepository) Update(ctx context.Context, h *domain.FileGenerationHistory) error {
	query := `UPDATE file_generation_history SET
		delivery_status = $2, delivered_at = $3, delivered_by = $4,
		retry_count = $5, error_message = $6
	WHERE id = $1`
	tag, err := querier(ctx, r.pool).Exec(ctx, query,
		h.ID, h.DeliveryStatus, h.DeliveredAt, h.DeliveredBy, h.RetryCount, h.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("updating file history: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrFileNotFound
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
)

const bucketColumns = `id, bucketing_rule_id, payer_id, payer_name, payee_id, payee_name,
	bin_number, pcn_number, status, claim_count, total_amount,
	payment_required, payment_status, check_payment_id, file_naming_template_id,
	approved_by, approved_at, awaiting_approval_since,
	generation_started_at, generation_completed_at,
	last_error_message, last_error_at, created_at, updated_at`

// BucketRepository implements domain.BucketRepository using PostgreSQL.
type BucketRepository struct {
	pool *pgxpool.Pool
}

// NewBucketRepository creates a new BucketRepository.
func NewBucketRepository(pool *pgxpool.Pool) *BucketRepository {
	return &BucketRepository{pool: pool}
}

func scanBucket(row pgx.Row) (*domain.Bucket, error) {
	var b domain.Bucket
	var total pgtype.Numeric
	if err := row.Scan(
		&b.ID, &b.BucketingRuleID, &b.PayerID, &b.PayerName, &b.PayeeID, &b.PayeeName,
		&b.BINNumber, &b.PCNNumber, &b.Status, &b.ClaimCount, &total,
		&b.PaymentRequired, &b.PaymentStatus, &b.CheckPaymentID, &b.FileNamingTemplateID,
		&b.ApprovedBy, &b.ApprovedAt, &b.AwaitingApprovalSince,
		&b.GenerationStartedAt, &b.GenerationCompletedAt,
		&b.LastErrorMessage, &b.LastErrorAt, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	b.TotalAmount = pgNumericToDecimal(total)
	return &b, nil
}

func scanBuckets(rows pgx.Rows) ([]*domain.Bucket, error) {
	defer rows.Close()
	var items []*domain.Bucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bucket row: %w", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bucket rows: %w", err)
	}
	return items, nil
}

// Create inserts a new bucket. A unique partial index over
// (bucketing_rule_id, payer_id, payee_id, bin_number, pcn_number) filtered on
// status = ACCUMULATING enforces the one-open-bucket invariant; a conflicting
// insert surfaces as domain.ErrAlreadyExists so the aggregator can re-read.
func (r *BucketRepository) Create(ctx context.Context, bucket *domain.Bucket) (*domain.Bucket, error) {
	total, err := decimalToPgNumeric(bucket.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid total amount: %w", err)
	}

	query := `INSERT INTO buckets (
		id, bucketing_rule_id, payer_id, payer_name, payee_id, payee_name,
		bin_number, pcn_number, status, claim_count, total_amount,
		payment_required, payment_status, file_naming_template_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING ` + bucketColumns

	row := querier(ctx, r.pool).QueryRow(ctx, query,
		bucket.ID, bucket.BucketingRuleID, bucket.PayerID, bucket.PayerName,
		bucket.PayeeID, bucket.PayeeName, bucket.BINNumber, bucket.PCNNumber,
		bucket.Status, bucket.ClaimCount, total,
		bucket.PaymentRequired, bucket.PaymentStatus, bucket.FileNamingTemplateID,
	)
	created, err := scanBucket(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating bucket: %w", err)
	}
	return created, nil
}

// GetByID retrieves a bucket by id.
func (r *BucketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE id = $1`
	b, err := scanBucket(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrBucketNotFound
		}
		return nil, fmt.Errorf("getting bucket: %w", err)
	}
	return b, nil
}

// GetByIDForUpdate retrieves a bucket under a row lock.
func (r *BucketRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE id = $1 FOR UPDATE`
	b, err := scanBucket(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrBucketNotFound
		}
		return nil, fmt.Errorf("locking bucket: %w", err)
	}
	return b, nil
}

// FindAccumulating looks up the unique open bucket for the grouping key.
func (r *BucketRepository) FindAccumulating(ctx context.Context, key domain.BucketKey) (*domain.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets
	WHERE bucketing_rule_id = $1 AND payer_id = $2 AND payee_id = $3
	  AND bin_number IS NOT DISTINCT FROM $4
	  AND pcn_number IS NOT DISTINCT FROM $5
	  AND status = $6`
	b, err := scanBucket(querier(ctx, r.pool).QueryRow(ctx, query,
		key.BucketingRuleID, key.PayerID, key.PayeeID, key.BINNumber, key.PCNNumber,
		domain.BucketStatusAccumulating,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrBucketNotFound
		}
		return nil, fmt.Errorf("finding accumulating bucket: %w", err)
	}
	return b, nil
}

// ListByStatus returns all buckets in the given status, oldest first.
func (r *BucketRepository) ListByStatus(ctx context.Context, status domain.BucketStatus) ([]*domain.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets WHERE status = $1 ORDER BY created_at`
	rows, err := querier(ctx, r.pool).Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("listing buckets by status: %w", err)
	}
	return scanBuckets(rows)
}

// ListOlderThan returns buckets created before cutoff in any of the given
// statuses.
func (r *BucketRepository) ListOlderThan(ctx context.Context, cutoff time.Time, statuses []domain.BucketStatus) ([]*domain.Bucket, error) {
	query := `SELECT ` + bucketColumns + ` FROM buckets
	WHERE created_at < $1 AND status = ANY($2) ORDER BY created_at`
	ss := make([]string, len(statuses))
	for i, s := range statuses {
		ss[i] = string(s)
	}
	rows, err := querier(ctx, r.pool).Query(ctx, query, cutoff, ss)
	if err != nil {
		return nil, fmt.Errorf("listing stale buckets: %w", err)
	}
	return scanBuckets(rows)
}

// Update persists every mutable bucket field.
func (r *BucketRepository) Update(ctx context.Context, bucket *domain.Bucket) error {
	total, err := decimalToPgNumeric(bucket.TotalAmount)
	if err != nil {
		return fmt.Errorf("invalid total amount: %w", err)
	}

	query := `UPDATE buckets SET
		status = $2, claim_count = $3, total_amount = $4,
		payment_required = $5, payment_status = $6, check_payment_id = $7,
		file_naming_template_id = $8,
		approved_by = $9, approved_at = $10, awaiting_approval_since = $11,
		generation_started_at = $12, generation_completed_at = $13,
		last_error_message = $14, last_error_at = $15,
		updated_at = now()
	WHERE id = $1`

	tag, err := querier(ctx, r.pool).Exec(ctx, query,
		bucket.ID, bucket.Status, bucket.ClaimCount, total,
		bucket.PaymentRequired, bucket.PaymentStatus, bucket.CheckPaymentID,
		bucket.FileNamingTemplateID,
		bucket.ApprovedBy, bucket.ApprovedAt, bucket.AwaitingApprovalSince,
		bucket.GenerationStartedAt, bucket.GenerationCompletedAt,
		bucket.LastErrorMessage, bucket.LastErrorAt,
	)
	if err != nil {
		return fmt.Errorf("updating bucket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrBucketNotFound
	}
	return nil
}

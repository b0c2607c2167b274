package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/shopspring/decimal"
)

const claimLogColumns = `id, claim_id, bucket_id, payer_id, payee_id, outcome, reason,
	charge_amount, paid_amount, processed_at`

// ClaimLogRepository implements domain.ClaimLogRepository using PostgreSQL.
type ClaimLogRepository struct {
	pool *pgxpool.Pool
}

// NewClaimLogRepository creates a new ClaimLogRepository.
func NewClaimLogRepository(pool *pgxpool.Pool) *ClaimLogRepository {
	return &ClaimLogRepository{pool: pool}
}

func scanClaimLog(row pgx.Row) (*domain.ClaimProcessingLog, error) {
	var l domain.ClaimProcessingLog
	var charge, paid pgtype.Numeric
	if err := row.Scan(
		&l.ID, &l.ClaimID, &l.BucketID, &l.PayerID, &l.PayeeID, &l.Outcome, &l.Reason,
		&charge, &paid, &l.ProcessedAt,
	); err != nil {
		return nil, err
	}
	l.ChargeAmount = pgNumericToDecimalPtr(charge)
	l.PaidAmount = pgNumericToDecimalPtr(paid)
	return &l, nil
}

// Create appends a processing log entry.
func (r *ClaimLogRepository) Create(ctx context.Context, entry *domain.ClaimProcessingLog) (*domain.ClaimProcessingLog, error) {
	charge, err := decimalPtrToPgNumeric(entry.ChargeAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid charge amount: %w", err)
	}
	paid, err := decimalPtrToPgNumeric(entry.PaidAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid paid amount: %w", err)
	}

	query := `INSERT INTO claim_processing_logs (
		id, claim_id, bucket_id, payer_id, payee_id, outcome, reason, charge_amount, paid_amount)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING ` + claimLogColumns

	created, err := scanClaimLog(querier(ctx, r.pool).QueryRow(ctx, query,
		entry.ID, entry.ClaimID, entry.BucketID, entry.PayerID, entry.PayeeID,
		entry.Outcome, entry.Reason, charge, paid,
	))
	if err != nil {
		return nil, fmt.Errorf("creating claim processing log: %w", err)
	}
	return created, nil
}

// ListProcessedByBucket returns the PROCESSED entries for a bucket in
// processing order.
func (r *ClaimLogRepository) ListProcessedByBucket(ctx context.Context, bucketID uuid.UUID) ([]*domain.ClaimProcessingLog, error) {
	query := `SELECT ` + claimLogColumns + ` FROM claim_processing_logs
	WHERE bucket_id = $1 AND outcome = $2 ORDER BY processed_at, id`
	rows, err := querier(ctx, r.pool).Query(ctx, query, bucketID, domain.ClaimOutcomeProcessed)
	if err != nil {
		return nil, fmt.Errorf("listing claim logs: %w", err)
	}
	defer rows.Close()
	var items []*domain.ClaimProcessingLog
	for rows.Next() {
		l, err := scanClaimLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning claim log row: %w", err)
		}
		items = append(items, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating claim log rows: %w", err)
	}
	return items, nil
}

// CountProcessedByBucket counts PROCESSED entries for a bucket.
func (r *ClaimLogRepository) CountProcessedByBucket(ctx context.Context, bucketID uuid.UUID) (int64, error) {
	var count int64
	query := `SELECT count(*) FROM claim_processing_logs WHERE bucket_id = $1 AND outcome = $2`
	if err := querier(ctx, r.pool).QueryRow(ctx, query, bucketID, domain.ClaimOutcomeProcessed).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting claim logs: %w", err)
	}
	return count, nil
}

// SumPaidByBucket sums paid amounts over the PROCESSED entries for a bucket.
func (r *ClaimLogRepository) SumPaidByBucket(ctx context.Context, bucketID uuid.UUID) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	query := `SELECT COALESCE(sum(paid_amount), 0) FROM claim_processing_logs
	WHERE bucket_id = $1 AND outcome = $2`
	if err := querier(ctx, r.pool).QueryRow(ctx, query, bucketID, domain.ClaimOutcomeProcessed).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("summing claim logs: %w", err)
	}
	return pgNumericToDecimal(sum), nil
}

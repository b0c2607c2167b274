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

const reservationColumns = `id, payer_id, check_number_start, check_number_end,
	total_checks, checks_used, status, bank_name, routing_number, account_number_last4,
	created_by, created_at, updated_at`

// ReservationRepository implements domain.ReservationRepository using
// PostgreSQL.
type ReservationRepository struct {
	pool *pgxpool.Pool
}

// NewReservationRepository creates a new ReservationRepository.
func NewReservationRepository(pool *pgxpool.Pool) *ReservationRepository {
	return &ReservationRepository{pool: pool}
}

func scanReservation(row pgx.Row) (*domain.CheckReservation, error) {
	var r domain.CheckReservation
	err := row.Scan(
		&r.ID, &r.PayerID, &r.CheckNumberStart, &r.CheckNumberEnd,
		&r.TotalChecks, &r.ChecksUsed, &r.Status, &r.BankName, &r.RoutingNumber,
		&r.AccountNumberLast4, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt,
	)
	return &r, err
}

func scanReservations(rows pgx.Rows) ([]*domain.CheckReservation, error) {
	defer rows.Close()
	var items []*domain.CheckReservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reservation rows: %w", err)
	}
	return items, nil
}

// Create inserts a reservation. check_number_start_num / _end_num are stored
// alongside the display values for overlap queries.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.CheckReservation) (*domain.CheckReservation, error) {
	query := `INSERT INTO check_reservations (
		id, payer_id, check_number_start, check_number_end,
		check_number_start_num, check_number_end_num,
		total_checks, checks_used, status, bank_name, routing_number, account_number_last4, created_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING ` + reservationColumns

	startNum := domain.CheckNumberNumericPart(res.CheckNumberStart)
	endNum := domain.CheckNumberNumericPart(res.CheckNumberEnd)
	created, err := scanReservation(querier(ctx, r.pool).QueryRow(ctx, query,
		res.ID, res.PayerID, res.CheckNumberStart, res.CheckNumberEnd,
		startNum, endNum,
		res.TotalChecks, res.ChecksUsed, res.Status, res.BankName,
		res.RoutingNumber, res.AccountNumberLast4, res.CreatedBy,
	))
	if err != nil {
		return nil, fmt.Errorf("creating reservation: %w", err)
	}
	return created, nil
}

// GetByID retrieves a reservation.
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CheckReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM check_reservations WHERE id = $1`
	res, err := scanReservation(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("getting reservation: %w", err)
	}
	return res, nil
}

// GetByIDForUpdate retrieves a reservation under a row lock.
func (r *ReservationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.CheckReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM check_reservations WHERE id = $1 FOR UPDATE`
	res, err := scanReservation(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("locking reservation: %w", err)
	}
	return res, nil
}

// OldestActiveForUpdate locks the oldest ACTIVE reservation for the payer
// with checks remaining. Allocation serialises on this row lock.
func (r *ReservationRepository) OldestActiveForUpdate(ctx context.Context, payerID uuid.UUID) (*domain.CheckReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM check_reservations
	WHERE payer_id = $1 AND status = $2 AND checks_used < total_checks
	ORDER BY created_at LIMIT 1 FOR UPDATE`
	res, err := scanReservation(querier(ctx, r.pool).QueryRow(ctx, query, payerID, domain.ReservationStatusActive))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("locking oldest active reservation: %w", err)
	}
	return res, nil
}

// ListOverlapping returns non-cancelled reservations for the payer whose
// numeric range intersects [startNum, endNum].
func (r *ReservationRepository) ListOverlapping(ctx context.Context, payerID uuid.UUID, startNum, endNum int64) ([]*domain.CheckReservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM check_reservations
	WHERE payer_id = $1 AND status <> $2
	  AND check_number_start_num <= $4 AND check_number_end_num >= $3`
	rows, err := querier(ctx, r.pool).Query(ctx, query, payerID, domain.ReservationStatusCancelled, startNum, endNum)
	if err != nil {
		return nil, fmt.Errorf("listing overlapping reservations: %w", err)
	}
	return scanReservations(rows)
}

// Update persists the mutable reservation fields.
func (r *ReservationRepository) Update(ctx context.Context, res *domain.CheckReservation) error {
	query := `UPDATE check_reservations
	SET checks_used = $2, status = $3, updated_at = now()
	WHERE id = $1`
	tag, err := querier(ctx, r.pool).Exec(ctx, query, res.ID, res.ChecksUsed, res.Status)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

const checkPaymentColumns = `id, bucket_id, reservation_id, check_number, check_amount, check_date, status,
	assigned_by, assigned_at, acknowledged_by, acknowledged_at,
	issued_by, issued_at, void_reason, voided_by, voided_at, created_at, updated_at`

// CheckPaymentRepository implements domain.CheckPaymentRepository using
// PostgreSQL.
type CheckPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewCheckPaymentRepository creates a new CheckPaymentRepository.
func NewCheckPaymentRepository(pool *pgxpool.Pool) *CheckPaymentRepository {
	return &CheckPaymentRepository{pool: pool}
}

func scanCheckPayment(row pgx.Row) (*domain.CheckPayment, error) {
	var p domain.CheckPayment
	var amount pgtype.Numeric
	if err := row.Scan(
		&p.ID, &p.BucketID, &p.ReservationID, &p.CheckNumber, &amount, &p.CheckDate, &p.Status,
		&p.AssignedBy, &p.AssignedAt, &p.AcknowledgedBy, &p.AcknowledgedAt,
		&p.IssuedBy, &p.IssuedAt, &p.VoidReason, &p.VoidedBy, &p.VoidedAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.CheckAmount = pgNumericToDecimal(amount)
	return &p, nil
}

// Create inserts a check payment. bucket_id and check_number carry unique
// indexes; conflicts surface as domain.ErrAlreadyExists.
func (r *CheckPaymentRepository) Create(ctx context.Context, p *domain.CheckPayment) (*domain.CheckPayment, error) {
	amount, err := decimalToPgNumeric(p.CheckAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid check amount: %w", err)
	}

	query := `INSERT INTO check_payments (
		id, bucket_id, reservation_id, check_number, check_amount, check_date, status, assigned_by, assigned_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING ` + checkPaymentColumns

	created, err := scanCheckPayment(querier(ctx, r.pool).QueryRow(ctx, query,
		p.ID, p.BucketID, p.ReservationID, p.CheckNumber, amount, p.CheckDate, p.Status,
		p.AssignedBy, p.AssignedAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating check payment: %w", err)
	}
	return created, nil
}

// GetByID retrieves a check payment.
func (r *CheckPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.CheckPayment, error) {
	query := `SELECT ` + checkPaymentColumns + ` FROM check_payments WHERE id = $1`
	p, err := scanCheckPayment(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrCheckNotFound
		}
		return nil, fmt.Errorf("getting check payment: %w", err)
	}
	return p, nil
}

// GetByBucketID retrieves the check payment attached to a bucket.
func (r *CheckPaymentRepository) GetByBucketID(ctx context.Context, bucketID uuid.UUID) (*domain.CheckPayment, error) {
	query := `SELECT ` + checkPaymentColumns + ` FROM check_payments WHERE bucket_id = $1`
	p, err := scanCheckPayment(querier(ctx, r.pool).QueryRow(ctx, query, bucketID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrCheckNotFound
		}
		return nil, fmt.Errorf("getting check payment for bucket: %w", err)
	}
	return p, nil
}

// Update persists the mutable check payment fields, including in-place
// replacement of the check number.
func (r *CheckPaymentRepository) Update(ctx context.Context, p *domain.CheckPayment) error {
	amount, err := decimalToPgNumeric(p.CheckAmount)
	if err != nil {
		return fmt.Errorf("invalid check amount: %w", err)
	}

	query := `UPDATE check_payments SET
		reservation_id = $2, check_number = $3, check_amount = $4, check_date = $5, status = $6,
		assigned_by = $7, assigned_at = $8, acknowledged_by = $9, acknowledged_at = $10,
		issued_by = $11, issued_at = $12, void_reason = $13, voided_by = $14, voided_at = $15,
		updated_at = now()
	WHERE id = $1`
	tag, err := querier(ctx, r.pool).Exec(ctx, query,
		p.ID, p.ReservationID, p.CheckNumber, amount, p.CheckDate, p.Status,
		p.AssignedBy, p.AssignedAt, p.AcknowledgedBy, p.AcknowledgedAt,
		p.IssuedBy, p.IssuedAt, p.VoidReason, p.VoidedBy, p.VoidedAt,
	)
	if err != nil {
		return fmt.Errorf("updating check payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCheckNotFound
	}
	return nil
}

// CheckAuditRepository implements domain.CheckAuditRepository using
// PostgreSQL.
type CheckAuditRepository struct {
	pool *pgxpool.Pool
}

// NewCheckAuditRepository creates a new CheckAuditRepository.
func NewCheckAuditRepository(pool *pgxpool.Pool) *CheckAuditRepository {
	return &CheckAuditRepository{pool: pool}
}

// Create appends an audit event.
func (r *CheckAuditRepository) Create(ctx context.Context, entry *domain.CheckAuditLog) (*domain.CheckAuditLog, error) {
	amount, err := decimalPtrToPgNumeric(entry.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid audit amount: %w", err)
	}

	query := `INSERT INTO check_audit_logs (id, check_payment_id, action, amount, performed_by, notes)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, check_payment_id, action, amount, performed_by, notes, created_at`

	var created domain.CheckAuditLog
	var outAmount pgtype.Numeric
	err = querier(ctx, r.pool).QueryRow(ctx, query,
		entry.ID, entry.CheckPaymentID, entry.Action, amount, entry.PerformedBy, entry.Notes,
	).Scan(&created.ID, &created.CheckPaymentID, &created.Action, &outAmount,
		&created.PerformedBy, &created.Notes, &created.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating check audit log: %w", err)
	}
	created.Amount = pgNumericToDecimalPtr(outAmount)
	return &created, nil
}

// ListByPayment returns the audit trail for a check payment, oldest first.
func (r *CheckAuditRepository) ListByPayment(ctx context.Context, checkPaymentID uuid.UUID) ([]*domain.CheckAuditLog, error) {
	query := `SELECT id, check_payment_id, action, amount, performed_by, notes, created_at
	FROM check_audit_logs WHERE check_payment_id = $1 ORDER BY created_at, id`
	rows, err := querier(ctx, r.pool).Query(ctx, query, checkPaymentID)
	if err != nil {
		return nil, fmt.Errorf("listing check audit logs: %w", err)
	}
	defer rows.Close()
	var items []*domain.CheckAuditLog
	for rows.Next() {
		var l domain.CheckAuditLog
		var amount pgtype.Numeric
		if err := rows.Scan(&l.ID, &l.CheckPaymentID, &l.Action, &amount,
			&l.PerformedBy, &l.Notes, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning check audit row: %w", err)
		}
		l.Amount = pgNumericToDecimalPtr(amount)
		items = append(items, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating check audit rows: %w", err)
	}
	return items, nil
}

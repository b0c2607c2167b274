package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
)

const payerColumns = `id, payer_id, name, isa_sender_id,
	address_line1, address_line2, city, state, zip_code,
	sftp_host, sftp_port, sftp_username, sftp_password, sftp_path,
	created_by, created_at, updated_at`

// PayerRepository implements domain.PayerRepository using PostgreSQL.
type PayerRepository struct {
	pool *pgxpool.Pool
}

// NewPayerRepository creates a new PayerRepository.
func NewPayerRepository(pool *pgxpool.Pool) *PayerRepository {
	return &PayerRepository{pool: pool}
}

func scanPayer(row pgx.Row) (*domain.Payer, error) {
	var p domain.Payer
	err := row.Scan(
		&p.ID, &p.PayerID, &p.Name, &p.IsaSenderID,
		&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.ZipCode,
		&p.SftpHost, &p.SftpPort, &p.SftpUsername, &p.SftpPassword, &p.SftpPath,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	return &p, err
}

// GetByPayerID retrieves a payer by its normalized external id.
func (r *PayerRepository) GetByPayerID(ctx context.Context, payerID string) (*domain.Payer, error) {
	query := `SELECT ` + payerColumns + ` FROM payers WHERE payer_id = $1`
	p, err := scanPayer(querier(ctx, r.pool).QueryRow(ctx, query, payerID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPayerNotFound
		}
		return nil, fmt.Errorf("getting payer: %w", err)
	}
	return p, nil
}

// GetByID retrieves a payer by row id.
func (r *PayerRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payer, error) {
	query := `SELECT ` + payerColumns + ` FROM payers WHERE id = $1`
	p, err := scanPayer(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPayerNotFound
		}
		return nil, fmt.Errorf("getting payer: %w", err)
	}
	return p, nil
}

// Create inserts a payer master row.
func (r *PayerRepository) Create(ctx context.Context, payer *domain.Payer) (*domain.Payer, error) {
	query := `INSERT INTO payers (
		id, payer_id, name, isa_sender_id,
		address_line1, address_line2, city, state, zip_code,
		sftp_host, sftp_port, sftp_username, sftp_password, sftp_path, created_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	RETURNING ` + payerColumns

	created, err := scanPayer(querier(ctx, r.pool).QueryRow(ctx, query,
		payer.ID, payer.PayerID, payer.Name, payer.IsaSenderID,
		payer.AddressLine1, payer.AddressLine2, payer.City, payer.State, payer.ZipCode,
		payer.SftpHost, payer.SftpPort, payer.SftpUsername, payer.SftpPassword, payer.SftpPath,
		payer.CreatedBy,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating payer: %w", err)
	}
	return created, nil
}

const payeeColumns = `id, payee_id, name,
	address_line1, address_line2, city, state, zip_code, npi,
	created_by, created_at, updated_at`

// PayeeRepository implements domain.PayeeRepository using PostgreSQL.
type PayeeRepository struct {
	pool *pgxpool.Pool
}

// NewPayeeRepository creates a new PayeeRepository.
func NewPayeeRepository(pool *pgxpool.Pool) *PayeeRepository {
	return &PayeeRepository{pool: pool}
}

func scanPayee(row pgx.Row) (*domain.Payee, error) {
	var p domain.Payee
	err := row.Scan(
		&p.ID, &p.PayeeID, &p.Name,
		&p.AddressLine1, &p.AddressLine2, &p.City, &p.State, &p.ZipCode, &p.NPI,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt,
	)
	return &p, err
}

// GetByPayeeID retrieves a payee by its normalized external id.
func (r *PayeeRepository) GetByPayeeID(ctx context.Context, payeeID string) (*domain.Payee, error) {
	query := `SELECT ` + payeeColumns + ` FROM payees WHERE payee_id = $1`
	p, err := scanPayee(querier(ctx, r.pool).QueryRow(ctx, query, payeeID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrPayeeNotFound
		}
		return nil, fmt.Errorf("getting payee: %w", err)
	}
	return p, nil
}

// Create inserts a payee master row.
func (r *PayeeRepository) Create(ctx context.Context, payee *domain.Payee) (*domain.Payee, error) {
	query := `INSERT INTO payees (
		id, payee_id, name,
		address_line1, address_line2, city, state, zip_code, npi, created_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING ` + payeeColumns

	created, err := scanPayee(querier(ctx, r.pool).QueryRow(ctx, query,
		payee.ID, payee.PayeeID, payee.Name,
		payee.AddressLine1, payee.AddressLine2, payee.City, payee.State, payee.ZipCode,
		payee.NPI, payee.CreatedBy,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, fmt.Errorf("creating payee: %w", err)
	}
	return created, nil
}

package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
)

const templateColumns = `id, template_name, template_pattern, case_conversion,
	linked_bucketing_rule_id, is_default, created_at`

// TemplateRepository implements domain.TemplateRepository using PostgreSQL.
type TemplateRepository struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepository {
	return &TemplateRepository{pool: pool}
}

func scanTemplate(row pgx.Row) (*domain.FileNamingTemplate, error) {
	var t domain.FileNamingTemplate
	err := row.Scan(
		&t.ID, &t.TemplateName, &t.TemplatePattern, &t.CaseConversion,
		&t.LinkedBucketingRuleID, &t.IsDefault, &t.CreatedAt,
	)
	return &t, err
}

// GetByID retrieves a template by id.
func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FileNamingTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM file_naming_templates WHERE id = $1`
	t, err := scanTemplate(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("getting template: %w", err)
	}
	return t, nil
}

// GetByRule retrieves the template linked to a bucketing rule.
func (r *TemplateRepository) GetByRule(ctx context.Context, ruleID uuid.UUID) (*domain.FileNamingTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM file_naming_templates
	WHERE linked_bucketing_rule_id = $1 ORDER BY created_at LIMIT 1`
	t, err := scanTemplate(querier(ctx, r.pool).QueryRow(ctx, query, ruleID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("getting rule template: %w", err)
	}
	return t, nil
}

// GetDefault retrieves the system-wide default template.
func (r *TemplateRepository) GetDefault(ctx context.Context) (*domain.FileNamingTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM file_naming_templates WHERE is_default LIMIT 1`
	t, err := scanTemplate(querier(ctx, r.pool).QueryRow(ctx, query))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrTemplateNotFound
		}
		return nil, fmt.Errorf("getting default template: %w", err)
	}
	return t, nil
}

// SequenceRepository implements domain.SequenceRepository using PostgreSQL.
type SequenceRepository struct {
	pool *pgxpool.Pool
}

// NewSequenceRepository creates a new SequenceRepository.
func NewSequenceRepository(pool *pgxpool.Pool) *SequenceRepository {
	return &SequenceRepository{pool: pool}
}

// GetForUpdate locks the counter row for the template/payer pair, inserting
// it on first use. Must run inside a transaction; the row lock is the
// per-(template, payer) exclusive section.
func (r *SequenceRepository) GetForUpdate(ctx context.Context, templateID uuid.UUID, payerID *string) (*domain.FileNamingSequence, error) {
	q := querier(ctx, r.pool)

	insert := `INSERT INTO file_naming_sequences (template_id, payer_id, current_sequence, reset_frequency, last_reset_at)
	VALUES ($1, $2, 0, $3, now())
	ON CONFLICT (template_id, payer_key) DO NOTHING`
	if _, err := q.Exec(ctx, insert, templateID, payerID, domain.ResetFrequencyNever); err != nil {
		return nil, fmt.Errorf("seeding file naming sequence: %w", err)
	}

	query := `SELECT template_id, payer_id, current_sequence, reset_frequency, last_reset_at
	FROM file_naming_sequences
	WHERE template_id = $1 AND payer_id IS NOT DISTINCT FROM $2
	FOR UPDATE`
	var s domain.FileNamingSequence
	err := q.QueryRow(ctx, query, templateID, payerID).Scan(
		&s.TemplateID, &s.PayerID, &s.CurrentSequence, &s.ResetFrequency, &s.LastResetAt,
	)
	if err != nil {
		return nil, fmt.Errorf("locking file naming sequence: %w", err)
	}
	return &s, nil
}

// Save writes the counter back.
func (r *SequenceRepository) Save(ctx context.Context, seq *domain.FileNamingSequence) error {
	query := `UPDATE file_naming_sequences
	SET current_sequence = $3, reset_frequency = $4, last_reset_at = $5
	WHERE template_id = $1 AND payer_id IS NOT DISTINCT FROM $2`
	tag, err := querier(ctx, r.pool).Exec(ctx, query,
		seq.TemplateID, seq.PayerID, seq.CurrentSequence, seq.ResetFrequency, seq.LastResetAt,
	)
	if err != nil {
		return fmt.Errorf("saving file naming sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

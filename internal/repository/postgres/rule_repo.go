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

const ruleColumns = `id, rule_name, rule_type, priority, grouping_expression,
	linked_payer_id, linked_payee_id, is_active, created_at`

// RuleRepository implements domain.BucketingRuleRepository using PostgreSQL.
type RuleRepository struct {
	pool *pgxpool.Pool
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(pool *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{pool: pool}
}

func scanRule(row pgx.Row) (*domain.BucketingRule, error) {
	var r domain.BucketingRule
	err := row.Scan(
		&r.ID, &r.RuleName, &r.RuleType, &r.Priority, &r.GroupingExpression,
		&r.LinkedPayerID, &r.LinkedPayeeID, &r.IsActive, &r.CreatedAt,
	)
	return &r, err
}

// GetByID retrieves a bucketing rule.
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.BucketingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM bucketing_rules WHERE id = $1`
	rule, err := scanRule(querier(ctx, r.pool).QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrRuleNotFound
		}
		return nil, fmt.Errorf("getting bucketing rule: %w", err)
	}
	return rule, nil
}

// ListActive returns active rules, highest priority first, ties broken by
// rule name.
func (r *RuleRepository) ListActive(ctx context.Context) ([]*domain.BucketingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM bucketing_rules
	WHERE is_active ORDER BY priority DESC, rule_name ASC`
	rows, err := querier(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing bucketing rules: %w", err)
	}
	defer rows.Close()
	var items []*domain.BucketingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning bucketing rule row: %w", err)
		}
		items = append(items, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bucketing rule rows: %w", err)
	}
	return items, nil
}

const thresholdColumns = `id, threshold_type, linked_bucketing_rule_id,
	max_claims, max_amount, time_duration, is_active, created_at`

// ThresholdRepository implements domain.ThresholdRepository using PostgreSQL.
type ThresholdRepository struct {
	pool *pgxpool.Pool
}

// NewThresholdRepository creates a new ThresholdRepository.
func NewThresholdRepository(pool *pgxpool.Pool) *ThresholdRepository {
	return &ThresholdRepository{pool: pool}
}

// ListActiveByRule returns active thresholds for the rule in persistence
// order.
func (r *ThresholdRepository) ListActiveByRule(ctx context.Context, ruleID uuid.UUID) ([]*domain.GenerationThreshold, error) {
	query := `SELECT ` + thresholdColumns + ` FROM generation_thresholds
	WHERE linked_bucketing_rule_id = $1 AND is_active ORDER BY created_at, id`
	rows, err := querier(ctx, r.pool).Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("listing thresholds: %w", err)
	}
	defer rows.Close()
	var items []*domain.GenerationThreshold
	for rows.Next() {
		var t domain.GenerationThreshold
		var maxAmount pgtype.Numeric
		if err := rows.Scan(
			&t.ID, &t.ThresholdType, &t.LinkedBucketingRuleID,
			&t.MaxClaims, &maxAmount, &t.TimeDuration, &t.IsActive, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning threshold row: %w", err)
		}
		t.MaxAmount = pgNumericToDecimalPtr(maxAmount)
		items = append(items, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating threshold rows: %w", err)
	}
	return items, nil
}

const criteriaColumns = `id, linked_bucketing_rule_id, commit_mode,
	approval_claim_count_threshold, approval_amount_threshold, approval_roles,
	payment_required, is_active, created_at`

// CommitCriteriaRepository implements domain.CommitCriteriaRepository using
// PostgreSQL.
type CommitCriteriaRepository struct {
	pool *pgxpool.Pool
}

// NewCommitCriteriaRepository creates a new CommitCriteriaRepository.
func NewCommitCriteriaRepository(pool *pgxpool.Pool) *CommitCriteriaRepository {
	return &CommitCriteriaRepository{pool: pool}
}

// ListActiveByRule returns active criteria for the rule in insertion order.
// The schema intends at most one active row per rule; callers pick the first
// and warn when more exist.
func (r *CommitCriteriaRepository) ListActiveByRule(ctx context.Context, ruleID uuid.UUID) ([]*domain.CommitCriteria, error) {
	query := `SELECT ` + criteriaColumns + ` FROM commit_criteria
	WHERE linked_bucketing_rule_id = $1 AND is_active ORDER BY created_at, id`
	rows, err := querier(ctx, r.pool).Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("listing commit criteria: %w", err)
	}
	defer rows.Close()
	var items []*domain.CommitCriteria
	for rows.Next() {
		var c domain.CommitCriteria
		var amount pgtype.Numeric
		if err := rows.Scan(
			&c.ID, &c.LinkedBucketingRuleID, &c.CommitMode,
			&c.ApprovalClaimCountThreshold, &amount, &c.ApprovalRoles,
			&c.PaymentRequired, &c.IsActive, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning commit criteria row: %w", err)
		}
		c.ApprovalAmountThreshold = pgNumericToDecimalPtr(amount)
		items = append(items, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commit criteria rows: %w", err)
	}
	return items, nil
}

// WorkflowConfigRepository implements domain.WorkflowConfigRepository using
// PostgreSQL.
type WorkflowConfigRepository struct {
	pool *pgxpool.Pool
}

// NewWorkflowConfigRepository creates a new WorkflowConfigRepository.
func NewWorkflowConfigRepository(pool *pgxpool.Pool) *WorkflowConfigRepository {
	return &WorkflowConfigRepository{pool: pool}
}

// GetActiveByThreshold returns the active workflow config linked to the
// threshold.
func (r *WorkflowConfigRepository) GetActiveByThreshold(ctx context.Context, thresholdID uuid.UUID) (*domain.WorkflowConfig, error) {
	query := `SELECT id, generation_threshold_id, workflow_type, assignment_mode, is_active
	FROM workflow_configs WHERE generation_threshold_id = $1 AND is_active
	ORDER BY id LIMIT 1`
	var w domain.WorkflowConfig
	err := querier(ctx, r.pool).QueryRow(ctx, query, thresholdID).Scan(
		&w.ID, &w.GenerationThresholdID, &w.WorkflowType, &w.AssignmentMode, &w.IsActive,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting workflow config: %w", err)
	}
	return &w, nil
}

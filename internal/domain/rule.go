package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleTypePayerPayee RuleType = "PAYER_PAYEE"
	RuleTypeBinPcn     RuleType = "BIN_PCN"
	RuleTypeCustom     RuleType = "CUSTOM"
)

// BucketingRule selects which claims group together. Rules are administered
// externally; the core treats them as read-only.
type BucketingRule struct {
	ID                 uuid.UUID `json:"id"`
	RuleName           string    `json:"ruleName"`
	RuleType           RuleType  `json:"ruleType"`
	Priority           int32     `json:"priority"`
	GroupingExpression *string   `json:"groupingExpression,omitempty"`
	LinkedPayerID      *string   `json:"linkedPayerId,omitempty"`
	LinkedPayeeID      *string   `json:"linkedPayeeId,omitempty"`
	IsActive           bool      `json:"isActive"`
	CreatedAt          time.Time `json:"createdAt"`
}

type ThresholdType string

const (
	ThresholdTypeClaimCount ThresholdType = "CLAIM_COUNT"
	ThresholdTypeAmount     ThresholdType = "AMOUNT"
	ThresholdTypeTime       ThresholdType = "TIME"
	ThresholdTypeHybrid     ThresholdType = "HYBRID"
)

type TimeDuration string

const (
	TimeDurationDaily    TimeDuration = "DAILY"
	TimeDurationWeekly   TimeDuration = "WEEKLY"
	TimeDurationBiweekly TimeDuration = "BIWEEKLY"
	TimeDurationMonthly  TimeDuration = "MONTHLY"
)

// Hours returns the age at which a time-based threshold fires.
func (d TimeDuration) Hours() float64 {
	switch d {
	case TimeDurationDaily:
		return 24
	case TimeDurationWeekly:
		return 168
	case TimeDurationBiweekly:
		return 336
	case TimeDurationMonthly:
		return 720
	}
	return 0
}

// GenerationThreshold is a condition that moves a bucket out of ACCUMULATING.
type GenerationThreshold struct {
	ID                    uuid.UUID        `json:"id"`
	ThresholdType         ThresholdType    `json:"thresholdType"`
	LinkedBucketingRuleID uuid.UUID        `json:"linkedBucketingRuleId"`
	MaxClaims             *int32           `json:"maxClaims,omitempty"`
	MaxAmount             *decimal.Decimal `json:"maxAmount,omitempty"`
	TimeDuration          *TimeDuration    `json:"timeDuration,omitempty"`
	IsActive              bool             `json:"isActive"`
	CreatedAt             time.Time        `json:"createdAt"`
}

type CommitMode string

const (
	CommitModeAuto   CommitMode = "AUTO"
	CommitModeManual CommitMode = "MANUAL"
	CommitModeHybrid CommitMode = "HYBRID"
)

// CommitCriteria decides whether a satisfied threshold triggers automatic
// generation or a human approval.
type CommitCriteria struct {
	ID                          uuid.UUID        `json:"id"`
	LinkedBucketingRuleID       uuid.UUID        `json:"linkedBucketingRuleId"`
	CommitMode                  CommitMode       `json:"commitMode"`
	ApprovalClaimCountThreshold *int32           `json:"approvalClaimCountThreshold,omitempty"`
	ApprovalAmountThreshold     *decimal.Decimal `json:"approvalAmountThreshold,omitempty"`
	ApprovalRoles               []string         `json:"approvalRoles,omitempty"`
	PaymentRequired             bool             `json:"paymentRequired"`
	IsActive                    bool             `json:"isActive"`
	CreatedAt                   time.Time        `json:"createdAt"`
}

type WorkflowType string

const (
	WorkflowTypeSeparate WorkflowType = "SEPARATE"
	WorkflowTypeCombined WorkflowType = "COMBINED"
)

type AssignmentMode string

const (
	AssignmentModeAuto   AssignmentMode = "AUTO"
	AssignmentModeManual AssignmentMode = "MANUAL"
)

// WorkflowConfig describes how the payment sub-workflow attaches to a
// generation threshold.
type WorkflowConfig struct {
	ID                    uuid.UUID      `json:"id"`
	GenerationThresholdID uuid.UUID      `json:"generationThresholdId"`
	WorkflowType          WorkflowType   `json:"workflowType"`
	AssignmentMode        AssignmentMode `json:"assignmentMode"`
	IsActive              bool           `json:"isActive"`
}

type BucketingRuleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*BucketingRule, error)
	// ListActive returns active rules ordered by priority descending, ties
	// broken by ruleName ascending.
	ListActive(ctx context.Context) ([]*BucketingRule, error)
}

type ThresholdRepository interface {
	// ListActiveByRule returns active thresholds in persistence order; the
	// first that evaluates true wins.
	ListActiveByRule(ctx context.Context, ruleID uuid.UUID) ([]*GenerationThreshold, error)
}

type CommitCriteriaRepository interface {
	// ListActiveByRule returns active criteria in insertion order.
	ListActiveByRule(ctx context.Context, ruleID uuid.UUID) ([]*CommitCriteria, error)
}

type WorkflowConfigRepository interface {
	GetActiveByThreshold(ctx context.Context, thresholdID uuid.UUID) (*WorkflowConfig, error)
}

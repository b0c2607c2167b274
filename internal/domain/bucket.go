package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BucketStatus string

const (
	BucketStatusAccumulating    BucketStatus = "ACCUMULATING"
	BucketStatusPendingApproval BucketStatus = "PENDING_APPROVAL"
	BucketStatusGenerating      BucketStatus = "GENERATING"
	BucketStatusCompleted       BucketStatus = "COMPLETED"
	BucketStatusFailed          BucketStatus = "FAILED"
	BucketStatusMissingConfig   BucketStatus = "MISSING_CONFIGURATION"
)

type PaymentStatus string

const (
	PaymentStatusNone         PaymentStatus = "NONE"
	PaymentStatusAssigned     PaymentStatus = "ASSIGNED"
	PaymentStatusAcknowledged PaymentStatus = "ACKNOWLEDGED"
	PaymentStatusIssued       PaymentStatus = "ISSUED"
)

// Bucket is a working set of claims destined for one 835 output file.
// Status only moves along the transitions in CanTransitionTo.
type Bucket struct {
	ID              uuid.UUID       `json:"id"`
	BucketingRuleID uuid.UUID       `json:"bucketingRuleId"`
	PayerID         string          `json:"payerId"`
	PayerName       string          `json:"payerName"`
	PayeeID         string          `json:"payeeId"`
	PayeeName       string          `json:"payeeName"`
	BINNumber       *string         `json:"binNumber,omitempty"`
	PCNNumber       *string         `json:"pcnNumber,omitempty"`
	Status          BucketStatus    `json:"status"`
	ClaimCount      int32           `json:"claimCount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`

	PaymentRequired bool          `json:"paymentRequired"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	CheckPaymentID  *uuid.UUID    `json:"checkPaymentId,omitempty"`

	FileNamingTemplateID *uuid.UUID `json:"fileNamingTemplateId,omitempty"`

	ApprovedBy            *string    `json:"approvedBy,omitempty"`
	ApprovedAt            *time.Time `json:"approvedAt,omitempty"`
	AwaitingApprovalSince *time.Time `json:"awaitingApprovalSince,omitempty"`
	GenerationStartedAt   *time.Time `json:"generationStartedAt,omitempty"`
	GenerationCompletedAt *time.Time `json:"generationCompletedAt,omitempty"`

	LastErrorMessage *string    `json:"lastErrorMessage,omitempty"`
	LastErrorAt      *time.Time `json:"lastErrorAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// BucketKey identifies the at-most-one ACCUMULATING bucket per grouping.
type BucketKey struct {
	BucketingRuleID uuid.UUID
	PayerID         string
	PayeeID         string
	BINNumber       *string
	PCNNumber       *string
}

var bucketTransitions = map[BucketStatus][]BucketStatus{
	BucketStatusAccumulating:    {BucketStatusPendingApproval, BucketStatusGenerating, BucketStatusMissingConfig},
	BucketStatusPendingApproval: {BucketStatusGenerating, BucketStatusFailed, BucketStatusMissingConfig},
	BucketStatusGenerating:      {BucketStatusCompleted, BucketStatusFailed},
	BucketStatusFailed:          {BucketStatusAccumulating},
	BucketStatusMissingConfig:   {BucketStatusAccumulating},
	BucketStatusCompleted:       {},
}

// CanTransitionTo reports whether moving from the bucket's current status to
// next is a legal state-machine edge.
func (b *Bucket) CanTransitionTo(next BucketStatus) bool {
	for _, s := range bucketTransitions[b.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// HasPaymentAssigned reports whether a check has been attached to the bucket.
func (b *Bucket) HasPaymentAssigned() bool {
	return b.CheckPaymentID != nil && b.PaymentStatus != PaymentStatusNone
}

type BucketRepository interface {
	Create(ctx context.Context, bucket *Bucket) (*Bucket, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Bucket, error)
	// GetByIDForUpdate acquires the row lock used to serialise per-bucket
	// mutation. Must be called inside a transaction.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Bucket, error)
	FindAccumulating(ctx context.Context, key BucketKey) (*Bucket, error)
	ListByStatus(ctx context.Context, status BucketStatus) ([]*Bucket, error)
	ListOlderThan(ctx context.Context, cutoff time.Time, statuses []BucketStatus) ([]*Bucket, error)
	Update(ctx context.Context, bucket *Bucket) error
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Claim is a normalized pharmacy claim handed to the aggregator by the
// upstream NCPDP intake. The core consumes it once and does not persist it;
// only the per-claim processing log survives.
type Claim struct {
	ID                string          `json:"id"`
	PayerID           string          `json:"payerId"`
	PayeeID           string          `json:"payeeId"`
	BINNumber         *string         `json:"binNumber,omitempty"`
	PCNNumber         *string         `json:"pcnNumber,omitempty"`
	TotalChargeAmount decimal.Decimal `json:"totalChargeAmount"`
	PaidAmount        decimal.Decimal `json:"paidAmount"`
	Status            string          `json:"status"`
}

type ClaimOutcome string

const (
	ClaimOutcomeProcessed ClaimOutcome = "PROCESSED"
	ClaimOutcomeRejected  ClaimOutcome = "REJECTED"
)

// ClaimProcessingLog is the append-only audit of every claim that entered the
// aggregator, whether it landed in a bucket or was rejected.
type ClaimProcessingLog struct {
	ID           uuid.UUID        `json:"id"`
	ClaimID      string           `json:"claimId"`
	BucketID     *uuid.UUID       `json:"bucketId,omitempty"`
	PayerID      string           `json:"payerId"`
	PayeeID      string           `json:"payeeId"`
	Outcome      ClaimOutcome     `json:"outcome"`
	Reason       *string          `json:"reason,omitempty"`
	ChargeAmount *decimal.Decimal `json:"chargeAmount,omitempty"`
	PaidAmount   *decimal.Decimal `json:"paidAmount,omitempty"`
	ProcessedAt  time.Time        `json:"processedAt"`
}

type ClaimLogRepository interface {
	Create(ctx context.Context, entry *ClaimProcessingLog) (*ClaimProcessingLog, error)
	ListProcessedByBucket(ctx context.Context, bucketID uuid.UUID) ([]*ClaimProcessingLog, error)
	CountProcessedByBucket(ctx context.Context, bucketID uuid.UUID) (int64, error)
	SumPaidByBucket(ctx context.Context, bucketID uuid.UUID) (decimal.Decimal, error)
}

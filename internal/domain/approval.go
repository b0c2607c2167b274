package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ApprovalAction string

const (
	ApprovalActionApproval  ApprovalAction = "APPROVAL"
	ApprovalActionRejection ApprovalAction = "REJECTION"
	ApprovalActionOverride  ApprovalAction = "OVERRIDE"
)

// ApprovalLog records approve / reject / reset decisions against a bucket.
type ApprovalLog struct {
	ID          uuid.UUID      `json:"id"`
	BucketID    uuid.UUID      `json:"bucketId"`
	Action      ApprovalAction `json:"action"`
	PerformedBy string         `json:"performedBy"`
	Comments    string         `json:"comments"`
	CreatedAt   time.Time      `json:"createdAt"`
}

type ApprovalLogRepository interface {
	Create(ctx context.Context, entry *ApprovalLog) (*ApprovalLog, error)
	ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]*ApprovalLog, error)
}

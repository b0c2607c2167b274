package domain

import (
	"time"

	"github.com/google/uuid"
)

// BucketStatusChangeEvent is published on every bucket state transition.
// Delivery is best-effort and in-order per publisher; subscribers must
// tolerate duplicates.
type BucketStatusChangeEvent struct {
	BucketID       uuid.UUID    `json:"bucketId"`
	PreviousStatus BucketStatus `json:"previousStatus"`
	NewStatus      BucketStatus `json:"newStatus"`
	OccurredAt     time.Time    `json:"occurredAt"`
}

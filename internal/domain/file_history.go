package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "PENDING"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
	DeliveryStatusRetry     DeliveryStatus = "RETRY"
)

// FileGenerationHistory is a generated 835 file: the content bytes plus
// delivery bookkeeping. One bucket owns at most one history row per
// generation.
type FileGenerationHistory struct {
	ID                uuid.UUID       `json:"id"`
	BucketID          uuid.UUID       `json:"bucketId"`
	GeneratedFileName string          `json:"generatedFileName"`
	FileContent       []byte          `json:"-"`
	FileSize          int64           `json:"fileSize"`
	ClaimCount        int32           `json:"claimCount"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	GeneratedBy       string          `json:"generatedBy"`
	GeneratedAt       time.Time       `json:"generatedAt"`

	DeliveryStatus DeliveryStatus `json:"deliveryStatus"`
	DeliveredAt    *time.Time     `json:"deliveredAt,omitempty"`
	DeliveredBy    *string        `json:"deliveredBy,omitempty"`
	RetryCount     int32          `json:"retryCount"`
	ErrorMessage   *string        `json:"errorMessage,omitempty"`
}

type FileHistoryRepository interface {
	Create(ctx context.Context, h *FileGenerationHistory) (*FileGenerationHistory, error)
	GetByID(ctx context.Context, id uuid.UUID) (*FileGenerationHistory, error)
	ListByBucket(ctx context.Context, bucketID uuid.UUID) ([]*FileGenerationHistory, error)
	ListPending(ctx context.Context, limit int32) ([]*FileGenerationHistory, error)
	// ListFailedRetryable returns FAILED or RETRY rows with retryCount below
	// the given cap.
	ListFailedRetryable(ctx context.Context, maxRetries int32, limit int32) ([]*FileGenerationHistory, error)
	Update(ctx context.Context, h *FileGenerationHistory) error
}

package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusExhausted ReservationStatus = "EXHAUSTED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
)

// CheckReservation is a contiguous range of check numbers pre-allocated to a
// payer. Ranges for the same payer must not overlap; only ACTIVE reservations
// allocate, and a reservation with checksUsed == totalChecks is EXHAUSTED.
type CheckReservation struct {
	ID               uuid.UUID         `json:"id"`
	PayerID          uuid.UUID         `json:"payerId"`
	CheckNumberStart string            `json:"checkNumberStart"`
	CheckNumberEnd   string            `json:"checkNumberEnd"`
	TotalChecks      int32             `json:"totalChecks"`
	ChecksUsed       int32             `json:"checksUsed"`
	Status           ReservationStatus `json:"status"`
	BankName         string            `json:"bankName"`
	RoutingNumber    *string           `json:"routingNumber,omitempty"`
	AccountNumberLast4 *string         `json:"accountNumberLast4,omitempty"`
	CreatedBy        string            `json:"createdBy"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// ChecksRemaining is the number of checks still allocatable from the range.
func (r *CheckReservation) ChecksRemaining() int32 {
	return r.TotalChecks - r.ChecksUsed
}

// CheckNumberNumericPart parses the numeric run of a check number, skipping
// any alphabetic prefix. "CHK1001" -> 1001.
func CheckNumberNumericPart(checkNumber string) int64 {
	var n int64
	seen := false
	for _, c := range checkNumber {
		if c >= '0' && c <= '9' {
			n = n*10 + int64(c-'0')
			seen = true
		} else if seen {
			break
		}
	}
	return n
}

// ReservedCheckInfo is what an allocation hands back to the caller: the
// concrete check number plus the reservation it came from, for compensation.
type ReservedCheckInfo struct {
	CheckNumber   string
	ReservationID uuid.UUID
	BankName      string
	RoutingNumber *string
}

type CheckPaymentStatus string

const (
	CheckPaymentStatusAssigned     CheckPaymentStatus = "ASSIGNED"
	CheckPaymentStatusAcknowledged CheckPaymentStatus = "ACKNOWLEDGED"
	CheckPaymentStatusIssued       CheckPaymentStatus = "ISSUED"
	CheckPaymentStatusVoid         CheckPaymentStatus = "VOID"
	CheckPaymentStatusCancelled    CheckPaymentStatus = "CANCELLED"
)

// CheckPayment is the at-most-one check attached to a bucket. Status advances
// ASSIGNED -> ACKNOWLEDGED -> ISSUED; ISSUED -> VOID only inside the void
// window.
type CheckPayment struct {
	ID            uuid.UUID          `json:"id"`
	BucketID      uuid.UUID          `json:"bucketId"`
	ReservationID *uuid.UUID         `json:"reservationId,omitempty"`
	CheckNumber   string             `json:"checkNumber"`
	CheckAmount   decimal.Decimal    `json:"checkAmount"`
	CheckDate     time.Time          `json:"checkDate"`
	Status        CheckPaymentStatus `json:"status"`

	AssignedBy     string     `json:"assignedBy"`
	AssignedAt     time.Time  `json:"assignedAt"`
	AcknowledgedBy *string    `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	IssuedBy       *string    `json:"issuedBy,omitempty"`
	IssuedAt       *time.Time `json:"issuedAt,omitempty"`
	VoidReason     *string    `json:"voidReason,omitempty"`
	VoidedBy       *string    `json:"voidedBy,omitempty"`
	VoidedAt       *time.Time `json:"voidedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Check audit actions.
const (
	CheckAuditActionAssigned     = "ASSIGNED"
	CheckAuditActionAcknowledged = "ACKNOWLEDGED"
	CheckAuditActionIssued       = "ISSUED"
	CheckAuditActionVoid         = "VOID"
	CheckAuditActionReleased     = "RELEASED"
	CheckAuditActionReplaced     = "REPLACED"
)

// CheckAuditLog is the append-only event trail per check payment.
type CheckAuditLog struct {
	ID             uuid.UUID        `json:"id"`
	CheckPaymentID uuid.UUID        `json:"checkPaymentId"`
	Action         string           `json:"action"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	PerformedBy    string           `json:"performedBy"`
	Notes          string           `json:"notes"`
	CreatedAt      time.Time        `json:"createdAt"`
}

type ReservationRepository interface {
	Create(ctx context.Context, r *CheckReservation) (*CheckReservation, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CheckReservation, error)
	// GetByIDForUpdate locks the reservation row for a compensation update.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*CheckReservation, error)
	// OldestActiveForUpdate locks the oldest ACTIVE reservation for the payer
	// that still has checks remaining. Returns ErrNotFound when none exists.
	OldestActiveForUpdate(ctx context.Context, payerID uuid.UUID) (*CheckReservation, error)
	// ListOverlapping returns ACTIVE or EXHAUSTED reservations for the payer
	// whose numeric range intersects [startNum, endNum].
	ListOverlapping(ctx context.Context, payerID uuid.UUID, startNum, endNum int64) ([]*CheckReservation, error)
	Update(ctx context.Context, r *CheckReservation) error
}

type CheckPaymentRepository interface {
	Create(ctx context.Context, p *CheckPayment) (*CheckPayment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*CheckPayment, error)
	GetByBucketID(ctx context.Context, bucketID uuid.UUID) (*CheckPayment, error)
	Update(ctx context.Context, p *CheckPayment) error
}

type CheckAuditRepository interface {
	Create(ctx context.Context, entry *CheckAuditLog) (*CheckAuditLog, error)
	ListByPayment(ctx context.Context, checkPaymentID uuid.UUID) ([]*CheckAuditLog, error)
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GenerationTrigger is the narrow bucket-manager capability the payment
// service needs: pushing an approved, fully-paid bucket into generation.
// Injected after construction to break the manager/service cycle.
type GenerationTrigger interface {
	TransitionToGeneration(ctx context.Context, bucketID uuid.UUID) error
}

// CheckPaymentService owns the check lifecycle (ASSIGNED -> ACKNOWLEDGED ->
// ISSUED, VOID inside the void window) and its audit trail.
type CheckPaymentService struct {
	checkRepo    domain.CheckPaymentRepository
	auditRepo    domain.CheckAuditRepository
	bucketRepo   domain.BucketRepository
	payerRepo    domain.PayerRepository
	reservations *ReservationService
	settings     *SettingsService
	tx           TxRunner
	logger       zerolog.Logger
	now          func() time.Time

	trigger GenerationTrigger
}

// NewCheckPaymentService creates a new CheckPaymentService.
func NewCheckPaymentService(
	checkRepo domain.CheckPaymentRepository,
	auditRepo domain.CheckAuditRepository,
	bucketRepo domain.BucketRepository,
	payerRepo domain.PayerRepository,
	reservations *ReservationService,
	settings *SettingsService,
	tx TxRunner,
	logger zerolog.Logger,
) *CheckPaymentService {
	return &CheckPaymentService{
		checkRepo:    checkRepo,
		auditRepo:    auditRepo,
		bucketRepo:   bucketRepo,
		payerRepo:    payerRepo,
		reservations: reservations,
		settings:     settings,
		tx:           tx,
		logger:       logger.With().Str("component", "check_payment").Logger(),
		now:          time.Now,
	}
}

// SetGenerationTrigger wires the bucket manager in after construction.
func (s *CheckPaymentService) SetGenerationTrigger(t GenerationTrigger) { s.trigger = t }

// ManualCheckInput holds the input for a manual assignment or replacement.
type ManualCheckInput struct {
	CheckNumber string
	CheckAmount *decimal.Decimal // defaults to the bucket total
	CheckDate   time.Time
	PerformedBy string
	Notes       string
}

// AssignCheckManually attaches an operator-supplied check to a bucket
// awaiting payment. When the bucket was already approved the assignment
// completes the gate and generation is triggered in the same transaction.
func (s *CheckPaymentService) AssignCheckManually(ctx context.Context, bucketID uuid.UUID, input ManualCheckInput) (*domain.CheckPayment, error) {
	if input.CheckNumber == "" {
		return nil, fmt.Errorf("%w: check number is required", domain.ErrInvalidInput)
	}

	var payment *domain.CheckPayment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.Status != domain.BucketStatusPendingApproval {
			return domain.NewInvalidStateError("bucket", bucket.ID.String(),
				string(bucket.Status), string(domain.BucketStatusPendingApproval))
		}
		if bucket.HasPaymentAssigned() {
			return fmt.Errorf("%w: bucket already has a check assigned", domain.ErrAlreadyExists)
		}

		payment, err = s.createPayment(ctx, bucket, nil, input)
		if err != nil {
			return err
		}

		if bucket.ApprovedBy != nil {
			return s.trigger.TransitionToGeneration(ctx, bucket.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("check_number", payment.CheckNumber).
		Str("assigned_by", input.PerformedBy).
		Msg("Check assigned manually")
	return payment, nil
}

// AssignCheckAutomaticallyFromBucket reserves the next check for the
// bucket's payer and attaches it. When reservation committed independently
// and anything after it fails, the reserved number is released before the
// error is surfaced as a CheckAssignment failure.
func (s *CheckPaymentService) AssignCheckAutomaticallyFromBucket(ctx context.Context, bucketID uuid.UUID, assignedBy string) (*domain.CheckPayment, error) {
	var payment *domain.CheckPayment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.HasPaymentAssigned() {
			payment, err = s.checkRepo.GetByBucketID(ctx, bucket.ID)
			return err
		}

		payer, err := s.payerRepo.GetByPayerID(ctx, bucket.PayerID)
		if err != nil {
			return err
		}

		reserved, err := s.reservations.GetAndReserveNextCheck(ctx, payer.ID, &bucket.ID)
		if err != nil {
			return err
		}

		payment, err = s.createPayment(ctx, bucket, &reserved.ReservationID, ManualCheckInput{
			CheckNumber: reserved.CheckNumber,
			CheckDate:   s.now(),
			PerformedBy: assignedBy,
			Notes:       "Auto-assigned from reservation " + reserved.ReservationID.String(),
		})
		if err != nil {
			// The reservation may already be committed; compensate before
			// surfacing the failure.
			if relErr := s.reservations.ReleaseReservedCheck(ctx, reserved.CheckNumber, reserved.ReservationID,
				"assignment failed: "+err.Error()); relErr != nil {
				s.logger.Error().Err(relErr).
					Str("check_number", reserved.CheckNumber).
					Msg("Compensation failed after assignment error")
			}
			return fmt.Errorf("%w: %v", domain.ErrCheckAssignment, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("check_number", payment.CheckNumber).
		Msg("Check assigned automatically")
	return payment, nil
}

// createPayment inserts the payment row, bumps the bucket's payment fields
// and writes the ASSIGNED audit entry. Runs inside the caller's transaction.
func (s *CheckPaymentService) createPayment(ctx context.Context, bucket *domain.Bucket, reservationID *uuid.UUID, input ManualCheckInput) (*domain.CheckPayment, error) {
	amount := bucket.TotalAmount
	if input.CheckAmount != nil {
		amount = *input.CheckAmount
	}
	checkDate := input.CheckDate
	if checkDate.IsZero() {
		checkDate = s.now()
	}

	payment, err := s.checkRepo.Create(ctx, &domain.CheckPayment{
		ID:            uuid.New(),
		BucketID:      bucket.ID,
		ReservationID: reservationID,
		CheckNumber:   input.CheckNumber,
		CheckAmount:   amount,
		CheckDate:     checkDate,
		Status:        domain.CheckPaymentStatusAssigned,
		AssignedBy:    input.PerformedBy,
		AssignedAt:    s.now(),
	})
	if err != nil {
		return nil, err
	}

	bucket.CheckPaymentID = &payment.ID
	bucket.PaymentStatus = domain.PaymentStatusAssigned
	if err := s.bucketRepo.Update(ctx, bucket); err != nil {
		return nil, err
	}

	if _, err := s.auditRepo.Create(ctx, &domain.CheckAuditLog{
		ID:             uuid.New(),
		CheckPaymentID: payment.ID,
		Action:         domain.CheckAuditActionAssigned,
		Amount:         &amount,
		PerformedBy:    input.PerformedBy,
		Notes:          input.Notes,
	}); err != nil {
		return nil, err
	}
	return payment, nil
}

// ReplaceCheck swaps the check number on a bucket still gated on approval,
// updating the unique payment row in place with a VOID audit for the old
// number and a fresh ASSIGNED audit for the new one.
func (s *CheckPaymentService) ReplaceCheck(ctx context.Context, bucketID uuid.UUID, input ManualCheckInput) (*domain.CheckPayment, error) {
	if input.CheckNumber == "" {
		return nil, fmt.Errorf("%w: check number is required", domain.ErrInvalidInput)
	}

	var payment *domain.CheckPayment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.Status != domain.BucketStatusPendingApproval || bucket.PaymentStatus != domain.PaymentStatusAssigned {
			return domain.NewInvalidStateError("bucket", bucket.ID.String(),
				fmt.Sprintf("%s/%s", bucket.Status, bucket.PaymentStatus),
				"PENDING_APPROVAL/ASSIGNED")
		}

		payment, err = s.checkRepo.GetByBucketID(ctx, bucket.ID)
		if err != nil {
			return err
		}

		oldNumber := payment.CheckNumber
		if _, err := s.auditRepo.Create(ctx, &domain.CheckAuditLog{
			ID:             uuid.New(),
			CheckPaymentID: payment.ID,
			Action:         domain.CheckAuditActionVoid,
			Amount:         &payment.CheckAmount,
			PerformedBy:    input.PerformedBy,
			Notes:          fmt.Sprintf("Replaced check %s: %s", oldNumber, input.Notes),
		}); err != nil {
			return err
		}

		payment.CheckNumber = input.CheckNumber
		if input.CheckAmount != nil {
			payment.CheckAmount = *input.CheckAmount
		}
		if !input.CheckDate.IsZero() {
			payment.CheckDate = input.CheckDate
		}
		payment.ReservationID = nil
		payment.AssignedBy = input.PerformedBy
		payment.AssignedAt = s.now()
		if err := s.checkRepo.Update(ctx, payment); err != nil {
			return err
		}

		_, err = s.auditRepo.Create(ctx, &domain.CheckAuditLog{
			ID:             uuid.New(),
			CheckPaymentID: payment.ID,
			Action:         domain.CheckAuditActionAssigned,
			Amount:         &payment.CheckAmount,
			PerformedBy:    input.PerformedBy,
			Notes:          fmt.Sprintf("Replacement for check %s", oldNumber),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("check_number", payment.CheckNumber).
		Msg("Check replaced")
	return payment, nil
}

// AcknowledgeCheck advances a check from ASSIGNED to ACKNOWLEDGED.
func (s *CheckPaymentService) AcknowledgeCheck(ctx context.Context, checkPaymentID uuid.UUID, acknowledgedBy string) error {
	return s.advance(ctx, checkPaymentID,
		domain.CheckPaymentStatusAssigned, domain.CheckPaymentStatusAcknowledged,
		domain.PaymentStatusAcknowledged, domain.CheckAuditActionAcknowledged,
		acknowledgedBy, "",
		func(p *domain.CheckPayment, at time.Time) {
			p.AcknowledgedBy = &acknowledgedBy
			p.AcknowledgedAt = &at
		})
}

// MarkCheckIssued advances a check from ACKNOWLEDGED to ISSUED.
func (s *CheckPaymentService) MarkCheckIssued(ctx context.Context, checkPaymentID uuid.UUID, issuedBy string) error {
	return s.advance(ctx, checkPaymentID,
		domain.CheckPaymentStatusAcknowledged, domain.CheckPaymentStatusIssued,
		domain.PaymentStatusIssued, domain.CheckAuditActionIssued,
		issuedBy, "",
		func(p *domain.CheckPayment, at time.Time) {
			p.IssuedBy = &issuedBy
			p.IssuedAt = &at
		})
}

func (s *CheckPaymentService) advance(
	ctx context.Context,
	checkPaymentID uuid.UUID,
	from, to domain.CheckPaymentStatus,
	bucketStatus domain.PaymentStatus,
	auditAction, performedBy, notes string,
	apply func(p *domain.CheckPayment, at time.Time),
) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payment, err := s.checkRepo.GetByID(ctx, checkPaymentID)
		if err != nil {
			return err
		}
		if payment.Status != from {
			return domain.NewInvalidStateError("check", payment.ID.String(),
				string(payment.Status), string(from))
		}

		at := s.now()
		payment.Status = to
		apply(payment, at)
		if err := s.checkRepo.Update(ctx, payment); err != nil {
			return err
		}

		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, payment.BucketID)
		if err != nil {
			return err
		}
		bucket.PaymentStatus = bucketStatus
		if err := s.bucketRepo.Update(ctx, bucket); err != nil {
			return err
		}

		_, err = s.auditRepo.Create(ctx, &domain.CheckAuditLog{
			ID:             uuid.New(),
			CheckPaymentID: payment.ID,
			Action:         auditAction,
			Amount:         &payment.CheckAmount,
			PerformedBy:    performedBy,
			Notes:          notes,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("check_payment_id", checkPaymentID.String()).
		Str("status", string(to)).
		Str("performed_by", performedBy).
		Msg("Check advanced")
	return nil
}

// VoidCheck voids an ISSUED check inside the void window.
func (s *CheckPaymentService) VoidCheck(ctx context.Context, checkPaymentID uuid.UUID, reason, voidedBy string) error {
	if reason == "" {
		return fmt.Errorf("%w: void reason is required", domain.ErrInvalidInput)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		payment, err := s.checkRepo.GetByID(ctx, checkPaymentID)
		if err != nil {
			return err
		}
		if payment.Status != domain.CheckPaymentStatusIssued {
			return domain.NewInvalidStateError("check", payment.ID.String(),
				string(payment.Status), string(domain.CheckPaymentStatusIssued))
		}

		limit := time.Duration(s.settings.VoidTimeLimitHours(ctx)) * time.Hour
		if payment.IssuedAt == nil || s.now().Sub(*payment.IssuedAt) > limit {
			return domain.ErrVoidWindowExpired
		}

		at := s.now()
		payment.Status = domain.CheckPaymentStatusVoid
		payment.VoidReason = &reason
		payment.VoidedBy = &voidedBy
		payment.VoidedAt = &at
		if err := s.checkRepo.Update(ctx, payment); err != nil {
			return err
		}

		_, err = s.auditRepo.Create(ctx, &domain.CheckAuditLog{
			ID:             uuid.New(),
			CheckPaymentID: payment.ID,
			Action:         domain.CheckAuditActionVoid,
			Amount:         &payment.CheckAmount,
			PerformedBy:    voidedBy,
			Notes:          reason,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("check_payment_id", checkPaymentID.String()).
		Str("voided_by", voidedBy).
		Msg("Check voided")
	return nil
}

// GetByBucket returns the check payment attached to a bucket.
func (s *CheckPaymentService) GetByBucket(ctx context.Context, bucketID uuid.UUID) (*domain.CheckPayment, error) {
	return s.checkRepo.GetByBucketID(ctx, bucketID)
}

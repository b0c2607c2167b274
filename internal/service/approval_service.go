package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog"
)

// ApprovalService handles the human commit gate: approve, reject, reset, and
// the payment auto-assignment that rides inside the approval transaction.
type ApprovalService struct {
	bucketRepo    domain.BucketRepository
	approvalRepo  domain.ApprovalLogRepository
	thresholdRepo domain.ThresholdRepository
	workflowRepo  domain.WorkflowConfigRepository
	manager       *BucketManager
	payments      *CheckPaymentService
	tx            TxRunner
	logger        zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	bucketRepo domain.BucketRepository,
	approvalRepo domain.ApprovalLogRepository,
	thresholdRepo domain.ThresholdRepository,
	workflowRepo domain.WorkflowConfigRepository,
	manager *BucketManager,
	payments *CheckPaymentService,
	tx TxRunner,
	logger zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		bucketRepo:    bucketRepo,
		approvalRepo:  approvalRepo,
		thresholdRepo: thresholdRepo,
		workflowRepo:  workflowRepo,
		manager:       manager,
		payments:      payments,
		tx:            tx,
		logger:        logger.With().Str("component", "approval_workflow").Logger(),
	}
}

// ApproveBucket approves a PENDING_APPROVAL bucket. Approval fields, the
// approval log, any automatic check assignment and the resulting generation
// transition commit in one transaction: an assignment failure rolls the
// approval back (the reservation sub-step, when independently committed, is
// compensated by the payment service before the error reaches us).
func (s *ApprovalService) ApproveBucket(ctx context.Context, bucketID uuid.UUID, approvedBy, comments string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.Status != domain.BucketStatusPendingApproval {
			return domain.NewInvalidStateError("bucket", bucket.ID.String(),
				string(bucket.Status), string(domain.BucketStatusPendingApproval))
		}

		if _, err := s.approvalRepo.Create(ctx, &domain.ApprovalLog{
			ID:          uuid.New(),
			BucketID:    bucket.ID,
			Action:      domain.ApprovalActionApproval,
			PerformedBy: approvedBy,
			Comments:    comments,
		}); err != nil {
			return err
		}

		now := time.Now()
		bucket.ApprovedBy = &approvedBy
		bucket.ApprovedAt = &now
		if err := s.bucketRepo.Update(ctx, bucket); err != nil {
			return err
		}

		if !bucket.PaymentRequired || bucket.HasPaymentAssigned() {
			return s.manager.TransitionToGeneration(ctx, bucket.ID)
		}
		return s.attemptAutoAssignment(ctx, bucket, approvedBy)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("approved_by", approvedBy).
		Msg("Bucket approved")
	return nil
}

// attemptAutoAssignment mirrors the auto-commit rule: a SEPARATE/AUTO
// workflow on the rule's threshold assigns a check, after which this method
// moves the approved, now paid bucket into generation. With no such workflow
// the approval stands and the bucket waits for a manual check.
func (s *ApprovalService) attemptAutoAssignment(ctx context.Context, bucket *domain.Bucket, approvedBy string) error {
	wf, err := s.findWorkflow(ctx, bucket.BucketingRuleID)
	if err != nil {
		return err
	}
	if wf == nil || wf.WorkflowType != domain.WorkflowTypeSeparate || wf.AssignmentMode != domain.AssignmentModeAuto {
		s.logger.Info().
			Str("bucket_id", bucket.ID.String()).
			Msg("Approval recorded, awaiting manual check assignment")
		return nil
	}

	if _, err := s.payments.AssignCheckAutomaticallyFromBucket(ctx, bucket.ID, approvedBy); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCheckAssignment, err)
	}
	// The bucket is approved and now paid; complete the gate.
	return s.manager.TransitionToGeneration(ctx, bucket.ID)
}

func (s *ApprovalService) findWorkflow(ctx context.Context, ruleID uuid.UUID) (*domain.WorkflowConfig, error) {
	thresholds, err := s.thresholdRepo.ListActiveByRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	for _, t := range thresholds {
		wf, err := s.workflowRepo.GetActiveByThreshold(ctx, t.ID)
		if err == nil {
			return wf, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// RejectBucket fails a PENDING_APPROVAL bucket with an audit trail.
func (s *ApprovalService) RejectBucket(ctx context.Context, bucketID uuid.UUID, rejectedBy, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return domain.ErrEmptyRejectionReason
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.Status != domain.BucketStatusPendingApproval {
			return domain.NewInvalidStateError("bucket", bucket.ID.String(),
				string(bucket.Status), string(domain.BucketStatusPendingApproval))
		}

		if _, err := s.approvalRepo.Create(ctx, &domain.ApprovalLog{
			ID:          uuid.New(),
			BucketID:    bucket.ID,
			Action:      domain.ApprovalActionRejection,
			PerformedBy: rejectedBy,
			Comments:    reason,
		}); err != nil {
			return err
		}

		return s.manager.MarkFailed(ctx, bucket.ID, fmt.Sprintf("Rejected by %s: %s", rejectedBy, reason))
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("rejected_by", rejectedBy).
		Msg("Bucket rejected")
	return nil
}

// ResetFailedBucket returns a FAILED bucket to accumulation with an OVERRIDE
// audit.
func (s *ApprovalService) ResetFailedBucket(ctx context.Context, bucketID uuid.UUID, resetBy, reason string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.Status != domain.BucketStatusFailed {
			return domain.NewInvalidStateError("bucket", bucket.ID.String(),
				string(bucket.Status), string(domain.BucketStatusFailed))
		}

		if _, err := s.approvalRepo.Create(ctx, &domain.ApprovalLog{
			ID:          uuid.New(),
			BucketID:    bucket.ID,
			Action:      domain.ApprovalActionOverride,
			PerformedBy: resetBy,
			Comments:    "RESET: " + reason,
		}); err != nil {
			return err
		}

		return s.manager.ResetToAccumulating(ctx, bucket.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("reset_by", resetBy).
		Msg("Failed bucket reset to accumulation")
	return nil
}

// BulkApproveBuckets approves each id in its own transaction; one failure
// does not abort the rest. Returns the count approved.
func (s *ApprovalService) BulkApproveBuckets(ctx context.Context, bucketIDs []uuid.UUID, approvedBy, comments string) int {
	approved := 0
	for _, id := range bucketIDs {
		if err := s.ApproveBucket(ctx, id, approvedBy, comments); err != nil {
			s.logger.Warn().Err(err).
				Str("bucket_id", id.String()).
				Msg("Bulk approval skipped bucket")
			continue
		}
		approved++
	}
	s.logger.Info().
		Int("approved", approved).
		Int("requested", len(bucketIDs)).
		Str("approved_by", approvedBy).
		Msg("Bulk approval finished")
	return approved
}

// IsAuthorizedToApprove is a placeholder policy: any role containing ADMIN,
// MANAGER or APPROVER may approve. The commit criteria's approvalRoles set
// is not consulted, and no pluggable authorization policy exists.
func (s *ApprovalService) IsAuthorizedToApprove(rolesCsv string) bool {
	for _, role := range strings.Split(rolesCsv, ",") {
		upper := strings.ToUpper(strings.TrimSpace(role))
		if strings.Contains(upper, "ADMIN") ||
			strings.Contains(upper, "MANAGER") ||
			strings.Contains(upper, "APPROVER") {
			return true
		}
	}
	return false
}

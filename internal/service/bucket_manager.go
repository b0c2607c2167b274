package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/event"
	"github.com/rs/zerolog"
)

// CheckAssigner is the narrow payment-service capability the manager needs
// for the auto-commit path. Wired after construction to break the
// manager/service cycle.
type CheckAssigner interface {
	AssignCheckAutomaticallyFromBucket(ctx context.Context, bucketID uuid.UUID, assignedBy string) (*domain.CheckPayment, error)
}

// BucketManager owns the bucket state machine: threshold evaluation,
// commit-mode dispatch, payment validation at generation entry, and the
// state setters that publish transition events.
type BucketManager struct {
	bucketRepo   domain.BucketRepository
	thresholds   domain.ThresholdRepository
	criteria     domain.CommitCriteriaRepository
	workflows    domain.WorkflowConfigRepository
	tx           TxRunner
	bus          *event.Bus
	settings     *SettingsService
	logger       zerolog.Logger
	now          func() time.Time

	assigner CheckAssigner
}

// NewBucketManager creates a new BucketManager.
func NewBucketManager(
	bucketRepo domain.BucketRepository,
	thresholds domain.ThresholdRepository,
	criteria domain.CommitCriteriaRepository,
	workflows domain.WorkflowConfigRepository,
	tx TxRunner,
	bus *event.Bus,
	settings *SettingsService,
	logger zerolog.Logger,
) *BucketManager {
	return &BucketManager{
		bucketRepo: bucketRepo,
		thresholds: thresholds,
		criteria:   criteria,
		workflows:  workflows,
		tx:         tx,
		bus:        bus,
		settings:   settings,
		logger:     logger.With().Str("component", "bucket_manager").Logger(),
		now:        time.Now,
	}
}

// SetCheckAssigner wires the payment service in after construction.
func (m *BucketManager) SetCheckAssigner(a CheckAssigner) { m.assigner = a }

// EvaluateBucketThresholds checks the bucket against its rule's active
// thresholds (first satisfied wins, in persistence order) and dispatches per
// the commit criteria. Only ACCUMULATING buckets evaluate; anything else is
// a no-op. Runs inside the caller's transaction; the caller holds the bucket
// row lock. Returns true when the bucket left ACCUMULATING.
func (m *BucketManager) EvaluateBucketThresholds(ctx context.Context, bucket *domain.Bucket) (bool, error) {
	if bucket.Status != domain.BucketStatusAccumulating {
		return false, nil
	}

	thresholds, err := m.thresholds.ListActiveByRule(ctx, bucket.BucketingRuleID)
	if err != nil {
		return false, fmt.Errorf("loading thresholds: %w", err)
	}

	var fired *domain.GenerationThreshold
	for _, t := range thresholds {
		if m.thresholdSatisfied(bucket, t) {
			fired = t
			break
		}
	}
	if fired == nil {
		return false, nil
	}

	m.logger.Info().
		Str("bucket_id", bucket.ID.String()).
		Str("threshold_id", fired.ID.String()).
		Str("threshold_type", string(fired.ThresholdType)).
		Int32("claim_count", bucket.ClaimCount).
		Str("total_amount", bucket.TotalAmount.StringFixed(2)).
		Msg("Generation threshold satisfied")

	criteria, err := m.activeCriteria(ctx, bucket.BucketingRuleID)
	if err != nil {
		return false, err
	}

	mode := domain.CommitModeAuto
	if criteria != nil {
		mode = criteria.CommitMode
	}

	switch mode {
	case domain.CommitModeManual:
		return true, m.markPendingApproval(ctx, bucket)
	case domain.CommitModeHybrid:
		if m.RequiresApproval(bucket, criteria) {
			return true, m.markPendingApproval(ctx, bucket)
		}
		return true, m.handleAutoCommitWithPayment(ctx, bucket, fired)
	default:
		return true, m.handleAutoCommitWithPayment(ctx, bucket, fired)
	}
}

// thresholdSatisfied applies the predicate for the threshold type. A HYBRID
// threshold fires when any of its set operands does.
func (m *BucketManager) thresholdSatisfied(bucket *domain.Bucket, t *domain.GenerationThreshold) bool {
	byCount := t.MaxClaims != nil && bucket.ClaimCount >= *t.MaxClaims
	byAmount := t.MaxAmount != nil && bucket.TotalAmount.GreaterThanOrEqual(*t.MaxAmount)
	byAge := t.TimeDuration != nil && m.now().Sub(bucket.CreatedAt).Hours() >= t.TimeDuration.Hours()

	switch t.ThresholdType {
	case domain.ThresholdTypeClaimCount:
		return byCount
	case domain.ThresholdTypeAmount:
		return byAmount
	case domain.ThresholdTypeTime:
		return byAge
	case domain.ThresholdTypeHybrid:
		return byCount || byAmount || byAge
	}
	return false
}

// activeCriteria returns the first active commit criteria for the rule,
// warning when the configuration carries more than one.
func (m *BucketManager) activeCriteria(ctx context.Context, ruleID uuid.UUID) (*domain.CommitCriteria, error) {
	rows, err := m.criteria.ListActiveByRule(ctx, ruleID)
	if err != nil {
		return nil, fmt.Errorf("loading commit criteria: %w", err)
	}
	if len(rows) == 0 {
		m.logger.Warn().
			Str("rule_id", ruleID.String()).
			Msg("No commit criteria configured, defaulting to AUTO")
		return nil, nil
	}
	if len(rows) > 1 {
		m.logger.Warn().
			Str("rule_id", ruleID.String()).
			Int("count", len(rows)).
			Msg("Multiple active commit criteria, using the first")
	}
	return rows[0], nil
}

// RequiresApproval evaluates the commit criteria against the bucket. A nil
// or unrecognised criteria defaults to AUTO.
func (m *BucketManager) RequiresApproval(bucket *domain.Bucket, criteria *domain.CommitCriteria) bool {
	if criteria == nil {
		return false
	}
	switch criteria.CommitMode {
	case domain.CommitModeAuto:
		return false
	case domain.CommitModeManual:
		return true
	case domain.CommitModeHybrid:
		if criteria.ApprovalClaimCountThreshold != nil && bucket.ClaimCount >= *criteria.ApprovalClaimCountThreshold {
			return true
		}
		if criteria.ApprovalAmountThreshold != nil && bucket.TotalAmount.GreaterThanOrEqual(*criteria.ApprovalAmountThreshold) {
			return true
		}
		return len(criteria.ApprovalRoles) > 0
	}
	m.logger.Warn().
		Str("criteria_id", criteria.ID.String()).
		Str("commit_mode", string(criteria.CommitMode)).
		Msg("Unrecognised commit mode, defaulting to AUTO")
	return false
}

// handleAutoCommitWithPayment moves a bucket whose threshold fired under an
// AUTO decision into generation, auto-assigning a check first when the
// workflow allows it. When no automatic assignment is possible the bucket
// parks in PENDING_APPROVAL awaiting a manual check.
func (m *BucketManager) handleAutoCommitWithPayment(ctx context.Context, bucket *domain.Bucket, threshold *domain.GenerationThreshold) error {
	if !bucket.PaymentRequired || bucket.HasPaymentAssigned() {
		return m.transitionToGeneration(ctx, bucket)
	}

	wf, err := m.workflows.GetActiveByThreshold(ctx, threshold.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("loading workflow config: %w", err)
	}

	if wf == nil || wf.WorkflowType != domain.WorkflowTypeSeparate || wf.AssignmentMode != domain.AssignmentModeAuto {
		m.logger.Warn().
			Str("bucket_id", bucket.ID.String()).
			Msg("Payment required but no automatic assignment workflow, awaiting manual check")
		return m.markPendingApproval(ctx, bucket)
	}

	if _, err := m.assigner.AssignCheckAutomaticallyFromBucket(ctx, bucket.ID, domain.SystemAutoCreator); err != nil {
		if errors.Is(err, domain.ErrNoAvailableChecks) {
			m.logger.Warn().
				Str("bucket_id", bucket.ID.String()).
				Msg("Payment required but no checks available, awaiting manual check")
			return m.markPendingApproval(ctx, bucket)
		}
		return err
	}

	reloaded, err := m.bucketRepo.GetByIDForUpdate(ctx, bucket.ID)
	if err != nil {
		return err
	}
	*bucket = *reloaded
	return m.transitionToGeneration(ctx, bucket)
}

// TransitionToGeneration validates payment readiness and moves the bucket to
// GENERATING. Runs in its own transaction when none is open.
func (m *BucketManager) TransitionToGeneration(ctx context.Context, bucketID uuid.UUID) error {
	return m.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := m.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		return m.transitionToGeneration(ctx, bucket)
	})
}

func (m *BucketManager) transitionToGeneration(ctx context.Context, bucket *domain.Bucket) error {
	if err := m.ValidatePaymentReadiness(ctx, bucket); err != nil {
		return err
	}
	if !bucket.CanTransitionTo(domain.BucketStatusGenerating) {
		return domain.NewInvalidStateError("bucket", bucket.ID.String(),
			string(bucket.Status), "ACCUMULATING or PENDING_APPROVAL")
	}

	previous := bucket.Status
	now := m.now()
	bucket.Status = domain.BucketStatusGenerating
	bucket.GenerationStartedAt = &now
	if err := m.bucketRepo.Update(ctx, bucket); err != nil {
		return err
	}

	m.logger.Info().
		Str("bucket_id", bucket.ID.String()).
		Str("from", string(previous)).
		Msg("Bucket transitioned to GENERATING")
	m.publish(bucket.ID, previous, domain.BucketStatusGenerating)
	return nil
}

// ValidatePaymentReadiness is the generation-entry gate: a payment-required
// bucket must carry an assigned check, and an ACKNOWLEDGED one when the
// system requires acknowledgment before EDI.
func (m *BucketManager) ValidatePaymentReadiness(ctx context.Context, bucket *domain.Bucket) error {
	if !bucket.PaymentRequired {
		return nil
	}
	if !bucket.HasPaymentAssigned() {
		return fmt.Errorf("%w: bucket %s has no check assigned", domain.ErrPaymentRequired, bucket.ID)
	}
	if m.settings.RequireAckBeforeEdi(ctx) &&
		bucket.PaymentStatus != domain.PaymentStatusAcknowledged &&
		bucket.PaymentStatus != domain.PaymentStatusIssued {
		return fmt.Errorf("%w: bucket %s check not acknowledged", domain.ErrPaymentRequired, bucket.ID)
	}
	return nil
}

// markPendingApproval parks the bucket awaiting a human decision. Runs
// inside the caller's transaction.
func (m *BucketManager) markPendingApproval(ctx context.Context, bucket *domain.Bucket) error {
	if !bucket.CanTransitionTo(domain.BucketStatusPendingApproval) {
		return domain.NewInvalidStateError("bucket", bucket.ID.String(),
			string(bucket.Status), string(domain.BucketStatusAccumulating))
	}
	previous := bucket.Status
	now := m.now()
	bucket.Status = domain.BucketStatusPendingApproval
	bucket.AwaitingApprovalSince = &now
	if err := m.bucketRepo.Update(ctx, bucket); err != nil {
		return err
	}
	m.logger.Info().
		Str("bucket_id", bucket.ID.String()).
		Msg("Bucket awaiting approval")
	m.publish(bucket.ID, previous, domain.BucketStatusPendingApproval)
	return nil
}

// MarkCompleted finalises a bucket after its file was generated.
func (m *BucketManager) MarkCompleted(ctx context.Context, bucketID uuid.UUID) error {
	return m.setStatus(ctx, bucketID, domain.BucketStatusCompleted, func(b *domain.Bucket) {
		now := m.now()
		b.GenerationCompletedAt = &now
	})
}

// MarkFailed records a failure on the bucket. The message is truncated to
// the persisted column size.
func (m *BucketManager) MarkFailed(ctx context.Context, bucketID uuid.UUID, errMsg string) error {
	if len(errMsg) > domain.MaxErrorMessageLength {
		errMsg = errMsg[:domain.MaxErrorMessageLength]
	}
	return m.setStatus(ctx, bucketID, domain.BucketStatusFailed, func(b *domain.Bucket) {
		now := m.now()
		b.LastErrorMessage = &errMsg
		b.LastErrorAt = &now
	})
}

// MarkMissingConfiguration parks a bucket whose configuration disappeared.
func (m *BucketManager) MarkMissingConfiguration(ctx context.Context, bucketID uuid.UUID) error {
	return m.setStatus(ctx, bucketID, domain.BucketStatusMissingConfig, nil)
}

// ResetToAccumulating returns a FAILED or MISSING_CONFIGURATION bucket to
// accumulation.
func (m *BucketManager) ResetToAccumulating(ctx context.Context, bucketID uuid.UUID) error {
	return m.setStatus(ctx, bucketID, domain.BucketStatusAccumulating, func(b *domain.Bucket) {
		b.AwaitingApprovalSince = nil
	})
}

func (m *BucketManager) setStatus(ctx context.Context, bucketID uuid.UUID, next domain.BucketStatus, apply func(*domain.Bucket)) error {
	var previous domain.BucketStatus
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := m.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if !bucket.CanTransitionTo(next) {
			return domain.NewInvalidStateError("bucket", bucket.ID.String(),
				string(bucket.Status), string(next))
		}
		previous = bucket.Status
		bucket.Status = next
		if apply != nil {
			apply(bucket)
		}
		return m.bucketRepo.Update(ctx, bucket)
	})
	if err != nil {
		return err
	}

	m.logger.Info().
		Str("bucket_id", bucketID.String()).
		Str("from", string(previous)).
		Str("to", string(next)).
		Msg("Bucket status changed")
	m.publish(bucketID, previous, next)
	return nil
}

func (m *BucketManager) publish(bucketID uuid.UUID, from, to domain.BucketStatus) {
	m.bus.Publish(domain.BucketStatusChangeEvent{
		BucketID:       bucketID,
		PreviousStatus: from,
		NewStatus:      to,
		OccurredAt:     m.now().UTC(),
	})
}

// GetBucket returns a bucket by id.
func (m *BucketManager) GetBucket(ctx context.Context, bucketID uuid.UUID) (*domain.Bucket, error) {
	return m.bucketRepo.GetByID(ctx, bucketID)
}

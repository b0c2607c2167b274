package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/util"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AggregatorService routes each incoming claim to its accumulating bucket,
// creating the bucket (and any missing payer/payee master rows) on demand.
// The claim append, bucket mutation and threshold evaluation commit in one
// transaction.
type AggregatorService struct {
	bucketRepo   domain.BucketRepository
	claimLogRepo domain.ClaimLogRepository
	payerRepo    domain.PayerRepository
	payeeRepo    domain.PayeeRepository
	templateRepo domain.TemplateRepository
	criteriaRepo domain.CommitCriteriaRepository
	manager      *BucketManager
	tx           TxRunner
	logger       zerolog.Logger
}

// NewAggregatorService creates a new AggregatorService.
func NewAggregatorService(
	bucketRepo domain.BucketRepository,
	claimLogRepo domain.ClaimLogRepository,
	payerRepo domain.PayerRepository,
	payeeRepo domain.PayeeRepository,
	templateRepo domain.TemplateRepository,
	criteriaRepo domain.CommitCriteriaRepository,
	manager *BucketManager,
	tx TxRunner,
	logger zerolog.Logger,
) *AggregatorService {
	return &AggregatorService{
		bucketRepo:   bucketRepo,
		claimLogRepo: claimLogRepo,
		payerRepo:    payerRepo,
		payeeRepo:    payeeRepo,
		templateRepo: templateRepo,
		criteriaRepo: criteriaRepo,
		manager:      manager,
		tx:           tx,
		logger:       logger.With().Str("component", "claim_aggregator").Logger(),
	}
}

// AggregateClaim consumes one claim under the given rule. Invalid claims and
// aggregation failures are recorded as REJECTED processing logs; the claim
// is never retried by this component.
func (s *AggregatorService) AggregateClaim(ctx context.Context, claim *domain.Claim, rule *domain.BucketingRule) error {
	if reason := validateClaim(claim); reason != "" {
		s.logger.Warn().
			Str("claim_id", claim.ID).
			Str("reason", reason).
			Msg("Claim rejected")
		return s.writeRejection(ctx, claim, nil, reason)
	}

	var bucketID *uuid.UUID
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.resolveBucket(ctx, claim, rule)
		if err != nil {
			return err
		}
		bucketID = &bucket.ID

		// Accumulate under the row lock.
		locked, err := s.bucketRepo.GetByIDForUpdate(ctx, bucket.ID)
		if err != nil {
			return err
		}
		locked.ClaimCount++
		locked.TotalAmount = locked.TotalAmount.Add(claim.PaidAmount)
		if err := s.bucketRepo.Update(ctx, locked); err != nil {
			return err
		}

		if _, err := s.claimLogRepo.Create(ctx, &domain.ClaimProcessingLog{
			ID:           uuid.New(),
			ClaimID:      claim.ID,
			BucketID:     &locked.ID,
			PayerID:      locked.PayerID,
			PayeeID:      locked.PayeeID,
			Outcome:      domain.ClaimOutcomeProcessed,
			ChargeAmount: &claim.TotalChargeAmount,
			PaidAmount:   &claim.PaidAmount,
		}); err != nil {
			return err
		}

		_, err = s.manager.EvaluateBucketThresholds(ctx, locked)
		return err
	})
	if err == nil {
		return nil
	}

	s.logger.Error().Err(err).
		Str("claim_id", claim.ID).
		Msg("Aggregation failed, rejecting claim")
	if rejErr := s.writeRejection(ctx, claim, bucketID, err.Error()); rejErr != nil {
		s.logger.Error().Err(rejErr).Str("claim_id", claim.ID).Msg("Failed to record claim rejection")
	}
	if bucketID != nil {
		s.recordBucketError(ctx, *bucketID, err)
	}
	return err
}

// resolveBucket finds or creates the accumulating bucket the claim belongs
// to.
func (s *AggregatorService) resolveBucket(ctx context.Context, claim *domain.Claim, rule *domain.BucketingRule) (*domain.Bucket, error) {
	key := s.bucketKey(claim, rule)

	bucket, err := s.bucketRepo.FindAccumulating(ctx, key)
	if err == nil {
		return bucket, nil
	}
	if !errors.Is(err, domain.ErrBucketNotFound) {
		return nil, err
	}

	bucket, err = s.createBucket(ctx, claim, rule, key)
	if errors.Is(err, domain.ErrAlreadyExists) {
		// Lost the insert race; the winner's bucket is the one we want.
		return s.bucketRepo.FindAccumulating(ctx, key)
	}
	return bucket, err
}

// bucketKey derives the grouping key for the claim under the rule. BIN_PCN
// without a BIN in the claim downgrades to PAYER_PAYEE; CUSTOM is a reserved
// hook that currently degrades the same way.
func (s *AggregatorService) bucketKey(claim *domain.Claim, rule *domain.BucketingRule) domain.BucketKey {
	key := domain.BucketKey{
		BucketingRuleID: rule.ID,
		PayerID:         util.NormalizePayerPayeeID(claim.PayerID),
		PayeeID:         util.NormalizePayerPayeeID(claim.PayeeID),
	}

	switch rule.RuleType {
	case domain.RuleTypeBinPcn:
		if claim.BINNumber == nil || *claim.BINNumber == "" {
			s.logger.Warn().
				Str("claim_id", claim.ID).
				Str("rule_id", rule.ID.String()).
				Msg("BIN_PCN rule but claim has no BIN, downgrading to payer/payee grouping")
			return key
		}
		key.BINNumber = claim.BINNumber
		key.PCNNumber = claim.PCNNumber
	case domain.RuleTypeCustom:
		// Grouping expressions are a reserved extension point.
	}
	return key
}

func (s *AggregatorService) createBucket(ctx context.Context, claim *domain.Claim, rule *domain.BucketingRule, key domain.BucketKey) (*domain.Bucket, error) {
	payer, err := s.ensurePayer(ctx, key.PayerID, claim.PayerID)
	if err != nil {
		return nil, err
	}
	payee, err := s.ensurePayee(ctx, key.PayeeID, claim.PayeeID)
	if err != nil {
		return nil, err
	}

	templateID := s.resolveTemplateID(ctx, rule.ID)
	paymentRequired := s.paymentRequired(ctx, rule.ID)

	bucket, err := s.bucketRepo.Create(ctx, &domain.Bucket{
		ID:                   uuid.New(),
		BucketingRuleID:      rule.ID,
		PayerID:              key.PayerID,
		PayerName:            payer.Name,
		PayeeID:              key.PayeeID,
		PayeeName:            payee.Name,
		BINNumber:            key.BINNumber,
		PCNNumber:            key.PCNNumber,
		Status:               domain.BucketStatusAccumulating,
		ClaimCount:           0,
		TotalAmount:          decimal.Zero,
		PaymentRequired:      paymentRequired,
		PaymentStatus:        domain.PaymentStatusNone,
		FileNamingTemplateID: templateID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("bucket_id", bucket.ID.String()).
		Str("payer_id", bucket.PayerID).
		Str("payee_id", bucket.PayeeID).
		Str("rule_id", rule.ID.String()).
		Msg("Bucket created")
	return bucket, nil
}

// ensurePayer returns the payer master row, auto-creating it from the claim
// when an administrator has not registered it yet.
func (s *AggregatorService) ensurePayer(ctx context.Context, normalizedID, rawID string) (*domain.Payer, error) {
	payer, err := s.payerRepo.GetByPayerID(ctx, normalizedID)
	if err == nil {
		return payer, nil
	}
	if !errors.Is(err, domain.ErrPayerNotFound) {
		return nil, err
	}

	s.logger.Warn().
		Str("payer_id", normalizedID).
		Msg("Payer not configured, auto-creating master record")
	created, err := s.payerRepo.Create(ctx, &domain.Payer{
		ID:          uuid.New(),
		PayerID:     normalizedID,
		Name:        friendlyName(rawID),
		IsaSenderID: util.GenerateIsaSenderID(normalizedID),
		CreatedBy:   domain.SystemAutoCreator,
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.payerRepo.GetByPayerID(ctx, normalizedID)
	}
	return created, err
}

func (s *AggregatorService) ensurePayee(ctx context.Context, normalizedID, rawID string) (*domain.Payee, error) {
	payee, err := s.payeeRepo.GetByPayeeID(ctx, normalizedID)
	if err == nil {
		return payee, nil
	}
	if !errors.Is(err, domain.ErrPayeeNotFound) {
		return nil, err
	}

	s.logger.Warn().
		Str("payee_id", normalizedID).
		Msg("Payee not configured, auto-creating master record")
	created, err := s.payeeRepo.Create(ctx, &domain.Payee{
		ID:        uuid.New(),
		PayeeID:   normalizedID,
		Name:      friendlyName(rawID),
		CreatedBy: domain.SystemAutoCreator,
	})
	if errors.Is(err, domain.ErrAlreadyExists) {
		return s.payeeRepo.GetByPayeeID(ctx, normalizedID)
	}
	return created, err
}

// resolveTemplateID prefers the rule-linked template, then the system
// default; a bucket may carry no template at all.
func (s *AggregatorService) resolveTemplateID(ctx context.Context, ruleID uuid.UUID) *uuid.UUID {
	if t, err := s.templateRepo.GetByRule(ctx, ruleID); err == nil {
		return &t.ID
	}
	if t, err := s.templateRepo.GetDefault(ctx); err == nil {
		return &t.ID
	}
	s.logger.Warn().
		Str("rule_id", ruleID.String()).
		Msg("No file naming template resolved for rule")
	return nil
}

// paymentRequired is fixed at bucket creation from the rule's commit
// criteria.
func (s *AggregatorService) paymentRequired(ctx context.Context, ruleID uuid.UUID) bool {
	rows, err := s.criteriaRepo.ListActiveByRule(ctx, ruleID)
	if err != nil || len(rows) == 0 {
		return false
	}
	return rows[0].PaymentRequired
}

// writeRejection records a REJECTED processing log in its own transaction so
// it survives the aggregation rollback.
func (s *AggregatorService) writeRejection(ctx context.Context, claim *domain.Claim, bucketID *uuid.UUID, reason string) error {
	if len(reason) > domain.MaxErrorMessageLength {
		reason = reason[:domain.MaxErrorMessageLength]
	}
	_, err := s.claimLogRepo.Create(ctx, &domain.ClaimProcessingLog{
		ID:           uuid.New(),
		ClaimID:      claim.ID,
		BucketID:     bucketID,
		PayerID:      util.NormalizePayerPayeeID(claim.PayerID),
		PayeeID:      util.NormalizePayerPayeeID(claim.PayeeID),
		Outcome:      domain.ClaimOutcomeRejected,
		Reason:       &reason,
		ChargeAmount: &claim.TotalChargeAmount,
		PaidAmount:   &claim.PaidAmount,
	})
	return err
}

func (s *AggregatorService) recordBucketError(ctx context.Context, bucketID uuid.UUID, cause error) {
	msg := cause.Error()
	if len(msg) > domain.MaxErrorMessageLength {
		msg = msg[:domain.MaxErrorMessageLength]
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		now := time.Now()
		bucket.LastErrorMessage = &msg
		bucket.LastErrorAt = &now
		return s.bucketRepo.Update(ctx, bucket)
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("bucket_id", bucketID.String()).
			Msg("Failed to record bucket error")
	}
}

func validateClaim(claim *domain.Claim) string {
	if claim.PayerID == "" {
		return "missing payer id"
	}
	if claim.PayeeID == "" {
		return "missing payee id"
	}
	if claim.PaidAmount.IsNegative() {
		return "negative paid amount"
	}
	return ""
}

// friendlyName turns a raw identifier into a readable display name for an
// auto-created master record.
func friendlyName(raw string) string {
	n := util.NormalizePayerPayeeID(raw)
	if n == "" {
		return "Unknown"
	}
	return n
}

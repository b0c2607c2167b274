package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/event"
	"github.com/pillarhealth/remit/remit-backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type managerFixture struct {
	buckets   *testutil.MockBucketRepository
	thresholds *testutil.MockThresholdRepository
	criteria  *testutil.MockCommitCriteriaRepository
	workflows *testutil.MockWorkflowConfigRepository
	manager   *BucketManager
}

func newManagerFixture() *managerFixture {
	f := &managerFixture{
		buckets:    testutil.NewMockBucketRepository(),
		thresholds: testutil.NewMockThresholdRepository(),
		criteria:   testutil.NewMockCommitCriteriaRepository(),
		workflows:  testutil.NewMockWorkflowConfigRepository(),
	}
	settings := NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{})
	f.manager = NewBucketManager(
		f.buckets, f.thresholds, f.criteria, f.workflows,
		testutil.MockTxRunner{}, event.NewBus(), settings, zerolog.Nop(),
	)
	return f
}

func accumulatingBucket(ruleID uuid.UUID, count int32, total string) *domain.Bucket {
	return &domain.Bucket{
		ID:              uuid.New(),
		BucketingRuleID: ruleID,
		PayerID:         "BCBS",
		PayerName:       "Blue Cross",
		PayeeID:         "PHR_001",
		PayeeName:       "Corner Pharmacy",
		Status:          domain.BucketStatusAccumulating,
		ClaimCount:      count,
		TotalAmount:     decimal.RequireFromString(total),
		PaymentStatus:   domain.PaymentStatusNone,
		CreatedAt:       time.Now(),
	}
}

func i32(v int32) *int32 { return &v }

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestEvaluateBucketThresholds_ClaimCountFiresAuto(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 3, "30.00")
	f.buckets.AddBucket(bucket)
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeClaimCount,
		LinkedBucketingRuleID: ruleID, MaxClaims: i32(3), IsActive: true,
	})
	f.criteria.AddCriteria(&domain.CommitCriteria{
		ID: uuid.New(), LinkedBucketingRuleID: ruleID,
		CommitMode: domain.CommitModeAuto, IsActive: true,
	})

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, domain.BucketStatusGenerating, bucket.Status)
	assert.NotNil(t, bucket.GenerationStartedAt)
}

func TestEvaluateBucketThresholds_BelowThresholdNoop(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 2, "20.00")
	f.buckets.AddBucket(bucket)
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeClaimCount,
		LinkedBucketingRuleID: ruleID, MaxClaims: i32(3), IsActive: true,
	})

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, domain.BucketStatusAccumulating, bucket.Status)
}

func TestEvaluateBucketThresholds_AmountThreshold(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 1, "600.00")
	f.buckets.AddBucket(bucket)
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeAmount,
		LinkedBucketingRuleID: ruleID, MaxAmount: dec("500.00"), IsActive: true,
	})

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, domain.BucketStatusGenerating, bucket.Status, "no criteria defaults to AUTO")
}

func TestEvaluateBucketThresholds_TimeThreshold(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 1, "10.00")
	bucket.CreatedAt = time.Now().Add(-25 * time.Hour)
	f.buckets.AddBucket(bucket)
	daily := domain.TimeDurationDaily
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeTime,
		LinkedBucketingRuleID: ruleID, TimeDuration: &daily, IsActive: true,
	})

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.True(t, moved)
}

func TestEvaluateBucketThresholds_HybridAboveApprovalAmount(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 1, "600.00")
	f.buckets.AddBucket(bucket)
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeClaimCount,
		LinkedBucketingRuleID: ruleID, MaxClaims: i32(1), IsActive: true,
	})
	f.criteria.AddCriteria(&domain.CommitCriteria{
		ID: uuid.New(), LinkedBucketingRuleID: ruleID,
		CommitMode: domain.CommitModeHybrid,
		ApprovalAmountThreshold: dec("500.00"), IsActive: true,
	})

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, domain.BucketStatusPendingApproval, bucket.Status)
	assert.NotNil(t, bucket.AwaitingApprovalSince)
}

func TestEvaluateBucketThresholds_ManualAlwaysRequiresApproval(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 1, "5.00")
	f.buckets.AddBucket(bucket)
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeClaimCount,
		LinkedBucketingRuleID: ruleID, MaxClaims: i32(1), IsActive: true,
	})
	f.criteria.AddCriteria(&domain.CommitCriteria{
		ID: uuid.New(), LinkedBucketingRuleID: ruleID,
		CommitMode: domain.CommitModeManual,
		ApprovalRoles: []string{"APPROVER"}, IsActive: true,
	})

	_, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.Equal(t, domain.BucketStatusPendingApproval, bucket.Status)
}

func TestEvaluateBucketThresholds_SkipsNonAccumulating(t *testing.T) {
	f := newManagerFixture()
	bucket := accumulatingBucket(uuid.New(), 10, "100.00")
	bucket.Status = domain.BucketStatusCompleted

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestEvaluateBucketThresholds_PaymentRequiredNoWorkflowParksBucket(t *testing.T) {
	f := newManagerFixture()
	ruleID := uuid.New()
	bucket := accumulatingBucket(ruleID, 3, "30.00")
	bucket.PaymentRequired = true
	f.buckets.AddBucket(bucket)
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeClaimCount,
		LinkedBucketingRuleID: ruleID, MaxClaims: i32(3), IsActive: true,
	})

	moved, err := f.manager.EvaluateBucketThresholds(context.Background(), bucket)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, domain.BucketStatusPendingApproval, bucket.Status,
		"payment-required bucket without auto-assignment workflow awaits a manual check")
}

func TestRequiresApproval(t *testing.T) {
	f := newManagerFixture()
	bucket := accumulatingBucket(uuid.New(), 5, "100.00")

	assert.False(t, f.manager.RequiresApproval(bucket, nil), "nil criteria defaults to AUTO")
	assert.False(t, f.manager.RequiresApproval(bucket, &domain.CommitCriteria{CommitMode: domain.CommitModeAuto}))
	assert.True(t, f.manager.RequiresApproval(bucket, &domain.CommitCriteria{CommitMode: domain.CommitModeManual}))

	assert.True(t, f.manager.RequiresApproval(bucket, &domain.CommitCriteria{
		CommitMode: domain.CommitModeHybrid, ApprovalClaimCountThreshold: i32(5),
	}), "claim count at threshold")
	assert.False(t, f.manager.RequiresApproval(bucket, &domain.CommitCriteria{
		CommitMode: domain.CommitModeHybrid, ApprovalClaimCountThreshold: i32(6),
	}))
	assert.True(t, f.manager.RequiresApproval(bucket, &domain.CommitCriteria{
		CommitMode: domain.CommitModeHybrid, ApprovalAmountThreshold: dec("100.00"),
	}))
	assert.True(t, f.manager.RequiresApproval(bucket, &domain.CommitCriteria{
		CommitMode: domain.CommitModeHybrid, ApprovalRoles: []string{"MANAGER"},
	}), "hybrid with roles set always gates")
}

func TestTransitionToGeneration_PaymentGate(t *testing.T) {
	f := newManagerFixture()
	bucket := accumulatingBucket(uuid.New(), 1, "10.00")
	bucket.Status = domain.BucketStatusPendingApproval
	bucket.PaymentRequired = true
	f.buckets.AddBucket(bucket)

	err := f.manager.TransitionToGeneration(context.Background(), bucket.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentRequired)
	assert.Equal(t, domain.BucketStatusPendingApproval, bucket.Status)
}

func TestTransitionToGeneration_InvalidFromCompleted(t *testing.T) {
	f := newManagerFixture()
	bucket := accumulatingBucket(uuid.New(), 1, "10.00")
	bucket.Status = domain.BucketStatusCompleted
	f.buckets.AddBucket(bucket)

	err := f.manager.TransitionToGeneration(context.Background(), bucket.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestMarkFailed_TruncatesMessage(t *testing.T) {
	f := newManagerFixture()
	bucket := accumulatingBucket(uuid.New(), 1, "10.00")
	bucket.Status = domain.BucketStatusGenerating
	f.buckets.AddBucket(bucket)

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	require.NoError(t, f.manager.MarkFailed(context.Background(), bucket.ID, string(long)))
	assert.Equal(t, domain.BucketStatusFailed, bucket.Status)
	assert.Len(t, *bucket.LastErrorMessage, domain.MaxErrorMessageLength)
}

func TestMarkCompleted_OnlyFromGenerating(t *testing.T) {
	f := newManagerFixture()
	bucket := accumulatingBucket(uuid.New(), 1, "10.00")
	f.buckets.AddBucket(bucket)

	err := f.manager.MarkCompleted(context.Background(), bucket.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	bucket.Status = domain.BucketStatusGenerating
	require.NoError(t, f.manager.MarkCompleted(context.Background(), bucket.ID))
	assert.Equal(t, domain.BucketStatusCompleted, bucket.Status)
	assert.NotNil(t, bucket.GenerationCompletedAt)
}

package service

import (
	"context"
	"testing"

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

type aggregatorFixture struct {
	buckets    *testutil.MockBucketRepository
	claimLogs  *testutil.MockClaimLogRepository
	payers     *testutil.MockPayerRepository
	payees     *testutil.MockPayeeRepository
	templates  *testutil.MockTemplateRepository
	criteria   *testutil.MockCommitCriteriaRepository
	thresholds *testutil.MockThresholdRepository
	svc        *AggregatorService
}

func newAggregatorFixture() *aggregatorFixture {
	f := &aggregatorFixture{
		buckets:    testutil.NewMockBucketRepository(),
		claimLogs:  testutil.NewMockClaimLogRepository(),
		payers:     testutil.NewMockPayerRepository(),
		payees:     testutil.NewMockPayeeRepository(),
		templates:  testutil.NewMockTemplateRepository(),
		criteria:   testutil.NewMockCommitCriteriaRepository(),
		thresholds: testutil.NewMockThresholdRepository(),
	}
	settings := NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{})
	manager := NewBucketManager(
		f.buckets, f.thresholds, f.criteria, testutil.NewMockWorkflowConfigRepository(),
		testutil.MockTxRunner{}, event.NewBus(), settings, zerolog.Nop(),
	)
	f.svc = NewAggregatorService(
		f.buckets, f.claimLogs, f.payers, f.payees, f.templates, f.criteria,
		manager, testutil.MockTxRunner{}, zerolog.Nop(),
	)
	return f
}

func payerPayeeRule() *domain.BucketingRule {
	return &domain.BucketingRule{
		ID:       uuid.New(),
		RuleName: "payer-payee",
		RuleType: domain.RuleTypePayerPayee,
		IsActive: true,
	}
}

func claim(id, payer, payee, paid string) *domain.Claim {
	return &domain.Claim{
		ID:                id,
		PayerID:           payer,
		PayeeID:           payee,
		TotalChargeAmount: decimal.RequireFromString(paid).Add(decimal.RequireFromString("2.50")),
		PaidAmount:        decimal.RequireFromString(paid),
		Status:            "PAID",
	}
}

func TestAggregateClaim_CreatesBucketAndAccumulates(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C1", "BCBS", "PHR-001", "10.00"), rule))
	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C2", "BCBS", "PHR-001", "10.00"), rule))

	require.Len(t, f.buckets.Buckets, 1)
	var bucket *domain.Bucket
	for _, b := range f.buckets.Buckets {
		bucket = b
	}
	assert.Equal(t, "BCBS", bucket.PayerID)
	assert.Equal(t, "PHR_001", bucket.PayeeID, "payee id is normalized")
	assert.Equal(t, int32(2), bucket.ClaimCount)
	assert.True(t, bucket.TotalAmount.Equal(decimal.RequireFromString("20.00")))

	// Invariant: claimCount matches PROCESSED logs and totalAmount their sum.
	count, _ := f.claimLogs.CountProcessedByBucket(context.Background(), bucket.ID)
	assert.Equal(t, int64(bucket.ClaimCount), count)
	sum, _ := f.claimLogs.SumPaidByBucket(context.Background(), bucket.ID)
	assert.True(t, bucket.TotalAmount.Equal(sum))
}

func TestAggregateClaim_AutoCreatesMasters(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C1", "blue-cross.il", "corner rx", "5.00"), rule))

	payer, err := f.payers.GetByPayerID(context.Background(), "BLUE_CROSS_IL")
	require.NoError(t, err)
	assert.Equal(t, domain.SystemAutoCreator, payer.CreatedBy)
	assert.Equal(t, "BLUECROSSIL", payer.IsaSenderID)

	payee, err := f.payees.GetByPayeeID(context.Background(), "CORNER_RX")
	require.NoError(t, err)
	assert.Equal(t, domain.SystemAutoCreator, payee.CreatedBy)
}

func TestAggregateClaim_RejectsInvalidClaim(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()

	bad := claim("C1", "", "PHR-001", "10.00")
	require.NoError(t, f.svc.AggregateClaim(context.Background(), bad, rule))

	rejected := f.claimLogs.Rejected()
	require.Len(t, rejected, 1)
	assert.Equal(t, "missing payer id", *rejected[0].Reason)
	assert.Empty(t, f.buckets.Buckets, "no bucket for a rejected claim")
}

func TestAggregateClaim_RejectsNegativeAmount(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()

	bad := claim("C1", "BCBS", "PHR-001", "10.00")
	bad.PaidAmount = decimal.RequireFromString("-1.00")
	require.NoError(t, f.svc.AggregateClaim(context.Background(), bad, rule))

	require.Len(t, f.claimLogs.Rejected(), 1)
}

func TestAggregateClaim_BinPcnGrouping(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()
	rule.RuleType = domain.RuleTypeBinPcn

	bin1, bin2 := "610014", "004336"
	c1 := claim("C1", "BCBS", "PHR-001", "10.00")
	c1.BINNumber = &bin1
	c2 := claim("C2", "BCBS", "PHR-001", "10.00")
	c2.BINNumber = &bin2

	require.NoError(t, f.svc.AggregateClaim(context.Background(), c1, rule))
	require.NoError(t, f.svc.AggregateClaim(context.Background(), c2, rule))

	assert.Len(t, f.buckets.Buckets, 2, "distinct BINs land in distinct buckets")
}

func TestAggregateClaim_BinPcnWithoutBinDowngrades(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()
	rule.RuleType = domain.RuleTypeBinPcn

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C1", "BCBS", "PHR-001", "10.00"), rule))

	require.Len(t, f.buckets.Buckets, 1)
	for _, b := range f.buckets.Buckets {
		assert.Nil(t, b.BINNumber, "downgraded bucket carries no BIN")
	}
}

func TestAggregateClaim_ThresholdFiresAfterThirdClaim(t *testing.T) {
	// Scenario S1: CLAIM_COUNT threshold of 3 with AUTO commit.
	f := newAggregatorFixture()
	rule := payerPayeeRule()
	f.thresholds.AddThreshold(&domain.GenerationThreshold{
		ID: uuid.New(), ThresholdType: domain.ThresholdTypeClaimCount,
		LinkedBucketingRuleID: rule.ID, MaxClaims: i32(3), IsActive: true,
	})
	f.criteria.AddCriteria(&domain.CommitCriteria{
		ID: uuid.New(), LinkedBucketingRuleID: rule.ID,
		CommitMode: domain.CommitModeAuto, IsActive: true,
	})

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C1", "BCBS", "PHR_001", "10.00"), rule))
	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C2", "BCBS", "PHR_001", "10.00"), rule))

	for _, b := range f.buckets.Buckets {
		assert.Equal(t, domain.BucketStatusAccumulating, b.Status)
	}

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C3", "BCBS", "PHR_001", "10.00"), rule))

	for _, b := range f.buckets.Buckets {
		assert.Equal(t, domain.BucketStatusGenerating, b.Status)
		assert.True(t, b.TotalAmount.Equal(decimal.RequireFromString("30.00")))
	}
}

func TestAggregateClaim_PaymentRequiredFixedAtCreation(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()
	f.criteria.AddCriteria(&domain.CommitCriteria{
		ID: uuid.New(), LinkedBucketingRuleID: rule.ID,
		CommitMode: domain.CommitModeAuto, PaymentRequired: true, IsActive: true,
	})

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C1", "BCBS", "PHR_001", "10.00"), rule))
	for _, b := range f.buckets.Buckets {
		assert.True(t, b.PaymentRequired)
	}
}

func TestAggregateClaim_AttachesRuleTemplate(t *testing.T) {
	f := newAggregatorFixture()
	rule := payerPayeeRule()
	tmplID := uuid.New()
	f.templates.AddTemplate(&domain.FileNamingTemplate{
		ID: tmplID, TemplateName: "rule", TemplatePattern: "{payerId}.835",
		CaseConversion: domain.CaseConversionNone, LinkedBucketingRuleID: &rule.ID,
	})

	require.NoError(t, f.svc.AggregateClaim(context.Background(), claim("C1", "BCBS", "PHR_001", "10.00"), rule))
	for _, b := range f.buckets.Buckets {
		require.NotNil(t, b.FileNamingTemplateID)
		assert.Equal(t, tmplID, *b.FileNamingTemplateID)
	}
}

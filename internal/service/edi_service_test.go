package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/edi"
	"github.com/pillarhealth/remit/remit-backend/internal/event"
	"github.com/pillarhealth/remit/remit-backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ediFixture struct {
	buckets   *testutil.MockBucketRepository
	claimLogs *testutil.MockClaimLogRepository
	payers    *testutil.MockPayerRepository
	payees    *testutil.MockPayeeRepository
	checks    *testutil.MockCheckPaymentRepository
	files     *testutil.MockFileHistoryRepository
	templates *testutil.MockTemplateRepository
	svc       *EdiService
}

func newEdiFixture() *ediFixture {
	f := &ediFixture{
		buckets:   testutil.NewMockBucketRepository(),
		claimLogs: testutil.NewMockClaimLogRepository(),
		payers:    testutil.NewMockPayerRepository(),
		payees:    testutil.NewMockPayeeRepository(),
		checks:    testutil.NewMockCheckPaymentRepository(),
		files:     testutil.NewMockFileHistoryRepository(),
		templates: testutil.NewMockTemplateRepository(),
	}
	settings := NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{})
	manager := NewBucketManager(
		f.buckets, testutil.NewMockThresholdRepository(),
		testutil.NewMockCommitCriteriaRepository(), testutil.NewMockWorkflowConfigRepository(),
		testutil.MockTxRunner{}, event.NewBus(), settings, zerolog.Nop(),
	)
	fileNames := NewFileNameService(f.templates, testutil.NewMockSequenceRepository(),
		testutil.MockTxRunner{}, zerolog.Nop())
	f.svc = NewEdiService(
		f.buckets, f.claimLogs, f.payers, f.payees, f.checks, f.files,
		fileNames, edi.NewWriter(), manager, testutil.MockTxRunner{}, false, zerolog.Nop(),
	)
	return f
}

func (f *ediFixture) seedGeneratingBucket() *domain.Bucket {
	bucket := &domain.Bucket{
		ID:              uuid.New(),
		BucketingRuleID: uuid.New(),
		PayerID:         "BCBS",
		PayerName:       "Blue Cross",
		PayeeID:         "PHR_001",
		PayeeName:       "Corner Pharmacy",
		Status:          domain.BucketStatusGenerating,
		ClaimCount:      2,
		TotalAmount:     decimal.RequireFromString("30.00"),
		CreatedAt:       time.Now(),
	}
	f.buckets.AddBucket(bucket)

	f.payers.AddPayer(&domain.Payer{
		ID: uuid.New(), PayerID: "BCBS", Name: "Blue Cross", IsaSenderID: "BCBS",
	})
	f.payees.AddPayee(&domain.Payee{
		ID: uuid.New(), PayeeID: "PHR_001", Name: "Corner Pharmacy",
	})

	for _, c := range []struct {
		id   string
		paid string
	}{{"RX1", "10.00"}, {"RX2", "20.00"}} {
		charge := decimal.RequireFromString(c.paid).Add(decimal.RequireFromString("1.00"))
		paid := decimal.RequireFromString(c.paid)
		f.claimLogs.Logs = append(f.claimLogs.Logs, &domain.ClaimProcessingLog{
			ID: uuid.New(), ClaimID: c.id, BucketID: &bucket.ID,
			PayerID: "BCBS", PayeeID: "PHR_001",
			Outcome: domain.ClaimOutcomeProcessed,
			ChargeAmount: &charge, PaidAmount: &paid,
			ProcessedAt: time.Now(),
		})
	}
	return bucket
}

func TestGenerateForBucket(t *testing.T) {
	f := newEdiFixture()
	bucket := f.seedGeneratingBucket()

	require.NoError(t, f.svc.GenerateForBucket(context.Background(), bucket.ID))

	assert.Equal(t, domain.BucketStatusCompleted, bucket.Status)
	assert.NotNil(t, bucket.GenerationCompletedAt)

	files, _ := f.files.ListByBucket(context.Background(), bucket.ID)
	require.Len(t, files, 1)
	file := files[0]
	assert.Equal(t, domain.DeliveryStatusPending, file.DeliveryStatus)
	assert.Equal(t, int32(2), file.ClaimCount)
	assert.True(t, file.TotalAmount.Equal(bucket.TotalAmount))
	assert.Equal(t, int64(len(file.FileContent)), file.FileSize)

	content := string(file.FileContent)
	assert.True(t, strings.HasPrefix(content, "ISA*00*"))
	assert.Contains(t, content, "BPR*I*3000*", "BPR02 carries the total in cents")
	assert.Contains(t, content, "CLP*RX1*1*1100*1000")
	assert.Contains(t, content, "CLP*RX2*1*2100*2000")
	assert.Contains(t, content, "ST*835*0001")
}

func TestGenerateForBucket_NoopWhenNotGenerating(t *testing.T) {
	f := newEdiFixture()
	bucket := f.seedGeneratingBucket()
	bucket.Status = domain.BucketStatusCompleted

	require.NoError(t, f.svc.GenerateForBucket(context.Background(), bucket.ID))
	files, _ := f.files.ListByBucket(context.Background(), bucket.ID)
	assert.Empty(t, files, "duplicate events must not produce duplicate files")
}

func TestGenerateForBucket_EmptyBucketFails(t *testing.T) {
	f := newEdiFixture()
	bucket := f.seedGeneratingBucket()
	f.claimLogs.Logs = nil

	err := f.svc.GenerateForBucket(context.Background(), bucket.ID)
	require.Error(t, err)
	assert.Equal(t, domain.BucketStatusFailed, bucket.Status)
	require.NotNil(t, bucket.LastErrorMessage)
	assert.Contains(t, *bucket.LastErrorMessage, "no processed claims")
}

func TestGenerateForBucket_UsesCheckNumberInTrace(t *testing.T) {
	f := newEdiFixture()
	bucket := f.seedGeneratingBucket()

	payment := &domain.CheckPayment{
		ID: uuid.New(), BucketID: bucket.ID, CheckNumber: "1003",
		CheckAmount: bucket.TotalAmount, CheckDate: time.Now(),
		Status: domain.CheckPaymentStatusAssigned, AssignedBy: "ops", AssignedAt: time.Now(),
	}
	f.checks.AddPayment(payment)
	bucket.CheckPaymentID = &payment.ID
	bucket.PaymentStatus = domain.PaymentStatusAssigned

	require.NoError(t, f.svc.GenerateForBucket(context.Background(), bucket.ID))

	files, _ := f.files.ListByBucket(context.Background(), bucket.ID)
	require.Len(t, files, 1)
	assert.Contains(t, string(files[0].FileContent), "TRN*1*1003*")
}

func TestHandleStatusChange_IgnoresOtherStatuses(t *testing.T) {
	f := newEdiFixture()
	bucket := f.seedGeneratingBucket()
	bucket.Status = domain.BucketStatusAccumulating

	f.svc.HandleStatusChange(domain.BucketStatusChangeEvent{
		BucketID:  bucket.ID,
		NewStatus: domain.BucketStatusPendingApproval,
	})
	files, _ := f.files.ListByBucket(context.Background(), bucket.ID)
	assert.Empty(t, files)
}

func TestControlNumbers_NineDigits(t *testing.T) {
	f := newEdiFixture()
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		n := f.svc.nextControlNumber()
		assert.Len(t, n, 9)
		assert.False(t, seen[n], "control numbers must not repeat")
		seen[n] = true
	}
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paymentFixture struct {
	checks       *testutil.MockCheckPaymentRepository
	audits       *testutil.MockCheckAuditRepository
	buckets      *testutil.MockBucketRepository
	payers       *testutil.MockPayerRepository
	reservations *testutil.MockReservationRepository
	svc          *CheckPaymentService
}

type fakeTrigger struct {
	calls []uuid.UUID
	err   error
}

func (f *fakeTrigger) TransitionToGeneration(_ context.Context, bucketID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, bucketID)
	return nil
}

func newPaymentFixture(separateTx bool) (*paymentFixture, *fakeTrigger) {
	f := &paymentFixture{
		checks:       testutil.NewMockCheckPaymentRepository(),
		audits:       testutil.NewMockCheckAuditRepository(),
		buckets:      testutil.NewMockBucketRepository(),
		payers:       testutil.NewMockPayerRepository(),
		reservations: testutil.NewMockReservationRepository(),
	}
	settings := NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{
		CheckPayment: config.CheckPaymentConfig{VoidTimeLimitHours: 72, LowStockAlertThreshold: 1},
	})
	resSvc := NewReservationService(f.reservations, settings, testutil.MockTxRunner{}, separateTx, zerolog.Nop())
	f.svc = NewCheckPaymentService(
		f.checks, f.audits, f.buckets, f.payers, resSvc, settings,
		testutil.MockTxRunner{}, zerolog.Nop(),
	)
	trigger := &fakeTrigger{}
	f.svc.SetGenerationTrigger(trigger)
	return f, trigger
}

func pendingApprovalBucket(payerID string) *domain.Bucket {
	return &domain.Bucket{
		ID:              uuid.New(),
		BucketingRuleID: uuid.New(),
		PayerID:         payerID,
		PayerName:       "Payer",
		PayeeID:         "PHR_001",
		PayeeName:       "Pharmacy",
		Status:          domain.BucketStatusPendingApproval,
		ClaimCount:      2,
		TotalAmount:     decimal.RequireFromString("45.50"),
		PaymentRequired: true,
		PaymentStatus:   domain.PaymentStatusNone,
	}
}

func TestAssignCheckManually(t *testing.T) {
	f, trigger := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	payment, err := f.svc.AssignCheckManually(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90001",
		CheckDate:   time.Now(),
		PerformedBy: "ops",
	})
	require.NoError(t, err)

	assert.Equal(t, domain.CheckPaymentStatusAssigned, payment.Status)
	assert.True(t, payment.CheckAmount.Equal(bucket.TotalAmount), "amount defaults to the bucket total")
	assert.Equal(t, domain.PaymentStatusAssigned, bucket.PaymentStatus)
	require.NotNil(t, bucket.CheckPaymentID)
	assert.Empty(t, trigger.calls, "unapproved bucket does not trigger generation")

	audits, _ := f.audits.ListByPayment(context.Background(), payment.ID)
	require.Len(t, audits, 1)
	assert.Equal(t, domain.CheckAuditActionAssigned, audits[0].Action)
}

func TestAssignCheckManually_ApprovedBucketTriggersGeneration(t *testing.T) {
	f, trigger := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	approver := "manager"
	now := time.Now()
	bucket.ApprovedBy = &approver
	bucket.ApprovedAt = &now
	f.buckets.AddBucket(bucket)

	_, err := f.svc.AssignCheckManually(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90001",
		PerformedBy: "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bucket.ID}, trigger.calls)
}

func TestAssignCheckManually_WrongState(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	bucket.Status = domain.BucketStatusAccumulating
	f.buckets.AddBucket(bucket)

	_, err := f.svc.AssignCheckManually(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90001",
		PerformedBy: "ops",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAssignCheckAutomatically(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	payer := &domain.Payer{ID: uuid.New(), PayerID: "BCBS", Name: "Blue Cross"}
	f.payers.AddPayer(payer)
	f.reservations.AddReservation(&domain.CheckReservation{
		ID: uuid.New(), PayerID: payer.ID,
		CheckNumberStart: "1001", CheckNumberEnd: "1005",
		TotalChecks: 5, ChecksUsed: 2,
		Status: domain.ReservationStatusActive, BankName: "First National",
	})

	payment, err := f.svc.AssignCheckAutomaticallyFromBucket(context.Background(), bucket.ID, "SYSTEM_AUTO")
	require.NoError(t, err)
	assert.Equal(t, "1003", payment.CheckNumber)
	assert.Equal(t, domain.PaymentStatusAssigned, bucket.PaymentStatus)
}

func TestAssignCheckAutomatically_NoChecks(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)
	f.payers.AddPayer(&domain.Payer{ID: uuid.New(), PayerID: "BCBS", Name: "Blue Cross"})

	_, err := f.svc.AssignCheckAutomaticallyFromBucket(context.Background(), bucket.ID, "SYSTEM_AUTO")
	assert.ErrorIs(t, err, domain.ErrNoAvailableChecks)
}

func TestAssignCheckAutomatically_CompensatesAfterPersistFailure(t *testing.T) {
	// Scenario S3: reservation increments in its own transaction, then the
	// payment persist fails; the reserved number must be released.
	f, _ := newPaymentFixture(true)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	payer := &domain.Payer{ID: uuid.New(), PayerID: "BCBS", Name: "Blue Cross"}
	f.payers.AddPayer(payer)
	res := &domain.CheckReservation{
		ID: uuid.New(), PayerID: payer.ID,
		CheckNumberStart: "1001", CheckNumberEnd: "1005",
		TotalChecks: 5, ChecksUsed: 2,
		Status: domain.ReservationStatusActive, BankName: "First National",
	}
	f.reservations.AddReservation(res)

	f.checks.CreateFn = func(*domain.CheckPayment) (*domain.CheckPayment, error) {
		return nil, errors.New("constraint violation")
	}

	_, err := f.svc.AssignCheckAutomaticallyFromBucket(context.Background(), bucket.ID, "SYSTEM_AUTO")
	require.ErrorIs(t, err, domain.ErrCheckAssignment)

	assert.Equal(t, int32(2), res.ChecksUsed, "checksUsed restored to the pre-reservation value")

	for _, e := range f.audits.Entries {
		assert.NotEqual(t, domain.CheckAuditActionAssigned, e.Action,
			"no ASSIGNED audit survives a failed assignment")
	}
}

func TestCheckLifecycle_AcknowledgeIssueVoid(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	payment, err := f.svc.AssignCheckManually(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90001", PerformedBy: "ops",
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.AcknowledgeCheck(context.Background(), payment.ID, "clerk"))
	assert.Equal(t, domain.CheckPaymentStatusAcknowledged, payment.Status)
	assert.Equal(t, domain.PaymentStatusAcknowledged, bucket.PaymentStatus)

	require.NoError(t, f.svc.MarkCheckIssued(context.Background(), payment.ID, "treasurer"))
	assert.Equal(t, domain.CheckPaymentStatusIssued, payment.Status)

	require.NoError(t, f.svc.VoidCheck(context.Background(), payment.ID, "printed badly", "treasurer"))
	assert.Equal(t, domain.CheckPaymentStatusVoid, payment.Status)
	assert.Equal(t, "printed badly", *payment.VoidReason)
}

func TestCheckLifecycle_SkippingStatesFails(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	payment, err := f.svc.AssignCheckManually(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90001", PerformedBy: "ops",
	})
	require.NoError(t, err)

	err = f.svc.MarkCheckIssued(context.Background(), payment.ID, "treasurer")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "cannot issue before acknowledgment")

	err = f.svc.VoidCheck(context.Background(), payment.ID, "nope", "treasurer")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "void only from ISSUED")
}

func TestVoidCheck_WindowExpired(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	issuedAt := time.Now().Add(-100 * time.Hour)
	payment := &domain.CheckPayment{
		ID: uuid.New(), BucketID: bucket.ID, CheckNumber: "90001",
		CheckAmount: bucket.TotalAmount, CheckDate: issuedAt,
		Status: domain.CheckPaymentStatusIssued, AssignedBy: "ops",
		AssignedAt: issuedAt, IssuedAt: &issuedAt,
	}
	f.checks.AddPayment(payment)

	err := f.svc.VoidCheck(context.Background(), payment.ID, "late", "treasurer")
	assert.ErrorIs(t, err, domain.ErrVoidWindowExpired)
}

func TestReplaceCheck(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	f.buckets.AddBucket(bucket)

	payment, err := f.svc.AssignCheckManually(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90001", PerformedBy: "ops",
	})
	require.NoError(t, err)

	replaced, err := f.svc.ReplaceCheck(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90002", PerformedBy: "ops", Notes: "misprint",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.ID, replaced.ID, "the unique bucket row is updated in place")
	assert.Equal(t, "90002", replaced.CheckNumber)

	audits, _ := f.audits.ListByPayment(context.Background(), payment.ID)
	require.Len(t, audits, 3)
	assert.Equal(t, domain.CheckAuditActionVoid, audits[1].Action)
	assert.Equal(t, domain.CheckAuditActionAssigned, audits[2].Action)
}

func TestReplaceCheck_RequiresAssignedState(t *testing.T) {
	f, _ := newPaymentFixture(false)
	bucket := pendingApprovalBucket("BCBS")
	bucket.PaymentStatus = domain.PaymentStatusAcknowledged
	f.buckets.AddBucket(bucket)

	_, err := f.svc.ReplaceCheck(context.Background(), bucket.ID, ManualCheckInput{
		CheckNumber: "90002", PerformedBy: "ops",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

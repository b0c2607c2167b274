package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReservationFixture(separate bool) (*testutil.MockReservationRepository, *ReservationService) {
	repo := testutil.NewMockReservationRepository()
	settings := NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{
		CheckPayment: config.CheckPaymentConfig{LowStockAlertThreshold: 2},
	})
	svc := NewReservationService(repo, settings, testutil.MockTxRunner{}, separate, zerolog.Nop())
	return repo, svc
}

func seedReservation(repo *testutil.MockReservationRepository, payerID uuid.UUID, start, end string, used int32) *domain.CheckReservation {
	startNum := domain.CheckNumberNumericPart(start)
	endNum := domain.CheckNumberNumericPart(end)
	r := &domain.CheckReservation{
		ID:               uuid.New(),
		PayerID:          payerID,
		CheckNumberStart: start,
		CheckNumberEnd:   end,
		TotalChecks:      int32(endNum - startNum + 1),
		ChecksUsed:       used,
		Status:           domain.ReservationStatusActive,
		BankName:         "First National",
	}
	repo.AddReservation(r)
	return r
}

func TestCreateReservation_ComputesTotal(t *testing.T) {
	_, svc := newReservationFixture(false)

	created, err := svc.CreateReservation(context.Background(), CreateReservationInput{
		PayerID:          uuid.New(),
		CheckNumberStart: "1001",
		CheckNumberEnd:   "1005",
		BankName:         "First National",
		CreatedBy:        "ops",
	})
	require.NoError(t, err)
	assert.Equal(t, int32(5), created.TotalChecks)
	assert.Equal(t, domain.ReservationStatusActive, created.Status)
}

func TestCreateReservation_RejectsOverlap(t *testing.T) {
	repo, svc := newReservationFixture(false)
	payerID := uuid.New()
	seedReservation(repo, payerID, "1001", "1005", 0)

	_, err := svc.CreateReservation(context.Background(), CreateReservationInput{
		PayerID:          payerID,
		CheckNumberStart: "1004",
		CheckNumberEnd:   "1010",
		BankName:         "First National",
	})
	assert.ErrorIs(t, err, domain.ErrOverlappingRange)
}

func TestCreateReservation_AllowsOverlapForOtherPayer(t *testing.T) {
	repo, svc := newReservationFixture(false)
	seedReservation(repo, uuid.New(), "1001", "1005", 0)

	_, err := svc.CreateReservation(context.Background(), CreateReservationInput{
		PayerID:          uuid.New(),
		CheckNumberStart: "1001",
		CheckNumberEnd:   "1005",
		BankName:         "First National",
	})
	assert.NoError(t, err)
}

func TestGetAndReserveNextCheck_SequentialNumbers(t *testing.T) {
	repo, svc := newReservationFixture(false)
	payerID := uuid.New()
	res := seedReservation(repo, payerID, "1001", "1005", 2)

	info, err := svc.GetAndReserveNextCheck(context.Background(), payerID, nil)
	require.NoError(t, err)
	assert.Equal(t, "1003", info.CheckNumber)
	assert.Equal(t, res.ID, info.ReservationID)
	assert.Equal(t, int32(3), res.ChecksUsed)
}

func TestGetAndReserveNextCheck_PreservesPrefixAndWidth(t *testing.T) {
	repo, svc := newReservationFixture(false)
	payerID := uuid.New()
	seedReservation(repo, payerID, "CHK0101", "CHK0110", 0)

	info, err := svc.GetAndReserveNextCheck(context.Background(), payerID, nil)
	require.NoError(t, err)
	assert.Equal(t, "CHK0101", info.CheckNumber)

	info, err = svc.GetAndReserveNextCheck(context.Background(), payerID, nil)
	require.NoError(t, err)
	assert.Equal(t, "CHK0102", info.CheckNumber)
}

func TestGetAndReserveNextCheck_ExhaustsReservation(t *testing.T) {
	repo, svc := newReservationFixture(false)
	payerID := uuid.New()
	res := seedReservation(repo, payerID, "1001", "1002", 1)

	_, err := svc.GetAndReserveNextCheck(context.Background(), payerID, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationStatusExhausted, res.Status)
	assert.Equal(t, res.TotalChecks, res.ChecksUsed)

	_, err = svc.GetAndReserveNextCheck(context.Background(), payerID, nil)
	assert.ErrorIs(t, err, domain.ErrNoAvailableChecks)
}

func TestGetAndReserveNextCheck_NoReservation(t *testing.T) {
	_, svc := newReservationFixture(false)

	_, err := svc.GetAndReserveNextCheck(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, domain.ErrNoAvailableChecks)
}

func TestReleaseReservedCheck_SeparateModeDecrements(t *testing.T) {
	repo, svc := newReservationFixture(true)
	payerID := uuid.New()
	res := seedReservation(repo, payerID, "1001", "1005", 2)

	info, err := svc.GetAndReserveNextCheck(context.Background(), payerID, nil)
	require.NoError(t, err)
	require.Equal(t, int32(3), res.ChecksUsed)

	require.NoError(t, svc.ReleaseReservedCheck(context.Background(), info.CheckNumber, info.ReservationID, "outer failed"))
	assert.Equal(t, int32(2), res.ChecksUsed, "compensation restores the pre-reservation count")
}

func TestReleaseReservedCheck_ReactivatesExhausted(t *testing.T) {
	repo, svc := newReservationFixture(true)
	payerID := uuid.New()
	res := seedReservation(repo, payerID, "1001", "1002", 2)
	res.Status = domain.ReservationStatusExhausted

	require.NoError(t, svc.ReleaseReservedCheck(context.Background(), "1002", res.ID, "outer failed"))
	assert.Equal(t, domain.ReservationStatusActive, res.Status)
	assert.Equal(t, int32(1), res.ChecksUsed)
}

func TestReleaseReservedCheck_OuterTxModeIsNoop(t *testing.T) {
	repo, svc := newReservationFixture(false)
	payerID := uuid.New()
	res := seedReservation(repo, payerID, "1001", "1005", 3)

	require.NoError(t, svc.ReleaseReservedCheck(context.Background(), "1003", res.ID, "rollback cascades"))
	assert.Equal(t, int32(3), res.ChecksUsed, "in-transaction mode relies on the outer rollback")
}

func TestCancelReservation(t *testing.T) {
	repo, svc := newReservationFixture(false)
	payerID := uuid.New()
	unused := seedReservation(repo, payerID, "1001", "1005", 0)
	used := seedReservation(repo, payerID, "2001", "2005", 1)

	require.NoError(t, svc.CancelReservation(context.Background(), unused.ID, "ops"))
	assert.Equal(t, domain.ReservationStatusCancelled, unused.Status)

	err := svc.CancelReservation(context.Background(), used.ID, "ops")
	assert.ErrorIs(t, err, domain.ErrReservationInUse)
}

func TestNextCheckNumber(t *testing.T) {
	assert.Equal(t, "1003", nextCheckNumber("1001", 2))
	assert.Equal(t, "CHK0105", nextCheckNumber("CHK0101", 4))
	assert.Equal(t, "A10", nextCheckNumber("A09", 1))
}

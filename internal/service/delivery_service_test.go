package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/crypto"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deliveryFixture struct {
	files    *testutil.MockFileHistoryRepository
	buckets  *testutil.MockBucketRepository
	payers   *testutil.MockPayerRepository
	uploader *testutil.MockUploader
	svc      *DeliveryService
	slept    []time.Duration
}

func newDeliveryFixture(t *testing.T, maxRetries int) *deliveryFixture {
	t.Helper()
	f := &deliveryFixture{
		files:    testutil.NewMockFileHistoryRepository(),
		buckets:  testutil.NewMockBucketRepository(),
		payers:   testutil.NewMockPayerRepository(),
		uploader: &testutil.MockUploader{},
	}
	settings := NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{
		Delivery: config.DeliveryConfig{Enabled: true, AutoRetry: true, MaxRetries: maxRetries, BatchSize: 10},
	})
	enc, err := crypto.New("", "")
	require.NoError(t, err)
	f.svc = NewDeliveryService(f.files, f.buckets, f.payers, f.uploader, enc, settings, zerolog.Nop())
	f.svc.sleep = func(d time.Duration) { f.slept = append(f.slept, d) }
	return f
}

func (f *deliveryFixture) seedDeliverable() *domain.FileGenerationHistory {
	host, port, user, pass, path := "sftp.payer.example", int32(22), "remit", "secret", "/inbound/"
	payer := &domain.Payer{
		ID: uuid.New(), PayerID: "BCBS", Name: "Blue Cross",
		SftpHost: &host, SftpPort: &port, SftpUsername: &user,
		SftpPassword: &pass, SftpPath: &path,
	}
	f.payers.AddPayer(payer)

	bucket := &domain.Bucket{
		ID: uuid.New(), PayerID: "BCBS", PayeeID: "PHR_001",
		Status: domain.BucketStatusCompleted,
		TotalAmount: decimal.RequireFromString("30.00"),
	}
	f.buckets.AddBucket(bucket)

	file := &domain.FileGenerationHistory{
		ID:                uuid.New(),
		BucketID:          bucket.ID,
		GeneratedFileName: "BCBS_PHR_001.835",
		FileContent:       []byte("ISA*00*..."),
		FileSize:          10,
		ClaimCount:        3,
		TotalAmount:       bucket.TotalAmount,
		GeneratedBy:       "SYSTEM",
		DeliveryStatus:    domain.DeliveryStatusPending,
	}
	f.files.AddFile(file)
	return file
}

func TestDeliverFile_Success(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()

	require.NoError(t, f.svc.DeliverFile(context.Background(), file.ID))

	assert.Equal(t, domain.DeliveryStatusDelivered, file.DeliveryStatus)
	assert.Equal(t, int32(1), file.RetryCount)
	assert.NotNil(t, file.DeliveredAt)
	assert.Equal(t, []string{"BCBS_PHR_001.835"}, f.uploader.Uploaded)
	assert.Empty(t, f.slept)
}

func TestDeliverFile_RetriesWithExponentialBackoff(t *testing.T) {
	// Scenario S5: two failures, then success, maxRetries = 3.
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()
	f.uploader.FailuresRemaining = 2

	require.NoError(t, f.svc.DeliverFile(context.Background(), file.ID))

	assert.Equal(t, domain.DeliveryStatusDelivered, file.DeliveryStatus)
	assert.Equal(t, int32(3), file.RetryCount)
	require.Len(t, f.slept, 2)
	assert.Equal(t, 5*time.Second, f.slept[0])
	assert.Equal(t, 10*time.Second, f.slept[1])
}

func TestDeliverFile_ExhaustsRetries(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()
	f.uploader.FailuresRemaining = 10

	err := f.svc.DeliverFile(context.Background(), file.ID)
	require.Error(t, err)

	assert.Equal(t, domain.DeliveryStatusFailed, file.DeliveryStatus)
	assert.Equal(t, int32(3), file.RetryCount)
	require.NotNil(t, file.ErrorMessage)
	assert.Contains(t, *file.ErrorMessage, "connection reset")
}

func TestDeliverFile_AlreadyDeliveredIsNoop(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()
	file.DeliveryStatus = domain.DeliveryStatusDelivered

	require.NoError(t, f.svc.DeliverFile(context.Background(), file.ID))
	assert.Empty(t, f.uploader.Uploaded, "no upload for an already-delivered file")
	assert.Equal(t, int32(0), file.RetryCount)
}

func TestDeliverFile_MissingSftpConfig(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()
	payer, _ := f.payers.GetByPayerID(context.Background(), "BCBS")
	payer.SftpHost = nil

	err := f.svc.DeliverFile(context.Background(), file.ID)
	require.Error(t, err)

	assert.Equal(t, domain.DeliveryStatusFailed, file.DeliveryStatus)
	require.NotNil(t, file.ErrorMessage)
	assert.Equal(t, "No SFTP configuration", *file.ErrorMessage)
	assert.Empty(t, f.uploader.Uploaded)
}

func TestProcessPendingDeliveries_ContinuesPastFailures(t *testing.T) {
	f := newDeliveryFixture(t, 1)
	good := f.seedDeliverable()

	// A second file whose payer has no SFTP endpoint.
	orphanBucket := &domain.Bucket{ID: uuid.New(), PayerID: "NOCFG", PayeeID: "PHR_001"}
	f.buckets.AddBucket(orphanBucket)
	f.payers.AddPayer(&domain.Payer{ID: uuid.New(), PayerID: "NOCFG", Name: "No Config"})
	bad := &domain.FileGenerationHistory{
		ID: uuid.New(), BucketID: orphanBucket.ID,
		GeneratedFileName: "NOCFG.835", FileContent: []byte("x"),
		DeliveryStatus: domain.DeliveryStatusPending,
	}
	f.files.AddFile(bad)

	delivered, err := f.svc.ProcessPendingDeliveries(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, delivered)
	assert.Equal(t, domain.DeliveryStatusDelivered, good.DeliveryStatus)
	assert.Equal(t, domain.DeliveryStatusFailed, bad.DeliveryStatus)
}

func TestRetryFailedDeliveries_SkipsExhausted(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()
	file.DeliveryStatus = domain.DeliveryStatusFailed
	file.RetryCount = 3

	delivered, err := f.svc.RetryFailedDeliveries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, delivered, "files at the retry cap stay failed")

	file.RetryCount = 1
	delivered, err = f.svc.RetryFailedDeliveries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestMarkAsDelivered_ManualOverride(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	file := f.seedDeliverable()
	file.DeliveryStatus = domain.DeliveryStatusFailed

	require.NoError(t, f.svc.MarkAsDelivered(context.Background(), file.ID, "operator"))

	assert.Equal(t, domain.DeliveryStatusDelivered, file.DeliveryStatus)
	require.NotNil(t, file.DeliveredBy)
	assert.Equal(t, "operator (manual)", *file.DeliveredBy)
}

func TestValidateSftpConfig(t *testing.T) {
	f := newDeliveryFixture(t, 3)
	f.seedDeliverable()

	assert.NoError(t, f.svc.ValidateSftpConfig(context.Background(), "BCBS"))

	payer, _ := f.payers.GetByPayerID(context.Background(), "BCBS")
	payer.SftpUsername = nil
	assert.ErrorIs(t, f.svc.ValidateSftpConfig(context.Background(), "BCBS"), domain.ErrMissingSftpConfig)
}

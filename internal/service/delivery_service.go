package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/crypto"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/sftpx"
	"github.com/rs/zerolog"
)

const deliveryBackoffBase = 5 * time.Second

// DeliveryService moves generated files to the payer's SFTP endpoint with
// bounded retry and exponential backoff, and backs the scheduled sweepers
// for pending and failed deliveries.
type DeliveryService struct {
	historyRepo domain.FileHistoryRepository
	bucketRepo  domain.BucketRepository
	payerRepo   domain.PayerRepository
	uploader    sftpx.Uploader
	encryptor   crypto.Encryptor
	settings    *SettingsService
	logger      zerolog.Logger

	// sleep is a seam for tests; production uses the real clock.
	sleep func(d time.Duration)
}

// NewDeliveryService creates a new DeliveryService.
func NewDeliveryService(
	historyRepo domain.FileHistoryRepository,
	bucketRepo domain.BucketRepository,
	payerRepo domain.PayerRepository,
	uploader sftpx.Uploader,
	encryptor crypto.Encryptor,
	settings *SettingsService,
	logger zerolog.Logger,
) *DeliveryService {
	return &DeliveryService{
		historyRepo: historyRepo,
		bucketRepo:  bucketRepo,
		payerRepo:   payerRepo,
		uploader:    uploader,
		encryptor:   encryptor,
		settings:    settings,
		logger:      logger.With().Str("component", "delivery_engine").Logger(),
		sleep:       time.Sleep,
	}
}

// HandleStatusChange is the event-bus subscription entry: a COMPLETED bucket
// has its freshly generated file delivered immediately when delivery is
// enabled.
func (s *DeliveryService) HandleStatusChange(evt domain.BucketStatusChangeEvent) {
	if evt.NewStatus != domain.BucketStatusCompleted {
		return
	}
	ctx := context.Background()
	if !s.settings.DeliveryEnabled(ctx) {
		return
	}
	files, err := s.historyRepo.ListByBucket(ctx, evt.BucketID)
	if err != nil || len(files) == 0 {
		if err != nil {
			s.logger.Error().Err(err).
				Str("bucket_id", evt.BucketID.String()).
				Msg("Could not load files for completed bucket")
		}
		return
	}
	if err := s.DeliverFile(ctx, files[0].ID); err != nil {
		s.logger.Error().Err(err).
			Str("file_id", files[0].ID.String()).
			Msg("Delivery failed")
	}
}

// DeliverFile pushes one file to its payer's SFTP endpoint. Already
// delivered files are a no-op. Each attempt bumps retryCount; attempts are
// spaced 5s, 10s, 20s... apart up to the configured retry cap, after which
// the failure is recorded with a truncated error message.
func (s *DeliveryService) DeliverFile(ctx context.Context, fileID uuid.UUID) error {
	file, err := s.historyRepo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	if file.DeliveryStatus == domain.DeliveryStatusDelivered {
		s.logger.Debug().
			Str("file_id", fileID.String()).
			Msg("File already delivered")
		return nil
	}

	bucket, err := s.bucketRepo.GetByID(ctx, file.BucketID)
	if err != nil {
		return err
	}
	payer, err := s.payerRepo.GetByPayerID(ctx, bucket.PayerID)
	if err != nil {
		return err
	}

	cfg, err := s.sftpConfig(payer)
	if err != nil {
		s.logger.Error().Err(err).
			Str("file_id", fileID.String()).
			Str("payer_id", bucket.PayerID).
			Msg("Cannot deliver file")
		return s.recordFailure(ctx, file, "No SFTP configuration")
	}

	maxRetries := s.settings.DeliveryMaxRetries(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = deliveryBackoffBase
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = 10 * time.Minute
	policy.Reset()

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		file.RetryCount++
		if err := s.historyRepo.Update(ctx, file); err != nil {
			return err
		}

		lastErr = s.uploader.Upload(*cfg, file.GeneratedFileName, file.FileContent)
		if lastErr == nil {
			now := time.Now()
			by := generatedBySystem
			file.DeliveryStatus = domain.DeliveryStatusDelivered
			file.DeliveredAt = &now
			file.DeliveredBy = &by
			file.ErrorMessage = nil
			if err := s.historyRepo.Update(ctx, file); err != nil {
				return err
			}
			s.logger.Info().
				Str("file_id", file.ID.String()).
				Str("file_name", file.GeneratedFileName).
				Int32("attempts", file.RetryCount).
				Msg("File delivered")
			return nil
		}

		s.logger.Warn().Err(lastErr).
			Str("file_id", file.ID.String()).
			Int("attempt", attempt).
			Int("max_retries", maxRetries).
			Msg("Delivery attempt failed")

		if attempt < maxRetries {
			s.sleep(policy.NextBackOff())
		}
	}

	return s.recordFailure(ctx, file, lastErr.Error())
}

func (s *DeliveryService) recordFailure(ctx context.Context, file *domain.FileGenerationHistory, msg string) error {
	if len(msg) > domain.MaxErrorMessageLength {
		msg = msg[:domain.MaxErrorMessageLength]
	}
	file.DeliveryStatus = domain.DeliveryStatusFailed
	file.ErrorMessage = &msg
	if err := s.historyRepo.Update(ctx, file); err != nil {
		return err
	}
	return fmt.Errorf("%s: %s", file.GeneratedFileName, msg)
}

// ProcessPendingDeliveries is the scheduled sweep: up to batchSize PENDING
// files per run, continuing past per-file failures.
func (s *DeliveryService) ProcessPendingDeliveries(ctx context.Context) (int, error) {
	if !s.settings.DeliveryEnabled(ctx) {
		return 0, nil
	}

	batch := int32(s.settings.DeliveryBatchSize(ctx))
	files, err := s.historyRepo.ListPending(ctx, batch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, f := range files {
		if err := s.DeliverFile(ctx, f.ID); err != nil {
			s.logger.Warn().Err(err).
				Str("file_id", f.ID.String()).
				Msg("Sweep delivery failed, continuing")
			continue
		}
		delivered++
	}
	if len(files) > 0 {
		s.logger.Info().
			Int("delivered", delivered).
			Int("batch", len(files)).
			Msg("Pending delivery sweep finished")
	}
	return delivered, nil
}

// RetryFailedDeliveries re-runs FAILED deliveries still under the retry cap.
func (s *DeliveryService) RetryFailedDeliveries(ctx context.Context) (int, error) {
	if !s.settings.DeliveryEnabled(ctx) || !s.settings.DeliveryAutoRetry(ctx) {
		return 0, nil
	}

	maxRetries := int32(s.settings.DeliveryMaxRetries(ctx))
	batch := int32(s.settings.DeliveryBatchSize(ctx))
	files, err := s.historyRepo.ListFailedRetryable(ctx, maxRetries, batch)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, f := range files {
		if err := s.DeliverFile(ctx, f.ID); err != nil {
			continue
		}
		delivered++
	}
	if len(files) > 0 {
		s.logger.Info().
			Int("delivered", delivered).
			Int("batch", len(files)).
			Msg("Failed delivery retry sweep finished")
	}
	return delivered, nil
}

// MarkAsDelivered is the manual operator override.
func (s *DeliveryService) MarkAsDelivered(ctx context.Context, fileID uuid.UUID, by string) error {
	file, err := s.historyRepo.GetByID(ctx, fileID)
	if err != nil {
		return err
	}
	now := time.Now()
	manual := fmt.Sprintf("%s (manual)", by)
	file.DeliveryStatus = domain.DeliveryStatusDelivered
	file.DeliveredAt = &now
	file.DeliveredBy = &manual
	file.ErrorMessage = nil
	if err := s.historyRepo.Update(ctx, file); err != nil {
		return err
	}
	s.logger.Info().
		Str("file_id", fileID.String()).
		Str("delivered_by", manual).
		Msg("File marked delivered manually")
	return nil
}

// ValidateSftpConfig checks that the payer's delivery endpoint is complete.
func (s *DeliveryService) ValidateSftpConfig(ctx context.Context, payerID string) error {
	payer, err := s.payerRepo.GetByPayerID(ctx, payerID)
	if err != nil {
		return err
	}
	_, err = s.sftpConfig(payer)
	return err
}

// sftpConfig derives the delivery destination from the payer row, decrypting
// the stored password.
func (s *DeliveryService) sftpConfig(payer *domain.Payer) (*domain.SftpConfig, error) {
	if payer.SftpHost == nil || *payer.SftpHost == "" ||
		payer.SftpPort == nil || *payer.SftpPort == 0 ||
		payer.SftpUsername == nil || *payer.SftpUsername == "" ||
		payer.SftpPath == nil || *payer.SftpPath == "" {
		return nil, fmt.Errorf("%w: payer %s", domain.ErrMissingSftpConfig, payer.PayerID)
	}

	password := ""
	if payer.SftpPassword != nil {
		decrypted, err := s.encryptor.Decrypt(*payer.SftpPassword)
		if err != nil {
			return nil, fmt.Errorf("decrypting sftp password for payer %s: %w", payer.PayerID, err)
		}
		password = decrypted
	}

	return &domain.SftpConfig{
		Host:     *payer.SftpHost,
		Port:     *payer.SftpPort,
		Username: *payer.SftpUsername,
		Password: password,
		Path:     *payer.SftpPath,
	}, nil
}

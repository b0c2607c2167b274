package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/edi"
	"github.com/rs/zerolog"
)

// Claim payment constants for the 835 output.
const (
	claimStatusProcessedPrimary = "1"
	claimFilingIndicatorPPO     = "12"
	generatedBySystem           = "SYSTEM"
)

// EdiService assembles a RemittanceAdvice for each bucket entering
// GENERATING, writes the 835 file through the segment writer, persists the
// generation history and completes the bucket.
type EdiService struct {
	bucketRepo   domain.BucketRepository
	claimLogRepo domain.ClaimLogRepository
	payerRepo    domain.PayerRepository
	payeeRepo    domain.PayeeRepository
	checkRepo    domain.CheckPaymentRepository
	historyRepo  domain.FileHistoryRepository
	fileNames    *FileNameService
	writer       *edi.Writer
	manager      *BucketManager
	tx           TxRunner
	production   bool
	logger       zerolog.Logger
	now          func() time.Time

	controlSeq atomic.Int64
}

// NewEdiService creates a new EdiService.
func NewEdiService(
	bucketRepo domain.BucketRepository,
	claimLogRepo domain.ClaimLogRepository,
	payerRepo domain.PayerRepository,
	payeeRepo domain.PayeeRepository,
	checkRepo domain.CheckPaymentRepository,
	historyRepo domain.FileHistoryRepository,
	fileNames *FileNameService,
	writer *edi.Writer,
	manager *BucketManager,
	tx TxRunner,
	production bool,
	logger zerolog.Logger,
) *EdiService {
	s := &EdiService{
		bucketRepo:   bucketRepo,
		claimLogRepo: claimLogRepo,
		payerRepo:    payerRepo,
		payeeRepo:    payeeRepo,
		checkRepo:    checkRepo,
		historyRepo:  historyRepo,
		fileNames:    fileNames,
		writer:       writer,
		manager:      manager,
		tx:           tx,
		production:   production,
		logger:       logger.With().Str("component", "edi_generator").Logger(),
		now:          time.Now,
	}
	s.controlSeq.Store(time.Now().Unix() % 1_000_000_000)
	return s
}

// HandleStatusChange is the event-bus subscription entry: generation starts
// when a bucket reaches GENERATING.
func (s *EdiService) HandleStatusChange(evt domain.BucketStatusChangeEvent) {
	if evt.NewStatus != domain.BucketStatusGenerating {
		return
	}
	if err := s.GenerateForBucket(context.Background(), evt.BucketID); err != nil {
		s.logger.Error().Err(err).
			Str("bucket_id", evt.BucketID.String()).
			Msg("File generation failed")
	}
}

// GenerateForBucket produces the 835 file for a GENERATING bucket, persists
// the history row and completes the bucket in one transaction. A bucket not
// (or no longer) in GENERATING is a no-op, which makes duplicate events
// harmless. Failures mark the bucket FAILED.
func (s *EdiService) GenerateForBucket(ctx context.Context, bucketID uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := s.bucketRepo.GetByIDForUpdate(ctx, bucketID)
		if err != nil {
			return err
		}
		if bucket.Status != domain.BucketStatusGenerating {
			s.logger.Debug().
				Str("bucket_id", bucketID.String()).
				Str("status", string(bucket.Status)).
				Msg("Skipping generation, bucket not in GENERATING")
			return nil
		}

		advice, err := s.assembleAdvice(ctx, bucket)
		if err != nil {
			return err
		}

		content, err := s.writer.Write(advice)
		if err != nil {
			return fmt.Errorf("writing 835: %w", err)
		}

		fileName := s.fileNames.GenerateFileName(ctx, bucket)
		history, err := s.historyRepo.Create(ctx, &domain.FileGenerationHistory{
			ID:                uuid.New(),
			BucketID:          bucket.ID,
			GeneratedFileName: fileName,
			FileContent:       content,
			FileSize:          int64(len(content)),
			ClaimCount:        bucket.ClaimCount,
			TotalAmount:       bucket.TotalAmount,
			GeneratedBy:       generatedBySystem,
			DeliveryStatus:    domain.DeliveryStatusPending,
		})
		if err != nil {
			return err
		}

		s.logger.Info().
			Str("bucket_id", bucket.ID.String()).
			Str("file_name", history.GeneratedFileName).
			Int64("file_size", history.FileSize).
			Int32("claim_count", history.ClaimCount).
			Msg("835 file generated")

		return s.manager.MarkCompleted(ctx, bucket.ID)
	})
	if err == nil {
		return nil
	}

	if failErr := s.manager.MarkFailed(ctx, bucketID, err.Error()); failErr != nil &&
		!errors.Is(failErr, domain.ErrInvalidState) {
		s.logger.Error().Err(failErr).
			Str("bucket_id", bucketID.String()).
			Msg("Failed to mark bucket FAILED after generation error")
	}
	return err
}

// assembleAdvice builds the RemittanceAdvice value from the bucket, its
// processed claims and the master records.
func (s *EdiService) assembleAdvice(ctx context.Context, bucket *domain.Bucket) (*edi.RemittanceAdvice, error) {
	logs, err := s.claimLogRepo.ListProcessedByBucket(ctx, bucket.ID)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, fmt.Errorf("bucket %s has no processed claims", bucket.ID)
	}

	payer, err := s.payerRepo.GetByPayerID(ctx, bucket.PayerID)
	if err != nil {
		return nil, err
	}
	payee, err := s.payeeRepo.GetByPayeeID(ctx, bucket.PayeeID)
	if err != nil {
		return nil, err
	}

	checkNumber := bucket.ID.String()[:8]
	if bucket.CheckPaymentID != nil {
		payment, err := s.checkRepo.GetByID(ctx, *bucket.CheckPaymentID)
		if err != nil {
			return nil, err
		}
		checkNumber = payment.CheckNumber
	}

	claims := make([]edi.ClaimPayment, 0, len(logs))
	for _, l := range logs {
		cp := edi.ClaimPayment{
			ClaimID:             l.ClaimID,
			StatusCode:          claimStatusProcessedPrimary,
			FilingIndicatorCode: claimFilingIndicatorPPO,
			PatientID:           l.ClaimID,
		}
		if l.ChargeAmount != nil {
			cp.ChargeAmount = *l.ChargeAmount
		}
		if l.PaidAmount != nil {
			cp.PaidAmount = *l.PaidAmount
		}
		claims = append(claims, cp)
	}

	now := s.now()
	return &edi.RemittanceAdvice{
		SenderID:                 payer.IsaSenderID,
		ReceiverID:               bucket.PayeeID,
		InterchangeControlNumber: s.nextControlNumber(),
		GroupControlNumber:       fmt.Sprintf("%d", now.Unix()%100000),
		Production:               s.production,
		Payer:                    partyFromPayer(payer),
		Payee:                    partyFromPayee(payee),
		CheckNumber:              checkNumber,
		TotalPaidAmount:          bucket.TotalAmount,
		PaymentDate:              now,
		CreatedAt:                now,
		Claims:                   claims,
	}, nil
}

// nextControlNumber yields a 9-digit zero-padded interchange control number,
// unique per process run.
func (s *EdiService) nextControlNumber() string {
	return fmt.Sprintf("%09d", s.controlSeq.Add(1)%1_000_000_000)
}

func partyFromPayer(p *domain.Payer) edi.Party {
	return edi.Party{
		Name:         p.Name,
		ID:           p.PayerID,
		AddressLine1: deref(p.AddressLine1),
		AddressLine2: deref(p.AddressLine2),
		City:         deref(p.City),
		State:        deref(p.State),
		ZipCode:      deref(p.ZipCode),
	}
}

func partyFromPayee(p *domain.Payee) edi.Party {
	id := p.PayeeID
	if p.NPI != nil {
		id = *p.NPI
	}
	return edi.Party{
		Name:         p.Name,
		ID:           id,
		AddressLine1: deref(p.AddressLine1),
		AddressLine2: deref(p.AddressLine2),
		City:         deref(p.City),
		State:        deref(p.State),
		ZipCode:      deref(p.ZipCode),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

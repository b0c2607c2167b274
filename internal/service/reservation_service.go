package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog"
)

// ReservationService allocates check numbers from pre-reserved contiguous
// ranges. Allocation either joins the caller's transaction or commits
// independently, per the deploy-time useSeparateTransaction flag; in the
// independent mode the caller compensates a committed allocation with
// ReleaseReservedCheck when its outer work fails.
type ReservationService struct {
	reservationRepo domain.ReservationRepository
	settings        *SettingsService
	tx              TxRunner
	separateTx      bool
	logger          zerolog.Logger
}

// NewReservationService creates a new ReservationService.
func NewReservationService(
	reservationRepo domain.ReservationRepository,
	settings *SettingsService,
	tx TxRunner,
	useSeparateTransaction bool,
	logger zerolog.Logger,
) *ReservationService {
	return &ReservationService{
		reservationRepo: reservationRepo,
		settings:        settings,
		tx:              tx,
		separateTx:      useSeparateTransaction,
		logger:          logger.With().Str("component", "check_reservation").Logger(),
	}
}

// UsesSeparateTransaction reports the configured allocation mode.
func (s *ReservationService) UsesSeparateTransaction() bool { return s.separateTx }

// run picks the transaction scope the configured mode calls for.
func (s *ReservationService) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.separateTx {
		return s.tx.WithinNewTx(ctx, fn)
	}
	return s.tx.WithinTx(ctx, fn)
}

// CreateReservationInput holds the input for creating a reservation.
type CreateReservationInput struct {
	PayerID            uuid.UUID
	CheckNumberStart   string
	CheckNumberEnd     string
	BankName           string
	RoutingNumber      *string
	AccountNumberLast4 *string
	CreatedBy          string
}

// CreateReservation registers a new check range for a payer. The range size
// comes from the numeric parts of the endpoints; overlapping ranges for the
// same payer are rejected.
func (s *ReservationService) CreateReservation(ctx context.Context, input CreateReservationInput) (*domain.CheckReservation, error) {
	startNum := domain.CheckNumberNumericPart(input.CheckNumberStart)
	endNum := domain.CheckNumberNumericPart(input.CheckNumberEnd)
	if startNum <= 0 || endNum < startNum {
		return nil, fmt.Errorf("%w: check range %s..%s", domain.ErrInvalidInput, input.CheckNumberStart, input.CheckNumberEnd)
	}
	if input.BankName == "" {
		return nil, fmt.Errorf("%w: bank name is required", domain.ErrInvalidInput)
	}

	var created *domain.CheckReservation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		overlapping, err := s.reservationRepo.ListOverlapping(ctx, input.PayerID, startNum, endNum)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return fmt.Errorf("%w: conflicts with reservation %s", domain.ErrOverlappingRange, overlapping[0].ID)
		}

		created, err = s.reservationRepo.Create(ctx, &domain.CheckReservation{
			ID:                 uuid.New(),
			PayerID:            input.PayerID,
			CheckNumberStart:   input.CheckNumberStart,
			CheckNumberEnd:     input.CheckNumberEnd,
			TotalChecks:        int32(endNum - startNum + 1),
			ChecksUsed:         0,
			Status:             domain.ReservationStatusActive,
			BankName:           input.BankName,
			RoutingNumber:      input.RoutingNumber,
			AccountNumberLast4: input.AccountNumberLast4,
			CreatedBy:          input.CreatedBy,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("reservation_id", created.ID.String()).
		Str("payer_id", input.PayerID.String()).
		Int32("total_checks", created.TotalChecks).
		Msg("Check reservation created")
	return created, nil
}

// GetAndReserveNextCheck allocates the next check number for the payer from
// its oldest ACTIVE reservation. In separate-transaction mode the increment
// commits before this returns and the caller owns compensation.
func (s *ReservationService) GetAndReserveNextCheck(ctx context.Context, payerID uuid.UUID, bucketID *uuid.UUID) (*domain.ReservedCheckInfo, error) {
	var info *domain.ReservedCheckInfo
	err := s.run(ctx, func(ctx context.Context) error {
		res, err := s.reservationRepo.OldestActiveForUpdate(ctx, payerID)
		if err != nil {
			if err == domain.ErrNotFound {
				return domain.ErrNoAvailableChecks
			}
			return err
		}

		checkNumber := nextCheckNumber(res.CheckNumberStart, res.ChecksUsed)
		res.ChecksUsed++
		if res.ChecksUsed == res.TotalChecks {
			res.Status = domain.ReservationStatusExhausted
		}
		if err := s.reservationRepo.Update(ctx, res); err != nil {
			return err
		}

		remaining := res.ChecksRemaining()
		if threshold := s.settings.LowStockAlertThreshold(ctx); remaining <= int32(threshold) {
			s.logger.Warn().
				Str("reservation_id", res.ID.String()).
				Str("payer_id", payerID.String()).
				Int32("checks_remaining", remaining).
				Msg("Check reservation running low")
		}

		info = &domain.ReservedCheckInfo{
			CheckNumber:   checkNumber,
			ReservationID: res.ID,
			BankName:      res.BankName,
			RoutingNumber: res.RoutingNumber,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	evt := s.logger.Info().
		Str("check_number", info.CheckNumber).
		Str("reservation_id", info.ReservationID.String())
	if bucketID != nil {
		evt = evt.Str("bucket_id", bucketID.String())
	}
	evt.Msg("Check number reserved")
	return info, nil
}

// ReleaseReservedCheck compensates a committed allocation after the caller's
// outer work failed. A failure here, in separate-transaction mode, leaves an
// orphaned check number that needs manual intervention.
func (s *ReservationService) ReleaseReservedCheck(ctx context.Context, checkNumber string, reservationID uuid.UUID, reason string) error {
	if !s.separateTx {
		// Allocation joined the outer transaction; its rollback undoes the
		// increment.
		s.logger.Debug().
			Str("check_number", checkNumber).
			Str("reservation_id", reservationID.String()).
			Msg("Release skipped, allocation rolls back with outer transaction")
		return nil
	}

	err := s.tx.WithinNewTx(ctx, func(ctx context.Context) error {
		res, err := s.reservationRepo.GetByIDForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.ChecksUsed == 0 {
			return fmt.Errorf("reservation %s has no allocations to release", reservationID)
		}
		res.ChecksUsed--
		if res.Status == domain.ReservationStatusExhausted {
			res.Status = domain.ReservationStatusActive
		}
		return s.reservationRepo.Update(ctx, res)
	})
	if err != nil {
		s.logger.Error().Err(err).
			Str("check_number", checkNumber).
			Str("reservation_id", reservationID.String()).
			Str("reason", reason).
			Msg("CRITICAL: failed to release reserved check, manual intervention required")
		return err
	}

	s.logger.Info().
		Str("check_number", checkNumber).
		Str("reservation_id", reservationID.String()).
		Str("reason", reason).
		Msg("Reserved check released")
	return nil
}

// CancelReservation cancels a reservation that has never allocated.
func (s *ReservationService) CancelReservation(ctx context.Context, id uuid.UUID, cancelledBy string) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		res, err := s.reservationRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if res.ChecksUsed > 0 {
			return domain.ErrReservationInUse
		}
		res.Status = domain.ReservationStatusCancelled
		return s.reservationRepo.Update(ctx, res)
	})
	if err != nil {
		return err
	}
	s.logger.Info().
		Str("reservation_id", id.String()).
		Str("cancelled_by", cancelledBy).
		Msg("Check reservation cancelled")
	return nil
}

// nextCheckNumber is start + offset with any alphabetic prefix preserved and
// the numeric width of the start retained. "CHK0101" + 2 -> "CHK0103".
func nextCheckNumber(start string, offset int32) string {
	i := 0
	for i < len(start) && (start[i] < '0' || start[i] > '9') {
		i++
	}
	prefix, digits := start[:i], start[i:]
	n := domain.CheckNumberNumericPart(start) + int64(offset)
	width := len(strings.TrimLeft(digits, " "))
	return fmt.Sprintf("%s%0*d", prefix, width, n)
}

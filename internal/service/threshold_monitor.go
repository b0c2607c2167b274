package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog"
)

// ThresholdMonitor is the background scheduler driving time-based bucket
// transitions: a fast ticker loop over every ACCUMULATING bucket, plus
// cron-style daily passes and a stale-bucket report. Mutation goes through
// the manager under the normal bucket row lock, so the monitor and inline
// evaluation never race.
type ThresholdMonitor struct {
	bucketRepo domain.BucketRepository
	manager    *BucketManager
	settings   *SettingsService
	tx         TxRunner
	cfg        config.MonitorConfig
	logger     zerolog.Logger

	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
	running bool
	// sweeping guards against overlapping ticks when one pass outlives the
	// interval.
	sweeping sync.Mutex
}

// NewThresholdMonitor creates a new ThresholdMonitor.
func NewThresholdMonitor(
	bucketRepo domain.BucketRepository,
	manager *BucketManager,
	settings *SettingsService,
	tx TxRunner,
	cfg config.MonitorConfig,
	logger zerolog.Logger,
) *ThresholdMonitor {
	return &ThresholdMonitor{
		bucketRepo: bucketRepo,
		manager:    manager,
		settings:   settings,
		tx:         tx,
		cfg:        cfg,
		logger:     logger.With().Str("component", "threshold_monitor").Logger(),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the fast evaluation loop after the configured initial delay.
// The cron-driven passes are registered by the caller against its scheduler.
func (m *ThresholdMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info().
		Dur("interval", m.cfg.FastInterval).
		Dur("initial_delay", m.cfg.InitialDelay).
		Msg("Starting threshold monitor")

	go m.run(ctx)
}

// Stop gracefully stops the fast loop.
func (m *ThresholdMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Info().Msg("Stopping threshold monitor")
	close(m.stopCh)
	<-m.doneCh
	m.logger.Info().Msg("Threshold monitor stopped")
}

func (m *ThresholdMonitor) run(ctx context.Context) {
	defer close(m.doneCh)

	select {
	case <-ctx.Done():
		return
	case <-m.stopCh:
		return
	case <-time.After(m.cfg.InitialDelay):
	}

	m.EvaluateAllBuckets(ctx)

	ticker := time.NewTicker(m.cfg.FastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-m.stopCh:
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.EvaluateAllBuckets(ctx)
		}
	}
}

// EvaluateAllBuckets re-evaluates thresholds for every ACCUMULATING bucket,
// counting transitions. Single-flight: an overlapping call returns
// immediately.
func (m *ThresholdMonitor) EvaluateAllBuckets(ctx context.Context) int {
	if !m.sweeping.TryLock() {
		m.logger.Debug().Msg("Evaluation pass already running, skipping tick")
		return 0
	}
	defer m.sweeping.Unlock()

	start := time.Now()
	buckets, err := m.bucketRepo.ListByStatus(ctx, domain.BucketStatusAccumulating)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list accumulating buckets")
		return 0
	}

	transitioned := 0
	for _, b := range buckets {
		select {
		case <-ctx.Done():
			return transitioned
		case <-m.stopCh:
			return transitioned
		default:
		}

		moved, err := m.evaluateOne(ctx, b.ID)
		if err != nil {
			m.logger.Error().Err(err).
				Str("bucket_id", b.ID.String()).
				Msg("Threshold evaluation failed for bucket")
			continue
		}
		if moved {
			transitioned++
		}
	}

	if transitioned > 0 || len(buckets) > 0 {
		m.logger.Info().
			Int("buckets", len(buckets)).
			Int("transitioned", transitioned).
			Dur("elapsed", time.Since(start)).
			Msg("Threshold evaluation pass finished")
	}
	return transitioned
}

func (m *ThresholdMonitor) evaluateOne(ctx context.Context, id uuid.UUID) (bool, error) {
	var moved bool
	err := m.tx.WithinTx(ctx, func(ctx context.Context) error {
		bucket, err := m.bucketRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		moved, err = m.manager.EvaluateBucketThresholds(ctx, bucket)
		return err
	})
	return moved, err
}

// InspectPendingApprovals logs every bucket waiting on approval with its
// waiting time. Read-only.
func (m *ThresholdMonitor) InspectPendingApprovals(ctx context.Context) {
	buckets, err := m.bucketRepo.ListByStatus(ctx, domain.BucketStatusPendingApproval)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list pending-approval buckets")
		return
	}
	for _, b := range buckets {
		waiting := time.Duration(0)
		if b.AwaitingApprovalSince != nil {
			waiting = time.Since(*b.AwaitingApprovalSince)
		}
		m.logger.Info().
			Str("bucket_id", b.ID.String()).
			Str("payer_id", b.PayerID).
			Int32("claim_count", b.ClaimCount).
			Str("total_amount", b.TotalAmount.StringFixed(2)).
			Dur("waiting", waiting).
			Msg("Bucket awaiting approval")
	}
}

// WarnStaleBuckets reports buckets older than the stale cutoff. Policy is
// warn-only; no transition is forced.
func (m *ThresholdMonitor) WarnStaleBuckets(ctx context.Context) int {
	staleDays := m.settings.StaleDays(ctx)
	cutoff := time.Now().AddDate(0, 0, -staleDays)
	buckets, err := m.bucketRepo.ListOlderThan(ctx, cutoff, []domain.BucketStatus{
		domain.BucketStatusAccumulating,
		domain.BucketStatusPendingApproval,
		domain.BucketStatusFailed,
		domain.BucketStatusMissingConfig,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to list stale buckets")
		return 0
	}

	for _, b := range buckets {
		m.logger.Warn().
			Str("bucket_id", b.ID.String()).
			Str("status", string(b.Status)).
			Str("payer_id", b.PayerID).
			Float64("age_days", time.Since(b.CreatedAt).Hours()/24).
			Msg("Stale bucket")
	}
	return len(buckets)
}

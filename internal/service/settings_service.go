package service

import (
	"context"
	"strconv"

	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// SettingsService resolves runtime-tunable values: a system_settings row
// overrides the deploy-time configuration default. Lookup failures fall back
// to the default with a warning rather than failing the caller.
type SettingsService struct {
	repo domain.SettingsRepository
	cfg  *config.Config
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(repo domain.SettingsRepository, cfg *config.Config) *SettingsService {
	return &SettingsService{repo: repo, cfg: cfg}
}

func (s *SettingsService) getInt(ctx context.Context, key string, def int) int {
	v, err := s.repo.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Falling back to default setting")
		return def
	}
	if v == nil {
		return def
	}
	n, err := strconv.Atoi(*v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", *v).Msg("Ignoring non-integer setting")
		return def
	}
	return n
}

func (s *SettingsService) getBool(ctx context.Context, key string, def bool) bool {
	v, err := s.repo.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Falling back to default setting")
		return def
	}
	if v == nil {
		return def
	}
	b, err := strconv.ParseBool(*v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", *v).Msg("Ignoring non-boolean setting")
		return def
	}
	return b
}

// VoidTimeLimitHours is the window after issue during which a check may be
// voided.
func (s *SettingsService) VoidTimeLimitHours(ctx context.Context) int {
	return s.getInt(ctx, domain.SettingVoidTimeLimitHours, s.cfg.CheckPayment.VoidTimeLimitHours)
}

// LowStockAlertThreshold is the remaining-check count at which allocation
// warns.
func (s *SettingsService) LowStockAlertThreshold(ctx context.Context) int {
	return s.getInt(ctx, domain.SettingLowStockAlertThreshold, s.cfg.CheckPayment.LowStockAlertThreshold)
}

// RequireAckBeforeEdi reports whether generation requires an ACKNOWLEDGED
// check.
func (s *SettingsService) RequireAckBeforeEdi(ctx context.Context) bool {
	return s.getBool(ctx, domain.SettingRequireAckBeforeEdi, s.cfg.CheckPayment.RequireAckBeforeEdi)
}

// DeliveryEnabled reports whether automatic delivery runs.
func (s *SettingsService) DeliveryEnabled(ctx context.Context) bool {
	return s.getBool(ctx, domain.SettingDeliveryEnabled, s.cfg.Delivery.Enabled)
}

// DeliveryAutoRetry reports whether the failed-delivery retry cron runs.
func (s *SettingsService) DeliveryAutoRetry(ctx context.Context) bool {
	return s.getBool(ctx, domain.SettingDeliveryAutoRetry, s.cfg.Delivery.AutoRetry)
}

// DeliveryMaxRetries is the per-file delivery attempt cap.
func (s *SettingsService) DeliveryMaxRetries(ctx context.Context) int {
	return s.getInt(ctx, domain.SettingDeliveryMaxRetries, s.cfg.Delivery.MaxRetries)
}

// DeliveryBatchSize is the per-sweep file cap.
func (s *SettingsService) DeliveryBatchSize(ctx context.Context) int {
	return s.getInt(ctx, domain.SettingDeliveryBatchSize, s.cfg.Delivery.BatchSize)
}

// StaleDays is the age in days past which a non-completed bucket is reported
// stale.
func (s *SettingsService) StaleDays(ctx context.Context) int {
	return s.getInt(ctx, domain.SettingStaleDays, s.cfg.Monitor.StaleDays)
}

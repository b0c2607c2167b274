package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CaseConversion string

const (
	CaseConversionNone       CaseConversion = "NONE"
	CaseConversionUpper      CaseConversion = "UPPER"
	CaseConversionLower      CaseConversion = "LOWER"
	CaseConversionCapitalize CaseConversion = "CAPITALIZE"
)

// FileNamingTemplate drives output file names. Exactly one row may be the
// system-wide default.
type FileNamingTemplate struct {
	ID                    uuid.UUID      `json:"id"`
	TemplateName          string         `json:"templateName"`
	TemplatePattern       string         `json:"templatePattern"`
	CaseConversion        CaseConversion `json:"caseConversion"`
	LinkedBucketingRuleID *uuid.UUID     `json:"linkedBucketingRuleId,omitempty"`
	IsDefault             bool           `json:"isDefault"`
	CreatedAt             time.Time      `json:"createdAt"`
}

type ResetFrequency string

const (
	ResetFrequencyDaily   ResetFrequency = "DAILY"
	ResetFrequencyMonthly ResetFrequency = "MONTHLY"
	ResetFrequencyYearly  ResetFrequency = "YEARLY"
	ResetFrequencyNever   ResetFrequency = "NEVER"
)

// FileNamingSequence is the per-(template, payer) counter. Strictly
// increasing within a reset window; callers must hold the row lock while
// incrementing.
type FileNamingSequence struct {
	TemplateID      uuid.UUID      `json:"templateId"`
	PayerID         *string        `json:"payerId,omitempty"`
	CurrentSequence int64          `json:"currentSequence"`
	ResetFrequency  ResetFrequency `json:"resetFrequency"`
	LastResetAt     time.Time      `json:"lastResetAt"`
}

// ShouldReset reports whether the counter's reset window has rolled over
// relative to now.
func (s *FileNamingSequence) ShouldReset(now time.Time) bool {
	last := s.LastResetAt
	switch s.ResetFrequency {
	case ResetFrequencyDaily:
		return now.Year() != last.Year() || now.YearDay() != last.YearDay()
	case ResetFrequencyMonthly:
		return now.Year() != last.Year() || now.Month() != last.Month()
	case ResetFrequencyYearly:
		return now.Year() != last.Year()
	}
	return false
}

type TemplateRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*FileNamingTemplate, error)
	GetByRule(ctx context.Context, ruleID uuid.UUID) (*FileNamingTemplate, error)
	GetDefault(ctx context.Context) (*FileNamingTemplate, error)
}

type SequenceRepository interface {
	// GetForUpdate locks (creating on first use) the counter row for the
	// template/payer pair. Must be called inside a transaction.
	GetForUpdate(ctx context.Context, templateID uuid.UUID, payerID *string) (*FileNamingSequence, error)
	Save(ctx context.Context, seq *FileNamingSequence) error
}

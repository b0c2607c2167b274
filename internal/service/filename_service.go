package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/rs/zerolog"
)

var (
	templateVarPattern = regexp.MustCompile(`\{([a-zA-Z]+)(?::([^}]+))?\}`)
	fileNameSanitizer  = regexp.MustCompile(`[^A-Za-z0-9_.-]`)
	invalidStaticChars = `<>:"/\|?*`
)

var knownTemplateVars = map[string]bool{
	"payerId": true, "payerName": true, "payeeId": true, "payeeName": true,
	"binNumber": true, "pcnNumber": true, "date": true, "timestamp": true,
	"sequenceNumber": true, "bucketId": true,
}

// FileNameService expands file naming templates against a bucket, driving
// the per-(template, payer) sequence counter.
type FileNameService struct {
	templateRepo domain.TemplateRepository
	sequenceRepo domain.SequenceRepository
	tx           TxRunner
	logger       zerolog.Logger
	now          func() time.Time
}

// NewFileNameService creates a new FileNameService.
func NewFileNameService(
	templateRepo domain.TemplateRepository,
	sequenceRepo domain.SequenceRepository,
	tx TxRunner,
	logger zerolog.Logger,
) *FileNameService {
	return &FileNameService{
		templateRepo: templateRepo,
		sequenceRepo: sequenceRepo,
		tx:           tx,
		logger:       logger.With().Str("component", "file_naming").Logger(),
		now:          time.Now,
	}
}

// GenerateFileName expands the bucket's template. Any failure falls back to
// {payerId}_{payeeId}_{yyyyMMdd}_{first-8-of-bucketId}.835 so generation is
// never blocked on a naming problem.
func (s *FileNameService) GenerateFileName(ctx context.Context, bucket *domain.Bucket) string {
	name, err := s.expand(ctx, bucket)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("bucket_id", bucket.ID.String()).
			Msg("Template expansion failed, using fallback file name")
		return s.fallbackName(bucket)
	}
	return name
}

func (s *FileNameService) expand(ctx context.Context, bucket *domain.Bucket) (string, error) {
	if bucket.FileNamingTemplateID == nil {
		return "", domain.ErrTemplateNotFound
	}
	tmpl, err := s.templateRepo.GetByID(ctx, *bucket.FileNamingTemplateID)
	if err != nil {
		return "", err
	}

	now := s.now()
	values := map[string]string{
		"payerId":   sanitizeFileNameValue(bucket.PayerID),
		"payerName": sanitizeFileNameValue(bucket.PayerName),
		"payeeId":   sanitizeFileNameValue(bucket.PayeeID),
		"payeeName": sanitizeFileNameValue(bucket.PayeeName),
		"bucketId":  bucket.ID.String(),
	}
	if bucket.BINNumber != nil {
		values["binNumber"] = sanitizeFileNameValue(*bucket.BINNumber)
	}
	if bucket.PCNNumber != nil {
		values["pcnNumber"] = sanitizeFileNameValue(*bucket.PCNNumber)
	}

	var seq int64 = -1
	if strings.Contains(tmpl.TemplatePattern, "{sequenceNumber") {
		seq, err = s.nextSequence(ctx, tmpl.ID, bucket.PayerID, now)
		if err != nil {
			return "", err
		}
	}

	var expandErr error
	name := templateVarPattern.ReplaceAllStringFunc(tmpl.TemplatePattern, func(match string) string {
		groups := templateVarPattern.FindStringSubmatch(match)
		varName, option := groups[1], groups[2]
		switch varName {
		case "date":
			if option == "" {
				option = "yyyyMMdd"
			}
			return now.Format(javaToGoLayout(option))
		case "timestamp":
			if option == "" {
				option = "yyyyMMddHHmmss"
			}
			return now.Format(javaToGoLayout(option))
		case "sequenceNumber":
			width := 0
			if option != "" {
				w, err := strconv.Atoi(option)
				if err != nil {
					expandErr = fmt.Errorf("bad sequence padding %q: %w", option, err)
					return match
				}
				width = w
			}
			return fmt.Sprintf("%0*d", width, seq)
		default:
			if v, ok := values[varName]; ok {
				return v
			}
			s.logger.Warn().Str("variable", varName).Msg("Unknown template variable left empty")
			return ""
		}
	})
	if expandErr != nil {
		return "", expandErr
	}

	name = applyCaseConversion(name, tmpl.CaseConversion)
	if !strings.HasSuffix(strings.ToLower(name), ".835") {
		name += ".835"
	}
	return name, nil
}

// nextSequence increments the counter under the per-(template, payer) row
// lock, resetting to 1 when the reset window rolled over.
func (s *FileNameService) nextSequence(ctx context.Context, templateID uuid.UUID, payerID string, now time.Time) (int64, error) {
	var next int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		seq, err := s.sequenceRepo.GetForUpdate(ctx, templateID, &payerID)
		if err != nil {
			return err
		}
		if seq.ShouldReset(now) {
			seq.CurrentSequence = 1
			seq.LastResetAt = now
		} else {
			seq.CurrentSequence++
		}
		next = seq.CurrentSequence
		return s.sequenceRepo.Save(ctx, seq)
	})
	return next, err
}

func (s *FileNameService) fallbackName(bucket *domain.Bucket) string {
	short := bucket.ID.String()
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_%s_%s.835",
		sanitizeFileNameValue(bucket.PayerID),
		sanitizeFileNameValue(bucket.PayeeID),
		s.now().Format("20060102"),
		short)
}

// ValidateTemplate checks a pattern for balanced braces and forbidden
// characters in its static parts, warning on unknown variable names.
func (s *FileNameService) ValidateTemplate(pattern string) error {
	depth := 0
	for _, r := range pattern {
		switch r {
		case '{':
			depth++
			if depth > 1 {
				return fmt.Errorf("%w: nested braces", domain.ErrInvalidTemplate)
			}
		case '}':
			depth--
			if depth < 0 {
				return fmt.Errorf("%w: unbalanced braces", domain.ErrInvalidTemplate)
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("%w: unbalanced braces", domain.ErrInvalidTemplate)
	}

	static := templateVarPattern.ReplaceAllString(pattern, "")
	if strings.ContainsAny(static, invalidStaticChars) {
		return fmt.Errorf("%w: static text contains a forbidden character", domain.ErrInvalidTemplate)
	}

	for _, groups := range templateVarPattern.FindAllStringSubmatch(pattern, -1) {
		if !knownTemplateVars[groups[1]] {
			s.logger.Warn().Str("variable", groups[1]).Msg("Template references unknown variable")
		}
	}
	return nil
}

// sanitizeFileNameValue restricts a substitution value to [A-Za-z0-9_.-],
// mapping spaces to underscores first and collapsing the runs stripping
// leaves behind.
func sanitizeFileNameValue(v string) string {
	v = strings.ReplaceAll(v, " ", "_")
	v = fileNameSanitizer.ReplaceAllString(v, "")
	for strings.Contains(v, "__") {
		v = strings.ReplaceAll(v, "__", "_")
	}
	return strings.Trim(v, "_")
}

func applyCaseConversion(name string, c domain.CaseConversion) string {
	switch c {
	case domain.CaseConversionUpper:
		return strings.ToUpper(name)
	case domain.CaseConversionLower:
		return strings.ToLower(name)
	case domain.CaseConversionCapitalize:
		if name == "" {
			return name
		}
		return strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
	}
	return name
}

// javaToGoLayout translates the date patterns templates are configured with
// (yyyyMMdd and friends) into Go reference layouts.
func javaToGoLayout(pattern string) string {
	replacer := strings.NewReplacer(
		"yyyy", "2006",
		"yy", "06",
		"MM", "01",
		"dd", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	)
	return replacer.Replace(pattern)
}

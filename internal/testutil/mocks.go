package testutil

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/shopspring/decimal"
)

// MockTxRunner satisfies service.TxRunner by running the function directly.
// Rollback semantics are not simulated; tests assert on the visible effects.
type MockTxRunner struct{}

func (MockTxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (MockTxRunner) WithinNewTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// MockBucketRepository is a map-backed domain.BucketRepository.
type MockBucketRepository struct {
	Buckets  map[uuid.UUID]*domain.Bucket
	CreateFn func(bucket *domain.Bucket) (*domain.Bucket, error)
	UpdateFn func(bucket *domain.Bucket) error
}

// NewMockBucketRepository creates a new MockBucketRepository.
func NewMockBucketRepository() *MockBucketRepository {
	return &MockBucketRepository{Buckets: make(map[uuid.UUID]*domain.Bucket)}
}

// AddBucket seeds a bucket (helper for tests).
func (m *MockBucketRepository) AddBucket(b *domain.Bucket) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	m.Buckets[b.ID] = b
}

func (m *MockBucketRepository) Create(_ context.Context, bucket *domain.Bucket) (*domain.Bucket, error) {
	if m.CreateFn != nil {
		return m.CreateFn(bucket)
	}
	for _, b := range m.Buckets {
		if b.Status == domain.BucketStatusAccumulating && sameKey(b, bucket) {
			return nil, domain.ErrAlreadyExists
		}
	}
	bucket.CreatedAt = time.Now()
	bucket.UpdatedAt = bucket.CreatedAt
	m.Buckets[bucket.ID] = bucket
	return bucket, nil
}

func sameKey(a, b *domain.Bucket) bool {
	return a.BucketingRuleID == b.BucketingRuleID &&
		a.PayerID == b.PayerID && a.PayeeID == b.PayeeID &&
		strPtrEq(a.BINNumber, b.BINNumber) && strPtrEq(a.PCNNumber, b.PCNNumber)
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m *MockBucketRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Bucket, error) {
	if b, ok := m.Buckets[id]; ok {
		return b, nil
	}
	return nil, domain.ErrBucketNotFound
}

func (m *MockBucketRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.Bucket, error) {
	return m.GetByID(ctx, id)
}

func (m *MockBucketRepository) FindAccumulating(_ context.Context, key domain.BucketKey) (*domain.Bucket, error) {
	for _, b := range m.Buckets {
		if b.Status != domain.BucketStatusAccumulating {
			continue
		}
		if b.BucketingRuleID == key.BucketingRuleID && b.PayerID == key.PayerID &&
			b.PayeeID == key.PayeeID && strPtrEq(b.BINNumber, key.BINNumber) &&
			strPtrEq(b.PCNNumber, key.PCNNumber) {
			return b, nil
		}
	}
	return nil, domain.ErrBucketNotFound
}

func (m *MockBucketRepository) ListByStatus(_ context.Context, status domain.BucketStatus) ([]*domain.Bucket, error) {
	var out []*domain.Bucket
	for _, b := range m.Buckets {
		if b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockBucketRepository) ListOlderThan(_ context.Context, cutoff time.Time, statuses []domain.BucketStatus) ([]*domain.Bucket, error) {
	var out []*domain.Bucket
	for _, b := range m.Buckets {
		if !b.CreatedAt.Before(cutoff) {
			continue
		}
		for _, s := range statuses {
			if b.Status == s {
				out = append(out, b)
				break
			}
		}
	}
	return out, nil
}

func (m *MockBucketRepository) Update(_ context.Context, bucket *domain.Bucket) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(bucket)
	}
	if _, ok := m.Buckets[bucket.ID]; !ok {
		return domain.ErrBucketNotFound
	}
	bucket.UpdatedAt = time.Now()
	m.Buckets[bucket.ID] = bucket
	return nil
}

// MockClaimLogRepository is an append-only domain.ClaimLogRepository.
type MockClaimLogRepository struct {
	Logs     []*domain.ClaimProcessingLog
	CreateFn func(entry *domain.ClaimProcessingLog) (*domain.ClaimProcessingLog, error)
}

// NewMockClaimLogRepository creates a new MockClaimLogRepository.
func NewMockClaimLogRepository() *MockClaimLogRepository {
	return &MockClaimLogRepository{}
}

func (m *MockClaimLogRepository) Create(_ context.Context, entry *domain.ClaimProcessingLog) (*domain.ClaimProcessingLog, error) {
	if m.CreateFn != nil {
		return m.CreateFn(entry)
	}
	entry.ProcessedAt = time.Now()
	m.Logs = append(m.Logs, entry)
	return entry, nil
}

func (m *MockClaimLogRepository) ListProcessedByBucket(_ context.Context, bucketID uuid.UUID) ([]*domain.ClaimProcessingLog, error) {
	var out []*domain.ClaimProcessingLog
	for _, l := range m.Logs {
		if l.BucketID != nil && *l.BucketID == bucketID && l.Outcome == domain.ClaimOutcomeProcessed {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *MockClaimLogRepository) CountProcessedByBucket(ctx context.Context, bucketID uuid.UUID) (int64, error) {
	logs, _ := m.ListProcessedByBucket(ctx, bucketID)
	return int64(len(logs)), nil
}

func (m *MockClaimLogRepository) SumPaidByBucket(ctx context.Context, bucketID uuid.UUID) (decimal.Decimal, error) {
	logs, _ := m.ListProcessedByBucket(ctx, bucketID)
	sum := decimal.Zero
	for _, l := range logs {
		if l.PaidAmount != nil {
			sum = sum.Add(*l.PaidAmount)
		}
	}
	return sum, nil
}

// Rejected returns the REJECTED entries (helper for tests).
func (m *MockClaimLogRepository) Rejected() []*domain.ClaimProcessingLog {
	var out []*domain.ClaimProcessingLog
	for _, l := range m.Logs {
		if l.Outcome == domain.ClaimOutcomeRejected {
			out = append(out, l)
		}
	}
	return out
}

// MockPayerRepository is a map-backed domain.PayerRepository.
type MockPayerRepository struct {
	Payers map[string]*domain.Payer
}

// NewMockPayerRepository creates a new MockPayerRepository.
func NewMockPayerRepository() *MockPayerRepository {
	return &MockPayerRepository{Payers: make(map[string]*domain.Payer)}
}

// AddPayer seeds a payer (helper for tests).
func (m *MockPayerRepository) AddPayer(p *domain.Payer) { m.Payers[p.PayerID] = p }

func (m *MockPayerRepository) GetByPayerID(_ context.Context, payerID string) (*domain.Payer, error) {
	if p, ok := m.Payers[payerID]; ok {
		return p, nil
	}
	return nil, domain.ErrPayerNotFound
}

func (m *MockPayerRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Payer, error) {
	for _, p := range m.Payers {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, domain.ErrPayerNotFound
}

func (m *MockPayerRepository) Create(_ context.Context, payer *domain.Payer) (*domain.Payer, error) {
	if _, ok := m.Payers[payer.PayerID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	m.Payers[payer.PayerID] = payer
	return payer, nil
}

// MockPayeeRepository is a map-backed domain.PayeeRepository.
type MockPayeeRepository struct {
	Payees map[string]*domain.Payee
}

// NewMockPayeeRepository creates a new MockPayeeRepository.
func NewMockPayeeRepository() *MockPayeeRepository {
	return &MockPayeeRepository{Payees: make(map[string]*domain.Payee)}
}

// AddPayee seeds a payee (helper for tests).
func (m *MockPayeeRepository) AddPayee(p *domain.Payee) { m.Payees[p.PayeeID] = p }

func (m *MockPayeeRepository) GetByPayeeID(_ context.Context, payeeID string) (*domain.Payee, error) {
	if p, ok := m.Payees[payeeID]; ok {
		return p, nil
	}
	return nil, domain.ErrPayeeNotFound
}

func (m *MockPayeeRepository) Create(_ context.Context, payee *domain.Payee) (*domain.Payee, error) {
	if _, ok := m.Payees[payee.PayeeID]; ok {
		return nil, domain.ErrAlreadyExists
	}
	m.Payees[payee.PayeeID] = payee
	return payee, nil
}

// MockThresholdRepository returns thresholds in insertion order.
type MockThresholdRepository struct {
	Thresholds []*domain.GenerationThreshold
}

// NewMockThresholdRepository creates a new MockThresholdRepository.
func NewMockThresholdRepository() *MockThresholdRepository {
	return &MockThresholdRepository{}
}

// AddThreshold seeds a threshold (helper for tests).
func (m *MockThresholdRepository) AddThreshold(t *domain.GenerationThreshold) {
	m.Thresholds = append(m.Thresholds, t)
}

func (m *MockThresholdRepository) ListActiveByRule(_ context.Context, ruleID uuid.UUID) ([]*domain.GenerationThreshold, error) {
	var out []*domain.GenerationThreshold
	for _, t := range m.Thresholds {
		if t.LinkedBucketingRuleID == ruleID && t.IsActive {
			out = append(out, t)
		}
	}
	return out, nil
}

// MockCommitCriteriaRepository returns criteria in insertion order.
type MockCommitCriteriaRepository struct {
	Criteria []*domain.CommitCriteria
}

// NewMockCommitCriteriaRepository creates a new MockCommitCriteriaRepository.
func NewMockCommitCriteriaRepository() *MockCommitCriteriaRepository {
	return &MockCommitCriteriaRepository{}
}

// AddCriteria seeds a commit criteria row (helper for tests).
func (m *MockCommitCriteriaRepository) AddCriteria(c *domain.CommitCriteria) {
	m.Criteria = append(m.Criteria, c)
}

func (m *MockCommitCriteriaRepository) ListActiveByRule(_ context.Context, ruleID uuid.UUID) ([]*domain.CommitCriteria, error) {
	var out []*domain.CommitCriteria
	for _, c := range m.Criteria {
		if c.LinkedBucketingRuleID == ruleID && c.IsActive {
			out = append(out, c)
		}
	}
	return out, nil
}

// MockWorkflowConfigRepository maps thresholds to workflow configs.
type MockWorkflowConfigRepository struct {
	ByThreshold map[uuid.UUID]*domain.WorkflowConfig
}

// NewMockWorkflowConfigRepository creates a new MockWorkflowConfigRepository.
func NewMockWorkflowConfigRepository() *MockWorkflowConfigRepository {
	return &MockWorkflowConfigRepository{ByThreshold: make(map[uuid.UUID]*domain.WorkflowConfig)}
}

// AddWorkflow seeds a workflow config (helper for tests).
func (m *MockWorkflowConfigRepository) AddWorkflow(w *domain.WorkflowConfig) {
	m.ByThreshold[w.GenerationThresholdID] = w
}

func (m *MockWorkflowConfigRepository) GetActiveByThreshold(_ context.Context, thresholdID uuid.UUID) (*domain.WorkflowConfig, error) {
	if w, ok := m.ByThreshold[thresholdID]; ok && w.IsActive {
		return w, nil
	}
	return nil, domain.ErrNotFound
}

// MockTemplateRepository is a map-backed domain.TemplateRepository.
type MockTemplateRepository struct {
	Templates map[uuid.UUID]*domain.FileNamingTemplate
}

// NewMockTemplateRepository creates a new MockTemplateRepository.
func NewMockTemplateRepository() *MockTemplateRepository {
	return &MockTemplateRepository{Templates: make(map[uuid.UUID]*domain.FileNamingTemplate)}
}

// AddTemplate seeds a template (helper for tests).
func (m *MockTemplateRepository) AddTemplate(t *domain.FileNamingTemplate) {
	m.Templates[t.ID] = t
}

func (m *MockTemplateRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.FileNamingTemplate, error) {
	if t, ok := m.Templates[id]; ok {
		return t, nil
	}
	return nil, domain.ErrTemplateNotFound
}

func (m *MockTemplateRepository) GetByRule(_ context.Context, ruleID uuid.UUID) (*domain.FileNamingTemplate, error) {
	for _, t := range m.Templates {
		if t.LinkedBucketingRuleID != nil && *t.LinkedBucketingRuleID == ruleID {
			return t, nil
		}
	}
	return nil, domain.ErrTemplateNotFound
}

func (m *MockTemplateRepository) GetDefault(_ context.Context) (*domain.FileNamingTemplate, error) {
	for _, t := range m.Templates {
		if t.IsDefault {
			return t, nil
		}
	}
	return nil, domain.ErrTemplateNotFound
}

type sequenceKey struct {
	templateID uuid.UUID
	payerID    string
}

// MockSequenceRepository is a map-backed domain.SequenceRepository.
type MockSequenceRepository struct {
	Sequences map[sequenceKey]*domain.FileNamingSequence
	// DefaultResetFrequency applies to sequences created on first use.
	DefaultResetFrequency domain.ResetFrequency
}

// NewMockSequenceRepository creates a new MockSequenceRepository.
func NewMockSequenceRepository() *MockSequenceRepository {
	return &MockSequenceRepository{
		Sequences:             make(map[sequenceKey]*domain.FileNamingSequence),
		DefaultResetFrequency: domain.ResetFrequencyNever,
	}
}

// AddSequence seeds a counter row (helper for tests).
func (m *MockSequenceRepository) AddSequence(s *domain.FileNamingSequence) {
	key := sequenceKey{templateID: s.TemplateID}
	if s.PayerID != nil {
		key.payerID = *s.PayerID
	}
	m.Sequences[key] = s
}

func (m *MockSequenceRepository) GetForUpdate(_ context.Context, templateID uuid.UUID, payerID *string) (*domain.FileNamingSequence, error) {
	key := sequenceKey{templateID: templateID}
	if payerID != nil {
		key.payerID = *payerID
	}
	if s, ok := m.Sequences[key]; ok {
		return s, nil
	}
	s := &domain.FileNamingSequence{
		TemplateID:      templateID,
		PayerID:         payerID,
		CurrentSequence: 0,
		ResetFrequency:  m.DefaultResetFrequency,
		LastResetAt:     time.Now(),
	}
	m.Sequences[key] = s
	return s, nil
}

func (m *MockSequenceRepository) Save(_ context.Context, seq *domain.FileNamingSequence) error {
	key := sequenceKey{templateID: seq.TemplateID}
	if seq.PayerID != nil {
		key.payerID = *seq.PayerID
	}
	m.Sequences[key] = seq
	return nil
}

// MockReservationRepository is a map-backed domain.ReservationRepository.
type MockReservationRepository struct {
	Reservations map[uuid.UUID]*domain.CheckReservation
	UpdateFn     func(r *domain.CheckReservation) error
}

// NewMockReservationRepository creates a new MockReservationRepository.
func NewMockReservationRepository() *MockReservationRepository {
	return &MockReservationRepository{Reservations: make(map[uuid.UUID]*domain.CheckReservation)}
}

// AddReservation seeds a reservation (helper for tests).
func (m *MockReservationRepository) AddReservation(r *domain.CheckReservation) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.Reservations[r.ID] = r
}

func (m *MockReservationRepository) Create(_ context.Context, r *domain.CheckReservation) (*domain.CheckReservation, error) {
	r.CreatedAt = time.Now()
	m.Reservations[r.ID] = r
	return r, nil
}

func (m *MockReservationRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.CheckReservation, error) {
	if r, ok := m.Reservations[id]; ok {
		return r, nil
	}
	return nil, domain.ErrReservationNotFound
}

func (m *MockReservationRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*domain.CheckReservation, error) {
	return m.GetByID(ctx, id)
}

func (m *MockReservationRepository) OldestActiveForUpdate(_ context.Context, payerID uuid.UUID) (*domain.CheckReservation, error) {
	var oldest *domain.CheckReservation
	for _, r := range m.Reservations {
		if r.PayerID != payerID || r.Status != domain.ReservationStatusActive || r.ChecksUsed >= r.TotalChecks {
			continue
		}
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, domain.ErrNotFound
	}
	return oldest, nil
}

func (m *MockReservationRepository) ListOverlapping(_ context.Context, payerID uuid.UUID, startNum, endNum int64) ([]*domain.CheckReservation, error) {
	var out []*domain.CheckReservation
	for _, r := range m.Reservations {
		if r.PayerID != payerID || r.Status == domain.ReservationStatusCancelled {
			continue
		}
		s := domain.CheckNumberNumericPart(r.CheckNumberStart)
		e := domain.CheckNumberNumericPart(r.CheckNumberEnd)
		if s <= endNum && e >= startNum {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockReservationRepository) Update(_ context.Context, r *domain.CheckReservation) error {
	if m.UpdateFn != nil {
		return m.UpdateFn(r)
	}
	if _, ok := m.Reservations[r.ID]; !ok {
		return domain.ErrReservationNotFound
	}
	m.Reservations[r.ID] = r
	return nil
}

// MockCheckPaymentRepository is a map-backed domain.CheckPaymentRepository.
type MockCheckPaymentRepository struct {
	Payments map[uuid.UUID]*domain.CheckPayment
	CreateFn func(p *domain.CheckPayment) (*domain.CheckPayment, error)
}

// NewMockCheckPaymentRepository creates a new MockCheckPaymentRepository.
func NewMockCheckPaymentRepository() *MockCheckPaymentRepository {
	return &MockCheckPaymentRepository{Payments: make(map[uuid.UUID]*domain.CheckPayment)}
}

// AddPayment seeds a payment (helper for tests).
func (m *MockCheckPaymentRepository) AddPayment(p *domain.CheckPayment) { m.Payments[p.ID] = p }

func (m *MockCheckPaymentRepository) Create(_ context.Context, p *domain.CheckPayment) (*domain.CheckPayment, error) {
	if m.CreateFn != nil {
		return m.CreateFn(p)
	}
	for _, existing := range m.Payments {
		if existing.BucketID == p.BucketID || existing.CheckNumber == p.CheckNumber {
			return nil, domain.ErrAlreadyExists
		}
	}
	m.Payments[p.ID] = p
	return p, nil
}

func (m *MockCheckPaymentRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.CheckPayment, error) {
	if p, ok := m.Payments[id]; ok {
		return p, nil
	}
	return nil, domain.ErrCheckNotFound
}

func (m *MockCheckPaymentRepository) GetByBucketID(_ context.Context, bucketID uuid.UUID) (*domain.CheckPayment, error) {
	for _, p := range m.Payments {
		if p.BucketID == bucketID {
			return p, nil
		}
	}
	return nil, domain.ErrCheckNotFound
}

func (m *MockCheckPaymentRepository) Update(_ context.Context, p *domain.CheckPayment) error {
	if _, ok := m.Payments[p.ID]; !ok {
		return domain.ErrCheckNotFound
	}
	m.Payments[p.ID] = p
	return nil
}

// MockCheckAuditRepository is an append-only domain.CheckAuditRepository.
type MockCheckAuditRepository struct {
	Entries []*domain.CheckAuditLog
}

// NewMockCheckAuditRepository creates a new MockCheckAuditRepository.
func NewMockCheckAuditRepository() *MockCheckAuditRepository {
	return &MockCheckAuditRepository{}
}

func (m *MockCheckAuditRepository) Create(_ context.Context, entry *domain.CheckAuditLog) (*domain.CheckAuditLog, error) {
	entry.CreatedAt = time.Now()
	m.Entries = append(m.Entries, entry)
	return entry, nil
}

func (m *MockCheckAuditRepository) ListByPayment(_ context.Context, checkPaymentID uuid.UUID) ([]*domain.CheckAuditLog, error) {
	var out []*domain.CheckAuditLog
	for _, e := range m.Entries {
		if e.CheckPaymentID == checkPaymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MockApprovalLogRepository is an append-only domain.ApprovalLogRepository.
type MockApprovalLogRepository struct {
	Entries  []*domain.ApprovalLog
	CreateFn func(entry *domain.ApprovalLog) (*domain.ApprovalLog, error)
}

// NewMockApprovalLogRepository creates a new MockApprovalLogRepository.
func NewMockApprovalLogRepository() *MockApprovalLogRepository {
	return &MockApprovalLogRepository{}
}

func (m *MockApprovalLogRepository) Create(_ context.Context, entry *domain.ApprovalLog) (*domain.ApprovalLog, error) {
	if m.CreateFn != nil {
		return m.CreateFn(entry)
	}
	entry.CreatedAt = time.Now()
	m.Entries = append(m.Entries, entry)
	return entry, nil
}

func (m *MockApprovalLogRepository) ListByBucket(_ context.Context, bucketID uuid.UUID) ([]*domain.ApprovalLog, error) {
	var out []*domain.ApprovalLog
	for _, e := range m.Entries {
		if e.BucketID == bucketID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MockFileHistoryRepository is a map-backed domain.FileHistoryRepository.
type MockFileHistoryRepository struct {
	Files    map[uuid.UUID]*domain.FileGenerationHistory
	CreateFn func(h *domain.FileGenerationHistory) (*domain.FileGenerationHistory, error)
}

// NewMockFileHistoryRepository creates a new MockFileHistoryRepository.
func NewMockFileHistoryRepository() *MockFileHistoryRepository {
	return &MockFileHistoryRepository{Files: make(map[uuid.UUID]*domain.FileGenerationHistory)}
}

// AddFile seeds a history row (helper for tests).
func (m *MockFileHistoryRepository) AddFile(h *domain.FileGenerationHistory) { m.Files[h.ID] = h }

func (m *MockFileHistoryRepository) Create(_ context.Context, h *domain.FileGenerationHistory) (*domain.FileGenerationHistory, error) {
	if m.CreateFn != nil {
		return m.CreateFn(h)
	}
	for _, existing := range m.Files {
		if existing.GeneratedFileName == h.GeneratedFileName {
			return nil, domain.ErrAlreadyExists
		}
	}
	h.GeneratedAt = time.Now()
	m.Files[h.ID] = h
	return h, nil
}

func (m *MockFileHistoryRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.FileGenerationHistory, error) {
	if h, ok := m.Files[id]; ok {
		return h, nil
	}
	return nil, domain.ErrFileNotFound
}

func (m *MockFileHistoryRepository) ListByBucket(_ context.Context, bucketID uuid.UUID) ([]*domain.FileGenerationHistory, error) {
	var out []*domain.FileGenerationHistory
	for _, h := range m.Files {
		if h.BucketID == bucketID {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.After(out[j].GeneratedAt) })
	return out, nil
}

func (m *MockFileHistoryRepository) ListPending(_ context.Context, limit int32) ([]*domain.FileGenerationHistory, error) {
	var out []*domain.FileGenerationHistory
	for _, h := range m.Files {
		if h.DeliveryStatus == domain.DeliveryStatusPending {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratedAt.Before(out[j].GeneratedAt) })
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockFileHistoryRepository) ListFailedRetryable(_ context.Context, maxRetries int32, limit int32) ([]*domain.FileGenerationHistory, error) {
	var out []*domain.FileGenerationHistory
	for _, h := range m.Files {
		if (h.DeliveryStatus == domain.DeliveryStatusFailed || h.DeliveryStatus == domain.DeliveryStatusRetry) &&
			h.RetryCount < maxRetries {
			out = append(out, h)
		}
	}
	if int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockFileHistoryRepository) Update(_ context.Context, h *domain.FileGenerationHistory) error {
	if _, ok := m.Files[h.ID]; !ok {
		return domain.ErrFileNotFound
	}
	m.Files[h.ID] = h
	return nil
}

// MockSettingsRepository is a map-backed domain.SettingsRepository.
type MockSettingsRepository struct {
	Values map[string]string
}

// NewMockSettingsRepository creates a new MockSettingsRepository.
func NewMockSettingsRepository() *MockSettingsRepository {
	return &MockSettingsRepository{Values: make(map[string]string)}
}

func (m *MockSettingsRepository) Get(_ context.Context, key string) (*string, error) {
	if v, ok := m.Values[key]; ok {
		return &v, nil
	}
	return nil, nil
}

func (m *MockSettingsRepository) Set(_ context.Context, key, value string) error {
	m.Values[key] = value
	return nil
}

// MockUploader is a scripted sftpx.Uploader: it fails FailuresRemaining
// times, then succeeds, recording every attempt.
type MockUploader struct {
	FailuresRemaining int
	Uploaded          []string
	Err               error
}

func (m *MockUploader) Upload(_ domain.SftpConfig, fileName string, _ []byte) error {
	if m.FailuresRemaining > 0 {
		m.FailuresRemaining--
		if m.Err != nil {
			return m.Err
		}
		return errTransient
	}
	m.Uploaded = append(m.Uploaded, fileName)
	return nil
}

var errTransient = &transientError{}

type transientError struct{}

func (*transientError) Error() string { return "connection reset by peer" }

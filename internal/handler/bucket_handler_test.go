package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pillarhealth/remit/remit-backend/internal/config"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/event"
	"github.com/pillarhealth/remit/remit-backend/internal/service"
	"github.com/pillarhealth/remit/remit-backend/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	buckets *testutil.MockBucketRepository
	h       *BucketHandler
}

func newHandlerFixture() *handlerFixture {
	buckets := testutil.NewMockBucketRepository()
	thresholds := testutil.NewMockThresholdRepository()
	workflows := testutil.NewMockWorkflowConfigRepository()
	settings := service.NewSettingsService(testutil.NewMockSettingsRepository(), &config.Config{})
	manager := service.NewBucketManager(
		buckets, thresholds, testutil.NewMockCommitCriteriaRepository(), workflows,
		testutil.MockTxRunner{}, event.NewBus(), settings, zerolog.Nop(),
	)
	resSvc := service.NewReservationService(
		testutil.NewMockReservationRepository(), settings, testutil.MockTxRunner{}, false, zerolog.Nop())
	payments := service.NewCheckPaymentService(
		testutil.NewMockCheckPaymentRepository(), testutil.NewMockCheckAuditRepository(),
		buckets, testutil.NewMockPayerRepository(), resSvc, settings,
		testutil.MockTxRunner{}, zerolog.Nop(),
	)
	payments.SetGenerationTrigger(manager)
	manager.SetCheckAssigner(payments)
	approvals := service.NewApprovalService(
		buckets, testutil.NewMockApprovalLogRepository(), thresholds, workflows,
		manager, payments, testutil.MockTxRunner{}, zerolog.Nop(),
	)
	return &handlerFixture{
		buckets: buckets,
		h:       NewBucketHandler(manager, approvals, payments, buckets),
	}
}

func (f *handlerFixture) seedPending() *domain.Bucket {
	now := time.Now()
	b := &domain.Bucket{
		ID:                    uuid.New(),
		BucketingRuleID:       uuid.New(),
		PayerID:               "BCBS",
		PayerName:             "Blue Cross",
		PayeeID:               "PHR_001",
		PayeeName:             "Pharmacy",
		Status:                domain.BucketStatusPendingApproval,
		ClaimCount:            1,
		TotalAmount:           decimal.RequireFromString("100.00"),
		AwaitingApprovalSince: &now,
	}
	f.buckets.AddBucket(b)
	return b
}

func doJSON(t *testing.T, handler echo.HandlerFunc, method, path, body string, params map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	require.NoError(t, handler(c))
	return rec
}

func TestBucketHandler_Approve(t *testing.T) {
	f := newHandlerFixture()
	bucket := f.seedPending()

	rec := doJSON(t, f.h.Approve, http.MethodPost, "/api/buckets/"+bucket.ID.String()+"/approve",
		`{"performedBy":"manager","comments":"ok"}`, map[string]string{"id": bucket.ID.String()})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, domain.BucketStatusGenerating, bucket.Status)
}

func TestBucketHandler_Approve_MissingPerformer(t *testing.T) {
	f := newHandlerFixture()
	bucket := f.seedPending()

	rec := doJSON(t, f.h.Approve, http.MethodPost, "/approve",
		`{}`, map[string]string{"id": bucket.ID.String()})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBucketHandler_Approve_WrongStateIsConflict(t *testing.T) {
	f := newHandlerFixture()
	bucket := f.seedPending()
	bucket.Status = domain.BucketStatusCompleted

	rec := doJSON(t, f.h.Approve, http.MethodPost, "/approve",
		`{"performedBy":"manager"}`, map[string]string{"id": bucket.ID.String()})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBucketHandler_Approve_NotFound(t *testing.T) {
	f := newHandlerFixture()

	rec := doJSON(t, f.h.Approve, http.MethodPost, "/approve",
		`{"performedBy":"manager"}`, map[string]string{"id": uuid.NewString()})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBucketHandler_Reject(t *testing.T) {
	f := newHandlerFixture()
	bucket := f.seedPending()

	rec := doJSON(t, f.h.Reject, http.MethodPost, "/reject",
		`{"performedBy":"U","reason":"duplicate"}`, map[string]string{"id": bucket.ID.String()})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, domain.BucketStatusFailed, bucket.Status)
}

func TestBucketHandler_Reject_EmptyReason(t *testing.T) {
	f := newHandlerFixture()
	bucket := f.seedPending()

	rec := doJSON(t, f.h.Reject, http.MethodPost, "/reject",
		`{"performedBy":"U","reason":""}`, map[string]string{"id": bucket.ID.String()})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBucketHandler_AssignCheck(t *testing.T) {
	f := newHandlerFixture()
	bucket := f.seedPending()
	bucket.PaymentRequired = true

	rec := doJSON(t, f.h.AssignCheck, http.MethodPost, "/check",
		`{"checkNumber":"90001","performedBy":"ops"}`, map[string]string{"id": bucket.ID.String()})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, domain.PaymentStatusAssigned, bucket.PaymentStatus)
}

func TestBucketHandler_InvalidID(t *testing.T) {
	f := newHandlerFixture()

	rec := doJSON(t, f.h.Get, http.MethodGet, "/api/buckets/nope", "", map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

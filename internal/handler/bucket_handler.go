package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/service"
	"github.com/shopspring/decimal"
)

// BucketHandler exposes the operational bucket actions an administrator
// console drives: approvals, rejections, resets and check assignment.
type BucketHandler struct {
	manager   *service.BucketManager
	approvals *service.ApprovalService
	payments  *service.CheckPaymentService
	buckets   domain.BucketRepository
}

// NewBucketHandler creates a new BucketHandler.
func NewBucketHandler(
	manager *service.BucketManager,
	approvals *service.ApprovalService,
	payments *service.CheckPaymentService,
	buckets domain.BucketRepository,
) *BucketHandler {
	return &BucketHandler{manager: manager, approvals: approvals, payments: payments, buckets: buckets}
}

// List handles GET /api/buckets?status=
func (h *BucketHandler) List(c echo.Context) error {
	status := domain.BucketStatus(c.QueryParam("status"))
	if status == "" {
		status = domain.BucketStatusAccumulating
	}
	buckets, err := h.buckets.ListByStatus(c.Request().Context(), status)
	if err != nil {
		return NewInternalError(c, err.Error())
	}
	return c.JSON(http.StatusOK, buckets)
}

// Get handles GET /api/buckets/:id
func (h *BucketHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	bucket, err := h.manager.GetBucket(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, bucket)
}

type approvalRequest struct {
	PerformedBy string `json:"performedBy"`
	Comments    string `json:"comments"`
	Reason      string `json:"reason"`
}

// Approve handles POST /api/buckets/:id/approve
func (h *BucketHandler) Approve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	if req.PerformedBy == "" {
		return NewValidationError(c, "performedBy is required")
	}
	if err := h.approvals.ApproveBucket(c.Request().Context(), id, req.PerformedBy, req.Comments); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Reject handles POST /api/buckets/:id/reject
func (h *BucketHandler) Reject(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	if err := h.approvals.RejectBucket(c.Request().Context(), id, req.PerformedBy, req.Reason); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Reset handles POST /api/buckets/:id/reset
func (h *BucketHandler) Reset(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	var req approvalRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	if err := h.approvals.ResetFailedBucket(c.Request().Context(), id, req.PerformedBy, req.Reason); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type bulkApprovalRequest struct {
	BucketIDs   []uuid.UUID `json:"bucketIds"`
	PerformedBy string      `json:"performedBy"`
	Comments    string      `json:"comments"`
}

// BulkApprove handles POST /api/buckets/bulk-approve
func (h *BucketHandler) BulkApprove(c echo.Context) error {
	var req bulkApprovalRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	if len(req.BucketIDs) == 0 {
		return NewValidationError(c, "bucketIds is required")
	}
	approved := h.approvals.BulkApproveBuckets(c.Request().Context(), req.BucketIDs, req.PerformedBy, req.Comments)
	return c.JSON(http.StatusOK, map[string]int{"approved": approved})
}

type checkRequest struct {
	CheckNumber string           `json:"checkNumber"`
	CheckAmount *decimal.Decimal `json:"checkAmount,omitempty"`
	PerformedBy string           `json:"performedBy"`
	Notes       string           `json:"notes"`
}

// AssignCheck handles POST /api/buckets/:id/check
func (h *BucketHandler) AssignCheck(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	payment, err := h.payments.AssignCheckManually(c.Request().Context(), id, service.ManualCheckInput{
		CheckNumber: req.CheckNumber,
		CheckAmount: req.CheckAmount,
		PerformedBy: req.PerformedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, payment)
}

// ReplaceCheck handles POST /api/buckets/:id/check/replace
func (h *BucketHandler) ReplaceCheck(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	payment, err := h.payments.ReplaceCheck(c.Request().Context(), id, service.ManualCheckInput{
		CheckNumber: req.CheckNumber,
		CheckAmount: req.CheckAmount,
		PerformedBy: req.PerformedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, payment)
}

func (h *BucketHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrBucketNotFound), errors.Is(err, domain.ErrCheckNotFound),
		errors.Is(err, domain.ErrNotFound):
		return NewNotFoundError(c, err.Error())
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrPaymentRequired):
		return NewConflictError(c, err.Error())
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrEmptyRejectionReason):
		return NewValidationError(c, err.Error())
	default:
		return NewInternalError(c, err.Error())
	}
}

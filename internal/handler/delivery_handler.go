package handler

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pillarhealth/remit/remit-backend/internal/domain"
	"github.com/pillarhealth/remit/remit-backend/internal/service"
)

// DeliveryHandler exposes the operational delivery actions: retriggering a
// delivery and the manual delivered override.
type DeliveryHandler struct {
	delivery *service.DeliveryService
	files    domain.FileHistoryRepository
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(delivery *service.DeliveryService, files domain.FileHistoryRepository) *DeliveryHandler {
	return &DeliveryHandler{delivery: delivery, files: files}
}

// ListForBucket handles GET /api/buckets/:id/files
func (h *DeliveryHandler) ListForBucket(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid bucket id")
	}
	files, err := h.files.ListByBucket(c.Request().Context(), id)
	if err != nil {
		return NewInternalError(c, err.Error())
	}
	return c.JSON(http.StatusOK, files)
}

// Deliver handles POST /api/files/:id/deliver
func (h *DeliveryHandler) Deliver(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid file id")
	}
	if err := h.delivery.DeliverFile(c.Request().Context(), id); err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			return NewNotFoundError(c, err.Error())
		}
		return NewInternalError(c, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type markDeliveredRequest struct {
	PerformedBy string `json:"performedBy"`
}

// MarkDelivered handles POST /api/files/:id/mark-delivered
func (h *DeliveryHandler) MarkDelivered(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "invalid file id")
	}
	var req markDeliveredRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	if req.PerformedBy == "" {
		return NewValidationError(c, "performedBy is required")
	}
	if err := h.delivery.MarkAsDelivered(c.Request().Context(), id, req.PerformedBy); err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			return NewNotFoundError(c, err.Error())
		}
		return NewInternalError(c, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

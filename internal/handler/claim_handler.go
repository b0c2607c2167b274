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

// ClaimHandler is the boundary where the upstream NCPDP intake hands the
// core its normalized claims.
type ClaimHandler struct {
	aggregator *service.AggregatorService
	rules      domain.BucketingRuleRepository
}

// NewClaimHandler creates a new ClaimHandler.
func NewClaimHandler(aggregator *service.AggregatorService, rules domain.BucketingRuleRepository) *ClaimHandler {
	return &ClaimHandler{aggregator: aggregator, rules: rules}
}

type claimRequest struct {
	ID                string          `json:"id"`
	PayerID           string          `json:"payerId"`
	PayeeID           string          `json:"payeeId"`
	BINNumber         *string         `json:"binNumber,omitempty"`
	PCNNumber         *string         `json:"pcnNumber,omitempty"`
	TotalChargeAmount decimal.Decimal `json:"totalChargeAmount"`
	PaidAmount        decimal.Decimal `json:"paidAmount"`
	Status            string          `json:"status"`
	RuleID            *uuid.UUID      `json:"ruleId,omitempty"`
}

// Ingest handles POST /api/claims. Without an explicit ruleId the claim runs
// under the highest-priority active rule.
func (h *ClaimHandler) Ingest(c echo.Context) error {
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "invalid request body")
	}
	if req.ID == "" {
		return NewValidationError(c, "claim id is required")
	}

	ctx := c.Request().Context()
	rule, err := h.resolveRule(c, req.RuleID)
	if err != nil {
		if errors.Is(err, domain.ErrRuleNotFound) {
			return NewNotFoundError(c, err.Error())
		}
		return NewInternalError(c, err.Error())
	}

	claim := &domain.Claim{
		ID:                req.ID,
		PayerID:           req.PayerID,
		PayeeID:           req.PayeeID,
		BINNumber:         req.BINNumber,
		PCNNumber:         req.PCNNumber,
		TotalChargeAmount: req.TotalChargeAmount,
		PaidAmount:        req.PaidAmount,
		Status:            req.Status,
	}
	if err := h.aggregator.AggregateClaim(ctx, claim, rule); err != nil {
		// The claim is consumed either way; aggregation failures are
		// recorded as REJECTED processing logs.
		return c.JSON(http.StatusAccepted, map[string]string{"outcome": string(domain.ClaimOutcomeRejected)})
	}
	return c.JSON(http.StatusAccepted, map[string]string{"outcome": string(domain.ClaimOutcomeProcessed)})
}

func (h *ClaimHandler) resolveRule(c echo.Context, ruleID *uuid.UUID) (*domain.BucketingRule, error) {
	ctx := c.Request().Context()
	if ruleID != nil {
		return h.rules.GetByID(ctx, *ruleID)
	}
	rules, err := h.rules.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, domain.ErrRuleNotFound
	}
	return rules[0], nil
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	quotadomain "github.com/hookforge/hookforge/internal/quota/domain"
)

type ensurePeriodRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

type periodResponse struct {
	PlanID      string    `json:"plan_id"`
	Status      string    `json:"status"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// EnsureCurrentPeriod opens (or rolls into) the user's current usage period.
func (s *Server) EnsureCurrentPeriod(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "user id is required"))
		return
	}

	var req ensurePeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan", "plan id is required"))
		return
	}

	entry, err := s.quotaSvc.EnsureCurrentPeriod(c.Request.Context(), userID, strings.TrimSpace(req.PlanID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, periodResponse{
		PlanID:      entry.PlanID,
		Status:      string(entry.Status),
		PeriodStart: entry.PeriodStart,
		PeriodEnd:   entry.PeriodEnd,
	})
}

type consumeRequest struct {
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

type consumeResponse struct {
	Allowed   bool   `json:"allowed"`
	Remaining *int64 `json:"remaining"`
}

// ConsumeQuota checks and consumes quota units. A denied consumption is a
// 200 with allowed=false, not an error: callers branch on it to offer
// overage or an upgrade.
func (s *Server) ConsumeQuota(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	req := consumeRequest{Kind: string(quotadomain.QuotaKindPrimary), Amount: 1}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	result, err := s.quotaSvc.CheckAndConsume(c.Request.Context(), userID, quotadomain.QuotaKind(req.Kind), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, consumeResponse{
		Allowed:   result.Allowed,
		Remaining: result.Remaining,
	})
}

// RefundQuota returns units to the current period after a failed generation.
func (s *Server) RefundQuota(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	req := consumeRequest{Kind: string(quotadomain.QuotaKindPrimary), Amount: 1}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	if err := s.quotaSvc.Refund(c.Request.Context(), userID, quotadomain.QuotaKind(req.Kind), req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type overageRequest struct {
	Units int64 `json:"units" binding:"required"`
}

type overageResponse struct {
	Units        int64 `json:"units"`
	TotalUnits   int64 `json:"total_units"`
	AmountCents  int64 `json:"amount_cents"`
	AccruedCents int64 `json:"accrued_cents"`
}

// RecordOverage bills metered units beyond the primary limit.
func (s *Server) RecordOverage(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	var req overageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("units", "invalid_amount", "units must be positive"))
		return
	}

	result, err := s.quotaSvc.RecordOverage(c.Request.Context(), userID, req.Units)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, overageResponse{
		Units:        result.Units,
		TotalUnits:   result.TotalUnits,
		AmountCents:  result.AmountCents,
		AccruedCents: result.AccruedCents,
	})
}

type snapshotResponse struct {
	PlanID             string    `json:"plan_id"`
	PeriodStart        time.Time `json:"period_start"`
	PeriodEnd          time.Time `json:"period_end"`
	PrimaryUsed        int64     `json:"primary_used"`
	PrimaryRemaining   *int64    `json:"primary_remaining"`
	SecondaryUsed      int64     `json:"secondary_used"`
	SecondaryRemaining *int64    `json:"secondary_remaining"`
	OverageUnits       int64     `json:"overage_units"`
	OverageMaxUnits    int64     `json:"overage_max_units"`
	OverageChargeCents int64     `json:"overage_charge_cents"`
}

// GetQuotaSnapshot returns the user's current period counters.
func (s *Server) GetQuotaSnapshot(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))

	snapshot, err := s.quotaSvc.Remaining(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshotResponse{
		PlanID:             snapshot.PlanID,
		PeriodStart:        snapshot.PeriodStart,
		PeriodEnd:          snapshot.PeriodEnd,
		PrimaryUsed:        snapshot.PrimaryUsed,
		PrimaryRemaining:   snapshot.PrimaryRemaining,
		SecondaryUsed:      snapshot.SecondaryUsed,
		SecondaryRemaining: snapshot.SecondaryRemaining,
		OverageUnits:       snapshot.OverageUnits,
		OverageMaxUnits:    snapshot.OverageMaxUnits,
		OverageChargeCents: snapshot.OverageChargeCents,
	})
}

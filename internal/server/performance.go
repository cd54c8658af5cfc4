package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	performancedomain "github.com/hookforge/hookforge/internal/performance/domain"
)

type recordPerformanceRequest struct {
	UserID       string     `json:"user_id"`
	FormulaCode  string     `json:"formula_code"`
	Platform     string     `json:"platform"`
	Rating       *float64   `json:"rating"`
	WasUsed      bool       `json:"was_used"`
	WasFavorited bool       `json:"was_favorited"`
	RecordedAt   *time.Time `json:"recorded_at"`
}

type recordPerformanceResponse struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RecordPerformance appends one feedback event to the performance stream.
func (s *Server) RecordPerformance(c *gin.Context) {
	var req recordPerformanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	domainReq := performancedomain.RecordRequest{
		UserID:       req.UserID,
		FormulaCode:  req.FormulaCode,
		Platform:     req.Platform,
		Rating:       req.Rating,
		WasUsed:      req.WasUsed,
		WasFavorited: req.WasFavorited,
	}
	if req.RecordedAt != nil {
		domainReq.RecordedAt = *req.RecordedAt
	}

	record, err := s.performanceSvc.Record(c.Request.Context(), domainReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, recordPerformanceResponse{
		ID:         record.ID.String(),
		RecordedAt: record.RecordedAt,
	})
}

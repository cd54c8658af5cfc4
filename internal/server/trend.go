package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	trenddomain "github.com/hookforge/hookforge/internal/trend/domain"
)

type trendResponse struct {
	FormulaCode         string    `json:"formula_code"`
	Platform            string    `json:"platform"`
	WeeklyUsage         int64     `json:"weekly_usage"`
	MonthlyUsage        int64     `json:"monthly_usage"`
	AvgPerformanceScore int       `json:"avg_performance_score"`
	TrendDirection      string    `json:"trend_direction"`
	FatigueLevel        int       `json:"fatigue_level"`
	DataPoints          int64     `json:"data_points"`
	LastCalculated      time.Time `json:"last_calculated"`
}

func toTrendResponses(records []trenddomain.TrendRecord) []trendResponse {
	out := make([]trendResponse, 0, len(records))
	for _, r := range records {
		out = append(out, trendResponse{
			FormulaCode:         r.FormulaCode,
			Platform:            r.Platform,
			WeeklyUsage:         r.WeeklyUsage,
			MonthlyUsage:        r.MonthlyUsage,
			AvgPerformanceScore: r.AvgPerformanceScore,
			TrendDirection:      string(r.TrendDirection),
			FatigueLevel:        r.FatigueLevel,
			DataPoints:          r.DataPoints,
			LastCalculated:      r.LastCalculated,
		})
	}
	return out
}

// ListTrends returns every (formula, platform) trend record.
func (s *Server) ListTrends(c *gin.Context) {
	records, err := s.trendSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": toTrendResponses(records)})
}

// ListTrendsByFormula returns the per-platform trend records of one formula.
func (s *Server) ListTrendsByFormula(c *gin.Context) {
	code := strings.TrimSpace(c.Param("formula_code"))
	if code == "" {
		AbortWithError(c, newValidationError("formula_code", "invalid_formula_code", "formula code is required"))
		return
	}

	records, err := s.trendSvc.ListByFormula(c.Request.Context(), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trends": toTrendResponses(records)})
}

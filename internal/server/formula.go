package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type formulaResponse struct {
	Code                string    `json:"code"`
	DisplayName         string    `json:"display_name"`
	EffectivenessRating int       `json:"effectiveness_rating"`
	AvgEngagementRate   int       `json:"avg_engagement_rate"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ListFormulas returns the active hook formula catalog with current scores.
func (s *Server) ListFormulas(c *gin.Context) {
	formulas, err := s.formulaSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]formulaResponse, 0, len(formulas))
	for _, f := range formulas {
		out = append(out, formulaResponse{
			Code:                f.Code,
			DisplayName:         f.DisplayName,
			EffectivenessRating: f.EffectivenessRating,
			AvgEngagementRate:   f.AvgEngagementRate,
			UpdatedAt:           f.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"formulas": out})
}

type planResponse struct {
	ID             string  `json:"id"`
	DisplayName    string  `json:"display_name"`
	PrimaryLimit   *int64  `json:"primary_limit"`
	SecondaryLimit *int64  `json:"secondary_limit"`
	ResetCadence   string  `json:"reset_cadence"`
	OverageMaxFrac float64 `json:"overage_max_fraction"`
	OverageCents   int64   `json:"overage_unit_cents"`
	Active         bool    `json:"active"`
}

// ListPlans returns the plan catalog.
func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:             p.ID,
			DisplayName:    p.DisplayName,
			PrimaryLimit:   p.PrimaryLimit,
			SecondaryLimit: p.SecondaryLimit,
			ResetCadence:   string(p.ResetCadence),
			OverageMaxFrac: p.OverageMaxFraction,
			OverageCents:   p.OverageUnitCents,
			Active:         p.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{"plans": out})
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type profileResponse struct {
	UserID                  string    `json:"user_id"`
	SuccessfulFormulas      []string  `json:"successful_formulas"`
	UnderperformingFormulas []string  `json:"underperforming_formulas"`
	LastUpdated             time.Time `json:"last_updated"`
}

// GetCreatorProfile returns a creator's formula-affinity profile.
func (s *Server) GetCreatorProfile(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "user id is required"))
		return
	}

	profile, err := s.profileSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if profile == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	successful, err := profile.Successful()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	underperforming, err := profile.Underperforming()
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if successful == nil {
		successful = []string{}
	}
	if underperforming == nil {
		underperforming = []string{}
	}

	c.JSON(http.StatusOK, profileResponse{
		UserID:                  userID,
		SuccessfulFormulas:      successful,
		UnderperformingFormulas: underperforming,
		LastUpdated:             profile.LastUpdated,
	})
}

package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/drawline/internal/config"
	"github.com/smallbiznis/drawline/internal/ratelimit"
)

type rateLimitCheckRequest struct {
	Identifier string `json:"identifier"`
	Action     string `json:"action"`
	// WindowSeconds and MaxCount override the policy rule when both are set.
	WindowSeconds int64 `json:"window_seconds"`
	MaxCount      int   `json:"max_count"`
}

// CheckRateLimit lets the identity collaborator gate signup and login
// attempts against the shared attempt log.
func (s *Server) CheckRateLimit(c *gin.Context) {
	if s.guard == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	var req rateLimitCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	action := strings.TrimSpace(req.Action)
	if identifier == "" || action == "" {
		AbortWithError(c, ratelimit.ErrInvalidInput)
		return
	}

	ctx := c.Request.Context()
	allowed := true
	if req.WindowSeconds > 0 && req.MaxCount > 0 {
		ok, err := s.guard.Check(ctx, identifier, action, config.RateLimitRule{
			Window:   time.Duration(req.WindowSeconds) * time.Second,
			MaxCount: req.MaxCount,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		allowed = ok
	} else if err := s.guard.Allow(ctx, action, identifier); err != nil {
		if !errors.Is(err, ratelimit.ErrRateLimited) {
			AbortWithError(c, err)
			return
		}
		allowed = false
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"allowed": allowed}})
}

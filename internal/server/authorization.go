package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/drawline/internal/authorization"
	obscontext "github.com/smallbiznis/drawline/internal/observability/context"
)

// authorizeRaffleAction checks the actor inside the domain of the raffle
// named by the :id path parameter. Routes without one authorize against
// the not-yet-created raffle domain.
func (s *Server) authorizeRaffleAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raffleID := strings.TrimSpace(c.Param("id"))
		if raffleID == "" {
			raffleID = authorization.DomainNew
		}
		if err := s.authorizeForRaffle(c, raffleID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeForRaffle(c *gin.Context, raffleID string, object string, action string) error {
	actor, ok := actorFromContext(c)
	if !ok {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, raffleID, strings.TrimSpace(object), strings.TrimSpace(action))
}

func raffleIDParam(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("id"))
	id, err := snowflake.ParseString(raw)
	if err != nil || id <= 0 {
		return 0, newValidationError("id", "invalid_raffle_id", "invalid raffle id")
	}
	ctx := obscontext.WithRaffleID(c.Request.Context(), raw)
	c.Request = c.Request.WithContext(ctx)
	return id, nil
}

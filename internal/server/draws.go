package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/drawline/internal/authorization"
	drawdomain "github.com/smallbiznis/drawline/internal/draw/domain"
)

type resolveDrawRequest struct {
	ExternalDigits string `json:"external_digits"`
	DrawReference  string `json:"draw_reference"`
	ManualOverride bool   `json:"manual_override"`
}

func (s *Server) ResolveDraw(c *gin.Context) {
	id, err := raffleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req resolveDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if req.ManualOverride {
		if err := s.authorizeForRaffle(c, id.String(), authorization.ObjectDraw, authorization.ActionDrawOverride); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.drawSvc.ResolveDraw(c.Request.Context(), drawdomain.ResolveRequest{
		RaffleID:       id,
		ExternalDigits: strings.TrimSpace(req.ExternalDigits),
		DrawReference:  strings.TrimSpace(req.DrawReference),
		ManualOverride: req.ManualOverride,
		ResolvedBy:     actor.ID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDraw(c *gin.Context) {
	id, err := raffleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.drawSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

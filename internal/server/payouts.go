package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) FinalizePayout(c *gin.Context) {
	id, err := raffleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.payoutSvc.FinalizePayout(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetPayout(c *gin.Context) {
	id, err := raffleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.payoutSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPayoutStatement(c *gin.Context) {
	id, err := raffleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	doc, err := s.payoutSvc.Statement(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="payout-%s.pdf"`, id.String()))
	c.Data(http.StatusOK, "application/pdf", doc)
}

package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
)

// maxWebhookBytes bounds provider payloads read into memory.
const maxWebhookBytes = 1 << 20

func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventAlreadyProcessed) || errors.Is(err, paymentdomain.ErrEventIgnored) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type paymentConfirmationRequest struct {
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Outcome           string `json:"outcome"`
	ProviderFee       *int64 `json:"provider_fee"`
}

// ApplyPaymentConfirmation serves trusted internal callers that already
// verified the provider result.
func (s *Server) ApplyPaymentConfirmation(c *gin.Context) {
	var req paymentConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err := s.paymentSvc.ApplyConfirmation(c.Request.Context(), paymentdomain.Confirmation{
		Provider:          strings.TrimSpace(req.Provider),
		ProviderPaymentID: strings.TrimSpace(req.ProviderPaymentID),
		Outcome:           paymentdomain.Outcome(strings.ToLower(strings.TrimSpace(req.Outcome))),
		ProviderFee:       req.ProviderFee,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

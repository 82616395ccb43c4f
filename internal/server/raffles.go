package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	"github.com/smallbiznis/drawline/internal/authorization"
	raffledomain "github.com/smallbiznis/drawline/internal/raffle/domain"
)

type createRaffleRequest struct {
	Title        string `json:"title"`
	Currency     string `json:"currency"`
	TicketPrice  int64  `json:"ticket_price"`
	TotalTickets int64  `json:"total_tickets"`
	GoalAmount   int64  `json:"goal_amount"`
}

func (s *Server) CreateRaffle(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createRaffleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.raffleSvc.Create(c.Request.Context(), raffledomain.CreateRequest{
		OrganizerID:  actor.ID,
		Title:        strings.TrimSpace(req.Title),
		Currency:     strings.TrimSpace(req.Currency),
		TicketPrice:  req.TicketPrice,
		TotalTickets: req.TotalTickets,
		GoalAmount:   req.GoalAmount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetRaffle(c *gin.Context) {
	id, err := raffleIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.raffleSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) TransitionRaffle(c *gin.Context) {
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

	action := raffledomain.Action(strings.ToLower(strings.TrimSpace(c.Param("action"))))
	if _, ok := action.Target(); !ok {
		AbortWithError(c, raffledomain.ErrInvalidAction)
		return
	}

	// The casbin action names mirror the path segment.
	if err := s.authorizeForRaffle(c, id.String(), authorization.ObjectRaffle, "raffle."+string(action)); err != nil {
		AbortWithError(c, err)
		return
	}

	var req transitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := s.raffleSvc.Transition(c.Request.Context(), raffledomain.TransitionRequest{
		RaffleID: id,
		Action:   action,
		ActorID:  actor.ID,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reserveTicketsRequest struct {
	Quantity          int    `json:"quantity"`
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
}

func (s *Server) ReserveTickets(c *gin.Context) {
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

	var req reserveTicketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.allocationSvc.Reserve(c.Request.Context(), allocationdomain.ReserveRequest{
		RaffleID:          id,
		OwnerID:           actor.ID,
		Quantity:          req.Quantity,
		Provider:          strings.TrimSpace(req.Provider),
		ProviderPaymentID: strings.TrimSpace(req.ProviderPaymentID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type manualDrawRequest struct {
	Allowed *bool  `json:"allowed"`
	Reason  string `json:"reason"`
}

// SetManualDraw lets an operator allow a draw below the funding goal.
func (s *Server) SetManualDraw(c *gin.Context) {
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

	var req manualDrawRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Allowed == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.raffleSvc.SetManualDraw(c.Request.Context(), raffledomain.ManualDrawRequest{
		RaffleID: id,
		Allowed:  *req.Allowed,
		ActorID:  actor.ID,
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

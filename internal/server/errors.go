package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	allocationdomain "github.com/smallbiznis/drawline/internal/allocation/domain"
	"github.com/smallbiznis/drawline/internal/authorization"
	drawdomain "github.com/smallbiznis/drawline/internal/draw/domain"
	ledgerdomain "github.com/smallbiznis/drawline/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/drawline/internal/payment/domain"
	payoutdomain "github.com/smallbiznis/drawline/internal/payout/domain"
	raffledomain "github.com/smallbiznis/drawline/internal/raffle/domain"
	"github.com/smallbiznis/drawline/internal/ratelimit"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// domainError maps a sentinel to a status. The sentinel text is the stable
// error type returned to clients.
type domainError struct {
	err     error
	status  int
	message string
}

var domainErrors = []domainError{
	{allocationdomain.ErrCapacityExceeded, http.StatusConflict, "not enough free tickets"},
	{allocationdomain.ErrDuplicatePaymentReference, http.StatusConflict, "payment reference already used"},
	{ledgerdomain.ErrRaffleNotActive, http.StatusConflict, "raffle is not active"},
	{ledgerdomain.ErrRetryable, http.StatusServiceUnavailable, "temporary conflict, retry the request"},
	{drawdomain.ErrInsufficientFunding, http.StatusConflict, "raffle goal not reached"},
	{drawdomain.ErrNoPaidTickets, http.StatusConflict, "raffle has no paid tickets and was canceled"},
	{payoutdomain.ErrPayoutAlreadyExists, http.StatusConflict, "payout already finalized"},
	{payoutdomain.ErrNotDelivered, http.StatusConflict, "raffle delivery is not confirmed"},
	{raffledomain.ErrInvalidTransition, http.StatusConflict, "transition not allowed from current status"},
	{raffledomain.ErrManualDrawLocked, http.StatusConflict, "manual draw can no longer change"},
	{ratelimit.ErrRateLimited, http.StatusTooManyRequests, "too many requests"},
	{paymentdomain.ErrInvalidSignature, http.StatusUnauthorized, "invalid webhook signature"},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	for _, de := range domainErrors {
		if errors.Is(err, de.err) {
			return de.status, errorPayload{
				Type:    de.err.Error(),
				Message: de.message,
			}
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, paymentdomain.ErrUnknownPayment):
		return http.StatusNotFound, errorPayload{
			Type:    paymentdomain.ErrUnknownPayment.Error(),
			Message: "payment not found",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger without leaking messages.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", payload.Type
	case status == http.StatusConflict:
		return "conflict", payload.Type
	default:
		return "client_error", payload.Type
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, raffledomain.ErrInvalidOrganizer),
		errors.Is(err, raffledomain.ErrInvalidTitle),
		errors.Is(err, raffledomain.ErrInvalidCurrency),
		errors.Is(err, raffledomain.ErrInvalidTicketPrice),
		errors.Is(err, raffledomain.ErrInvalidTotalTickets),
		errors.Is(err, raffledomain.ErrInvalidGoalAmount),
		errors.Is(err, raffledomain.ErrInvalidAction),
		errors.Is(err, allocationdomain.ErrInvalidQuantity),
		errors.Is(err, allocationdomain.ErrInvalidOwner),
		errors.Is(err, paymentdomain.ErrInvalidOutcome),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPaymentID),
		errors.Is(err, paymentdomain.ErrInvalidFee),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, drawdomain.ErrInvalidDigits),
		errors.Is(err, ratelimit.ErrInvalidInput),
		errors.Is(err, authorization.ErrInvalidRaffle):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrRaffleNotFound),
		errors.Is(err, drawdomain.ErrDrawNotFound),
		errors.Is(err, payoutdomain.ErrPayoutNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

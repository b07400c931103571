package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	commissiondomain "github.com/smallbiznis/creatorpay/internal/commission/domain"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	payoutdomain "github.com/smallbiznis/creatorpay/internal/payout/domain"
	recondomain "github.com/smallbiznis/creatorpay/internal/reconciliation/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
)

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

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ruledomain.ErrInvalidOrganization),
		errors.Is(err, ruledomain.ErrInvalidScope),
		errors.Is(err, ruledomain.ErrInvalidScopeRef),
		errors.Is(err, ruledomain.ErrInvalidPercent),
		errors.Is(err, ruledomain.ErrInvalidCaps),
		errors.Is(err, ruledomain.ErrInvalidCurrency),
		errors.Is(err, ruledomain.ErrInvalidWindow),
		errors.Is(err, commissiondomain.ErrInvalidSubtotal),
		errors.Is(err, commissiondomain.ErrMissingCreator),
		errors.Is(err, ledgerdomain.ErrInvalidOrganization),
		errors.Is(err, ledgerdomain.ErrInvalidOrder),
		errors.Is(err, ledgerdomain.ErrInvalidCreator),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrUnbalancedSplit),
		errors.Is(err, payoutdomain.ErrInvalidCreator),
		errors.Is(err, recondomain.ErrInvalidOrganization),
		errors.Is(err, recondomain.ErrInvalidPeriod),
		errors.Is(err, auditdomain.ErrInvalidOrganization),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ruledomain.ErrNoRuleMatched),
		errors.Is(err, ruledomain.ErrRuleNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, orderdomain.ErrOrderItemNotFound),
		errors.Is(err, ledgerdomain.ErrEntryNotFound),
		errors.Is(err, payoutdomain.ErrPayoutNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, ledgerdomain.ErrSplitExists),
		errors.Is(err, ledgerdomain.ErrStatusConflict),
		errors.Is(err, payoutdomain.ErrPayoutConflict):
		return true
	default:
		return false
	}
}

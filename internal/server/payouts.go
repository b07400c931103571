package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	payoutdomain "github.com/smallbiznis/creatorpay/internal/payout/domain"
)

func (s *Server) ProcessCreatorPayouts(c *gin.Context) {
	creatorID, ok := parseSnowflake(c.Param("creator_id"))
	if !ok {
		AbortWithError(c, payoutdomain.ErrInvalidCreator)
		return
	}

	payouts, err := s.payoutSvc.ProcessCreator(c.Request.Context(), creatorID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(payouts) == 0 {
		c.JSON(http.StatusOK, gin.H{"data": []payoutdomain.Payout{}})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": payouts})
}

func (s *Server) GetPayout(c *gin.Context) {
	payoutID, ok := parseSnowflake(c.Param("id"))
	if !ok {
		AbortWithError(c, payoutdomain.ErrPayoutNotFound)
		return
	}

	payout, err := s.payoutSvc.Get(c.Request.Context(), payoutID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payout})
}

func (s *Server) ListPayouts(c *gin.Context) {
	recipientID, ok := parseSnowflake(c.Query("recipient_id"))
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payouts, err := s.payoutSvc.ListForRecipient(c.Request.Context(), recipientID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payouts})
}

type providerWebhookRequest struct {
	PayoutID    string `json:"payout_id"`
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref"`
	Reason      string `json:"reason"`
}

// HandleProviderWebhook is the settlement callback from the payment rail.
// The provider retries until it sees 200, so replays must stay harmless.
func (s *Server) HandleProviderWebhook(c *gin.Context) {
	var req providerWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payoutID, ok := parseSnowflake(req.PayoutID)
	if !ok {
		AbortWithError(c, payoutdomain.ErrPayoutNotFound)
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "succeeded":
		payout, err := s.payoutSvc.ConfirmSettlement(c.Request.Context(), payoutID, strings.TrimSpace(req.ProviderRef))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": payout})
	case "failed":
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "provider_failure"
		}
		payout, err := s.payoutSvc.FailSettlement(c.Request.Context(), payoutID, reason)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": payout})
	default:
		AbortWithError(c, ErrInvalidRequest)
	}
}

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	commissiondomain "github.com/smallbiznis/creatorpay/internal/commission/domain"
	ledgerdomain "github.com/smallbiznis/creatorpay/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	"gorm.io/gorm"
)

type processCommissionRequest struct {
	CampaignID string `json:"campaign_id"`
	CreatorID  string `json:"creator_id"`
}

func (s *Server) ProcessOrderItemCommission(c *gin.Context) {
	orderID, ok := parseSnowflake(c.Param("id"))
	if !ok {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}
	itemID, ok := parseSnowflake(c.Param("item_id"))
	if !ok {
		AbortWithError(c, orderdomain.ErrOrderItemNotFound)
		return
	}

	var req processCommissionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}

	campaignID, ok := parseOptionalSnowflake(req.CampaignID)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	creatorID, ok := parseOptionalSnowflake(req.CreatorID)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := c.Request.Context()

	var order orderdomain.Order
	if err := s.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortWithError(c, orderdomain.ErrOrderNotFound)
			return
		}
		AbortWithError(c, err)
		return
	}

	var item orderdomain.OrderItem
	if err := s.db.WithContext(ctx).Where("id = ? AND order_id = ?", itemID, orderID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			AbortWithError(c, orderdomain.ErrOrderItemNotFound)
			return
		}
		AbortWithError(c, err)
		return
	}

	result, err := s.commissionSvc.ProcessOrderItem(ctx, commissiondomain.ProcessOrderItemRequest{
		Order:      order,
		Item:       item,
		CampaignID: campaignID,
		CreatorID:  creatorID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": result})
}

func (s *Server) ClearOrderEntries(c *gin.Context) {
	orderID, ok := parseSnowflake(c.Param("id"))
	if !ok {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}

	entries, err := s.ledgerSvc.Clear(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) CancelOrderEntries(c *gin.Context) {
	orderID, ok := parseSnowflake(c.Param("id"))
	if !ok {
		AbortWithError(c, orderdomain.ErrOrderNotFound)
		return
	}

	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "unspecified"
	}

	entries, err := s.ledgerSvc.Cancel(c.Request.Context(), orderID, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

type listLedgerEntriesQuery struct {
	OrgID     string `form:"org_id"`
	OrderID   string `form:"order_id"`
	CreatorID string `form:"creator_id"`
	EntryType string `form:"entry_type"`
	Status    string `form:"status"`
	Limit     int    `form:"limit"`
}

func (s *Server) ListLedgerEntries(c *gin.Context) {
	var query listLedgerEntriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, ok := parseSnowflake(query.OrgID)
	if !ok {
		AbortWithError(c, ledgerdomain.ErrInvalidOrganization)
		return
	}
	orderID, _ := parseSnowflake(query.OrderID)
	creatorID, _ := parseSnowflake(query.CreatorID)

	entries, err := s.ledgerSvc.ListEntries(c.Request.Context(), ledgerdomain.ListEntriesRequest{
		OrgID:     orgID,
		OrderID:   orderID,
		CreatorID: creatorID,
		EntryType: ledgerdomain.EntryType(strings.TrimSpace(query.EntryType)),
		Status:    ledgerdomain.EntryStatus(strings.TrimSpace(query.Status)),
		Limit:     query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

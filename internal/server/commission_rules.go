package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	ruledomain "github.com/smallbiznis/creatorpay/internal/commissionrule/domain"
)

type listCommissionRulesQuery struct {
	OrgID string `form:"org_id"`
	Scope string `form:"scope"`
}

func (s *Server) ListCommissionRules(c *gin.Context) {
	var query listCommissionRulesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, ok := parseSnowflake(query.OrgID)
	if !ok {
		AbortWithError(c, ruledomain.ErrInvalidOrganization)
		return
	}

	rules, err := s.ruleSvc.List(c.Request.Context(), ruledomain.ListRulesRequest{
		OrgID: orgID,
		Scope: ruledomain.RuleScope(strings.TrimSpace(query.Scope)),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rules})
}

type createCommissionRuleRequest struct {
	OrgID              string  `json:"org_id"`
	Scope              string  `json:"scope"`
	ScopeRef           string  `json:"scope_ref"`
	CreatorID          string  `json:"creator_id"`
	CreatorPercent     string  `json:"creator_percent"`
	PlatformFeePercent string  `json:"platform_fee_percent"`
	MinCommission      *string `json:"min_commission"`
	MaxCommission      *string `json:"max_commission"`
	Currency           string  `json:"currency"`
	StartDate          string  `json:"start_date"`
	EndDate            string  `json:"end_date"`
}

func (s *Server) CreateCommissionRule(c *gin.Context) {
	var req createCommissionRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, ok := parseSnowflake(req.OrgID)
	if !ok {
		AbortWithError(c, ruledomain.ErrInvalidOrganization)
		return
	}
	scopeRef, ok := parseOptionalSnowflake(req.ScopeRef)
	if !ok {
		AbortWithError(c, ruledomain.ErrInvalidScopeRef)
		return
	}
	creatorID, ok := parseOptionalSnowflake(req.CreatorID)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	creatorPercent, err := decimal.NewFromString(strings.TrimSpace(req.CreatorPercent))
	if err != nil {
		AbortWithError(c, ruledomain.ErrInvalidPercent)
		return
	}
	platformFeePercent, err := decimal.NewFromString(strings.TrimSpace(req.PlatformFeePercent))
	if err != nil {
		AbortWithError(c, ruledomain.ErrInvalidPercent)
		return
	}

	minCommission, err := parseOptionalDecimal(req.MinCommission)
	if err != nil {
		AbortWithError(c, ruledomain.ErrInvalidCaps)
		return
	}
	maxCommission, err := parseOptionalDecimal(req.MaxCommission)
	if err != nil {
		AbortWithError(c, ruledomain.ErrInvalidCaps)
		return
	}

	startDate, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartDate))
	if err != nil {
		AbortWithError(c, ruledomain.ErrInvalidWindow)
		return
	}
	endDate, err := time.Parse(time.RFC3339, strings.TrimSpace(req.EndDate))
	if err != nil {
		AbortWithError(c, ruledomain.ErrInvalidWindow)
		return
	}

	rule, err := s.ruleSvc.Create(c.Request.Context(), ruledomain.CreateRuleRequest{
		OrgID:              orgID,
		Scope:              ruledomain.RuleScope(strings.TrimSpace(req.Scope)),
		ScopeRef:           scopeRef,
		CreatorID:          creatorID,
		CreatorPercent:     creatorPercent,
		PlatformFeePercent: platformFeePercent,
		MinCommission:      minCommission,
		MaxCommission:      maxCommission,
		Currency:           strings.TrimSpace(req.Currency),
		StartDate:          startDate,
		EndDate:            endDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": rule})
}

func (s *Server) DeactivateCommissionRule(c *gin.Context) {
	ruleID, ok := parseSnowflake(c.Param("id"))
	if !ok {
		AbortWithError(c, ruledomain.ErrRuleNotFound)
		return
	}
	orgID, ok := parseSnowflake(c.Query("org_id"))
	if !ok {
		AbortWithError(c, ruledomain.ErrInvalidOrganization)
		return
	}

	if err := s.ruleSvc.Deactivate(c.Request.Context(), orgID, ruleID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseOptionalDecimal(raw *string) (*decimal.Decimal, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	value, err := decimal.NewFromString(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &value, nil
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	recondomain "github.com/smallbiznis/creatorpay/internal/reconciliation/domain"
)

type reconciliationQuery struct {
	OrgID string `form:"org_id"`
	Start string `form:"start"`
	End   string `form:"end"`
}

func (s *Server) RunReconciliation(c *gin.Context) {
	var query reconciliationQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, ok := parseSnowflake(query.OrgID)
	if !ok {
		AbortWithError(c, recondomain.ErrInvalidOrganization)
		return
	}

	start, err := time.Parse(time.RFC3339, strings.TrimSpace(query.Start))
	if err != nil {
		AbortWithError(c, recondomain.ErrInvalidPeriod)
		return
	}
	end, err := time.Parse(time.RFC3339, strings.TrimSpace(query.End))
	if err != nil {
		AbortWithError(c, recondomain.ErrInvalidPeriod)
		return
	}

	report, err := s.reconSvc.Reconcile(c.Request.Context(), orgID, start, end)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
)

type listAuditLogsQuery struct {
	OrgID      string `form:"org_id"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	StartAt    string `form:"start_at"`
	EndAt      string `form:"end_at"`
	Limit      int    `form:"limit"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, ok := parseSnowflake(query.OrgID)
	if !ok {
		AbortWithError(c, auditdomain.ErrInvalidOrganization)
		return
	}

	var startAt, endAt *time.Time
	if raw := strings.TrimSpace(query.StartAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, auditdomain.ErrInvalidTimeRange)
			return
		}
		startAt = &parsed
	}
	if raw := strings.TrimSpace(query.EndAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, auditdomain.ErrInvalidTimeRange)
			return
		}
		endAt = &parsed
	}

	logs, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		StartAt:    startAt,
		EndAt:      endAt,
		Limit:      query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

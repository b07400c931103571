package repository

import (
	"context"

	auditdomain "github.com/smallbiznis/creatorpay/internal/audit/domain"
	"gorm.io/gorm"
)

type Repository struct{}

func NewRepository() auditdomain.Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, db *gorm.DB, entry *auditdomain.AuditLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) List(ctx context.Context, db *gorm.DB, filter auditdomain.ListFilter) ([]*auditdomain.AuditLog, error) {
	stmt := db.WithContext(ctx).Model(&auditdomain.AuditLog{}).
		Where("org_id = ?", filter.OrgID)

	if filter.Action != "" {
		stmt = stmt.Where("action = ?", filter.Action)
	}
	if filter.TargetType != "" {
		stmt = stmt.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		stmt = stmt.Where("target_id = ?", filter.TargetID)
	}
	if filter.StartAt != nil {
		stmt = stmt.Where("created_at >= ?", filter.StartAt)
	}
	if filter.EndAt != nil {
		stmt = stmt.Where("created_at < ?", filter.EndAt)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 250 {
		limit = 250
	}

	var items []*auditdomain.AuditLog
	err := stmt.Order("created_at DESC, id DESC").Limit(limit).Find(&items).Error
	return items, err
}

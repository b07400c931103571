package option

import "gorm.io/gorm"

// QueryOption customizes a gorm query built by the generic repository.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

func WithOrder(order string) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Order(order)
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Limit(limit)
	})
}

func WithOffset(offset int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Offset(offset)
	})
}

func WithCondition(query string, args ...any) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		return db.Where(query, args...)
	})
}

package db

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockForUpdate adds a row lock to the query on engines that support it.
// SQLite serializes writers already, so the clause is omitted there.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockForUpdateSkipLocked claims rows without waiting on concurrent claimers.
func LockForUpdateSkipLocked(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
}

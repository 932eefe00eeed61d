package repository

import (
	"gorm.io/gorm"
)

// isSQLite SQLite 上金额列按 TEXT 存储
func isSQLite(db *gorm.DB) bool {
	return db.Dialector.Name() == "sqlite"
}

// positive 金额列大于 0 的条件，TEXT 列先转成数值再比较
func positive(db *gorm.DB, column string) string {
	if isSQLite(db) {
		return "CAST(" + column + " AS REAL) > 0"
	}
	return column + " > 0"
}

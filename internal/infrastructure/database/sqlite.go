package database

import (
	"fmt"
	"strings"

	"stakedao/internal/model"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// OpenSQLite 打开 SQLite 数据库，path 为空或 ":memory:" 时使用内存库（测试用）
//
// SQLite 只允许单写，连接池限制为 1 个连接，
// 事务之间通过连接池排队，效果上等同于行锁串行化
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := decimalColumnsAsText(db); err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}

	zap.L().Info("SQLite 打开成功", zap.String("dsn", dsn))
	return db, nil
}

// decimalColumnsAsText 把模型里的 decimal 列改为 TEXT
//
// SQLite 的 decimal 列是 NUMERIC 亲和性，写入的字符串会被转成 REAL。
// 改成 TEXT 后 decimal.Decimal 按字符串原样存取，汇总在 Go 里用 decimal 计算。
// 修改的是当前 *gorm.DB 缓存的 schema，不影响其他连接
func decimalColumnsAsText(db *gorm.DB) error {
	for _, m := range model.MigrateModels {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return fmt.Errorf("解析模型失败: %w", err)
		}
		for _, field := range stmt.Schema.Fields {
			if strings.HasPrefix(strings.ToLower(string(field.DataType)), "decimal") {
				field.DataType = schema.String
			}
		}
	}
	return nil
}

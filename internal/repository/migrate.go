package repository

import (
	"pii-audit-go/internal/model"

	"gorm.io/gorm"
)

// AppendOnlyTables 返回只允许插入与查询的表。
func AppendOnlyTables() []string {
	return []string{
		model.ConversationAuditLog{}.TableName(),
		model.PIIDetectionLog{}.TableName(),
		model.RetentionAuditLog{}.TableName(),
	}
}

// AutoMigrate 创建或更新全部审计相关表结构。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.ConversationAuditLog{},
		&model.PIIDetectionLog{},
		&model.TenantRetention{},
		&model.RetentionAuditLog{},
	)
}

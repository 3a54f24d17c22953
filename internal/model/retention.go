package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultRetentionDays 是租户未配置保留期时使用的天数。
const DefaultRetentionDays = 90

// AllowedRetentionDays 是允许配置的保留天数集合。
var AllowedRetentionDays = []int{30, 90, 180}

// IsAllowedRetention 判断保留天数是否在允许集合内。
func IsAllowedRetention(days int) bool {
	for _, d := range AllowedRetentionDays {
		if d == days {
			return true
		}
	}
	return false
}

// TenantRetention 对应 tenant_retention 表，每个租户一行。
type TenantRetention struct {
	TenantID      string    `gorm:"type:varchar(128);primaryKey" json:"tenantId"`
	RetentionDays int       `gorm:"not null;default:90" json:"retentionDays"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TenantRetention) TableName() string {
	return "tenant_retention"
}

// RetentionAuditLog 记录一次保留策略审计运行的结果（仅统计，不删除任何数据）。
// EligibleCount 是时间戳早于 CutoffAt 的对话记录数量。
type RetentionAuditLog struct {
	ID            string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TenantID      string    `gorm:"type:varchar(128);not null;index:idx_ret_tenant_run,priority:1" json:"tenantId"`
	RetentionDays int       `gorm:"not null" json:"retentionDays"`
	CutoffAt      time.Time `gorm:"not null" json:"cutoffAt"`
	EligibleCount int64     `gorm:"not null" json:"eligibleCount"`
	RunTimestamp  time.Time `gorm:"not null;index:idx_ret_tenant_run,priority:2" json:"runTimestamp"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (RetentionAuditLog) TableName() string {
	return "retention_audit_logs"
}

// BeforeCreate 生成主键。
func (r *RetentionAuditLog) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.RunTimestamp.IsZero() {
		r.RunTimestamp = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate 审计运行记录只追加。
func (r *RetentionAuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}

// BeforeDelete 审计运行记录只追加。
func (r *RetentionAuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRecord
}

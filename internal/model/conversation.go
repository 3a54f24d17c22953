// Package model 包含了应用的数据模型定义。
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrImmutableRecord 表示试图修改或删除只追加（append-only）的审计数据。
// 审计记录是合规取证的依据，任何代码路径都不允许绕过。
var ErrImmutableRecord = errors.New("audit record is immutable: update and delete are not permitted")

// ModelMetadata 描述生成回复所使用的模型，全部字段可选，仅作为透传数据记录并导出。
type ModelMetadata struct {
	ModelProvider string            `gorm:"type:text;column:model_provider" json:"modelProvider,omitempty"`
	ModelName     string            `gorm:"type:text;column:model_name" json:"modelName,omitempty"`
	ModelVersion  string            `gorm:"type:text;column:model_version" json:"modelVersion,omitempty"`
	DeploymentID  string            `gorm:"type:text;column:deployment_id" json:"deploymentId,omitempty"`
	Temperature   string            `gorm:"type:text;column:temperature" json:"temperature,omitempty"`
	SafetyMode    string            `gorm:"type:text;column:safety_mode" json:"safetyMode,omitempty"`
	ModelConfig   datatypes.JSONMap `gorm:"column:model_config" json:"modelConfig,omitempty"`
}

// ConversationAuditLog 代表一次被记录的问答交互（prompt/response）。
// 记录创建后任何字段都不允许修改或删除。
type ConversationAuditLog struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp time.Time `gorm:"not null;index:idx_conv_tenant_ts,priority:2" json:"timestamp"`
	TenantID  string    `gorm:"type:varchar(128);not null;index:idx_conv_tenant_ts,priority:1" json:"tenantId"`
	AgentID   string    `gorm:"type:varchar(128);not null" json:"agentId"`
	SessionID string    `gorm:"type:varchar(128);not null" json:"sessionId"`
	Channel   string    `gorm:"type:varchar(64);not null" json:"channel"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt"`
	Response  string    `gorm:"type:text;not null" json:"response"`
	ModelInfo string    `gorm:"type:varchar(255);not null;default:default" json:"modelInfo"`
	ModelMetadata `gorm:"embedded"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConversationAuditLog) TableName() string {
	return "conversation_audit_logs"
}

// BeforeCreate 生成主键并规范化时间戳。
func (l *ConversationAuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	if l.ModelInfo == "" {
		l.ModelInfo = "default"
	}
	return nil
}

// BeforeUpdate 拒绝一切更新。
func (l *ConversationAuditLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}

// BeforeDelete 拒绝一切删除。
func (l *ConversationAuditLog) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRecord
}

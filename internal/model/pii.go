package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RiskLevel 表示一条 PII 发现的风险等级。
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Rank 返回风险等级的排序权重，high 最靠前。
func (r RiskLevel) Rank() int {
	switch r {
	case RiskHigh:
		return 0
	case RiskMedium:
		return 1
	case RiskLow:
		return 2
	default:
		return 3
	}
}

// Field 表示发现所在的交互字段。
type Field string

const (
	FieldPrompt   Field = "prompt"
	FieldResponse Field = "response"
)

// FindingSource 表示发现来自哪个检测器。
type FindingSource string

const (
	SourcePattern FindingSource = "pattern"
	SourceNER     FindingSource = "ner"
)

// Finding 是一次 PII 命中。正则命中携带字符区间 Start/End，NER 命中携带置信度 Score。
type Finding struct {
	Type      string        `json:"type"`
	Value     string        `json:"value"`
	RiskLevel RiskLevel     `json:"risk_level"`
	Field     Field         `json:"field,omitempty"`
	Source    FindingSource `json:"source"`
	Start     *int          `json:"start,omitempty"`
	End       *int          `json:"end,omitempty"`
	Score     *float64      `json:"score,omitempty"`
}

// PIIDetectionLog 记录一次对话审计日志的 PII 扫描结果，创建后只读。
type PIIDetectionLog struct {
	ID                  string                       `gorm:"type:varchar(36);primaryKey" json:"id"`
	AuditLogID          string                       `gorm:"type:varchar(36);not null;index" json:"auditLogId"`
	TenantID            string                       `gorm:"type:varchar(128);not null;index:idx_pii_tenant_ts,priority:1" json:"tenantId"`
	DetectionTimestamp  time.Time                    `gorm:"not null;index:idx_pii_tenant_ts,priority:2" json:"detectionTimestamp"`
	PIIDetected         datatypes.JSONSlice[Finding] `gorm:"not null" json:"piiDetected"`
	PIICount            int                          `gorm:"not null;default:0" json:"piiCount"`
	HighRiskCount       int                          `gorm:"not null;default:0" json:"highRiskCount"`
	FieldsScanned       datatypes.JSONSlice[string]  `gorm:"not null" json:"fieldsScanned"`
	NERResponsePrompt   datatypes.JSON               `json:"nerResponsePrompt,omitempty"`
	NERResponseResponse datatypes.JSON               `json:"nerResponseResponse,omitempty"`
	NERModelInfo        string                       `gorm:"type:varchar(255);not null" json:"nerModelInfo"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (PIIDetectionLog) TableName() string {
	return "pii_detection_logs"
}

// BeforeCreate 生成主键与检测时间。
func (d *PIIDetectionLog) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.DetectionTimestamp.IsZero() {
		d.DetectionTimestamp = time.Now().UTC()
	}
	return nil
}

// BeforeUpdate 检测结果创建后不可修改。
func (d *PIIDetectionLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrImmutableRecord
}

// BeforeDelete 检测结果不可删除。
func (d *PIIDetectionLog) BeforeDelete(tx *gorm.DB) error {
	return ErrImmutableRecord
}

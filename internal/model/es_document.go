// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"sort"
	"time"
)

// EsDetectionDocument 代表存储在 Elasticsearch 中的检测摘要。
// 只保存类型、风险等级和计数，不保存命中的原始值。
type EsDetectionDocument struct {
	DetectionID        string    `json:"detection_id"`
	AuditLogID         string    `json:"audit_log_id"`
	TenantID           string    `json:"tenant_id"`
	DetectionTimestamp time.Time `json:"detection_timestamp"`
	PIITypes           []string  `json:"pii_types"`
	RiskLevels         []string  `json:"risk_levels"`
	Fields             []string  `json:"fields"`
	PIICount           int       `json:"pii_count"`
	HighRiskCount      int       `json:"high_risk_count"`
}

// DetectionSearchHit 是检测摘要检索返回给调用方的结构。
type DetectionSearchHit struct {
	EsDetectionDocument
	Score float64 `json:"score"`
}

// SummarizeFindings 返回去重并按字典序排列的类型与风险等级，以及 high 级命中数。
func SummarizeFindings(findings []Finding) (types []string, levels []string, highRisk int) {
	typeSet := map[string]struct{}{}
	levelSet := map[string]struct{}{}
	for _, f := range findings {
		typeSet[f.Type] = struct{}{}
		levelSet[string(f.RiskLevel)] = struct{}{}
		if f.RiskLevel == RiskHigh {
			highRisk++
		}
	}
	return sortedKeys(typeSet), sortedKeys(levelSet), highRisk
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewEsDetectionDocument 从检测记录构建检索摘要。
func NewEsDetectionDocument(det *PIIDetectionLog) EsDetectionDocument {
	types, levels, _ := SummarizeFindings(det.PIIDetected)
	fieldSet := map[string]struct{}{}
	for _, f := range det.PIIDetected {
		if f.Field != "" {
			fieldSet[string(f.Field)] = struct{}{}
		}
	}
	return EsDetectionDocument{
		DetectionID:        det.ID,
		AuditLogID:         det.AuditLogID,
		TenantID:           det.TenantID,
		DetectionTimestamp: det.DetectionTimestamp,
		PIITypes:           types,
		RiskLevels:         levels,
		Fields:             sortedKeys(fieldSet),
		PIICount:           det.PIICount,
		HighRiskCount:      det.HighRiskCount,
	}
}

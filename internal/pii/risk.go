// Package pii 实现对话文本的 PII 检测：正则匹配、实体识别结果合并、去重、风险分级与按字段扫描。
package pii

import (
	"pii-audit-go/internal/model"
	"sort"
)

// RiskTable 将检测类型映射到风险等级，类型区分大小写。未登记的类型一律为 low。
type RiskTable map[string]model.RiskLevel

// DefaultRiskTable 返回固定的三级风险表。
// 正则类型使用小写名称，NER 类型使用模型输出的大写实体组（含 PER/LOC 等变体）。
func DefaultRiskTable() RiskTable {
	return RiskTable{
		"email":       model.RiskHigh,
		"phone":       model.RiskHigh,
		"ssn":         model.RiskHigh,
		"credit_card": model.RiskHigh,
		"PERSON":      model.RiskHigh,
		"PER":         model.RiskHigh,

		"ipv4":         model.RiskMedium,
		"DATE":         model.RiskMedium,
		"ORG":          model.RiskMedium,
		"ORGANIZATION": model.RiskMedium,
		"LOC":          model.RiskMedium,
		"LOCATION":     model.RiskMedium,
		"GPE":          model.RiskMedium,

		"MISC": model.RiskLow,
	}
}

// Level 返回类型对应的风险等级。
func (t RiskTable) Level(findingType string) model.RiskLevel {
	if lvl, ok := t[findingType]; ok {
		return lvl
	}
	return model.RiskLow
}

// Grouped 按风险等级分组列出已登记的类型，组内按字典序排列，用于导出说明。
func (t RiskTable) Grouped() map[model.RiskLevel][]string {
	out := map[model.RiskLevel][]string{
		model.RiskHigh:   {},
		model.RiskMedium: {},
		model.RiskLow:    {},
	}
	for typ, lvl := range t {
		out[lvl] = append(out[lvl], typ)
	}
	for lvl := range out {
		sort.Strings(out[lvl])
	}
	return out
}

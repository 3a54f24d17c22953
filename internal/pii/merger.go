package pii

import (
	"context"
	"pii-audit-go/internal/model"
	"pii-audit-go/pkg/ner"
	"sort"
	"strings"
	"unicode/utf8"
)

// minInspectChars 以下的文本不做任何检测。
const minInspectChars = 3

// Merger 合并正则与实体识别两路结果，按 (type, 小写 value) 去重并按风险排序。
type Merger struct {
	matcher *Matcher
	ner     ner.Client
	risk    RiskTable
}

// NewMerger 创建一个 Merger。recognizer 为 nil 时只使用正则检测。
func NewMerger(matcher *Matcher, recognizer ner.Client, risk RiskTable) *Merger {
	if risk == nil {
		risk = DefaultRiskTable()
	}
	if matcher == nil {
		matcher = NewMatcher(risk)
	}
	return &Merger{matcher: matcher, ner: recognizer, risk: risk}
}

// Inspect 检测单段文本。返回的发现未打字段标签；NER 调用结果原样返回，供调用方保存原始响应。
// 实体识别的任何失败都只会让结果退化为仅正则，不会返回错误。
func (m *Merger) Inspect(ctx context.Context, text string) ([]model.Finding, ner.Result) {
	if utf8.RuneCountInString(text) < minInspectChars {
		return nil, ner.Result{Outcome: ner.OutcomeSkipped}
	}

	candidates := m.matcher.Match(text)

	var nerResult ner.Result
	if m.ner != nil {
		nerResult = m.ner.Recognize(ctx, text)
		for _, e := range nerResult.Entities {
			score := e.Score
			candidates = append(candidates, model.Finding{
				Type:      e.Type,
				Value:     e.Word,
				RiskLevel: m.risk.Level(e.Type),
				Source:    model.SourceNER,
				Score:     &score,
			})
		}
	} else {
		nerResult = ner.Result{Outcome: ner.OutcomeDisabled}
	}

	return sortByRisk(dedupe(candidates)), nerResult
}

type dedupeKey struct {
	typ   string
	value string
}

// dedupe 保留每个 (type, 小写 value) 的第一次出现。
func dedupe(findings []model.Finding) []model.Finding {
	seen := make(map[dedupeKey]struct{}, len(findings))
	out := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		k := dedupeKey{typ: f.Type, value: strings.ToLower(f.Value)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, f)
	}
	return out
}

// sortByRisk 按 high < medium < low 稳定排序，同级保持原顺序。
func sortByRisk(findings []model.Finding) []model.Finding {
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].RiskLevel.Rank() < findings[j].RiskLevel.Rank()
	})
	return findings
}

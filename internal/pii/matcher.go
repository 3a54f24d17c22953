package pii

import (
	"pii-audit-go/internal/model"
	"regexp"
	"unicode/utf8"
)

// Pattern 是一个具名的正则检测器。Accept 非空时对每个候选匹配做二次校验。
type Pattern struct {
	Name   string
	Re     *regexp.Regexp
	Accept func(groups []string) bool
}

// DefaultPatterns 返回内置检测器，顺序决定同一文本中发现的先后。
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "email", Re: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
		{Name: "phone", Re: regexp.MustCompile(`\b(?:\+?\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
		{Name: "ssn", Re: regexp.MustCompile(`\b(\d{3})-(\d{2})-(\d{4})\b`), Accept: validSSN},
		{Name: "credit_card", Re: regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{1,7}\b`)},
		{Name: "ipv4", Re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\.){3}(?:25[0-5]|2[0-4]\d|[01]?\d\d?)\b`)},
	}
}

// validSSN 排除保留号段：区号 000、组号 00、序号 0000。
func validSSN(groups []string) bool {
	return len(groups) == 4 && groups[1] != "000" && groups[2] != "00" && groups[3] != "0000"
}

// Matcher 对文本运行全部正则检测器。
type Matcher struct {
	patterns []Pattern
	risk     RiskTable
}

// NewMatcher 创建一个 Matcher；patterns 为空时使用 DefaultPatterns。
func NewMatcher(risk RiskTable, patterns ...Pattern) *Matcher {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	if risk == nil {
		risk = DefaultRiskTable()
	}
	return &Matcher{patterns: patterns, risk: risk}
}

// Match 返回文本中的全部正则命中，按检测器顺序、再按出现位置排列。
// Start/End 是字符（rune）偏移，End 不含。
func (m *Matcher) Match(text string) []model.Finding {
	if text == "" {
		return nil
	}
	var findings []model.Finding
	for _, p := range m.patterns {
		for _, loc := range p.Re.FindAllStringSubmatchIndex(text, -1) {
			if p.Accept != nil && !p.Accept(submatches(text, loc)) {
				continue
			}
			start := utf8.RuneCountInString(text[:loc[0]])
			end := start + utf8.RuneCountInString(text[loc[0]:loc[1]])
			findings = append(findings, model.Finding{
				Type:      p.Name,
				Value:     text[loc[0]:loc[1]],
				RiskLevel: m.risk.Level(p.Name),
				Source:    model.SourcePattern,
				Start:     &start,
				End:       &end,
			})
		}
	}
	return findings
}

func submatches(text string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return groups
}

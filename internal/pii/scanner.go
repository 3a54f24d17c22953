package pii

import (
	"context"
	"encoding/json"
	"pii-audit-go/internal/model"
	"pii-audit-go/pkg/ner"

	"golang.org/x/sync/errgroup"
)

// FieldsScanned 是每次扫描固定覆盖的字段。
var FieldsScanned = []string{string(model.FieldPrompt), string(model.FieldResponse)}

// Report 是一次 prompt/response 扫描的汇总结果。
type Report struct {
	Findings            []model.Finding
	Total               int
	HighRiskCount       int
	HasHighRisk         bool
	FieldsScanned       []string
	NERResponsePrompt   json.RawMessage
	NERResponseResponse json.RawMessage
	PromptOutcome       ner.Outcome
	ResponseOutcome     ner.Outcome
}

// ShouldPersist 表示该扫描结果需要落库。全部无命中时不产生检测记录。
func (r *Report) ShouldPersist() bool {
	return r.Total > 0 || r.HasHighRisk
}

// DetectionLog 将扫描结果转换为待持久化的检测记录；无需落库时返回 nil。
func (r *Report) DetectionLog(conv *model.ConversationAuditLog, nerModel string) *model.PIIDetectionLog {
	if !r.ShouldPersist() {
		return nil
	}
	return &model.PIIDetectionLog{
		AuditLogID:          conv.ID,
		TenantID:            conv.TenantID,
		PIIDetected:         r.Findings,
		PIICount:            r.Total,
		HighRiskCount:       r.HighRiskCount,
		FieldsScanned:       append([]string(nil), r.FieldsScanned...),
		NERResponsePrompt:   rawJSON(r.NERResponsePrompt),
		NERResponseResponse: rawJSON(r.NERResponseResponse),
		NERModelInfo:        nerModel,
	}
}

func rawJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// Scanner 对一次对话的 prompt 与 response 分别运行 Merger。
type Scanner struct {
	merger *Merger
}

// NewScanner 创建一个 Scanner。
func NewScanner(merger *Merger) *Scanner {
	return &Scanner{merger: merger}
}

// Scan 并发检测两个字段，两者互不共享上下文。结果中 prompt 的发现排在 response 之前。
func (s *Scanner) Scan(ctx context.Context, prompt, response string) *Report {
	var (
		promptFindings, responseFindings []model.Finding
		promptNER, responseNER           ner.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		promptFindings, promptNER = s.merger.Inspect(gctx, prompt)
		return nil
	})
	g.Go(func() error {
		responseFindings, responseNER = s.merger.Inspect(gctx, response)
		return nil
	})
	_ = g.Wait()

	report := &Report{
		Findings:            make([]model.Finding, 0, len(promptFindings)+len(responseFindings)),
		FieldsScanned:       append([]string(nil), FieldsScanned...),
		NERResponsePrompt:   promptNER.Raw,
		NERResponseResponse: responseNER.Raw,
		PromptOutcome:       promptNER.Outcome,
		ResponseOutcome:     responseNER.Outcome,
	}
	for _, f := range promptFindings {
		f.Field = model.FieldPrompt
		report.Findings = append(report.Findings, f)
	}
	for _, f := range responseFindings {
		f.Field = model.FieldResponse
		report.Findings = append(report.Findings, f)
	}
	for _, f := range report.Findings {
		if f.RiskLevel == model.RiskHigh {
			report.HighRiskCount++
		}
	}
	report.Total = len(report.Findings)
	report.HasHighRisk = report.HighRiskCount > 0
	return report
}

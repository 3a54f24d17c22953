package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"pii-audit-go/internal/model"
	"pii-audit-go/internal/pii"
	"pii-audit-go/internal/repository"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/metrics"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/zip"
)

// 导出包内的文件，顺序即写入顺序。
const (
	ArtifactConversations = "conversation_logs.csv"
	ArtifactDetections    = "pii_detection_logs.csv"
	ArtifactDataSources   = "data_sources.json"
	ArtifactModelInfo     = "model_info.json"
	ArtifactRetention     = "retention_policy.json"
	ArtifactMetadata      = "compliance_metadata.json"
	ArtifactReadme        = "README.txt"
)

// Artifacts 列出导出包包含的全部文件。
var Artifacts = []string{
	ArtifactConversations,
	ArtifactDetections,
	ArtifactDataSources,
	ArtifactModelInfo,
	ArtifactRetention,
	ArtifactMetadata,
	ArtifactReadme,
}

var conversationHeader = []string{
	"Log ID", "Timestamp", "Agent ID", "Session ID", "Channel", "Prompt", "Response",
	"Model Info", "Model Provider", "Model Name", "Model Version", "Deployment ID",
	"Temperature", "Safety Mode", "Model Config",
}

var detectionHeader = []string{
	"Detection ID", "Audit Log ID", "Timestamp", "PII Count", "High Risk Count",
	"PII Types", "Risk Levels", "Details",
}

var conversationFields = []string{
	"id", "timestamp", "tenant_id", "agent_id", "session_id", "channel", "prompt", "response",
	"model_info", "model_provider", "model_name", "model_version", "deployment_id",
	"temperature", "safety_mode", "model_config",
}

var detectionFields = []string{
	"id", "audit_log_id", "tenant_id", "detection_timestamp", "pii_detected", "pii_count",
	"high_risk_count", "fields_scanned", "ner_model_info",
}

var retentionAuditFields = []string{
	"id", "tenant_id", "retention_days", "cutoff_at", "eligible_count", "run_timestamp",
}

// Bundle 是一次合规导出的结果。
type Bundle struct {
	FileName   string
	TenantID   string
	ExportedAt time.Time
	Data       []byte
	Digests    []ArtifactDigest
	ArchiveURL string
}

// ArtifactDigest 是导出包内单个文件的 SHA-256 摘要。
type ArtifactDigest struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
}

// BundleArchiver 将导出包归档到对象存储并返回下载链接。
type BundleArchiver interface {
	Archive(ctx context.Context, tenantID, fileName string, data []byte) (string, error)
}

// ExportService 接口定义了合规导出操作。
type ExportService interface {
	ExportBundle(ctx context.Context, tenantID string) (*Bundle, error)
}

type exportService struct {
	convRepo      repository.ConversationRepository
	detRepo       repository.PIIDetectionRepository
	retentionSvc  RetentionService
	archiver      BundleArchiver
	previewLength int
	now           func() time.Time
}

// ExportOption 调整 ExportService 的行为。
type ExportOption func(*exportService)

// WithClock 替换导出时间来源。
func WithClock(now func() time.Time) ExportOption {
	return func(s *exportService) { s.now = now }
}

// WithArchiver 在导出完成后把导出包归档到对象存储。
func WithArchiver(a BundleArchiver) ExportOption {
	return func(s *exportService) { s.archiver = a }
}

// WithPreviewLength 设置检测明细预览的最大字符数。
func WithPreviewLength(n int) ExportOption {
	return func(s *exportService) {
		if n > 0 {
			s.previewLength = n
		}
	}
}

// NewExportService 创建一个新的 ExportService 实例。
func NewExportService(
	convRepo repository.ConversationRepository,
	detRepo repository.PIIDetectionRepository,
	retentionSvc RetentionService,
	opts ...ExportOption,
) ExportService {
	s := &exportService{
		convRepo:      convRepo,
		detRepo:       detRepo,
		retentionSvc:  retentionSvc,
		previewLength: 100,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportFileName 返回导出包文件名，包含租户 ID 与导出时间。
func ExportFileName(tenantID string, at time.Time) string {
	return fmt.Sprintf("compliance_export_%s_%s.zip", tenantID, at.UTC().Format("20060102_150405"))
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ExportBundle 为租户组装合规导出包。任何一步失败都会返回 ExportError，不会返回不完整的导出包。
// 同一数据状态与同一导出时间下，生成的字节完全相同。
func (s *exportService) ExportBundle(ctx context.Context, tenantID string) (*Bundle, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, &ValidationError{Field: "tenantId", Reason: "must not be empty"}
	}
	bundle, err := s.build(ctx, tenantID)
	if err != nil {
		metrics.ExportBundles.WithLabelValues("error").Inc()
		log.Errorw("[ExportService] 合规导出失败", "tenantId", tenantID, "error", err)
		return nil, err
	}
	metrics.ExportBundles.WithLabelValues("ok").Inc()

	if s.archiver != nil {
		url, err := s.archiver.Archive(ctx, tenantID, bundle.FileName, bundle.Data)
		if err != nil {
			log.Warnw("[ExportService] 导出包归档失败", "tenantId", tenantID, "file", bundle.FileName, "error", err)
		} else {
			bundle.ArchiveURL = url
		}
	}
	log.Infow("[ExportService] 合规导出完成", "tenantId", tenantID, "file", bundle.FileName, "bytes", len(bundle.Data))
	return bundle, nil
}

func (s *exportService) build(ctx context.Context, tenantID string) (*Bundle, error) {
	exportedAt := s.now().UTC()

	logs, err := s.convRepo.FindAllByTenant(ctx, tenantID)
	if err != nil {
		return nil, &ExportError{Stage: "load conversations", Err: err}
	}
	dets, err := s.detRepo.FindAllByTenant(ctx, tenantID)
	if err != nil {
		return nil, &ExportError{Stage: "load detections", Err: err}
	}
	retention, err := s.retentionSvc.GetRetention(ctx, tenantID)
	if err != nil {
		return nil, &ExportError{Stage: "load retention setting", Err: err}
	}
	audits, err := s.retentionSvc.ListRetentionAudits(ctx, tenantID)
	if err != nil {
		return nil, &ExportError{Stage: "load retention audits", Err: err}
	}

	files := make(map[string][]byte, len(Artifacts))
	var digests []ArtifactDigest
	add := func(name string, data []byte) {
		files[name] = data
		sum := sha256.Sum256(data)
		digests = append(digests, ArtifactDigest{File: name, SHA256: hex.EncodeToString(sum[:])})
	}

	conversationsCSV, err := conversationsToCSV(logs)
	if err != nil {
		return nil, &ExportError{Stage: ArtifactConversations, Err: err}
	}
	add(ArtifactConversations, conversationsCSV)

	detectionsCSV, err := detectionsToCSV(dets, s.previewLength)
	if err != nil {
		return nil, &ExportError{Stage: ArtifactDetections, Err: err}
	}
	add(ArtifactDetections, detectionsCSV)

	sources, err := prettyJSON(dataSourcesManifest(tenantID, exportedAt, len(logs), len(dets), len(audits)))
	if err != nil {
		return nil, &ExportError{Stage: ArtifactDataSources, Err: err}
	}
	add(ArtifactDataSources, sources)

	modelInfo, err := prettyJSON(staticModelInfo())
	if err != nil {
		return nil, &ExportError{Stage: ArtifactModelInfo, Err: err}
	}
	add(ArtifactModelInfo, modelInfo)

	policy, err := prettyJSON(retentionPolicy(retention, audits))
	if err != nil {
		return nil, &ExportError{Stage: ArtifactRetention, Err: err}
	}
	add(ArtifactRetention, policy)

	meta := complianceMetadata(tenantID, exportedAt, logs, dets, digests)
	metaJSON, err := prettyJSON(meta)
	if err != nil {
		return nil, &ExportError{Stage: ArtifactMetadata, Err: err}
	}
	files[ArtifactMetadata] = metaJSON

	readme, err := renderReadme(meta, retention)
	if err != nil {
		return nil, &ExportError{Stage: ArtifactReadme, Err: err}
	}
	files[ArtifactReadme] = readme

	data, err := zipArtifacts(files, exportedAt)
	if err != nil {
		return nil, &ExportError{Stage: "archive", Err: err}
	}

	return &Bundle{
		FileName:   ExportFileName(tenantID, exportedAt),
		TenantID:   tenantID,
		ExportedAt: exportedAt,
		Data:       data,
		Digests:    digests,
	}, nil
}

// zipArtifacts 按 Artifacts 的顺序写入压缩包，所有条目使用导出时间作为修改时间。
func zipArtifacts(files map[string][]byte, modified time.Time) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range Artifacts {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(files[name]); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func prettyJSON(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func conversationsToCSV(logs []model.ConversationAuditLog) ([]byte, error) {
	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		cfg := ""
		if len(l.ModelConfig) > 0 {
			data, err := json.Marshal(l.ModelConfig)
			if err != nil {
				return nil, fmt.Errorf("encode model config of %s: %w", l.ID, err)
			}
			cfg = string(data)
		}
		rows = append(rows, []string{
			l.ID,
			isoTime(l.Timestamp),
			l.AgentID,
			l.SessionID,
			l.Channel,
			l.Prompt,
			l.Response,
			l.ModelInfo,
			l.ModelProvider,
			l.ModelName,
			l.ModelVersion,
			l.DeploymentID,
			l.Temperature,
			l.SafetyMode,
			cfg,
		})
	}
	return writeCSV(conversationHeader, rows)
}

func detectionsToCSV(dets []model.PIIDetectionLog, previewLength int) ([]byte, error) {
	rows := make([][]string, 0, len(dets))
	for _, d := range dets {
		types, levels, highRisk := model.SummarizeFindings(d.PIIDetected)
		details, err := json.Marshal([]model.Finding(d.PIIDetected))
		if err != nil {
			return nil, fmt.Errorf("encode findings of %s: %w", d.ID, err)
		}
		rows = append(rows, []string{
			d.ID,
			d.AuditLogID,
			isoTime(d.DetectionTimestamp),
			strconv.Itoa(d.PIICount),
			strconv.Itoa(highRisk),
			strings.Join(types, "|"),
			strings.Join(levels, "|"),
			preview(string(details), previewLength),
		})
	}
	return writeCSV(detectionHeader, rows)
}

// preview 把文本截断到 max 个字符，截断时追加 "..."。
func preview(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

type dataSource struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	RecordCount int      `json:"record_count"`
	Fields      []string `json:"fields"`
}

type dataSourcesDoc struct {
	ExportTimestamp string       `json:"export_timestamp"`
	TenantID        string       `json:"tenant_id"`
	DataSources     []dataSource `json:"data_sources"`
}

func dataSourcesManifest(tenantID string, at time.Time, logs, dets, audits int) dataSourcesDoc {
	return dataSourcesDoc{
		ExportTimestamp: isoTime(at),
		TenantID:        tenantID,
		DataSources: []dataSource{
			{
				Name:        model.ConversationAuditLog{}.TableName(),
				Description: "Conversation logs including prompts and agent responses",
				RecordCount: logs,
				Fields:      conversationFields,
			},
			{
				Name:        model.PIIDetectionLog{}.TableName(),
				Description: "PII detection results and findings",
				RecordCount: dets,
				Fields:      detectionFields,
			},
			{
				Name:        model.RetentionAuditLog{}.TableName(),
				Description: "Retention audit runs counting records past the retention period (no deletion performed)",
				RecordCount: audits,
				Fields:      retentionAuditFields,
			},
		},
	}
}

type riskLevelsDoc struct {
	High    []string `json:"high"`
	Medium  []string `json:"medium"`
	Low     []string `json:"low"`
	Default string   `json:"default"`
}

type modelInfoDoc struct {
	ModelName             string        `json:"model_name"`
	ModelType             string        `json:"model_type"`
	ModelSource           string        `json:"model_source"`
	ConfidenceThreshold   float64       `json:"confidence_threshold"`
	MaxInputChars         int           `json:"max_input_chars"`
	DetectionMethods      []string      `json:"detection_methods"`
	PIICategoriesDetected []string      `json:"pii_categories_detected"`
	RiskLevels            riskLevelsDoc `json:"risk_levels"`
	Deduplication         string        `json:"deduplication"`
	Ordering              string        `json:"ordering"`
}

// staticModelInfo 是检测方法的固定说明，不读取运行时配置。
func staticModelInfo() modelInfoDoc {
	grouped := pii.DefaultRiskTable().Grouped()
	return modelInfoDoc{
		ModelName:           "dslim/bert-base-NER",
		ModelType:           "Named Entity Recognition (NER)",
		ModelSource:         "HuggingFace Inference API",
		ConfidenceThreshold: 0.7,
		MaxInputChars:       512,
		DetectionMethods: []string{
			"NER Model: BERT-based entity recognition",
			"Regex Patterns: Email, Phone, SSN, Credit Card, IPv4",
		},
		PIICategoriesDetected: []string{
			"PERSON", "EMAIL", "PHONE", "SSN", "CREDIT_CARD", "IPV4", "DATE", "ORG", "LOCATION", "MISC",
		},
		RiskLevels: riskLevelsDoc{
			High:    grouped[model.RiskHigh],
			Medium:  grouped[model.RiskMedium],
			Low:     grouped[model.RiskLow],
			Default: "low",
		},
		Deduplication: "first occurrence of each (type, lowercase value) per field is kept",
		Ordering:      "high, then medium, then low; ties keep pattern matches before NER matches",
	}
}

type retentionAuditDoc struct {
	AuditID       string `json:"audit_id"`
	RunTimestamp  string `json:"run_timestamp"`
	CutoffAt      string `json:"cutoff_at"`
	EligibleCount int64  `json:"eligible_count"`
	RetentionDays int    `json:"retention_days"`
}

type retentionPolicyDoc struct {
	TenantID               string              `json:"tenant_id"`
	RetentionDays          int                 `json:"retention_days"`
	IsDefault              bool                `json:"is_default"`
	AllowedRetentionValues []int               `json:"allowed_retention_values"`
	DeletionPerformed      bool                `json:"deletion_performed"`
	RetentionAudits        []retentionAuditDoc `json:"retention_audits"`
}

func retentionPolicy(setting *RetentionSetting, audits []model.RetentionAuditLog) retentionPolicyDoc {
	doc := retentionPolicyDoc{
		TenantID:               setting.TenantID,
		RetentionDays:          setting.RetentionDays,
		IsDefault:              setting.IsDefault,
		AllowedRetentionValues: model.AllowedRetentionDays,
		RetentionAudits:        make([]retentionAuditDoc, 0, len(audits)),
	}
	for _, a := range audits {
		doc.RetentionAudits = append(doc.RetentionAudits, retentionAuditDoc{
			AuditID:       a.ID,
			RunTimestamp:  isoTime(a.RunTimestamp),
			CutoffAt:      isoTime(a.CutoffAt),
			EligibleCount: a.EligibleCount,
			RetentionDays: a.RetentionDays,
		})
	}
	return doc
}

type dataPeriodDoc struct {
	EarliestLog        *string `json:"earliest_log"`
	LatestLog          *string `json:"latest_log"`
	TotalLogs          int     `json:"total_logs"`
	TotalPIIDetections int     `json:"total_pii_detections"`
	TotalPIIFindings   int     `json:"total_pii_findings"`
}

type hashVerificationDoc struct {
	Algorithm string           `json:"algorithm"`
	Note      string           `json:"note"`
	Digests   []ArtifactDigest `json:"digests"`
}

type complianceMetadataDoc struct {
	ExportTimestamp     string              `json:"export_timestamp"`
	ExportTimestampUnix int64               `json:"export_timestamp_unix"`
	TenantID            string              `json:"tenant_id"`
	DataPeriod          dataPeriodDoc       `json:"data_period"`
	ComplianceArtifacts []string            `json:"compliance_artifacts"`
	HashVerification    hashVerificationDoc `json:"hash_verification"`
}

// complianceMetadata 汇总导出元数据。logs 按时间倒序，最早的在末尾。
func complianceMetadata(tenantID string, at time.Time, logs []model.ConversationAuditLog, dets []model.PIIDetectionLog, digests []ArtifactDigest) complianceMetadataDoc {
	period := dataPeriodDoc{TotalLogs: len(logs), TotalPIIDetections: len(dets)}
	if len(logs) > 0 {
		latest := isoTime(logs[0].Timestamp)
		earliest := isoTime(logs[len(logs)-1].Timestamp)
		period.LatestLog = &latest
		period.EarliestLog = &earliest
	}
	for _, d := range dets {
		period.TotalPIIFindings += d.PIICount
	}
	return complianceMetadataDoc{
		ExportTimestamp:     isoTime(at),
		ExportTimestampUnix: at.Unix(),
		TenantID:            tenantID,
		DataPeriod:          period,
		ComplianceArtifacts: Artifacts,
		HashVerification: hashVerificationDoc{
			Algorithm: "SHA-256",
			Note:      "digests cover every artifact written before this file",
			Digests:   digests,
		},
	}
}

var readmeTemplate = template.Must(template.New("readme").Parse(`# Compliance Export Pack
Generated: {{.Meta.ExportTimestamp}}
Tenant ID: {{.Meta.TenantID}}

## Contents

1. conversation_logs.csv - All conversation logs with prompts, responses and model metadata (newest first)
2. pii_detection_logs.csv - All PII detection results with risk levels (newest first)
3. data_sources.json - Manifest of data sources, fields and record counts
4. model_info.json - Detection methods and risk classification table
5. retention_policy.json - Retention setting and retention audit history
6. compliance_metadata.json - Export metadata, data period and SHA-256 digests
7. README.txt - This notice

## Data Period

- Earliest Log: {{if .Meta.DataPeriod.EarliestLog}}{{.Meta.DataPeriod.EarliestLog}}{{else}}No logs{{end}}
- Latest Log: {{if .Meta.DataPeriod.LatestLog}}{{.Meta.DataPeriod.LatestLog}}{{else}}No logs{{end}}
- Total Logs: {{.Meta.DataPeriod.TotalLogs}}
- Total PII Detections: {{.Meta.DataPeriod.TotalPIIDetections}}
- Total PII Findings: {{.Meta.DataPeriod.TotalPIIFindings}}

## Retention

- Retention Period: {{.Retention.RetentionDays}} days{{if .Retention.IsDefault}} (default){{end}}
- Audit records are append-only. Retention audits count records past the
  retention period; no data has been deleted by this system.

## Verification

Compute the SHA-256 digest of each file and compare it with the values listed
under hash_verification in compliance_metadata.json.

This compliance pack is intended for regulatory audits, data governance
reviews and PII leak investigations.
`))

func renderReadme(meta complianceMetadataDoc, retention *RetentionSetting) ([]byte, error) {
	var buf bytes.Buffer
	err := readmeTemplate.Execute(&buf, struct {
		Meta      complianceMetadataDoc
		Retention *RetentionSetting
	}{meta, retention})
	return buf.Bytes(), err
}

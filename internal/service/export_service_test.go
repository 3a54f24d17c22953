package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"pii-audit-go/internal/model"
	"pii-audit-go/internal/repository"
	"pii-audit-go/internal/testutil"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var exportNow = time.Date(2025, 7, 1, 8, 30, 15, 0, time.UTC)

type exportFixture struct {
	convRepo repository.ConversationRepository
	detRepo  repository.PIIDetectionRepository
	retSvc   RetentionService
	retRepo  repository.RetentionRepository
}

func newExportFixture(t *testing.T) *exportFixture {
	db := testutil.OpenDB(t)
	convRepo := repository.NewConversationRepository(db)
	retRepo := repository.NewRetentionRepository(db)
	return &exportFixture{
		convRepo: convRepo,
		detRepo:  repository.NewPIIDetectionRepository(db),
		retRepo:  retRepo,
		retSvc:   NewRetentionService(convRepo, retRepo, 90),
	}
}

func (f *exportFixture) service(opts ...ExportOption) ExportService {
	opts = append([]ExportOption{WithClock(func() time.Time { return exportNow })}, opts...)
	return NewExportService(f.convRepo, f.detRepo, f.retSvc, opts...)
}

func (f *exportFixture) seed(t *testing.T) (convs []*model.ConversationAuditLog) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		conv := &model.ConversationAuditLog{
			Timestamp: exportNow.AddDate(0, 0, -10+i),
			TenantID:  "t1",
			AgentID:   "agent",
			SessionID: "session",
			Channel:   "web",
			Prompt:    "prompt, with \"quotes\"",
			Response:  "line1\nline2",
			ModelMetadata: model.ModelMetadata{
				ModelProvider: "anthropic",
				ModelName:     "m",
				Temperature:   "0.3",
				ModelConfig:   datatypes.JSONMap{"max_tokens": 256, "stop": []interface{}{"\n"}},
			},
		}
		require.NoError(t, f.convRepo.Create(ctx, conv))
		convs = append(convs, conv)
	}
	require.NoError(t, f.convRepo.Create(ctx, &model.ConversationAuditLog{
		Timestamp: exportNow, TenantID: "other", AgentID: "a", SessionID: "s", Channel: "c",
	}))

	findings := make([]model.Finding, 0, 6)
	for i := 0; i < 5; i++ {
		findings = append(findings, model.Finding{Type: "email", Value: "user@example.com", RiskLevel: model.RiskHigh, Field: model.FieldPrompt, Source: model.SourcePattern})
	}
	findings = append(findings, model.Finding{Type: "ORG", Value: "Acme", RiskLevel: model.RiskMedium, Field: model.FieldResponse, Source: model.SourceNER})
	for i, conv := range convs[:2] {
		require.NoError(t, f.detRepo.Create(ctx, &model.PIIDetectionLog{
			AuditLogID:         conv.ID,
			TenantID:           "t1",
			DetectionTimestamp: conv.Timestamp.Add(time.Second),
			PIIDetected:        findings[i*5:],
			PIICount:           len(findings[i*5:]),
			HighRiskCount:      1,
			FieldsScanned:      datatypes.JSONSlice[string]{"prompt", "response"},
			NERModelInfo:       "dslim/bert-base-NER",
		}))
	}

	_, err := f.retSvc.SetRetention(ctx, "t1", 30)
	require.NoError(t, err)
	_, err = f.retSvc.AuditRetention(ctx, exportNow.Add(-time.Hour))
	require.NoError(t, err)
	return convs
}

func unzip(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var names []string
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		names = append(names, f.Name)
		files[f.Name] = content
	}
	return names, files
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportBundleCompleteness(t *testing.T) {
	f := newExportFixture(t)
	convs := f.seed(t)

	bundle, err := f.service().ExportBundle(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "compliance_export_t1_20250701_083015.zip", bundle.FileName)

	names, files := unzip(t, bundle.Data)
	require.Equal(t, Artifacts, names)

	convRows := readCSV(t, files[ArtifactConversations])
	require.Len(t, convRows, 1+3)
	require.Equal(t, conversationHeader, convRows[0])
	// 最新的在前
	require.Equal(t, convs[2].ID, convRows[1][0])
	require.Equal(t, convs[0].ID, convRows[3][0])
	require.Equal(t, "prompt, with \"quotes\"", convRows[1][5])
	require.Equal(t, "line1\nline2", convRows[1][6])
	require.Equal(t, "anthropic", convRows[1][8])
	require.JSONEq(t, `{"max_tokens":256,"stop":["\n"]}`, convRows[1][14])

	detRows := readCSV(t, files[ArtifactDetections])
	require.Len(t, detRows, 1+2)
	require.Equal(t, detectionHeader, detRows[0])
	// convs[1] 的检测更新，排在前面，只含 ORG
	require.Equal(t, convs[1].ID, detRows[1][1])
	require.Equal(t, "ORG", detRows[1][5])
	require.Equal(t, "0", detRows[1][4])
	require.Equal(t, "6", detRows[2][3])
	require.Equal(t, "5", detRows[2][4])
	require.Equal(t, "ORG|email", detRows[2][5])
	require.Equal(t, "high|medium", detRows[2][6])
	require.True(t, strings.HasSuffix(detRows[2][7], "..."))
	require.Equal(t, 103, len([]rune(detRows[2][7])))

	var sources dataSourcesDoc
	require.NoError(t, json.Unmarshal(files[ArtifactDataSources], &sources))
	require.Equal(t, 3, sources.DataSources[0].RecordCount)
	require.Equal(t, 2, sources.DataSources[1].RecordCount)
	require.Equal(t, 1, sources.DataSources[2].RecordCount)

	var policy retentionPolicyDoc
	require.NoError(t, json.Unmarshal(files[ArtifactRetention], &policy))
	require.Equal(t, 30, policy.RetentionDays)
	require.Equal(t, []int{30, 90, 180}, policy.AllowedRetentionValues)
	require.Len(t, policy.RetentionAudits, 1)

	var meta complianceMetadataDoc
	require.NoError(t, json.Unmarshal(files[ArtifactMetadata], &meta))
	require.Equal(t, exportNow.Unix(), meta.ExportTimestampUnix)
	require.Equal(t, isoTime(convs[0].Timestamp), *meta.DataPeriod.EarliestLog)
	require.Equal(t, isoTime(convs[2].Timestamp), *meta.DataPeriod.LatestLog)
	require.Equal(t, 3, meta.DataPeriod.TotalLogs)
	require.Equal(t, 7, meta.DataPeriod.TotalPIIFindings)
	require.Equal(t, Artifacts, meta.ComplianceArtifacts)
	require.Len(t, meta.HashVerification.Digests, 5)
	for _, d := range meta.HashVerification.Digests {
		sum := sha256.Sum256(files[d.File])
		require.Equal(t, hex.EncodeToString(sum[:]), d.SHA256, d.File)
	}

	readme := string(files[ArtifactReadme])
	require.Contains(t, readme, "Tenant ID: t1")
	require.Contains(t, readme, "Total Logs: 3")
	require.Contains(t, readme, "Retention Period: 30 days")
}

func TestExportBundleIsDeterministic(t *testing.T) {
	f := newExportFixture(t)
	f.seed(t)
	svc := f.service()

	first, err := svc.ExportBundle(context.Background(), "t1")
	require.NoError(t, err)
	second, err := svc.ExportBundle(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, first.Data, second.Data)
	require.Equal(t, first.Digests, second.Digests)
}

func TestExportBundleEmptyTenant(t *testing.T) {
	f := newExportFixture(t)
	bundle, err := f.service().ExportBundle(context.Background(), "nobody")
	require.NoError(t, err)

	names, files := unzip(t, bundle.Data)
	require.Equal(t, Artifacts, names)
	require.Len(t, readCSV(t, files[ArtifactConversations]), 1)
	require.Len(t, readCSV(t, files[ArtifactDetections]), 1)

	var meta complianceMetadataDoc
	require.NoError(t, json.Unmarshal(files[ArtifactMetadata], &meta))
	require.Nil(t, meta.DataPeriod.EarliestLog)
	require.Nil(t, meta.DataPeriod.LatestLog)

	var policy retentionPolicyDoc
	require.NoError(t, json.Unmarshal(files[ArtifactRetention], &policy))
	require.Equal(t, 90, policy.RetentionDays)
	require.True(t, policy.IsDefault)
	require.Contains(t, string(files[ArtifactReadme]), "Earliest Log: No logs")
}

type failingConvRepo struct {
	repository.ConversationRepository
}

func (failingConvRepo) FindAllByTenant(context.Context, string) ([]model.ConversationAuditLog, error) {
	return nil, errors.New("db gone")
}

func TestExportBundleFailsWhole(t *testing.T) {
	f := newExportFixture(t)
	svc := NewExportService(failingConvRepo{f.convRepo}, f.detRepo, f.retSvc)

	bundle, err := svc.ExportBundle(context.Background(), "t1")
	require.Nil(t, bundle)
	var exportErr *ExportError
	require.ErrorAs(t, err, &exportErr)
	require.Equal(t, "load conversations", exportErr.Stage)
}

type fakeArchiver struct {
	name string
	err  error
}

func (a *fakeArchiver) Archive(_ context.Context, tenantID, fileName string, _ []byte) (string, error) {
	a.name = tenantID + "/" + fileName
	if a.err != nil {
		return "", a.err
	}
	return "https://minio.local/" + a.name, nil
}

func TestExportBundleArchives(t *testing.T) {
	f := newExportFixture(t)
	archiver := &fakeArchiver{}
	bundle, err := f.service(WithArchiver(archiver)).ExportBundle(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "https://minio.local/t1/"+bundle.FileName, bundle.ArchiveURL)

	// 归档失败不影响导出结果
	bundle, err = f.service(WithArchiver(&fakeArchiver{err: errors.New("minio down")})).ExportBundle(context.Background(), "t1")
	require.NoError(t, err)
	require.Empty(t, bundle.ArchiveURL)
	require.NotEmpty(t, bundle.Data)
}

func TestPreview(t *testing.T) {
	require.Equal(t, "short", preview("short", 100))
	require.Equal(t, "abc...", preview("abcdef", 3))
	require.Equal(t, "邮箱...", preview("邮箱地址", 2))
}

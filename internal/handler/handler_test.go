package handler

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"pii-audit-go/internal/pii"
	"pii-audit-go/internal/pipeline"
	"pii-audit-go/internal/repository"
	"pii-audit-go/internal/service"
	"pii-audit-go/internal/testutil"
	"pii-audit-go/pkg/token"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	router *gin.Engine
	jwt    *token.JWTManager
}

func newAPIFixture(t *testing.T) *apiFixture {
	gin.SetMode(gin.TestMode)
	db := testutil.OpenDB(t)
	convRepo := repository.NewConversationRepository(db)
	detRepo := repository.NewPIIDetectionRepository(db)
	retRepo := repository.NewRetentionRepository(db)

	scanner := pii.NewScanner(pii.NewMerger(nil, nil, nil))
	processor := pipeline.NewProcessor(scanner, convRepo, detRepo, nil, "disabled")
	retentionSvc := service.NewRetentionService(convRepo, retRepo, 90)

	jwtManager := token.NewJWTManager("test-secret", 1)
	r := gin.New()
	RegisterRoutes(r, Services{
		Audit:     service.NewAuditService(convRepo, detRepo, scanner, processor, nil, nil),
		Retention: retentionSvc,
		Export:    service.NewExportService(convRepo, detRepo, retentionSvc),
	}, jwtManager)
	return &apiFixture{router: r, jwt: jwtManager}
}

func (f *apiFixture) token(t *testing.T, tenantID, role string) string {
	tok, err := f.jwt.GenerateToken("tester", tenantID, role)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, tok string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func conversationBody(tenantID, prompt string) map[string]interface{} {
	return map[string]interface{}{
		"tenantId":  tenantID,
		"agentId":   "agent-1",
		"sessionId": "session-1",
		"channel":   "web",
		"prompt":    prompt,
		"response":  "Noted.",
	}
}

func TestRequiresBearerToken(t *testing.T) {
	f := newAPIFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/audit/logs", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/audit/logs", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogConversationAndFetchDetection(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")

	w := f.do(t, http.MethodPost, "/api/v1/audit/log", tok, conversationBody("", "Contact me at alice@example.com"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created struct {
		Log struct {
			ID       string `json:"id"`
			TenantID string `json:"tenantId"`
		} `json:"log"`
		Detection *struct {
			PIICount int `json:"piiCount"`
		} `json:"detection"`
		ScanQueued bool `json:"scanQueued"`
	}
	decode(t, w, &created)
	require.Equal(t, "tenant-a", created.Log.TenantID)
	require.False(t, created.ScanQueued)
	require.NotNil(t, created.Detection)
	require.Equal(t, 1, created.Detection.PIICount)

	w = f.do(t, http.MethodGet, "/api/v1/audit/logs/"+created.Log.ID+"/pii", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got struct {
		Detected  bool `json:"detected"`
		Detection struct {
			AuditLogID string `json:"auditLogId"`
		} `json:"detection"`
	}
	decode(t, w, &got)
	require.True(t, got.Detected)
	require.Equal(t, created.Log.ID, got.Detection.AuditLogID)

	other := f.token(t, "tenant-b", "USER")
	w = f.do(t, http.MethodGet, "/api/v1/audit/logs/"+created.Log.ID+"/pii", other, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogConversationValidation(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")

	body := conversationBody("", "hello")
	delete(body, "agentId")
	w := f.do(t, http.MethodPost, "/api/v1/audit/log", tok, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTenantIsolation(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")

	w := f.do(t, http.MethodPost, "/api/v1/audit/log", tok, conversationBody("tenant-b", "hello there"))
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/audit/logs?tenantId=tenant-b", tok, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/compliance/export?tenantId=tenant-b", tok, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	admin := f.token(t, "", token.RoleAdmin)
	w = f.do(t, http.MethodGet, "/api/v1/audit/logs?tenantId=tenant-b", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/audit/logs", admin, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListConversationsPaging(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")
	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/audit/log", tok, conversationBody("", "plain text"))
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodGet, "/api/v1/audit/logs?page=1&size=2", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page service.ConversationPage
	decode(t, w, &page)
	require.EqualValues(t, 3, page.TotalElements)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Content, 1)
}

func TestScanDoesNotPersist(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")

	w := f.do(t, http.MethodPost, "/api/v1/audit/scan", tok, ScanRequest{
		Prompt:   "SSN 123-45-6789",
		Response: "call 555-123-4567",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var report struct {
		Total         int  `json:"total_pii_found"`
		HighRiskCount int  `json:"high_risk_count"`
		HasHighRisk   bool `json:"has_high_risk"`
	}
	decode(t, w, &report)
	require.Equal(t, 2, report.Total)
	require.Equal(t, 2, report.HighRiskCount)
	require.True(t, report.HasHighRisk)

	w = f.do(t, http.MethodGet, "/api/v1/audit/logs", tok, nil)
	var page service.ConversationPage
	decode(t, w, &page)
	require.Zero(t, page.TotalElements)
}

func TestRetentionAdminRoutes(t *testing.T) {
	f := newAPIFixture(t)
	user := f.token(t, "tenant-a", "USER")
	admin := f.token(t, "", token.RoleAdmin)

	w := f.do(t, http.MethodGet, "/api/v1/admin/retention/tenant-a", user, nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	var setting service.RetentionSetting
	w = f.do(t, http.MethodGet, "/api/v1/admin/retention/tenant-a", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &setting)
	require.Equal(t, 90, setting.RetentionDays)
	require.True(t, setting.IsDefault)

	w = f.do(t, http.MethodPut, "/api/v1/admin/retention/tenant-a", admin, SetRetentionRequest{RetentionDays: 45})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/api/v1/admin/retention/tenant-a", admin, SetRetentionRequest{RetentionDays: 180})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/admin/retention/tenant-a", admin, nil)
	decode(t, w, &setting)
	require.Equal(t, 180, setting.RetentionDays)
	require.False(t, setting.IsDefault)

	w = f.do(t, http.MethodPost, "/api/v1/audit/log", user, conversationBody("", "hello there"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/admin/retention/run", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var audits []struct {
		TenantID      string `json:"tenantId"`
		RetentionDays int    `json:"retentionDays"`
		EligibleCount int64  `json:"eligibleCount"`
	}
	w = f.do(t, http.MethodGet, "/api/v1/admin/retention/tenant-a/audits", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &audits)
	require.Len(t, audits, 1)
	require.Equal(t, 180, audits[0].RetentionDays)
	require.Zero(t, audits[0].EligibleCount)
}

func TestExportReturnsZipAttachment(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")
	w := f.do(t, http.MethodPost, "/api/v1/audit/log", tok, conversationBody("", "mail bob@example.org"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/compliance/export", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "compliance_export_tenant-a_")
	require.Empty(t, w.Header().Get("X-Archive-URL"))

	body := w.Body.Bytes()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	require.Equal(t, service.Artifacts, names)
}

func TestExportFileNameIsEscaped(t *testing.T) {
	f := newAPIFixture(t)
	admin := f.token(t, "", token.RoleAdmin)

	for _, tenantID := range []string{`acme"; filename="evil.exe`, "acme\r\nX-Injected: 1"} {
		w := f.do(t, http.MethodGet, "/api/v1/compliance/export?tenantId="+url.QueryEscape(tenantID), admin, nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Empty(t, w.Header().Get("X-Injected"))

		disposition, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
		require.NoError(t, err)
		require.Equal(t, "attachment", disposition)
		require.True(t, strings.HasPrefix(params["filename"], "compliance_export_"+tenantID+"_"), params["filename"])
		require.True(t, strings.HasSuffix(params["filename"], ".zip"))
	}
}

func TestFindingsWithoutSearchIndex(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "tenant-a", "USER")

	w := f.do(t, http.MethodGet, "/api/v1/compliance/findings?type=email", tok, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/compliance/findings?from=yesterday", tok, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

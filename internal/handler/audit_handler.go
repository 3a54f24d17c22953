package handler

import (
	"net/http"
	"pii-audit-go/internal/service"
	"pii-audit-go/pkg/es"
	"pii-audit-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
)

// AuditHandler 负责对话审计日志与 PII 检测相关的 API 请求。
type AuditHandler struct {
	auditService service.AuditService
}

// NewAuditHandler 创建一个新的 AuditHandler 实例。
func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// LogConversation 写入一条对话审计日志并触发 PII 扫描。
func (h *AuditHandler) LogConversation(c *gin.Context) {
	var req service.LogConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	tenantID, ok := resolveTenant(c, req.TenantID)
	if !ok {
		return
	}
	req.TenantID = tenantID

	result, err := h.auditService.LogConversation(c.Request.Context(), req)
	if err != nil {
		log.Error("LogConversation: 保存对话日志失败", err)
		respondError(c, err, "保存对话日志失败")
		return
	}
	respond(c, http.StatusCreated, "success", result)
}

// ListConversations 分页返回租户的对话日志。
func (h *AuditHandler) ListConversations(c *gin.Context) {
	tenantID, ok := resolveTenant(c, c.Query("tenantId"))
	if !ok {
		return
	}
	page, err := h.auditService.ListConversations(c.Request.Context(), tenantID, queryInt(c, "page", 0), queryInt(c, "size", 20))
	if err != nil {
		respondError(c, err, "获取对话日志失败")
		return
	}
	respond(c, http.StatusOK, "success", page)
}

// GetDetection 返回某条对话日志的 PII 检测结果。
func (h *AuditHandler) GetDetection(c *gin.Context) {
	det, err := h.auditService.GetDetection(c.Request.Context(), c.Param("id"), tenantScope(c))
	if err != nil {
		respondError(c, err, "获取检测结果失败")
		return
	}
	respond(c, http.StatusOK, "success", gin.H{"detected": det != nil, "detection": det})
}

// ScanRequest 是只计算不落库的扫描请求。
type ScanRequest struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Scan 对一组 prompt/response 做 PII 扫描，不写入任何数据。
func (h *AuditHandler) Scan(c *gin.Context) {
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	report := h.auditService.ScanExchange(c.Request.Context(), req.Prompt, req.Response)
	respond(c, http.StatusOK, "success", gin.H{
		"total_pii_found":       report.Total,
		"high_risk_count":       report.HighRiskCount,
		"has_high_risk":         report.HasHighRisk,
		"fields_scanned":        report.FieldsScanned,
		"pii_list":              report.Findings,
		"ner_response_prompt":   report.NERResponsePrompt,
		"ner_response_response": report.NERResponseResponse,
	})
}

// SearchFindings 按类型、风险等级与时间范围检索检测摘要。
func (h *AuditHandler) SearchFindings(c *gin.Context) {
	tenantID, ok := resolveTenant(c, c.Query("tenantId"))
	if !ok {
		return
	}
	q := es.DetectionQuery{
		TenantID:  tenantID,
		PIIType:   c.Query("type"),
		RiskLevel: c.Query("riskLevel"),
		Size:      queryInt(c, "size", 20),
	}
	for key, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respond(c, http.StatusBadRequest, "时间参数必须为 RFC3339 格式: "+key, nil)
			return
		}
		*dst = &t
	}
	page, err := h.auditService.SearchFindings(c.Request.Context(), q, queryInt(c, "page", 0))
	if err != nil {
		respondError(c, err, "检索检测结果失败")
		return
	}
	respond(c, http.StatusOK, "success", page)
}

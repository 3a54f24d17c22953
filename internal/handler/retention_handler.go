package handler

import (
	"net/http"
	"pii-audit-go/internal/service"
	"pii-audit-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
)

// RetentionHandler 负责租户保留策略相关的 API 请求。
type RetentionHandler struct {
	retentionService service.RetentionService
}

// NewRetentionHandler 创建一个新的 RetentionHandler 实例。
func NewRetentionHandler(retentionService service.RetentionService) *RetentionHandler {
	return &RetentionHandler{retentionService: retentionService}
}

// SetRetentionRequest 定义了更新保留天数的请求体。
type SetRetentionRequest struct {
	RetentionDays int `json:"retentionDays" binding:"required"`
}

// GetRetention 返回租户当前生效的保留配置。
func (h *RetentionHandler) GetRetention(c *gin.Context) {
	setting, err := h.retentionService.GetRetention(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		respondError(c, err, "获取保留配置失败")
		return
	}
	respond(c, http.StatusOK, "success", setting)
}

// SetRetention 更新租户的保留天数，只接受 30、90、180。
func (h *RetentionHandler) SetRetention(c *gin.Context) {
	var req SetRetentionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载", nil)
		return
	}
	setting, err := h.retentionService.SetRetention(c.Request.Context(), c.Param("tenantId"), req.RetentionDays)
	if err != nil {
		log.Warnw("SetRetention: 更新保留配置失败", "tenantId", c.Param("tenantId"), "error", err)
		respondError(c, err, "更新保留配置失败")
		return
	}
	respond(c, http.StatusOK, "success", setting)
}

// ListAudits 返回租户的保留审计历史。
func (h *RetentionHandler) ListAudits(c *gin.Context) {
	audits, err := h.retentionService.ListRetentionAudits(c.Request.Context(), c.Param("tenantId"))
	if err != nil {
		respondError(c, err, "获取保留审计记录失败")
		return
	}
	respond(c, http.StatusOK, "success", audits)
}

// RunAudit 立即执行一次保留审计。
func (h *RetentionHandler) RunAudit(c *gin.Context) {
	audits, err := h.retentionService.AuditRetention(c.Request.Context(), time.Now())
	if err != nil {
		respondError(c, err, "保留审计执行失败")
		return
	}
	respond(c, http.StatusOK, "success", audits)
}

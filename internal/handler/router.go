package handler

import (
	"pii-audit-go/internal/middleware"
	"pii-audit-go/internal/service"
	"pii-audit-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Services 聚合了路由注册所需的业务服务。
type Services struct {
	Audit     service.AuditService
	Retention service.RetentionService
	Export    service.ExportService
}

// RegisterRoutes 在 /api/v1 下注册全部业务路由。
func RegisterRoutes(r *gin.Engine, svc Services, jwtManager *token.JWTManager) {
	auditHandler := NewAuditHandler(svc.Audit)
	retentionHandler := NewRetentionHandler(svc.Retention)
	exportHandler := NewExportHandler(svc.Export)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		audit := apiV1.Group("/audit")
		{
			audit.POST("/log", auditHandler.LogConversation)
			audit.GET("/logs", auditHandler.ListConversations)
			audit.GET("/logs/:id/pii", auditHandler.GetDetection)
			audit.POST("/scan", auditHandler.Scan)
		}

		compliance := apiV1.Group("/compliance")
		{
			compliance.GET("/export", exportHandler.Export)
			compliance.GET("/findings", auditHandler.SearchFindings)
		}

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.GET("/retention/:tenantId", retentionHandler.GetRetention)
			admin.PUT("/retention/:tenantId", retentionHandler.SetRetention)
			admin.GET("/retention/:tenantId/audits", retentionHandler.ListAudits)
			admin.POST("/retention/run", retentionHandler.RunAudit)
		}
	}
}

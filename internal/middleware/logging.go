// Package middleware 存放 Gin 框架的中间件。
package middleware

import (
	"pii-audit-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger 是一个 Gin 中间件，记录每个请求的状态码、耗时与调用方。
// 审计接口的请求与响应体包含原始对话和 PII，因此不记录任何 body。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.FullPath(),
			"responseBytes", c.Writer.Size(),
		}
		if claims, ok := ClaimsFrom(c); ok {
			fields = append(fields, "user", claims.Username, "tenantId", claims.TenantID)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

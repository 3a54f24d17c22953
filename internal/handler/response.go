// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"pii-audit-go/internal/middleware"
	"pii-audit-go/internal/service"
	"strconv"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// respondError 把服务层错误映射为 HTTP 状态码。
func respondError(c *gin.Context, err error, fallback string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		respond(c, http.StatusBadRequest, verr.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		respond(c, http.StatusNotFound, "记录不存在", nil)
	case errors.Is(err, service.ErrSearchDisabled):
		respond(c, http.StatusServiceUnavailable, "检索服务未启用", nil)
	default:
		_ = c.Error(err)
		respond(c, http.StatusInternalServerError, fallback, nil)
	}
}

// resolveTenant 确定本次请求操作的租户。管理员可以指定任意租户，默认为自己的租户；
// 普通调用方只能访问自己的租户，请求其他租户时返回 false 并写入 403。
func resolveTenant(c *gin.Context, requested string) (string, bool) {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok {
		respond(c, http.StatusUnauthorized, "未认证", nil)
		return "", false
	}
	if claims.IsAdmin() {
		if requested != "" {
			return requested, true
		}
		if claims.TenantID == "" {
			respond(c, http.StatusBadRequest, "缺少 tenantId 参数", nil)
			return "", false
		}
		return claims.TenantID, true
	}
	if requested != "" && requested != claims.TenantID {
		respond(c, http.StatusForbidden, "无权访问其他租户的数据", nil)
		return "", false
	}
	return claims.TenantID, true
}

// tenantScope 返回读路径上的租户限制，管理员不受限。
func tenantScope(c *gin.Context) string {
	claims, ok := middleware.ClaimsFrom(c)
	if !ok || claims.IsAdmin() {
		return ""
	}
	return claims.TenantID
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HTTP 头常量
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// TenantHeaderMiddleware 从请求头提取租户标识并注入 Gin 上下文。
// 租户鉴别由上游网关完成，服务内只做存在性校验与行级隔离。
func TenantHeaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if tenantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "缺少租户信息"})
			return
		}

		c.Set("tenant_id", tenantID)
		if userID := strings.TrimSpace(c.GetHeader(HeaderUserID)); userID != "" {
			c.Set("user_id", userID)
		}

		c.Next()
	}
}

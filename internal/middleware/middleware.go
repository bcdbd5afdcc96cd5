package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 上下文键
const (
	CtxRequestID   = "request_id"
	CtxUserID      = "user_id"
	CtxUserName    = "user_name"
	CtxCompanyID   = "company_id"
	CtxTimezone    = "timezone"
	CtxPermissions = "permissions"
)

const headerRequestID = "X-Request-ID"

// abort 以统一响应格式终止请求
func abort(c *gin.Context, status, code int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// Logger 访问日志，skipPaths 中的路径（健康检查等）不记录
func Logger(logger *zap.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String(CtxRequestID, c.GetString(CtxRequestID)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if q := c.Request.URL.RawQuery; q != "" && c.Query("token") == "" {
			fields = append(fields, zap.String("query", q))
		}
		if uid := c.GetString(CtxUserID); uid != "" {
			fields = append(fields, zap.String(CtxUserID, uid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("Server error", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("Client error", fields...)
		default:
			logger.Info("Request", fields...)
		}
	}
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":   "*",
	"Access-Control-Allow-Methods":  "GET, POST, PUT, DELETE, OPTIONS",
	"Access-Control-Allow-Headers":  "Authorization, Content-Type, Accept, Cache-Control, " + headerRequestID,
	"Access-Control-Expose-Headers": "Content-Disposition, " + headerRequestID,
}

// CORS 跨域，预检请求直接返回204
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for k, v := range corsHeaders {
			h.Set(k, v)
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID 透传或生成请求ID
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// JWTClaims 操作人令牌
type JWTClaims struct {
	UserID      string   `json:"uid"`
	Name        string   `json:"name"`
	CompanyID   string   `json:"company_id"`
	Timezone    string   `json:"tz"` // IANA时区，决定"今天"
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// bearerToken 优先取 Authorization 头，SSE 无法设置请求头时取 ?token=
func bearerToken(c *gin.Context) string {
	if v, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return c.Query("token")
}

// JWTAuth 校验 HS256 令牌并把操作人信息写入上下文
func JWTAuth(secret string) gin.HandlerFunc {
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, 40100, "Authorization is required")
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			abort(c, http.StatusUnauthorized, 40102, "Invalid or expired token")
			return
		}
		if claims.UserID == "" {
			abort(c, http.StatusUnauthorized, 40103, "Token has no user")
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxUserName, claims.Name)
		c.Set(CtxCompanyID, claims.CompanyID)
		c.Set(CtxTimezone, claims.Timezone)
		c.Set(CtxPermissions, claims.Permissions)
		c.Next()
	}
}

// HasPermission perms 是否包含 want；"*" 表示全部，"mes.*" 表示 mes 下全部
func HasPermission(perms []string, want string) bool {
	for _, p := range perms {
		if p == want || p == "*" {
			return true
		}
		if domain, ok := strings.CutSuffix(p, ".*"); ok && strings.HasPrefix(want, domain+".") {
			return true
		}
	}
	return false
}

// RequirePermission 要求令牌带有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		perms, _ := c.Get(CtxPermissions)
		list, _ := perms.([]string)
		if !HasPermission(list, permission) {
			abort(c, http.StatusForbidden, 40302, "Permission denied: "+permission)
			return
		}
		c.Next()
	}
}

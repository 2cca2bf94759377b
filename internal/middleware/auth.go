package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ashwinyue/next-crm/internal/model"
)

// 上下文键
const (
	ContextKeyUserID   = "user_id"
	ContextKeyEmployee = "employee"
)

// TokenValidator 校验访问令牌
type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string) (*model.Employee, error)
}

// RequireAuth 要求有效认证的中间件
// 必须提供有效的 JWT token，否则返回 401
func RequireAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Missing Authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			abortUnauthorized(c, "Invalid Authorization header format")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		employee, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Set(ContextKeyEmployee, employee)
		c.Set(ContextKeyUserID, employee.ID)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code": http.StatusUnauthorized,
		"msg":  msg,
	})
}

// GetEmployee 从上下文获取当前员工
func GetEmployee(c *gin.Context) (*model.Employee, bool) {
	v, exists := c.Get(ContextKeyEmployee)
	if !exists {
		return nil, false
	}
	e, ok := v.(*model.Employee)
	return e, ok
}

// GetUserID 从上下文获取当前员工 ID
func GetUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

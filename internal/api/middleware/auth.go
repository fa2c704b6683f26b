package middleware

import (
	"net/http"
	"strings"

	"github.com/fisker/zcrm-backend/internal/model"
	authService "github.com/fisker/zcrm-backend/internal/service/auth"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware JWT认证中间件。
// 校验通过后把当前用户整体放进上下文，后续 handler 用 CurrentUser 取。
func AuthMiddleware(auth *authService.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		tokenString := ""
		if authHeader != "" {
			// 移除 "Bearer " 前缀
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				c.JSON(http.StatusUnauthorized, model.Error(401, "Token格式错误：Authorization header 必须以 'Bearer ' 开头"))
				c.Abort()
				return
			}
		} else {
			// 兼容静态资源访问：允许通过 query 传递 token
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, model.Error(401, "缺少Authorization Header或token参数"))
				c.Abort()
				return
			}
		}

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, model.Error(401, "Token无效或已过期: "+err.Error()))
			c.Abort()
			return
		}

		// Token 合法还不够：用户可能已被停用，按当前库里的状态为准
		user, err := auth.GetUserByID(claims.UserID)
		if err != nil || !user.IsActive() {
			c.JSON(http.StatusUnauthorized, model.Error(401, "用户不存在或已停用"))
			c.Abort()
			return
		}

		c.Set("user", user)
		c.Set("user_id", user.ID)
		c.Set("username", user.Username)
		c.Set("role", user.Role)

		c.Next()
	}
}

// CurrentUser 取出认证中间件写入的当前用户
func CurrentUser(c *gin.Context) *model.User {
	value, exists := c.Get("user")
	if !exists {
		return nil
	}
	user, ok := value.(*model.User)
	if !ok {
		return nil
	}
	return user
}

// AdminMiddleware 集团管理员权限中间件
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || role != model.RoleGroupAdmin {
			c.JSON(http.StatusForbidden, model.Error(403, "需要集团管理员权限"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Idempotency-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

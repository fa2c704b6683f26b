package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RecoveryMiddleware 自定义错误恢复中间件，打印请求上下文和堆栈
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err, ok := recovered.(error)
		if !ok {
			err = fmt.Errorf("%v", recovered)
		}

		fullURL := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			fullURL += "?" + q
		}
		username := ""
		if uname, exists := c.Get("username"); exists {
			username = fmt.Sprintf("%v", uname)
		}

		logger.Errorf("Panic recovered: %v (%s %s, ip=%s, user=%s)\n%s",
			err, c.Request.Method, fullURL, c.ClientIP(), username,
			string(debug.Stack()))

		c.JSON(http.StatusInternalServerError, model.Error(500, err.Error()))
		c.Abort()
	})
}

package model

import (
	"fmt"

	"github.com/fisker/zcrm-backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(data interface{}) Response {
	return Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

func Error(code int, message string) Response {
	return Response{
		Code:    code,
		Message: message,
	}
}

// HandleError 统一错误处理，记录请求上下文日志并返回错误响应
func HandleError(c *gin.Context, code int, err error, context ...string) {
	errorMsg := err.Error()
	if len(context) > 0 {
		errorMsg = fmt.Sprintf("%s: %v", context[0], err)
	}

	fullURL := c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		fullURL += "?" + q
	}
	username := ""
	if uname, exists := c.Get("username"); exists {
		username = fmt.Sprintf("%v", uname)
	}

	logger.Errorf("Request error [%d]: %v (%s %s, ip=%s, user=%s)",
		code, errorMsg, c.Request.Method, fullURL, c.ClientIP(), username)

	c.JSON(code, Error(code, errorMsg))
}

// PaginatedResponse 分页响应
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	TotalPages int         `json:"total_pages"`
}

// Package response 统一的 HTTP JSON 响应结构
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/riskguard/pkg/logger"
)

// Response 响应体
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Detail  string `json:"detail,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func traceID(c *gin.Context) string {
	id, _ := c.Request.Context().Value(logger.TraceIDKey).(string)
	return id
}

// Success 200 成功响应
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
		TraceID: traceID(c),
	})
}

// ErrorWithStatus 指定状态码的错误响应，code 与 HTTP 状态码一致
func ErrorWithStatus(c *gin.Context, status int, message, detail string) {
	c.AbortWithStatusJSON(status, Response{
		Code:    status,
		Message: message,
		Detail:  detail,
		TraceID: traceID(c),
	})
}

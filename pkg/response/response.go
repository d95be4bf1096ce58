package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 错误码与 service.Kind 取值一致，客户端可以据此判断错误类型
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeUpstream            = "UPSTREAM_ERROR"
	CodeWebhookSignature    = "WEBHOOK_SIGNATURE_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInternal            = "INTERNAL_ERROR"
)

var codeStatus = map[string]int{
	CodeValidation:          http.StatusBadRequest,
	CodeInsufficientCredits: http.StatusTooManyRequests,
	CodeUpstream:            http.StatusInternalServerError,
	CodeWebhookSignature:    http.StatusBadRequest,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeInternal:            http.StatusInternalServerError,
}

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusOf 未知错误码按 500 处理
func StatusOf(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

func Error(c *gin.Context, code, message string) {
	c.JSON(StatusOf(code), ErrorBody{
		Error: message,
		Code:  code,
	})
}

// Abort 用于中间件，终止后续处理
func Abort(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(StatusOf(code), ErrorBody{
		Error: message,
		Code:  code,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeValidation, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeInternal, message)
}

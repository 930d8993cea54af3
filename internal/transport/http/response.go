package httptransport

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/middleware"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	CodeSuccess       = 200 // 成功
	CodeBadRequest    = 400 // 请求参数错误
	CodeInternalError = 500 // 服务器内部错误
)

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Reject(c, domain.CodeInvalidRequest, msg, denial{ErrorCode: domain.CodeInvalidRequest})
}

// InternalError 服务器内部错误（500），不暴露故障环节
func InternalError(c *gin.Context) {
	Reject(c, domain.CodeInternal, MsgInternalError, denial{ErrorCode: domain.CodeInternal})
}

// Reject 按错误码返回对应的 HTTP 状态，data 中携带机器可读的 errorCode
func Reject(c *gin.Context, code domain.ErrorCode, msg string, data interface{}) {
	c.Set(middleware.ContextKeyErrorCode, string(code))
	status := code.HTTPStatus()
	c.JSON(status, Response{
		Code: status,
		Msg:  msg,
		Data: data,
	})
}

// setRetryAfter 限流响应附带 Retry-After 头
func setRetryAfter(c *gin.Context, seconds int) {
	if seconds > 0 {
		c.Header("Retry-After", strconv.Itoa(seconds))
	}
}

package httptransport

import "linkgate/backend/internal/domain"

// 错误消息映射表（错误码 -> 中文消息）
var errorMessages = map[domain.ErrorCode]string{
	// 链接生命周期
	domain.CodeLinkNotFound:      "链接不存在",
	domain.CodeLinkInactive:      "链接已停用",
	domain.CodeLinkExpired:       "链接已过期",
	domain.CodeViewLimitExceeded: "链接访问次数已用完",

	// 凭证
	domain.CodePasswordRequired: "需要输入访问密码",
	domain.CodeInvalidPassword:  "访问密码错误",
	domain.CodeEmailRequired:    "需要提供邮箱地址",
	domain.CodeEmailNotVerified: "邮箱尚未验证，请先获取验证码",
	domain.CodeNDARequired:      "需要先签署保密协议",

	// 验证码
	domain.CodeCodeNotFound:     "未找到该邮箱的验证码，请重新获取",
	domain.CodeCodeExpired:      "验证码已过期，请重新获取",
	domain.CodeCodeMismatch:     "验证码错误",
	domain.CodeAttemptsExceeded: "验证码发送次数过多，请稍后再试",

	// 其他
	domain.CodeAccessDenied:   "无权访问该链接",
	domain.CodeRateLimited:    "尝试次数过多，请稍后再试",
	domain.CodeInvalidRequest: MsgInvalidRequest,
	domain.CodeInternal:       MsgInternalError,
}

// GetErrorMessage 获取错误码的中文消息
func GetErrorMessage(code domain.ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return MsgInternalError
}

// 通用错误消息
const (
	MsgInvalidRequest = "请求参数格式错误"
	MsgInvalidJSON    = "JSON格式错误"
	MsgUnknownAction  = "不支持的操作"
	MsgInternalError  = "服务器内部错误，请稍后重试"
)

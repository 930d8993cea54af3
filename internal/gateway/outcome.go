package gateway

import (
	"time"

	"linkgate/backend/internal/domain"
)

// Kind 守卫结果类型
type Kind int

const (
	// KindPass 通过，继续下一个守卫
	KindPass Kind = iota
	// KindNeedsInput 缺少或提供了错误的凭证，客户端补充后可重试
	KindNeedsInput
	// KindDenied 拒绝
	KindDenied
)

func (k Kind) String() string {
	switch k {
	case KindPass:
		return "pass"
	case KindNeedsInput:
		return "needs_input"
	default:
		return "denied"
	}
}

// Outcome 单个守卫或整条守卫链的结果
type Outcome struct {
	Kind        Kind
	Code        domain.ErrorCode
	Requirement domain.Requirement
	Reason      string

	// RetryAfter 限流时的建议等待时间
	RetryAfter time.Duration
	// AttemptsRemaining 凭证错误后窗口内剩余的尝试次数
	AttemptsRemaining *int
	// NDAText 需要签署保密协议时返回的协议文本
	NDAText string
}

// Pass 通过
func Pass() Outcome {
	return Outcome{Kind: KindPass}
}

// NeedsInput 需要客户端补充 code 对应的凭证
func NeedsInput(code domain.ErrorCode, reason string) Outcome {
	return Outcome{
		Kind:        KindNeedsInput,
		Code:        code,
		Requirement: code.Requirement(),
		Reason:      reason,
	}
}

// Denied 拒绝；终止类错误不携带任何凭证提示
func Denied(code domain.ErrorCode, reason string) Outcome {
	return Outcome{Kind: KindDenied, Code: code, Reason: reason}
}

// RateLimited 限流拒绝
func RateLimited(retryAfter time.Duration) Outcome {
	o := Denied(domain.CodeRateLimited, "too many attempts")
	o.RetryAfter = retryAfter
	return o
}

// Passed 是否通过
func (o Outcome) Passed() bool {
	return o.Kind == KindPass
}

// Terminal 客户端无法通过补充凭证改变结果
func (o Outcome) Terminal() bool {
	return o.Kind == KindDenied && o.Code.Terminal()
}

// RetryAfterSeconds 向上取整的秒数
func (o Outcome) RetryAfterSeconds() int {
	if o.RetryAfter <= 0 {
		return 0
	}
	secs := int(o.RetryAfter / time.Second)
	if o.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

func (o Outcome) withAttempts(remaining int) Outcome {
	o.AttemptsRemaining = &remaining
	return o
}

func (o Outcome) codeLabel() string {
	if o.Passed() {
		return "OK"
	}
	return string(o.Code)
}

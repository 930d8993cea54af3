package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode 稳定的机器可读错误码，客户端据此分支，不依赖文案。
type ErrorCode string

const (
	CodeLinkNotFound      ErrorCode = "LINK_NOT_FOUND"
	CodeLinkInactive      ErrorCode = "LINK_INACTIVE"
	CodeLinkExpired       ErrorCode = "LINK_EXPIRED"
	CodeViewLimitExceeded ErrorCode = "VIEW_LIMIT_EXCEEDED"
	CodePasswordRequired  ErrorCode = "PASSWORD_REQUIRED"
	CodeInvalidPassword   ErrorCode = "INVALID_PASSWORD"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeEmailRequired     ErrorCode = "EMAIL_REQUIRED"
	CodeEmailNotVerified  ErrorCode = "EMAIL_NOT_VERIFIED"
	CodeNDARequired       ErrorCode = "NDA_REQUIRED"
	CodeAccessDenied      ErrorCode = "ACCESS_DENIED"
	CodeCodeNotFound      ErrorCode = "CODE_NOT_FOUND"
	CodeCodeExpired       ErrorCode = "CODE_EXPIRED"
	CodeCodeMismatch      ErrorCode = "CODE_MISMATCH"
	CodeAttemptsExceeded  ErrorCode = "ATTEMPTS_EXCEEDED"
	CodeInvalidRequest    ErrorCode = "INVALID_REQUEST"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// ErrorClass 错误分类
type ErrorClass string

const (
	// ClassLifecycle 链接生命周期类错误，客户端无法重试
	ClassLifecycle ErrorClass = "terminal_lifecycle"
	// ClassCredentialMissing 缺少凭证，补充后可重试
	ClassCredentialMissing ErrorClass = "credential_missing"
	// ClassCredentialInvalid 凭证错误，可重试但计入限流
	ClassCredentialInvalid ErrorClass = "credential_invalid"
	// ClassAccessDenied 访问控制拒绝，无法通过补充凭证解决
	ClassAccessDenied ErrorClass = "access_denied"
	// ClassRateLimited 触发限流，冷却后可重试
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassInvalidRequest 请求参数错误
	ClassInvalidRequest ErrorClass = "invalid_request"
	// ClassInternal 内部错误，不暴露具体环节
	ClassInternal ErrorClass = "internal"
)

// Requirement 非终止失败时客户端需要补充的凭证
type Requirement string

const (
	RequirementNone     Requirement = ""
	RequirementPassword Requirement = "password"
	RequirementEmail    Requirement = "email"
	RequirementCode     Requirement = "code"
	RequirementNDA      Requirement = "nda"
)

type codeInfo struct {
	class       ErrorClass
	status      int
	requirement Requirement
}

var codeTable = map[ErrorCode]codeInfo{
	CodeLinkNotFound:      {ClassLifecycle, http.StatusNotFound, RequirementNone},
	CodeLinkInactive:      {ClassLifecycle, http.StatusForbidden, RequirementNone},
	CodeLinkExpired:       {ClassLifecycle, http.StatusForbidden, RequirementNone},
	CodeViewLimitExceeded: {ClassLifecycle, http.StatusForbidden, RequirementNone},
	CodePasswordRequired:  {ClassCredentialMissing, http.StatusUnauthorized, RequirementPassword},
	CodeInvalidPassword:   {ClassCredentialInvalid, http.StatusUnauthorized, RequirementPassword},
	CodeEmailRequired:     {ClassCredentialMissing, http.StatusUnauthorized, RequirementEmail},
	CodeEmailNotVerified:  {ClassCredentialMissing, http.StatusUnauthorized, RequirementCode},
	CodeNDARequired:       {ClassCredentialMissing, http.StatusUnauthorized, RequirementNDA},
	CodeCodeNotFound:      {ClassCredentialInvalid, http.StatusUnauthorized, RequirementCode},
	CodeCodeExpired:       {ClassCredentialInvalid, http.StatusUnauthorized, RequirementCode},
	CodeCodeMismatch:      {ClassCredentialInvalid, http.StatusUnauthorized, RequirementCode},
	CodeAccessDenied:      {ClassAccessDenied, http.StatusForbidden, RequirementNone},
	CodeRateLimited:       {ClassRateLimited, http.StatusTooManyRequests, RequirementNone},
	CodeAttemptsExceeded:  {ClassRateLimited, http.StatusTooManyRequests, RequirementNone},
	CodeInvalidRequest:    {ClassInvalidRequest, http.StatusBadRequest, RequirementNone},
	CodeInternal:          {ClassInternal, http.StatusInternalServerError, RequirementNone},
}

func (c ErrorCode) info() codeInfo {
	if info, ok := codeTable[c]; ok {
		return info
	}
	return codeTable[CodeInternal]
}

// Class 返回错误码所属分类
func (c ErrorCode) Class() ErrorClass {
	return c.info().class
}

// HTTPStatus 返回错误码对应的 HTTP 状态码
func (c ErrorCode) HTTPStatus() int {
	return c.info().status
}

// Requirement 返回该错误码要求客户端补充的凭证；终止类错误返回 RequirementNone
func (c ErrorCode) Requirement() Requirement {
	return c.info().requirement
}

// Terminal 客户端补充任何凭证都无法改变结果
func (c ErrorCode) Terminal() bool {
	switch c.Class() {
	case ClassLifecycle, ClassAccessDenied:
		return true
	}
	return false
}

// ErrInternal 内部故障（存储不可达等），对外只暴露通用错误
var ErrInternal = errors.New("internal gateway error")

// GatewayError 带错误码的业务错误
type GatewayError struct {
	Code   ErrorCode
	Reason string
}

// NewGatewayError 创建业务错误
func NewGatewayError(code ErrorCode, reason string) *GatewayError {
	return &GatewayError{Code: code, Reason: reason}
}

func (e *GatewayError) Error() string {
	if e.Reason == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason)
}

// CodeOf 提取错误码；非业务错误一律视为内部错误
func CodeOf(err error) ErrorCode {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return CodeInternal
}

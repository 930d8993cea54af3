package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail   = errors.New("invalid email format")
	ErrEmailTooLong   = errors.New("email address too long")
	ErrInvalidCountry = errors.New("invalid country code")
	ErrInvalidLink    = errors.New("invalid link definition")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253

	// 链接密码长度限制
	MinLinkPasswordLength = 4
	MaxLinkPasswordLength = 128
)

// ValidateEmailAddress 验证访客提交的邮箱地址
func ValidateEmailAddress(email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return ErrInvalidEmail
	}
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || len(parts[0]) > MaxLocalPartLength {
		return ErrInvalidEmail
	}

	// 本地部分只允许常见字符
	for _, r := range parts[0] {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || strings.ContainsRune("._-+", r)) {
			return ErrInvalidEmail
		}
	}

	if !ValidateDomain(parts[1]) {
		return ErrInvalidEmail
	}

	// 使用标准库进行兜底校验
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateEmail 简化的 bool 版本
func ValidateEmail(email string) bool {
	return ValidateEmailAddress(email) == nil
}

// ValidateDomain 验证域名格式（访问控制规则中的域名也复用此函数）
func ValidateDomain(domain string) bool {
	if domain == "" || len(domain) > MaxDomainLength {
		return false
	}

	// 必须包含点
	if !strings.Contains(domain, ".") {
		return false
	}

	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if label == "" {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		// 只允许字母、数字和破折号
		for _, r := range label {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-') {
				return false
			}
		}
	}
	return true
}

// ValidateCountryCode 验证 ISO 3166-1 alpha-2 国家代码
func ValidateCountryCode(code string) error {
	if len(code) != 2 {
		return ErrInvalidCountry
	}
	for _, r := range code {
		if !((r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return ErrInvalidCountry
		}
	}
	return nil
}

// Validate 校验链接定义（由管理命令创建链接时调用）
func (l *ShareLink) Validate() error {
	if l.ID == "" || l.ResourceID == "" {
		return ErrInvalidLink
	}
	if !l.LinkType.Valid() {
		return ErrInvalidLink
	}
	if l.ViewLimit != nil && *l.ViewLimit <= 0 {
		return ErrInvalidLink
	}
	if l.RequireNDA && strings.TrimSpace(l.NDAText) == "" {
		return ErrInvalidLink
	}
	return nil
}

// Package acl 评估链接的允许/拒绝列表
//
// 维度按固定优先级检查：邮箱 → 域名 → 国家 → IP。某一维度的允许列表非空时，
// 只有命中允许列表才能通过，拒绝列表不再参与；否则命中拒绝列表即拒绝。
// 返回第一个失败维度的原因。
package acl

import (
	"context"
	"fmt"
	"net/netip"
	"strings"

	"linkgate/backend/internal/domain"
)

// UnknownCountry 无法定位时的国家代码
const UnknownCountry = "unknown"

// Dimension 访问控制维度
type Dimension string

const (
	DimensionEmail   Dimension = "email"
	DimensionDomain  Dimension = "domain"
	DimensionCountry Dimension = "country"
	DimensionIP      Dimension = "ip"
)

// Subject 被评估的访问者
type Subject struct {
	Email   string
	IP      string
	Country string
}

// Result 评估结果
type Result struct {
	Allowed   bool
	Dimension Dimension
	Reason    string
}

func allow() Result {
	return Result{Allowed: true}
}

func deny(dim Dimension, format string, args ...interface{}) Result {
	return Result{Allowed: false, Dimension: dim, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate 按优先级评估访问控制规则，list 为 nil 时直接通过
func Evaluate(list *domain.AccessControlList, subject Subject) Result {
	if list.Empty() {
		return allow()
	}

	email := domain.NormalizeEmail(subject.Email)
	checks := []func() Result{
		func() Result { return checkEmail(list, email) },
		func() Result { return checkDomain(list, domain.EmailDomain(email)) },
		func() Result { return checkCountry(list, subject.Country) },
		func() Result { return checkIP(list, subject.IP) },
	}
	for _, check := range checks {
		if r := check(); !r.Allowed {
			return r
		}
	}
	return allow()
}

func checkEmail(list *domain.AccessControlList, email string) Result {
	if len(list.AllowedEmails) > 0 {
		if email == "" {
			return deny(DimensionEmail, "email is not on the allow-list")
		}
		if !containsFold(list.AllowedEmails, email) {
			return deny(DimensionEmail, "email %s is not on the allow-list", email)
		}
		return allow()
	}
	if email != "" && containsFold(list.BlockedEmails, email) {
		return deny(DimensionEmail, "email %s is blocked", email)
	}
	return allow()
}

func checkDomain(list *domain.AccessControlList, emailDomain string) Result {
	if len(list.AllowedDomains) > 0 {
		if emailDomain == "" {
			return deny(DimensionDomain, "email domain is not on the allow-list")
		}
		if !matchesAnyDomain(list.AllowedDomains, emailDomain) {
			return deny(DimensionDomain, "domain %s is not on the allow-list", emailDomain)
		}
		return allow()
	}
	if emailDomain != "" && matchesAnyDomain(list.BlockedDomains, emailDomain) {
		return deny(DimensionDomain, "domain %s is blocked", emailDomain)
	}
	return allow()
}

// checkCountry "unknown" 无法通过非空允许列表；对拒绝列表，只有显式拒绝 "unknown" 时才拒绝
func checkCountry(list *domain.AccessControlList, country string) Result {
	country = strings.TrimSpace(country)
	if country == "" {
		country = UnknownCountry
	}
	if len(list.AllowedCountries) > 0 {
		if strings.EqualFold(country, UnknownCountry) {
			return deny(DimensionCountry, "country could not be determined")
		}
		if !containsFold(list.AllowedCountries, country) {
			return deny(DimensionCountry, "country %s is not on the allow-list", strings.ToUpper(country))
		}
		return allow()
	}
	if containsFold(list.BlockedCountries, country) {
		return deny(DimensionCountry, "country %s is blocked", strings.ToUpper(country))
	}
	return allow()
}

func checkIP(list *domain.AccessControlList, ip string) Result {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	valid := err == nil
	if valid {
		addr = addr.Unmap()
	}

	if len(list.AllowedIPs) > 0 {
		if !valid {
			return deny(DimensionIP, "client address is not on the allow-list")
		}
		if !matchesAnyIP(list.AllowedIPs, addr) {
			return deny(DimensionIP, "address %s is not on the allow-list", addr)
		}
		return allow()
	}
	if valid && matchesAnyIP(list.BlockedIPs, addr) {
		return deny(DimensionIP, "address %s is blocked", addr)
	}
	return allow()
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return true
		}
	}
	return false
}

// NormalizeDomainRule 去掉规则中的 "@" 与 "*." 前缀
func NormalizeDomainRule(rule string) string {
	rule = strings.ToLower(strings.TrimSpace(rule))
	rule = strings.TrimPrefix(rule, "@")
	rule = strings.TrimPrefix(rule, "*.")
	return strings.TrimSuffix(rule, ".")
}

// MatchDomain 后缀匹配: acme.com 匹配 acme.com 与 sub.acme.com，不匹配 notacme.com
func MatchDomain(rule, emailDomain string) bool {
	rule = NormalizeDomainRule(rule)
	if rule == "" {
		return false
	}
	emailDomain = strings.ToLower(emailDomain)
	return emailDomain == rule || strings.HasSuffix(emailDomain, "."+rule)
}

func matchesAnyDomain(rules []string, emailDomain string) bool {
	for _, rule := range rules {
		if MatchDomain(rule, emailDomain) {
			return true
		}
	}
	return false
}

// MatchIP 规则可以是单个地址或 CIDR，无法解析的规则不匹配任何地址
func MatchIP(rule string, addr netip.Addr) bool {
	rule = strings.TrimSpace(rule)
	if strings.Contains(rule, "/") {
		prefix, err := netip.ParsePrefix(rule)
		if err != nil {
			return false
		}
		return prefix.Masked().Contains(addr)
	}
	ruleAddr, err := netip.ParseAddr(rule)
	if err != nil {
		return false
	}
	return ruleAddr.Unmap() == addr
}

func matchesAnyIP(rules []string, addr netip.Addr) bool {
	for _, rule := range rules {
		if MatchIP(rule, addr) {
			return true
		}
	}
	return false
}

// Repository 访问控制规则来源
type Repository interface {
	GetAccessControl(ctx context.Context, linkID string) (*domain.AccessControlList, error)
}

// Service 从存储加载规则并评估
type Service struct {
	repo Repository
}

// NewService 创建访问控制服务
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Load 加载链接的访问控制规则
func (s *Service) Load(ctx context.Context, linkID string) (*domain.AccessControlList, error) {
	list, err := s.repo.GetAccessControl(ctx, linkID)
	if err != nil {
		return nil, fmt.Errorf("load access control for %s: %w", linkID, err)
	}
	return list, nil
}

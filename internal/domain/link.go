package domain

import (
	"strings"
	"time"
)

// LinkType 分享链接指向的资源类型
type LinkType string

const (
	// LinkTypeDocument 单个文档链接
	LinkTypeDocument LinkType = "document"
	// LinkTypeDataRoom 数据室链接
	LinkTypeDataRoom LinkType = "dataroom"
)

// Valid 判断链接类型是否受支持
func (t LinkType) Valid() bool {
	return t == LinkTypeDocument || t == LinkTypeDataRoom
}

// ShareLink 表示一个分享出去的文档或数据室链接。
//
// CurrentViews 只增不减，是访问配额判断的唯一依据。
type ShareLink struct {
	ID            string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Slug          *string    `json:"slug,omitempty" gorm:"type:varchar(100);uniqueIndex"`
	LinkType      LinkType   `json:"linkType" gorm:"type:varchar(20);index;not null"`
	ResourceID    string     `json:"resourceId" gorm:"type:varchar(64);not null"`
	ResourceName  string     `json:"resourceName" gorm:"type:varchar(255)"`
	PasswordHash  *string    `json:"-" gorm:"type:varchar(255)"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ViewLimit     *int64     `json:"viewLimit,omitempty"`
	CurrentViews  int64      `json:"currentViews" gorm:"not null"`
	IsActive      bool       `json:"isActive" gorm:"not null"`
	RequireEmail  bool       `json:"requireEmail" gorm:"not null"`
	RequireNDA    bool       `json:"requireNda" gorm:"column:require_nda;not null"`
	AllowDownload bool       `json:"allowDownload" gorm:"not null"`
	NDAText       string     `json:"-" gorm:"column:nda_text;type:text"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// TableName 指定 GORM 表名
func (ShareLink) TableName() string {
	return "links"
}

// HasPassword 链接是否设置了访问密码
func (l *ShareLink) HasPassword() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}

// IsExpired 判断链接在 now 时刻是否已过期
func (l *ShareLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// QuotaExhausted 判断访问次数是否已用完
func (l *ShareLink) QuotaExhausted() bool {
	return l.ViewLimit != nil && l.CurrentViews >= *l.ViewLimit
}

// Usable 链接可用：启用 且 未过期 且 配额未用完
func (l *ShareLink) Usable(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now) && !l.QuotaExhausted()
}

// NormalizeEmail 统一邮箱格式（去空白、小写）
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain 返回邮箱的域名部分，格式不合法时返回空串
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

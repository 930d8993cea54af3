package domain

import (
	"time"

	"gorm.io/datatypes"
)

// AccessControlList 链接的访问控制规则（每个链接最多一条）。
//
// 任一维度的允许列表非空时，该维度只认允许列表，拒绝列表不再参与判断。
type AccessControlList struct {
	LinkID           string                      `json:"linkId" gorm:"primaryKey;type:varchar(36)"`
	AllowedEmails    datatypes.JSONSlice[string] `json:"allowedEmails"`
	BlockedEmails    datatypes.JSONSlice[string] `json:"blockedEmails"`
	AllowedDomains   datatypes.JSONSlice[string] `json:"allowedDomains"`
	BlockedDomains   datatypes.JSONSlice[string] `json:"blockedDomains"`
	AllowedCountries datatypes.JSONSlice[string] `json:"allowedCountries"`
	BlockedCountries datatypes.JSONSlice[string] `json:"blockedCountries"`
	AllowedIPs       datatypes.JSONSlice[string] `json:"allowedIps" gorm:"column:allowed_ips"`
	BlockedIPs       datatypes.JSONSlice[string] `json:"blockedIps" gorm:"column:blocked_ips"`
	CreatedAt        time.Time                   `json:"createdAt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
}

// TableName 指定 GORM 表名
func (AccessControlList) TableName() string {
	return "access_control"
}

// HasCountryRules 是否配置了国家维度的规则（用于决定是否需要地理位置查询）
func (a *AccessControlList) HasCountryRules() bool {
	return a != nil && (len(a.AllowedCountries) > 0 || len(a.BlockedCountries) > 0)
}

// Empty 没有任何规则
func (a *AccessControlList) Empty() bool {
	return a == nil ||
		len(a.AllowedEmails)+len(a.BlockedEmails)+
			len(a.AllowedDomains)+len(a.BlockedDomains)+
			len(a.AllowedCountries)+len(a.BlockedCountries)+
			len(a.AllowedIPs)+len(a.BlockedIPs) == 0
}

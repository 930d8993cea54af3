package domain

import "time"

// VerificationRecord 一次验证码签发记录。
//
// 重新发送会把同一 (链接, 邮箱) 之前未验证的记录标记为 Invalidated，而不是删除。
type VerificationRecord struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LinkID      string     `json:"linkId" gorm:"type:varchar(36);index:idx_verification_pair;not null"`
	Email       string     `json:"email" gorm:"type:varchar(255);index:idx_verification_pair;not null"`
	Code        string     `json:"-" gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt" gorm:"index"`
	Verified    bool       `json:"verified" gorm:"not null"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	Invalidated bool       `json:"-" gorm:"not null"`
}

// TableName 指定 GORM 表名
func (VerificationRecord) TableName() string {
	return "email_verifications"
}

// IsExpired 验证码在 now 时刻是否过期
func (v *VerificationRecord) IsExpired(now time.Time) bool {
	return !now.Before(v.ExpiresAt)
}

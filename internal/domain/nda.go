package domain

import "time"

// NdaAcceptance 保密协议签署记录，写入后不可修改（法律凭证）。
type NdaAcceptance struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	LinkID     string    `json:"linkId" gorm:"type:varchar(36);index:idx_nda_pair;not null"`
	Email      string    `json:"email" gorm:"type:varchar(255);index:idx_nda_pair;not null"`
	NDAText    string    `json:"ndaText" gorm:"column:nda_text;type:text"`
	IPAddress  string    `json:"ipAddress" gorm:"type:varchar(64)"`
	UserAgent  string    `json:"userAgent" gorm:"type:varchar(512)"`
	AcceptedAt time.Time `json:"acceptedAt"`
	Binding    bool      `json:"binding" gorm:"not null"`
}

// TableName 指定 GORM 表名
func (NdaAcceptance) TableName() string {
	return "nda_acceptances"
}

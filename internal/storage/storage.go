package storage

import (
	"context"
	"errors"
	"time"

	"linkgate/backend/internal/domain"
)

var (
	// ErrLinkNotFound 链接不存在
	ErrLinkNotFound = errors.New("link not found")
	// ErrViewLimitReached 访问次数已达上限，计数未增加
	ErrViewLimitReached = errors.New("view limit reached")
	// ErrVerificationNotFound 验证记录不存在或已失效
	ErrVerificationNotFound = errors.New("verification record not found")
)

// LinkRepository 定义分享链接数据存取操作。
type LinkRepository interface {
	// GetLink 按 ID 或自定义 slug 查询链接
	GetLink(ctx context.Context, idOrSlug string) (*domain.ShareLink, error)
	SaveLink(ctx context.Context, link *domain.ShareLink) error
	// IncrementViews 原子地自增访问计数并返回新值；配额已满时返回 ErrViewLimitReached
	IncrementViews(ctx context.Context, linkID string) (int64, error)
}

// AccessControlRepository 定义访问控制规则存取操作。
type AccessControlRepository interface {
	// GetAccessControl 未配置规则时返回 (nil, nil)
	GetAccessControl(ctx context.Context, linkID string) (*domain.AccessControlList, error)
	SaveAccessControl(ctx context.Context, acl *domain.AccessControlList) error
}

// VerificationRepository 定义邮箱验证码记录存取操作。
type VerificationRepository interface {
	// InvalidateAndCreate 先作废同一 (链接, 邮箱) 未验证的旧记录，再写入新记录（同一事务内按序执行）
	InvalidateAndCreate(ctx context.Context, record *domain.VerificationRecord) error
	// FindVerification 查找与验证码匹配且未作废的最新记录
	FindVerification(ctx context.Context, linkID, email, code string) (*domain.VerificationRecord, error)
	// LatestVerification 查找该 (链接, 邮箱) 最新的未作废记录
	LatestVerification(ctx context.Context, linkID, email string) (*domain.VerificationRecord, error)
	// MarkVerified 标记为已验证；记录已被作废时返回 ErrVerificationNotFound
	MarkVerified(ctx context.Context, id string, at time.Time) error
	HasVerifiedEmail(ctx context.Context, linkID, email string) (bool, error)
	// PurgeExpiredVerifications 删除 before 之前过期且未验证的记录
	PurgeExpiredVerifications(ctx context.Context, before time.Time) (int64, error)
}

// NdaRepository 定义保密协议签署记录存取操作（只写入，不修改）。
type NdaRepository interface {
	CreateNdaAcceptance(ctx context.Context, acceptance *domain.NdaAcceptance) error
	HasNdaAcceptance(ctx context.Context, linkID, email string) (bool, error)
}

// Store 定义完整的存储接口。
type Store interface {
	LinkRepository
	AccessControlRepository
	VerificationRepository
	NdaRepository

	// 工具方法
	Health(ctx context.Context) error
	Close() error
}

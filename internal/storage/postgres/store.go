package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储实现（PostgreSQL / MySQL / SQLite）
type Store struct {
	db     *gorm.DB
	client *Client
}

// Options 存储选项
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// DefaultOptions 默认连接池参数
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// NewStore 基于 pgx 连接池创建 PostgreSQL 存储实例，关闭存储时同时关闭连接池
func NewStore(client *Client, opts Options) (*Store, error) {
	store, err := NewStoreWithDialector(postgres.New(postgres.Config{Conn: client.SQLDB()}), opts)
	if err != nil {
		return nil, err
	}
	store.client = client
	return store, nil
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string, opts Options) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn), opts)
}

// NewSQLiteStore 创建 SQLite 存储实例（开发与测试）
func NewSQLiteStore(path string, opts Options) (*Store, error) {
	// SQLite 单写者，限制为一个连接避免 database is locked
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	return NewStoreWithDialector(sqlite.Open(path), opts)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db}

	if opts.AutoMigrate {
		if err := store.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.ShareLink{},
		&domain.AccessControlList{},
		&domain.VerificationRecord{},
		&domain.NdaAcceptance{},
	)
}

// ========== Link Repository ==========

// GetLink 根据 ID 或 slug 获取链接
func (s *Store) GetLink(ctx context.Context, idOrSlug string) (*domain.ShareLink, error) {
	var link domain.ShareLink
	err := s.db.WithContext(ctx).
		Where("id = ? OR slug = ?", idOrSlug, idOrSlug).
		First(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrLinkNotFound
		}
		return nil, err
	}
	return &link, nil
}

// SaveLink 保存链接
func (s *Store) SaveLink(ctx context.Context, link *domain.ShareLink) error {
	return s.db.WithContext(ctx).Save(link).Error
}

// IncrementViews 条件自增访问次数并回读
//
// 自增语句自带配额条件，并发请求在数据库行锁上串行化，不会超出 view_limit。
func (s *Store) IncrementViews(ctx context.Context, linkID string) (int64, error) {
	var views int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.ShareLink{}).
			Where("id = ? AND (view_limit IS NULL OR current_views < view_limit)", linkID).
			UpdateColumn("current_views", gorm.Expr("current_views + ?", 1))
		if result.Error != nil {
			return result.Error
		}

		var link domain.ShareLink
		if err := tx.Select("current_views").Where("id = ?", linkID).First(&link).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrLinkNotFound
			}
			return err
		}
		views = link.CurrentViews

		if result.RowsAffected == 0 {
			return storage.ErrViewLimitReached
		}
		return nil
	})
	return views, err
}

// ========== Access Control Repository ==========

// GetAccessControl 获取访问控制规则，未配置时返回 nil
func (s *Store) GetAccessControl(ctx context.Context, linkID string) (*domain.AccessControlList, error) {
	var acl domain.AccessControlList
	err := s.db.WithContext(ctx).Where("link_id = ?", linkID).First(&acl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &acl, nil
}

// SaveAccessControl 保存访问控制规则
func (s *Store) SaveAccessControl(ctx context.Context, acl *domain.AccessControlList) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&domain.ShareLink{}).Where("id = ?", acl.LinkID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrLinkNotFound
		}
		return tx.Save(acl).Error
	})
}

// ========== Verification Repository ==========

// InvalidateAndCreate 在同一事务内作废旧验证码并写入新验证码
func (s *Store) InvalidateAndCreate(ctx context.Context, record *domain.VerificationRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&domain.VerificationRecord{}).
			Where("link_id = ? AND email = ? AND verified = ? AND invalidated = ?", record.LinkID, record.Email, false, false).
			UpdateColumn("invalidated", true).Error
		if err != nil {
			return err
		}
		return tx.Create(record).Error
	})
}

// FindVerification 查找匹配验证码的有效记录
func (s *Store) FindVerification(ctx context.Context, linkID, email, code string) (*domain.VerificationRecord, error) {
	var record domain.VerificationRecord
	err := s.db.WithContext(ctx).
		Where("link_id = ? AND email = ? AND code = ? AND invalidated = ?", linkID, email, code, false).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrVerificationNotFound
		}
		return nil, err
	}
	return &record, nil
}

// LatestVerification 获取最新的有效记录
func (s *Store) LatestVerification(ctx context.Context, linkID, email string) (*domain.VerificationRecord, error) {
	var record domain.VerificationRecord
	err := s.db.WithContext(ctx).
		Where("link_id = ? AND email = ? AND invalidated = ?", linkID, email, false).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrVerificationNotFound
		}
		return nil, err
	}
	return &record, nil
}

// MarkVerified 标记记录已验证，已作废的记录不能再被验证
func (s *Store) MarkVerified(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&domain.VerificationRecord{}).
		Where("id = ? AND invalidated = ?", id, false).
		UpdateColumns(map[string]interface{}{
			"verified":    true,
			"verified_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrVerificationNotFound
	}
	return nil
}

// HasVerifiedEmail 是否存在已验证记录
func (s *Store) HasVerifiedEmail(ctx context.Context, linkID, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.VerificationRecord{}).
		Where("link_id = ? AND email = ? AND verified = ?", linkID, email, true).
		Count(&count).Error
	return count > 0, err
}

// PurgeExpiredVerifications 删除 before 之前过期且未验证的记录
func (s *Store) PurgeExpiredVerifications(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("verified = ? AND expires_at < ?", false, before).
		Delete(&domain.VerificationRecord{})
	return result.RowsAffected, result.Error
}

// ========== NDA Repository ==========

// CreateNdaAcceptance 写入签署记录（只插入，不更新）
func (s *Store) CreateNdaAcceptance(ctx context.Context, acceptance *domain.NdaAcceptance) error {
	return s.db.WithContext(ctx).Create(acceptance).Error
}

// HasNdaAcceptance 是否已签署
func (s *Store) HasNdaAcceptance(ctx context.Context, linkID, email string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.NdaAcceptance{}).
		Where("link_id = ? AND email = ?", linkID, email).
		Count(&count).Error
	return count > 0, err
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	if s.client != nil {
		s.client.Close()
	}
	return err
}

var _ storage.Store = (*Store)(nil)

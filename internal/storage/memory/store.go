package memory

import (
	"context"
	"sync"
	"time"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/storage"
)

// Store 使用内存保存链接与验证数据，主要用于开发验证和测试。
type Store struct {
	mu            sync.RWMutex
	links         map[string]*domain.ShareLink         // linkID -> link
	bySlug        map[string]string                    // slug -> linkID
	acls          map[string]*domain.AccessControlList // linkID -> acl
	verifications []*domain.VerificationRecord         // 按写入顺序保存
	ndas          []*domain.NdaAcceptance
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		links:  make(map[string]*domain.ShareLink),
		bySlug: make(map[string]string),
		acls:   make(map[string]*domain.AccessControlList),
	}
}

// ========== Link Repository ==========

// GetLink 按 ID 或 slug 获取链接快照。
func (s *Store) GetLink(_ context.Context, idOrSlug string) (*domain.ShareLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[idOrSlug]
	if !ok {
		id, found := s.bySlug[idOrSlug]
		if !found {
			return nil, storage.ErrLinkNotFound
		}
		link = s.links[id]
	}
	copied := *link
	return &copied, nil
}

// SaveLink 保存链接。
func (s *Store) SaveLink(_ context.Context, link *domain.ShareLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	link.UpdatedAt = now

	if old, ok := s.links[link.ID]; ok && old.Slug != nil {
		delete(s.bySlug, *old.Slug)
	}
	copied := *link
	s.links[link.ID] = &copied
	if link.Slug != nil && *link.Slug != "" {
		s.bySlug[*link.Slug] = link.ID
	}
	return nil
}

// IncrementViews 在锁内检查配额并自增，保证不会超发。
func (s *Store) IncrementViews(_ context.Context, linkID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.links[linkID]
	if !ok {
		return 0, storage.ErrLinkNotFound
	}
	if link.QuotaExhausted() {
		return link.CurrentViews, storage.ErrViewLimitReached
	}
	link.CurrentViews++
	return link.CurrentViews, nil
}

// ========== Access Control Repository ==========

// GetAccessControl 获取链接的访问控制规则，未配置时返回 nil。
func (s *Store) GetAccessControl(_ context.Context, linkID string) (*domain.AccessControlList, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acl, ok := s.acls[linkID]
	if !ok {
		return nil, nil
	}
	copied := *acl
	return &copied, nil
}

// SaveAccessControl 保存访问控制规则。
func (s *Store) SaveAccessControl(_ context.Context, acl *domain.AccessControlList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.links[acl.LinkID]; !ok {
		return storage.ErrLinkNotFound
	}
	copied := *acl
	s.acls[acl.LinkID] = &copied
	return nil
}

// ========== Verification Repository ==========

// InvalidateAndCreate 作废旧的未验证记录后写入新记录。
func (s *Store) InvalidateAndCreate(_ context.Context, record *domain.VerificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.verifications {
		if v.LinkID == record.LinkID && v.Email == record.Email && !v.Verified {
			v.Invalidated = true
		}
	}
	copied := *record
	s.verifications = append(s.verifications, &copied)
	return nil
}

// FindVerification 从最新往前查找匹配验证码的有效记录。
func (s *Store) FindVerification(_ context.Context, linkID, email, code string) (*domain.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.verifications) - 1; i >= 0; i-- {
		v := s.verifications[i]
		if v.LinkID == linkID && v.Email == email && v.Code == code && !v.Invalidated {
			copied := *v
			return &copied, nil
		}
	}
	return nil, storage.ErrVerificationNotFound
}

// LatestVerification 返回最新的有效记录。
func (s *Store) LatestVerification(_ context.Context, linkID, email string) (*domain.VerificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.verifications) - 1; i >= 0; i-- {
		v := s.verifications[i]
		if v.LinkID == linkID && v.Email == email && !v.Invalidated {
			copied := *v
			return &copied, nil
		}
	}
	return nil, storage.ErrVerificationNotFound
}

// MarkVerified 标记记录已验证。
func (s *Store) MarkVerified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.verifications {
		if v.ID == id && !v.Invalidated {
			v.Verified = true
			verifiedAt := at
			v.VerifiedAt = &verifiedAt
			return nil
		}
	}
	return storage.ErrVerificationNotFound
}

// HasVerifiedEmail 是否存在已验证记录。
func (s *Store) HasVerifiedEmail(_ context.Context, linkID, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.verifications {
		if v.LinkID == linkID && v.Email == email && v.Verified {
			return true, nil
		}
	}
	return false, nil
}

// PurgeExpiredVerifications 清理过期未验证的记录。
func (s *Store) PurgeExpiredVerifications(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.verifications[:0]
	var removed int64
	for _, v := range s.verifications {
		if !v.Verified && v.ExpiresAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, v)
	}
	s.verifications = kept
	return removed, nil
}

// ========== NDA Repository ==========

// CreateNdaAcceptance 写入签署记录。
func (s *Store) CreateNdaAcceptance(_ context.Context, acceptance *domain.NdaAcceptance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *acceptance
	s.ndas = append(s.ndas, &copied)
	return nil
}

// HasNdaAcceptance 是否已签署。
func (s *Store) HasNdaAcceptance(_ context.Context, linkID, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, n := range s.ndas {
		if n.LinkID == linkID && n.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// Health 内存存储总是可用
func (s *Store) Health(_ context.Context) error {
	return nil
}

// Close 内存存储无需关闭
func (s *Store) Close() error {
	return nil
}

var _ storage.Store = (*Store)(nil)

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLink(id string, limit *int64) *domain.ShareLink {
	return &domain.ShareLink{
		ID:         id,
		LinkType:   domain.LinkTypeDocument,
		ResourceID: "doc-" + id,
		IsActive:   true,
		ViewLimit:  limit,
	}
}

func TestMemoryStore_LinkOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	slug := "quarterly-report"
	link := newLink("link-1", nil)
	link.Slug = &slug
	require.NoError(t, store.SaveLink(ctx, link))

	t.Run("按 ID 查询", func(t *testing.T) {
		got, err := store.GetLink(ctx, "link-1")
		require.NoError(t, err)
		assert.Equal(t, "doc-link-1", got.ResourceID)
	})

	t.Run("按 slug 查询", func(t *testing.T) {
		got, err := store.GetLink(ctx, slug)
		require.NoError(t, err)
		assert.Equal(t, "link-1", got.ID)
	})

	t.Run("不存在的链接", func(t *testing.T) {
		_, err := store.GetLink(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrLinkNotFound)
	})

	t.Run("返回的是副本", func(t *testing.T) {
		got, err := store.GetLink(ctx, "link-1")
		require.NoError(t, err)
		got.CurrentViews = 99
		again, err := store.GetLink(ctx, "link-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), again.CurrentViews)
	})
}

func TestMemoryStore_IncrementViewsRespectsQuota(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	limit := int64(10)
	require.NoError(t, store.SaveLink(ctx, newLink("quota", &limit)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.IncrementViews(ctx, "quota"); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	got, err := store.GetLink(ctx, "quota")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.CurrentViews)

	_, err = store.IncrementViews(ctx, "quota")
	assert.ErrorIs(t, err, storage.ErrViewLimitReached)
}

func TestMemoryStore_VerificationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now()

	first := &domain.VerificationRecord{ID: "v1", LinkID: "l", Email: "a@acme.com", Code: "111111", CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute)}
	second := &domain.VerificationRecord{ID: "v2", LinkID: "l", Email: "a@acme.com", Code: "222222", CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute)}

	require.NoError(t, store.InvalidateAndCreate(ctx, first))
	require.NoError(t, store.InvalidateAndCreate(ctx, second))

	t.Run("重发后旧验证码失效", func(t *testing.T) {
		_, err := store.FindVerification(ctx, "l", "a@acme.com", "111111")
		assert.ErrorIs(t, err, storage.ErrVerificationNotFound)
		assert.ErrorIs(t, store.MarkVerified(ctx, "v1", now), storage.ErrVerificationNotFound)
	})

	t.Run("最新记录为第二次签发", func(t *testing.T) {
		latest, err := store.LatestVerification(ctx, "l", "a@acme.com")
		require.NoError(t, err)
		assert.Equal(t, "v2", latest.ID)
	})

	t.Run("验证后可查询", func(t *testing.T) {
		require.NoError(t, store.MarkVerified(ctx, "v2", now))
		ok, err := store.HasVerifiedEmail(ctx, "l", "a@acme.com")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("已验证记录不会被后续签发作废", func(t *testing.T) {
		third := &domain.VerificationRecord{ID: "v3", LinkID: "l", Email: "a@acme.com", Code: "333333", CreatedAt: now, ExpiresAt: now.Add(15 * time.Minute)}
		require.NoError(t, store.InvalidateAndCreate(ctx, third))
		rec, err := store.FindVerification(ctx, "l", "a@acme.com", "222222")
		require.NoError(t, err)
		assert.True(t, rec.Verified)
	})

	t.Run("清理过期未验证记录", func(t *testing.T) {
		removed, err := store.PurgeExpiredVerifications(ctx, now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed) // v1 与 v3
		ok, err := store.HasVerifiedEmail(ctx, "l", "a@acme.com")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestMemoryStore_NdaAndAccessControl(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.SaveLink(ctx, newLink("nda", nil)))

	ok, err := store.HasNdaAcceptance(ctx, "nda", "a@acme.com")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.CreateNdaAcceptance(ctx, &domain.NdaAcceptance{ID: "n1", LinkID: "nda", Email: "a@acme.com", Binding: true}))
	ok, err = store.HasNdaAcceptance(ctx, "nda", "a@acme.com")
	require.NoError(t, err)
	assert.True(t, ok)

	acl, err := store.GetAccessControl(ctx, "nda")
	require.NoError(t, err)
	assert.Nil(t, acl)

	require.NoError(t, store.SaveAccessControl(ctx, &domain.AccessControlList{LinkID: "nda", BlockedCountries: []string{"KP"}}))
	acl, err = store.GetAccessControl(ctx, "nda")
	require.NoError(t, err)
	assert.Equal(t, []string{"KP"}, []string(acl.BlockedCountries))

	assert.ErrorIs(t, store.SaveAccessControl(ctx, &domain.AccessControlList{LinkID: "ghost"}), storage.ErrLinkNotFound)
}

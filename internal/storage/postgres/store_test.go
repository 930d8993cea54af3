package postgres

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "linkgate.db"), DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Links(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	slug := "board-pack"
	hash := "$2a$10$abcdefghijklmnopqrstuv"
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	link := &domain.ShareLink{
		ID:           "11111111-1111-1111-1111-111111111111",
		Slug:         &slug,
		LinkType:     domain.LinkTypeDataRoom,
		ResourceID:   "room-1",
		ResourceName: "Board pack",
		PasswordHash: &hash,
		ExpiresAt:    &expires,
		IsActive:     true,
		RequireEmail: true,
	}
	require.NoError(t, store.SaveLink(ctx, link))

	t.Run("按 ID 与 slug 查询", func(t *testing.T) {
		byID, err := store.GetLink(ctx, link.ID)
		require.NoError(t, err)
		bySlug, err := store.GetLink(ctx, slug)
		require.NoError(t, err)

		assert.Equal(t, byID.ID, bySlug.ID)
		assert.Equal(t, domain.LinkTypeDataRoom, byID.LinkType)
		assert.True(t, byID.HasPassword())
		assert.True(t, byID.RequireEmail)
		assert.True(t, byID.ExpiresAt.Equal(expires))
	})

	t.Run("不存在的链接", func(t *testing.T) {
		_, err := store.GetLink(ctx, "nope")
		assert.ErrorIs(t, err, storage.ErrLinkNotFound)
	})
}

func TestStore_IncrementViews(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	limit := int64(3)
	require.NoError(t, store.SaveLink(ctx, &domain.ShareLink{
		ID: "limited", LinkType: domain.LinkTypeDocument, ResourceID: "doc", IsActive: true, ViewLimit: &limit,
	}))
	require.NoError(t, store.SaveLink(ctx, &domain.ShareLink{
		ID: "unlimited", LinkType: domain.LinkTypeDocument, ResourceID: "doc", IsActive: true,
	}))

	t.Run("并发自增不超过配额", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		granted := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.IncrementViews(ctx, "limited"); err == nil {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 3, granted)
		views, err := store.IncrementViews(ctx, "limited")
		assert.ErrorIs(t, err, storage.ErrViewLimitReached)
		assert.Equal(t, int64(3), views)
	})

	t.Run("无配额限制", func(t *testing.T) {
		for i := 1; i <= 5; i++ {
			views, err := store.IncrementViews(ctx, "unlimited")
			require.NoError(t, err)
			assert.Equal(t, int64(i), views)
		}
	})

	t.Run("链接不存在", func(t *testing.T) {
		_, err := store.IncrementViews(ctx, "ghost")
		assert.ErrorIs(t, err, storage.ErrLinkNotFound)
	})
}

func TestStore_AccessControl(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.SaveLink(ctx, &domain.ShareLink{ID: "acl", LinkType: domain.LinkTypeDocument, ResourceID: "doc", IsActive: true}))

	acl, err := store.GetAccessControl(ctx, "acl")
	require.NoError(t, err)
	assert.Nil(t, acl)

	require.NoError(t, store.SaveAccessControl(ctx, &domain.AccessControlList{
		LinkID:         "acl",
		AllowedDomains: []string{"acme.com"},
		BlockedIPs:     []string{"10.0.0.0/8"},
	}))

	acl, err = store.GetAccessControl(ctx, "acl")
	require.NoError(t, err)
	require.NotNil(t, acl)
	assert.Equal(t, []string{"acme.com"}, []string(acl.AllowedDomains))
	assert.Equal(t, []string{"10.0.0.0/8"}, []string(acl.BlockedIPs))
	assert.Empty(t, acl.AllowedCountries)

	err = store.SaveAccessControl(ctx, &domain.AccessControlList{LinkID: "ghost"})
	assert.ErrorIs(t, err, storage.ErrLinkNotFound)
}

func TestStore_Verifications(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()

	first := &domain.VerificationRecord{ID: "v1", LinkID: "l", Email: "a@acme.com", Code: "111111", CreatedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(13 * time.Minute)}
	second := &domain.VerificationRecord{ID: "v2", LinkID: "l", Email: "a@acme.com", Code: "222222", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(14 * time.Minute)}
	require.NoError(t, store.InvalidateAndCreate(ctx, first))
	require.NoError(t, store.InvalidateAndCreate(ctx, second))

	_, err := store.FindVerification(ctx, "l", "a@acme.com", "111111")
	assert.ErrorIs(t, err, storage.ErrVerificationNotFound)

	latest, err := store.LatestVerification(ctx, "l", "a@acme.com")
	require.NoError(t, err)
	assert.Equal(t, "v2", latest.ID)

	assert.ErrorIs(t, store.MarkVerified(ctx, "v1", now), storage.ErrVerificationNotFound)
	require.NoError(t, store.MarkVerified(ctx, "v2", now))

	ok, err := store.HasVerifiedEmail(ctx, "l", "a@acme.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasVerifiedEmail(ctx, "l", "b@acme.com")
	require.NoError(t, err)
	assert.False(t, ok)

	removed, err := store.PurgeExpiredVerifications(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestStore_NdaAndHealth(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Health(ctx))

	require.NoError(t, store.CreateNdaAcceptance(ctx, &domain.NdaAcceptance{
		ID: "n1", LinkID: "l", Email: "a@acme.com", NDAText: "Keep it secret.", AcceptedAt: time.Now(), Binding: true,
	}))
	ok, err := store.HasNdaAcceptance(ctx, "l", "a@acme.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasNdaAcceptance(ctx, "l", "b@acme.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

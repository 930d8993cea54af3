package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/mailer"
	"linkgate/backend/internal/ratelimit"
	"linkgate/backend/internal/storage/memory"
)

type mockMailer struct {
	mock.Mock
	mu   sync.Mutex
	sent []mailer.VerificationMessage
}

func (m *mockMailer) SendVerificationCode(ctx context.Context, msg mailer.VerificationMessage) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockMailer) last() mailer.VerificationMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	mailer *mockMailer
	now    time.Time
	link   *domain.ShareLink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.NewStore(),
		mailer: &mockMailer{},
		now:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		link:   &domain.ShareLink{ID: "link-1", LinkType: domain.LinkTypeDocument, ResourceName: "Q1 Board Deck", IsActive: true},
	}
	require.NoError(t, f.store.SaveLink(context.Background(), f.link))

	ceiling, err := ratelimit.New(ratelimit.NewMemoryBackend(), ratelimit.GuardCodeIssue,
		ratelimit.Policy{Window: time.Hour, Budget: 5})
	require.NoError(t, err)
	ceiling.WithClock(func() time.Time { return f.now })

	// 不传协程池，投递同步完成便于断言
	f.svc = NewService(f.store, ceiling, f.mailer, nil, DefaultOptions(), zap.NewNop(), nil)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	}
}

func TestService_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything).Return(nil)

	res, err := f.svc.Issue(ctx, f.link, " Alice@Acme.com ")
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(15*time.Minute), res.ExpiresAt)

	msg := f.mailer.last()
	assert.Equal(t, "alice@acme.com", msg.To)
	assert.Equal(t, "Q1 Board Deck", msg.LinkName)

	t.Run("错误验证码", func(t *testing.T) {
		err := f.svc.Verify(ctx, "link-1", "alice@acme.com", wrongCode(msg.Code))
		assert.Equal(t, domain.CodeCodeMismatch, domain.CodeOf(err))
	})

	t.Run("正确验证码", func(t *testing.T) {
		require.NoError(t, f.svc.Verify(ctx, "link-1", "alice@acme.com", msg.Code))
		ok, err := f.svc.IsVerified(ctx, "link-1", "ALICE@acme.com")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("重复提交已验证的验证码", func(t *testing.T) {
		f.now = f.now.Add(time.Hour)
		assert.NoError(t, f.svc.Verify(ctx, "link-1", "alice@acme.com", msg.Code))
	})
}

func TestService_VerifyFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("从未签发", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.Verify(ctx, "link-1", "bob@acme.com", "123456")
		assert.Equal(t, domain.CodeCodeNotFound, domain.CodeOf(err))
	})

	t.Run("已过期", func(t *testing.T) {
		f := newFixture(t)
		f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything).Return(nil)
		_, err := f.svc.Issue(ctx, f.link, "bob@acme.com")
		require.NoError(t, err)

		f.now = f.now.Add(16 * time.Minute)
		err = f.svc.Verify(ctx, "link-1", "bob@acme.com", f.mailer.last().Code)
		assert.Equal(t, domain.CodeCodeExpired, domain.CodeOf(err))
	})

	t.Run("重新发送后旧验证码失效", func(t *testing.T) {
		f := newFixture(t)
		f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything).Return(nil)
		_, err := f.svc.Issue(ctx, f.link, "bob@acme.com")
		require.NoError(t, err)
		first := f.mailer.last().Code

		_, err = f.svc.Resend(ctx, f.link, "bob@acme.com")
		require.NoError(t, err)
		second := f.mailer.last().Code

		if first != second {
			err = f.svc.Verify(ctx, "link-1", "bob@acme.com", first)
			assert.Equal(t, domain.CodeCodeMismatch, domain.CodeOf(err))
		}
		assert.NoError(t, f.svc.Verify(ctx, "link-1", "bob@acme.com", second))
	})
}

func TestService_IssuanceCeiling(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything).Return(nil)

	for i := 0; i < 5; i++ {
		_, err := f.svc.Issue(ctx, f.link, "carol@acme.com")
		require.NoError(t, err, "issue %d", i+1)
	}

	_, err := f.svc.Issue(ctx, f.link, "carol@acme.com")
	var ceilingErr *CeilingError
	require.True(t, errors.As(err, &ceilingErr))
	assert.Greater(t, ceilingErr.RetryAfter, time.Duration(0))
	f.mailer.AssertNumberOfCalls(t, "SendVerificationCode", 5)

	t.Run("其他邮箱不受影响", func(t *testing.T) {
		_, err := f.svc.Issue(ctx, f.link, "dave@acme.com")
		assert.NoError(t, err)
	})

	t.Run("一小时后恢复", func(t *testing.T) {
		f.now = f.now.Add(time.Hour + time.Second)
		_, err := f.svc.Issue(ctx, f.link, "carol@acme.com")
		assert.NoError(t, err)
	})
}

func TestService_DeliveryFailureDoesNotFailIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything).Return(errors.New("relay down"))

	_, err := f.svc.Issue(ctx, f.link, "erin@acme.com")
	require.NoError(t, err)

	// 验证码已入库，可以通过其他渠道获取后校验
	assert.NoError(t, f.svc.Verify(ctx, "link-1", "erin@acme.com", f.mailer.last().Code))
}

func TestService_Purge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mailer.On("SendVerificationCode", mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Issue(ctx, f.link, "frank@acme.com")
	require.NoError(t, err)

	n, err := f.svc.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.now = f.now.Add(48 * time.Hour)
	n, err = f.svc.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

package admin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/karma-bot/internal/common"
	"serotonyl.ru/karma-bot/internal/features/identity"
	"serotonyl.ru/karma-bot/internal/features/ledger"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

const testPassword = "correct horse battery staple"

// testHashParams — лёгкие параметры, чтобы тесты были быстрыми.
var testHashParams = HashParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func hashPassword(password string) string {
	hash, err := HashPassword(password, testHashParams)
	if err != nil {
		panic(err)
	}
	return hash
}

type memStore struct {
	mu       sync.Mutex
	sessions []*Session
	attempts []LoginAttempt
}

func (m *memStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = int64(len(m.sessions) + 1)
	s.IsActive = true
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *memStore) GetActiveSession(ctx context.Context, telegramID int64, now time.Time) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TelegramID == telegramID && s.IsActive && s.ExpiresAt.After(now) {
			return s, nil
		}
	}
	return nil, common.ErrSessionExpired
}

func (m *memStore) DeactivateSessions(ctx context.Context, telegramID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.TelegramID == telegramID {
			s.IsActive = false
		}
	}
	return nil
}

func (m *memStore) UpdateActivity(ctx context.Context, telegramID int64, now time.Time) error {
	return nil
}

func (m *memStore) LogAttempt(ctx context.Context, telegramID int64, success bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, LoginAttempt{TelegramID: telegramID, AttemptTime: at, Success: success})
	return nil
}

func (m *memStore) CountFailedAttempts(ctx context.Context, telegramID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.attempts {
		if a.TelegramID == telegramID && !a.Success && !a.AttemptTime.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.sessions {
		if s.IsActive && !s.ExpiresAt.After(now) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

type fakeUsers struct {
	users    map[string]*identity.User
	groups   map[int64]*identity.Group
	unbanned map[int64]time.Time
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:    map[string]*identity.User{"bob": {ID: 2, TelegramID: 200, Username: "bob"}},
		groups:   map[int64]*identity.Group{-100: {ID: 7, ChatID: -100}},
		unbanned: make(map[int64]time.Time),
	}
}

func (f *fakeUsers) GetByUsername(ctx context.Context, username string) (*identity.User, error) {
	u, ok := f.users[strings.ToLower(strings.TrimPrefix(username, "@"))]
	if !ok {
		return nil, fmt.Errorf("пользователь %s: %w", username, common.ErrUserNotFound)
	}
	return u, nil
}

func (f *fakeUsers) GetGroup(ctx context.Context, chatID int64) (*identity.Group, error) {
	g, ok := f.groups[chatID]
	if !ok {
		return nil, fmt.Errorf("чат %d: %w", chatID, common.ErrGroupNotFound)
	}
	return g, nil
}

func (f *fakeUsers) Unban(ctx context.Context, userID int64, now time.Time) error {
	f.unbanned[userID] = now
	for _, u := range f.users {
		if u.ID == userID {
			u.BannedUntil = &now
		}
	}
	return nil
}

type fakeBanner struct {
	clock  clockwork.Clock
	banned map[int64]time.Time
}

func (b *fakeBanner) ApplyBan(ctx context.Context, actorID int64) (time.Time, error) {
	until := b.clock.Now().Add(24 * time.Hour)
	b.banned[actorID] = until
	return until, nil
}

type fakeGranter struct {
	grants []ledger.GrantRequest
}

func (g *fakeGranter) Grant(ctx context.Context, req ledger.GrantRequest) (int64, error) {
	g.grants = append(g.grants, req)
	return 100 + req.Delta, nil
}

type adminFixture struct {
	clock   *clockwork.FakeClock
	store   *memStore
	users   *fakeUsers
	banner  *fakeBanner
	granter *fakeGranter
	svc     *Service
}

func newAdminFixture() *adminFixture {
	clock := clockwork.NewFakeClockAt(t0)
	f := &adminFixture{
		clock:   clock,
		store:   &memStore{},
		users:   newFakeUsers(),
		banner:  &fakeBanner{clock: clock, banned: make(map[int64]time.Time)},
		granter: &fakeGranter{},
	}
	f.svc = NewService(f.store, f.users, f.banner, f.granter, clock, DefaultConfig(hashPassword(testPassword)))
	return f
}

func TestVerifyArgon2id(t *testing.T) {
	hash := hashPassword(testPassword)
	assert.True(t, verifyArgon2id(testPassword, hash))
	assert.False(t, verifyArgon2id("wrong", hash))
	assert.False(t, verifyArgon2id(testPassword, "not-a-hash"))
	assert.False(t, verifyArgon2id(testPassword, "$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$aGFzaA"))
	assert.False(t, verifyArgon2id(testPassword, strings.Replace(hash, "$v=19$", "$v=16$", 1)))
}

func TestHashPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword(testPassword, testHashParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"), hash)

	params, salt, key, err := decodeArgon2id(hash)
	require.NoError(t, err)
	assert.Equal(t, testHashParams, params)
	assert.Len(t, salt, 16)
	assert.Len(t, key, 32)
	assert.Equal(t, hash, encodeArgon2id(params, salt, key))

	again, err := HashPassword(testPassword, testHashParams)
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "соль каждый раз новая")
	assert.True(t, verifyArgon2id(testPassword, again))
}

func TestHashPassword_DefaultParamsAcceptedByLogin(t *testing.T) {
	hash, err := HashPassword(testPassword, DefaultHashParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=3,p=2$"), hash)

	svc := NewService(&memStore{}, newFakeUsers(), &fakeBanner{}, &fakeGranter{}, clockwork.NewFakeClockAt(t0), DefaultConfig(hash))
	require.NoError(t, svc.VerifyPassword(context.Background(), 42, testPassword))
	assert.True(t, svc.HasActiveSession(context.Background(), 42))
}

func TestGenerateSecureToken(t *testing.T) {
	a, b := generateSecureToken(), generateSecureToken()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 44)
}

func TestService_VerifyPassword_CreatesSession(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.VerifyPassword(ctx, 1, testPassword))
	assert.True(t, f.svc.HasActiveSession(ctx, 1))

	require.Len(t, f.store.sessions, 1)
	assert.Equal(t, t0.Add(24*time.Hour), f.store.sessions[0].ExpiresAt)
	assert.NotEmpty(t, f.store.sessions[0].SessionToken)
}

func TestService_VerifyPassword_LocksAfterThreeFailures(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, f.svc.VerifyPassword(ctx, 1, "nope"), common.ErrWrongPassword)
	}
	// Даже верный пароль не принимается
	assert.ErrorIs(t, f.svc.VerifyPassword(ctx, 1, testPassword), common.ErrTooManyAttempts)
	assert.False(t, f.svc.HasActiveSession(ctx, 1))

	// Через час окно попыток сдвигается
	f.clock.Advance(time.Hour + time.Second)
	require.NoError(t, f.svc.VerifyPassword(ctx, 1, testPassword))
}

func TestService_SessionExpiry(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.VerifyPassword(ctx, 1, testPassword))

	f.clock.Advance(25 * time.Hour)
	assert.False(t, f.svc.HasActiveSession(ctx, 1))

	n, err := f.svc.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestService_Logout(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()
	require.NoError(t, f.svc.VerifyPassword(ctx, 1, testPassword))

	require.NoError(t, f.svc.Logout(ctx, 1))
	assert.False(t, f.svc.HasActiveSession(ctx, 1))
}

func TestService_BanUnbanStatus(t *testing.T) {
	f := newAdminFixture()
	ctx := context.Background()

	u, until, err := f.svc.Ban(ctx, "@bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), u.ID)
	assert.Equal(t, t0.Add(24*time.Hour), until)
	u.BannedUntil = &until

	st, err := f.svc.Status(ctx, "@bob")
	require.NoError(t, err)
	assert.True(t, st.Banned)
	assert.Equal(t, until, st.BannedUntil)

	_, err = f.svc.Unban(ctx, "@bob")
	require.NoError(t, err)
	assert.Equal(t, t0, f.users.unbanned[2])

	st, err = f.svc.Status(ctx, "@bob")
	require.NoError(t, err)
	assert.False(t, st.Banned, "banned_until = now уже не бан")
}

func TestService_UnknownUser(t *testing.T) {
	f := newAdminFixture()

	_, _, err := f.svc.Ban(context.Background(), "@ghost")
	assert.ErrorIs(t, err, common.ErrUserNotFound)
	assert.Empty(t, f.banner.banned)
}

func TestService_Adjust(t *testing.T) {
	f := newAdminFixture()

	u, karma, err := f.svc.Adjust(context.Background(), "@bob", -100, -5)
	require.NoError(t, err)
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, int64(95), karma)

	require.Len(t, f.granter.grants, 1)
	req := f.granter.grants[0]
	assert.Nil(t, req.Actor)
	assert.Equal(t, ledger.ReasonAdmin, req.Reason)
	assert.Equal(t, int64(7), req.GroupID)

	_, _, err = f.svc.Adjust(context.Background(), "@bob", -1, 1)
	assert.ErrorIs(t, err, common.ErrGroupNotFound)
}

func TestService_DialogStateExpires(t *testing.T) {
	f := newAdminFixture()

	f.svc.setState(1, stateAwaitingPassword)
	assert.Equal(t, stateAwaitingPassword, f.svc.getState(1))

	f.clock.Advance(6 * time.Minute)
	assert.Equal(t, stateNone, f.svc.getState(1))
}

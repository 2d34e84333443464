package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/zks-preview/internal/domain"
)

func TestAccessCodeRepo_UpsertResetsUsage(t *testing.T) {
	ctx := context.Background()
	r := NewAccessCodeRepo()
	now := time.Now()

	code := &domain.AccessCode{Code: "DEMO", AllowedEmails: []string{"a@x.de"}, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, r.Upsert(ctx, code))
	require.NoError(t, r.RecordRedemption(ctx, "DEMO", "a@x.de", now))
	require.NoError(t, r.RecordRedemption(ctx, "DEMO", "a@x.de", now.Add(time.Minute)))

	u, err := r.Usage(ctx, "DEMO")
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.de"}, u.UniqueRedeemers)
	require.NotNil(t, u.LastAccess)
	assert.Equal(t, now.Add(time.Minute), *u.LastAccess)

	require.NoError(t, r.Upsert(ctx, code))
	u, err = r.Usage(ctx, "DEMO")
	require.NoError(t, err)
	assert.Empty(t, u.UniqueRedeemers)
	assert.Nil(t, u.LastAccess)
}

func TestAccessCodeRepo_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	r := NewAccessCodeRepo()
	require.NoError(t, r.Upsert(ctx, &domain.AccessCode{Code: "DEMO", AllowedEmails: []string{"a@x.de"}}))

	got, err := r.Get(ctx, "DEMO")
	require.NoError(t, err)
	got.AllowedEmails[0] = "mutated@x.de"

	again, err := r.Get(ctx, "DEMO")
	require.NoError(t, err)
	assert.Equal(t, "a@x.de", again.AllowedEmails[0])

	missing, err := r.Get(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccessCodeRepo_DeleteAndUpdateEmails(t *testing.T) {
	ctx := context.Background()
	r := NewAccessCodeRepo()
	require.NoError(t, r.Upsert(ctx, &domain.AccessCode{Code: "DEMO", AllowedEmails: []string{"a@x.de"}}))

	ok, err := r.UpdateEmails(ctx, "DEMO", []string{"b@x.de"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.UpdateEmails(ctx, "NOPE", []string{"b@x.de"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.Delete(ctx, "DEMO")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.Delete(ctx, "DEMO")
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := r.Usage(ctx, "DEMO")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSessionRepo_ByCodeAndExpiry(t *testing.T) {
	ctx := context.Background()
	r := NewSessionRepo()
	now := time.Now()

	require.NoError(t, r.Create(ctx, &domain.SessionGrant{ID: "1", AccessCode: "A", Token: "secret", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, r.Create(ctx, &domain.SessionGrant{ID: "2", AccessCode: "A", ExpiresAt: now.Add(-time.Second)}))
	require.NoError(t, r.Create(ctx, &domain.SessionGrant{ID: "3", AccessCode: "B", ExpiresAt: now.Add(time.Hour)}))

	g, err := r.Get(ctx, "1")
	require.NoError(t, err)
	assert.Empty(t, g.Token, "tokens are not persisted")

	list, err := r.ListByCode(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := r.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.DeleteByCode(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g, err = r.Get(ctx, "3")
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestAdminSessionRepo(t *testing.T) {
	ctx := context.Background()
	r := NewAdminSessionRepo()
	now := time.Now()

	require.NoError(t, r.Create(ctx, &domain.AdminSession{ID: "a", Token: "t", ExpiresAt: now.Add(time.Hour)}))
	s, err := r.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Empty(t, s.Token)

	n, err := r.DeleteExpired(ctx, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, err := l.CheckRateLimit(ctx, "ip:1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i+1)
	}
	ok, _ := l.CheckRateLimit(ctx, "ip:1", 3, time.Minute)
	assert.False(t, ok)

	ok, _ = l.CheckRateLimit(ctx, "ip:2", 3, time.Minute)
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute + time.Second)
	ok, _ = l.CheckRateLimit(ctx, "ip:1", 3, time.Minute)
	assert.True(t, ok, "window slides")
}

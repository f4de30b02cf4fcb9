package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client), mr
}

func TestRedisPresence_TouchAndGet(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.TouchPresence(ctx, 1, 7, "mira", 40, now))
	require.NoError(t, s.TouchPresence(ctx, 1, 7, "mira", 12, now.Add(3*time.Second)))

	p, err := s.GetPresence(ctx, 1, 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(40), p.LastEventID)
	assert.Equal(t, now.Add(3*time.Second).UnixMilli(), p.LastPollAt.UnixMilli())

	require.NoError(t, s.TouchPresence(ctx, 1, 7, "mira", 55, now.Add(6*time.Second)))
	p, err = s.GetPresence(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(55), p.LastEventID)

	missing, err := s.GetPresence(ctx, 1, 8)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisPresence_OnlineUsersWindow(t *testing.T) {
	s, _ := newTestRedis(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.TouchPresence(ctx, 1, 7, "mira", 0, now.Add(-10*time.Second)))
	require.NoError(t, s.TouchPresence(ctx, 1, 3, "aldric", 0, now.Add(-30*time.Second)))
	require.NoError(t, s.TouchPresence(ctx, 1, 9, "tor", 0, now.Add(-31*time.Second)))
	require.NoError(t, s.TouchPresence(ctx, 2, 11, "vex", 0, now))

	users, err := s.OnlineUsers(ctx, 1, now.Add(-30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, []domain.OnlineUser{
		{UserID: 3, Username: "aldric"},
		{UserID: 7, Username: "mira"},
	}, users)

	empty, err := s.OnlineUsers(ctx, 5, now)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestRedisPresence_KeysExpire(t *testing.T) {
	s, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.TouchPresence(ctx, 1, 7, "mira", 1, time.Now()))
	assert.True(t, mr.Exists(presenceKey(1)))

	mr.FastForward(presenceTTL + time.Second)
	assert.False(t, mr.Exists(presenceKey(1)))
	assert.False(t, mr.Exists(presenceCursorKey(1)))
	assert.False(t, mr.Exists(presenceNamesKey(1)))
}

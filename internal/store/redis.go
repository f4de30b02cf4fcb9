package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dmscreen/sessionfeed/internal/domain"
	"github.com/redis/go-redis/v9"
)

// presenceTTL bounds how long an idle session's presence keys linger.
const presenceTTL = 24 * time.Hour

type RedisStore struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// NewRedisFromClient wraps an existing client. Used by tests against miniredis.
func NewRedisFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Presence for a session is kept in three keys:
//
//	presence:session:{id}         ZSET  user_id -> last poll (unix ms)
//	presence:session:{id}:cursor  HASH  user_id -> last_event_id
//	presence:session:{id}:names   HASH  user_id -> username
func presenceKey(sessionID int64) string {
	return fmt.Sprintf("presence:session:%d", sessionID)
}

func presenceCursorKey(sessionID int64) string {
	return presenceKey(sessionID) + ":cursor"
}

func presenceNamesKey(sessionID int64) string {
	return presenceKey(sessionID) + ":names"
}

// touchScript records a poll. The stored cursor only ever moves forward.
var touchScript = redis.NewScript(`
local zkey = KEYS[1]
local ckey = KEYS[2]
local nkey = KEYS[3]
local user = ARGV[1]
local at = tonumber(ARGV[2])
local cursor = tonumber(ARGV[3])
local name = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZADD', zkey, at, user)

local prev = tonumber(redis.call('HGET', ckey, user) or '0')
if cursor > prev then
    redis.call('HSET', ckey, user, cursor)
else
    redis.call('HSET', ckey, user, prev)
end

redis.call('HSET', nkey, user, name)

redis.call('EXPIRE', zkey, ttl)
redis.call('EXPIRE', ckey, ttl)
redis.call('EXPIRE', nkey, ttl)
return 1
`)

func (s *RedisStore) TouchPresence(ctx context.Context, sessionID, userID int64, username string, cursor int64, at time.Time) error {
	keys := []string{presenceKey(sessionID), presenceCursorKey(sessionID), presenceNamesKey(sessionID)}
	err := touchScript.Run(ctx, s.client, keys,
		userID, at.UnixMilli(), cursor, username, int64(presenceTTL/time.Second),
	).Err()
	if err != nil {
		return fmt.Errorf("touching presence: %w", err)
	}
	return nil
}

func (s *RedisStore) OnlineUsers(ctx context.Context, sessionID int64, since time.Time) ([]domain.OnlineUser, error) {
	members, err := s.client.ZRangeByScore(ctx, presenceKey(sessionID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("querying online users: %w", err)
	}

	users := []domain.OnlineUser{}
	if len(members) == 0 {
		return users, nil
	}

	names, err := s.client.HMGet(ctx, presenceNamesKey(sessionID), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("querying usernames: %w", err)
	}

	for i, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		u := domain.OnlineUser{UserID: id}
		if name, ok := names[i].(string); ok {
			u.Username = name
		}
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}

func (s *RedisStore) GetPresence(ctx context.Context, sessionID, userID int64) (*domain.PresenceRecord, error) {
	member := strconv.FormatInt(userID, 10)

	score, err := s.client.ZScore(ctx, presenceKey(sessionID), member).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying presence: %w", err)
	}

	cursor, err := s.client.HGet(ctx, presenceCursorKey(sessionID), member).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("querying presence cursor: %w", err)
	}

	return &domain.PresenceRecord{
		UserID:      userID,
		SessionID:   sessionID,
		LastPollAt:  time.UnixMilli(int64(score)),
		LastEventID: cursor,
		IsOnline:    true,
	}, nil
}

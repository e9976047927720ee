// Package session keeps refresh tokens and revoked access tokens in Redis.
//
// Keys, all under the "ignis:" prefix:
//
//	refresh:<hash>   JSON refreshEntry, expires with the token
//	user:<id>:refresh set of the user's live refresh hashes
//	revoked:<jti>    marker that lives as long as the access token would
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ignisos/api/internal/store"
)

const (
	keyPrefix         = "ignis:"
	defaultRefreshTTL = 30 * 24 * time.Hour
)

type refreshEntry struct {
	UserID   string    `json:"user_id"`
	IssuedAt time.Time `json:"issued_at"`
}

// UserLookup resolves the user a refresh token belongs to.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

type RedisStore struct {
	client *redis.Client
	users  UserLookup
}

// Connect parses redisURL and pings the server.
func Connect(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps a client shared with the change feed; closing it is
// the caller's job.
func NewRedisStore(client *redis.Client, users UserLookup) *RedisStore {
	return &RedisStore{client: client, users: users}
}

func refreshKey(tokenHash string) string { return keyPrefix + "refresh:" + tokenHash }
func userKey(userID string) string       { return keyPrefix + "user:" + userID + ":refresh" }
func revokedKey(jti string) string       { return keyPrefix + "revoked:" + jti }

func (s *RedisStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	entry, err := json.Marshal(refreshEntry{UserID: userID, IssuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal refresh entry: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = defaultRefreshTTL
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, refreshKey(tokenHash), entry, ttl)
		pipe.SAdd(ctx, userKey(userID), tokenHash)
		// The index outlives its newest member; stale hashes are harmless.
		pipe.Expire(ctx, userKey(userID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// LookupRefreshSession returns sql.ErrNoRows for unknown, expired and
// revoked tokens alike.
func (s *RedisStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	entry, err := s.entry(ctx, tokenHash)
	if err != nil {
		return store.User{}, err
	}
	return s.users.GetUserByID(ctx, entry.UserID)
}

func (s *RedisStore) entry(ctx context.Context, tokenHash string) (refreshEntry, error) {
	raw, err := s.client.Get(ctx, refreshKey(tokenHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return refreshEntry{}, sql.ErrNoRows
	}
	if err != nil {
		return refreshEntry{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	var entry refreshEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return refreshEntry{}, fmt.Errorf("decode refresh entry: %w", err)
	}
	return entry, nil
}

func (s *RedisStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	entry, err := s.entry(ctx, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, refreshKey(tokenHash))
		pipe.SRem(ctx, userKey(entry.UserID), tokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshSessions drops every refresh token the user holds.
func (s *RedisStore) RevokeUserRefreshSessions(ctx context.Context, userID string) error {
	hashes, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user refresh tokens: %w", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, refreshKey(hash))
	}
	keys = append(keys, userKey(userID))
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

func (s *RedisStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	ttl := time.Until(exp)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *RedisStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedPrefix = "qatmarket:revoked:"

// RedisTokenBlacklist keeps revoked tokens until they would have expired
// anyway. Only a digest of the token is stored.
type RedisTokenBlacklist struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisTokenBlacklist(client *redis.Client) *RedisTokenBlacklist {
	return &RedisTokenBlacklist{client: client, now: time.Now}
}

func revokedKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return revokedPrefix + hex.EncodeToString(sum[:])
}

// Revoke blacklists token until expiresAt. Tokens already past expiry need
// no entry.
func (b *RedisTokenBlacklist) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, revokedKey(token), 1, ttl).Err()
}

func (b *RedisTokenBlacklist) IsBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedKey(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

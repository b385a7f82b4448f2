package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps any Redis failure surfaced by RevocationStore.
var ErrRedisUnavailable = errors.New("redis unavailable")

// raiseWatermarkScript only moves a not-before watermark forward.
const raiseWatermarkScript = `
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local proposed = tonumber(ARGV[1])
if proposed > current then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return proposed
end
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return current
`

var raiseWatermarkLua = redis.NewScript(raiseWatermarkScript)

// RevocationStore records revoked token ids and per-identity "not before"
// watermarks in Redis. Entries expire once every token they could affect
// has expired on its own.
type RevocationStore struct {
	redis    *redis.Client
	prefix   string
	tokenTTL time.Duration
}

// NewRevocationStore returns a store using keys under prefix. tokenTTL is
// the longest lifetime of an issued token and bounds watermark retention.
func NewRevocationStore(rdb *redis.Client, prefix string, tokenTTL time.Duration) *RevocationStore {
	if prefix == "" {
		prefix = "ha"
	}
	return &RevocationStore{redis: rdb, prefix: prefix, tokenTTL: tokenTTL}
}

func (s *RevocationStore) revokedKey(sessionID string) string {
	return s.prefix + ":rv:" + sessionID
}

func (s *RevocationStore) watermarkKey(externalID string) string {
	return s.prefix + ":nb:" + externalID
}

// Revoke marks sessionID revoked for remaining, the token's lifetime left
// as measured by the issuer's clock. A token with nothing left is a no-op.
func (s *RevocationStore) Revoke(ctx context.Context, sessionID string, remaining time.Duration) error {
	if sessionID == "" {
		return errors.New("session id required")
	}
	if remaining <= 0 {
		return nil
	}
	if err := s.redis.Set(ctx, s.revokedKey(sessionID), "1", remaining+time.Second).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// RevokeAllBefore rejects every token for externalID issued before cutoff.
func (s *RevocationStore) RevokeAllBefore(ctx context.Context, externalID string, cutoff time.Time) error {
	if externalID == "" {
		return errors.New("external id required")
	}
	retain := s.tokenTTL + time.Minute
	err := raiseWatermarkLua.Run(ctx, s.redis,
		[]string{s.watermarkKey(externalID)},
		cutoff.Unix(),
		retain.Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// NotBefore returns the current watermark for externalID, or the zero time.
func (s *RevocationStore) NotBefore(ctx context.Context, externalID string) (time.Time, error) {
	raw, err := s.redis.Get(ctx, s.watermarkKey(externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return parseUnix(raw), nil
}

// IsRevoked reports whether the token (sessionID, externalID, issuedAt) has
// been revoked individually or by a watermark. Both keys are read in one
// round trip.
func (s *RevocationStore) IsRevoked(ctx context.Context, sessionID, externalID string, issuedAt time.Time) (bool, error) {
	vals, err := s.redis.MGet(ctx, s.revokedKey(sessionID), s.watermarkKey(externalID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(vals) != 2 {
		return false, fmt.Errorf("%w: unexpected reply", ErrRedisUnavailable)
	}
	if vals[0] != nil {
		return true, nil
	}
	if raw, ok := vals[1].(string); ok {
		if cutoff := parseUnix(raw); !cutoff.IsZero() && issuedAt.Unix() < cutoff.Unix() {
			return true, nil
		}
	}
	return false, nil
}

// Ping checks connectivity.
func (s *RevocationStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func parseUnix(raw string) time.Time {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeKeyPrefix       = "pkc"
	challengeRecordVersionV1 = 1

	// challengeRecordGrace keeps the Redis key alive slightly past the
	// logical expiry so consume can report ErrChallengeExpired instead of
	// ErrChallengeNotFound inside the window.
	challengeRecordGrace = 5 * time.Second
)

var errChallengeRedisUnavailable = errors.New("challenge redis unavailable")

// RedisChallengeStore is a Redis-backed implementation of ChallengeStore.
// Upsert is a single SET, Consume is a single GETDEL, so both are atomic
// server-side. The record carries its own absolute expiry so the inline
// consume-time expiry check is independent of the Redis key TTL.
type RedisChallengeStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisChallengeStore creates a Redis-backed challenge store.
func NewRedisChallengeStore(redisClient *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{
		redis:  redisClient,
		prefix: challengeKeyPrefix,
	}
}

func (s *RedisChallengeStore) key(ceremonyKey string) string {
	return s.prefix + ":" + ceremonyKey
}

// Upsert stores a challenge under key, replacing any existing one.
func (s *RedisChallengeStore) Upsert(ctx context.Context, key string, challenge []byte, ttl time.Duration) error {
	record := &Challenge{
		Value:     challenge,
		ExpiresAt: time.Now().Add(ttl),
	}

	encoded, err := encodeChallengeRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(key), encoded, ttl+challengeRecordGrace).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeRedisUnavailable, err)
	}
	return nil
}

// Get retrieves the challenge for key without consuming it.
func (s *RedisChallengeStore) Get(ctx context.Context, key string) (*Challenge, error) {
	data, err := s.redis.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errChallengeRedisUnavailable, err)
	}
	return decodeChallengeRecord(data)
}

// Consume atomically fetches and deletes the challenge for key. GETDEL
// guarantees exactly one of two concurrent consumers succeeds.
func (s *RedisChallengeStore) Consume(ctx context.Context, key string) (*Challenge, error) {
	data, err := s.redis.GetDel(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", errChallengeRedisUnavailable, err)
	}
	return decodeChallengeRecord(data)
}

// DeleteExpired removes challenges whose logical expiry has passed. Redis
// also reaps keys via TTL; this sweep covers the grace window and records
// written by other store versions.
func (s *RedisChallengeStore) DeleteExpired(ctx context.Context) (int, error) {
	now := time.Now()
	removed := 0

	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		data, err := s.redis.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("%w: %v", errChallengeRedisUnavailable, err)
		}

		record, err := decodeChallengeRecord(data)
		if err != nil {
			// Unreadable record, remove it.
			if delErr := s.redis.Del(ctx, key).Err(); delErr == nil {
				removed++
			}
			continue
		}

		if now.After(record.ExpiresAt) {
			if err := s.redis.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("%w: %v", errChallengeRedisUnavailable, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("%w: %v", errChallengeRedisUnavailable, err)
	}

	return removed, nil
}

func encodeChallengeRecord(record *Challenge) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(challengeRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	buf.Write(record.Value)

	return buf.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*Challenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	var expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}

	value, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Value:     value,
		ExpiresAt: time.UnixMilli(expiresAt),
	}, nil
}

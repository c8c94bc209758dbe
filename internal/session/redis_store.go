package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:v1:"

// RedisStore keeps sessions as JSON documents with a TTL.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a store on client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func key(id string) string {
	return keyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, sess Session, ttl time.Duration) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key(sess.ID), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	raw, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return sess, nil
}

// MarkVerified flips the verified flag without touching the remaining TTL.
func (s *RedisStore) MarkVerified(ctx context.Context, id, factor string) error {
	return s.update(ctx, id, func(sess *Session) {
		sess.Verified = true
		sess.VerifiedFactor = factor
	})
}

// SetSMSPhone records the number confirmed by SMS enrollment.
func (s *RedisStore) SetSMSPhone(ctx context.Context, id, phone string) error {
	return s.update(ctx, id, func(sess *Session) {
		sess.SMSPhone = phone
	})
}

// update rewrites the session under WATCH, keeping its remaining TTL.
func (s *RedisStore) update(ctx context.Context, id string, fn func(*Session)) error {
	k := key(id)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		var sess Session
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		fn(&sess)
		payload, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, k, payload, redis.SetArgs{KeepTTL: true})
			return nil
		})
		return err
	}, k)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

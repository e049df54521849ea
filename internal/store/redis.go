package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/habitaq/lead-analytics/internal/models"
)

// RedisCounterStore implements CounterStore on Redis. Scalar counters use
// INCRBY/INCRBYFLOAT, sketches use the HyperLogLog PFADD/PFCOUNT pair and
// day indexes use sets. Every call carries a bounded timeout and runs
// under the injected circuit breaker.
type RedisCounterStore struct {
	client    *redis.Client
	breaker   *Breaker
	opTimeout time.Duration
	logger    *zap.Logger
}

// NewRedisCounterStore creates a Redis-backed counter store.
func NewRedisCounterStore(client *redis.Client, breaker *Breaker, opTimeout time.Duration, logger *zap.Logger) *RedisCounterStore {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &RedisCounterStore{
		client:    client,
		breaker:   breaker,
		opTimeout: opTimeout,
		logger:    logger,
	}
}

// Apply writes the batch in a single pipeline. Failures are counted
// against the breaker; a retried batch may over-count and that is fine
// for these approximate counters.
func (s *RedisCounterStore) Apply(ctx context.Context, batch CounterBatch) error {
	if batch.Empty() {
		return nil
	}
	return s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		pipe := s.client.Pipeline()
		for _, in := range batch.Incrs {
			pipe.IncrBy(ctx, in.Key, in.Delta)
			if batch.TTL > 0 {
				pipe.Expire(ctx, in.Key, batch.TTL)
			}
		}
		for _, in := range batch.FloatIncrs {
			pipe.IncrByFloat(ctx, in.Key, in.Delta)
			if batch.TTL > 0 {
				pipe.Expire(ctx, in.Key, batch.TTL)
			}
		}
		for _, sk := range batch.Sketches {
			pipe.PFAdd(ctx, sk.Key, sk.Member)
			if batch.TTL > 0 {
				pipe.Expire(ctx, sk.Key, batch.TTL)
			}
		}
		for _, sa := range batch.Sets {
			pipe.SAdd(ctx, sa.Key, sa.Member)
			if batch.TTL > 0 {
				pipe.Expire(ctx, sa.Key, batch.TTL)
			}
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// GetCount reads a scalar counter, treating a missing key as 0.
func (s *RedisCounterStore) GetCount(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		v, err := s.client.Get(ctx, key).Int64()
		if err == redis.Nil {
			return nil
		}
		n = v
		return err
	})
	return n, err
}

// GetFloat reads a float counter, treating a missing key as 0.
func (s *RedisCounterStore) GetFloat(ctx context.Context, key string) (float64, error) {
	var f float64
	err := s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		v, err := s.client.Get(ctx, key).Float64()
		if err == redis.Nil {
			return nil
		}
		f = v
		return err
	})
	return f, err
}

// Estimate reads the HyperLogLog estimate for a sketch key.
func (s *RedisCounterStore) Estimate(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		v, err := s.client.PFCount(ctx, key).Result()
		n = v
		return err
	})
	return n, err
}

// Members reads a day index set.
func (s *RedisCounterStore) Members(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		v, err := s.client.SMembers(ctx, key).Result()
		members = v
		return err
	})
	return members, err
}

// Delete removes flushed counter keys.
func (s *RedisCounterStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()
		return s.client.Del(ctx, keys...).Err()
	})
}

// ===========================================
// LEAD WORKING STORE
// ===========================================

// RedisLeadStore implements LeadStore with WATCH-based optimistic
// concurrency: the save aborts when the lead key changes between load
// and write, surfacing ErrVersionConflict so the merger can retry.
type RedisLeadStore struct {
	client    *redis.Client
	breaker   *Breaker
	opTimeout time.Duration
	ttl       time.Duration
	logger    *zap.Logger
}

// NewRedisLeadStore creates a Redis-backed lead working store. ttl bounds
// how long an unflushed working copy survives; the durable projection is
// written by the rollup before it can expire.
func NewRedisLeadStore(client *redis.Client, breaker *Breaker, opTimeout, ttl time.Duration, logger *zap.Logger) *RedisLeadStore {
	if opTimeout <= 0 {
		opTimeout = 2 * time.Second
	}
	return &RedisLeadStore{
		client:    client,
		breaker:   breaker,
		opTimeout: opTimeout,
		ttl:       ttl,
		logger:    logger,
	}
}

// Get loads the working copy of a lead, or nil when absent.
func (s *RedisLeadStore) Get(ctx context.Context, listingID, seekerID string) (*models.Lead, error) {
	if !s.breaker.Allow() {
		return nil, ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, LeadKey(listingID, seekerID)).Bytes()
	if err == redis.Nil {
		s.breaker.Success()
		return nil, nil
	}
	if err != nil {
		s.breaker.Failure()
		return nil, fmt.Errorf("failed to load lead: %w", err)
	}
	s.breaker.Success()

	var lead models.Lead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return nil, fmt.Errorf("corrupt lead record %s: %w", LeadKey(listingID, seekerID), err)
	}
	return &lead, nil
}

// Save writes the lead back, guarded by WATCH on its key. The stored
// version must still match lead.Version; on success the version is
// bumped both in Redis and on the passed aggregate.
func (s *RedisLeadStore) Save(ctx context.Context, lead *models.Lead) error {
	if !s.breaker.Allow() {
		return ErrStoreUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	key := LeadKey(lead.ListingID, lead.SeekerID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var storedVersion int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			storedVersion = 0
		case err != nil:
			return err
		default:
			var existing models.Lead
			if err := json.Unmarshal(raw, &existing); err != nil {
				return fmt.Errorf("corrupt lead record %s: %w", key, err)
			}
			storedVersion = existing.Version
		}

		if storedVersion != lead.Version {
			return ErrVersionConflict
		}

		next := *lead
		next.Version++
		buf, err := json.Marshal(&next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		lead.Version = next.Version
		return nil
	}, key)

	switch {
	case err == nil:
		s.breaker.Success()
		return nil
	case errors.Is(err, ErrVersionConflict) || errors.Is(err, redis.TxFailedErr):
		// A racing merge is not a store outage.
		s.breaker.Success()
		return ErrVersionConflict
	default:
		s.breaker.Failure()
		return fmt.Errorf("failed to save lead: %w", err)
	}
}

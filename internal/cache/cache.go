// Package cache stores computed availability keyed by location so that a
// booking or window change can drop exactly the entries of that location.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStale is returned by Set when the location was invalidated after the
// caller read its generation. The value is not stored.
var ErrStale = errors.New("cache entry computed before last invalidation")

// Cache is the store the availability engine reads through.
//
// Every location carries a generation that InvalidateLocation increments.
// Callers read the generation before computing a result, build the key from
// it and hand it back to Set, so a result computed from data older than the
// last invalidation is never served.
type Cache interface {
	// Generation returns the current generation of the location.
	Generation(ctx context.Context, locationID int64) (int64, error)
	// Get decodes the entry into dest and reports whether it was present.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Set stores value under key and indexes it under locationID, unless the
	// location has moved past generation.
	Set(ctx context.Context, locationID, generation int64, key string, value any) error
	// InvalidateLocation removes every entry indexed under locationID and
	// bumps its generation.
	InvalidateLocation(ctx context.Context, locationID int64) error
}

// Key builds an entry key scoped to a location generation.
func Key(locationID, generation int64, parts ...string) string {
	return fmt.Sprintf("avail:loc:%d:g%d:%s", locationID, generation, strings.Join(parts, ":"))
}

func indexKey(locationID int64) string {
	return fmt.Sprintf("avail:idx:loc:%d", locationID)
}

func generationKey(locationID int64) string {
	return fmt.Sprintf("avail:gen:loc:%d", locationID)
}

// Redis is a Cache backed by Redis. Each location keeps a set of its entry
// keys and a generation counter; invalidation deletes the members and the set
// and increments the counter in one transaction.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Generation(ctx context.Context, locationID int64) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(locationID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get generation of location %d: %w", locationID, err)
	}
	return gen, nil
}

func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, locationID, generation int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	idx := indexKey(locationID)
	genKey := generationKey(locationID)

	// WATCH aborts the write when an invalidation bumps the generation
	// between the check and EXEC.
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			pipe.SAdd(ctx, idx, key)
			// The index must outlive every member it lists.
			pipe.Expire(ctx, idx, 2*r.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	case err != nil:
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) InvalidateLocation(ctx context.Context, locationID int64) error {
	idx := indexKey(locationID)
	keys, err := r.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("redis smembers %s: %w", idx, err)
	}
	pipe := r.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, idx)
	pipe.Incr(ctx, generationKey(locationID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invalidate location %d: %w", locationID, err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type memoryEntry struct {
	data       []byte
	locationID int64
	expires    time.Time
}

// Memory is an in-process Cache used when Redis is disabled.
type Memory struct {
	mu          sync.Mutex
	ttl         time.Duration
	now         func() time.Time
	entries     map[string]memoryEntry
	generations map[int64]int64
}

// NewMemory creates an empty in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]memoryEntry),
		generations: make(map[int64]int64),
	}
}

func (m *Memory) Generation(_ context.Context, locationID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generations[locationID], nil
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expires) {
		delete(m.entries, key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, locationID, generation int64, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generations[locationID] != generation {
		return ErrStale
	}
	m.entries[key] = memoryEntry{data: data, locationID: locationID, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *Memory) InvalidateLocation(_ context.Context, locationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[locationID]++
	for key, e := range m.entries {
		if e.locationID == locationID {
			delete(m.entries, key)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

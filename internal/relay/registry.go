package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/slateroom/slateroom/internal/application/constant"
	"github.com/slateroom/slateroom/internal/identity"
)

// Registry is the relay's liveness record. Entries expire on their own
// when presence heartbeats stop arriving.
type Registry interface {
	Refresh(ctx context.Context, local identity.Local) error
	Remove(ctx context.Context, ref identity.Ref) error
	IsOnline(ctx context.Context, ref identity.Ref) (bool, error)
	Online(ctx context.Context) ([]identity.Local, error)
}

const presenceKeyPrefix = "presence:"

type redisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client) Registry {
	return &redisRegistry{rdb: rdb, ttl: constant.PresenceTTL}
}

func (r *redisRegistry) key(ref identity.Ref) string {
	return presenceKeyPrefix + ref.Key()
}

func (r *redisRegistry) Refresh(ctx context.Context, local identity.Local) error {
	payload, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}

	if err := r.rdb.Set(ctx, r.key(local.Ref), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("refresh presence: %w", err)
	}
	return nil
}

func (r *redisRegistry) Remove(ctx context.Context, ref identity.Ref) error {
	if err := r.rdb.Del(ctx, r.key(ref)).Err(); err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

func (r *redisRegistry) IsOnline(ctx context.Context, ref identity.Ref) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(ref)).Result()
	if err != nil {
		return false, fmt.Errorf("check presence: %w", err)
	}
	return n > 0, nil
}

func (r *redisRegistry) Online(ctx context.Context) ([]identity.Local, error) {
	var out []identity.Local

	iter := r.rdb.Scan(ctx, 0, presenceKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		payload, err := r.rdb.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Expired between scan and get.
			continue
		}

		var local identity.Local
		if err := json.Unmarshal(payload, &local); err != nil {
			continue
		}
		out = append(out, local)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan presence: %w", err)
	}

	return out, nil
}

// memoryRegistry backs tests and single-node deployments.
type memoryRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	local   identity.Local
	expires time.Time
}

func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		ttl:     constant.PresenceTTL,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *memoryRegistry) Refresh(ctx context.Context, local identity.Local) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[local.Key()] = memoryEntry{local: local, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *memoryRegistry) Remove(ctx context.Context, ref identity.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, ref.Key())
	return nil
}

func (m *memoryRegistry) IsOnline(ctx context.Context, ref identity.Ref) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[ref.Key()]
	if !ok || m.now().After(e.expires) {
		delete(m.entries, ref.Key())
		return false, nil
	}
	return true, nil
}

func (m *memoryRegistry) Online(ctx context.Context) ([]identity.Local, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]identity.Local, 0, len(m.entries))
	for key, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, key)
			continue
		}
		out = append(out, e.local)
	}
	return out, nil
}

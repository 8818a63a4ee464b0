package killswitch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a killswitch.Store backed by Redis, the distributed
// equivalent of Manager's in-process map: every engine instance pointed at
// the same Redis sees the same activation state.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing *redis.Client. The caller owns the
// client's lifecycle (construction, auth, Close).
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "killswitch:"}
}

func (s *RedisStore) key(scope string) string {
	if scope == GlobalScope {
		return s.prefix + "global"
	}
	return s.prefix + "tenant:" + scope
}

// Get returns the scope's current state, ok=false if no key is set (the
// scope has never been activated, or was reset).
func (s *RedisStore) Get(ctx context.Context, scope string) (State, bool, error) {
	raw, err := s.client.Get(ctx, s.key(scope)).Result()
	if err == redis.Nil {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("killswitch: redis get: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return State{}, false, fmt.Errorf("killswitch: decode state: %w", err)
	}
	return st, true, nil
}

// SetIfAbsent claims scope with SETNX, Redis's own atomic "only if missing"
// write, so two instances racing an Activate cannot both succeed.
func (s *RedisStore) SetIfAbsent(ctx context.Context, scope string, state State) (bool, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("killswitch: encode state: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(scope), encoded, 0).Result()
	if err != nil {
		return false, fmt.Errorf("killswitch: redis setnx: %w", err)
	}
	return ok, nil
}

// Delete clears scope's key unconditionally.
func (s *RedisStore) Delete(ctx context.Context, scope string) error {
	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return fmt.Errorf("killswitch: redis del: %w", err)
	}
	return nil
}

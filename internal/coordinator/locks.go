package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// KeyedMutex serialises work per key. Locking several keys always takes them
// in sorted order so two callers can never wait on each other.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

func (k *KeyedMutex) acquire(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *KeyedMutex) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

// Lock blocks until every key is held or ctx ends. The returned func releases
// all of them.
func (k *KeyedMutex) Lock(ctx context.Context, keys ...string) (func(), error) {
	keys = normalise(keys)
	held := make([]string, 0, len(keys))
	slots := make([]*slot, 0, len(keys))

	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-slots[i].ch
			k.release(held[i], slots[i])
		}
	}

	for _, key := range keys {
		s := k.acquire(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
			slots = append(slots, s)
		case <-ctx.Done():
			k.release(key, s)
			unlock()
			return nil, ctx.Err()
		}
	}
	return unlock, nil
}

// LockUsers locks the user keys of ids, the same keys intents take.
func (k *KeyedMutex) LockUsers(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, userKey(id))
	}
	return k.Lock(ctx, keys...)
}

func normalise(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// covers reports whether every non-empty key in want is in held.
func covers(held, want []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, key := range held {
		set[key] = struct{}{}
	}
	for _, key := range want {
		if key == "" {
			continue
		}
		if _, ok := set[key]; !ok {
			return false
		}
	}
	return true
}

func userKey(id uuid.UUID) string       { return "user:" + id.String() }
func orderKey(id uuid.UUID) string      { return "order:" + id.String() }
func driverKey(id uuid.UUID) string     { return "driver:" + id.String() }
func withdrawalKey(id uuid.UUID) string { return "withdrawal:" + id.String() }
func giftCodeKey(code string) string    { return "giftcode:" + code }

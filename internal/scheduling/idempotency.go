package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-booking/internal/booking"
)

// Idempotency makes a create submission take effect once. The first holder of
// a key reserves it, creates the booking and then records the booking id;
// redeliveries of the same key get that id back.
type Idempotency interface {
	// Reserve claims key. reserved is false when another submission owns it,
	// in which case bookingID is the booking it produced. While the owner is
	// still creating, Reserve waits for it.
	Reserve(ctx context.Context, key string) (bookingID string, reserved bool, err error)
	// Remember records the booking created under a reserved key.
	Remember(ctx context.Context, key, bookingID string) error
	// Release drops a reservation whose create failed.
	Release(ctx context.Context, key string) error
}

const (
	idempotencyPrefix = "booking:idem:"
	pendingMarker     = "__pending__"

	defaultIdempotencyTTL = 24 * time.Hour
	pendingLease          = 30 * time.Second
	defaultReserveWait    = 2 * time.Second
	reservePoll           = 20 * time.Millisecond
)

func errKeyInFlight() error {
	return &booking.ValidationError{Field: "idempotency_key", Reason: "a request with this key is still in progress"}
}

// waitPoll sleeps one poll interval or returns ctx's error.
func waitPoll(ctx context.Context) error {
	timer := time.NewTimer(reservePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RedisIdempotency stores keys in Redis with a TTL.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	if client == nil {
		panic("scheduling: redis client required")
	}
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &RedisIdempotency{client: client, ttl: ttl, wait: defaultReserveWait}
}

func (r *RedisIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	redisKey := idempotencyPrefix + key
	deadline := time.Now().Add(r.wait)
	for {
		ok, err := r.client.SetNX(ctx, redisKey, pendingMarker, pendingLease).Result()
		if err != nil {
			return "", false, fmt.Errorf("scheduling: idempotency reserve: %w", err)
		}
		if ok {
			return "", true, nil
		}
		id, err := r.client.Get(ctx, redisKey).Result()
		switch {
		case err == redis.Nil:
			// Released or expired between the two calls.
			continue
		case err != nil:
			return "", false, fmt.Errorf("scheduling: idempotency lookup: %w", err)
		case id != pendingMarker:
			return id, false, nil
		}
		if time.Now().After(deadline) {
			return "", false, errKeyInFlight()
		}
		if err := waitPoll(ctx); err != nil {
			return "", false, err
		}
	}
}

func (r *RedisIdempotency) Remember(ctx context.Context, key, bookingID string) error {
	if err := r.client.Set(ctx, idempotencyPrefix+key, bookingID, r.ttl).Err(); err != nil {
		return fmt.Errorf("scheduling: idempotency remember: %w", err)
	}
	return nil
}

var releasePending = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (r *RedisIdempotency) Release(ctx context.Context, key string) error {
	if err := releasePending.Run(ctx, r.client, []string{idempotencyPrefix + key}, pendingMarker).Err(); err != nil {
		return fmt.Errorf("scheduling: idempotency release: %w", err)
	}
	return nil
}

// MemoryIdempotency is the in-process fallback when Redis is not configured.
// Expired entries are swept at most once a minute.
type MemoryIdempotency struct {
	mu        sync.Mutex
	ttl       time.Duration
	wait      time.Duration
	now       func() time.Time
	nextSweep time.Time
	entries   map[string]idemEntry
}

type idemEntry struct {
	bookingID string // empty while the owner is creating
	expires   time.Time
}

const memorySweepEvery = time.Minute

func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &MemoryIdempotency{ttl: ttl, wait: defaultReserveWait, now: time.Now, entries: make(map[string]idemEntry)}
}

func (m *MemoryIdempotency) Reserve(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, errors.New("scheduling: idempotency key required")
	}
	deadline := time.Now().Add(m.wait)
	for {
		id, reserved, pending := m.tryReserve(key)
		if !pending {
			return id, reserved, nil
		}
		if time.Now().After(deadline) {
			return "", false, errKeyInFlight()
		}
		if err := waitPoll(ctx); err != nil {
			return "", false, err
		}
	}
}

func (m *MemoryIdempotency) tryReserve(key string) (id string, reserved, pending bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.sweepLocked(now)
	entry, ok := m.entries[key]
	if ok && now.Before(entry.expires) {
		if entry.bookingID == "" {
			return "", false, true
		}
		return entry.bookingID, false, false
	}
	m.entries[key] = idemEntry{expires: now.Add(pendingLease)}
	return "", true, false
}

func (m *MemoryIdempotency) sweepLocked(now time.Time) {
	if now.Before(m.nextSweep) {
		return
	}
	for key, entry := range m.entries {
		if !now.Before(entry.expires) {
			delete(m.entries, key)
		}
	}
	m.nextSweep = now.Add(memorySweepEvery)
}

func (m *MemoryIdempotency) Remember(ctx context.Context, key, bookingID string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("scheduling: idempotency key required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = idemEntry{bookingID: bookingID, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryIdempotency) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[key]; ok && entry.bookingID == "" {
		delete(m.entries, key)
	}
	return nil
}

// Len reports the number of live or not yet swept entries.
func (m *MemoryIdempotency) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

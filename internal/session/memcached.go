package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/google/uuid"

	"github.com/kjstillabower/forecast-compare-service/internal/models"
)

const (
	keyPrefix     = "session:"
	lockKeyPrefix = "lock:"
)

// lockExpiration bounds how long a crashed holder can keep a session locked, in seconds.
const lockExpiration = 60

// maxRelativeExp is the longest expiration memcached treats as relative (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedStore implements Store and Locker using memcached, so sessions survive across
// replicas and a transition on one replica excludes transitions on the others.
type MemcachedStore struct {
	client *memcache.Client
	ttl    time.Duration
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedStore(addrs string, ttl, timeout time.Duration, maxIdleConns int) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedStore{client: client, ttl: ttl}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func key(id string) string {
	return keyPrefix + id
}

func lockKey(id string) string {
	return lockKeyPrefix + id
}

// expirationSeconds converts ttl to a memcached relative expiration, falling back to 1h.
func expirationSeconds(ttl time.Duration) int32 {
	sec := int64(ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return int32(sec)
}

// Get implements Store.Get.
func (m *MemcachedStore) Get(ctx context.Context, id string) (models.Session, error) {
	if ctx.Err() != nil {
		return models.Session{}, ctx.Err()
	}
	item, err := m.client.Get(key(id))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) || errors.Is(err, memcache.ErrMalformedKey) {
			return models.Session{}, ErrNotFound
		}
		return models.Session{}, fmt.Errorf("memcached get: %w", err)
	}
	var sess models.Session
	if err := json.Unmarshal(item.Value, &sess); err != nil {
		return models.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

// Save implements Store.Save.
func (m *MemcachedStore) Save(ctx context.Context, sess models.Session) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := m.client.Set(&memcache.Item{
		Key:        key(sess.ID),
		Value:      raw,
		Expiration: expirationSeconds(m.ttl),
	}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Delete implements Store.Delete. A missing key is not an error.
func (m *MemcachedStore) Delete(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := m.client.Delete(key(id)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcached delete: %w", err)
	}
	return nil
}

// Lock implements Locker. The lock is an Add of lock:<id> holding a random token, so only one
// caller can create it; it expires on its own if the holder never releases it.
func (m *MemcachedStore) Lock(ctx context.Context, id string) (func(ctx context.Context) error, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	token := uuid.NewString()
	err := m.client.Add(&memcache.Item{
		Key:        lockKey(id),
		Value:      []byte(token),
		Expiration: lockExpiration,
	})
	switch {
	case errors.Is(err, memcache.ErrNotStored):
		return nil, ErrLocked
	case errors.Is(err, memcache.ErrMalformedKey):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("memcached add lock: %w", err)
	}
	return func(context.Context) error {
		return m.unlock(id, token)
	}, nil
}

// unlock deletes the lock only while it still holds token. An expired lock taken over by
// another holder is left alone.
func (m *MemcachedStore) unlock(id, token string) error {
	item, err := m.client.Get(lockKey(id))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("memcached get lock: %w", err)
	}
	if string(item.Value) != token {
		return nil
	}
	if err := m.client.Delete(lockKey(id)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcached delete lock: %w", err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *MemcachedStore) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *MemcachedStore) Close() error {
	return m.client.Close()
}

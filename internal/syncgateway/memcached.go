package syncgateway

import (
	"context"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "forecast:"

// MemcachedStore implements DocumentStore on memcached. Values never expire.
type MemcachedStore struct {
	client *memcache.Client
}

// NewMemcachedStore creates a MemcachedStore. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211").
func NewMemcachedStore(addrs string, timeout time.Duration) *MemcachedStore {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &MemcachedStore{client: client}
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

// PutDocument implements DocumentStore.
func (m *MemcachedStore) PutDocument(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{Key: keyPrefix + key, Value: value})
}

// Ping checks if memcached is reachable. Used for health checks.
func (m *MemcachedStore) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *MemcachedStore) Close() error {
	return m.client.Close()
}

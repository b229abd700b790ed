package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"route-deviation-service/internal/config"
	"route-deviation-service/internal/store"
)

type cacheEntry struct {
	staffID   string
	expiresAt time.Time
}

// Authenticator resolves staff API keys to staff ids. Static keys from config
// are checked first, then a local cache, then the Redis-provisioned keys.
type Authenticator struct {
	localCache sync.Map
	redis      *store.RedisStore
	ttl        time.Duration
	staticKeys map[string]string
}

func NewAuthenticator(cfg *config.Config, redis *store.RedisStore) *Authenticator {
	// Static entries are "key" or "key:staffID"; bare keys map to a
	// generic dispatcher identity.
	staticKeys := make(map[string]string, len(cfg.StaffAPIKeys))
	for _, entry := range cfg.StaffAPIKeys {
		if entry == "" {
			continue
		}
		key, staffID, found := strings.Cut(entry, ":")
		if !found {
			staffID = "dispatcher"
		}
		staticKeys[key] = staffID
	}

	return &Authenticator{
		redis:      redis,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
	}
}

// Resolve returns the staff id for the key, or "" if the key is not valid.
func (a *Authenticator) Resolve(ctx context.Context, apiKey string) string {
	// Level 0: static config keys
	if staffID, ok := a.staticKeys[apiKey]; ok {
		return staffID
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.staffID
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: Redis lookup
	if a.redis == nil {
		return ""
	}
	staffID, err := a.redis.GetStaffKey(ctx, apiKey)
	if err != nil || staffID == "" {
		return ""
	}

	a.localCache.Store(apiKey, cacheEntry{
		staffID:   staffID,
		expiresAt: time.Now().Add(a.ttl),
	})

	return staffID
}

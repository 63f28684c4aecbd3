package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"fleet-monitor/dms/internal/config"
)

// KeyStore maps a device API key to the hardware id it was issued to.
// An unknown key yields "" and no error.
type KeyStore interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

type cacheEntry struct {
	hardwareID string
	expiresAt  time.Time
}

type Authenticator struct {
	localCache sync.Map
	keys       KeyStore
	ttl        time.Duration
	staticKeys map[string]bool
	log        *zap.Logger
}

// NewAuthenticator accepts a nil keys store, in which case only static keys
// are honoured.
func NewAuthenticator(cfg *config.Config, keys KeyStore, log *zap.Logger) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		keys:       keys,
		ttl:        time.Duration(cfg.AuthCacheTTLSeconds) * time.Second,
		staticKeys: staticKeys,
		log:        log,
	}
}

func (a *Authenticator) Validate(ctx context.Context, apiKey string) bool {
	_, ok := a.Identify(ctx, apiKey)
	return ok
}

// Identify returns the hardware id bound to apiKey. Static keys are not bound
// to a device and return "".
func (a *Authenticator) Identify(ctx context.Context, apiKey string) (string, bool) {
	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return "", true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.hardwareID, true
		}
		a.localCache.Delete(apiKey)
	}

	if a.keys == nil {
		return "", false
	}

	// Level 2: Redis lookup
	hardwareID, err := a.keys.GetAPIKey(ctx, apiKey)
	if err != nil {
		a.log.Warn("api key lookup failed", zap.Error(err))
		return "", false
	}
	if hardwareID == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		hardwareID: hardwareID,
		expiresAt:  time.Now().Add(a.ttl),
	})

	return hardwareID, true
}

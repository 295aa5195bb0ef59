package app

import (
	"fmt"
	"strings"

	sessioncache "tcmdiag/internal/cache/session"
	"tcmdiag/internal/diagnosis"
	"tcmdiag/internal/gateway/config"
	"tcmdiag/internal/gateway/repository/media"
	"tcmdiag/internal/gateway/repository/sessionstore"
	"tcmdiag/internal/observability"
)

type gatewayStores struct {
	sessions diagnosis.SessionStore
	media    media.Store
	close    func() error
}

func initStores(cfg *config.Config) (*gatewayStores, error) {
	log := observability.Component("stores")

	origin, err := sessionstore.Open(sessionstore.Config{
		Backend: cfg.Session.Backend,
		Path:    cfg.Session.Path,
		DSN:     cfg.Session.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	log.Info("session store ready", "backend", cfg.Session.Backend, "path", cfg.Session.Path)

	var sessions diagnosis.SessionStore = origin
	if readCacheable(cfg.Session.Backend) && cfg.Session.CacheSize > 0 {
		sessions = sessioncache.NewCachedStore(origin, sessioncache.CacheConfig{
			StateTTL:        cfg.Session.CacheTTL,
			StateMaxEntries: cfg.Session.CacheSize,
		})
	}

	mediaStore, err := initMediaStore(cfg)
	if err != nil {
		_ = origin.Close()
		return nil, err
	}
	return &gatewayStores{sessions: sessions, media: mediaStore, close: origin.Close}, nil
}

// readCacheable reports whether the backend is owned by this process alone.
// Postgres is shared between instances, and memory needs no cache.
func readCacheable(backend string) bool {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "file", "sqlite":
		return true
	default:
		return false
	}
}

func initMediaStore(cfg *config.Config) (media.Store, error) {
	s3Cfg := media.S3Config{
		Endpoint:  cfg.Media.Endpoint,
		Region:    cfg.Media.Region,
		AccessKey: cfg.Media.AccessKey,
		SecretKey: cfg.Media.SecretKey,
		Bucket:    cfg.Media.Bucket,
		UseSSL:    cfg.Media.UseSSL,
	}
	if !cfg.Media.Enabled || !s3Cfg.Enabled() {
		observability.Component("stores").Info("media store: in-memory")
		return media.NewMemoryStore(), nil
	}
	s3Store, err := media.NewS3Store(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize media s3 store: %w", err)
	}
	observability.Component("stores").Info("media store: s3", "bucket", s3Cfg.Bucket, "endpoint", s3Cfg.Endpoint)
	return s3Store, nil
}

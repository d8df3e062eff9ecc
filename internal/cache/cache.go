package cache

import (
	"fmt"

	"github.com/dinary/feecore/internal/domain"
)

// New creates a cache based on configuration: in-process memory by
// default, Redis when instances need to share state.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryCache(cfg.MaxEntries), nil

	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

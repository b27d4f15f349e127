package runlock

import (
	"github.com/cooprin/fleetbill/internal/config"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// NewClient returns a redis client, or nil when no address is configured.
func NewClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

var Module = fx.Module("runlock",
	fx.Provide(
		NewClient,
		NewLocker,
	),
)

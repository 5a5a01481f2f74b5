package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/dataflow-engine/common/config"
	"github.com/lyzr/dataflow-engine/common/db"
	"github.com/lyzr/dataflow-engine/common/logger"
	"github.com/lyzr/dataflow-engine/common/ratelimit"
	commonredis "github.com/lyzr/dataflow-engine/common/redis"
	"github.com/lyzr/dataflow-engine/common/telemetry"
)

// Components holds all initialized service dependencies. Store is left for
// the caller to construct from DB (store.NewPostgresStore(components.DB.Pool))
// since cmd/dataflow-engine, not this package, owns the choice between the
// Postgres and in-memory backends.
type Components struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          *db.DB
	Redis       *commonredis.Client
	RateLimiter *ratelimit.RateLimiter
	Telemetry   *telemetry.Telemetry

	cleanupFuncs []func() error
}

// Shutdown performs graceful shutdown of all components in LIFO order.
// Should be called with defer after Setup().
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs []error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
			c.Logger.Error("cleanup error", "error", err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.Logger.Info("shutdown complete")
	return nil
}

// Health checks health of all components with a backing connection.
func (c *Components) Health(ctx context.Context) error {
	if c.DB != nil {
		if err := c.DB.Health(ctx); err != nil {
			return fmt.Errorf("database unhealthy: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.GetUnderlying().Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	return nil
}

func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

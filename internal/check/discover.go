package check

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Discovery results are shared between nearby invocations on one node.
const (
	DiscoveryKey = "ovs_discover_method"
	DiscoveryTTL = 2 * time.Hour
)

// Cache is the shared volatile cache. *cache.Cache implements it.
type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dst any) (bool, error)
}

// InstalledAddons returns the installed addon types, memoised in c for
// DiscoveryTTL. load is consulted on a miss. A failing cache only costs the
// memoisation.
func InstalledAddons(ctx context.Context, c Cache, load func(context.Context) ([]string, error), logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var addons []string
	ok, err := c.Get(ctx, DiscoveryKey, &addons)
	if err != nil {
		logger.Warn("reading discovery cache", "error", err)
	}
	if ok {
		return addons, nil
	}

	addons, err = load(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering installed addons: %w", err)
	}
	if addons == nil {
		addons = []string{}
	}
	if err := c.Set(ctx, DiscoveryKey, addons, DiscoveryTTL); err != nil {
		logger.Warn("writing discovery cache", "error", err)
	}
	return addons, nil
}

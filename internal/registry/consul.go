package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
)

// Consul is a Registry backed by the Consul KV store.
type Consul struct {
	cli *consulapi.Client
}

// NewConsul connects to the Consul agent at addr.
func NewConsul(addr, token string) (*Consul, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	if token != "" {
		cfg.Token = token
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating consul client: %w", err)
	}
	return &Consul{cli: cli}, nil
}

// Consul keys carry no leading slash.
func kvKey(key string) string {
	return strings.TrimPrefix(key, "/")
}

func (c *Consul) Get(ctx context.Context, key string) ([]byte, error) {
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	pair, _, err := c.cli.KV().Get(kvKey(key), q)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return pair.Value, nil
}

func (c *Consul) List(ctx context.Context, prefix string) ([]string, error) {
	p := strings.TrimSuffix(kvKey(prefix), "/") + "/"
	q := (&consulapi.QueryOptions{}).WithContext(ctx)
	keys, _, err := c.cli.KV().Keys(p, "/", q)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	seen := make(map[string]bool, len(keys))
	var out []string
	for _, k := range keys {
		name := strings.TrimSuffix(strings.TrimPrefix(k, p), "/")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Consul) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.Get(ctx, key)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Lock takes a Consul session lock. It gives up after wait or when ctx ends.
func (c *Consul) Lock(ctx context.Context, key string, wait time.Duration) (func() error, error) {
	lock, err := c.cli.LockOpts(&consulapi.LockOptions{
		Key:          kvKey(key),
		SessionName:  "healthcheck",
		SessionTTL:   "60s",
		LockTryOnce:  true,
		LockWaitTime: wait,
	})
	if err != nil {
		return nil, fmt.Errorf("preparing lock %s: %w", key, err)
	}

	stopCh := make(chan struct{})
	stop := context.AfterFunc(ctx, func() { close(stopCh) })
	defer stop()

	leaderCh, err := lock.Lock(stopCh)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if leaderCh == nil {
		return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
	}

	return func() error {
		if err := lock.Unlock(); err != nil {
			return fmt.Errorf("releasing lock %s: %w", key, err)
		}
		return nil
	}, nil
}

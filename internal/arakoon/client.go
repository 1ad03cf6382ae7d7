package arakoon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/probe"
)

var (
	// ErrNoMaster means the cluster could not elect a master.
	ErrNoMaster = errors.New("no master elected")
	// ErrDown means no member of the cluster answered.
	ErrDown = errors.New("cluster unreachable")
)

// Statistics are the master's view of its followers.
type Statistics struct {
	Master string           `json:"master"`
	NodeIs map[string]int64 `json:"node_is"`
}

// Client talks to a consensus cluster.
type Client interface {
	Nop(ctx context.Context, cfg ClusterConfig) error
	Statistics(ctx context.Context, cfg ClusterConfig) (Statistics, error)
}

// CLI drives the arakoon binary with a temporary copy of the cluster config.
type CLI struct {
	Binary  string
	Runner  probe.Runner
	TempDir string
}

// NewCLI returns a client running binary on this node.
func NewCLI(binary string) *CLI {
	return &CLI{Binary: binary, Runner: probe.LocalExecutor{}}
}

func (c *CLI) call(ctx context.Context, cfg ClusterConfig, args ...string) ([]byte, error) {
	f, err := os.CreateTemp(c.TempDir, "arakoon-"+cfg.Name+"-*.ini")
	if err != nil {
		return nil, fmt.Errorf("writing config of cluster %s: %w", cfg.Name, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(cfg.Raw); err != nil {
		f.Close()
		return nil, fmt.Errorf("writing config of cluster %s: %w", cfg.Name, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("writing config of cluster %s: %w", cfg.Name, err)
	}

	out, err := c.Runner.Command(ctx, c.Binary, append([]string{"-config", f.Name()}, args...)...)
	if err != nil {
		return nil, classify(cfg.Name, err)
	}
	return out, nil
}

// classify maps the tool's stderr onto the sentinel errors.
func classify(cluster string, err error) error {
	var cerr *probe.CommandError
	if !errors.As(err, &cerr) {
		return err
	}
	msg := strings.ToLower(cerr.Stderr)
	switch {
	case strings.Contains(msg, "no master"):
		return fmt.Errorf("cluster %s: %w", cluster, ErrNoMaster)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "could not connect"),
		strings.Contains(msg, "unreachable"):
		return fmt.Errorf("cluster %s: %w: %s", cluster, ErrDown, strings.TrimSpace(cerr.Stderr))
	}
	return err
}

// Nop sends a no-op through the master.
func (c *CLI) Nop(ctx context.Context, cfg ClusterConfig) error {
	_, err := c.call(ctx, cfg, "--nop")
	return err
}

// Statistics asks the master for per-node sequence numbers.
func (c *CLI) Statistics(ctx context.Context, cfg ClusterConfig) (Statistics, error) {
	out, err := c.call(ctx, cfg, "--statistics", "--to-json")
	if err != nil {
		return Statistics{}, err
	}
	var stats Statistics
	if err := json.Unmarshal(out, &stats); err != nil {
		return Statistics{}, fmt.Errorf("decoding statistics of cluster %s: %w", cfg.Name, err)
	}
	return stats, nil
}

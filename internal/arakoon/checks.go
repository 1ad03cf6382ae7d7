package arakoon

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Module is the CLI name of this module.
const Module = "arakoon"

// Limits holds the thresholds of the consensus checks.
type Limits struct {
	MaxTransactionsBehind int
	MinTlxAmount          int
	MaxCollapseAge        time.Duration
	FDLimit               int
	FDWarningPct          int
	FDCriticalPct         int
	Workers               int
	IntegrityTimeout      time.Duration
}

// DefaultLimits mirrors the config defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxTransactionsBehind: 10,
		MinTlxAmount:          10,
		MaxCollapseAge:        72 * time.Hour,
		FDLimit:               30,
		FDWarningPct:          80,
		FDCriticalPct:         95,
		Workers:               probe.DefaultWorkers,
		IntegrityTimeout:      10 * time.Second,
	}
}

// Checker carries the collaborators shared by the consensus checks.
type Checker struct {
	Source Source
	Client Client
	SSH    probe.Executors
	Limits Limits
	Logger *slog.Logger

	// PortOpen defaults to probe.CheckPortConnection.
	PortOpen func(ctx context.Context, ip string, port int) bool
}

// Register adds the consensus checks to reg.
func Register(reg *check.Registry, c *Checker) {
	reg.MustRegister(c.Checks()...)
}

// Checks returns the consensus checks bound to c.
func (c *Checker) Checks() []check.Check {
	return []check.Check{
		check.ClusterCheck(Module, "nodes-test", c.nodesTest).
			Describe("Verify every node follows the master closely").
			WithOptions(check.OptionSpec{
				Name:    "max-transactions-behind",
				Default: strconv.Itoa(c.Limits.MaxTransactionsBehind),
				Help:    "transactions a follower may lag before failing",
			}),
		check.ClusterCheck(Module, "ports-test", c.portsTest).
			Describe("Verify the client port of every node is reachable"),
		check.ClusterCheck(Module, "integrity-test", c.integrityTest).
			Describe("Verify every cluster answers a no-op request"),
		check.ClusterCheck(Module, "collapse-test", c.collapseTest).
			Describe("Verify tlogs are collapsed in time").
			WithOptions(
				check.OptionSpec{Name: "min-tlx-amount", Default: strconv.Itoa(c.Limits.MinTlxAmount), Help: "closed tlogs needed before collapsing matters"},
				check.OptionSpec{Name: "max-collapse-age", Default: c.Limits.MaxCollapseAge.String(), Help: "maximum age of uncollapsed tlogs"},
			),
		check.ClusterCheck(Module, "file-descriptors-test", c.descriptorsTest).
			Describe("Verify consensus servers keep their TCP sockets below the limit").
			WithOptions(check.OptionSpec{
				Name:    "fd-limit",
				Default: strconv.Itoa(c.Limits.FDLimit),
				Help:    "socket count treated as 100%",
			}),
	}
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// clusters enumerates the usable clusters and records a failure for every
// cluster whose config is broken.
func (c *Checker) clusters(ctx context.Context, rec *result.Recorder) []ClusterConfig {
	all, err := c.Source.Clusters(ctx)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list consensus clusters: %v", err), result.CodeArakoonConfigFailed)
		return nil
	}
	out := make([]ClusterConfig, 0, len(all))
	for _, cl := range all {
		if cl.Err != nil {
			rec.Failure(fmt.Sprintf("Unable to load cluster %s: %v", cl.Name, cl.Err), result.CodeArakoonConfigFailed)
			continue
		}
		out = append(out, cl.Config)
	}
	if len(all) == 0 {
		rec.Skip("No consensus clusters found", result.CodeArakoonNoClusters)
	}
	return out
}

// nodeJob is one (cluster, node) pair placed on the probe queue.
type nodeJob struct {
	Cluster string
	Node    NodeConfig
}

func (j nodeJob) String() string {
	return fmt.Sprintf("node %s of cluster %s", j.Node.ID, j.Cluster)
}

func nodeJobs(clusters []ClusterConfig) []nodeJob {
	var jobs []nodeJob
	for _, cl := range clusters {
		for _, n := range cl.Nodes {
			jobs = append(jobs, nodeJob{Cluster: cl.Name, Node: n})
		}
	}
	return jobs
}

// connect makes sure the SSH pool holds a client for every job's node.
func (c *Checker) connect(ctx context.Context, jobs []nodeJob) error {
	seen := make(map[string]bool)
	var ips []string
	for _, j := range jobs {
		if !seen[j.Node.IP] {
			seen[j.Node.IP] = true
			ips = append(ips, j.Node.IP)
		}
	}
	return c.SSH.Build(ctx, ips)
}

func (c *Checker) executor(j nodeJob) (probe.Executor, error) {
	exe, err := c.SSH.Get(j.Node.IP)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", j.Node.IP, err)
	}
	return exe, nil
}

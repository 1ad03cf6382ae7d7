// Package node holds the generic node checks: data-model consistency, the
// message bus, recovery domains and the single-host probes.
package node

import (
	"context"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/volumedriver"
)

// Module is the CLI name of this module.
const Module = "ovs"

// Bus reports message-bus partitions keyed by member. *platform.RabbitMQ
// implements it.
type Bus interface {
	Partitions(ctx context.Context) (map[string][]string, error)
}

// Limits holds the thresholds of the node checks.
type Limits struct {
	CeleryTimeout time.Duration
	MaxLogSize    int64
}

// DefaultLimits mirrors the config defaults.
func DefaultLimits() Limits {
	return Limits{CeleryTimeout: 7 * time.Second, MaxLogSize: 500 << 20}
}

// Directory is an expected directory with its permission bits.
type Directory struct {
	Path string
	Mode uint32
}

// Probes lists what the single-host probes inspect.
type Probes struct {
	Packages    []string
	Services    []string
	LogDirs     []string
	Directories []Directory
	DNSNames    []string
}

// Identity describes the node the tool runs on.
type Identity struct {
	ID       string
	IP       string
	Hostname string
}

// Checker carries the collaborators shared by the node checks.
type Checker struct {
	Registry registry.Registry
	Paths    registry.Paths
	Model    platform.Model
	Bus      Bus
	Drivers  volumedriver.Dialer
	Node     Identity
	Runner   probe.Runner
	// Processes defaults to the host process table.
	Processes ProcessLister
	// Resolver defaults to the OS resolver.
	Resolver probe.Resolver
	// PortOpen defaults to probe.CheckPortConnection.
	PortOpen func(ctx context.Context, ip string, port int) bool
	Probes   Probes
	Limits   Limits
	Logger   *slog.Logger
}

// Register adds the node checks to reg.
func Register(reg *check.Registry, c *Checker) {
	reg.MustRegister(c.Checks()...)
}

// Checks returns the node checks bound to c.
func (c *Checker) Checks() []check.Check {
	return []check.Check{
		check.NodeCheck(Module, "model-test", c.modelTest).
			Describe("Compare the volumes in the data model with the volume-drivers"),
		check.ClusterCheck(Module, "bus-partitions-test", c.busTest).
			Describe("Verify the message bus is not partitioned"),
		check.ClusterCheck(Module, "recovery-domains-test", c.domainsTest).
			Describe("Verify every recovery domain is also a primary domain"),
		check.New(Module, "local-settings-test", c.localSettingsTest).
			Describe("Show the identity of this node"),
		check.NodeCheck(Module, "packages-test", c.packagesTest).
			Describe("Verify the required packages are installed"),
		check.NodeCheck(Module, "services-test", c.servicesTest).
			Describe("Verify the required services are active"),
		check.NodeCheck(Module, "log-files-test", c.logFilesTest).
			Describe("Verify no log file exceeds the size limit").
			WithOptions(check.OptionSpec{
				Name:    "max-log-size",
				Default: c.Limits.maxLogSizeMB(),
				Help:    "log size limit in MB",
			}),
		check.NodeCheck(Module, "directory-permissions-test", c.directoriesTest).
			Describe("Verify the permissions of the platform directories"),
		check.NodeCheck(Module, "dns-test", c.dnsTest).
			Describe("Verify name resolution works"),
		check.NodeCheck(Module, "zombie-processes-test", c.zombieTest).
			Describe("Find zombie and dead processes"),
		check.NodeCheck(Module, "node-ports-test", c.portsTest).
			Describe("Verify the local services accept connections"),
		check.WithTimeout(
			check.NodeCheck(Module, "celery-test", c.celeryTest).
				Describe("Verify the task workers answer"),
			c.Limits.CeleryTimeout+time.Second),
	}
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Checker) portOpen(ctx context.Context, ip string, port int) bool {
	if c.PortOpen != nil {
		return c.PortOpen(ctx, ip, port)
	}
	return probe.CheckPortConnection(ctx, ip, port)
}

package alba

import (
	"log/slog"
	"time"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
)

// Module is the CLI name of this module; it is also the addon type the
// checks depend on.
const (
	Module = "alba"
	Addon  = "alba"
)

// HealthcheckPrefix starts every key and namespace the checks create.
const HealthcheckPrefix = "ovs-healthcheck-"

// Limits holds the timeouts of the object-storage checks.
type Limits struct {
	Workers          int
	NamespaceTimeout time.Duration
	CleanupTimeout   time.Duration
	PollInterval     time.Duration
	// TestFileSize is the size of the object uploaded through each proxy.
	TestFileSize int64
}

// DefaultLimits mirrors the config defaults.
func DefaultLimits() Limits {
	return Limits{
		Workers:          probe.DefaultWorkers,
		NamespaceTimeout: 30 * time.Second,
		CleanupTimeout:   30 * time.Second,
		PollInterval:     500 * time.Millisecond,
		TestFileSize:     1 << 20,
	}
}

// Checker carries the collaborators shared by the object-storage checks.
type Checker struct {
	Registry registry.Registry
	Paths    registry.Paths
	Model    platform.Model
	CLI      CLI
	// Runner runs ipmitool on this node.
	Runner probe.Runner
	NodeID string
	// ConfigURL locates the config of a manager cluster for the CLI.
	ConfigURL func(cluster string) string
	// TempDir holds the proxy round-trip files; empty means os.TempDir.
	TempDir string
	Limits  Limits
	Logger  *slog.Logger
}

// Register adds the object-storage checks to reg.
func Register(reg *check.Registry, c *Checker) {
	reg.MustRegister(c.Checks()...)
}

// Checks returns the object-storage checks bound to c.
func (c *Checker) Checks() []check.Check {
	return []check.Check{
		check.ClusterCheck(Module, "backend-test", c.backendTest).
			ForAddon(Addon).
			Describe("Verify every OSD of the local backends stores and returns data"),
		check.NodeCheck(Module, "proxy-test", c.proxyTest).
			ForAddon(Addon).
			Describe("Verify the local proxies can create namespaces and round-trip objects"),
		check.ClusterCheck(Module, "disk-safety-test", c.diskSafetyTest).
			ForAddon(Addon).
			Describe("Report how safe the data of every namespace is").
			WithOptions(check.OptionSpec{
				Name:    "include-errored-as-dead",
				Default: "false",
				Help:    "count OSDs in error as dead",
			}),
		check.ClusterCheck(Module, "nsm-load-test", c.nsmLoadTest).
			ForAddon(Addon).
			Describe("Verify the namespace managers have room for new namespaces"),
		check.NodeCheck(Module, "ipmi-test", c.ipmiTest).
			ForAddon(Addon).
			Describe("Verify the storage node reports power on through IPMI"),
	}
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Checker) configURL(cluster string) string {
	if c.ConfigURL != nil {
		return c.ConfigURL(cluster)
	}
	return c.Paths.ClusterConfig(cluster)
}

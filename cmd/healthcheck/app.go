package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/darshan-rambhia/healthcheck/internal/alba"
	"github.com/darshan-rambhia/healthcheck/internal/arakoon"
	"github.com/darshan-rambhia/healthcheck/internal/cache"
	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/config"
	"github.com/darshan-rambhia/healthcheck/internal/guard"
	"github.com/darshan-rambhia/healthcheck/internal/logging"
	"github.com/darshan-rambhia/healthcheck/internal/node"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
	"github.com/darshan-rambhia/healthcheck/internal/volumedriver"
)

// app owns the check registry and, once connected, every collaborator the
// checks need. The checkers are registered before the collaborators exist so
// the command tree can be built without touching the network.
type app struct {
	cfg    *config.Config
	cfgErr error

	reg     *check.Registry
	arakoon *arakoon.Checker
	alba    *alba.Checker
	volumes *volumedriver.Checker
	node    *node.Checker

	logger  *slog.Logger
	closers []func() error
}

func newApp(cfg *config.Config, cfgErr error) *app {
	if cfg == nil {
		cfg = config.Default()
	}
	t := cfg.Thresholds

	a := &app{cfg: cfg, cfgErr: cfgErr, reg: check.NewRegistry()}

	al := arakoon.DefaultLimits()
	al.MaxTransactionsBehind = t.MaxTransactionsBehind
	al.MinTlxAmount = t.MinTlxAmount
	al.MaxCollapseAge = t.MaxCollapseAge.Duration
	al.FDLimit = t.FDLimit
	al.FDWarningPct = t.FDWarningPct
	al.FDCriticalPct = t.FDCriticalPct
	al.Workers = t.WorkerCount
	al.IntegrityTimeout = t.IntegrityTimeout.Duration
	a.arakoon = &arakoon.Checker{Limits: al}

	bl := alba.DefaultLimits()
	bl.Workers = t.WorkerCount
	bl.NamespaceTimeout = t.NamespaceTimeout.Duration
	a.alba = &alba.Checker{Limits: bl}

	a.volumes = &volumedriver.Checker{Limits: volumedriver.Limits{
		InfoVolumeTimeout: t.InfoVolumeTimeout.Duration,
		CriticalVolNumber: t.CriticalVolNumber,
	}}

	a.node = &node.Checker{Limits: node.Limits{
		CeleryTimeout: t.CeleryTimeout.Duration,
		MaxLogSize:    t.MaxLogSizeMB << 20,
	}}

	arakoon.Register(a.reg, a.arakoon)
	alba.Register(a.reg, a.alba)
	volumedriver.Register(a.reg, a.volumes)
	node.Register(a.reg, a.node)
	return a
}

// connect builds the collaborators and returns a dispatcher writing into a
// fresh aggregator.
func (a *app) connect(ctx context.Context) (*check.Dispatcher, *result.Aggregator, error) {
	if a.cfgErr != nil {
		return nil, nil, a.cfgErr
	}
	cfg := a.cfg

	logger, closeLog, err := logging.Setup(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	a.closers = append(a.closers, closeLog)
	slog.SetDefault(logger)
	a.logger = logger

	c, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, c.Close)
	if _, err := c.Prune(ctx); err != nil {
		logger.Warn("pruning cache", "error", err)
	}

	reg, err := registry.NewConsul(cfg.Registry.Address, cfg.Registry.Token)
	if err != nil {
		return nil, nil, err
	}
	paths := registry.Paths{
		Root:      cfg.Registry.Root,
		Consensus: cfg.Registry.Consensus,
		Storage:   cfg.Registry.Storage,
		Framework: cfg.Registry.Framework,
	}

	model := platform.NewClient(platform.HTTPConfig{
		BaseURL:  cfg.Platform.URL,
		Token:    cfg.Platform.Token,
		Insecure: cfg.Platform.Insecure,
	})

	pool, err := probe.NewSSHPool(probe.SSHConfig{
		User:           cfg.SSH.User,
		KeyPath:        cfg.SSH.KeyPath,
		ConnectTimeout: cfg.SSH.ConnectTimeout.Duration,
	}, cfg.Node.IP)
	if err != nil {
		// Only checks reaching other nodes need the key; they report the
		// dial error per node.
		logger.Warn("SSH unavailable", "error", err)
		sshErr := err
		pool = probe.NewPool(cfg.Node.IP, func(context.Context, string) (probe.Executor, error) {
			return nil, sshErr
		})
	}
	a.closers = append(a.closers, pool.Close)

	local := probe.LocalExecutor{}

	a.arakoon.Source = arakoon.Source{Registry: reg, Paths: paths, BootstrapConfig: cfg.BootstrapConfig, Logger: logger}
	a.arakoon.Client = arakoon.NewCLI(cfg.Tools.Arakoon)
	a.arakoon.SSH = pool
	a.arakoon.Logger = logger

	a.alba.Registry = reg
	a.alba.Paths = paths
	a.alba.Model = model
	a.alba.CLI = alba.NewExec(cfg.Tools.Alba)
	a.alba.Runner = local
	a.alba.NodeID = cfg.Node.ID
	a.alba.ConfigURL = func(cluster string) string {
		return "consul://" + cfg.Registry.Address + paths.ClusterConfig(cluster)
	}
	a.alba.Logger = logger

	a.volumes.Model = model
	a.volumes.NodeID = cfg.Node.ID
	a.volumes.Dial = volumedriver.DialXMLRPC
	a.volumes.Logger = logger

	dirs, err := directories(cfg.Probes.Directories)
	if err != nil {
		return nil, nil, err
	}
	a.node.Registry = reg
	a.node.Paths = paths
	a.node.Model = model
	a.node.Bus = platform.NewRabbitMQ(platform.HTTPConfig{
		BaseURL:  cfg.RabbitMQ.URL,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
	})
	a.node.Drivers = volumedriver.DialXMLRPC
	a.node.Node = node.Identity{ID: cfg.Node.ID, IP: cfg.Node.IP, Hostname: cfg.Node.Hostname}
	a.node.Runner = local
	a.node.Processes = node.HostProcesses{}
	a.node.Probes = node.Probes{
		Packages:    cfg.Probes.Packages,
		Services:    cfg.Probes.Services,
		LogDirs:     cfg.Probes.LogDirs,
		Directories: dirs,
		DNSNames:    cfg.Probes.DNSNames,
	}
	a.node.Logger = logger

	self := guard.Holder{IP: cfg.Node.IP, Hostname: cfg.Node.Hostname}
	nodeGuard := guard.New("node", guard.FileLocker{Dir: cfg.LockDir}, c, self, guard.WithLogger(logger))
	clusterGuard := guard.New("cluster",
		guard.RegistryLocker{Registry: reg, Paths: paths, Wait: cfg.Registry.LockWait.Duration},
		c, self, guard.WithLogger(logger))

	addons := cfg.Addons
	if len(addons) == 0 {
		addons, err = check.InstalledAddons(ctx, c, func(ctx context.Context) ([]string, error) {
			var out []string
			err := registry.GetJSON(ctx, reg, paths.InstalledBackends(), &out)
			if errors.Is(err, registry.ErrKeyNotFound) {
				return nil, nil
			}
			return out, err
		}, logger)
		if err != nil {
			logger.Warn("addon discovery failed, addon checks will be skipped", "error", err)
		}
	}
	logger.Debug("installed addons", "addons", addons)

	agg := result.NewAggregator(logger)
	d := check.NewDispatcher(check.DispatcherConfig{
		Registry:     a.reg,
		Aggregator:   agg,
		NodeGuard:    nodeGuard,
		ClusterGuard: clusterGuard,
		Addons:       addons,
		Logger:       logger,
	})
	return d, agg, nil
}

func directories(in []config.DirectoryConfig) ([]node.Directory, error) {
	out := make([]node.Directory, 0, len(in))
	for _, d := range in {
		mode, err := strconv.ParseUint(d.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("directory %s: invalid mode %q: %w", d.Path, d.Mode, err)
		}
		out = append(out, node.Directory{Path: d.Path, Mode: uint32(mode)})
	}
	return out, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Debug("closing", "error", err)
		}
	}
	a.closers = nil
}

package check

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/darshan-rambhia/healthcheck/internal/guard"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Guard serialises a check body. *guard.Guard implements it.
type Guard interface {
	Do(ctx context.Context, name string, fn func(context.Context) error, onContended func(guard.Holder)) error
}

// Dispatcher runs registered checks against one aggregator.
type Dispatcher struct {
	registry     *Registry
	agg          *result.Aggregator
	nodeGuard    Guard
	clusterGuard Guard
	installed    map[string]bool
	logger       *slog.Logger
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Registry     *Registry
	Aggregator   *result.Aggregator
	NodeGuard    Guard
	ClusterGuard Guard
	// Addons lists the installed addon types. Checks bound to any other
	// addon are skipped.
	Addons []string
	Logger *slog.Logger
}

// NewDispatcher returns a dispatcher for cfg.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	installed := make(map[string]bool, len(cfg.Addons))
	for _, a := range cfg.Addons {
		installed[a] = true
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:     cfg.Registry,
		agg:          cfg.Aggregator,
		nodeGuard:    cfg.NodeGuard,
		clusterGuard: cfg.ClusterGuard,
		installed:    installed,
		logger:       logger,
	}
}

// Run runs one check. Unknown modules, tests or options fail before anything
// runs; every other problem is recorded in the aggregator.
func (d *Dispatcher) Run(ctx context.Context, module, test string, opts Options) error {
	c, err := d.registry.Lookup(module, test)
	if err != nil {
		return err
	}
	resolved, err := c.resolve(opts)
	if err != nil {
		return err
	}
	d.run(ctx, c, resolved, true)
	return nil
}

// RunModule runs every check of module in name order.
func (d *Dispatcher) RunModule(ctx context.Context, module string) error {
	if !d.registry.HasModule(module) {
		return fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	for _, c := range d.registry.Module(module) {
		if err := ctx.Err(); err != nil {
			return err
		}
		opts, _ := c.resolve(nil)
		d.run(ctx, c, opts, false)
	}
	return nil
}

// RunAll runs every registered check in (module, name) order.
func (d *Dispatcher) RunAll(ctx context.Context) error {
	for _, m := range d.registry.Modules() {
		if err := d.RunModule(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, c Check, opts Options, explicit bool) {
	rec := d.agg.For(c.Name)
	log := d.logger.With("module", c.Module, "test", c.Name)

	if c.Addon != "" && !d.installed[c.Addon] {
		if explicit {
			rec.Skip(fmt.Sprintf("addon %s is not installed on this node", c.Addon), result.CodeAddonNotInstalled)
		} else {
			log.Debug("skipping check, addon not installed", "addon", c.Addon)
		}
		return
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body := func(ctx context.Context) error { return invoke(ctx, c, rec, opts) }
	onContended := func(h guard.Holder) {
		rec.Success(fmt.Sprintf("this test is running on node %s (%s)", h.Hostname, h.IP), result.CodeRunningElsewhere)
	}

	log.Debug("running check", "scope", c.Scope.String())
	var err error
	switch g := d.guardFor(c.Scope); {
	case g == nil:
		err = body(ctx)
	default:
		err = g.Do(ctx, c.Name, body, onContended)
	}

	switch {
	case err == nil:
	case errors.Is(err, guard.ErrHolderUnknown):
		rec.Exception(err.Error(), result.CodeHolderUnknown)
	case errors.Is(err, context.DeadlineExceeded):
		rec.Warning(fmt.Sprintf("check did not finish in time: %v", err), result.CodeCheckTimeout)
	default:
		rec.Exception(fmt.Sprintf("unhandled error: %v", err), result.CodeUnhandledException)
	}

	if !d.agg.Has(c.Name) {
		rec.Skip("nothing to inspect on this node", result.CodeUnspecified)
	}
}

func (d *Dispatcher) guardFor(s Scope) Guard {
	switch s {
	case ScopeNode:
		return d.nodeGuard
	case ScopeCluster:
		return d.clusterGuard
	default:
		return nil
	}
}

// invoke runs the check body, turning a panic into an error.
func invoke(ctx context.Context, c Check, rec *result.Recorder, opts Options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("check panicked", "module", c.Module, "test", c.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return c.Run(ctx, rec, opts)
}

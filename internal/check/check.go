// Package check holds the check registry and the dispatcher that runs checks
// under their execution guards.
package check

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Scope selects which guard serialises a check.
type Scope int

const (
	// ScopeLocal checks run unguarded.
	ScopeLocal Scope = iota
	// ScopeNode checks run at most once at a time on a node.
	ScopeNode
	// ScopeCluster checks run at most once at a time across the cluster.
	ScopeCluster
)

func (s Scope) String() string {
	switch s {
	case ScopeNode:
		return "node"
	case ScopeCluster:
		return "cluster"
	default:
		return "local"
	}
}

// Func is the body of a check. It signals outcomes only by recording
// entries; a returned error is recorded as an exception by the dispatcher.
type Func func(ctx context.Context, rec *result.Recorder, opts Options) error

// OptionSpec declares an option a check accepts on the command line.
type OptionSpec struct {
	Name    string
	Default string
	Help    string
}

// Check is one registered health check.
type Check struct {
	Module      string
	Name        string
	Addon       string
	Description string
	Scope       Scope
	Options     []OptionSpec
	Timeout     time.Duration
	Run         Func
}

// New returns an unguarded check.
func New(module, name string, fn Func) Check {
	return Check{Module: module, Name: name, Scope: ScopeLocal, Run: fn}
}

// NodeCheck returns a check guarded by the node-wide mutex.
func NodeCheck(module, name string, fn Func) Check {
	c := New(module, name, fn)
	c.Scope = ScopeNode
	return c
}

// ClusterCheck returns a check guarded by the cluster-wide mutex.
func ClusterCheck(module, name string, fn Func) Check {
	c := New(module, name, fn)
	c.Scope = ScopeCluster
	return c
}

// WithTimeout bounds the whole check by d. On expiry the dispatcher records
// a warning.
func WithTimeout(c Check, d time.Duration) Check {
	c.Timeout = d
	return c
}

// Describe sets the one-line description shown by `list`.
func (c Check) Describe(desc string) Check {
	c.Description = desc
	return c
}

// ForAddon restricts the check to nodes where the addon type is installed.
func (c Check) ForAddon(addon string) Check {
	c.Addon = addon
	return c
}

// WithOptions declares the options the check accepts.
func (c Check) WithOptions(specs ...OptionSpec) Check {
	c.Options = append(append([]OptionSpec(nil), c.Options...), specs...)
	return c
}

// Key identifies the check in the registry.
func (c Check) Key() Key { return Key{Module: c.Module, Name: c.Name} }

func (c Check) option(name string) (OptionSpec, bool) {
	for _, o := range c.Options {
		if o.Name == name {
			return o, true
		}
	}
	return OptionSpec{}, false
}

// Options are the values passed to a check. Unset options fall back to the
// declared default.
type Options map[string]string

// String returns the option value or def.
func (o Options) String(name, def string) string {
	if v, ok := o[name]; ok && v != "" {
		return v
	}
	return def
}

// Int returns the option as an int, or def if it is unset or malformed.
func (o Options) Int(name string, def int) int {
	v, ok := o[name]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Bool returns the option as a bool, or def if it is unset or malformed.
func (o Options) Bool(name string, def bool) bool {
	v, ok := o[name]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// Duration returns the option as a duration, or def.
func (o Options) Duration(name string, def time.Duration) time.Duration {
	v, ok := o[name]
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// resolve validates opts against the check's declarations and fills in
// defaults.
func (c Check) resolve(opts Options) (Options, error) {
	out := make(Options, len(c.Options))
	for _, spec := range c.Options {
		if spec.Default != "" {
			out[spec.Name] = spec.Default
		}
	}
	for k, v := range opts {
		if _, ok := c.option(k); !ok {
			return nil, fmt.Errorf("%w: %s for %s %s", ErrUnknownOption, k, c.Module, c.Name)
		}
		out[k] = v
	}
	return out, nil
}

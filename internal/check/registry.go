package check

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownModule is returned for a module with no registered checks.
	ErrUnknownModule = errors.New("unknown module")
	// ErrUnknownTest is returned for a test not registered in its module.
	ErrUnknownTest = errors.New("unknown test")
	// ErrUnknownOption is returned for an option a check does not declare.
	ErrUnknownOption = errors.New("unknown option")
)

// Key identifies a check.
type Key struct {
	Module string
	Name   string
}

// Registry maps (module, test) to checks. Test names are unique across
// modules because results are keyed by test name.
type Registry struct {
	checks map[Key]Check
	names  map[string]Key
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{checks: make(map[Key]Check), names: make(map[string]Key)}
}

// Register adds c.
func (r *Registry) Register(c Check) error {
	if c.Module == "" || c.Name == "" {
		return fmt.Errorf("check needs a module and a name")
	}
	if c.Run == nil {
		return fmt.Errorf("check %s %s has no body", c.Module, c.Name)
	}
	if prev, ok := r.names[c.Name]; ok {
		return fmt.Errorf("test %s already registered in module %s", c.Name, prev.Module)
	}
	r.checks[c.Key()] = c
	r.names[c.Name] = c.Key()
	return nil
}

// MustRegister adds every check and panics on a conflict. Registration
// happens at start-up, so a conflict is a programming error.
func (r *Registry) MustRegister(checks ...Check) {
	for _, c := range checks {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the check for (module, name).
func (r *Registry) Lookup(module, name string) (Check, error) {
	if !r.HasModule(module) {
		return Check{}, fmt.Errorf("%w: %s", ErrUnknownModule, module)
	}
	c, ok := r.checks[Key{Module: module, Name: name}]
	if !ok {
		return Check{}, fmt.Errorf("%w: %s %s", ErrUnknownTest, module, name)
	}
	return c, nil
}

// HasModule reports whether any check is registered for module.
func (r *Registry) HasModule(module string) bool {
	for k := range r.checks {
		if k.Module == module {
			return true
		}
	}
	return false
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	seen := make(map[string]bool)
	var out []string
	for k := range r.checks {
		if !seen[k.Module] {
			seen[k.Module] = true
			out = append(out, k.Module)
		}
	}
	sort.Strings(out)
	return out
}

// Module returns the checks of one module, sorted by name.
func (r *Registry) Module(module string) []Check {
	var out []Check
	for k, c := range r.checks {
		if k.Module == module {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns every check in (module, name) order.
func (r *Registry) All() []Check {
	var out []Check
	for _, m := range r.Modules() {
		out = append(out, r.Module(m)...)
	}
	return out
}

// Package probetest provides scripted executors for tests.
package probetest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/darshan-rambhia/healthcheck/internal/probe"
)

// Response is the canned outcome of a command.
type Response struct {
	Out string
	Err error
}

// Executor answers commands from a script. A command matches the longest
// script key it contains.
type Executor struct {
	mu     sync.Mutex
	Script map[string]Response
	Calls  []string
}

// NewExecutor returns an executor answering from script.
func NewExecutor(script map[string]Response) *Executor {
	return &Executor{Script: script}
}

// On adds or replaces one scripted response.
func (e *Executor) On(match, out string, err error) *Executor {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Script == nil {
		e.Script = make(map[string]Response)
	}
	e.Script[match] = Response{Out: out, Err: err}
	return e
}

func (e *Executor) Run(ctx context.Context, cmd string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, cmd)

	best, found := "", false
	for k := range e.Script {
		if strings.Contains(cmd, k) && (!found || len(k) > len(best)) {
			best, found = k, true
		}
	}
	if !found {
		return nil, fmt.Errorf("unexpected command %q", cmd)
	}
	r := e.Script[best]
	return []byte(r.Out), r.Err
}

// Command joins name and args and answers like Run.
func (e *Executor) Command(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.Run(ctx, strings.Join(append([]string{name}, args...), " "))
}

// Called reports whether any command containing match was run.
func (e *Executor) Called(match string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.Calls {
		if strings.Contains(c, match) {
			return true
		}
	}
	return false
}

// Fleet maps node IPs to executors. Unknown IPs refuse connections.
type Fleet map[string]*Executor

// Pool returns an SSH pool dialing into the fleet.
func (f Fleet) Pool() *probe.SSHPool {
	return probe.NewPool("", func(_ context.Context, ip string) (probe.Executor, error) {
		e, ok := f[ip]
		if !ok {
			return nil, fmt.Errorf("dial %s:22: connection refused", ip)
		}
		return e, nil
	})
}

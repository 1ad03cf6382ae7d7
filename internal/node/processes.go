package node

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Process states the zombie probe reports.
const (
	StateZombie = process.Zombie
	StateDead   = "dead"
)

// ProcessInfo is one row of the process table.
type ProcessInfo struct {
	PID    int32
	Name   string
	Status []string
}

// ProcessLister lists the processes of the host.
type ProcessLister interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// HostProcesses reads the process table through gopsutil.
type HostProcesses struct{}

func (HostProcesses) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		status, err := p.StatusWithContext(ctx)
		if err != nil {
			// gone between listing and reading
			continue
		}
		name, _ := p.NameWithContext(ctx)
		out = append(out, ProcessInfo{PID: p.Pid, Name: name, Status: status})
	}
	return out, nil
}

func (c *Checker) zombieTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	lister := c.Processes
	if lister == nil {
		lister = HostProcesses{}
	}
	procs, err := lister.Processes(ctx)
	if err != nil {
		return err
	}
	zombies, dead := ClassifyProcesses(procs)
	if len(zombies) == 0 && len(dead) == 0 {
		rec.Success("No zombie or dead processes", result.CodeNoZombies)
		return nil
	}
	if len(zombies) > 0 {
		rec.Warning("Zombie processes: "+strings.Join(zombies, ", "), result.CodeZombieProcesses)
	}
	if len(dead) > 0 {
		rec.Warning("Dead processes: "+strings.Join(dead, ", "), result.CodeDeadProcesses)
	}
	return nil
}

// ClassifyProcesses returns "name(pid)" labels for zombie and dead processes.
func ClassifyProcesses(procs []ProcessInfo) (zombies, dead []string) {
	for _, p := range procs {
		label := fmt.Sprintf("%s(%d)", p.Name, p.PID)
		switch {
		case slices.Contains(p.Status, StateZombie):
			zombies = append(zombies, label)
		case slices.Contains(p.Status, StateDead):
			dead = append(dead, label)
		}
	}
	return zombies, dead
}

package arakoon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

func serviceName(cluster string) string { return "ovs-arakoon-" + cluster }

func mainPIDCommand(cluster string) string {
	return "systemctl show --property=MainPID --value " + shellQuote(serviceName(cluster))
}

func socketsCommand(pid int) string {
	return fmt.Sprintf("lsof -nP -a -p %d -i TCP", pid)
}

// ParseMainPID reads the service manager's MainPID. Zero means the service
// is not running.
func ParseMainPID(cluster string, out []byte) (int, error) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, fmt.Errorf("parsing pid of %s: %w", serviceName(cluster), err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%s is not running", serviceName(cluster))
	}
	return pid, nil
}

// CountTCPSockets counts lsof rows in the ESTABLISHED or TIME_WAIT state.
func CountTCPSockets(out []byte) int {
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasSuffix(line, "(ESTABLISHED)") || strings.HasSuffix(line, "(TIME_WAIT)") {
			n++
		}
	}
	return n
}

// EvaluateDescriptors grades a socket count against limit.
func EvaluateDescriptors(count, limit, warnPct, critPct int) Verdict {
	if limit <= 0 {
		limit = 1
	}
	pct := count * 100 / limit
	msg := fmt.Sprintf("%d TCP sockets in use, %d%% of %d", count, pct, limit)
	switch {
	case pct >= critPct:
		return Verdict{result.Warning, result.CodeArakoonFD95, msg}
	case pct >= warnPct:
		return Verdict{result.Warning, result.CodeArakoonFD80, msg}
	default:
		return Verdict{result.Success, result.CodeArakoonFDOK, msg}
	}
}

func (c *Checker) descriptorsTest(ctx context.Context, rec *result.Recorder, opts check.Options) error {
	limit := opts.Int("fd-limit", c.Limits.FDLimit)

	jobs := nodeJobs(c.clusters(ctx, rec))
	if len(jobs) == 0 {
		return nil
	}
	if err := c.connect(ctx, jobs); err != nil {
		return err
	}

	slots := probe.RunQueue(ctx, c.Limits.Workers, jobs, func(ctx context.Context, j nodeJob) (Verdict, error) {
		exe, err := c.executor(j)
		if err != nil {
			return Verdict{}, err
		}
		out, err := exe.Run(ctx, mainPIDCommand(j.Cluster))
		if err != nil {
			return Verdict{}, err
		}
		pid, err := ParseMainPID(j.Cluster, out)
		if err != nil {
			return Verdict{}, err
		}
		// lsof exits 1 when the process holds no matching sockets.
		out, err = exe.Run(ctx, socketsCommand(pid)+" || true")
		if err != nil {
			return Verdict{}, err
		}
		return EvaluateDescriptors(CountTCPSockets(out), limit, c.Limits.FDWarningPct, c.Limits.FDCriticalPct), nil
	})

	for i, slot := range slots {
		if slot.Err != nil {
			rec.Warning(fmt.Sprintf("Could not count sockets of %s: %v", jobs[i], slot.Err), result.CodeArakoonFDFailed)
			continue
		}
		rec.Record(slot.Value.Severity, slot.Value.Code, fmt.Sprintf("%s: %s", jobs[i], slot.Value.Message))
	}
	return nil
}

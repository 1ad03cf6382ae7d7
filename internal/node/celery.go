package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// celeryTest pings the task workers through the celery control channel.
func (c *Checker) celeryTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	ctx, cancel := context.WithTimeout(ctx, c.Limits.CeleryTimeout)
	defer cancel()

	secs := fmt.Sprintf("%.0f", c.Limits.CeleryTimeout.Seconds())
	out, err := c.Runner.Command(ctx, "celery", "-A", "ovs.celery_run", "inspect", "ping", "--timeout", secs)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		rec.Warning(fmt.Sprintf("The task workers did not answer within %s", c.Limits.CeleryTimeout), result.CodeCeleryUnreachable)
	case err != nil:
		rec.Failure(fmt.Sprintf("Unable to ping the task workers: %v", err), result.CodeCeleryUnreachable)
	default:
		n := CountPongs(string(out))
		if n == 0 {
			rec.Failure("No task worker answered", result.CodeCeleryUnreachable)
			return nil
		}
		rec.Success(fmt.Sprintf("%d task workers answered", n), result.CodeCeleryOK)
	}
	return nil
}

// CountPongs counts the workers that replied pong in `celery inspect ping`
// output.
func CountPongs(out string) int {
	return strings.Count(out, "pong")
}

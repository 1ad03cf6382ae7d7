package arakoon

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

func (c *Checker) portsTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	portOpen := c.PortOpen
	if portOpen == nil {
		portOpen = probe.CheckPortConnection
	}

	jobs := nodeJobs(c.clusters(ctx, rec))
	slots := probe.RunQueue(ctx, c.Limits.Workers, jobs, func(ctx context.Context, j nodeJob) (bool, error) {
		return portOpen(ctx, j.Node.IP, j.Node.ClientPort), nil
	})

	for i, slot := range slots {
		j := jobs[i]
		switch {
		case slot.Err != nil:
			rec.Warning(fmt.Sprintf("Could not probe port %d of %s: %v", j.Node.ClientPort, j, slot.Err), result.CodeArakoonPortError)
		case slot.Value:
			rec.Success(fmt.Sprintf("Port %d of %s is reachable", j.Node.ClientPort, j), result.CodeArakoonPortOK)
		default:
			rec.Failure(fmt.Sprintf("Port %d of %s is not reachable", j.Node.ClientPort, j), result.CodeArakoonPortClosed)
		}
	}
	return nil
}

func (c *Checker) integrityTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	var g errgroup.Group
	g.SetLimit(max(c.Limits.Workers, 1))
	for _, cfg := range c.clusters(ctx, rec) {
		g.Go(func() error {
			c.integrity(ctx, rec, cfg)
			return nil
		})
	}
	return g.Wait()
}

// integrity issues one no-op under the per-cluster deadline. A deadline is a
// warning; nothing is propagated.
func (c *Checker) integrity(ctx context.Context, rec *result.Recorder, cfg ClusterConfig) {
	timeout := c.Limits.IntegrityTimeout
	if timeout <= 0 {
		timeout = DefaultLimits().IntegrityTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.Client.Nop(cctx, cfg)
	sev, code, msg := ClassifyNop(cfg.Name, err, cctx.Err())
	rec.Record(sev, code, msg)
}

// ClassifyNop maps the outcome of a no-op onto a result entry. ctxErr is the
// state of the per-cluster deadline when the call returned.
func ClassifyNop(cluster string, err, ctxErr error) (result.Severity, result.Code, string) {
	switch {
	case err == nil:
		return result.Success, result.CodeArakoonResponded, fmt.Sprintf("Cluster %s responded", cluster)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctxErr, context.DeadlineExceeded):
		return result.Warning, result.CodeArakoonTimeout, fmt.Sprintf("Cluster %s did not respond in time", cluster)
	case errors.Is(err, ErrNoMaster):
		return result.Failure, result.CodeArakoonNoMaster, fmt.Sprintf("Cluster %s has no master", cluster)
	case errors.Is(err, ErrDown):
		return result.Failure, result.CodeArakoonDown, fmt.Sprintf("Cluster %s is down: %v", cluster, err)
	default:
		return result.Exception, result.CodeArakoonUnhandled, fmt.Sprintf("Cluster %s: unhandled error: %v", cluster, err)
	}
}

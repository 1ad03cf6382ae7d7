package alba

import (
	"context"
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

func (c *Checker) nsmLoadTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	maxLoad, err := registry.GetInt(ctx, c.Registry, c.Paths.NSMMaxLoad())
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to read the maximum namespace-manager load: %v", err), result.CodeNSMLoadFailed)
		return nil
	}
	backends, err := c.Model.AlbaBackends(ctx)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list backends: %v", err), result.CodeBackendListFailed)
		return nil
	}

	for _, b := range backends {
		if len(b.NSMClusters) == 0 {
			rec.Skip(fmt.Sprintf("Backend %s has no namespace-manager clusters", b.Name), result.CodeNSMNone)
			continue
		}
		minLoad, err := c.minNSMLoad(ctx, b)
		if err != nil {
			rec.Warning(fmt.Sprintf("Unable to compute namespace-manager load of backend %s: %v", b.Name, err), result.CodeNSMLoadFailed)
			continue
		}
		f := EvaluateNSMLoad(b, minLoad, maxLoad)
		rec.Record(f.Severity, f.Code, f.Message)
	}
	return nil
}

func (c *Checker) minNSMLoad(ctx context.Context, b platform.AlbaBackend) (float64, error) {
	minLoad := math.Inf(1)
	for _, nsm := range b.NSMClusters {
		load, err := c.Model.NSMLoad(ctx, b.GUID, nsm.Name)
		if err != nil {
			return 0, fmt.Errorf("cluster %s: %w", nsm.Name, err)
		}
		minLoad = math.Min(minLoad, load)
	}
	return minLoad, nil
}

// EvaluateNSMLoad grades the least loaded namespace manager of a backend.
// Overload is a warning when the framework manages every cluster itself and
// will add capacity, and a failure otherwise.
func EvaluateNSMLoad(b platform.AlbaBackend, minLoad float64, maxLoad int) Finding {
	if minLoad <= float64(maxLoad) {
		return Finding{result.Success, result.CodeNSMLoadOK,
			fmt.Sprintf("Backend %s has namespace-manager capacity, lowest load %.1f%% of max %d%%", b.Name, minLoad, maxLoad)}
	}
	internal := lo.EveryBy(b.NSMClusters, func(n platform.NSMCluster) bool { return n.Internal })
	if internal {
		return Finding{result.Warning, result.CodeNSMLoadInternal,
			fmt.Sprintf("Backend %s namespace managers are overloaded (%.1f%% > %d%%), the framework will deploy a new one", b.Name, minLoad, maxLoad)}
	}
	return Finding{result.Failure, result.CodeNSMLoadExternal,
		fmt.Sprintf("Backend %s namespace managers are overloaded (%.1f%% > %d%%), add a cluster manually", b.Name, minLoad, maxLoad)}
}

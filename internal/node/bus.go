package node

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// busTest only runs on master nodes; the bus members live there.
func (c *Checker) busTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	sr, err := platform.LocalStorageRouter(ctx, c.Model, c.Node.ID)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to look up this node: %v", err), result.CodeBusQueryFailed)
		return nil
	}
	if !sr.IsMaster() {
		rec.Skip(fmt.Sprintf("%s is not a master node", sr.Name), result.CodeBusNotMaster)
		return nil
	}
	parts, err := c.Bus.Partitions(ctx)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to query the message bus: %v", err), result.CodeBusQueryFailed)
		return nil
	}
	if len(parts) == 0 {
		rec.Success("The message bus has no partitions", result.CodeBusNoPartitions)
		return nil
	}
	members := lo.Keys(parts)
	sort.Strings(members)
	for _, m := range members {
		rec.Failure(fmt.Sprintf("Bus member %s is partitioned from %s", m, strings.Join(parts[m], ", ")), result.CodeBusPartitions)
	}
	return nil
}

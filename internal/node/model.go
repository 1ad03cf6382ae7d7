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
	"github.com/darshan-rambhia/healthcheck/internal/volumedriver"
)

// modelTest compares, per local vpool, the volumes the data model knows with
// the volumes the volume-driver serves.
func (c *Checker) modelTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	sr, drivers, err := volumedriver.LocalDrivers(ctx, c.Model, c.Node.ID)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to determine the local vpools: %v", err), result.CodeModelQueryFailed)
		return nil
	}
	if len(drivers) == 0 {
		rec.Skip(fmt.Sprintf("No vpool is served by %s", sr.Name), result.CodeNoLocalVPools)
		return nil
	}
	for _, sd := range drivers {
		modelIDs, driverIDs, err := c.volumeSets(ctx, sd)
		if err != nil {
			rec.Failure(fmt.Sprintf("Unable to list the volumes of vpool %s: %v", sd.VPoolName, err), result.CodeModelQueryFailed)
			continue
		}
		for _, f := range CompareVolumes(sd.VPoolName, modelIDs, driverIDs) {
			rec.Record(f.Severity, f.Code, f.Message)
		}
	}
	return nil
}

func (c *Checker) volumeSets(ctx context.Context, sd platform.StorageDriver) (model, driver []string, err error) {
	disks, err := c.Model.VDisks(ctx, sd.VPoolGUID)
	if err != nil {
		return nil, nil, fmt.Errorf("data model: %w", err)
	}
	model = lo.Map(disks, func(d platform.VDisk, _ int) string { return d.VolumeID })

	cl, err := c.Drivers(sd)
	if err != nil {
		return nil, nil, fmt.Errorf("volume-driver %s: %w", sd.StorageDriverID, err)
	}
	defer cl.Close()
	driver, err = cl.ListVolumes(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("volume-driver %s: %w", sd.StorageDriverID, err)
	}
	return model, driver, nil
}

// Finding is one result of a node check.
type Finding struct {
	Severity result.Severity
	Code     result.Code
	Message  string
}

// CompareVolumes reports the symmetric difference of the two volume sets.
func CompareVolumes(vpool string, model, driver []string) []Finding {
	onlyModel, onlyDriver := lo.Difference(lo.Uniq(model), lo.Uniq(driver))
	if len(onlyModel) == 0 && len(onlyDriver) == 0 {
		return []Finding{{result.Success, result.CodeModelConsistent,
			fmt.Sprintf("The volumes of vpool %s match the volume-driver", vpool)}}
	}
	var out []Finding
	if len(onlyModel) > 0 {
		sort.Strings(onlyModel)
		out = append(out, Finding{result.Warning, result.CodeModelNotInDriver,
			fmt.Sprintf("Vpool %s: volumes in the model but not in the volume-driver: %s", vpool, strings.Join(onlyModel, ", "))})
	}
	if len(onlyDriver) > 0 {
		sort.Strings(onlyDriver)
		out = append(out, Finding{result.Warning, result.CodeDriverNotInModel,
			fmt.Sprintf("Vpool %s: volumes in the volume-driver but not in the model: %s", vpool, strings.Join(onlyDriver, ", "))})
	}
	return out
}

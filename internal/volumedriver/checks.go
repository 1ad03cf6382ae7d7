package volumedriver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Module is the CLI name of this module.
const Module = "volumedriver"

// Limits holds the thresholds of the volume checks.
type Limits struct {
	InfoVolumeTimeout time.Duration
	CriticalVolNumber int
}

// DefaultLimits mirrors the config defaults.
func DefaultLimits() Limits {
	return Limits{InfoVolumeTimeout: 5 * time.Second, CriticalVolNumber: 25}
}

// Checker carries the collaborators shared by the volume checks.
type Checker struct {
	Model  platform.Model
	NodeID string
	Dial   Dialer
	Limits Limits
	Logger *slog.Logger
}

// Register adds the volume checks to reg.
func Register(reg *check.Registry, c *Checker) {
	reg.MustRegister(c.Checks()...)
}

// Checks returns the volume checks bound to c.
func (c *Checker) Checks() []check.Check {
	return []check.Check{
		check.NodeCheck(Module, "dtl-test", c.dtlTest).
			Describe("Report the DTL state of every local volume"),
		check.NodeCheck(Module, "halted-volumes-test", c.haltedTest).
			Describe("Find halted and fenced volumes on the local volume-drivers"),
		check.NodeCheck(Module, "volume-potential-test", c.potentialTest).
			Describe("Verify the local volume-drivers can host more volumes").
			WithOptions(check.OptionSpec{
				Name:    "critical-vol-number",
				Default: fmt.Sprint(c.Limits.CriticalVolNumber),
				Help:    "volume potential below which a warning is raised",
			}),
		check.NodeCheck(Module, "mountpoint-test", c.mountpointTest).
			Describe("Verify the cache mountpoints of the local volume-drivers are online"),
	}
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// localDrivers resolves the drivers of this node. It records a skip or a
// failure and returns nil when there is nothing to inspect.
func (c *Checker) localDrivers(ctx context.Context, rec *result.Recorder) (platform.StorageRouter, []platform.StorageDriver) {
	sr, drivers, err := LocalDrivers(ctx, c.Model, c.NodeID)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to determine the local vpools: %v", err), result.CodeVPoolListFailed)
		return sr, nil
	}
	if len(drivers) == 0 {
		rec.Skip(fmt.Sprintf("No vpool is served by %s", sr.Name), result.CodeNoLocalVPools)
	}
	return sr, drivers
}

// withClient dials sd, runs fn and closes the client.
func (c *Checker) withClient(sd platform.StorageDriver, fn func(Client) error) error {
	cl, err := c.Dial(sd)
	if err != nil {
		return err
	}
	defer func() {
		if err := cl.Close(); err != nil {
			c.logger().Debug("closing volume-driver client", "driver", sd.StorageDriverID, "error", err)
		}
	}()
	return fn(cl)
}

// dtlTest reads the DTL state the data model holds for every local volume.
func (c *Checker) dtlTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	sr, drivers := c.localDrivers(ctx, rec)
	for _, sd := range drivers {
		disks, err := c.Model.VDisks(ctx, sd.VPoolGUID)
		if err != nil {
			rec.Failure(fmt.Sprintf("Unable to list the volumes of vpool %s: %v", sd.VPoolName, err), result.CodeDTLListFailed)
			continue
		}
		local := 0
		for _, d := range disks {
			if d.StorageRouterGUID != sr.GUID {
				continue
			}
			local++
			sev, code, state := EvaluateDTL(d.DTLStatus)
			rec.Record(sev, code, fmt.Sprintf("Volume %s of vpool %s: DTL %s", d.Name, sd.VPoolName, state))
		}
		if local == 0 {
			rec.Skip(fmt.Sprintf("Vpool %s has no volumes on this node", sd.VPoolName), result.CodeDTLStandalone)
		}
	}
	return nil
}

// EvaluateDTL maps a DTL status onto a result.
func EvaluateDTL(status string) (result.Severity, result.Code, string) {
	switch status {
	case "ok_standalone", "disabled":
		return result.Success, result.CodeDTLStandalone, "runs standalone"
	case "ok_sync":
		return result.Success, result.CodeDTLOK, "is in sync"
	case "degraded":
		return result.Warning, result.CodeDTLDegraded, "is degraded"
	case "checkup_required":
		return result.Warning, result.CodeDTLCheckupRequired, "requires a checkup"
	case "catch_up":
		return result.Warning, result.CodeDTLCatchingUp, "is catching up"
	}
	return result.Warning, result.CodeDTLUnknown, fmt.Sprintf("is in unknown state %q", status)
}

func (c *Checker) potentialTest(ctx context.Context, rec *result.Recorder, opts check.Options) error {
	critical := opts.Int("critical-vol-number", c.Limits.CriticalVolNumber)
	_, drivers := c.localDrivers(ctx, rec)
	for _, sd := range drivers {
		var n int
		err := c.withClient(sd, func(cl Client) error {
			var err error
			n, err = cl.VolumePotential(ctx, sd.StorageDriverID)
			return err
		})
		if err != nil {
			rec.Warning(fmt.Sprintf("Unable to read the volume potential of %s: %v", sd.StorageDriverID, err), result.CodeVolumePotentialFailed)
			continue
		}
		sev, code := EvaluatePotential(n, critical)
		rec.Record(sev, code, fmt.Sprintf("Volume-driver %s of vpool %s can host %d more volumes", sd.StorageDriverID, sd.VPoolName, n))
	}
	return nil
}

// EvaluatePotential grades how many more volumes a driver can host.
func EvaluatePotential(n, critical int) (result.Severity, result.Code) {
	switch {
	case n >= critical:
		return result.Success, result.CodeVolumePotentialOK
	case n > 0:
		return result.Warning, result.CodeVolumePotentialLow
	}
	return result.Failure, result.CodeVolumePotentialZero
}

func (c *Checker) mountpointTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	_, drivers := c.localDrivers(ctx, rec)
	for _, sd := range drivers {
		var mps []Mountpoint
		err := c.withClient(sd, func(cl Client) error {
			var err error
			mps, err = cl.Mountpoints(ctx, sd.StorageDriverID)
			return err
		})
		if err != nil {
			rec.Warning(fmt.Sprintf("Unable to query the cache mountpoints of %s: %v", sd.StorageDriverID, err), result.CodeMountpointFailed)
			continue
		}
		for _, mp := range mps {
			if mp.Offline {
				rec.Warning(fmt.Sprintf("Mountpoint %s of %s is offline", mp.Path, sd.StorageDriverID), result.CodeMountpointOffline)
				continue
			}
			rec.Success(fmt.Sprintf("Mountpoint %s of %s is online", mp.Path, sd.StorageDriverID), result.CodeMountpointOnline)
		}
	}
	return nil
}

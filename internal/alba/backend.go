package alba

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// OSD is an OSD of a backend together with its configured port. A zero Port
// means the disk is missing.
type OSD struct {
	platform.AlbaOSD
	Port int
}

// Endpoint returns the address the OSD listens on.
func (o OSD) Endpoint() Endpoint {
	host := ""
	if len(o.IPs) > 0 {
		host = o.IPs[0]
	}
	return Endpoint{Host: host, Port: o.Port}
}

// Backend is a backend with its OSD ports resolved.
type Backend struct {
	platform.AlbaBackend
	Available bool
	OSDs      []OSD
}

// Backends lists every backend and resolves each OSD's port. An OSD without
// a port is kept with Port zero and reported as a failure.
func (c *Checker) Backends(ctx context.Context, rec *result.Recorder) ([]Backend, error) {
	raw, err := c.Model.AlbaBackends(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing backends: %w", err)
	}
	out := make([]Backend, 0, len(raw))
	for _, b := range raw {
		be := Backend{AlbaBackend: b, Available: b.AvailableForVPool()}
		for _, o := range b.OSDs {
			osd := OSD{AlbaOSD: o}
			port, err := registry.GetInt(ctx, c.Registry, c.Paths.OSDPort(o.OSDID))
			switch {
			case errors.Is(err, registry.ErrKeyNotFound):
				rec.Failure(fmt.Sprintf("OSD %s of backend %s has no port configured", o.OSDID, b.Name), result.CodeOSDPortMissing)
			case err != nil:
				return nil, fmt.Errorf("reading port of OSD %s: %w", o.OSDID, err)
			default:
				osd.Port = port
			}
			be.OSDs = append(be.OSDs, osd)
		}
		out = append(out, be)
	}
	return out, nil
}

// osdOutcome is the round-trip result of one OSD. Detail is empty for a
// working OSD.
type osdOutcome struct {
	OSD    OSD
	Detail string
}

func (c *Checker) backendTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	backends, err := c.Backends(ctx, rec)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list backends: %v", err), result.CodeBackendListFailed)
		return nil
	}

	for _, b := range backends {
		if !b.IsLocal() {
			rec.Info(fmt.Sprintf("Backend %s is %s, skipping OSD round-trips", b.Name, strings.ToLower(b.Scaling)), result.CodeUnspecified)
			continue
		}
		var owned []OSD
		for _, o := range b.OSDs {
			if o.AlbaBackendGUID != "" && o.AlbaBackendGUID != b.GUID {
				c.logger().Debug("OSD belongs to another backend", "osd", o.OSDID, "backend", b.Name, "owner", o.AlbaBackendGUID)
				continue
			}
			owned = append(owned, o)
		}

		slots := probe.RunQueue(ctx, c.Limits.Workers, owned, c.roundTrip)
		var broken []string
		working := 0
		for i, slot := range slots {
			o := owned[i]
			detail := slot.Value.Detail
			if slot.Err != nil {
				detail = slot.Err.Error()
			}
			if detail == "" {
				working++
				rec.Success(fmt.Sprintf("OSD %s of backend %s is working", o.OSDID, b.Name), result.CodeOSDOK)
				continue
			}
			broken = append(broken, o.OSDID)
			rec.Warning(fmt.Sprintf("OSD %s of backend %s is broken: %s", o.OSDID, b.Name, detail), result.CodeOSDBroken)
		}
		recordBackend(rec, b, len(owned), working, broken)
	}
	return nil
}

// recordBackend applies the backend roll-up rules.
func recordBackend(rec *result.Recorder, b Backend, total, working int, broken []string) {
	switch {
	case b.Available && len(broken) == 0:
		rec.Success(fmt.Sprintf("Backend %s is available for vpool use with %d OSDs", b.Name, working), result.CodeBackendOK)
	case b.Available:
		rec.Warning(fmt.Sprintf("Backend %s is available for vpool use with %d OSDs, but %d defective: %s",
			b.Name, working, len(broken), strings.Join(broken, ", ")), result.CodeBackendOSDsBroken)
	case total == 0:
		rec.Skip(fmt.Sprintf("Backend %s has no OSDs", b.Name), result.CodeBackendNoOSDs)
	default:
		rec.Failure(fmt.Sprintf("Backend %s is not available for vpool use, preset requirements not satisfied", b.Name), result.CodeBackendPresetUnmet)
	}
}

// roundTrip writes, reads back and deletes a fresh key on one OSD. A non
// empty Detail marks the OSD broken.
func (c *Checker) roundTrip(ctx context.Context, o OSD) (osdOutcome, error) {
	out := osdOutcome{OSD: o}
	switch {
	case o.Status == platform.OSDStatusError:
		out.Detail = o.StatusDetail
		if out.Detail == "" {
			out.Detail = "error"
		}
		return out, nil
	case o.Port == 0:
		out.Detail = "disk_missing"
		return out, nil
	}

	ep := o.Endpoint()
	key := HealthcheckPrefix + uuid.NewString()
	value := time.Now().UTC().Format(time.RFC3339Nano)

	if err := c.CLI.ASDSet(ctx, ep, key, value); err != nil {
		out.Detail = fmt.Sprintf("set failed: %v", err)
		return out, nil
	}
	got, ok, err := c.CLI.ASDGet(ctx, ep, key)
	switch {
	case err != nil:
		out.Detail = fmt.Sprintf("get failed: %v", err)
	case !ok:
		out.Detail = "get returned nothing"
	case got != value:
		out.Detail = "get returned a different value"
	}
	if err := c.CLI.ASDDelete(ctx, ep, key); err != nil && out.Detail == "" {
		out.Detail = fmt.Sprintf("delete failed: %v", err)
	}
	return out, nil
}

package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

func (c *Checker) localSettingsTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	clusterID, err := registry.GetString(ctx, c.Registry, c.Paths.ClusterID())
	if err != nil {
		rec.Warning(fmt.Sprintf("Unable to read the cluster id: %v", err), result.CodeLocalSettings)
	} else {
		rec.Info("Cluster ID: "+clusterID, result.CodeLocalSettings)
	}
	rec.Info("Node ID: "+c.Node.ID, result.CodeLocalSettings)
	rec.Info("Hostname: "+c.Node.Hostname, result.CodeLocalSettings)
	rec.Info("IP: "+c.Node.IP, result.CodeLocalSettings)

	sr, err := platform.LocalStorageRouter(ctx, c.Model, c.Node.ID)
	if err != nil {
		rec.Warning(fmt.Sprintf("Unable to look up this node in the data model: %v", err), result.CodeLocalSettings)
		return nil
	}
	rec.Info("Node type: "+sr.NodeType, result.CodeLocalSettings)
	return nil
}

func (c *Checker) packagesTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	for _, pkg := range c.Probes.Packages {
		out, err := c.Runner.Command(ctx, "dpkg-query", "-W", "-f=${Status} ${Version}", pkg)
		status := strings.TrimSpace(string(out))
		if err != nil || !strings.HasPrefix(status, "install ok installed") {
			rec.Failure(fmt.Sprintf("Package %s is not installed", pkg), result.CodePackageMissing)
			continue
		}
		version := strings.TrimSpace(strings.TrimPrefix(status, "install ok installed"))
		rec.Success(fmt.Sprintf("Package %s %s is installed", pkg, version), result.CodePackageInstalled)
	}
	return nil
}

func (c *Checker) servicesTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	for _, svc := range c.Probes.Services {
		// is-active exits non-zero for anything but active; the state is
		// still on stdout.
		out, _ := c.Runner.Command(ctx, "systemctl", "is-active", svc)
		state := strings.TrimSpace(string(out))
		if state == "active" {
			rec.Success(fmt.Sprintf("Service %s is active", svc), result.CodeServiceRunning)
			continue
		}
		if state == "" {
			state = "unknown"
		}
		rec.Failure(fmt.Sprintf("Service %s is %s", svc, state), result.CodeServiceNotRunning)
	}
	return nil
}

func (l Limits) maxLogSizeMB() string { return strconv.FormatInt(l.MaxLogSize>>20, 10) }

func (c *Checker) logFilesTest(ctx context.Context, rec *result.Recorder, opts check.Options) error {
	limit := int64(opts.Int("max-log-size", int(c.Limits.MaxLogSize>>20))) << 20
	for _, dir := range c.Probes.LogDirs {
		big, err := LargeFiles(dir, limit)
		if err != nil {
			rec.Warning(fmt.Sprintf("Unable to scan %s: %v", dir, err), result.CodeLogSizeTooBig)
			continue
		}
		if len(big) == 0 {
			rec.Success(fmt.Sprintf("No file in %s exceeds %d MB", dir, limit>>20), result.CodeLogSizeOK)
			continue
		}
		for _, f := range big {
			rec.Warning(fmt.Sprintf("%s is %d MB, above %d MB", f.Path, f.Size>>20, limit>>20), result.CodeLogSizeTooBig)
		}
	}
	return ctx.Err()
}

// SizedFile is a file with its size in bytes.
type SizedFile struct {
	Path string
	Size int64
}

// LargeFiles walks dir and returns the regular files larger than limit.
func LargeFiles(dir string, limit int64) ([]SizedFile, error) {
	var out []SizedFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > limit {
			out = append(out, SizedFile{Path: path, Size: info.Size()})
		}
		return nil
	})
	return out, err
}

func (c *Checker) directoriesTest(_ context.Context, rec *result.Recorder, _ check.Options) error {
	for _, d := range c.Probes.Directories {
		info, err := os.Stat(d.Path)
		if errors.Is(err, fs.ErrNotExist) {
			rec.Failure(fmt.Sprintf("Directory %s does not exist", d.Path), result.CodeDirMissing)
			continue
		}
		if err != nil {
			rec.Failure(fmt.Sprintf("Unable to stat %s: %v", d.Path, err), result.CodeDirMissing)
			continue
		}
		got := uint32(info.Mode().Perm())
		if !info.IsDir() || got != d.Mode {
			rec.Failure(fmt.Sprintf("Directory %s has mode %#o, expected %#o", d.Path, got, d.Mode), result.CodeDirPermissionsWrong)
			continue
		}
		rec.Success(fmt.Sprintf("Directory %s has mode %#o", d.Path, got), result.CodeDirPermissionsOK)
	}
	return nil
}

func (c *Checker) dnsTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	var r probe.Resolver = net.DefaultResolver
	if c.Resolver != nil {
		r = c.Resolver
	}
	for _, name := range c.Probes.DNSNames {
		addrs, err := r.LookupHost(ctx, name)
		if err != nil || len(addrs) == 0 {
			rec.Failure(fmt.Sprintf("%s does not resolve", name), result.CodeDNSFailed)
			continue
		}
		rec.Success(fmt.Sprintf("%s resolves to %s", name, strings.Join(addrs, ", ")), result.CodeDNSOK)
	}
	return nil
}

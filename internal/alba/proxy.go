package alba

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// Round-trip steps. A failing step selects the error code.
const (
	stepCreateNamespace = "create-namespace"
	stepShowNamespace   = "show-namespace"
	stepUploadObject    = "upload-object"
	stepDownloadObject  = "download-object"
)

var stepCodes = map[string]result.Code{
	stepCreateNamespace: result.CodeProxyCreateNamespace,
	stepShowNamespace:   result.CodeProxyShowNamespace,
	stepUploadObject:    result.CodeProxyUpload,
	stepDownloadObject:  result.CodeProxyDownload,
}

var errNamespaceTimeout = errors.New("namespace did not become ready")

// StepError ties a failure to the round-trip step that raised it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// Code returns the error code of the failed step.
func (e *StepError) Code() result.Code {
	if errors.Is(e.Err, errNamespaceTimeout) {
		return result.CodeProxyNamespaceTimeout
	}
	if c, ok := stepCodes[e.Step]; ok {
		return c
	}
	return result.CodeUnhandledException
}

func stepErr(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}

// NamespacePrefix is the prefix of the namespaces this node creates for preset.
func NamespacePrefix(preset, nodeID string) string {
	return fmt.Sprintf("%sns-%s-%s_", HealthcheckPrefix, preset, nodeID)
}

// proxyRun is one proxy under test.
type proxyRun struct {
	Service  platform.Service
	Endpoint Endpoint
	Config   string
	Backend  string
}

func (c *Checker) proxyTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	sr, err := platform.LocalStorageRouter(ctx, c.Model, c.NodeID)
	if err != nil {
		return fmt.Errorf("finding local storage router: %w", err)
	}
	services, err := c.Model.Services(ctx, sr.GUID)
	if err != nil {
		return fmt.Errorf("listing services of %s: %w", sr.Name, err)
	}

	var proxies []platform.Service
	for _, s := range services {
		if s.Type == platform.ServiceTypeAlbaProxy && len(s.Ports) > 0 {
			proxies = append(proxies, s)
		}
	}
	if len(proxies) == 0 {
		rec.Skip(fmt.Sprintf("No proxies found on %s", sr.Name), result.CodeNoProxies)
		return nil
	}

	backends, err := c.Model.AlbaBackends(ctx)
	if err != nil {
		return fmt.Errorf("listing backends: %w", err)
	}

	for _, svc := range proxies {
		// The parent logs the merged entries.
		child := result.NewAggregator(slog.New(slog.DiscardHandler))
		c.testProxy(ctx, child, svc, backends)
		rec.Aggregator().Merge(child, rec.Test())
	}
	return nil
}

// testProxy records one entry set per in-use preset into agg, keyed by
// "<proxy> <preset>".
func (c *Checker) testProxy(ctx context.Context, agg *result.Aggregator, svc platform.Service, backends []platform.AlbaBackend) {
	run := proxyRun{Service: svc, Endpoint: Endpoint{Host: "127.0.0.1", Port: svc.Ports[0]}}
	rec := agg.For(svc.Name)

	cfg, err := c.CLI.ProxyClientConfig(ctx, run.Endpoint)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to read the client config of %s: %v", svc.Name, err), result.CodeProxyConfig)
		return
	}
	run.Config = c.configURL(cfg.ClusterID)
	for _, b := range backends {
		if b.ABMCluster == cfg.ClusterID {
			run.Backend = b.GUID
			break
		}
	}

	presets, err := c.CLI.ListPresets(ctx, run.Config)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list presets behind %s: %v", svc.Name, err), result.CodeProxyConfig)
		return
	}
	tested := 0
	for _, p := range presets {
		if !p.InUse {
			continue
		}
		tested++
		c.testPreset(ctx, agg.For(svc.Name+" "+p.Name), run, p.Name)
	}
	if tested == 0 {
		rec.Skip(fmt.Sprintf("No preset in use behind %s", svc.Name), result.CodeProxyNoPresets)
	}
}

func (c *Checker) testPreset(ctx context.Context, rec *result.Recorder, run proxyRun, preset string) {
	id := uuid.NewString()
	prefix := NamespacePrefix(preset, c.NodeID)
	namespace := prefix + id
	object := HealthcheckPrefix + "obj-" + id

	files := &testFiles{dir: c.TempDir}
	defer func() {
		files.remove()
		c.cleanup(ctx, rec, run, prefix)
	}()

	err := c.namespaceRoundTrip(ctx, rec, run, preset, namespace, object, files)
	var se *StepError
	switch {
	case err == nil:
	case errors.As(err, &se):
		rec.Failure(fmt.Sprintf("Preset %s through %s failed at %s", preset, run.Service.Name, se), se.Code())
	default:
		rec.Exception(fmt.Sprintf("Preset %s through %s: %v", preset, run.Service.Name, err), result.CodeUnhandledException)
	}
}

func (c *Checker) namespaceRoundTrip(ctx context.Context, rec *result.Recorder, run proxyRun, preset, namespace, object string, files *testFiles) error {
	if err := c.CLI.ProxyCreateNamespace(ctx, run.Endpoint, namespace, preset); err != nil {
		return stepErr(stepCreateNamespace, err)
	}
	if err := c.waitReady(ctx, rec, run, preset, namespace); err != nil {
		return err
	}

	info, err := c.CLI.ShowNamespace(ctx, run.Config, namespace)
	if err != nil {
		return stepErr(stepShowNamespace, err)
	}
	if missing := MissingNamespaceFields(info); len(missing) > 0 {
		rec.Failure(fmt.Sprintf("Namespace %s lacks metadata fields %s", namespace, strings.Join(missing, ", ")), result.CodeProxyMetadata)
		return nil
	}

	upload, err := files.create(c.Limits.TestFileSize)
	if err != nil {
		return err
	}
	download := files.reserve()
	if err := c.CLI.ProxyUploadObject(ctx, run.Endpoint, namespace, upload, object); err != nil {
		return stepErr(stepUploadObject, err)
	}
	if err := c.CLI.ProxyDownloadObject(ctx, run.Endpoint, namespace, object, download); err != nil {
		return stepErr(stepDownloadObject, err)
	}

	same, err := sameContent(upload, download)
	if err != nil {
		return stepErr(stepDownloadObject, err)
	}
	if !same {
		rec.Failure(fmt.Sprintf("Object read back through %s differs from the one written", run.Service.Name), result.CodeProxyHashMismatch)
		return nil
	}
	rec.Success(fmt.Sprintf("Namespace and object round-trip through %s succeeded", run.Service.Name), result.CodeProxyOK)
	return nil
}

// waitReady waits until every OSD of the namespace is active. When the wait
// times out, a preset the data model reports available is still accepted.
func (c *Checker) waitReady(ctx context.Context, rec *result.Recorder, run proxyRun, preset, namespace string) error {
	wctx, cancel := context.WithTimeout(ctx, c.Limits.NamespaceTimeout)
	defer cancel()

	ready := c.readyProbe(run, namespace)
	if _, direct := c.CLI.(NamespaceReadyChecker); !direct {
		for range 2 {
			if err := c.CLI.DeliverMessages(wctx, run.Config); err != nil {
				c.logger().Debug("delivering messages failed", "namespace", namespace, "error", err)
			}
		}
	}

	err := poll(wctx, c.Limits.PollInterval, ready)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case !errors.Is(err, context.DeadlineExceeded):
		return stepErr(stepShowNamespace, err)
	}

	if run.Backend != "" {
		available, aerr := c.Model.PresetAvailable(ctx, run.Backend, preset)
		if aerr == nil && available {
			rec.Info(fmt.Sprintf("Namespace %s not ready after %s but preset %s is available, continuing", namespace, c.Limits.NamespaceTimeout, preset), result.CodeUnspecified)
			return nil
		}
	}
	return stepErr(stepShowNamespace, fmt.Errorf("%w within %s", errNamespaceTimeout, c.Limits.NamespaceTimeout))
}

func (c *Checker) readyProbe(run proxyRun, namespace string) func(context.Context) (bool, error) {
	if rc, ok := c.CLI.(NamespaceReadyChecker); ok {
		return func(ctx context.Context) (bool, error) {
			return rc.NamespaceReady(ctx, run.Endpoint, namespace)
		}
	}
	return func(ctx context.Context) (bool, error) {
		osds, err := c.CLI.ListNamespaceOSDs(ctx, run.Config, namespace)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			// The manager may not know the namespace yet.
			return false, nil
		}
		return AllActive(osds), nil
	}
}

// AllActive reports whether osds is non-empty and fully active.
func AllActive(osds []NamespaceOSD) bool {
	if len(osds) == 0 {
		return false
	}
	for _, o := range osds {
		if o.State != OSDStateActive {
			return false
		}
	}
	return true
}

// poll calls fn every interval until it reports done, fails, or ctx ends.
func poll(ctx context.Context, interval time.Duration, fn func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = DefaultLimits().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// MissingNamespaceFields returns the expected metadata fields that are
// absent or of the wrong type.
func MissingNamespaceFields(info map[string]any) []string {
	var missing []string
	want := []struct {
		name string
		list bool
	}{
		{"bucket_count", true},
		{"logical", false},
		{"storage", false},
		{"storage_per_osd", true},
	}
	for _, w := range want {
		v, ok := info[w.name]
		if !ok {
			missing = append(missing, w.name)
			continue
		}
		switch v.(type) {
		case []any:
			if !w.list {
				missing = append(missing, w.name)
			}
		case float64:
			if w.list {
				missing = append(missing, w.name)
			}
		default:
			missing = append(missing, w.name)
		}
	}
	return missing
}

// cleanup deletes every namespace this node left behind for the preset and
// waits for each deletion to become visible. It runs on its own deadline so
// an expired check context still cleans up.
func (c *Checker) cleanup(ctx context.Context, rec *result.Recorder, run proxyRun, prefix string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.Limits.CleanupTimeout)
	defer cancel()

	namespaces, err := c.CLI.ListNamespaces(cctx, run.Config)
	if err != nil {
		rec.Warning(fmt.Sprintf("Unable to list namespaces for cleanup: %v", err), result.CodeProxyCleanup)
		return
	}
	for _, ns := range namespaces {
		if !strings.HasPrefix(ns.Name, prefix) {
			continue
		}
		if err := c.deleteNamespace(cctx, run, ns.Name); err != nil {
			rec.Warning(fmt.Sprintf("Unable to clean up namespace %s: %v", ns.Name, err), result.CodeProxyCleanup)
		}
	}
}

func (c *Checker) deleteNamespace(ctx context.Context, run proxyRun, namespace string) error {
	if err := c.CLI.ProxyDeleteNamespace(ctx, run.Endpoint, namespace); err != nil && !IsNamespaceNotFound(err) {
		return fmt.Errorf("deleting: %w", err)
	}
	err := poll(ctx, c.Limits.PollInterval, func(ctx context.Context) (bool, error) {
		_, err := c.CLI.ShowNamespace(ctx, run.Config, namespace)
		if IsNamespaceNotFound(err) {
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for deletion: %w", err)
	}
	if err := c.CLI.ProxyInvalidateNamespace(ctx, run.Endpoint, namespace); err != nil {
		return fmt.Errorf("invalidating proxy cache: %w", err)
	}
	return nil
}

// testFiles tracks the local files of one round-trip.
type testFiles struct {
	dir   string
	paths []string
}

// create writes size random bytes to a new file.
func (f *testFiles) create(size int64) (string, error) {
	fh, err := os.CreateTemp(f.dir, HealthcheckPrefix+"upload-*")
	if err != nil {
		return "", fmt.Errorf("creating test file: %w", err)
	}
	f.paths = append(f.paths, fh.Name())
	if _, err := io.CopyN(fh, rand.Reader, size); err != nil {
		fh.Close()
		return "", fmt.Errorf("writing test file: %w", err)
	}
	if err := fh.Close(); err != nil {
		return "", fmt.Errorf("writing test file: %w", err)
	}
	return fh.Name(), nil
}

// reserve returns a fresh path for the download, removed with the rest.
func (f *testFiles) reserve() string {
	dir := f.dir
	if dir == "" {
		dir = os.TempDir()
	}
	p := filepath.Join(dir, HealthcheckPrefix+"download-"+uuid.NewString())
	f.paths = append(f.paths, p)
	return p
}

func (f *testFiles) remove() {
	for _, p := range f.paths {
		os.Remove(p)
	}
	f.paths = nil
}

func fileHash(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	h := sha256.New()
	if _, err := io.Copy(h, fh); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

func sameContent(a, b string) (bool, error) {
	ha, err := fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(b)
	if err != nil {
		return false, err
	}
	return string(ha) == string(hb), nil
}

package alba

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/platform/platformtest"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/probe/probetest"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

var (
	discard   = slog.New(slog.NewTextHandler(io.Discard, nil))
	testPaths = registry.Paths{Root: "ovs", Consensus: "arakoon", Storage: "alba", Framework: "framework"}
)

// fakeCLI keeps OSD keys, namespaces and objects in memory.
type fakeCLI struct {
	mu sync.Mutex

	asd    map[Endpoint]map[string]string
	asdErr map[string]error // by host

	clusterID string
	presets   []platform.Preset

	namespaces map[string]bool
	objects    map[string][]byte
	osdsActive bool
	dropFields []string
	createErr  error
	uploadErr  error
	corrupt    bool
	delivered  int

	safety []NamespaceSafety
	maint  MaintenanceConfig

	configs []string
}

func newFakeCLI() *fakeCLI {
	return &fakeCLI{
		asd:        make(map[Endpoint]map[string]string),
		asdErr:     make(map[string]error),
		clusterID:  "mybackend-abm",
		namespaces: make(map[string]bool),
		objects:    make(map[string][]byte),
		osdsActive: true,
	}
}

func (f *fakeCLI) seen(config string) {
	f.configs = append(f.configs, config)
}

func (f *fakeCLI) ASDSet(_ context.Context, osd Endpoint, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.asdErr[osd.Host]; err != nil {
		return err
	}
	if f.asd[osd] == nil {
		f.asd[osd] = make(map[string]string)
	}
	f.asd[osd][key] = value
	return nil
}

func (f *fakeCLI) ASDGet(_ context.Context, osd Endpoint, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.asd[osd][key]
	return v, ok, nil
}

func (f *fakeCLI) ASDDelete(_ context.Context, osd Endpoint, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.asd[osd], key)
	return nil
}

func (f *fakeCLI) ProxyClientConfig(context.Context, Endpoint) (ProxyClientConfig, error) {
	return ProxyClientConfig{ClusterID: f.clusterID}, nil
}

func (f *fakeCLI) ProxyCreateNamespace(_ context.Context, _ Endpoint, namespace, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.namespaces[namespace] = true
	return nil
}

func (f *fakeCLI) ProxyDeleteNamespace(_ context.Context, _ Endpoint, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.namespaces[namespace] {
		return &Error{Command: "proxy-delete-namespace", Message: "Namespace_does_not_exist"}
	}
	delete(f.namespaces, namespace)
	return nil
}

func (f *fakeCLI) ProxyInvalidateNamespace(context.Context, Endpoint, string) error { return nil }

func (f *fakeCLI) ProxyUploadObject(_ context.Context, _ Endpoint, namespace, path, key string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[namespace+"/"+key] = data
	return nil
}

func (f *fakeCLI) ProxyDownloadObject(_ context.Context, _ Endpoint, namespace, key, path string) error {
	f.mu.Lock()
	data := append([]byte(nil), f.objects[namespace+"/"+key]...)
	f.mu.Unlock()
	if f.corrupt && len(data) > 0 {
		data[0] ^= 0xff
	}
	return os.WriteFile(path, data, 0o600)
}

func (f *fakeCLI) ListPresets(_ context.Context, config string) ([]platform.Preset, error) {
	f.seen(config)
	return f.presets, nil
}

func (f *fakeCLI) ListNamespaces(context.Context, string) ([]Namespace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Namespace
	for n := range f.namespaces {
		out = append(out, Namespace{Name: n, State: "active"})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeCLI) ShowNamespace(_ context.Context, _, namespace string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.namespaces[namespace] {
		return nil, &Error{Command: "show-namespace", Type: "Albamgr_exn", Message: "Namespace_does_not_exist"}
	}
	info := map[string]any{
		"bucket_count":    []any{},
		"logical":         float64(0),
		"storage":         float64(0),
		"storage_per_osd": []any{},
	}
	for _, d := range f.dropFields {
		delete(info, d)
	}
	return info, nil
}

func (f *fakeCLI) DeliverMessages(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered++
	return nil
}

func (f *fakeCLI) ListNamespaceOSDs(context.Context, string, string) ([]NamespaceOSD, error) {
	if f.osdsActive {
		return []NamespaceOSD{{OSDID: 1, State: OSDStateActive}, {OSDID: 2, State: OSDStateActive}}, nil
	}
	return []NamespaceOSD{{OSDID: 1, State: OSDStateActive}, {OSDID: 2, State: "Desired"}}, nil
}

func (f *fakeCLI) DiskSafety(_ context.Context, config string, _ bool) ([]NamespaceSafety, error) {
	f.seen(config)
	return f.safety, nil
}

func (f *fakeCLI) MaintenanceConfig(context.Context, string) (MaintenanceConfig, error) {
	return f.maint, nil
}

// readyCLI answers namespace readiness directly.
type readyCLI struct {
	*fakeCLI
	ready bool
}

func (r readyCLI) NamespaceReady(context.Context, Endpoint, string) (bool, error) {
	return r.ready, nil
}

func testLimits() Limits {
	return Limits{
		Workers:          4,
		NamespaceTimeout: 100 * time.Millisecond,
		CleanupTimeout:   200 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		TestFileSize:     4096,
	}
}

func newTestChecker(t *testing.T, cli CLI, model *platformtest.Model, reg *registry.Memory) *Checker {
	t.Helper()
	return &Checker{
		Registry:  reg,
		Paths:     testPaths,
		Model:     model,
		CLI:       cli,
		NodeID:    "node1",
		ConfigURL: func(cluster string) string { return "cfg://" + cluster },
		TempDir:   t.TempDir(),
		Limits:    testLimits(),
		Logger:    discard,
	}
}

func runTest(t *testing.T, c *Checker, test string, opts check.Options) result.TestResult {
	t.Helper()
	reg := check.NewRegistry()
	Register(reg, c)
	agg := result.NewAggregator(discard)
	d := check.NewDispatcher(check.DispatcherConfig{Registry: reg, Aggregator: agg, Addons: []string{Addon}, Logger: discard})
	require.NoError(t, d.Run(context.Background(), Module, test, opts))
	tr, ok := agg.Snapshot().Tests[test]
	require.True(t, ok)
	return tr
}

var defaultPreset = platform.Preset{Name: "default", InUse: true, IsAvailable: true, Policies: []platform.Policy{{K: 1, M: 2}}}

// ---------------------------------------------------------------------------
// backend-test
// ---------------------------------------------------------------------------

func backendModel(osds ...platform.AlbaOSD) *platformtest.Model {
	return &platformtest.Model{Backends: []platform.AlbaBackend{{
		GUID:       "b1",
		Name:       "mybackend",
		Scaling:    platform.ScalingLocal,
		Presets:    []platform.Preset{defaultPreset},
		OSDs:       osds,
		ABMCluster: "mybackend-abm",
	}}}
}

func TestBackendTest_OneOSDErrored(t *testing.T) {
	reg := registry.NewMemory()
	require.NoError(t, reg.PutJSON("/ovs/alba/osds/o1/config", map[string]any{"port": 8600}))
	require.NoError(t, reg.PutJSON("/ovs/alba/osds/o2/config", map[string]any{"port": 8601}))
	model := backendModel(
		platform.AlbaOSD{OSDID: "o1", IPs: []string{"10.0.0.1"}, Status: platform.OSDStatusOK, AlbaBackendGUID: "b1"},
		platform.AlbaOSD{OSDID: "o2", IPs: []string{"10.0.0.2"}, Status: platform.OSDStatusError, StatusDetail: "disk gone", AlbaBackendGUID: "b1"},
	)
	cli := newFakeCLI()

	tr := runTest(t, newTestChecker(t, cli, model, reg), "backend-test", nil)
	assert.Equal(t, result.Warning, tr.State)

	require.Len(t, tr.Entries[result.Success], 1)
	assert.Equal(t, result.CodeOSDOK, tr.Entries[result.Success][0].Code)
	assert.Contains(t, tr.Entries[result.Success][0].Message, "o1")

	require.Len(t, tr.Entries[result.Warning], 2)
	assert.Equal(t, result.CodeOSDBroken, tr.Entries[result.Warning][0].Code)
	assert.Contains(t, tr.Entries[result.Warning][0].Message, "disk gone")
	assert.Equal(t, result.CodeBackendOSDsBroken, tr.Entries[result.Warning][1].Code)
	assert.Contains(t, tr.Entries[result.Warning][1].Message, "available for vpool use with 1 OSDs, but 1 defective")

	assert.Empty(t, cli.asd[Endpoint{Host: "10.0.0.1", Port: 8600}], "round-trip key must be deleted")
	assert.Empty(t, cli.asd[Endpoint{Host: "10.0.0.2", Port: 8601}], "errored OSD must not be touched")
}

func TestBackendTest_MissingPortAndForeignOSD(t *testing.T) {
	reg := registry.NewMemory()
	require.NoError(t, reg.PutJSON("/ovs/alba/osds/o1/config", map[string]any{"port": 8600}))
	require.NoError(t, reg.PutJSON("/ovs/alba/osds/o9/config", map[string]any{"port": 8609}))
	model := backendModel(
		platform.AlbaOSD{OSDID: "o1", IPs: []string{"10.0.0.1"}, Status: platform.OSDStatusOK, AlbaBackendGUID: "b1"},
		platform.AlbaOSD{OSDID: "o3", IPs: []string{"10.0.0.3"}, Status: platform.OSDStatusOK, AlbaBackendGUID: "b1"},
		platform.AlbaOSD{OSDID: "o9", IPs: []string{"10.0.0.9"}, Status: platform.OSDStatusOK, AlbaBackendGUID: "other"},
	)

	tr := runTest(t, newTestChecker(t, newFakeCLI(), model, reg), "backend-test", nil)
	assert.Equal(t, result.Failure, tr.State)
	require.Len(t, tr.Entries[result.Failure], 1)
	assert.Equal(t, result.CodeOSDPortMissing, tr.Entries[result.Failure][0].Code)

	var broken []string
	for _, e := range tr.Entries[result.Warning] {
		broken = append(broken, e.Message)
	}
	assert.Contains(t, strings.Join(broken, "\n"), "disk_missing")
	for _, e := range append(tr.Entries[result.Success], tr.Entries[result.Warning]...) {
		assert.NotContains(t, e.Message, "o9")
	}
}

func TestBackendTest_SetFailureMarksBroken(t *testing.T) {
	reg := registry.NewMemory()
	require.NoError(t, reg.PutJSON("/ovs/alba/osds/o1/config", map[string]any{"port": 8600}))
	model := backendModel(platform.AlbaOSD{OSDID: "o1", IPs: []string{"10.0.0.1"}, Status: platform.OSDStatusOK, AlbaBackendGUID: "b1"})
	cli := newFakeCLI()
	cli.asdErr["10.0.0.1"] = errors.New("connection refused")

	tr := runTest(t, newTestChecker(t, cli, model, reg), "backend-test", nil)
	require.NotEmpty(t, tr.Entries[result.Warning])
	assert.Contains(t, tr.Entries[result.Warning][0].Message, "set failed")
}

func TestRecordBackend(t *testing.T) {
	cases := []struct {
		name      string
		available bool
		total     int
		broken    []string
		want      result.Severity
		code      result.Code
	}{
		{"healthy", true, 3, nil, result.Success, result.CodeBackendOK},
		{"degraded", true, 3, []string{"o2"}, result.Warning, result.CodeBackendOSDsBroken},
		{"empty", false, 0, nil, result.Skip, result.CodeBackendNoOSDs},
		{"unusable", false, 2, nil, result.Failure, result.CodeBackendPresetUnmet},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg := result.NewAggregator(discard)
			b := Backend{AlbaBackend: platform.AlbaBackend{Name: "b"}, Available: tc.available}
			recordBackend(agg.For("t"), b, tc.total, tc.total-len(tc.broken), tc.broken)
			tr := agg.Snapshot().Tests["t"]
			assert.Equal(t, tc.want, tr.State)
			assert.Equal(t, tc.code, tr.Entries[tc.want][0].Code)
		})
	}
}

// ---------------------------------------------------------------------------
// proxy-test
// ---------------------------------------------------------------------------

func proxyModel() *platformtest.Model {
	return &platformtest.Model{
		Routers: []platform.StorageRouter{{GUID: "sr1", Name: "node-1", NodeID: "node1"}},
		Svcs: map[string][]platform.Service{"sr1": {
			{Name: "albaproxy_pool_0", Type: platform.ServiceTypeAlbaProxy, Ports: []int{26204}},
			{Name: "memcached", Type: "MemCache", Ports: []int{11211}},
		}},
		Backends:  []platform.AlbaBackend{{GUID: "b1", Name: "mybackend", ABMCluster: "mybackend-abm"}},
		Available: map[string]bool{"b1/default": false},
	}
}

func assertCleanedUp(t *testing.T, c *Checker, cli *fakeCLI) {
	t.Helper()
	for ns := range cli.namespaces {
		assert.False(t, strings.HasPrefix(ns, HealthcheckPrefix+"ns-default-node1_"), "leftover namespace %s", ns)
	}
	left, err := os.ReadDir(c.TempDir)
	require.NoError(t, err)
	assert.Empty(t, left, "local test files must be removed")
}

func TestProxyTest_RoundTrip(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{defaultPreset, {Name: "unused", InUse: false}}
	c := newTestChecker(t, cli, proxyModel(), registry.NewMemory())

	tr := runTest(t, c, "proxy-test", nil)
	assert.Equal(t, result.Success, tr.State)
	require.Len(t, tr.Entries[result.Success], 1)
	e := tr.Entries[result.Success][0]
	assert.Equal(t, result.CodeProxyOK, e.Code)
	assert.True(t, strings.HasPrefix(e.Message, "albaproxy_pool_0 default: "), e.Message)

	assert.Equal(t, 2, cli.delivered)
	assert.Contains(t, cli.configs, "cfg://mybackend-abm")
	require.Len(t, cli.objects, 1)
	for k := range cli.objects {
		assert.Contains(t, k, HealthcheckPrefix+"obj-")
	}
	assertCleanedUp(t, c, cli)
}

func TestProxyTest_HashMismatch(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{defaultPreset}
	cli.corrupt = true
	c := newTestChecker(t, cli, proxyModel(), registry.NewMemory())

	tr := runTest(t, c, "proxy-test", nil)
	assert.Equal(t, result.Failure, tr.State)
	assert.Equal(t, result.CodeProxyHashMismatch, tr.Entries[result.Failure][0].Code)
	assertCleanedUp(t, c, cli)
}

func TestProxyTest_StepFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(*fakeCLI)
		code  result.Code
	}{
		{"create", func(f *fakeCLI) { f.createErr = errors.New("preset missing") }, result.CodeProxyCreateNamespace},
		{"upload", func(f *fakeCLI) { f.uploadErr = errors.New("proxy gone") }, result.CodeProxyUpload},
		{"metadata", func(f *fakeCLI) { f.dropFields = []string{"storage_per_osd"} }, result.CodeProxyMetadata},
		{"timeout", func(f *fakeCLI) { f.osdsActive = false }, result.CodeProxyNamespaceTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cli := newFakeCLI()
			cli.presets = []platform.Preset{defaultPreset}
			tc.setup(cli)
			c := newTestChecker(t, cli, proxyModel(), registry.NewMemory())

			tr := runTest(t, c, "proxy-test", nil)
			assert.Equal(t, result.Failure, tr.State)
			require.NotEmpty(t, tr.Entries[result.Failure])
			assert.Equal(t, tc.code, tr.Entries[result.Failure][0].Code)
			assertCleanedUp(t, c, cli)
		})
	}
}

func TestProxyTest_TimeoutWithAvailablePreset(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{defaultPreset}
	cli.osdsActive = false
	model := proxyModel()
	model.Available["b1/default"] = true
	c := newTestChecker(t, cli, model, registry.NewMemory())

	tr := runTest(t, c, "proxy-test", nil)
	assert.Equal(t, result.Success, tr.State)
	assert.NotEmpty(t, tr.Entries[result.Info])
}

func TestProxyTest_PrefersDirectReadiness(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{defaultPreset}
	cli.osdsActive = false
	c := newTestChecker(t, readyCLI{fakeCLI: cli, ready: true}, proxyModel(), registry.NewMemory())

	tr := runTest(t, c, "proxy-test", nil)
	assert.Equal(t, result.Success, tr.State)
	assert.Zero(t, cli.delivered)
}

func TestProxyTest_RemovesLeftovers(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{defaultPreset}
	stale := NamespacePrefix("default", "node1") + "stale"
	foreign := NamespacePrefix("default", "node2") + "other"
	cli.namespaces[stale] = true
	cli.namespaces[foreign] = true
	c := newTestChecker(t, cli, proxyModel(), registry.NewMemory())

	runTest(t, c, "proxy-test", nil)
	assert.False(t, cli.namespaces[stale])
	assert.True(t, cli.namespaces[foreign])
}

func TestProxyTest_NoProxies(t *testing.T) {
	model := proxyModel()
	model.Svcs = nil
	tr := runTest(t, newTestChecker(t, newFakeCLI(), model, registry.NewMemory()), "proxy-test", nil)
	assert.Equal(t, result.Skip, tr.State)
	assert.Equal(t, result.CodeNoProxies, tr.Entries[result.Skip][0].Code)
}

func TestProxyTest_NoPresetInUse(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{{Name: "idle"}}
	tr := runTest(t, newTestChecker(t, cli, proxyModel(), registry.NewMemory()), "proxy-test", nil)
	assert.Equal(t, result.Skip, tr.State)
	assert.Equal(t, result.CodeProxyNoPresets, tr.Entries[result.Skip][0].Code)
}

func TestMissingNamespaceFields(t *testing.T) {
	assert.Empty(t, MissingNamespaceFields(map[string]any{
		"bucket_count": []any{}, "logical": 1.0, "storage": 2.0, "storage_per_osd": []any{},
	}))
	assert.ElementsMatch(t, []string{"bucket_count", "storage", "storage_per_osd"}, MissingNamespaceFields(map[string]any{
		"bucket_count": 3.0, "logical": 1.0, "storage": []any{},
	}))
}

func TestStepErrorCode(t *testing.T) {
	assert.Equal(t, result.CodeProxyShowNamespace, (&StepError{Step: stepShowNamespace, Err: errors.New("x")}).Code())
	assert.Equal(t, result.CodeProxyDownload, (&StepError{Step: stepDownloadObject, Err: errors.New("x")}).Code())
	assert.Equal(t, result.CodeProxyNamespaceTimeout, (&StepError{Step: stepShowNamespace, Err: errNamespaceTimeout}).Code())
}

// ---------------------------------------------------------------------------
// disk-safety-test
// ---------------------------------------------------------------------------

func TestDiskSafetyTest_Zero(t *testing.T) {
	cli := newFakeCLI()
	cli.presets = []platform.Preset{defaultPreset}
	cli.safety = []NamespaceSafety{{
		Namespace:    "ns-A",
		BucketSafety: []BucketSafety{{Bucket: []int{1, 2, 3, 1}, Count: 40, RemainingSafety: 0}},
	}}
	model := &platformtest.Model{Backends: []platform.AlbaBackend{{GUID: "b1", Name: "B", ABMCluster: "b-abm"}}}

	tr := runTest(t, newTestChecker(t, cli, model, registry.NewMemory()), "disk-safety-test", nil)
	assert.Equal(t, result.Failure, tr.State)
	require.Len(t, tr.Entries[result.Failure], 1)
	f := tr.Entries[result.Failure][0]
	assert.Equal(t, result.CodeDiskSafetyZero, f.Code)
	assert.Contains(t, f.Message, "ns-A at 100.00000%")
	assert.Equal(t, 1, tr.Len())
	assert.Contains(t, cli.configs, "cfg://b-abm")
}

func TestBuildSafety(t *testing.T) {
	presets := []platform.Preset{
		defaultPreset,
		{Name: "wide", Policies: []platform.Policy{{K: 4, M: 2}}},
	}
	namespaces := []NamespaceSafety{
		{Namespace: "ns-A", BucketSafety: []BucketSafety{
			{Bucket: []int{1, 2, 3, 1}, Count: 1, RemainingSafety: 2},
			{Bucket: []int{1, 2, 3, 1}, Count: 1, RemainingSafety: 1},
			{Bucket: []int{1, 2, 2, 1}, Count: 1, RemainingSafety: 1},
		}},
		{Namespace: HealthcheckPrefix + "ns-x", BucketSafety: []BucketSafety{{Bucket: []int{1, 2}, Count: 5, RemainingSafety: 0}}},
		{Namespace: "cache-ns", BucketSafety: []BucketSafety{{Bucket: []int{1, 2}, Count: 5, RemainingSafety: 0}}},
	}

	report := BuildSafety(presets, namespaces, []string{HealthcheckPrefix, "cache-"})
	require.Contains(t, report, "1,2")
	require.Contains(t, report, "4,2")
	assert.Empty(t, report["4,2"].Current)
	assert.Equal(t, 2, report["1,2"].MaxDiskSafety)
	assert.NotContains(t, report["1,2"].Current, 0)

	sum := 0.0
	for _, list := range report["1,2"].Current {
		for _, a := range list {
			assert.Equal(t, "ns-A", a.Namespace)
			sum += a.Amount
		}
	}
	assert.InDelta(t, 100.0, sum, 1e-9)
	assert.InDelta(t, 200.0/3, report["1,2"].Current[1][0].Amount, 1e-9)
}

func TestEvaluatePolicy(t *testing.T) {
	single := func(safety int) *PolicySafety {
		return &PolicySafety{MaxDiskSafety: 2, Current: map[int][]NamespaceAmount{safety: {{"ns", 100}}}}
	}
	rollUp := func(fs []Finding) result.Severity {
		sev := result.Info
		for _, f := range fs {
			if f.Severity.Rank() > sev.Rank() {
				sev = f.Severity
			}
		}
		return sev
	}

	assert.Equal(t, result.Skip, rollUp(EvaluatePolicy("b", "1,2", &PolicySafety{MaxDiskSafety: 2})))
	fs := EvaluatePolicy("b", "1,2", single(2))
	require.Len(t, fs, 1)
	assert.Contains(t, fs[0].Message, "all data is safe")
	assert.Equal(t, result.Warning, rollUp(EvaluatePolicy("b", "1,2", single(1))))
	assert.Equal(t, result.CodeDiskSafetyZero, EvaluatePolicy("b", "1,2", single(0))[0].Code)
	assert.Equal(t, result.CodeDiskSafetyBelowZero, EvaluatePolicy("b", "1,2", single(-1))[0].Code)

	mixed := &PolicySafety{MaxDiskSafety: 2, Current: map[int][]NamespaceAmount{
		2: {{"a", 50}}, 1: {{"a", 25}}, 0: {{"a", 25}},
	}}
	fs = EvaluatePolicy("b", "1,2", mixed)
	require.Len(t, fs, 3)
	assert.Equal(t, []result.Severity{result.Success, result.Warning, result.Failure},
		[]result.Severity{fs[0].Severity, fs[1].Severity, fs[2].Severity})
	assert.Equal(t, result.Failure, rollUp(fs))
}

// ---------------------------------------------------------------------------
// nsm-load-test
// ---------------------------------------------------------------------------

func TestNSMLoadTest(t *testing.T) {
	reg := registry.NewMemory()
	require.NoError(t, reg.PutJSON("/ovs/framework/plugins/alba/config", map[string]any{"nsm.maxload": 75}))
	model := &platformtest.Model{
		Backends: []platform.AlbaBackend{
			{GUID: "b1", Name: "roomy", NSMClusters: []platform.NSMCluster{{Name: "b1-nsm_0", Internal: true}, {Name: "b1-nsm_1", Internal: true}}},
			{GUID: "b2", Name: "full-internal", NSMClusters: []platform.NSMCluster{{Name: "b2-nsm_0", Internal: true}}},
			{GUID: "b3", Name: "full-external", NSMClusters: []platform.NSMCluster{{Name: "b3-nsm_0", Internal: false}}},
			{GUID: "b4", Name: "no-nsm"},
		},
		Loads: map[string]float64{
			"b1/b1-nsm_0": 90, "b1/b1-nsm_1": 20,
			"b2/b2-nsm_0": 80,
			"b3/b3-nsm_0": 99.5,
		},
	}

	tr := runTest(t, newTestChecker(t, newFakeCLI(), model, reg), "nsm-load-test", nil)
	assert.Equal(t, result.Failure, tr.State)
	require.Len(t, tr.Entries[result.Success], 1)
	assert.Contains(t, tr.Entries[result.Success][0].Message, "roomy")
	require.Len(t, tr.Entries[result.Warning], 1)
	assert.Equal(t, result.CodeNSMLoadInternal, tr.Entries[result.Warning][0].Code)
	require.Len(t, tr.Entries[result.Failure], 1)
	assert.Equal(t, result.CodeNSMLoadExternal, tr.Entries[result.Failure][0].Code)
	require.Len(t, tr.Entries[result.Skip], 1)
	assert.Equal(t, result.CodeNSMNone, tr.Entries[result.Skip][0].Code)
	assert.Contains(t, tr.Entries[result.Skip][0].Message, "no-nsm")
}

func TestNSMLoadTest_NoThreshold(t *testing.T) {
	tr := runTest(t, newTestChecker(t, newFakeCLI(), &platformtest.Model{}, registry.NewMemory()), "nsm-load-test", nil)
	assert.Equal(t, result.CodeNSMLoadFailed, tr.Entries[result.Failure][0].Code)
}

// ---------------------------------------------------------------------------
// ipmi-test
// ---------------------------------------------------------------------------

func TestIPMITest(t *testing.T) {
	reg := registry.NewMemory()
	require.NoError(t, reg.PutJSON("/ovs/alba/asdnodes/node1/config/ipmi", IPMIConfig{IP: "10.9.0.1", Username: "admin", Password: "s3cret"}))
	exe := probetest.NewExecutor(nil).On("chassis power status", "Chassis Power is on\n", nil)
	c := newTestChecker(t, newFakeCLI(), &platformtest.Model{}, reg)
	c.Runner = exe

	tr := runTest(t, c, "ipmi-test", nil)
	assert.Equal(t, result.Success, tr.State)
	assert.True(t, exe.Called("-H 10.9.0.1"))

	exe.On("chassis power status", "", &probe.CommandError{Cmd: "ipmitool -P s3cret", Err: errors.New("exit status 1")})
	tr = runTest(t, c, "ipmi-test", nil)
	assert.Equal(t, result.Warning, tr.State)
	assert.NotContains(t, tr.Entries[result.Warning][0].Message, "s3cret")
}

func TestIPMITest_NotConfigured(t *testing.T) {
	tr := runTest(t, newTestChecker(t, newFakeCLI(), &platformtest.Model{}, registry.NewMemory()), "ipmi-test", nil)
	assert.Equal(t, result.Skip, tr.State)
	assert.Equal(t, result.CodeIPMINotConfigured, tr.Entries[result.Skip][0].Code)
}

func TestEvaluatePowerStatus(t *testing.T) {
	assert.Equal(t, result.CodeIPMIPowerOn, EvaluatePowerStatus("ip", "Chassis Power is on").Code)
	assert.Equal(t, result.CodeIPMIPowerOff, EvaluatePowerStatus("ip", "Chassis Power is off\n").Code)
	assert.Equal(t, result.CodeIPMIFailed, EvaluatePowerStatus("ip", "garbage").Code)
}

// ---------------------------------------------------------------------------
// Exec client
// ---------------------------------------------------------------------------

func TestExec_Envelope(t *testing.T) {
	exe := probetest.NewExecutor(nil).
		On("list-presets", `{"success":true,"result":[{"name":"default","in_use":true,"policies":[[1,2,2,1]],"is_available":true}]}`, nil).
		On("show-namespace", `{"success":false,"error":{"message":"Namespace_does_not_exist","exception_type":"Albamgr_exn","exception_code":2}}`,
			&probe.CommandError{Cmd: "alba", Err: errors.New("exit status 1")}).
		On("asd-multi-get", `{"success":true,"result":null}`, nil).
		On("list-ns-osds", `{"success":true,"result":[[1,"Active"],[2,["Desired"]]]}`, nil).
		On("deliver-messages", "", &probe.CommandError{Cmd: "alba", Stderr: "boom", Err: errors.New("exit status 2")})
	e := &Exec{Binary: "alba", Runner: exe}
	ctx := context.Background()

	presets, err := e.ListPresets(ctx, "cfg")
	require.NoError(t, err)
	require.Len(t, presets, 1)
	assert.Equal(t, platform.Policy{K: 1, M: 2}, presets[0].Policies[0])
	assert.True(t, exe.Called("list-presets --config cfg --to-json"))

	_, err = e.ShowNamespace(ctx, "cfg", "ns")
	assert.True(t, IsNamespaceNotFound(err))
	var ae *Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, 2, ae.Code)

	_, ok, err := e.ASDGet(ctx, Endpoint{Host: "10.0.0.1", Port: 8600}, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, exe.Called("asd-multi-get -h 10.0.0.1 -p 8600 k"))

	osds, err := e.ListNamespaceOSDs(ctx, "cfg", "ns")
	require.NoError(t, err)
	assert.Equal(t, []NamespaceOSD{{1, "Active"}, {2, "Desired"}}, osds)
	assert.False(t, AllActive(osds))

	err = e.DeliverMessages(ctx, "cfg")
	require.Error(t, err)
	assert.False(t, IsNamespaceNotFound(err))
}

func TestNamespaceOSD_Unmarshal(t *testing.T) {
	var o NamespaceOSD
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &o))
	assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &o))
	require.NoError(t, json.Unmarshal([]byte(`[7, "Active"]`), &o))
	assert.Equal(t, NamespaceOSD{OSDID: 7, State: "Active"}, o)
}

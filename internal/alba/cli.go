// Package alba inspects the object-storage layer: OSD round-trips, proxy
// namespace round-trips, per-namespace disk safety, namespace-manager load
// and the power state of storage nodes.
package alba

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/darshan-rambhia/healthcheck/internal/platform"
)

// ErrNamespaceNotFound is returned when a namespace does not exist.
var ErrNamespaceNotFound = errors.New("namespace does not exist")

// Endpoint addresses an OSD or a proxy.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.Host, e.Port) }

// ProxyClientConfig is the cluster a proxy writes to.
type ProxyClientConfig struct {
	ClusterID string `json:"cluster_id"`
}

// NamespaceOSD is one OSD serving a namespace.
type NamespaceOSD struct {
	OSDID int64
	State string
}

// UnmarshalJSON accepts the [id, state] pair the tool prints. The state is
// either a bare string or a one-element list.
func (n *NamespaceOSD) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decoding namespace osd: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("decoding namespace osd: want 2 elements, got %d", len(pair))
	}
	if err := json.Unmarshal(pair[0], &n.OSDID); err != nil {
		return fmt.Errorf("decoding namespace osd id: %w", err)
	}
	if err := json.Unmarshal(pair[1], &n.State); err == nil {
		return nil
	}
	var wrapped []string
	if err := json.Unmarshal(pair[1], &wrapped); err != nil || len(wrapped) == 0 {
		return fmt.Errorf("decoding namespace osd state %s", pair[1])
	}
	n.State = wrapped[0]
	return nil
}

// OSDStateActive is the state of an OSD ready to serve a namespace.
const OSDStateActive = "Active"

// BucketSafety counts the objects of a namespace sharing one policy and one
// remaining safety.
type BucketSafety struct {
	// Bucket is [k, m, fragments, max_disks_per_node].
	Bucket          []int `json:"bucket"`
	Count           int64 `json:"count"`
	RemainingSafety int   `json:"remaining_safety"`
}

// Policy extracts the (k, m) pair of the bucket.
func (b BucketSafety) Policy() (platform.Policy, bool) {
	if len(b.Bucket) < 2 {
		return platform.Policy{}, false
	}
	return platform.Policy{K: b.Bucket[0], M: b.Bucket[1]}, true
}

// NamespaceSafety is one namespace of get-disk-safety.
type NamespaceSafety struct {
	Namespace    string         `json:"namespace"`
	BucketSafety []BucketSafety `json:"bucket_safety"`
}

// MaintenanceConfig is the part of the maintenance config the checks use.
type MaintenanceConfig struct {
	CacheEvictionPrefixes map[string]string `json:"cache_eviction_prefix_preset_pairs"`
}

// Namespace is one entry of list-namespaces.
type Namespace struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// OSDClient talks directly to OSDs.
type OSDClient interface {
	ASDSet(ctx context.Context, osd Endpoint, key, value string) error
	// ASDGet reports false when the key is absent.
	ASDGet(ctx context.Context, osd Endpoint, key string) (string, bool, error)
	ASDDelete(ctx context.Context, osd Endpoint, key string) error
}

// ProxyClient talks to a local proxy.
type ProxyClient interface {
	ProxyClientConfig(ctx context.Context, proxy Endpoint) (ProxyClientConfig, error)
	ProxyCreateNamespace(ctx context.Context, proxy Endpoint, namespace, preset string) error
	ProxyDeleteNamespace(ctx context.Context, proxy Endpoint, namespace string) error
	// ProxyInvalidateNamespace makes the proxy forget what it cached about a
	// namespace.
	ProxyInvalidateNamespace(ctx context.Context, proxy Endpoint, namespace string) error
	ProxyUploadObject(ctx context.Context, proxy Endpoint, namespace, path, key string) error
	ProxyDownloadObject(ctx context.Context, proxy Endpoint, namespace, key, path string) error
}

// ClusterClient talks to a backend's manager cluster, addressed by the
// location of its config.
type ClusterClient interface {
	ListPresets(ctx context.Context, config string) ([]platform.Preset, error)
	ListNamespaces(ctx context.Context, config string) ([]Namespace, error)
	ShowNamespace(ctx context.Context, config, namespace string) (map[string]any, error)
	DeliverMessages(ctx context.Context, config string) error
	ListNamespaceOSDs(ctx context.Context, config, namespace string) ([]NamespaceOSD, error)
	DiskSafety(ctx context.Context, config string, includeErrored bool) ([]NamespaceSafety, error)
	MaintenanceConfig(ctx context.Context, config string) (MaintenanceConfig, error)
}

// CLI is everything the checks need from the object-storage tooling.
type CLI interface {
	OSDClient
	ProxyClient
	ClusterClient
}

// NamespaceReadyChecker is implemented by tooling that can ask a proxy
// directly whether a namespace is usable.
type NamespaceReadyChecker interface {
	NamespaceReady(ctx context.Context, proxy Endpoint, namespace string) (bool, error)
}

func portArgs(e Endpoint) []string {
	return []string{"-h", e.Host, "-p", strconv.Itoa(e.Port)}
}

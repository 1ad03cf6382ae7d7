// Package platform defines the read-only view of the platform data model
// and the HTTP clients that fetch it.
package platform

import (
	"encoding/json"
	"fmt"
)

// Node types reported by the data model.
const (
	NodeTypeMaster = "MASTER"
	NodeTypeExtra  = "EXTRA"
)

// Backend scaling.
const (
	ScalingLocal  = "LOCAL"
	ScalingGlobal = "GLOBAL"
)

// OSD statuses.
const (
	OSDStatusOK    = "ok"
	OSDStatusError = "error"
)

// Service types the checks look for.
const ServiceTypeAlbaProxy = "AlbaProxy"

// StorageRouter is one node of the platform.
type StorageRouter struct {
	GUID     string      `json:"guid"`
	Name     string      `json:"name"`
	IP       string      `json:"ip"`
	NodeID   string      `json:"machine_id"`
	NodeType string      `json:"node_type"`
	Domains  []DomainRef `json:"domains"`
}

// IsMaster reports whether the node runs the master services.
func (s StorageRouter) IsMaster() bool { return s.NodeType == NodeTypeMaster }

// DomainRef links a storage router to a topology domain, either as primary
// or as recovery ("backup") domain.
type DomainRef struct {
	DomainGUID string `json:"domain_guid"`
	Backup     bool   `json:"backup"`
}

// Domain is a topology domain.
type Domain struct {
	GUID string `json:"guid"`
	Name string `json:"name"`
}

// VPool groups the volume-drivers serving one storage backend.
type VPool struct {
	GUID           string          `json:"guid"`
	Name           string          `json:"name"`
	StorageDrivers []StorageDriver `json:"storagedrivers"`
}

// StorageDriver is one volume-driver instance.
type StorageDriver struct {
	GUID              string      `json:"guid"`
	StorageDriverID   string      `json:"storagedriver_id"`
	VPoolGUID         string      `json:"vpool_guid"`
	VPoolName         string      `json:"vpool_name"`
	StorageRouterGUID string      `json:"storagerouter_guid"`
	StorageIP         string      `json:"storage_ip"`
	Ports             DriverPorts `json:"ports"`
	// ClusterNodeConfig is the registry path of the driver's node config.
	ClusterNodeConfig string `json:"cluster_node_config"`
}

// DriverPorts are the listen ports of a volume-driver.
type DriverPorts struct {
	Management int `json:"management"`
	XMLRPC     int `json:"xmlrpc"`
	DTL        int `json:"dtl"`
	EdgeClient int `json:"edge"`
}

// VDisk is a volume as recorded in the data model.
type VDisk struct {
	GUID              string `json:"guid"`
	Name              string `json:"name"`
	VolumeID          string `json:"volume_id"`
	VPoolGUID         string `json:"vpool_guid"`
	StorageRouterGUID string `json:"storagerouter_guid"`
	DTLStatus         string `json:"dtl_status"`
}

// Service is a platform-managed service on a storage router.
type Service struct {
	Name              string `json:"name"`
	Type              string `json:"type"`
	StorageRouterGUID string `json:"storagerouter_guid"`
	Ports             []int  `json:"ports"`
	VPoolName         string `json:"vpool_name"`
}

// AlbaBackend is an object-storage backend.
type AlbaBackend struct {
	GUID        string       `json:"guid"`
	Name        string       `json:"name"`
	AlbaID      string       `json:"alba_id"`
	Scaling     string       `json:"scaling"`
	Presets     []Preset     `json:"presets"`
	OSDs        []AlbaOSD    `json:"osds"`
	ABMCluster  string       `json:"abm_cluster"`
	NSMClusters []NSMCluster `json:"nsm_clusters"`
}

// IsLocal reports whether the backend stores data on its own OSDs.
func (b AlbaBackend) IsLocal() bool { return b.Scaling == ScalingLocal }

// AvailableForVPool reports whether any preset can currently be used.
func (b AlbaBackend) AvailableForVPool() bool {
	for _, p := range b.Presets {
		if p.IsAvailable {
			return true
		}
	}
	return false
}

// Preset is a named storage policy set.
type Preset struct {
	Name        string   `json:"name"`
	InUse       bool     `json:"in_use"`
	IsAvailable bool     `json:"is_available"`
	Policies    []Policy `json:"policies"`
}

// Policy is a (k, m) erasure-coding policy. The wire form is an array
// [k, m, c, x]; only k and m matter to the checks.
type Policy struct {
	K int
	M int
}

// Prefix is the "k,m" key used in disk-safety output.
func (p Policy) Prefix() string { return fmt.Sprintf("%d,%d", p.K, p.M) }

func (p *Policy) UnmarshalJSON(data []byte) error {
	var arr []int
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("decoding policy: %w", err)
	}
	if len(arr) < 2 {
		return fmt.Errorf("decoding policy: want at least 2 elements, got %d", len(arr))
	}
	p.K, p.M = arr[0], arr[1]
	return nil
}

func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal([]int{p.K, p.M})
}

// AlbaOSD is one object-storage daemon claimed by a backend.
type AlbaOSD struct {
	OSDID           string   `json:"osd_id"`
	IPs             []string `json:"ips"`
	Status          string   `json:"status"`
	StatusDetail    string   `json:"status_detail"`
	AlbaBackendGUID string   `json:"alba_backend_guid"`
	NodeID          string   `json:"node_id"`
}

// NSMCluster is a namespace-manager cluster of a backend.
type NSMCluster struct {
	Name     string `json:"name"`
	Number   int    `json:"number"`
	Internal bool   `json:"internal"`
}

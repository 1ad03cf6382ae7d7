// Package volumedriver inspects the block-volume servers: DTL state, halted
// and fenced volumes, volume potential and cache mountpoints.
package volumedriver

import (
	"context"
	"errors"
	"fmt"
	"net/rpc"
	"strings"

	"github.com/kolo/xmlrpc"

	"github.com/darshan-rambhia/healthcheck/internal/platform"
)

var (
	// ErrObjectNotFound means the volume is unknown to the cluster.
	ErrObjectNotFound = errors.New("object not found")
	// ErrMaxRedirects means the request bounced between owners too often.
	ErrMaxRedirects = errors.New("maximum redirects exceeded")
	// ErrClusterNotReachable means the owning node could not be reached.
	ErrClusterNotReachable = errors.New("cluster not reachable")
)

// VolumeInfo is the part of a volume's info the checks use.
type VolumeInfo struct {
	VolumeID string `xmlrpc:"volume_id"`
	Halted   bool   `xmlrpc:"halted"`
	OwnerTag int    `xmlrpc:"owner_tag"`
}

// Mountpoint is one cluster-cache mountpoint of a driver.
type Mountpoint struct {
	Path    string `xmlrpc:"path"`
	Offline bool   `xmlrpc:"offline"`
}

// Client talks to one volume-driver instance.
type Client interface {
	ListVolumes(ctx context.Context) ([]string, error)
	ListHaltedVolumes(ctx context.Context, nodeID string) ([]string, error)
	// Owner returns the node id the object registry assigns the volume to.
	Owner(ctx context.Context, volumeID string) (string, error)
	InfoVolume(ctx context.Context, volumeID string) (VolumeInfo, error)
	VolumePotential(ctx context.Context, nodeID string) (int, error)
	Mountpoints(ctx context.Context, nodeID string) ([]Mountpoint, error)
	Close() error
}

// Dialer opens a client for a storage driver.
type Dialer func(sd platform.StorageDriver) (Client, error)

// XMLRPC is a Client speaking to the driver's XML-RPC port.
type XMLRPC struct {
	c *xmlrpc.Client
}

// DialXMLRPC connects to the driver's XML-RPC port.
func DialXMLRPC(sd platform.StorageDriver) (Client, error) {
	return NewXMLRPC(fmt.Sprintf("http://%s:%d", sd.StorageIP, sd.Ports.XMLRPC))
}

// NewXMLRPC returns a client for url.
func NewXMLRPC(url string) (*XMLRPC, error) {
	c, err := xmlrpc.NewClient(url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating xmlrpc client for %s: %w", url, err)
	}
	return &XMLRPC{c: c}, nil
}

// call runs method with a single struct parameter. net/rpc has no context
// support, so an expired ctx abandons the call.
func (x *XMLRPC) call(ctx context.Context, method string, params map[string]any, reply any) error {
	var args any
	if params != nil {
		args = params
	}
	call := x.c.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return classify(method, call.Error)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// classify maps driver faults onto the sentinel errors.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ObjectNotFoundException"):
		return fmt.Errorf("%s: %w", method, ErrObjectNotFound)
	case strings.Contains(msg, "MaxRedirectsExceededException"):
		return fmt.Errorf("%s: %w", method, ErrMaxRedirects)
	case strings.Contains(msg, "ClusterNotReachableException"):
		return fmt.Errorf("%s: %w", method, ErrClusterNotReachable)
	}
	return fmt.Errorf("%s: %w", method, err)
}

func (x *XMLRPC) ListVolumes(ctx context.Context) ([]string, error) {
	var out []string
	if err := x.call(ctx, "listVolumes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (x *XMLRPC) ListHaltedVolumes(ctx context.Context, nodeID string) ([]string, error) {
	var out []string
	if err := x.call(ctx, "listHaltedVolumes", map[string]any{"vrouter_id": nodeID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (x *XMLRPC) Owner(ctx context.Context, volumeID string) (string, error) {
	var reg struct {
		NodeID string `xmlrpc:"node_id"`
	}
	if err := x.call(ctx, "objectRegistration", map[string]any{"volume_id": volumeID}, &reg); err != nil {
		return "", err
	}
	return reg.NodeID, nil
}

func (x *XMLRPC) InfoVolume(ctx context.Context, volumeID string) (VolumeInfo, error) {
	var info VolumeInfo
	if err := x.call(ctx, "volumeInfo", map[string]any{"volume_id": volumeID}, &info); err != nil {
		return VolumeInfo{}, err
	}
	return info, nil
}

func (x *XMLRPC) VolumePotential(ctx context.Context, nodeID string) (int, error) {
	var n int
	if err := x.call(ctx, "volumePotential", map[string]any{"vrouter_id": nodeID}, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (x *XMLRPC) Mountpoints(ctx context.Context, nodeID string) ([]Mountpoint, error) {
	var out []Mountpoint
	if err := x.call(ctx, "listClusterCacheMountpoints", map[string]any{"vrouter_id": nodeID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (x *XMLRPC) Close() error { return x.c.Close() }

var _ Client = (*XMLRPC)(nil)

// LocalDrivers returns the storage router of nodeID and the drivers it runs.
func LocalDrivers(ctx context.Context, m platform.Model, nodeID string) (platform.StorageRouter, []platform.StorageDriver, error) {
	sr, err := platform.LocalStorageRouter(ctx, m, nodeID)
	if err != nil {
		return platform.StorageRouter{}, nil, err
	}
	pools, err := m.VPools(ctx)
	if err != nil {
		return platform.StorageRouter{}, nil, fmt.Errorf("listing vpools: %w", err)
	}
	var drivers []platform.StorageDriver
	for _, p := range pools {
		for _, sd := range p.StorageDrivers {
			if sd.StorageRouterGUID != sr.GUID {
				continue
			}
			if sd.VPoolName == "" {
				sd.VPoolName = p.Name
			}
			if sd.VPoolGUID == "" {
				sd.VPoolGUID = p.GUID
			}
			drivers = append(drivers, sd)
		}
	}
	return sr, drivers, nil
}

// Package arakoon inspects the consensus clusters of the platform: leader
// statistics, client ports, liveness, tlog collapsing and socket usage.
package arakoon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"gopkg.in/ini.v1"

	"github.com/darshan-rambhia/healthcheck/internal/registry"
)

// BootstrapCluster is the framework cluster whose config lives on disk
// rather than in the registry.
const BootstrapCluster = "cacc"

// NodeConfig describes one member of a consensus cluster.
type NodeConfig struct {
	ID            string
	IP            string
	ClientPort    int
	MessagingPort int
	TlogDir       string
}

// ClusterConfig is a parsed cluster config. Raw keeps the original INI so
// clients can hand it to the consensus tooling unchanged.
type ClusterConfig struct {
	Name  string
	Nodes []NodeConfig
	Raw   []byte
}

// NodeIDs returns the roster in config order.
func (c ClusterConfig) NodeIDs() []string {
	ids := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// ParseClusterConfig parses the INI layout written by the framework: a
// [global] section naming the members and one section per member.
func ParseClusterConfig(name string, data []byte) (ClusterConfig, error) {
	f, err := ini.Load(data)
	if err != nil {
		return ClusterConfig{}, fmt.Errorf("parsing config of cluster %s: %w", name, err)
	}
	global, err := f.GetSection("global")
	if err != nil {
		return ClusterConfig{}, fmt.Errorf("cluster %s: missing [global] section", name)
	}
	if id := global.Key("cluster_id").String(); id != "" {
		name = id
	}
	members := global.Key("cluster").Strings(",")
	if len(members) == 0 {
		return ClusterConfig{}, fmt.Errorf("cluster %s: no members listed", name)
	}

	cfg := ClusterConfig{Name: name, Raw: data}
	for _, id := range members {
		sec, err := f.GetSection(id)
		if err != nil {
			return ClusterConfig{}, fmt.Errorf("cluster %s: node %s has no section", name, id)
		}
		ips := sec.Key("ip").Strings(",")
		if len(ips) == 0 {
			return ClusterConfig{}, fmt.Errorf("cluster %s: node %s has no ip", name, id)
		}
		port, err := sec.Key("client_port").Int()
		if err != nil {
			return ClusterConfig{}, fmt.Errorf("cluster %s: node %s client_port: %w", name, id, err)
		}
		tlogDir := sec.Key("tlog_dir").String()
		if tlogDir == "" {
			tlogDir = sec.Key("home").String()
		}
		cfg.Nodes = append(cfg.Nodes, NodeConfig{
			ID:            id,
			IP:            ips[0],
			ClientPort:    port,
			MessagingPort: sec.Key("messaging_port").MustInt(0),
			TlogDir:       tlogDir,
		})
	}
	return cfg, nil
}

// Cluster is one enumerated cluster. Err is set when its config could not
// be read or parsed; the other clusters are still usable.
type Cluster struct {
	Name   string
	Config ClusterConfig
	Err    error
}

// Source enumerates the consensus clusters known to the registry plus the
// on-disk bootstrap cluster.
type Source struct {
	Registry        registry.Registry
	Paths           registry.Paths
	BootstrapConfig string
	Logger          *slog.Logger
}

// Clusters returns every cluster ordered by name. Only a failure to list the
// registry prefix is returned as an error.
func (s Source) Clusters(ctx context.Context) ([]Cluster, error) {
	names, err := s.Registry.List(ctx, s.Paths.ConsensusRoot())
	if err != nil {
		return nil, fmt.Errorf("listing consensus clusters: %w", err)
	}

	out := make([]Cluster, 0, len(names)+1)
	for _, name := range names {
		if name == BootstrapCluster {
			continue
		}
		cl := Cluster{Name: name}
		data, err := s.Registry.Get(ctx, s.Paths.ClusterConfig(name))
		if err != nil {
			cl.Err = fmt.Errorf("reading config of cluster %s: %w", name, err)
		} else {
			cl.Config, cl.Err = ParseClusterConfig(name, data)
		}
		out = append(out, cl)
	}

	if s.BootstrapConfig != "" {
		data, err := os.ReadFile(s.BootstrapConfig)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			s.logger().Debug("no bootstrap cluster config on this node", "path", s.BootstrapConfig)
		case err != nil:
			out = append(out, Cluster{Name: BootstrapCluster, Err: fmt.Errorf("reading bootstrap config: %w", err)})
		default:
			cl := Cluster{Name: BootstrapCluster}
			cl.Config, cl.Err = ParseClusterConfig(BootstrapCluster, data)
			out = append(out, cl)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s Source) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

package registry

import "path"

// Paths builds the registry keys the checks read.
type Paths struct {
	Root      string
	Consensus string
	Storage   string
	Framework string
}

func (p Paths) join(elem ...string) string {
	return "/" + path.Join(append([]string{p.Root}, elem...)...)
}

// ConsensusRoot lists the consensus cluster identifiers.
func (p Paths) ConsensusRoot() string { return p.join(p.Consensus) }

// ClusterConfig is the INI config blob of one consensus cluster.
func (p Paths) ClusterConfig(cluster string) string {
	return p.join(p.Consensus, cluster, "config")
}

// OSDPort is the listen port of one OSD.
func (p Paths) OSDPort(osdID string) string {
	return p.join(p.Storage, "osds", osdID, "config") + "|port"
}

// ClusterID is the platform cluster identifier.
func (p Paths) ClusterID() string { return p.join(p.Framework, "cluster_id") }

// StoragedriverPorts is the ephemeral-port pool of a node's volume-drivers.
func (p Paths) StoragedriverPorts(nodeID string) string {
	return p.join(p.Framework, "hosts", nodeID, "ports") + "|storagedriver"
}

// NSMMaxLoad is the namespace-manager load threshold.
func (p Paths) NSMMaxLoad() string {
	return p.join(p.Framework, "plugins", p.Storage, "config") + "|nsm.maxload"
}

// IPMI is the power-management endpoint of a storage node.
func (p Paths) IPMI(nodeID string) string {
	return p.join(p.Storage, "asdnodes", nodeID, "config", "ipmi")
}

// InstalledBackends lists the installed addon types.
func (p Paths) InstalledBackends() string {
	return p.join(p.Framework, "plugins", "installed") + "|backends"
}

// Lock is the mutex key of a cluster-scoped test.
func (p Paths) Lock(test string) string {
	return p.join(p.Framework, "healthcheck", "locks", test)
}

package node

import (
	"context"
	"fmt"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/registry"
	"github.com/darshan-rambhia/healthcheck/internal/result"
	"github.com/darshan-rambhia/healthcheck/internal/volumedriver"
)

// ServicePort is a well-known port a node service listens on.
type ServicePort struct {
	Service string
	Port    int
}

// ServicePorts are probed on every node.
var ServicePorts = []ServicePort{
	{"memcached", 11211},
	{"nginx", 80},
	{"nginx", 443},
	{"rabbitmq", 5672},
	{"rabbitmq-management", 15672},
	{"rabbitmq-cluster", 25672},
}

func (c *Checker) portsTest(ctx context.Context, rec *result.Recorder, _ check.Options) error {
	for _, sp := range ServicePorts {
		c.probePort(ctx, rec, sp.Service, sp.Port)
	}

	_, drivers, err := volumedriver.LocalDrivers(ctx, c.Model, c.Node.ID)
	if err != nil {
		c.logger().Warn("skipping volume-driver ports", "error", err)
		return nil
	}
	if len(drivers) == 0 {
		return nil
	}
	var portRange []int
	if err := registry.GetJSON(ctx, c.Registry, c.Paths.StoragedriverPorts(c.Node.ID), &portRange); err != nil {
		c.logger().Debug("no volume-driver port range", "error", err)
		portRange = nil
	}
	for _, sd := range drivers {
		for _, p := range []ServicePort{
			{"management", sd.Ports.Management},
			{"xmlrpc", sd.Ports.XMLRPC},
			{"dtl", sd.Ports.DTL},
			{"edge", sd.Ports.EdgeClient},
		} {
			if p.Port == 0 {
				continue
			}
			name := fmt.Sprintf("%s %s", sd.StorageDriverID, p.Service)
			if !InRange(p.Port, portRange) {
				rec.Warning(fmt.Sprintf("Port %d of %s lies outside %v", p.Port, name, portRange), result.CodePortOutOfRange)
			}
			c.probePort(ctx, rec, name, p.Port)
		}
	}
	return nil
}

func (c *Checker) probePort(ctx context.Context, rec *result.Recorder, service string, port int) {
	if c.portOpen(ctx, c.Node.IP, port) {
		rec.Success(fmt.Sprintf("Port %d of %s is listening", port, service), result.CodePortListening)
		return
	}
	rec.Failure(fmt.Sprintf("Port %d of %s is not listening", port, service), result.CodePortClosed)
}

// InRange reports whether port lies in the [low, high] pair. A missing or
// malformed range accepts every port.
func InRange(port int, bounds []int) bool {
	if len(bounds) != 2 {
		return true
	}
	return port >= bounds[0] && port <= bounds[1]
}

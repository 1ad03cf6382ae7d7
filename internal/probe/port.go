// Package probe holds the low-level probes the checks are built on: TCP and
// DNS reachability, command execution on cluster nodes and the bounded
// worker queue used to fan out over nodes.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultPortTimeout bounds a single TCP connect.
const DefaultPortTimeout = 2 * time.Second

const loopback = "127.0.0.1"

// CheckPortConnection reports whether ip:port accepts TCP connections. When
// the first connect fails it retries once against the loopback address,
// since some services only bind there.
func CheckPortConnection(ctx context.Context, ip string, port int) bool {
	return DialPort(ctx, ip, port, DefaultPortTimeout) == nil
}

// DialPort is CheckPortConnection with the failure reason kept.
func DialPort(ctx context.Context, ip string, port int, timeout time.Duration) error {
	err := dial(ctx, ip, port, timeout)
	if err == nil || ip == loopback {
		return err
	}
	if lerr := dial(ctx, loopback, port, timeout); lerr != nil {
		return errors.Join(err, lerr)
	}
	return nil
}

func dial(ctx context.Context, ip string, port int, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	return conn.Close()
}

// Resolver is the subset of *net.Resolver the DNS probe uses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSResolves reports whether fqdn resolves. The OS resolver's own timeout
// applies unless ctx ends first.
func DNSResolves(ctx context.Context, fqdn string) bool {
	return Resolves(ctx, net.DefaultResolver, fqdn)
}

// Resolves is DNSResolves against a specific resolver.
func Resolves(ctx context.Context, r Resolver, fqdn string) bool {
	addrs, err := r.LookupHost(ctx, fqdn)
	return err == nil && len(addrs) > 0
}

package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// SSHConfig holds the credentials used to reach the other cluster nodes.
type SSHConfig struct {
	User           string
	KeyPath        string
	Port           int
	ConnectTimeout time.Duration
}

// Executors hands out one executor per node IP.
type Executors interface {
	Build(ctx context.Context, ips []string) error
	Get(ip string) (Executor, error)
}

// Dialer opens an executor for one IP.
type Dialer func(ctx context.Context, ip string) (Executor, error)

// SSHPool keeps one executor per target IP. Clients are built up front with
// Build, before any worker starts, and shared read-only afterwards.
type SSHPool struct {
	localIP string
	dial    Dialer

	mu      sync.RWMutex
	clients map[string]Executor
	errs    map[string]error
}

// NewSSHPool parses the key once and returns a pool dialling over SSH.
// localIP is served by a LocalExecutor instead of a connection.
func NewSSHPool(cfg SSHConfig, localIP string) (*SSHPool, error) {
	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading SSH key %s: %w", cfg.KeyPath, err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing SSH key %s: %w", cfg.KeyPath, err)
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return NewPool(localIP, sshDialer(cfg, signer)), nil
}

// NewPool returns a pool using dial for every non-local IP.
func NewPool(localIP string, dial Dialer) *SSHPool {
	return &SSHPool{
		localIP: localIP,
		dial:    dial,
		clients: make(map[string]Executor),
		errs:    make(map[string]error),
	}
}

func sshDialer(cfg SSHConfig, signer ssh.Signer) Dialer {
	return func(ctx context.Context, ip string) (Executor, error) {
		config := &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // cluster-internal network, keys managed by the platform
			Timeout:         cfg.ConnectTimeout,
		}

		addr := net.JoinHostPort(ip, strconv.Itoa(cfg.Port))
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
		sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("SSH handshake with %s: %w", addr, err)
		}
		conn.SetDeadline(time.Time{})
		return &SSHExecutor{client: ssh.NewClient(sshConn, chans, reqs)}, nil
	}
}

// Build connects to every IP not yet in the pool, concurrently. Connection
// failures are kept per IP and surface from Get; Build itself only fails
// when ctx ends.
func (p *SSHPool) Build(ctx context.Context, ips []string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ip := range ips {
		p.mu.RLock()
		_, have := p.clients[ip]
		p.mu.RUnlock()
		if have {
			continue
		}
		if ip == p.localIP {
			p.store(ip, LocalExecutor{}, nil)
			continue
		}
		g.Go(func() error {
			exe, err := p.dial(gctx, ip)
			if err != nil {
				slog.Debug("SSH connect failed", "ip", ip, "error", err)
			}
			p.store(ip, exe, err)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (p *SSHPool) store(ip string, exe Executor, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.errs[ip] = err
		return
	}
	p.clients[ip] = exe
	delete(p.errs, ip)
}

// Get returns the executor for ip. IPs never passed to Build are an error.
func (p *SSHPool) Get(ip string) (Executor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if exe, ok := p.clients[ip]; ok {
		return exe, nil
	}
	if err, ok := p.errs[ip]; ok {
		return nil, err
	}
	return nil, fmt.Errorf("no SSH client for %s", ip)
}

// Close closes every connection.
func (p *SSHPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ip, exe := range p.clients {
		if c, ok := exe.(io.Closer); ok {
			c.Close()
		}
		delete(p.clients, ip)
	}
	return nil
}

package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/darshan-rambhia/healthcheck/internal/registry"
)

// FileLocker is a node-wide mutex backed by flock(2) on a file per test.
// The kernel drops the lock when the process dies.
type FileLocker struct {
	Dir string
}

func (f FileLocker) path(name string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, name)
	return filepath.Join(f.Dir, "healthcheck-"+safe+".lock")
}

func (f FileLocker) TryLock(_ context.Context, name string) (func() error, error) {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	file, err := os.OpenFile(f.path(name), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrContended
		}
		return nil, fmt.Errorf("locking %s: %w", file.Name(), err)
	}
	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "%d\n", os.Getpid())
	}

	return func() error {
		defer file.Close()
		if err := unix.Flock(int(file.Fd()), unix.LOCK_UN); err != nil {
			return fmt.Errorf("unlocking %s: %w", file.Name(), err)
		}
		return nil
	}, nil
}

// RegistryLocker is a cluster-wide mutex held in the configuration registry.
type RegistryLocker struct {
	Registry registry.Registry
	Paths    registry.Paths
	Wait     time.Duration
}

func (r RegistryLocker) TryLock(ctx context.Context, name string) (func() error, error) {
	release, err := r.Registry.Lock(ctx, r.Paths.Lock(name), r.Wait)
	if errors.Is(err, registry.ErrLockHeld) {
		return nil, ErrContended
	}
	if err != nil {
		return nil, err
	}
	return release, nil
}

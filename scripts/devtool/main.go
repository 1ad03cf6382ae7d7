// Command devtool bundles the developer reports for healthcheck: the coverage
// ratchet, the fuzz campaign and the benchmark run. Each writes a text report
// under target/reports/ and exits non-zero when its gate fails.
//
// Usage:
//
//	go run ./scripts/devtool coverage
//	go run ./scripts/devtool fuzz --time 60s
//	go run ./scripts/devtool bench --time 10s
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "devtool",
		Short:         "Developer reports for healthcheck",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newCoverageCmd(), newFuzzCmd(), newBenchCmd())
	return root
}

// workspace locates the module root and the report directory.
type workspace struct {
	root    string
	reports string
}

func openWorkspace() (workspace, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return workspace{}, fmt.Errorf("locating devtool source")
	}
	dir := filepath.Dir(file)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return workspace{}, fmt.Errorf("no go.mod above %s", filepath.Dir(file))
		}
		dir = parent
	}
	ws := workspace{root: dir, reports: filepath.Join(dir, "target", "reports")}
	if err := os.MkdirAll(ws.reports, 0o755); err != nil {
		return workspace{}, fmt.Errorf("creating report directory: %w", err)
	}
	return ws, nil
}

func (w workspace) write(name, body string) (string, error) {
	path := filepath.Join(w.reports, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

func goVersion() string {
	out, err := exec.Command("go", "version").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// envOr returns the environment value for key, or def when unset. Flags take
// precedence; this only supplies their defaults.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

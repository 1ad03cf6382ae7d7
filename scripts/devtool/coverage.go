package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// thresholdFile holds the minimum total coverage, in whole percent.
const thresholdFile = "coverage_required.txt"

func newCoverageCmd() *cobra.Command {
	var noRatchet bool
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Run the test suite with coverage and enforce the ratchet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			return runCoverage(cmd, ws, !noRatchet)
		},
	}
	cmd.Flags().BoolVar(&noRatchet, "no-ratchet", false, "do not raise the threshold when coverage improves")
	return cmd
}

func runCoverage(cmd *cobra.Command, ws workspace, ratchet bool) error {
	out := cmd.OutOrStdout()
	thresholdPath := filepath.Join(ws.root, "scripts", "devtool", thresholdFile)
	required, err := readThreshold(thresholdPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "coverage threshold: %d%%\n\n", required)

	profile := filepath.Join(ws.reports, "coverage.out")
	test := exec.CommandContext(cmd.Context(), "go", "test", "./internal/...", "-count=1", "-race",
		"-coverprofile="+profile)
	test.Dir = ws.root
	test.Stdout = out
	test.Stderr = cmd.ErrOrStderr()
	if err := test.Run(); err != nil {
		return fmt.Errorf("tests failed: %w", err)
	}

	// Test doubles are not production code.
	filtered := filepath.Join(ws.reports, "coverage-filtered.out")
	if err := filterProfile(profile, filtered, "/platformtest/", "/probetest/"); err != nil {
		return err
	}

	funcs, err := exec.CommandContext(cmd.Context(), "go", "tool", "cover", "-func="+filtered).Output()
	if err != nil {
		return fmt.Errorf("generating coverage report: %w", err)
	}
	total, err := totalCoverage(string(funcs))
	if err != nil {
		return err
	}

	var report strings.Builder
	report.WriteString(header("Coverage Report"))
	report.Write(funcs)
	fmt.Fprintf(&report, "\nTotal:    %d%%\nRequired: %d%%\n", total, required)
	path, err := ws.write("coverage.txt", report.String())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "total %d%%, required %d%% (report: %s)\n", total, required, path)

	if total < required {
		return fmt.Errorf("coverage %d%% below threshold %d%%", total, required)
	}
	if ratchet && total > required {
		fmt.Fprintf(out, "raising threshold to %d%%\n", total)
		if err := os.WriteFile(thresholdPath, []byte(strconv.Itoa(total)+"\n"), 0o644); err != nil {
			return fmt.Errorf("updating %s: %w", thresholdFile, err)
		}
	}

	html := filepath.Join(ws.reports, "coverage.html")
	if err := exec.CommandContext(cmd.Context(), "go", "tool", "cover", "-html="+filtered, "-o", html).Run(); err != nil {
		fmt.Fprintf(out, "skipping html report: %v\n", err)
	}
	return nil
}

func readThreshold(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return n, nil
}

// totalCoverage extracts the truncated percentage from the "total:" line of
// `go tool cover -func` output.
func totalCoverage(funcs string) (int, error) {
	for line := range strings.SplitSeq(funcs, "\n") {
		if !strings.HasPrefix(line, "total:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return 0, fmt.Errorf("malformed total line %q", line)
		}
		pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[len(fields)-1], "%"), 64)
		if err != nil {
			return 0, fmt.Errorf("parsing total coverage: %w", err)
		}
		return int(pct), nil
	}
	return 0, fmt.Errorf("no total line in coverage output")
}

// filterProfile copies src to dst without blocks from files whose path
// contains any of skip.
func filterProfile(src, dst string, skip ...string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	var kept []string
lines:
	for line := range strings.SplitSeq(string(raw), "\n") {
		for _, s := range skip {
			if strings.Contains(line, s) {
				continue lines
			}
		}
		kept = append(kept, line)
	}
	return os.WriteFile(dst, []byte(strings.Join(kept, "\n")), 0o644)
}

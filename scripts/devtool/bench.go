package main

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var benchTime, pattern string
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run benchmarks and write target/reports/bench.txt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			c := exec.CommandContext(cmd.Context(), "go", "test", "-run=^$", "-bench="+pattern, "-benchmem",
				"-benchtime="+benchTime, "./...")
			c.Dir = ws.root
			c.Stdout = io.MultiWriter(cmd.OutOrStdout(), &buf)
			c.Stderr = io.MultiWriter(cmd.ErrOrStderr(), &buf)
			runErr := c.Run()

			var report strings.Builder
			report.WriteString(header("Benchmark Report"))
			fmt.Fprintf(&report, "Bench time: %s per benchmark\n\n", benchTime)
			report.Write(buf.Bytes())
			if runErr != nil {
				fmt.Fprintf(&report, "\n[ERROR] %v\n", runErr)
			}
			path, err := ws.write("bench.txt", report.String())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "benchmark report: %s\n", path)
			if runErr != nil {
				return fmt.Errorf("benchmarks failed: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&benchTime, "time", envOr("BENCH_TIME", "3s"), "benchtime per benchmark")
	cmd.Flags().StringVar(&pattern, "run", ".", "benchmark name pattern")
	return cmd
}

// header is the banner shared by every report.
func header(title string) string {
	sep := strings.Repeat("=", 72)
	return fmt.Sprintf("Healthcheck %s\n%s\nGenerated:  %s\nGo version: %s\nOS/Arch:    %s/%s\n%s\n\n",
		title, sep, time.Now().Format(time.RFC1123), goVersion(), runtime.GOOS, runtime.GOARCH, sep)
}

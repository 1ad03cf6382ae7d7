package main

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type fuzzTarget struct {
	Func string
	Pkg  string
}

var fuzzTargets = []fuzzTarget{
	{Func: "FuzzParseTlogListing", Pkg: "./internal/arakoon/"},
	{Func: "FuzzParseClusterConfig", Pkg: "./internal/arakoon/"},
	{Func: "FuzzExpandEnvVars", Pkg: "./internal/config/"},
	{Func: "FuzzSplitField", Pkg: "./internal/registry/"},
}

type fuzzRun struct {
	Target      fuzzTarget
	Elapsed     time.Duration
	Execs       int64
	PerSec      int64
	Interesting int
	Passed      bool
	Output      string
}

var (
	reExecs       = regexp.MustCompile(`execs:\s+(\d+)\s+\((\d+)/sec\)`)
	reInteresting = regexp.MustCompile(`new interesting:\s+(\d+)`)
)

func newFuzzCmd() *cobra.Command {
	var fuzzTime string
	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Run every fuzz target and write target/reports/fuzz.txt",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			runs := make([]fuzzRun, 0, len(fuzzTargets))
			failed := 0
			for _, t := range fuzzTargets {
				fmt.Fprintf(out, "--- %s (%s)\n", t.Func, t.Pkg)
				r := runFuzz(cmd, ws, t, fuzzTime)
				if !r.Passed {
					failed++
				}
				runs = append(runs, r)
			}
			path, err := ws.write("fuzz.txt", fuzzReport(fuzzTime, runs))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "fuzz report: %s\n", path)
			if failed > 0 {
				return fmt.Errorf("%d fuzz target(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&fuzzTime, "time", envOr("FUZZ_TIME", "30s"), "fuzz duration per target")
	return cmd
}

func runFuzz(cmd *cobra.Command, ws workspace, t fuzzTarget, fuzzTime string) fuzzRun {
	start := time.Now()
	var buf bytes.Buffer
	c := exec.CommandContext(cmd.Context(), "go", "test", "-run=^$", "-fuzz=^"+t.Func+"$", "-fuzztime="+fuzzTime, t.Pkg)
	c.Dir = ws.root
	c.Stdout = io.MultiWriter(cmd.OutOrStdout(), &buf)
	c.Stderr = io.MultiWriter(cmd.ErrOrStderr(), &buf)
	err := c.Run()

	r := fuzzRun{Target: t, Elapsed: time.Since(start), Output: buf.String()}
	r.Execs, r.PerSec, r.Interesting = fuzzStats(r.Output)
	// The fuzz timer can race test teardown and surface as a deadline error;
	// only a written corpus entry is a real finding.
	r.Passed = err == nil ||
		(strings.Contains(r.Output, "context deadline exceeded") &&
			!strings.Contains(r.Output, "Failing input written to"))
	return r
}

// fuzzStats reads the counters from the last progress line of a fuzz run.
func fuzzStats(output string) (execs, perSec int64, interesting int) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.HasPrefix(lines[i], "fuzz: elapsed:") {
			continue
		}
		if m := reExecs.FindStringSubmatch(lines[i]); m != nil {
			execs, _ = strconv.ParseInt(m[1], 10, 64)
			perSec, _ = strconv.ParseInt(m[2], 10, 64)
		}
		if m := reInteresting.FindStringSubmatch(lines[i]); m != nil {
			interesting, _ = strconv.Atoi(m[1])
		}
		break
	}
	return execs, perSec, interesting
}

func fuzzReport(fuzzTime string, runs []fuzzRun) string {
	var sb strings.Builder
	sb.WriteString(header("Fuzz Report"))
	fmt.Fprintf(&sb, "Fuzz time: %s per target\n\n", fuzzTime)

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Target", "Package", "Status", "Execs", "Execs/s", "New corpus"})
	var total int64
	for _, r := range runs {
		total += r.Execs
		tw.AppendRow(table.Row{r.Target.Func, r.Target.Pkg, passFail(r.Passed), r.Execs, r.PerSec, r.Interesting})
	}
	tw.AppendFooter(table.Row{"", "", "", total, "", ""})
	sb.WriteString(tw.Render())
	sb.WriteString("\n\n")

	for _, r := range runs {
		fmt.Fprintf(&sb, "[%s] %s in %s\n", passFail(r.Passed), r.Target.Func, r.Elapsed.Round(time.Millisecond))
		for line := range strings.SplitSeq(strings.TrimRight(r.Output, "\n"), "\n") {
			sb.WriteString("    " + line + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}

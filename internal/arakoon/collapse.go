package arakoon

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/probe"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// TlogFile is one entry of a node's tlog directory.
type TlogFile struct {
	Name     string
	Modified time.Time
}

// Verdict is the outcome of inspecting one node.
type Verdict struct {
	Severity result.Severity
	Code     result.Code
	Message  string
}

func listTlogsCommand(dir string) string {
	return fmt.Sprintf(`find %s -maxdepth 1 -type f \( -name '*.tlx' -o -name '*.tlog' \) -printf '%%T@ %%f\n'`, shellQuote(dir))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ParseTlogListing splits `<epoch> <name>` lines into closed (tlx) and open
// (tlog) segments, each sorted oldest first.
func ParseTlogListing(out []byte) (tlx, tlog []TlogFile, err error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		stamp, name, ok := strings.Cut(line, " ")
		if !ok {
			return nil, nil, fmt.Errorf("malformed tlog listing line %q", line)
		}
		secs, err := strconv.ParseFloat(stamp, 64)
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return nil, nil, fmt.Errorf("malformed timestamp in %q", line)
		}
		whole, frac := math.Modf(secs)
		f := TlogFile{Name: name, Modified: time.Unix(int64(whole), int64(frac*1e9))}
		switch {
		case strings.HasSuffix(name, ".tlx"):
			tlx = append(tlx, f)
		case strings.HasSuffix(name, ".tlog"):
			tlog = append(tlog, f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading tlog listing: %w", err)
	}
	byTime := func(s []TlogFile) {
		sort.SliceStable(s, func(i, j int) bool { return s[i].Modified.Before(s[j].Modified) })
	}
	byTime(tlx)
	byTime(tlog)
	return tlx, tlog, nil
}

// EvaluateCollapse applies the collapse rules to one node's segments. The
// age is measured from the newest closed segment to the oldest open one.
func EvaluateCollapse(tlx, tlog []TlogFile, minTlx int, maxAge time.Duration) Verdict {
	if len(tlog) == 0 {
		return Verdict{result.Failure, result.CodeTlogNotFound, "no open tlog found"}
	}
	if len(tlx) < minTlx {
		return Verdict{result.Skip, result.CodeCollapseNotWorth,
			fmt.Sprintf("only %d tlx files, not worth collapsing (minimum %d)", len(tlx), minTlx)}
	}
	age := tlog[0].Modified.Sub(tlx[len(tlx)-1].Modified)
	if age < maxAge {
		return Verdict{result.Success, result.CodeCollapseOK,
			fmt.Sprintf("collapsed %s ago, within %s", age.Round(time.Second), maxAge)}
	}
	return Verdict{result.Failure, result.CodeCollapseNotOK,
		fmt.Sprintf("not collapsed for %s, more than %s", age.Round(time.Second), maxAge)}
}

func (c *Checker) collapseTest(ctx context.Context, rec *result.Recorder, opts check.Options) error {
	minTlx := opts.Int("min-tlx-amount", c.Limits.MinTlxAmount)
	maxAge := opts.Duration("max-collapse-age", c.Limits.MaxCollapseAge)

	jobs := nodeJobs(c.clusters(ctx, rec))
	if len(jobs) == 0 {
		return nil
	}
	if err := c.connect(ctx, jobs); err != nil {
		return err
	}

	slots := probe.RunQueue(ctx, c.Limits.Workers, jobs, func(ctx context.Context, j nodeJob) (Verdict, error) {
		exe, err := c.executor(j)
		if err != nil {
			return Verdict{}, err
		}
		out, err := exe.Run(ctx, listTlogsCommand(j.Node.TlogDir))
		if err != nil {
			return Verdict{}, err
		}
		tlx, tlog, err := ParseTlogListing(out)
		if err != nil {
			return Verdict{}, err
		}
		return EvaluateCollapse(tlx, tlog, minTlx, maxAge), nil
	})

	for i, slot := range slots {
		if slot.Err != nil {
			rec.Warning(fmt.Sprintf("Could not list tlogs of %s: %v", jobs[i], slot.Err), result.CodeCollapseListFailed)
			continue
		}
		rec.Record(slot.Value.Severity, slot.Value.Code, fmt.Sprintf("%s: %s", jobs[i], slot.Value.Message))
	}
	return nil
}

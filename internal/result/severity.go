// Package result records the outcome of health checks and renders them for
// operators, monitoring agents and JSON consumers.
package result

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
)

// Severity classifies a single result entry.
type Severity int

// Severities in roll-up order. Info and Debug never raise a roll-up.
const (
	Debug Severity = iota
	Info
	Success
	Skip
	Warning
	Failure
	Exception
)

var severityNames = map[Severity]string{
	Debug:     "debug",
	Info:      "info",
	Success:   "success",
	Skip:      "skip",
	Warning:   "warning",
	Failure:   "failure",
	Exception: "exception",
}

var severityLabels = map[Severity]string{
	Debug:     "DEBUG",
	Info:      "INFO",
	Success:   "SUCCESS",
	Skip:      "SKIPPED",
	Warning:   "WARNING",
	Failure:   "FAILED",
	Exception: "EXCEPTION",
}

var severityColors = map[Severity]text.Colors{
	Debug:     {text.FgHiBlack},
	Info:      {text.FgCyan},
	Success:   {text.FgGreen},
	Skip:      {text.FgMagenta},
	Warning:   {text.FgYellow},
	Failure:   {text.FgRed},
	Exception: {text.FgHiRed, text.Bold},
}

// Countable lists the severities that are counted and appear in
// machine-readable output, in output order.
var Countable = []Severity{Success, Skip, Warning, Failure, Exception}

// String returns the lower-case name used as a JSON key.
func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Label returns the upper-case display label.
func (s Severity) Label() string {
	if l, ok := severityLabels[s]; ok {
		return l
	}
	return strings.ToUpper(s.String())
}

// Colors returns the terminal colour hint for the severity.
func (s Severity) Colors() text.Colors {
	return severityColors[s]
}

// IsCountable reports whether entries of this severity are counted.
func (s Severity) IsCountable() bool {
	return s >= Success
}

// Rank is the numeric weight used for roll-up. Info and Debug share the
// lowest rank so they never influence a test's state.
func (s Severity) Rank() int {
	if s <= Info {
		return 0
	}
	return int(s)
}

// ParseSeverity maps a name or label back to a Severity.
func ParseSeverity(s string) (Severity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for sev, name := range severityNames {
		if name == s || strings.ToLower(severityLabels[sev]) == s {
			return sev, nil
		}
	}
	return Debug, fmt.Errorf("unknown severity %q", s)
}

// Max returns the severity with the higher rank.
func Max(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

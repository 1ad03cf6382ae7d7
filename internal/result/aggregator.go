package result

import (
	"context"
	"log/slog"
	"maps"
	"sort"
	"sync"
)

// Entry is a single recorded finding. Entries are immutable once recorded.
type Entry struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// TestResult holds every entry recorded for one test, bucketed by severity.
type TestResult struct {
	Name    string
	State   Severity
	Entries map[Severity][]Entry
}

// Len returns the number of entries across all severities.
func (t TestResult) Len() int {
	n := 0
	for _, e := range t.Entries {
		n += len(e)
	}
	return n
}

// Snapshot is an immutable copy of the aggregator state.
type Snapshot struct {
	Tests    map[string]TestResult
	Counters map[Severity]int
}

// TestNames returns the recorded test names in lexical order.
func (s Snapshot) TestNames() []string {
	names := make([]string, 0, len(s.Tests))
	for n := range s.Tests {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Aggregator collects results from all checks of one run. It is safe for
// concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	tests    map[string]*TestResult
	order    []string
	counters map[Severity]int
	logger   *slog.Logger
}

// NewAggregator returns an empty aggregator that logs every record through
// logger (slog.Default if nil).
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		tests:    make(map[string]*TestResult),
		counters: make(map[Severity]int),
		logger:   logger,
	}
}

// Record appends an entry to the test's bucket for the severity, bumps the
// counter when the severity is countable and raises the roll-up if needed.
func (a *Aggregator) Record(test string, sev Severity, c Code, msg string) {
	if c.ID == "" {
		c = CodeUnspecified
	}

	a.mu.Lock()
	t, ok := a.tests[test]
	if !ok {
		t = &TestResult{Name: test, State: sev, Entries: make(map[Severity][]Entry)}
		a.tests[test] = t
		a.order = append(a.order, test)
	}
	t.Entries[sev] = append(t.Entries[sev], Entry{Code: c, Message: msg})
	t.State = Max(t.State, sev)
	if sev.IsCountable() {
		a.counters[sev]++
	}
	a.mu.Unlock()

	level := slog.LevelInfo
	switch {
	case sev == Debug:
		level = slog.LevelDebug
	case sev == Warning:
		level = slog.LevelWarn
	case sev >= Failure:
		level = slog.LevelError
	}
	a.logger.Log(context.Background(), level, msg, "test", test, "severity", sev.String(), "code", c.ID)
}

// For returns a Recorder bound to one test name.
func (a *Aggregator) For(test string) *Recorder {
	return &Recorder{agg: a, test: test}
}

// Merge folds every entry of child into parentTest. Entries keep their
// severity and code; the child's test names are prefixed onto the message.
func (a *Aggregator) Merge(child *Aggregator, parentTest string) {
	snap := child.Snapshot()
	for _, name := range child.recordOrder() {
		t := snap.Tests[name]
		for _, sev := range allSeverities {
			for _, e := range t.Entries[sev] {
				msg := e.Message
				if name != parentTest {
					msg = name + ": " + msg
				}
				a.Record(parentTest, sev, e.Code, msg)
			}
		}
	}
}

var allSeverities = []Severity{Debug, Info, Success, Skip, Warning, Failure, Exception}

func (a *Aggregator) recordOrder() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.order...)
}

// Has reports whether anything was recorded for the test.
func (a *Aggregator) Has(test string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.tests[test]
	return ok
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Tests:    make(map[string]TestResult, len(a.tests)),
		Counters: make(map[Severity]int, len(a.counters)),
	}
	for name, t := range a.tests {
		cp := TestResult{Name: t.Name, State: t.State, Entries: make(map[Severity][]Entry, len(t.Entries))}
		for sev, entries := range t.Entries {
			cp.Entries[sev] = append([]Entry(nil), entries...)
		}
		snap.Tests[name] = cp
	}
	maps.Copy(snap.Counters, a.counters)
	return snap
}

// Recorder records entries for a single test.
type Recorder struct {
	agg  *Aggregator
	test string
}

// Test returns the bound test name.
func (r *Recorder) Test() string { return r.test }

// Aggregator returns the underlying aggregator.
func (r *Recorder) Aggregator() *Aggregator { return r.agg }

// Record appends an entry with an explicit severity.
func (r *Recorder) Record(sev Severity, c Code, msg string) { r.agg.Record(r.test, sev, c, msg) }

func (r *Recorder) Success(msg string, c Code)   { r.Record(Success, c, msg) }
func (r *Recorder) Info(msg string, c Code)      { r.Record(Info, c, msg) }
func (r *Recorder) Debug(msg string, c Code)     { r.Record(Debug, c, msg) }
func (r *Recorder) Skip(msg string, c Code)      { r.Record(Skip, c, msg) }
func (r *Recorder) Warning(msg string, c Code)   { r.Record(Warning, c, msg) }
func (r *Recorder) Failure(msg string, c Code)   { r.Record(Failure, c, msg) }
func (r *Recorder) Exception(msg string, c Code) { r.Record(Exception, c, msg) }

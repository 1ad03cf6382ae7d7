package result

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Mode selects the output format.
type Mode int

const (
	ModeHuman Mode = iota
	ModeCompact
	ModeJSON
)

// ModeFor picks the output mode from the two CLI flags. JSON wins when both
// are set.
func ModeFor(unattended, toJSON bool) Mode {
	switch {
	case toJSON:
		return ModeJSON
	case unattended:
		return ModeCompact
	default:
		return ModeHuman
	}
}

// RenderOptions tunes human output.
type RenderOptions struct {
	Color        bool
	ShowDebug    bool
	ShowSummary  bool
	ShowCodeHint bool
}

// Serialize writes the aggregator state in the requested mode.
func (a *Aggregator) Serialize(w io.Writer, mode Mode, opts RenderOptions) error {
	snap := a.Snapshot()
	switch mode {
	case ModeJSON:
		return writeJSON(w, snap)
	case ModeCompact:
		return writeCompact(w, snap)
	default:
		return writeHuman(w, snap, opts)
	}
}

// JSONTest is the per-test value of the JSON document.
type JSONTest struct {
	State    string             `json:"state"`
	Messages map[string][]Entry `json:"messages"`
}

// JSONDocument builds the machine-readable document. Every test carries the
// full set of countable severity keys, empty or not.
func JSONDocument(snap Snapshot) map[string]JSONTest {
	doc := make(map[string]JSONTest, len(snap.Tests))
	for name, t := range snap.Tests {
		msgs := make(map[string][]Entry, len(Countable))
		for _, sev := range Countable {
			entries := t.Entries[sev]
			if entries == nil {
				entries = []Entry{}
			}
			msgs[sev.String()] = entries
		}
		doc[name] = JSONTest{State: t.State.Label(), Messages: msgs}
	}
	return doc
}

func writeJSON(w io.Writer, snap Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(JSONDocument(snap)); err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	return nil
}

func writeCompact(w io.Writer, snap Snapshot) error {
	for _, name := range snap.TestNames() {
		if _, err := fmt.Fprintf(w, "%s %s\n", name, snap.Tests[name].State.Label()); err != nil {
			return err
		}
	}
	return nil
}

var humanOrder = []Severity{Debug, Info, Success, Skip, Warning, Failure, Exception}

func writeHuman(w io.Writer, snap Snapshot, opts RenderOptions) error {
	paint := func(sev Severity, s string) string {
		if !opts.Color {
			return s
		}
		return sev.Colors().Sprint(s)
	}

	for _, name := range snap.TestNames() {
		t := snap.Tests[name]
		header := fmt.Sprintf("%s [%s]", name, t.State.Label())
		if opts.Color {
			header = text.Bold.Sprint(name) + " " + paint(t.State, "["+t.State.Label()+"]")
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		for _, sev := range humanOrder {
			if sev == Debug && !opts.ShowDebug {
				continue
			}
			for _, e := range t.Entries[sev] {
				line := fmt.Sprintf("  %s %s", paint(sev, "["+sev.Label()+"]"), e.Message)
				if opts.ShowCodeHint && e.Code.Hint != "" && sev.Rank() >= Warning.Rank() {
					line += fmt.Sprintf(" (%s: %s)", e.Code.ID, e.Code.Hint)
				}
				if _, err := fmt.Fprintln(w, line); err != nil {
					return err
				}
			}
		}
	}

	if !opts.ShowSummary {
		return nil
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Summary")
	row := table.Row{}
	header := table.Row{}
	for _, sev := range Countable {
		header = append(header, paint(sev, sev.Label()))
		row = append(row, snap.Counters[sev])
	}
	tw.AppendHeader(header)
	tw.AppendRow(row)
	tw.SetStyle(table.StyleLight)
	tw.Render()
	return nil
}

package result

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WritePrometheus writes the roll-up of every test and the per-severity
// counters to a node-exporter textfile.
func (a *Aggregator) WritePrometheus(path string) error {
	snap := a.Snapshot()
	reg := prometheus.NewRegistry()

	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "healthcheck_test_state",
		Help: "Roll-up severity rank of a health check test (2=success, 3=skip, 4=warning, 5=failure, 6=exception).",
	}, []string{"test", "state"})
	counts := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "healthcheck_results",
		Help: "Number of recorded result entries per severity.",
	}, []string{"severity"})
	reg.MustRegister(state, counts)

	for name, t := range snap.Tests {
		state.WithLabelValues(name, t.State.Label()).Set(float64(t.State.Rank()))
	}
	for _, sev := range Countable {
		counts.WithLabelValues(sev.String()).Set(float64(snap.Counters[sev]))
	}

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("writing textfile %s: %w", path, err)
	}
	return nil
}

package alba

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/platform"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

// NamespaceAmount is the share of a namespace's objects at one safety level.
type NamespaceAmount struct {
	Namespace string  `json:"namespace"`
	Amount    float64 `json:"amount_in_bucket"`
}

// PolicySafety groups the namespaces of one policy by remaining safety.
type PolicySafety struct {
	MaxDiskSafety int                       `json:"max_disk_safety"`
	Current       map[int][]NamespaceAmount `json:"current_disk_safety"`
}

// Finding is one entry to record.
type Finding struct {
	Severity result.Severity
	Code     result.Code
	Message  string
}

// BuildSafety buckets namespaces per "k,m" policy and remaining safety.
// Every policy of presets appears, even without data. Namespaces starting
// with any of skip are left out.
func BuildSafety(presets []platform.Preset, namespaces []NamespaceSafety, skip []string) map[string]*PolicySafety {
	out := make(map[string]*PolicySafety)
	policy := func(p platform.Policy) *PolicySafety {
		ps, ok := out[p.Prefix()]
		if !ok {
			ps = &PolicySafety{MaxDiskSafety: p.M, Current: make(map[int][]NamespaceAmount)}
			out[p.Prefix()] = ps
		}
		return ps
	}
	for _, preset := range presets {
		for _, p := range preset.Policies {
			policy(p)
		}
	}

	for _, ns := range namespaces {
		if hasAnyPrefix(ns.Namespace, skip) {
			continue
		}
		var total int64
		for _, b := range ns.BucketSafety {
			total += b.Count
		}
		if total == 0 {
			continue
		}

		type cell struct {
			prefix string
			safety int
		}
		counts := make(map[cell]int64)
		policies := make(map[string]platform.Policy)
		for _, b := range ns.BucketSafety {
			p, ok := b.Policy()
			if !ok {
				continue
			}
			policies[p.Prefix()] = p
			counts[cell{p.Prefix(), b.RemainingSafety}] += b.Count
		}
		for c, n := range counts {
			ps := policy(policies[c.prefix])
			ps.Current[c.safety] = append(ps.Current[c.safety], NamespaceAmount{
				Namespace: ns.Namespace,
				Amount:    float64(n) * 100 / float64(total),
			})
		}
	}

	for _, ps := range out {
		for _, list := range ps.Current {
			sort.Slice(list, func(i, j int) bool { return list[i].Namespace < list[j].Namespace })
		}
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// EvaluatePolicy grades one (backend, policy) pair.
func EvaluatePolicy(backend, prefix string, ps *PolicySafety) []Finding {
	label := fmt.Sprintf("Backend %s policy %s", backend, prefix)
	if len(ps.Current) == 0 {
		return []Finding{{result.Skip, result.CodeDiskSafetyNoData, label + ": no data found"}}
	}
	if len(ps.Current) == 1 {
		if _, ok := ps.Current[ps.MaxDiskSafety]; ok {
			return []Finding{{result.Success, result.CodeDiskSafetyOK, label + ": all data is safe"}}
		}
	}

	levels := make([]int, 0, len(ps.Current))
	for s := range ps.Current {
		levels = append(levels, s)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(levels)))

	var out []Finding
	for _, s := range levels {
		detail := fmt.Sprintf("%s: safety %d of %d for %s", label, s, ps.MaxDiskSafety, formatAmounts(ps.Current[s]))
		switch {
		case s >= ps.MaxDiskSafety:
			out = append(out, Finding{result.Success, result.CodeDiskSafetyOK, detail})
		case s > 0:
			out = append(out, Finding{result.Warning, result.CodeDiskSafetyWarning, detail})
		case s == 0:
			out = append(out, Finding{result.Failure, result.CodeDiskSafetyZero, detail + ", zero safety"})
		default:
			out = append(out, Finding{result.Failure, result.CodeDiskSafetyBelowZero, detail + ", below zero safety"})
		}
	}
	return out
}

func formatAmounts(list []NamespaceAmount) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = fmt.Sprintf("%s at %.5f%%", a.Namespace, a.Amount)
	}
	return strings.Join(parts, ", ")
}

func (c *Checker) diskSafetyTest(ctx context.Context, rec *result.Recorder, opts check.Options) error {
	includeErrored := opts.Bool("include-errored-as-dead", false)
	backends, err := c.Model.AlbaBackends(ctx)
	if err != nil {
		rec.Failure(fmt.Sprintf("Unable to list backends: %v", err), result.CodeBackendListFailed)
		return nil
	}

	for _, b := range backends {
		report, err := c.backendSafety(ctx, b, includeErrored)
		if err != nil {
			rec.Failure(fmt.Sprintf("Unable to query disk safety of backend %s: %v", b.Name, err), result.CodeDiskSafetyQueryFailed)
			continue
		}
		prefixes := make([]string, 0, len(report))
		for p := range report {
			prefixes = append(prefixes, p)
		}
		sort.Strings(prefixes)
		for _, p := range prefixes {
			for _, f := range EvaluatePolicy(b.Name, p, report[p]) {
				rec.Record(f.Severity, f.Code, f.Message)
			}
		}
	}
	return nil
}

func (c *Checker) backendSafety(ctx context.Context, b platform.AlbaBackend, includeErrored bool) (map[string]*PolicySafety, error) {
	cfg := c.configURL(b.ABMCluster)
	safety, err := c.CLI.DiskSafety(ctx, cfg, includeErrored)
	if err != nil {
		return nil, err
	}
	maint, err := c.CLI.MaintenanceConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	presets, err := c.CLI.ListPresets(ctx, cfg)
	if err != nil {
		return nil, err
	}
	skip := []string{HealthcheckPrefix}
	for p := range maint.CacheEvictionPrefixes {
		skip = append(skip, p)
	}
	return BuildSafety(presets, safety, skip), nil
}

package arakoon

import (
	"context"
	"errors"
	"fmt"

	"github.com/darshan-rambhia/healthcheck/internal/check"
	"github.com/darshan-rambhia/healthcheck/internal/result"
)

func (c *Checker) nodesTest(ctx context.Context, rec *result.Recorder, opts check.Options) error {
	maxBehind := int64(opts.Int("max-transactions-behind", c.Limits.MaxTransactionsBehind))
	for _, cfg := range c.clusters(ctx, rec) {
		stats, err := c.Client.Statistics(ctx, cfg)
		switch {
		case errors.Is(err, ErrNoMaster):
			rec.Failure(fmt.Sprintf("Cluster %s has no master", cfg.Name), result.CodeMasterNone)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rec.Failure(fmt.Sprintf("Unable to fetch statistics of cluster %s: %v", cfg.Name, err), result.CodeStatisticsFailed)
			continue
		}
		EvaluateNodes(rec, cfg, stats, maxBehind)
	}
	return nil
}

// EvaluateNodes records one entry per roster node. The node with the highest
// sequence number is taken as the leader.
func EvaluateNodes(rec *result.Recorder, cfg ClusterConfig, stats Statistics, maxBehind int64) {
	if len(stats.NodeIs) == 0 {
		rec.Failure(fmt.Sprintf("Cluster %s reported no node statistics", cfg.Name), result.CodeMasterNone)
		return
	}

	leader := ""
	var leaderSeq int64
	for id, seq := range stats.NodeIs {
		if leader == "" || seq > leaderSeq || (seq == leaderSeq && id < leader) {
			leader, leaderSeq = id, seq
		}
	}

	for _, id := range cfg.NodeIDs() {
		seq, ok := stats.NodeIs[id]
		behind := leaderSeq - seq
		switch {
		case !ok:
			rec.Failure(fmt.Sprintf("Node %s of cluster %s is missing from the master's statistics", id, cfg.Name), result.CodeNodeMissing)
		case id == leader:
			rec.Success(fmt.Sprintf("Node %s is the leader of cluster %s at seq %d", id, cfg.Name, seq), result.CodeNodeUpToDate)
		case behind == 0:
			rec.Success(fmt.Sprintf("Node %s of cluster %s is up to date", id, cfg.Name), result.CodeNodeUpToDate)
		case behind > maxBehind:
			rec.Failure(fmt.Sprintf("Node %s of cluster %s is %d transactions behind the master", id, cfg.Name, behind), result.CodeMasterBehind)
		case seq == 0:
			rec.Warning(fmt.Sprintf("Node %s of cluster %s is catching up", id, cfg.Name), result.CodeNodeCatchingUp)
		default:
			rec.Success(fmt.Sprintf("Node %s of cluster %s is %d transactions behind, within %d", id, cfg.Name, behind, maxBehind), result.CodeNodeUpToDate)
		}
	}
}

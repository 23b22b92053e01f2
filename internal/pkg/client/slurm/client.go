// Package slurm is the telemetry source: it obtains node and queue state by
// running scheduler commands on a cluster's head node and parsing their
// output. Connectivity loss surfaces as an explicit error so callers can mark
// the affected nodes unreachable instead of silently dropping them.
package slurm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jtonini/cluster-monitor/internal/pkg/client/remote"
	"github.com/jtonini/cluster-monitor/internal/pkg/config"
	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// Client queries one cluster through an injected command runner.
type Client struct {
	cluster     string
	conf        config.ClusterConfig
	runner      remote.Runner
	checkedFrom string
	logger      *slog.Logger
}

func New(conf config.ClusterConfig, runner remote.Runner, checkedFrom string, logger *slog.Logger) *Client {
	return &Client{
		cluster:     conf.Name,
		conf:        conf,
		runner:      runner,
		checkedFrom: checkedFrom,
		logger:      logger,
	}
}

// GetNodeStates returns one record per node with state, partition membership
// and resource allocation, from "scontrol show node". Each node appears
// exactly once regardless of how many partitions it belongs to.
func (c *Client) GetNodeStates(ctx context.Context) (model.NodeRecords, error) {
	res := c.runner.Run(ctx, c.conf.NodeCommand)
	if !res.OK {
		return nil, fmt.Errorf("unable to query node states on %s: exit %d: %s",
			c.cluster, res.ExitCode, res.Stderr)
	}
	now := time.Now()
	records := parseNodeDetail(res.Stdout)
	for i := range records {
		records[i].Cluster = c.cluster
		records[i].ObservedAt = now
		records[i].CheckedFrom = c.checkedFrom
	}
	return records, nil
}

// GetNodeState re-queries a single node, used for post-recovery verification.
func (c *Client) GetNodeState(ctx context.Context, node string) (model.NodeRecord, error) {
	res := c.runner.Run(ctx, c.conf.NodeCommand+" "+node)
	if !res.OK {
		return model.NodeRecord{}, fmt.Errorf("unable to query node %s on %s: exit %d: %s",
			node, c.cluster, res.ExitCode, res.Stderr)
	}
	records := parseNodeDetail(res.Stdout)
	for _, r := range records {
		if r.NodeName == node {
			r.Cluster = c.cluster
			r.ObservedAt = time.Now()
			r.CheckedFrom = c.checkedFrom
			return r, nil
		}
	}
	return model.NodeRecord{}, fmt.Errorf("node %s not present in scheduler output for %s", node, c.cluster)
}

// GetNodeHealthSweep returns raw state per node from the cluster's cheap
// check command (sinfo). sinfo -N prints one line per partition membership;
// the sweep keeps each node once.
func (c *Client) GetNodeHealthSweep(ctx context.Context) (map[string]string, error) {
	res := c.runner.Run(ctx, c.conf.CheckCommand)
	if !res.OK {
		return nil, fmt.Errorf("unable to run check command on %s: exit %d: %s",
			c.cluster, res.ExitCode, res.Stderr)
	}
	return parseSinfo(res.Stdout), nil
}

// GetPendingJobs returns the pending queue with requested resources and the
// scheduler's surfaced reason string.
func (c *Client) GetPendingJobs(ctx context.Context) (model.JobRecords, error) {
	res := c.runner.Run(ctx, c.conf.QueueCommand)
	if !res.OK {
		return nil, fmt.Errorf("unable to query pending jobs on %s: exit %d: %s",
			c.cluster, res.ExitCode, res.Stderr)
	}
	jobs, err := parseQueue(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("unable to parse queue output for %s: %w", c.cluster, err)
	}
	for i := range jobs {
		jobs[i].Cluster = c.cluster
		jobs[i].State = "pending"
	}
	return jobs, nil
}

// Snapshot bundles node and queue telemetry taken back to back.
func (c *Client) Snapshot(ctx context.Context) (model.Snapshot, error) {
	nodes, err := c.GetNodeStates(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	jobs, err := c.GetPendingJobs(ctx)
	if err != nil {
		return model.Snapshot{}, err
	}
	return model.Snapshot{
		Cluster: c.cluster,
		Nodes:   nodes,
		Jobs:    jobs,
		TakenAt: time.Now(),
	}, nil
}

// Package diagnose determines the true blocking cause for pending jobs the
// scheduler reports as waiting on unavailable nodes. The scheduler's surfaced
// reason string is frequently stale or generic; the engine cross-references
// each job's resource request against live per-node headroom instead.
package diagnose

import (
	"fmt"

	"github.com/jtonini/cluster-monitor/internal/pkg/health"
	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// Engine is a pure verdict computer. It holds only the classifier; Diagnose
// makes no external calls and keeps no state between invocations.
type Engine struct {
	classifier *health.Classifier
}

func New(classifier *health.Classifier) *Engine {
	return &Engine{classifier: classifier}
}

// Diagnose produces one verdict per pending job in the snapshot, in queue
// order. Causes are evaluated in fixed priority: NodesDown, then CPU, GPU and
// memory exhaustion, then Other. The first matching cause wins; ties break by
// this priority, never by magnitude. Deterministic for a fixed snapshot.
func (e *Engine) Diagnose(snap model.Snapshot) model.Verdicts {
	verdicts := make(model.Verdicts, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		if job.State != "" && job.State != "pending" {
			continue
		}
		verdicts = append(verdicts, e.diagnoseJob(snap, job))
	}
	return verdicts
}

func (e *Engine) diagnoseJob(snap model.Snapshot, job model.JobRecord) model.Verdict {
	v := model.Verdict{
		Cluster:        snap.Cluster,
		JobID:          job.JobID,
		SurfacedReason: job.Reason,
		ComputedAt:     snap.TakenAt,
	}

	eligible := nodesInPartition(snap.Nodes, job.Partition)
	if len(eligible) == 0 {
		// configuration drift: the job names a partition the node snapshot
		// does not know; degrade to Other instead of failing the pass
		v.TrueCause = model.CauseOther
		v.Evidence = model.Evidence{
			Note: fmt.Sprintf("partition %q not present in node snapshot", job.Partition),
		}
		return v
	}

	ev := model.Evidence{
		EligibleNodes:  len(eligible),
		RequestedCPUs:  job.CPUs,
		RequestedGPUs:  job.GPUs,
		RequestedMemMB: job.MemoryMB,
	}

	var healthy model.NodeRecords
	for _, n := range eligible {
		if e.category(n) == health.Healthy {
			healthy = append(healthy, n)
		}
	}
	ev.HealthyNodes = len(healthy)

	if len(healthy) == 0 {
		// the surfaced "nodes unavailable" reason is truthful
		v.TrueCause = model.CauseNodesDown
		ev.Note = "all eligible nodes are down or unreachable"
		v.Evidence = ev
		return v
	}

	// single-node jobs must fit on one node; multi-node requests are checked
	// against the partition-wide sum
	singleNode := job.Nodes <= 1
	ev.CPUHeadroom = headroom(healthy, singleNode, func(n model.NodeRecord) int64 { return n.CPUsTotal - n.CPUsAlloc })
	ev.GPUHeadroom = headroom(healthy, singleNode, func(n model.NodeRecord) int64 { return n.GPUsTotal - n.GPUsAlloc })
	ev.MemHeadroomMB = headroom(healthy, singleNode, func(n model.NodeRecord) int64 { return n.MemTotalMB - n.MemAllocMB })

	switch {
	case job.CPUs > 0 && ev.CPUHeadroom < job.CPUs:
		v.TrueCause = model.CauseCPUExhausted
		ev.Note = fmt.Sprintf("cpu headroom %d < requested %d", ev.CPUHeadroom, job.CPUs)
	case job.GPUs > 0 && ev.GPUHeadroom < job.GPUs:
		v.TrueCause = model.CauseGPUExhausted
		ev.Note = fmt.Sprintf("gpu headroom %d < requested %d", ev.GPUHeadroom, job.GPUs)
	case job.MemoryMB > 0 && ev.MemHeadroomMB < job.MemoryMB:
		v.TrueCause = model.CauseMemoryExhausted
		ev.Note = fmt.Sprintf("memory headroom %dMB < requested %dMB", ev.MemHeadroomMB, job.MemoryMB)
	default:
		// resources suffice yet the job pends: fair-share priority,
		// reservations, limits
		v.TrueCause = model.CauseOther
		ev.Note = "sufficient resources available; job held by priority, reservation or limits"
	}
	v.Evidence = ev
	return v
}

// category respects an Unreachable mark set by the telemetry layer; anything
// else is classified from the raw state token.
func (e *Engine) category(n model.NodeRecord) health.Category {
	if n.Health == health.Unreachable.String() {
		return health.Unreachable
	}
	return e.classifier.Classify(n.RawState)
}

func nodesInPartition(nodes model.NodeRecords, partition string) model.NodeRecords {
	matched := make(model.NodeRecords, 0)
	for _, n := range nodes {
		for _, p := range n.Partitions {
			if p == partition {
				matched = append(matched, n)
				break
			}
		}
	}
	return matched
}

// headroom sums free capacity across nodes, or takes the best single node for
// jobs that must land on one.
func headroom(nodes model.NodeRecords, singleNode bool, free func(model.NodeRecord) int64) int64 {
	var total, best int64
	for _, n := range nodes {
		f := free(n)
		if f < 0 {
			f = 0
		}
		total += f
		if f > best {
			best = f
		}
	}
	if singleNode {
		return best
	}
	return total
}

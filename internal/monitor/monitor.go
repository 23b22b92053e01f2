// Package monitor runs the periodic cycle: sweep every cluster's telemetry,
// classify nodes, persist observations, fan recovery out over problem nodes,
// diagnose the pending queue and send the cycle notification.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jtonini/cluster-monitor/internal/pkg/health"
	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// Telemetry supplies one cluster's node and queue state. The health sweep is
// the cheap sinfo pass and is authoritative for classification; the node
// states carry resource detail.
type Telemetry interface {
	GetNodeHealthSweep(ctx context.Context) (map[string]string, error)
	GetNodeStates(ctx context.Context) (model.NodeRecords, error)
	GetPendingJobs(ctx context.Context) (model.JobRecords, error)
}

// Recoverer takes one problem node through the incident lifecycle and reports
// the outcome, empty when the node was already being handled.
type Recoverer interface {
	Recover(ctx context.Context, node string) (string, error)
}

// Ledger is the persistence surface a cycle writes to. A Ledger error aborts
// the cycle: observations that cannot be recorded must not drive recovery.
type Ledger interface {
	AppendStatus(ctx context.Context, records model.NodeRecords) error
	AppendEvent(ctx context.Context, e model.Event) error
	SaveVerdicts(ctx context.Context, verdicts model.Verdicts) error
}

// Notifier delivers a cycle notification. Delivery failure is logged, never
// fatal.
type Notifier interface {
	Notify(severity, subject, body string) error
}

// Diagnoser explains pending jobs from a telemetry snapshot.
type Diagnoser interface {
	Diagnose(snap model.Snapshot) model.Verdicts
}

// ClusterWorker bundles everything the cycle needs for one cluster.
type ClusterWorker struct {
	Name       string
	Nodes      []string // configured node names, recorded unreachable on sweep failure
	Telemetry  Telemetry
	Recovery   Recoverer
	Classifier *health.Classifier
}

// ClusterSummary is the per-cluster outcome of one cycle.
type ClusterSummary struct {
	Cluster      string   `json:"cluster"`
	Total        int      `json:"total"`
	Healthy      int      `json:"healthy"`
	Problem      int      `json:"problem"`
	Unreachable  int      `json:"unreachable"`
	ProblemNodes []string `json:"problem_nodes,omitempty"`
	Recovered    []string `json:"recovered,omitempty"`
	Exhausted    []string `json:"exhausted,omitempty"`
	Verdicts     int      `json:"verdicts"`
	SweepError   string   `json:"sweep_error,omitempty"`
}

// CycleSummary is the outcome of one full cycle across all clusters.
type CycleSummary struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Clusters   []ClusterSummary `json:"clusters"`
}

// ProblemCount sums problem nodes across clusters.
func (s *CycleSummary) ProblemCount() int {
	n := 0
	for _, c := range s.Clusters {
		n += c.Problem
	}
	return n
}

type Monitor struct {
	workers       []*ClusterWorker
	ledger        Ledger
	diagnoser     Diagnoser
	notifier      Notifier
	diagnoseQueue bool
	logger        *slog.Logger
}

func New(workers []*ClusterWorker, ledger Ledger, diagnoser Diagnoser, notifier Notifier,
	diagnoseQueue bool, logger *slog.Logger) *Monitor {
	sorted := make([]*ClusterWorker, len(workers))
	copy(sorted, workers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Monitor{
		workers:       sorted,
		ledger:        ledger,
		diagnoser:     diagnoser,
		notifier:      notifier,
		diagnoseQueue: diagnoseQueue,
		logger:        logger,
	}
}

// Run executes cycles on the given interval until the context is cancelled.
// The first cycle runs immediately.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := m.RunCycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle sweeps all clusters concurrently and returns the cycle summary.
// An unreachable cluster degrades its own summary; only a Ledger failure
// fails the cycle.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleSummary, error) {
	summary := &CycleSummary{
		StartedAt: time.Now(),
		Clusters:  make([]ClusterSummary, len(m.workers)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range m.workers {
		i, w := i, w
		g.Go(func() error {
			cs, err := m.runCluster(gctx, w)
			if err != nil {
				return fmt.Errorf("cluster %s: %w", w.Name, err)
			}
			summary.Clusters[i] = cs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	summary.FinishedAt = time.Now()

	m.notify(summary)
	return summary, nil
}

func (m *Monitor) runCluster(ctx context.Context, w *ClusterWorker) (ClusterSummary, error) {
	cs := ClusterSummary{Cluster: w.Name}
	logger := m.logger.With("cluster", w.Name)

	records, err := m.observe(ctx, w)
	if err != nil {
		logger.Error("telemetry failed, marking configured nodes unreachable", "error", err)
		cs.SweepError = err.Error()
		if lerr := m.recordUnreachable(ctx, w, err); lerr != nil {
			return cs, lerr
		}
		cs.Total = len(w.Nodes)
		cs.Unreachable = len(w.Nodes)
		return cs, nil
	}

	var problems model.NodeRecords
	for i := range records {
		category := w.Classifier.Classify(records[i].RawState)
		records[i].Health = category.String()
		switch category {
		case health.Healthy:
			cs.Healthy++
		case health.Problem:
			cs.Problem++
			problems = append(problems, records[i])
			cs.ProblemNodes = append(cs.ProblemNodes, records[i].NodeName)
		default:
			cs.Unreachable++
		}
	}
	cs.Total = len(records)

	if err := m.ledger.AppendStatus(ctx, records); err != nil {
		return cs, fmt.Errorf("append status: %w", err)
	}
	for _, p := range problems {
		if err := m.ledger.AppendEvent(ctx, model.Event{
			Cluster:    w.Name,
			NodeName:   p.NodeName,
			EventType:  "node_down",
			Details:    fmt.Sprintf("node in state %s", p.RawState),
			Severity:   model.SeverityWarning,
			OccurredAt: time.Now(),
		}); err != nil {
			return cs, fmt.Errorf("append event: %w", err)
		}
	}

	if w.Recovery != nil && len(problems) > 0 {
		recovered, exhausted, err := m.recoverAll(ctx, w, problems)
		if err != nil {
			return cs, err
		}
		cs.Recovered = recovered
		cs.Exhausted = exhausted
	}

	if m.diagnoseQueue && m.diagnoser != nil {
		n, err := m.diagnoseCluster(ctx, w, records, logger)
		if err != nil {
			return cs, err
		}
		cs.Verdicts = n
	}
	return cs, nil
}

// observe takes both telemetry passes: the cheap sinfo sweep, then the
// scontrol detail query. The sweep state wins for classification because it
// carries the non-responding marker; nodes the sweep knows but the detail
// query omitted still get a record.
func (m *Monitor) observe(ctx context.Context, w *ClusterWorker) (model.NodeRecords, error) {
	sweep, err := w.Telemetry.GetNodeHealthSweep(ctx)
	if err != nil {
		return nil, fmt.Errorf("health sweep: %w", err)
	}
	records, err := w.Telemetry.GetNodeStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("node detail: %w", err)
	}

	seen := make(map[string]bool, len(records))
	for i := range records {
		if state, ok := sweep[records[i].NodeName]; ok {
			records[i].RawState = state
		}
		seen[records[i].NodeName] = true
	}

	missing := make([]string, 0)
	for name := range sweep {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	now := time.Now()
	for _, name := range missing {
		records = append(records, model.NodeRecord{
			Cluster:    w.Name,
			NodeName:   name,
			RawState:   sweep[name],
			ObservedAt: now,
		})
	}
	return records, nil
}

// recordUnreachable writes an unreachable observation for every configured
// node so the cluster does not silently vanish from the latest-status view.
func (m *Monitor) recordUnreachable(ctx context.Context, w *ClusterWorker, cause error) error {
	now := time.Now()
	records := make(model.NodeRecords, 0, len(w.Nodes))
	for _, node := range w.Nodes {
		records = append(records, model.NodeRecord{
			Cluster:    w.Name,
			NodeName:   node,
			Health:     health.Unreachable.String(),
			ObservedAt: now,
		})
	}
	if len(records) > 0 {
		if err := m.ledger.AppendStatus(ctx, records); err != nil {
			return fmt.Errorf("append status: %w", err)
		}
	}
	if err := m.ledger.AppendEvent(ctx, model.Event{
		Cluster:    w.Name,
		EventType:  "check_failed",
		Details:    cause.Error(),
		Severity:   model.SeverityWarning,
		OccurredAt: now,
	}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// recoverAll runs recovery for each problem node concurrently. Outcomes are
// collected per node; a Ledger error inside any recovery aborts the cycle.
func (m *Monitor) recoverAll(ctx context.Context, w *ClusterWorker, problems model.NodeRecords) (recovered, exhausted []string, err error) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range problems {
		node := p.NodeName
		g.Go(func() error {
			outcome, rerr := w.Recovery.Recover(gctx, node)
			if rerr != nil {
				return rerr
			}
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case model.IncidentResolved:
				recovered = append(recovered, node)
			case model.IncidentExhausted:
				exhausted = append(exhausted, node)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Strings(recovered)
	sort.Strings(exhausted)
	return recovered, exhausted, nil
}

// diagnoseCluster explains the pending queue against the node snapshot just
// taken. A queue query failure skips diagnosis for the cycle.
func (m *Monitor) diagnoseCluster(ctx context.Context, w *ClusterWorker, nodes model.NodeRecords, logger *slog.Logger) (int, error) {
	jobs, err := w.Telemetry.GetPendingJobs(ctx)
	if err != nil {
		logger.Warn("queue query failed, skipping diagnosis", "error", err)
		return 0, nil
	}
	verdicts := m.diagnoser.Diagnose(model.Snapshot{
		Cluster: w.Name,
		Nodes:   nodes,
		Jobs:    jobs,
		TakenAt: time.Now(),
	})
	if len(verdicts) == 0 {
		return 0, nil
	}
	if err := m.ledger.SaveVerdicts(ctx, verdicts); err != nil {
		return 0, fmt.Errorf("save verdicts: %w", err)
	}
	return len(verdicts), nil
}

// notify sends the cycle notification: warning for up to three problem nodes,
// critical beyond that, nothing when all clusters are clean.
func (m *Monitor) notify(summary *CycleSummary) {
	if m.notifier == nil {
		return
	}
	problems := summary.ProblemCount()
	if problems == 0 {
		return
	}
	severity := model.SeverityWarning
	if problems > 3 {
		severity = model.SeverityCritical
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d problem node(s) detected across %d cluster(s).\n\n", problems, len(summary.Clusters))
	for _, c := range summary.Clusters {
		if c.SweepError != "" {
			fmt.Fprintf(&b, "%s: UNREACHABLE (%s)\n", c.Cluster, c.SweepError)
			continue
		}
		if c.Problem == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", c.Cluster, strings.Join(c.ProblemNodes, ", "))
		if len(c.Recovered) > 0 {
			fmt.Fprintf(&b, "  recovered: %s\n", strings.Join(c.Recovered, ", "))
		}
		if len(c.Exhausted) > 0 {
			fmt.Fprintf(&b, "  needs manual intervention: %s\n", strings.Join(c.Exhausted, ", "))
		}
	}

	subject := fmt.Sprintf("%d problem node(s) detected", problems)
	if err := m.notifier.Notify(severity, subject, b.String()); err != nil {
		m.logger.Error("unable to send cycle notification", "error", err)
	}
}

package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtonini/cluster-monitor/internal/pkg/health"
	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

type fakeTelemetry struct {
	sweep    map[string]string
	sweepErr error
	nodes    model.NodeRecords
	nodesErr error
	jobs     model.JobRecords
	jobsErr  error
}

func (f *fakeTelemetry) GetNodeHealthSweep(context.Context) (map[string]string, error) {
	return f.sweep, f.sweepErr
}

func (f *fakeTelemetry) GetNodeStates(context.Context) (model.NodeRecords, error) {
	return f.nodes, f.nodesErr
}

func (f *fakeTelemetry) GetPendingJobs(context.Context) (model.JobRecords, error) {
	return f.jobs, f.jobsErr
}

type fakeRecoverer struct {
	mu       sync.Mutex
	outcomes map[string]string
	calls    []string
}

func (f *fakeRecoverer) Recover(_ context.Context, node string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, node)
	return f.outcomes[node], nil
}

type fakeLedger struct {
	mu       sync.Mutex
	statuses model.NodeRecords
	events   []model.Event
	verdicts model.Verdicts
	failWith error
}

func (f *fakeLedger) AppendStatus(_ context.Context, records model.NodeRecords) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.statuses = append(f.statuses, records...)
	return nil
}

func (f *fakeLedger) AppendEvent(_ context.Context, e model.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeLedger) SaveVerdicts(_ context.Context, verdicts model.Verdicts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.verdicts = append(f.verdicts, verdicts...)
	return nil
}

type fakeNotifier struct {
	severity string
	subject  string
	body     string
	calls    int
}

func (f *fakeNotifier) Notify(severity, subject, body string) error {
	f.calls++
	f.severity = severity
	f.subject = subject
	f.body = body
	return nil
}

type fakeDiagnoser struct {
	verdicts model.Verdicts
	snap     model.Snapshot
}

func (f *fakeDiagnoser) Diagnose(snap model.Snapshot) model.Verdicts {
	f.snap = snap
	return f.verdicts
}

func node(name, state string) model.NodeRecord {
	return model.NodeRecord{
		Cluster:    "spydur",
		NodeName:   name,
		RawState:   state,
		ObservedAt: time.Now(),
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func worker(tel Telemetry, rec Recoverer) *ClusterWorker {
	return &ClusterWorker{
		Name:       "spydur",
		Nodes:      []string{"spdr01", "spdr02", "spdr03"},
		Telemetry:  tel,
		Recovery:   rec,
		Classifier: health.New(nil),
	}
}

func TestCycleClassifiesPersistsAndRecovers(t *testing.T) {
	tel := &fakeTelemetry{nodes: model.NodeRecords{
		node("spdr01", "idle"),
		node("spdr02", "drained*"),
		node("spdr03", "mixed"),
	}}
	rec := &fakeRecoverer{outcomes: map[string]string{"spdr02": model.IncidentResolved}}
	ledger := &fakeLedger{}
	m := New([]*ClusterWorker{worker(tel, rec)}, ledger, nil, nil, false, testLogger())

	summary, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Clusters, 1)

	cs := summary.Clusters[0]
	assert.Equal(t, 3, cs.Total)
	assert.Equal(t, 2, cs.Healthy)
	assert.Equal(t, 1, cs.Problem)
	assert.Equal(t, []string{"spdr02"}, cs.ProblemNodes)
	assert.Equal(t, []string{"spdr02"}, cs.Recovered)

	require.Len(t, ledger.statuses, 3)
	for _, r := range ledger.statuses {
		assert.NotEmpty(t, r.Health)
	}
	require.Len(t, ledger.events, 1)
	assert.Equal(t, "node_down", ledger.events[0].EventType)
	assert.Equal(t, "spdr02", ledger.events[0].NodeName)
	assert.Equal(t, model.SeverityWarning, ledger.events[0].Severity)

	assert.Equal(t, []string{"spdr02"}, rec.calls)
}

func TestSweepStateDrivesClassification(t *testing.T) {
	// scontrol shows spdr02 idle, but the sinfo sweep carries the
	// non-responding marker; the sweep wins. spdr03 only appears in the
	// sweep and still gets an observation.
	tel := &fakeTelemetry{
		sweep: map[string]string{
			"spdr01": "idle",
			"spdr02": "idle*",
			"spdr03": "down",
		},
		nodes: model.NodeRecords{
			node("spdr01", "idle"),
			node("spdr02", "idle"),
		},
	}
	rec := &fakeRecoverer{}
	ledger := &fakeLedger{}
	m := New([]*ClusterWorker{worker(tel, rec)}, ledger, nil, nil, false, testLogger())

	summary, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	cs := summary.Clusters[0]
	assert.Equal(t, 3, cs.Total)
	assert.Equal(t, 1, cs.Healthy)
	assert.Equal(t, 2, cs.Problem)
	assert.Equal(t, []string{"spdr02", "spdr03"}, cs.ProblemNodes)

	require.Len(t, ledger.statuses, 3)
	byName := make(map[string]model.NodeRecord, 3)
	for _, r := range ledger.statuses {
		byName[r.NodeName] = r
	}
	assert.Equal(t, "idle*", byName["spdr02"].RawState)
	assert.Equal(t, "problem", byName["spdr02"].Health)
	assert.Equal(t, "down", byName["spdr03"].RawState)
	assert.Equal(t, "spydur", byName["spdr03"].Cluster)

	assert.ElementsMatch(t, []string{"spdr02", "spdr03"}, rec.calls)
}

func TestHealthSweepFailureMarksConfiguredNodesUnreachable(t *testing.T) {
	tel := &fakeTelemetry{
		sweepErr: errors.New("ssh: connect to host spydur port 22: timed out"),
		nodes:    model.NodeRecords{node("spdr01", "idle")},
	}
	rec := &fakeRecoverer{}
	ledger := &fakeLedger{}
	m := New([]*ClusterWorker{worker(tel, rec)}, ledger, nil, nil, false, testLogger())

	summary, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	cs := summary.Clusters[0]
	assert.Equal(t, 3, cs.Unreachable)
	assert.NotEmpty(t, cs.SweepError)
	require.Len(t, ledger.statuses, 3)
	for _, r := range ledger.statuses {
		assert.Equal(t, "unreachable", r.Health)
	}
	assert.Empty(t, rec.calls)
}

func TestSweepFailureMarksConfiguredNodesUnreachable(t *testing.T) {
	tel := &fakeTelemetry{nodesErr: errors.New("ssh: connect to host spydur port 22: timed out")}
	rec := &fakeRecoverer{}
	ledger := &fakeLedger{}
	m := New([]*ClusterWorker{worker(tel, rec)}, ledger, nil, nil, false, testLogger())

	summary, err := m.RunCycle(context.Background())
	require.NoError(t, err)

	cs := summary.Clusters[0]
	assert.Equal(t, 3, cs.Unreachable)
	assert.Equal(t, 0, cs.Problem)
	assert.NotEmpty(t, cs.SweepError)

	// every configured node got an unreachable observation
	require.Len(t, ledger.statuses, 3)
	for _, r := range ledger.statuses {
		assert.Equal(t, "unreachable", r.Health)
	}
	require.Len(t, ledger.events, 1)
	assert.Equal(t, "check_failed", ledger.events[0].EventType)

	// no recovery while the cluster cannot be observed
	assert.Empty(t, rec.calls)
}

func TestNotificationSeverityScalesWithProblemCount(t *testing.T) {
	notifier := &fakeNotifier{}
	tel := &fakeTelemetry{nodes: model.NodeRecords{
		node("spdr01", "down"),
		node("spdr02", "drained"),
	}}
	m := New([]*ClusterWorker{worker(tel, &fakeRecoverer{})}, &fakeLedger{}, nil, notifier, false, testLogger())

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, notifier.calls)
	assert.Equal(t, model.SeverityWarning, notifier.severity)
	assert.Contains(t, notifier.subject, "2 problem node(s)")
	assert.Contains(t, notifier.body, "spdr01, spdr02")

	tel.nodes = model.NodeRecords{
		node("spdr01", "down"),
		node("spdr02", "down"),
		node("spdr03", "down"),
		node("spdr04", "down"),
	}
	_, err = m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.SeverityCritical, notifier.severity)
}

func TestNoNotificationWhenAllHealthy(t *testing.T) {
	notifier := &fakeNotifier{}
	tel := &fakeTelemetry{nodes: model.NodeRecords{node("spdr01", "idle")}}
	m := New([]*ClusterWorker{worker(tel, &fakeRecoverer{})}, &fakeLedger{}, nil, notifier, false, testLogger())

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, notifier.calls)
}

func TestLedgerFailureAbortsCycle(t *testing.T) {
	tel := &fakeTelemetry{nodes: model.NodeRecords{node("spdr01", "idle")}}
	ledger := &fakeLedger{failWith: errors.New("connection refused")}
	m := New([]*ClusterWorker{worker(tel, &fakeRecoverer{})}, ledger, nil, nil, false, testLogger())

	_, err := m.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spydur")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDiagnosisSavesVerdicts(t *testing.T) {
	tel := &fakeTelemetry{
		nodes: model.NodeRecords{node("spdr01", "idle")},
		jobs:  model.JobRecords{{Cluster: "spydur", JobID: "42", State: "pending"}},
	}
	diag := &fakeDiagnoser{verdicts: model.Verdicts{{Cluster: "spydur", JobID: "42", TrueCause: model.CauseOther}}}
	ledger := &fakeLedger{}
	m := New([]*ClusterWorker{worker(tel, &fakeRecoverer{})}, ledger, diag, nil, true, testLogger())

	summary, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Clusters[0].Verdicts)
	require.Len(t, ledger.verdicts, 1)
	assert.Equal(t, "42", ledger.verdicts[0].JobID)
	assert.Equal(t, "spydur", diag.snap.Cluster)
	require.Len(t, diag.snap.Jobs, 1)
}

func TestQueueFailureSkipsDiagnosis(t *testing.T) {
	tel := &fakeTelemetry{
		nodes:   model.NodeRecords{node("spdr01", "idle")},
		jobsErr: errors.New("squeue: error: slurm_load_jobs failed"),
	}
	ledger := &fakeLedger{}
	m := New([]*ClusterWorker{worker(tel, &fakeRecoverer{})}, ledger, &fakeDiagnoser{}, nil, true, testLogger())

	summary, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Clusters[0].Verdicts)
	assert.Empty(t, ledger.verdicts)
}

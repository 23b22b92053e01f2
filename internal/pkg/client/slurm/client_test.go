package slurm

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtonini/cluster-monitor/internal/pkg/client/remote"
	"github.com/jtonini/cluster-monitor/internal/pkg/config"
)

// fakeRunner returns canned results keyed by command substring.
type fakeRunner struct {
	results map[string]remote.Result
}

func (f *fakeRunner) Run(_ context.Context, command string) remote.Result {
	for sub, res := range f.results {
		if len(sub) <= len(command) && command[:len(sub)] == sub {
			return res
		}
	}
	return remote.Result{ExitCode: 127, Stderr: "command not found", OK: false}
}

func testClient(runner remote.Runner) *Client {
	conf := config.ClusterConfig{
		Name:         "spydur",
		User:         "installer",
		HeadNode:     "spydur",
		NodeCommand:  "scontrol show node",
		CheckCommand: `sinfo -h -N -o "%N %T"`,
		QueueCommand: `squeue -t PD -h -o "%i|%P|%j|%u|%r|%C|%m|%b|%D|%V"`,
	}
	logger := slog.Default()
	return New(conf, runner, "badenpowell", logger)
}

func TestGetNodeStates(t *testing.T) {
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"scontrol": {Stdout: scontrolOutput, OK: true},
	}})

	nodes, err := c.GetNodeStates(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "spydur", nodes[0].Cluster)
	assert.Equal(t, "badenpowell", nodes[0].CheckedFrom)
	assert.False(t, nodes[0].ObservedAt.IsZero())
}

func TestGetNodeHealthSweep(t *testing.T) {
	// sinfo -N repeats a node per partition membership; the sweep keeps the
	// first occurrence
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"sinfo": {Stdout: "spdr05 drained*\nspdr05 drained\nspdr06 mixed\nspdr07 idle\n", OK: true},
	}})

	sweep, err := c.GetNodeHealthSweep(context.Background())
	require.NoError(t, err)
	require.Len(t, sweep, 3)
	assert.Equal(t, "drained*", sweep["spdr05"])
	assert.Equal(t, "mixed", sweep["spdr06"])
	assert.Equal(t, "idle", sweep["spdr07"])
}

func TestGetNodeHealthSweepConnectivityLoss(t *testing.T) {
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"sinfo": {ExitCode: 255, Stderr: "ssh: connect to host spydur: Connection refused"},
	}})

	_, err := c.GetNodeHealthSweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spydur")
}

func TestGetNodeStatesConnectivityLoss(t *testing.T) {
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"scontrol": {ExitCode: 255, Stderr: "ssh: connect to host spydur: Connection refused"},
	}})

	_, err := c.GetNodeStates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Connection refused")
}

func TestGetNodeState(t *testing.T) {
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"scontrol": {Stdout: scontrolOutput, OK: true},
	}})

	rec, err := c.GetNodeState(context.Background(), "spdr06")
	require.NoError(t, err)
	assert.Equal(t, "mixed", rec.RawState)

	_, err = c.GetNodeState(context.Background(), "spdr99")
	assert.Error(t, err)
}

func TestGetPendingJobs(t *testing.T) {
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"squeue": {Stdout: "7|basic|x|u|Resources|4|1G|N/A|1|2026-08-29T10:00:00\n", OK: true},
	}})

	jobs, err := c.GetPendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "spydur", jobs[0].Cluster)
	assert.Equal(t, "pending", jobs[0].State)
}

func TestSnapshot(t *testing.T) {
	c := testClient(&fakeRunner{results: map[string]remote.Result{
		"scontrol": {Stdout: scontrolOutput, OK: true},
		"squeue":   {Stdout: "", OK: true},
	}})

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "spydur", snap.Cluster)
	assert.Len(t, snap.Nodes, 2)
	assert.Empty(t, snap.Jobs)
	assert.False(t, snap.TakenAt.IsZero())
}

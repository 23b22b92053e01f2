// Package recovery drives a problem node through the incident lifecycle:
// detected -> recovering -> verifying -> resolved or exhausted. All transitions
// and command executions are written to the ledger before the next step runs.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jtonini/cluster-monitor/internal/pkg/client/remote"
	"github.com/jtonini/cluster-monitor/internal/pkg/health"
	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// Ledger is the persistence surface the orchestrator needs. Incident rows are
// the cross-process lock: TryStartIncident succeeds for exactly one caller per
// (cluster, node) while a non-terminal incident exists.
type Ledger interface {
	TryStartIncident(ctx context.Context, cluster, node string) (id string, ok bool, err error)
	GetActiveIncident(ctx context.Context, cluster, node string) (*model.Incident, error)
	SetIncidentState(ctx context.Context, id, state string, attempts int) error
	CloseIncident(ctx context.Context, id, outcome string) error
	AppendRecoveryAttempt(ctx context.Context, a model.RecoveryAttempt) error
	AppendEvent(ctx context.Context, e model.Event) error
}

// NodeStater re-queries one node's scheduler state, used to verify recovery.
type NodeStater interface {
	GetNodeState(ctx context.Context, node string) (model.NodeRecord, error)
}

type Orchestrator struct {
	cluster     string
	commands    []string
	maxAttempts int
	settleWait  time.Duration
	ledger      Ledger
	runner      remote.Runner
	nodes       NodeStater
	classifier  *health.Classifier
	logger      *slog.Logger
}

func New(cluster string, commands []string, maxAttempts int, settleWait time.Duration,
	ledger Ledger, runner remote.Runner, nodes NodeStater, classifier *health.Classifier,
	logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cluster:     cluster,
		commands:    commands,
		maxAttempts: maxAttempts,
		settleWait:  settleWait,
		ledger:      ledger,
		runner:      runner,
		nodes:       nodes,
		classifier:  classifier,
		logger:      logger.With("cluster", cluster),
	}
}

// Recover takes one problem node through recovery attempts until it verifies
// healthy or the attempt budget is spent. The returned outcome is
// model.IncidentResolved, model.IncidentExhausted, or empty when another
// process already owns the incident. Only ledger errors are returned; command
// failures are recorded and retried.
func (o *Orchestrator) Recover(ctx context.Context, node string) (string, error) {
	active, err := o.ledger.GetActiveIncident(ctx, o.cluster, node)
	if err != nil {
		return "", fmt.Errorf("get active incident: %w", err)
	}
	if active != nil {
		o.logger.Info("node already has an active incident, skipping",
			"node", node, "incident_id", active.ID, "state", active.State)
		return "", nil
	}

	id, ok, err := o.ledger.TryStartIncident(ctx, o.cluster, node)
	if err != nil {
		return "", fmt.Errorf("start incident: %w", err)
	}
	if !ok {
		o.logger.Info("incident claimed by another process, skipping", "node", node)
		return "", nil
	}
	o.logger.Info("incident opened", "node", node, "incident_id", id)

	if err := o.ledger.AppendEvent(ctx, model.Event{
		Cluster:    o.cluster,
		NodeName:   node,
		EventType:  "recovery_started",
		Details:    fmt.Sprintf("incident %s opened, up to %d attempts", id, o.maxAttempts),
		Severity:   model.SeverityInfo,
		OccurredAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := o.transition(ctx, id, node, model.IncidentRecovering, attempt); err != nil {
			return "", err
		}
		if err := o.runCommands(ctx, node, id, attempt); err != nil {
			return "", err
		}

		if err := o.transition(ctx, id, node, model.IncidentVerifying, attempt); err != nil {
			return "", err
		}
		if err := o.settle(ctx); err != nil {
			return "", err
		}

		healthy, state := o.verify(ctx, node)
		if healthy {
			if err := o.ledger.CloseIncident(ctx, id, model.IncidentResolved); err != nil {
				return "", fmt.Errorf("close incident: %w", err)
			}
			if err := o.ledger.AppendEvent(ctx, model.Event{
				Cluster:    o.cluster,
				NodeName:   node,
				EventType:  "recovered",
				Details:    fmt.Sprintf("node verified healthy (%s) after attempt %d", state, attempt),
				Severity:   model.SeverityInfo,
				OccurredAt: time.Now(),
			}); err != nil {
				return "", fmt.Errorf("append event: %w", err)
			}
			o.logger.Info("node recovered", "node", node, "attempt", attempt, "state", state)
			return model.IncidentResolved, nil
		}

		o.logger.Warn("node still unhealthy after recovery attempt",
			"node", node, "attempt", attempt, "state", state)
		if attempt < o.maxAttempts {
			if err := o.transition(ctx, id, node, model.IncidentDetected, attempt); err != nil {
				return "", err
			}
		}
	}

	if err := o.ledger.CloseIncident(ctx, id, model.IncidentExhausted); err != nil {
		return "", fmt.Errorf("close incident: %w", err)
	}
	if err := o.ledger.AppendEvent(ctx, model.Event{
		Cluster:    o.cluster,
		NodeName:   node,
		EventType:  "recovery_exhausted",
		Details:    fmt.Sprintf("node not recovered after %d attempts, manual intervention required", o.maxAttempts),
		Severity:   model.SeverityError,
		OccurredAt: time.Now(),
	}); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	o.logger.Error("recovery exhausted", "node", node, "attempts", o.maxAttempts)
	return model.IncidentExhausted, nil
}

// transition updates the incident row and appends the matching event, so the
// full lifecycle, re-entries included, is reconstructible from the
// append-only trail alone.
func (o *Orchestrator) transition(ctx context.Context, id, node, state string, attempt int) error {
	if err := o.ledger.SetIncidentState(ctx, id, state, attempt); err != nil {
		return fmt.Errorf("set incident state: %w", err)
	}
	if err := o.ledger.AppendEvent(ctx, model.Event{
		Cluster:    o.cluster,
		NodeName:   node,
		EventType:  "incident_" + state,
		Details:    fmt.Sprintf("incident %s entered %s on attempt %d", id, state, attempt),
		Severity:   model.SeverityInfo,
		OccurredAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// runCommands executes the full command sequence for one attempt. A failing
// command is recorded and the sequence continues; later commands often undo
// the condition an earlier one could not.
func (o *Orchestrator) runCommands(ctx context.Context, node, incidentID string, attempt int) error {
	for _, tpl := range o.commands {
		command := strings.ReplaceAll(tpl, "{node}", node)
		started := time.Now()
		res := o.runner.Run(ctx, command)

		output := res.Stdout
		if res.Stderr != "" {
			if output != "" {
				output += "\n"
			}
			output += res.Stderr
		}
		if err := o.ledger.AppendRecoveryAttempt(ctx, model.RecoveryAttempt{
			Cluster:    o.cluster,
			NodeName:   node,
			IncidentID: incidentID,
			Attempt:    attempt,
			Command:    command,
			ExitCode:   res.ExitCode,
			Output:     output,
			Success:    res.OK,
			StartedAt:  started,
		}); err != nil {
			return fmt.Errorf("append recovery attempt: %w", err)
		}
		if !res.OK {
			o.logger.Warn("recovery command failed",
				"node", node, "attempt", attempt, "command", command, "exit_code", res.ExitCode)
		}
	}
	return nil
}

// settle waits for the scheduler to register the node's new state.
func (o *Orchestrator) settle(ctx context.Context) error {
	t := time.NewTimer(o.settleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// verify re-queries the node. An unreachable scheduler counts as not
// recovered, not as an error: the next attempt or cycle will retry.
func (o *Orchestrator) verify(ctx context.Context, node string) (bool, string) {
	rec, err := o.nodes.GetNodeState(ctx, node)
	if err != nil {
		o.logger.Warn("verification query failed", "node", node, "error", err)
		return false, ""
	}
	return o.classifier.Classify(rec.RawState) == health.Healthy, rec.RawState
}

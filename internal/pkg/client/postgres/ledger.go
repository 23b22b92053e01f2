package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jtonini/cluster-monitor/internal/pkg/model"
)

// AppendStatus inserts one status row per node record. Rows are never
// updated; the latest-status queries pick the newest row per (cluster, node).
func (c *Client) AppendStatus(ctx context.Context, records model.NodeRecords) error {
	const q = `
        INSERT INTO node_status
        (observed_at, cluster, node_name, raw_state, health, partitions,
         cpus_total, cpus_alloc, mem_total_mb, mem_alloc_mb, gpus_total, gpus_alloc, checked_from)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	for _, r := range records {
		_, err := c.pool.Exec(ctx, q,
			r.ObservedAt, r.Cluster, r.NodeName, r.RawState, r.Health,
			strings.Join(r.Partitions, ","),
			r.CPUsTotal, r.CPUsAlloc, r.MemTotalMB, r.MemAllocMB,
			r.GPUsTotal, r.GPUsAlloc, r.CheckedFrom)
		if err != nil {
			return fmt.Errorf("unable to insert node status for %s/%s: %w", r.Cluster, r.NodeName, err)
		}
	}
	return nil
}

// AppendEvent inserts one event row.
func (c *Client) AppendEvent(ctx context.Context, e model.Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	const q = `
        INSERT INTO node_event (occurred_at, cluster, node_name, event_type, details, severity)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	if _, err := c.pool.Exec(ctx, q, e.OccurredAt, e.Cluster, e.NodeName, e.EventType, e.Details, e.Severity); err != nil {
		return fmt.Errorf("unable to insert event %s for %s/%s: %w", e.EventType, e.Cluster, e.NodeName, err)
	}
	return nil
}

// AppendRecoveryAttempt inserts one recovery attempt row.
func (c *Client) AppendRecoveryAttempt(ctx context.Context, a model.RecoveryAttempt) error {
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	var incidentID any
	if a.IncidentID != "" {
		incidentID = a.IncidentID
	}
	const q = `
        INSERT INTO recovery_attempt
        (started_at, cluster, node_name, incident_id, attempt_number, command, exit_code, output, success)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	if _, err := c.pool.Exec(ctx, q,
		a.StartedAt, a.Cluster, a.NodeName, incidentID, a.Attempt,
		a.Command, a.ExitCode, a.Output, a.Success); err != nil {
		return fmt.Errorf("unable to insert recovery attempt for %s/%s: %w", a.Cluster, a.NodeName, err)
	}
	return nil
}

// TryStartIncident atomically opens an incident for (cluster, node). The
// partial unique index incident_active_key makes this a check-and-set: while
// any non-terminal incident exists for the node, the insert is a no-op and
// ok is false. Exactly one of N concurrent callers wins.
func (c *Client) TryStartIncident(ctx context.Context, cluster, node string) (id string, ok bool, err error) {
	id = uuid.NewString()
	const q = `
        INSERT INTO incident (id, cluster, node_name, state, attempts, opened_at)
        VALUES ($1, $2, $3, $4, 0, now())
        ON CONFLICT (cluster, node_name) WHERE state NOT IN ('resolved', 'exhausted') DO NOTHING
    `
	tag, err := c.pool.Exec(ctx, q, id, cluster, node, model.IncidentDetected)
	if err != nil {
		return "", false, fmt.Errorf("unable to start incident for %s/%s: %w", cluster, node, err)
	}
	if tag.RowsAffected() == 0 {
		return "", false, nil
	}
	return id, true, nil
}

// GetActiveIncident returns the non-terminal incident for (cluster, node),
// or nil when the node has none.
func (c *Client) GetActiveIncident(ctx context.Context, cluster, node string) (*model.Incident, error) {
	const q = `
        SELECT id, cluster, node_name, state, attempts, opened_at, closed_at, outcome
        FROM incident
        WHERE cluster = $1 AND node_name = $2 AND state NOT IN ('resolved', 'exhausted')
    `
	in := &model.Incident{}
	err := c.pool.QueryRow(ctx, q, cluster, node).Scan(
		&in.ID, &in.Cluster, &in.NodeName, &in.State, &in.Attempts,
		&in.OpenedAt, &in.ClosedAt, &in.Outcome)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to query active incident for %s/%s: %w", cluster, node, err)
	}
	return in, nil
}

// SetIncidentState records a state transition and the current attempt count.
func (c *Client) SetIncidentState(ctx context.Context, id, state string, attempts int) error {
	tag, err := c.pool.Exec(ctx,
		"UPDATE incident SET state = $1, attempts = $2 WHERE id = $3", state, attempts, id)
	if err != nil {
		return fmt.Errorf("unable to update incident %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident not found: id=%s", id)
	}
	return nil
}

// CloseIncident moves an incident to a terminal state (resolved or exhausted).
func (c *Client) CloseIncident(ctx context.Context, id, outcome string) error {
	tag, err := c.pool.Exec(ctx,
		"UPDATE incident SET state = $1, outcome = $1, closed_at = now() WHERE id = $2", outcome, id)
	if err != nil {
		return fmt.Errorf("unable to close incident %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident not found: id=%s", id)
	}
	return nil
}

// GetLatestStatus returns the most recent status row per (cluster, node).
// The grouping is by node, never by a single global max timestamp, so
// clusters swept at different times each report their own latest sweep.
// cluster = "" returns all clusters.
func (c *Client) GetLatestStatus(ctx context.Context, cluster string) (model.NodeRecords, error) {
	var sb strings.Builder
	sb.WriteString(`
        SELECT DISTINCT ON (cluster, node_name)
               cluster, node_name, raw_state, health, partitions,
               cpus_total, cpus_alloc, mem_total_mb, mem_alloc_mb,
               gpus_total, gpus_alloc, observed_at, checked_from
        FROM node_status
    `)
	args := make([]any, 0, 1)
	if cluster != "" {
		sb.WriteString(" WHERE cluster = $1")
		args = append(args, cluster)
	}
	sb.WriteString(" ORDER BY cluster, node_name, observed_at DESC")

	rows, err := c.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query latest status: %w", err)
	}
	defer rows.Close()

	records := make(model.NodeRecords, 0)
	for rows.Next() {
		var r model.NodeRecord
		var partitions string
		if err := rows.Scan(&r.Cluster, &r.NodeName, &r.RawState, &r.Health, &partitions,
			&r.CPUsTotal, &r.CPUsAlloc, &r.MemTotalMB, &r.MemAllocMB,
			&r.GPUsTotal, &r.GPUsAlloc, &r.ObservedAt, &r.CheckedFrom); err != nil {
			return nil, fmt.Errorf("unable to scan status row: %w", err)
		}
		if partitions != "" {
			r.Partitions = strings.Split(partitions, ",")
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unable to read status rows: %w", err)
	}
	return records, nil
}

// GetProblemNodes returns nodes whose latest observation is not healthy.
func (c *Client) GetProblemNodes(ctx context.Context, cluster string) (model.NodeRecords, error) {
	latest, err := c.GetLatestStatus(ctx, cluster)
	if err != nil {
		return nil, err
	}
	problems := make(model.NodeRecords, 0)
	for _, r := range latest {
		if r.Health != "healthy" {
			problems = append(problems, r)
		}
	}
	return problems, nil
}

// GetEvents returns the event trail, newest first, with optional filters and
// paging. total counts matches before paging.
func (c *Client) GetEvents(ctx context.Context, cluster, node string, since time.Time, severities []string, page, pageSize int) (model.Events, int, error) {
	var whereSB strings.Builder
	whereSB.WriteString(" WHERE occurred_at > $1")
	args := []any{since}
	idx := 2
	if cluster != "" {
		whereSB.WriteString(fmt.Sprintf(" AND cluster = $%d", idx))
		args = append(args, cluster)
		idx++
	}
	if node != "" {
		whereSB.WriteString(fmt.Sprintf(" AND node_name = $%d", idx))
		args = append(args, node)
		idx++
	}
	if len(severities) > 0 {
		whereSB.WriteString(fmt.Sprintf(" AND severity = ANY($%d)", idx))
		args = append(args, severities)
		idx++
	}

	var total int64
	if err := c.pool.QueryRow(ctx, "SELECT COUNT(*) FROM node_event"+whereSB.String(), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("unable to count events: %w", err)
	}

	var listSB strings.Builder
	listSB.WriteString("SELECT occurred_at, cluster, node_name, event_type, details, severity FROM node_event")
	listSB.WriteString(whereSB.String())
	listSB.WriteString(" ORDER BY occurred_at DESC")
	listArgs := append([]any{}, args...)
	if pageSize > 0 {
		listSB.WriteString(fmt.Sprintf(" LIMIT $%d", idx))
		listArgs = append(listArgs, pageSize)
		idx++
		if page > 1 {
			listSB.WriteString(fmt.Sprintf(" OFFSET $%d", idx))
			listArgs = append(listArgs, (page-1)*pageSize)
		}
	}

	rows, err := c.pool.Query(ctx, listSB.String(), listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to query events: %w", err)
	}
	defer rows.Close()

	events := make(model.Events, 0)
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.OccurredAt, &e.Cluster, &e.NodeName, &e.EventType, &e.Details, &e.Severity); err != nil {
			return nil, 0, fmt.Errorf("unable to scan event row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("unable to read event rows: %w", err)
	}
	return events, int(total), nil
}

// ProblemHistoryRow aggregates problem events per (cluster, node).
type ProblemHistoryRow struct {
	Cluster   string    `json:"cluster"`
	NodeName  string    `json:"node_name"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// GetProblemHistory aggregates node_down events since the cutoff, grouped by
// (cluster, node).
func (c *Client) GetProblemHistory(ctx context.Context, cluster string, since time.Time) ([]ProblemHistoryRow, error) {
	var sb strings.Builder
	sb.WriteString(`
        SELECT cluster, node_name, COUNT(*), MIN(occurred_at), MAX(occurred_at)
        FROM node_event
        WHERE occurred_at > $1
        AND severity IN ('warning', 'error', 'critical')
        AND event_type = 'node_down'
    `)
	args := []any{since}
	if cluster != "" {
		sb.WriteString(" AND cluster = $2")
		args = append(args, cluster)
	}
	sb.WriteString(" GROUP BY cluster, node_name ORDER BY COUNT(*) DESC, cluster, node_name")

	rows, err := c.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query problem history: %w", err)
	}
	defer rows.Close()

	history := make([]ProblemHistoryRow, 0)
	for rows.Next() {
		var r ProblemHistoryRow
		if err := rows.Scan(&r.Cluster, &r.NodeName, &r.Count, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("unable to scan problem history row: %w", err)
		}
		history = append(history, r)
	}
	return history, rows.Err()
}

// RecoveryStatsRow aggregates recovery attempts per (cluster, node).
type RecoveryStatsRow struct {
	Cluster    string `json:"cluster"`
	NodeName   string `json:"node_name"`
	Successful int64  `json:"successful"`
	Failed     int64  `json:"failed"`
}

// GetRecoveryStats aggregates attempt outcomes since the cutoff, grouped by
// (cluster, node).
func (c *Client) GetRecoveryStats(ctx context.Context, cluster string, since time.Time) ([]RecoveryStatsRow, error) {
	var sb strings.Builder
	sb.WriteString(`
        SELECT cluster, node_name,
               SUM(CASE WHEN success THEN 1 ELSE 0 END),
               SUM(CASE WHEN success THEN 0 ELSE 1 END)
        FROM recovery_attempt
        WHERE started_at > $1
    `)
	args := []any{since}
	if cluster != "" {
		sb.WriteString(" AND cluster = $2")
		args = append(args, cluster)
	}
	sb.WriteString(" GROUP BY cluster, node_name ORDER BY cluster, node_name")

	rows, err := c.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query recovery stats: %w", err)
	}
	defer rows.Close()

	stats := make([]RecoveryStatsRow, 0)
	for rows.Next() {
		var r RecoveryStatsRow
		if err := rows.Scan(&r.Cluster, &r.NodeName, &r.Successful, &r.Failed); err != nil {
			return nil, fmt.Errorf("unable to scan recovery stats row: %w", err)
		}
		stats = append(stats, r)
	}
	return stats, rows.Err()
}

// DowntimeStatsRow counts checks and problem checks per (cluster, node).
type DowntimeStatsRow struct {
	Cluster     string `json:"cluster"`
	NodeName    string `json:"node_name"`
	TotalChecks int64  `json:"total_checks"`
	DownChecks  int64  `json:"down_checks"`
}

// GetDowntimeStats lists nodes with at least one problem observation since
// the cutoff, worst first.
func (c *Client) GetDowntimeStats(ctx context.Context, cluster string, since time.Time) ([]DowntimeStatsRow, error) {
	var sb strings.Builder
	sb.WriteString(`
        SELECT cluster, node_name,
               COUNT(*),
               SUM(CASE WHEN health = 'healthy' THEN 0 ELSE 1 END) AS down_checks
        FROM node_status
        WHERE observed_at > $1
    `)
	args := []any{since}
	if cluster != "" {
		sb.WriteString(" AND cluster = $2")
		args = append(args, cluster)
	}
	sb.WriteString(`
        GROUP BY cluster, node_name
        HAVING SUM(CASE WHEN health = 'healthy' THEN 0 ELSE 1 END) > 0
        ORDER BY down_checks DESC, cluster, node_name
    `)

	rows, err := c.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("unable to query downtime stats: %w", err)
	}
	defer rows.Close()

	stats := make([]DowntimeStatsRow, 0)
	for rows.Next() {
		var r DowntimeStatsRow
		if err := rows.Scan(&r.Cluster, &r.NodeName, &r.TotalChecks, &r.DownChecks); err != nil {
			return nil, fmt.Errorf("unable to scan downtime stats row: %w", err)
		}
		stats = append(stats, r)
	}
	return stats, rows.Err()
}

// ClusterSummaryRow counts healthy and problem nodes at each cluster's own
// latest sweep.
type ClusterSummaryRow struct {
	Cluster string `json:"cluster"`
	Total   int64  `json:"total"`
	Healthy int64  `json:"healthy"`
	Problem int64  `json:"problem"`
}

// GetClusterSummary summarizes per-cluster health from the latest status rows.
func (c *Client) GetClusterSummary(ctx context.Context) ([]ClusterSummaryRow, error) {
	const q = `
        SELECT cluster,
               COUNT(*),
               SUM(CASE WHEN health = 'healthy' THEN 1 ELSE 0 END),
               SUM(CASE WHEN health = 'healthy' THEN 0 ELSE 1 END)
        FROM (
            SELECT DISTINCT ON (cluster, node_name) cluster, node_name, health
            FROM node_status
            ORDER BY cluster, node_name, observed_at DESC
        ) latest
        GROUP BY cluster
        ORDER BY cluster
    `
	rows, err := c.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("unable to query cluster summary: %w", err)
	}
	defer rows.Close()

	summary := make([]ClusterSummaryRow, 0)
	for rows.Next() {
		var r ClusterSummaryRow
		if err := rows.Scan(&r.Cluster, &r.Total, &r.Healthy, &r.Problem); err != nil {
			return nil, fmt.Errorf("unable to scan cluster summary row: %w", err)
		}
		summary = append(summary, r)
	}
	return summary, rows.Err()
}

// SaveVerdicts appends one row per verdict.
func (c *Client) SaveVerdicts(ctx context.Context, verdicts model.Verdicts) error {
	const q = `
        INSERT INTO job_verdict (computed_at, cluster, job_id, surfaced_reason, true_cause, evidence)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	for _, v := range verdicts {
		evidence, err := json.Marshal(v.Evidence)
		if err != nil {
			return fmt.Errorf("unable to marshal evidence for job %s: %w", v.JobID, err)
		}
		if _, err := c.pool.Exec(ctx, q, v.ComputedAt, v.Cluster, v.JobID,
			v.SurfacedReason, v.TrueCause, evidence); err != nil {
			return fmt.Errorf("unable to insert verdict for job %s: %w", v.JobID, err)
		}
	}
	return nil
}

// GetVerdicts returns verdicts newest first, with paging. total counts
// matches before paging.
func (c *Client) GetVerdicts(ctx context.Context, cluster string, since time.Time, page, pageSize int) (model.Verdicts, int, error) {
	var whereSB strings.Builder
	whereSB.WriteString(" WHERE computed_at > $1")
	args := []any{since}
	idx := 2
	if cluster != "" {
		whereSB.WriteString(fmt.Sprintf(" AND cluster = $%d", idx))
		args = append(args, cluster)
		idx++
	}

	var total int64
	if err := c.pool.QueryRow(ctx, "SELECT COUNT(*) FROM job_verdict"+whereSB.String(), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("unable to count verdicts: %w", err)
	}

	var listSB strings.Builder
	listSB.WriteString("SELECT computed_at, cluster, job_id, surfaced_reason, true_cause, evidence FROM job_verdict")
	listSB.WriteString(whereSB.String())
	listSB.WriteString(" ORDER BY computed_at DESC")
	listArgs := append([]any{}, args...)
	if pageSize > 0 {
		listSB.WriteString(fmt.Sprintf(" LIMIT $%d", idx))
		listArgs = append(listArgs, pageSize)
		idx++
		if page > 1 {
			listSB.WriteString(fmt.Sprintf(" OFFSET $%d", idx))
			listArgs = append(listArgs, (page-1)*pageSize)
		}
	}

	rows, err := c.pool.Query(ctx, listSB.String(), listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("unable to query verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := make(model.Verdicts, 0)
	for rows.Next() {
		var v model.Verdict
		var evidence []byte
		if err := rows.Scan(&v.ComputedAt, &v.Cluster, &v.JobID, &v.SurfacedReason, &v.TrueCause, &evidence); err != nil {
			return nil, 0, fmt.Errorf("unable to scan verdict row: %w", err)
		}
		if err := json.Unmarshal(evidence, &v.Evidence); err != nil {
			return nil, 0, fmt.Errorf("unable to unmarshal evidence for job %s: %w", v.JobID, err)
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("unable to read verdict rows: %w", err)
	}
	return verdicts, int(total), nil
}

// CleanupOldRecords deletes rows older than the cutoff from the append-only
// tables and reports how many were removed per table.
func (c *Client) CleanupOldRecords(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
	deleted := make(map[string]int64, 4)
	for table, column := range map[string]string{
		"node_status":      "observed_at",
		"node_event":       "occurred_at",
		"recovery_attempt": "started_at",
		"job_verdict":      "computed_at",
	} {
		tag, err := c.pool.Exec(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < $1", table, column), cutoff)
		if err != nil {
			return nil, fmt.Errorf("unable to clean up %s: %w", table, err)
		}
		deleted[table] = tag.RowsAffected()
	}
	return deleted, nil
}

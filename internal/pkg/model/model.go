package model

import "time"

// Severity levels for events and notifications.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// NodeRecord is one observation of one node. Records are superseded by newer
// observations, never mutated; (Cluster, NodeName, ObservedAt) identifies one row.
type NodeRecord struct {
	Cluster     string    `json:"cluster"`
	NodeName    string    `json:"node_name"`
	RawState    string    `json:"raw_state"`  // scheduler state token, e.g. "drained*"
	Health      string    `json:"health"`     // healthy, problem, unreachable
	Partitions  []string  `json:"partitions"` // partitions this node belongs to
	CPUsTotal   int64     `json:"cpus_total"`
	CPUsAlloc   int64     `json:"cpus_alloc"`
	MemTotalMB  int64     `json:"mem_total_mb"`
	MemAllocMB  int64     `json:"mem_alloc_mb"`
	GPUsTotal   int64     `json:"gpus_total"`
	GPUsAlloc   int64     `json:"gpus_alloc"`
	ObservedAt  time.Time `json:"observed_at"`
	CheckedFrom string    `json:"checked_from"` // control host that ran the sweep
}

type NodeRecords []NodeRecord

// JobRecord is one pending-queue entry at one instant. JobID is stable across
// monitoring cycles.
type JobRecord struct {
	Cluster     string    `json:"cluster"`
	JobID       string    `json:"job_id"`
	Name        string    `json:"name"`
	User        string    `json:"user"`
	State       string    `json:"state"` // pending, running, ...
	Reason      string    `json:"reason"`
	Partition   string    `json:"partition"`
	CPUs        int64     `json:"requested_cpus"`
	MemoryMB    int64     `json:"requested_memory_mb"`
	GPUs        int64     `json:"requested_gpus"`
	Nodes       int64     `json:"requested_nodes"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type JobRecords []JobRecord

// Verdict causes, in diagnostic priority order.
const (
	CauseNodesDown       = "nodes_down"
	CauseCPUExhausted    = "cpu_exhausted"
	CauseGPUExhausted    = "gpu_exhausted"
	CauseMemoryExhausted = "memory_exhausted"
	CauseOther           = "other"
)

// Evidence holds the headroom numbers a verdict was computed from, so the
// verdict is reproducible from the snapshot alone.
type Evidence struct {
	EligibleNodes  int    `json:"eligible_nodes"`
	HealthyNodes   int    `json:"healthy_nodes"`
	CPUHeadroom    int64  `json:"cpu_headroom"`
	RequestedCPUs  int64  `json:"requested_cpus"`
	GPUHeadroom    int64  `json:"gpu_headroom"`
	RequestedGPUs  int64  `json:"requested_gpus"`
	MemHeadroomMB  int64  `json:"mem_headroom_mb"`
	RequestedMemMB int64  `json:"requested_mem_mb"`
	Note           string `json:"note,omitempty"`
}

// Verdict is the diagnosis engine's determination of the true cause blocking
// one pending job. One verdict per job per cycle; history is append-only.
type Verdict struct {
	Cluster        string    `json:"cluster"`
	JobID          string    `json:"job_id"`
	SurfacedReason string    `json:"surfaced_reason"`
	TrueCause      string    `json:"true_cause"`
	Evidence       Evidence  `json:"evidence"`
	ComputedAt     time.Time `json:"computed_at"`
}

type Verdicts []Verdict

// RecoveryAttempt records one recovery command execution. Append-only.
type RecoveryAttempt struct {
	Cluster    string    `json:"cluster"`
	NodeName   string    `json:"node_name"`
	IncidentID string    `json:"incident_id"`
	Attempt    int       `json:"attempt_number"`
	Command    string    `json:"command"`
	ExitCode   int       `json:"exit_code"`
	Output     string    `json:"output"`
	Success    bool      `json:"success"`
	StartedAt  time.Time `json:"started_at"`
}

// Event is one entry in the node event trail.
type Event struct {
	Cluster    string    `json:"cluster"`
	NodeName   string    `json:"node_name"`
	EventType  string    `json:"event_type"` // node_down, recovery_started, ...
	Details    string    `json:"details"`
	Severity   string    `json:"severity"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Events []Event

// Incident lifecycle states.
const (
	IncidentDetected   = "detected"
	IncidentRecovering = "recovering"
	IncidentVerifying  = "verifying"
	IncidentResolved   = "resolved"
	IncidentExhausted  = "exhausted"
)

// Incident tracks one node's problem from detection to resolution or
// exhaustion. At most one incident per (cluster, node) is non-terminal at any
// time; the Ledger enforces this.
type Incident struct {
	ID       string     `json:"id"`
	Cluster  string     `json:"cluster"`
	NodeName string     `json:"node_name"`
	State    string     `json:"state"`
	Attempts int        `json:"attempts"`
	OpenedAt time.Time  `json:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	Outcome  string     `json:"outcome,omitempty"`
}

// Terminal reports whether the incident needs no further action.
func (in *Incident) Terminal() bool {
	return in.State == IncidentResolved || in.State == IncidentExhausted
}

// Snapshot is the telemetry input for one cluster at one instant.
type Snapshot struct {
	Cluster string
	Nodes   NodeRecords
	Jobs    JobRecords
	TakenAt time.Time
}

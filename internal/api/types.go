package api

import "encoding/json"

// dateTimeFormat renders timestamps as RFC3339 with millisecond precision.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem is a queued release as the IPC and HTTP surfaces present it.
type QueueItem struct {
	ID             int64           `json:"id"`
	Package        string          `json:"package"`
	Module         string          `json:"module,omitempty"`
	Version        string          `json:"version"`
	Channel        string          `json:"channel,omitempty"`
	Environment    string          `json:"environment,omitempty"`
	Status         string          `json:"status"`
	ProcessingLane string          `json:"processingLane"`
	Progress       QueueProgress   `json:"progress"`
	TriggerKind    string          `json:"triggerKind,omitempty"`
	TriggerRef     string          `json:"triggerRef,omitempty"`
	TriggerScope   string          `json:"triggerScope,omitempty"`
	Requester      string          `json:"requester,omitempty"`
	RunID          string          `json:"runId,omitempty"`
	AttestationID  string          `json:"attestationId,omitempty"`
	ReleaseURL     string          `json:"releaseUrl,omitempty"`
	EvidencePath   string          `json:"evidencePath,omitempty"`
	NotesPath      string          `json:"notesPath,omitempty"`
	LogPath        string          `json:"logPath,omitempty"`
	ErrorMessage   string          `json:"errorMessage"`
	NeedsReview    bool            `json:"needsReview"`
	ReviewReason   string          `json:"reviewReason,omitempty"`
	CreatedAt      string          `json:"createdAt,omitempty"`
	UpdatedAt      string          `json:"updatedAt,omitempty"`
	Artifacts      json.RawMessage `json:"artifacts,omitempty"`
}

// QueueProgress reports where a release is within its current stage.
type QueueProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// WorkflowStatus is a point-in-time snapshot of the pipeline.
type WorkflowStatus struct {
	Running     bool           `json:"running"`
	QueueStats  map[string]int `json:"queueStats"`
	StageHealth []StageHealth  `json:"stageHealth"`
	LastItem    *QueueItem     `json:"lastItem,omitempty"`
	LastError   string         `json:"lastError,omitempty"`
}

// StageHealth is one stage's readiness line in status output.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// PreflightCheck captures the outcome of a startup readiness probe.
type PreflightCheck struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Ready       bool   `json:"ready"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus is the full picture the status command renders.
type DaemonStatus struct {
	Running       bool             `json:"running"`
	PID           int              `json:"pid"`
	QueueDBPath   string           `json:"queueDbPath"`
	LockFilePath  string           `json:"lockFilePath"`
	DaemonLogPath string           `json:"daemonLogPath,omitempty"`
	Workflow      WorkflowStatus   `json:"workflow"`
	Preflight     []PreflightCheck `json:"preflight"`
}

// QueueStatsResponse carries per-status counts keyed by status string.
type QueueStatsResponse struct {
	Counts map[string]int `json:"counts"`
}

// QueueListResponse is the envelope for queue listings.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueItemResponse is the envelope for a single release lookup.
type QueueItemResponse struct {
	Item QueueItem `json:"item"`
}

// ReleaseSubmission is the body of a manual dispatch request. Scope uses
// the tag form: <package>/v<version>, or v<version> for the root package.
type ReleaseSubmission struct {
	Scope       string `json:"scope"`
	Environment string `json:"environment,omitempty"`
	Requester   string `json:"requester,omitempty"`
}

// ReleaseAccepted confirms an accepted dispatch with the queued item.
type ReleaseAccepted struct {
	Item QueueItem `json:"item"`
}

// WebhookAck reports how a forge delivery was handled. Ignored and
// duplicate deliveries still acknowledge with 2xx so the forge stops
// redelivering them.
type WebhookAck struct {
	Accepted bool       `json:"accepted"`
	Reason   string     `json:"reason,omitempty"`
	Item     *QueueItem `json:"item,omitempty"`
}

// LogTailResponse returns daemon log lines and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// ErrorResponse is the uniform HTTP error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

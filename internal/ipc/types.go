package ipc

import "capstan/internal/api"

// Request and response pairs for every RPC the daemon answers. The
// queue DTOs alias the HTTP API types so socket and HTTP clients see
// identical shapes.

// QueueItem mirrors the HTTP API queue DTO for socket callers.
type QueueItem = api.QueueItem

// StageHealth reports readiness of one pipeline stage.
type StageHealth = api.StageHealth

// PreflightCheck reports the outcome of a startup readiness probe.
type PreflightCheck = api.PreflightCheck

// StartRequest asks the daemon to start workflow processing.
type StartRequest struct{}

// StartResponse carries the result; Message explains a refusal.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest halts workflow processing without exiting the daemon.
type StopRequest struct{}

// StopResponse confirms the halt.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches the combined daemon snapshot.
type StatusRequest struct{}

// StatusResponse is everything `capstan status` renders: run state,
// queue counts, the most recent item, stage health, and preflight.
type StatusResponse struct {
	Running     bool             `json:"running"`
	QueueStats  map[string]int   `json:"queue_stats"`
	LastError   string           `json:"last_error"`
	LastItem    *QueueItem       `json:"last_item"`
	LockPath    string           `json:"lock_path"`
	QueueDBPath string           `json:"queue_db_path"`
	StageHealth []StageHealth    `json:"stage_health"`
	Preflight   []PreflightCheck `json:"preflight"`
	PID         int              `json:"pid"`
}

// ReleaseRequest queues a dispatch-triggered release. Scope follows the
// manifest form "package/vX.Y.Z".
type ReleaseRequest struct {
	Scope       string `json:"scope"`
	Environment string `json:"environment"`
	Requester   string `json:"requester"`
}

// ReleaseResponse returns the queue row the dispatch created.
type ReleaseResponse struct {
	Item QueueItem `json:"item"`
}

// QueueListRequest filters the listing; empty means every status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse carries the matching queue rows.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueDescribeRequest fetches one row by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse carries the row; a missing id is an RPC error.
type QueueDescribeResponse struct {
	Item QueueItem `json:"item"`
}

// Maintenance ops follow one convention: destructive clears report
// Removed, state rewrites report Updated.

// QueueClearRequest removes every row.
type QueueClearRequest struct{}

type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearFailedRequest removes rows stuck in failed.
type QueueClearFailedRequest struct{}

type QueueClearFailedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueClearCompletedRequest removes published rows.
type QueueClearCompletedRequest struct{}

type QueueClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueResetRequest returns in-flight rows to their retry statuses.
type QueueResetRequest struct{}

type QueueResetResponse struct {
	Updated int64 `json:"updated"`
}

// QueueRetryRequest requeues failed or review rows. An empty list
// means all of them.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// QueueStopRequest parks the named rows in review. An empty list is
// rejected.
type QueueStopRequest struct {
	IDs []int64 `json:"ids"`
}

type QueueStopResponse struct {
	Updated int64 `json:"updated"`
}

// LogTailRequest reads daemon log lines from Offset. Offset -1 seeks
// to the last Limit lines; Follow blocks up to WaitMillis for more.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns the lines plus the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// DatabaseHealthRequest runs the queue database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports what the probe could determine; Error
// holds the first failure when the probe stopped early.
type DatabaseHealthResponse struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`

	SchemaVersion  string   `json:"schema_version"`
	TableExists    bool     `json:"table_exists"`
	ColumnsPresent []string `json:"columns_present"`
	MissingColumns []string `json:"missing_columns"`

	IntegrityCheck bool   `json:"integrity_check"`
	TotalItems     int    `json:"total_items"`
	Error          string `json:"error"`
}

// TestNotificationRequest sends a probe through the notifier.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether anything was sent and why
// not when it was skipped.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// QueueHealthRequest fetches the aggregate queue counters.
type QueueHealthRequest struct{}

// QueueHealthResponse groups row counts by lifecycle bucket.
type QueueHealthResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Review     int `json:"review"`
	Published  int `json:"published"`
}

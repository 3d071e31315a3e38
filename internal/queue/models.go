package queue

import (
	"slices"
	"strings"
	"time"
)

// Status represents the lifecycle of a release item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusResolving  Status = "resolving"
	StatusResolved   Status = "resolved"
	StatusBuilding   Status = "building"
	StatusBuilt      Status = "built"
	StatusAttesting  Status = "attesting"
	StatusAttested   Status = "attested"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusReview     Status = "review"
)

// UserStopReason is the review reason set when an operator explicitly stops an item.
const UserStopReason = "Stop requested by operator"

// DaemonStopReason is the error message set when items are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusResolving,
	StatusResolved,
	StatusBuilding,
	StatusBuilt,
	StatusAttesting,
	StatusAttested,
	StatusPublishing,
	StatusPublished,
	StatusFailed,
	StatusReview,
}

type statusTransition struct {
	from Status
	to   Status
}

// stageRollbackTransitions map each processing status back to the start of
// its stage, so interrupted work repeats the stage instead of the pipeline.
// The table doubles as the definition of which statuses count as in-flight.
var stageRollbackTransitions = []statusTransition{
	{from: StatusResolving, to: StatusPending},
	{from: StatusBuilding, to: StatusResolved},
	{from: StatusAttesting, to: StatusBuilt},
	{from: StatusPublishing, to: StatusAttested},
}

func rollbackFor(status Status) Status {
	for _, transition := range stageRollbackTransitions {
		if transition.from == status {
			return transition.to
		}
	}
	return StatusPending
}

// DatabaseHealth is the report CheckHealth fills in while probing the
// queue database file, schema, and row integrity.
type DatabaseHealth struct {
	DBPath        string
	SchemaVersion string
	Error         string

	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool

	ColumnsPresent []string
	MissingColumns []string
	TotalItems     int
}

// HealthSummary aggregates queue counts by lifecycle bucket.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Review     int
	Published  int
}

// Item represents a release persisted in SQLite.
//
// Identity fields (Package, Version and friends) are empty until the
// resolve stage fills them in; trigger fields are set at enqueue time and
// never change afterwards.
type Item struct {
	ID              int64
	Package         string
	Module          string
	Version         string
	Channel         string
	WheelStem       string
	Environment     string
	PipelineRef     string
	TriggerKind     string
	TriggerRef      string
	TriggerScope    string
	Requester       string
	DeliveryID      string
	Status          Status
	RunID           string
	AttestationID   string
	HashManifest    string
	ArtifactsJSON   string
	ReceiptsJSON    string
	NotesPath       string
	ProvenancePath  string
	ReleaseURL      string
	EvidencePath    string
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	ItemLogPath     string
	LastHeartbeat   *time.Time
	NeedsReview     bool
	ReviewReason    string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return slices.Clone(allStatuses)
}

// ParseStatus converts operator input into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsProcessing returns true when the item sits in an in-flight stage.
func (i Item) IsProcessing() bool {
	return IsProcessingStatus(i.Status)
}

// IsProcessingStatus reports whether a status reflects an in-flight stage.
func IsProcessingStatus(status Status) bool {
	for _, transition := range stageRollbackTransitions {
		if transition.from == status {
			return true
		}
	}
	return false
}

// IsResolved reports whether the resolve stage has filled in the release
// identity for this item.
func (i Item) IsResolved() bool {
	return strings.TrimSpace(i.Package) != "" && strings.TrimSpace(i.Version) != ""
}

// IsUserStopReason reports whether a review reason represents an operator-initiated stop.
func IsUserStopReason(reason string) bool {
	return strings.EqualFold(strings.TrimSpace(reason), UserStopReason)
}

// InitProgress primes the progress fields when a stage begins. An existing
// ProgressStage is kept so resumed items keep reporting the stage they were
// interrupted in; any error message from a previous attempt is cleared.
func (i *Item) InitProgress(stage, message string) {
	if i.ProgressStage == "" {
		i.ProgressStage = stage
	}
	i.ProgressPercent = 0
	i.ProgressMessage = message
	i.ErrorMessage = ""
}

// SetProgress updates the progress triple in one call so readers never see
// a stage paired with a stale percentage.
func (i *Item) SetProgress(stage, message string, percent float64) {
	i.ProgressStage = stage
	i.ProgressPercent = percent
	i.ProgressMessage = message
}

// SetProgressComplete marks a stage finished at 100%.
func (i *Item) SetProgressComplete(stage, message string) {
	i.SetProgress(stage, message, 100)
}

// SetFailed marks the item failed and clears the heartbeat so the reclaimer
// leaves it alone.
func (i *Item) SetFailed(message string) {
	i.Status = StatusFailed
	i.ErrorMessage = message
	i.LastHeartbeat = nil
	i.SetProgress("Failed", message, 0)
}

// SetReview parks the item at the manual gate. The heartbeat is cleared so
// the item is not reclaimed while it waits for an operator.
func (i *Item) SetReview(reason string) {
	i.Status = StatusReview
	i.NeedsReview = true
	i.ReviewReason = reason
	i.LastHeartbeat = nil
	i.SetProgress("Review", reason, 0)
}

// IsInWorkflow returns true when an item is actively progressing (or queued
// to progress) through stages and should not be enqueued a second time.
func (i Item) IsInWorkflow() bool {
	if i.IsProcessing() {
		return true
	}
	switch i.Status {
	case StatusPending,
		StatusResolved,
		StatusBuilt,
		StatusAttested,
		StatusReview:
		return true
	default:
		return false
	}
}

// StageKey returns the normalized stage identifier used in API/CLI presentation.
// Processing and done statuses of the same stage collapse to one key.
func (s Status) StageKey() string {
	switch s {
	case "":
		return ""
	case StatusPending:
		return "queued"
	case StatusResolving, StatusResolved:
		return "resolve"
	case StatusBuilding, StatusBuilt:
		return "build"
	case StatusAttesting, StatusAttested:
		return "attest"
	case StatusPublishing:
		return "publish"
	case StatusPublished:
		return "final"
	case StatusFailed, StatusReview:
		return string(s)
	default:
		return ""
	}
}

// ProcessingLane partitions the workflow into trigger intake and the slower
// delivery stages so a long build never blocks new releases from entering.
type ProcessingLane string

const (
	LaneIntake   ProcessingLane = "intake"
	LaneDelivery ProcessingLane = "delivery"
)

// LaneForStatus maps a status to the lane whose workers own it.
func LaneForStatus(status Status) ProcessingLane {
	switch status {
	case StatusPending, StatusResolving:
		return LaneIntake
	case StatusResolved, StatusBuilding, StatusBuilt, StatusAttesting, StatusAttested, StatusPublishing, StatusPublished:
		return LaneDelivery
	default:
		return LaneIntake
	}
}

// LaneForItem maps a queue item to its processing lane for observability
// purposes. Stopped items follow the stage they reached: unresolved ones
// belong to intake, resolved ones to delivery.
func LaneForItem(item *Item) ProcessingLane {
	if item == nil {
		return LaneIntake
	}
	switch item.Status {
	case StatusFailed, StatusReview:
		if item.IsResolved() {
			return LaneDelivery
		}
		return LaneIntake
	default:
		return LaneForStatus(item.Status)
	}
}

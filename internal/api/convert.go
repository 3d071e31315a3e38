package api

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"capstan/internal/queue"
	"capstan/internal/stage"
	"capstan/internal/workflow"
)

// FromQueueItem flattens a queue row into the wire DTO every surface
// (IPC, HTTP, CLI tables) renders from.
func FromQueueItem(item *queue.Item) QueueItem {
	if item == nil {
		return QueueItem{}
	}

	dto := QueueItem{
		ID:             item.ID,
		Package:        item.Package,
		Module:         item.Module,
		Version:        item.Version,
		Channel:        item.Channel,
		Environment:    item.Environment,
		Status:         string(item.Status),
		ProcessingLane: string(queue.LaneForItem(item)),
		Progress:       progressFor(item),
		TriggerKind:    item.TriggerKind,
		TriggerRef:     item.TriggerRef,
		TriggerScope:   item.TriggerScope,
		Requester:      item.Requester,
		RunID:          item.RunID,
		AttestationID:  item.AttestationID,
		ReleaseURL:     item.ReleaseURL,
		EvidencePath:   item.EvidencePath,
		NotesPath:      item.NotesPath,
		LogPath:        item.ItemLogPath,
		ErrorMessage:   item.ErrorMessage,
		CreatedAt:      FormatTime(item.CreatedAt),
		UpdatedAt:      FormatTime(item.UpdatedAt),
		NeedsReview:    item.NeedsReview,
		ReviewReason:   item.ReviewReason,
	}
	if raw := item.ArtifactsJSON; raw != "" {
		dto.Artifacts = json.RawMessage(raw)
	}
	return dto
}

// progressFor renders item progress with the stage label kept consistent
// with status. Published items pin to the terminal label at 100% unless
// they carry a custom review stage.
func progressFor(item *queue.Item) QueueProgress {
	progress := QueueProgress{
		Stage:   item.ProgressStage,
		Percent: item.ProgressPercent,
		Message: item.ProgressMessage,
	}
	if item.Status == queue.StatusPublished && !item.NeedsReview {
		progress.Stage = statusLabel(item.Status)
		if progress.Percent < 100 {
			progress.Percent = 100
		}
	}
	if strings.TrimSpace(progress.Stage) == "" {
		progress.Stage = statusLabel(item.Status)
	}
	return progress
}

func statusLabel(status queue.Status) string {
	label := strings.TrimSpace(string(status))
	if label == "" {
		return ""
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

// FromQueueItems converts queue records into API DTOs, nil for an empty
// slice.
func FromQueueItems(items []*queue.Item) []QueueItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]QueueItem, len(items))
	for i, item := range items {
		out[i] = FromQueueItem(item)
	}
	return out
}

// FromStatusSummary converts a workflow status summary to its API payload.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	wf := WorkflowStatus{
		Running:     summary.Running,
		QueueStats:  MergeQueueStats(summary.QueueStats),
		StageHealth: StageHealthSlice(summary.StageHealth),
		LastError:   summary.LastError,
	}
	if last := summary.LastItem; last != nil {
		item := FromQueueItem(last)
		wf.LastItem = &item
	}
	return wf
}

// MergeQueueStats re-keys queue stats by plain strings for JSON payloads.
func MergeQueueStats(stats map[queue.Status]int) map[string]int {
	merged := make(map[string]int, len(stats))
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}

// StageHealthSlice flattens a stage health map into a slice sorted by
// stage name so JSON output is deterministic.
func StageHealthSlice(health map[string]stage.Health) []StageHealth {
	if len(health) == 0 {
		return nil
	}
	names := slices.Sorted(maps.Keys(health))

	out := make([]StageHealth, 0, len(names))
	for _, name := range names {
		info := health[name]
		out = append(out, StageHealth{Name: name, Ready: info.Ready, Detail: info.Detail})
	}
	return out
}

// FormatTime renders a timestamp for API payloads; the zero time is the
// empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

package queue

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

const itemColumns = "id, package, module, version, channel, wheel_stem, environment, pipeline_ref, trigger_kind, trigger_ref, trigger_scope, requester, delivery_id, status, run_id, attestation_id, hash_manifest, artifacts_json, receipts_json, notes_path, provenance_path, release_url, evidence_path, error_message, created_at, updated_at, progress_stage, progress_percent, progress_message, item_log_path, last_heartbeat, needs_review, review_reason"

// itemRow mirrors one release_items row with database nullability intact.
// Field order matches itemColumns.
type itemRow struct {
	id              int64
	pkg             sql.NullString
	module          sql.NullString
	version         sql.NullString
	channel         sql.NullString
	wheelStem       sql.NullString
	environment     sql.NullString
	pipelineRef     sql.NullString
	triggerKind     sql.NullString
	triggerRef      sql.NullString
	triggerScope    sql.NullString
	requester       sql.NullString
	deliveryID      sql.NullString
	status          string
	runID           sql.NullString
	attestationID   sql.NullString
	hashManifest    sql.NullString
	artifactsJSON   sql.NullString
	receiptsJSON    sql.NullString
	notesPath       sql.NullString
	provenancePath  sql.NullString
	releaseURL      sql.NullString
	evidencePath    sql.NullString
	errorMessage    sql.NullString
	createdAt       sql.NullString
	updatedAt       sql.NullString
	progressStage   sql.NullString
	progressPercent sql.NullFloat64
	progressMessage sql.NullString
	itemLogPath     sql.NullString
	lastHeartbeat   sql.NullString
	needsReview     sql.NullInt64
	reviewReason    sql.NullString
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var r itemRow
	err := scanner.Scan(
		&r.id, &r.pkg, &r.module, &r.version, &r.channel, &r.wheelStem,
		&r.environment, &r.pipelineRef, &r.triggerKind, &r.triggerRef,
		&r.triggerScope, &r.requester, &r.deliveryID, &r.status, &r.runID,
		&r.attestationID, &r.hashManifest, &r.artifactsJSON, &r.receiptsJSON,
		&r.notesPath, &r.provenancePath, &r.releaseURL, &r.evidencePath,
		&r.errorMessage, &r.createdAt, &r.updatedAt, &r.progressStage,
		&r.progressPercent, &r.progressMessage, &r.itemLogPath,
		&r.lastHeartbeat, &r.needsReview, &r.reviewReason,
	)
	if err != nil {
		return nil, err
	}
	return r.toItem(), nil
}

// toItem folds SQL nulls into Item's zero values. Timestamps that fail
// to parse stay zero rather than failing the whole scan.
func (r *itemRow) toItem() *Item {
	item := &Item{
		ID:              r.id,
		Package:         r.pkg.String,
		Module:          r.module.String,
		Version:         r.version.String,
		Channel:         r.channel.String,
		WheelStem:       r.wheelStem.String,
		Environment:     r.environment.String,
		PipelineRef:     r.pipelineRef.String,
		TriggerKind:     r.triggerKind.String,
		TriggerRef:      r.triggerRef.String,
		TriggerScope:    r.triggerScope.String,
		Requester:       r.requester.String,
		DeliveryID:      r.deliveryID.String,
		Status:          Status(r.status),
		RunID:           r.runID.String,
		AttestationID:   r.attestationID.String,
		HashManifest:    r.hashManifest.String,
		ArtifactsJSON:   r.artifactsJSON.String,
		ReceiptsJSON:    r.receiptsJSON.String,
		NotesPath:       r.notesPath.String,
		ProvenancePath:  r.provenancePath.String,
		ReleaseURL:      r.releaseURL.String,
		EvidencePath:    r.evidencePath.String,
		ErrorMessage:    r.errorMessage.String,
		ProgressStage:   r.progressStage.String,
		ProgressPercent: r.progressPercent.Float64,
		ProgressMessage: r.progressMessage.String,
		ItemLogPath:     r.itemLogPath.String,
		NeedsReview:     r.needsReview.Valid && r.needsReview.Int64 != 0,
		ReviewReason:    r.reviewReason.String,
	}
	if created, err := parseTimeString(r.createdAt.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(r.updatedAt.String); err == nil {
		item.UpdatedAt = updated
	}
	if r.lastHeartbeat.Valid {
		if heartbeat, err := parseTimeString(r.lastHeartbeat.String); err == nil {
			item.LastHeartbeat = &heartbeat
		}
	}
	return item
}

func nullableString(value string) any {
	if value != "" {
		return value
	}
	return nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if !value {
		return 0
	}
	return 1
}

// parseTimeString accepts RFC3339Nano, which the store writes, plus the
// bare datetime form SQLite's CURRENT_TIMESTAMP produces.
func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		t, err = time.Parse("2006-01-02 15:04:05", value)
	}
	return t, err
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.Repeat(",?", count)[1:]
}

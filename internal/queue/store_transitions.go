package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// rowsOrErr collapses the exec-then-count tail shared by every bulk
// transition in this file.
func rowsOrErr(res sql.Result, err error, what string) (int64, error) {
	if err != nil {
		return 0, fmt.Errorf("%s: %w", what, err)
	}
	return res.RowsAffected()
}

func reclaimTargets(statuses []Status) []Status {
	if len(statuses) == 0 {
		targets := make([]Status, 0, len(stageRollbackTransitions))
		for _, transition := range stageRollbackTransitions {
			targets = append(targets, transition.from)
		}
		return targets
	}
	targets := make([]Status, 0, len(statuses))
	for _, status := range statuses {
		if IsProcessingStatus(status) {
			targets = append(targets, status)
		}
	}
	return targets
}

func rollbackCase(targets []Status) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(targets)*2)
	b.WriteString("CASE status")
	for _, status := range targets {
		b.WriteString(" WHEN ? THEN ?")
		args = append(args, status, rollbackFor(status))
	}
	b.WriteString(" ELSE status END")
	return b.String(), args
}

// ResetStuckProcessing resets items in processing states back to the start of their current stage.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	targets := reclaimTargets(nil)
	caseClause, args := rollbackCase(targets)
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	for _, status := range targets {
		args = append(args, status)
	}

	query := `UPDATE release_items
         SET status = ` + caseClause + `,
             progress_stage = 'Reset from stuck processing',
             progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
         WHERE status IN (` + makePlaceholders(len(targets)) + `)`
	res, err := s.execWithRetry(ctx, query, args...)
	return rowsOrErr(res, err, "reset stuck items")
}

// UpdateHeartbeat stamps an in-flight item so reclaim passes know the
// lane working on it is still alive.
func (s *Store) UpdateHeartbeat(ctx context.Context, id int64) error {
	stamp := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.execWithoutResultRetry(
		ctx,
		`UPDATE release_items SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		stamp,
		stamp,
		id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStaleProcessing returns items stuck in processing back to the start
// of their current stage when heartbeats expire. When statuses are provided
// only those processing statuses are considered, so each lane can reclaim
// its own work without touching the other lane.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time, statuses ...Status) (int64, error) {
	targets := reclaimTargets(statuses)
	if len(targets) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	caseClause, args := rollbackCase(targets)
	args = append(args, now.Format(time.RFC3339Nano))
	for _, status := range targets {
		args = append(args, status)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	query := `UPDATE release_items
        SET status = ` + caseClause + `,
            progress_stage = 'Reclaimed from stale processing',
            progress_percent = 0, progress_message = NULL, last_heartbeat = NULL, updated_at = ?
        WHERE status IN (` + makePlaceholders(len(targets)) + `) AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`
	res, err := s.execWithRetry(ctx, query, args...)
	return rowsOrErr(res, err, "reclaim stale processing")
}

// retryResumeCase picks the status a stopped item resumes at from the
// outputs already recorded on it: provenance present means only publication
// remains, a hash manifest means attestation remains, a wheel stem means the
// item was resolved and the build must rerun, anything else starts over.
const retryResumeCase = `CASE
            WHEN COALESCE(provenance_path, '') <> '' THEN ?
            WHEN COALESCE(hash_manifest, '') <> '' THEN ?
            WHEN COALESCE(wheel_stem, '') <> '' THEN ?
            ELSE ?
        END`

func retryResumeArgs() []any {
	return []any{StatusAttested, StatusBuilt, StatusResolved, StatusPending}
}

// RetryFailed moves failed and review items back into the pipeline. Items
// resume at the first stage whose outputs are missing rather than starting
// from scratch.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		args := retryResumeArgs()
		args = append(args, time.Now().UTC().Format(time.RFC3339Nano), StatusFailed, StatusReview)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE release_items
            SET status = `+retryResumeCase+`,
                progress_stage = 'Retry requested', progress_percent = 0,
                progress_message = NULL, error_message = NULL, last_heartbeat = NULL,
                needs_review = 0, review_reason = NULL, updated_at = ?
            WHERE status IN (?, ?)`,
			args...,
		)
		return rowsOrErr(res, err, "retry failed items")
	}

	placeholders := makePlaceholders(len(ids))
	args := retryResumeArgs()
	args = append(args, time.Now().UTC().Format(time.RFC3339Nano))
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusFailed, StatusReview)
	query := `UPDATE release_items
        SET status = ` + retryResumeCase + `,
            progress_stage = 'Retry requested', progress_percent = 0,
            progress_message = NULL, error_message = NULL, last_heartbeat = NULL,
            needs_review = 0, review_reason = NULL, updated_at = ?
        WHERE id IN (` + placeholders + `) AND status IN (?, ?)`
	res, err := s.execWithRetry(ctx, query, args...)
	return rowsOrErr(res, err, "retry selected items")
}

// StopItems parks the given items at the review gate with UserStopReason so
// RetryFailed can resume them later. Items already published, failed, or in
// review are left alone. An item currently inside a stage is not interrupted;
// the stop lands once it is waiting between stages, because the stage's final
// update overwrites whatever state the item held when the stage started.
// Without ids every active item is stopped.
func (s *Store) StopItems(ctx context.Context, ids ...int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	set := `SET status = ?, needs_review = 1, review_reason = ?,
            progress_stage = 'Review', progress_percent = 0, progress_message = ?,
            error_message = NULL, last_heartbeat = NULL, updated_at = ?`
	baseArgs := []any{StatusReview, UserStopReason, UserStopReason, now}

	if len(ids) == 0 {
		args := append(baseArgs, StatusPublished, StatusFailed, StatusReview)
		res, err := s.execWithRetry(
			ctx,
			`UPDATE release_items `+set+` WHERE status NOT IN (?, ?, ?)`,
			args...,
		)
		return rowsOrErr(res, err, "stop items")
	}

	args := baseArgs
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, StatusPublished, StatusFailed, StatusReview)
	query := `UPDATE release_items ` + set + `
        WHERE id IN (` + makePlaceholders(len(ids)) + `) AND status NOT IN (?, ?, ?)`
	res, err := s.execWithRetry(ctx, query, args...)
	return rowsOrErr(res, err, "stop selected items")
}

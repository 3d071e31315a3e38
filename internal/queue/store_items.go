package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReleaseRequest carries the trigger fields recorded at enqueue time.
// Package and Version are optional intake-side splits of the scope or tag
// ref; the resolve stage derives the authoritative values later.
type ReleaseRequest struct {
	Package      string
	Version      string
	Environment  string
	TriggerKind  string
	TriggerRef   string
	TriggerScope string
	Requester    string
	DeliveryID   string
}

// TriggerKindTag and TriggerKindDispatch are the accepted trigger kinds.
const (
	TriggerKindTag      = "tag"
	TriggerKindDispatch = "dispatch"
)

// NewRelease enqueues a release trigger as a pending item.
//
// Intake is idempotent: a (package, version) pair already live in the queue
// is rejected with ErrReleaseExists, and a delivery ID that was consumed
// before is rejected with ErrDuplicateDelivery.
func (s *Store) NewRelease(ctx context.Context, req ReleaseRequest) (*Item, error) {
	kind := strings.ToLower(strings.TrimSpace(req.TriggerKind))
	switch kind {
	case TriggerKindTag:
		if strings.TrimSpace(req.TriggerRef) == "" {
			return nil, errors.New("tag trigger requires a ref")
		}
	case TriggerKindDispatch:
		if strings.TrimSpace(req.TriggerScope) == "" {
			return nil, errors.New("dispatch trigger requires a scope")
		}
	default:
		return nil, fmt.Errorf("unsupported trigger kind %q", req.TriggerKind)
	}

	pkg := strings.TrimSpace(req.Package)
	version := strings.TrimSpace(req.Version)
	if pkg != "" && version != "" {
		existing, err := s.FindActiveRelease(ctx, pkg, version)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, fmt.Errorf("%w: %s %s is item #%d (%s)", ErrReleaseExists, pkg, version, existing.ID, existing.Status)
		}
	}

	deliveryID := strings.TrimSpace(req.DeliveryID)
	if deliveryID != "" {
		seen, err := s.FindByDeliveryID(ctx, deliveryID)
		if err != nil {
			return nil, err
		}
		if seen != nil {
			return nil, fmt.Errorf("%w: %s consumed by item #%d", ErrDuplicateDelivery, deliveryID, seen.ID)
		}
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO release_items (
            package, version, environment, trigger_kind, trigger_ref, trigger_scope,
            requester, delivery_id, status, created_at, updated_at,
            progress_stage, progress_percent, progress_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(pkg),
		nullableString(version),
		nullableString(strings.TrimSpace(req.Environment)),
		kind,
		nullableString(strings.TrimSpace(req.TriggerRef)),
		nullableString(strings.TrimSpace(req.TriggerScope)),
		nullableString(strings.TrimSpace(req.Requester)),
		nullableString(deliveryID),
		StatusPending,
		timestamp,
		timestamp,
		nil,
		0.0,
		nil,
	)
	if err != nil {
		if strings.Contains(err.Error(), "idx_release_items_delivery") {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDelivery, deliveryID)
		}
		return nil, fmt.Errorf("insert release: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read new item id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// getItem runs a single-row lookup, mapping no-rows to a nil item.
func (s *Store) getItem(ctx context.Context, query string, args ...any) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// queryItems runs a multi-row select and scans every result.
func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetByID fetches a queue item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	item, err := s.getItem(ctx, `SELECT `+itemColumns+` FROM release_items WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindActiveRelease returns the first live item for a package/version pair.
// Failed and published items do not count as live.
func (s *Store) FindActiveRelease(ctx context.Context, pkg, version string) (*Item, error) {
	item, err := s.getItem(
		ctx,
		`SELECT `+itemColumns+` FROM release_items WHERE package = ? AND version = ? AND status NOT IN (?, ?) ORDER BY id LIMIT 1`,
		pkg, version, StatusFailed, StatusPublished,
	)
	if err != nil {
		return nil, fmt.Errorf("find active release: %w", err)
	}
	return item, nil
}

// FindByDeliveryID returns the item created for a trigger delivery, if any.
func (s *Store) FindByDeliveryID(ctx context.Context, deliveryID string) (*Item, error) {
	item, err := s.getItem(ctx, `SELECT `+itemColumns+` FROM release_items WHERE delivery_id = ? ORDER BY id LIMIT 1`, deliveryID)
	if err != nil {
		return nil, fmt.Errorf("find by delivery id: %w", err)
	}
	return item, nil
}

// Update writes every mutable column of an item back to the database.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("cannot update a nil item")
	}
	item.UpdatedAt = time.Now().UTC()

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE release_items
         SET package = ?, module = ?, version = ?, channel = ?, wheel_stem = ?,
             environment = ?, pipeline_ref = ?, status = ?, run_id = ?,
             last_heartbeat = ?, needs_review = ?, review_reason = ?,
             attestation_id = ?, hash_manifest = ?, artifacts_json = ?,
             receipts_json = ?, notes_path = ?, provenance_path = ?,
             release_url = ?, evidence_path = ?, error_message = ?, updated_at = ?,
             progress_stage = ?, progress_percent = ?, progress_message = ?,
             item_log_path = ?
         WHERE id = ?`,
		nullableString(item.Package),
		nullableString(item.Module),
		nullableString(item.Version),
		nullableString(item.Channel),
		nullableString(item.WheelStem),
		nullableString(item.Environment),
		nullableString(item.PipelineRef),
		item.Status,
		nullableString(item.RunID),
		nullableTime(item.LastHeartbeat),
		boolToInt(item.NeedsReview),
		nullableString(item.ReviewReason),
		nullableString(item.AttestationID),
		nullableString(item.HashManifest),
		nullableString(item.ArtifactsJSON),
		nullableString(item.ReceiptsJSON),
		nullableString(item.NotesPath),
		nullableString(item.ProvenancePath),
		nullableString(item.ReleaseURL),
		nullableString(item.EvidencePath),
		nullableString(item.ErrorMessage),
		item.UpdatedAt.Format(time.RFC3339Nano),
		nullableString(item.ProgressStage),
		item.ProgressPercent,
		nullableString(item.ProgressMessage),
		nullableString(item.ItemLogPath),
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// UpdateProgress persists only the progress fields, leaving the heartbeat
// and the rest of the item untouched.
func (s *Store) UpdateProgress(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("cannot update a nil item")
	}
	item.UpdatedAt = time.Now().UTC()

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE release_items
         SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(item.ProgressStage),
		item.ProgressPercent,
		nullableString(item.ProgressMessage),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// ItemsByStatus returns every item sitting in one status, oldest first.
func (s *Store) ItemsByStatus(ctx context.Context, status Status) ([]*Item, error) {
	items, err := s.queryItems(ctx, `SELECT `+itemColumns+` FROM release_items WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("query by status: %w", err)
	}
	return items, nil
}

// List returns the queue in creation order, optionally narrowed to a status set.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM release_items`
	var args []any
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		args = statusArgs(statuses)
	}
	query += ` ORDER BY created_at`

	items, err := s.queryItems(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	return items, nil
}

// NextForStatuses returns the oldest item in any of the given statuses,
// or nil when nothing waits.
func (s *Store) NextForStatuses(ctx context.Context, statuses ...Status) (*Item, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + itemColumns + ` FROM release_items WHERE status IN (` + makePlaceholders(len(statuses)) + `) ORDER BY created_at LIMIT 1`
	return s.getItem(ctx, query, statusArgs(statuses)...)
}

// statusArgs widens a status slice into driver arguments for an IN clause.
func statusArgs(statuses []Status) []any {
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	return args
}

// deleteWhere runs a DELETE and reports how many rows went away.
func (s *Store) deleteWhere(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.RowsAffected()
}

// Remove deletes one item, reporting whether a row actually existed.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	affected, err := s.deleteWhere(ctx, "delete item", `DELETE FROM release_items WHERE id = ?`, id)
	return affected > 0, err
}

// ClearCompleted removes published releases from the queue.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "clear completed", `DELETE FROM release_items WHERE status = ?`, StatusPublished)
}

// Clear removes all items from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "clear queue", `DELETE FROM release_items`)
}

// ClearFailed removes only failed items from the queue.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	return s.deleteWhere(ctx, "clear failed", `DELETE FROM release_items WHERE status = ?`, StatusFailed)
}

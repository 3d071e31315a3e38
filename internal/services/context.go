package services

import "context"

// Correlation values that ride the context from the workflow manager
// into service clients and log records. Keys are unexported; everything
// goes through the typed accessors below.
type ctxKey int

const (
	ctxItemID ctxKey = iota
	ctxStage
	ctxLane
	ctxRequestID
)

func withString(ctx context.Context, key ctxKey, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func stringFrom(ctx context.Context, key ctxKey) (string, bool) {
	s, ok := ctx.Value(key).(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// WithItemID annotates context with the queue item identifier.
func WithItemID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxItemID, id)
}

// ItemIDFromContext extracts the queue item identifier if present.
func ItemIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxItemID).(int64)
	return id, ok
}

// WithStage annotates context with the workflow stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withString(ctx, ctxStage, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, ctxStage)
}

// WithLane annotates context with the workflow lane name (intake/delivery).
func WithLane(ctx context.Context, lane string) context.Context {
	return withString(ctx, ctxLane, lane)
}

// LaneFromContext returns the lane name if present.
func LaneFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, ctxLane)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, ctxRequestID, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, ctxRequestID)
}

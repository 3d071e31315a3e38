package logging

import (
	"context"
	"log/slog"

	"capstan/internal/services"
)

// ContextFields lifts the correlation values the workflow manager put
// on the context into canonical log attributes.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	if id, ok := services.ItemIDFromContext(ctx); ok {
		fields = append(fields, slog.Int64(FieldItemID, id))
	}
	for _, field := range []struct {
		key    string
		lookup func(context.Context) (string, bool)
	}{
		{FieldStage, services.StageFromContext},
		{FieldLane, services.LaneFromContext},
		{FieldCorrelationID, services.RequestIDFromContext},
	} {
		if value, ok := field.lookup(ctx); ok {
			fields = append(fields, slog.String(field.key, value))
		}
	}
	return fields
}

// WithContext returns logger with the context's correlation fields
// attached, or the logger unchanged when the context carries none.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(Args(fields...)...)
	}
	return logger
}

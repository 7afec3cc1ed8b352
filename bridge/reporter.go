package bridge

import (
	"context"
	"errors"
	"log/slog"
)

// Reporter receives every failure the bridge observes. Reporting never
// returns an error and never panics into the caller.
type Reporter interface {
	Report(ctx context.Context, err error)
}

// LogReporter writes reported failures as structured log lines.
type LogReporter struct {
	Logger *slog.Logger
}

// Report logs err. A missing receiver is a warning; everything else is an error.
func (r LogReporter) Report(ctx context.Context, err error) {
	if err == nil || r.Logger == nil {
		return
	}

	attrs := []any{"error", err.Error()}
	var fe *FlowError
	if errors.As(err, &fe) {
		attrs = append(attrs, "flow", fe.Kind.String(), "op", fe.Op)
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		attrs = append(attrs, "provider_error", pe.Code, "denied", pe.Denied())
	}
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}

	level := slog.LevelError
	if errors.Is(err, ErrReceiverUnbound) {
		level = slog.LevelWarn
	}
	r.Logger.Log(ctx, level, "bridge.report", attrs...)
}

// multiReporter fans a report out to several reporters.
type multiReporter []Reporter

func (m multiReporter) Report(ctx context.Context, err error) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, err)
		}
	}
}

// Reporters combines reporters into one.
func Reporters(rs ...Reporter) Reporter {
	return multiReporter(rs)
}

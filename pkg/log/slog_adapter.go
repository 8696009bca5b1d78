package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol traffic in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.Protocol != "" {
		attrs = append(attrs, slog.String("protocol", event.Protocol))
	}
	if event.Station != "" {
		attrs = append(attrs, slog.String("station", event.Station))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.String("frame", formatBytes(event.Frame.Data)),
		)
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.CVOp != nil:
		op := "read"
		if event.CVOp.Write {
			op = "write"
		}
		attrs = append(attrs,
			slog.String("op", op),
			slog.Int("cv", event.CVOp.CV),
		)
		if event.CVOp.Value >= 0 {
			attrs = append(attrs, slog.Int("value", event.CVOp.Value))
		}
		if event.CVOp.Outcome != "" {
			attrs = append(attrs, slog.String("outcome", event.CVOp.Outcome))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol event", attrs...)
}

// formatBytes renders frame bytes as space-separated hex.
func formatBytes(data []byte) string {
	const hexdigits = "0123456789ABCDEF"
	buf := make([]byte, 0, len(data)*3)
	for i, b := range data {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, hexdigits[b>>4], hexdigits[b&0x0F])
	}
	return string(buf)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)

package mcpservice

import (
	"context"
	"errors"
	"log/slog"

	"github.com/asachs01/propublica-mcp/mcp"
	"github.com/asachs01/propublica-mcp/sessions"
)

// ErrInvalidLoggingLevel indicates a level outside the protocol-defined set.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")

// NewSlogLevelVarLogging maps logging/setLevel onto a slog.LevelVar, so the
// client adjusts the process log level when handlers share the same var.
func NewSlogLevelVarLogging(lv *slog.LevelVar) LoggingCapability {
	return &slogLevelVarLogging{lv: lv}
}

type slogLevelVarLogging struct{ lv *slog.LevelVar }

func (l *slogLevelVarLogging) SetLevel(ctx context.Context, _ *sessions.Metadata, level mcp.LoggingLevel) error {
	if !mcp.IsValidLoggingLevel(level) {
		return ErrInvalidLoggingLevel
	}
	var slogLevel slog.Level
	switch level {
	case mcp.LoggingLevelDebug:
		slogLevel = slog.LevelDebug
	case mcp.LoggingLevelInfo, mcp.LoggingLevelNotice:
		slogLevel = slog.LevelInfo
	case mcp.LoggingLevelWarning:
		slogLevel = slog.LevelWarn
	default:
		// error and above collapse to slog's error level
		slogLevel = slog.LevelError
	}
	l.lv.Set(slogLevel)
	return nil
}

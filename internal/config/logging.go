package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits below [slog.LevelDebug] and is used for wire-level
// output: raw Anthropic request/response bodies and inbound websocket
// frames from the tracker feed. The value -8 follows the convention
// other Go projects use when extending slog with a Trace level.
//
// Trace logs whole payloads per message, so keep it off outside of
// short diagnostic sessions.
const LevelTrace = slog.Level(-8)

// ParseLogLevel converts the config file's log level string to an
// [slog.Level].
//
// Accepted values:
//   - "trace" → [LevelTrace] (raw payloads and frames)
//   - "debug" → [slog.LevelDebug] (per-turn and per-tool detail)
//   - "info" or "" → [slog.LevelInfo] (normal operation)
//   - "warn" or "warning" → [slog.LevelWarn]
//   - "error" → [slog.LevelError]
//
// Anything else is an error. Surrounding whitespace and case are
// ignored.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is an [slog.HandlerOptions.ReplaceAttr] function
// that renders [LevelTrace] as "TRACE". slog has no name for custom
// levels and would otherwise print "DEBUG-4".
//
// Wire it in when building the process logger:
//
//	slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level:       level,
//	    ReplaceAttr: config.ReplaceLogLevelNames,
//	})
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

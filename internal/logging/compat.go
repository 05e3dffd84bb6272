package logging

import (
	"bytes"
	"log/slog"
	"strings"
)

// BridgeWriter adapts slog to io.Writer so output from the standard "log"
// package (ours or a dependency's) lands in the structured log. A leading
// "[CATEGORY] " prefix becomes the component attribute.
type BridgeWriter struct {
	component string
}

// NewBridgeWriter creates a writer that forwards writes to slog.
// defaultComponent is used when no [CATEGORY] prefix is found.
func NewBridgeWriter(defaultComponent string) *BridgeWriter {
	return &BridgeWriter{component: defaultComponent}
}

// Write implements io.Writer. Each call is one log record.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	n := len(p)
	msg := stripLogTimestamp(string(bytes.TrimSpace(p)))
	if msg == "" {
		return n, nil
	}

	component := bw.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = canonicalComponent(strings.ToLower(msg[1:idx]))
			msg = msg[idx+2:]
		}
	}

	Logger().Info(msg, slog.String("component", component))
	return n, nil
}

// stripLogTimestamp removes the prefix written by log.SetFlags(log.Ltime)
// with or without microseconds; slog adds its own time.
func stripLogTimestamp(s string) string {
	if len(s) > 16 && s[2] == ':' && s[5] == ':' && s[8] == '.' && s[15] == ' ' {
		return s[16:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

func canonicalComponent(cat string) string {
	switch cat {
	case "archive", "zip", "tar", "extract":
		return CompArchive
	case "search", "index", "fts":
		return CompSearch
	case "preload", "warm":
		return CompPreload
	case "git", "diff", "vcs":
		return CompGit
	case "config", "env":
		return CompConfig
	default:
		return cat
	}
}

package entitypath

import (
	"log/slog"
	"sync"

	"rerun-chunkstore/internal/logging"
)

var (
	warnLogger   = logging.Discard()
	warnLoggerMu sync.RWMutex
	warnSeen     sync.Map // string -> struct{}, dedups by distinct input
)

// SetWarnLogger installs the logger used to report non-canonical path
// warnings. Each distinct non-canonical input is logged at most once per
// process.
func SetWarnLogger(logger *slog.Logger) {
	warnLoggerMu.Lock()
	defer warnLoggerMu.Unlock()
	warnLogger = logging.Default(logger).With("component", "entitypath")
}

func warnOnce(input, normalized string) {
	if _, loaded := warnSeen.LoadOrStore(input, struct{}{}); loaded {
		return
	}
	warnLoggerMu.RLock()
	logger := warnLogger
	warnLoggerMu.RUnlock()
	logger.Warn("entity path was not in normalized form",
		"input", input, "normalized", normalized)
}

// ParseForgiving parses input as an entity path, never failing: characters
// outside the canonical grammar are accepted as-is (and escaped again on
// Format), and duplicate/leading/trailing separators are collapsed.
func ParseForgiving(input string) Path {
	tokens := tokenizeEntityPath(input)

	var parts []Part
	for _, tok := range tokens {
		if tok == "/" {
			continue // duplicate/leading/trailing separators are dropped
		}
		raw, err := unescapePart(tok, false)
		if err != nil {
			// unescapePart in forgiving mode only fails on a dangling
			// backslash or malformed \u{...} escape; fall back to the
			// literal token rather than rejecting the input.
			raw = tok
		}
		parts = append(parts, Part(raw))
	}

	path := New(parts...)
	if normalized := path.Format(); normalized != input {
		warnOnce(input, normalized)
	}
	return path
}

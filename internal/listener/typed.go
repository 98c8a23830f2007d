package listener

import (
	"encoding/json"
	"log/slog"
)

// Typed adapts fn into a Handler that decodes the payload into T first.
// Payloads that fail to decode are logged and dropped.
func Typed[T any](logger *slog.Logger, fn func(T)) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(payload json.RawMessage) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			logger.Warn("dropping undecodable event payload", "error", err, "len", len(payload))
			return
		}
		fn(v)
	}
}

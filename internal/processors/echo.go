package processors

import (
	"encoding/json"

	"backtest-api/internal/core"
)

// Echo returns its payload unchanged. Used for smoke tests and as the
// minimal example of a processor.
func Echo(payload json.RawMessage, progress core.ProgressFunc) (json.RawMessage, error) {
	progress(100)
	if len(payload) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return payload, nil
}

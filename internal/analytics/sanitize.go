package analytics

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"
)

// maxStringValueLen is the provider's hard per-value limit for strings.
const maxStringValueLen = 255

// SanitizeReport records what the sanitizer did to a payload, so dropped
// keys stay observable instead of vanishing silently.
type SanitizeReport struct {
	Kept      []string
	Dropped   []string
	Truncated []string
}

// sanitize reduces fields to the provider's schema constraints: at most
// maxKeys top-level keys, string values capped at 255 characters, and only
// scalar values on the wire. Key selection is greedy by the fixed priority
// list, then remaining keys in sorted order until the budget runs out.
func sanitize(fields map[string]any, maxKeys int) (map[string]any, SanitizeReport) {
	out := make(map[string]any, maxKeys)
	seen := make(map[string]bool, len(fields))
	var report SanitizeReport

	admit := func(key string) {
		value, present := fields[key]
		if !present || seen[key] {
			return
		}
		seen[key] = true
		scalar, ok := toScalar(value)
		if !ok {
			// Objects and arrays are dropped outright, never serialized.
			report.Dropped = append(report.Dropped, key)
			return
		}
		if len(out) >= maxKeys {
			report.Dropped = append(report.Dropped, key)
			return
		}
		if s, isString := scalar.(string); isString && len([]rune(s)) > maxStringValueLen {
			scalar = string([]rune(s)[:maxStringValueLen])
			report.Truncated = append(report.Truncated, key)
		}
		out[key] = scalar
		report.Kept = append(report.Kept, key)
	}

	for _, key := range priorityFields {
		admit(key)
	}

	remaining := make([]string, 0, len(fields))
	for key := range fields {
		if !seen[key] {
			remaining = append(remaining, key)
		}
	}
	sort.Strings(remaining)
	for _, key := range remaining {
		admit(key)
	}

	if len(report.Dropped) > 0 {
		slog.Debug("sanitizer dropped event fields",
			"dropped", report.Dropped, "kept", len(report.Kept), "budget", maxKeys)
	}
	return out, report
}

// toScalar reports whether the value may go on the wire, normalizing the
// accepted types. The provider contract allows strings, numbers, and bools.
func toScalar(v any) (any, bool) {
	switch value := v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return value, true
	case decimal.Decimal:
		return value.String(), true
	default:
		return nil, false
	}
}

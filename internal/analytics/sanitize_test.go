package analytics

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSanitize_KeyBudgetPrefersPriorityFields(t *testing.T) {
	fields := map[string]any{
		"extra1":       "a",
		"extra2":       "b",
		"program_code": "mba",
		"form_name":    "rfi",
	}

	out, report := sanitize(fields, 2)

	require.Len(t, out, 2)
	require.Equal(t, "mba", out["program_code"])
	require.Equal(t, "rfi", out["form_name"])
	require.ElementsMatch(t, []string{"extra1", "extra2"}, report.Dropped)
}

func TestSanitize_RemainingFieldsFillLeftoverBudget(t *testing.T) {
	fields := map[string]any{
		"program_code": "mba",
		"zeta":         "z",
		"alpha":        "a",
	}

	out, _ := sanitize(fields, 2)

	// Priority field first, then remaining keys in sorted order.
	require.Len(t, out, 2)
	require.Equal(t, "mba", out["program_code"])
	require.Equal(t, "a", out["alpha"])
	require.NotContains(t, out, "zeta")
}

func TestSanitize_TruncatesLongStrings(t *testing.T) {
	long := strings.Repeat("x", 300)
	out, report := sanitize(map[string]any{"program_code": long}, 10)

	require.Len(t, out["program_code"], 255)
	require.Equal(t, []string{"program_code"}, report.Truncated)
}

func TestSanitize_DropsNonScalarValues(t *testing.T) {
	fields := map[string]any{
		"program_code": "mba",
		"nested":       map[string]any{"a": 1},
		"list":         []string{"a"},
	}

	out, report := sanitize(fields, 10)

	require.Len(t, out, 1)
	require.NotContains(t, out, "nested")
	require.NotContains(t, out, "list")
	require.ElementsMatch(t, []string{"list", "nested"}, report.Dropped)
}

func TestSanitize_ScalarNormalization(t *testing.T) {
	fields := map[string]any{
		"count":   int64(3),
		"ratio":   0.5,
		"flag":    true,
		"value":   decimal.NewFromInt(150),
		"word":    "ok",
		"pointer": &struct{}{},
	}

	out, _ := sanitize(fields, 10)

	require.Equal(t, int64(3), out["count"])
	require.Equal(t, 0.5, out["ratio"])
	require.Equal(t, true, out["flag"])
	require.Equal(t, "150", out["value"], "decimals cross the wire as strings")
	require.Equal(t, "ok", out["word"])
	require.NotContains(t, out, "pointer")
}

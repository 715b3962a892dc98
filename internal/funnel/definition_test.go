package funnel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const applicationFunnelYAML = `
key: application
name: Application Funnel
stages:
  - number: 1
    name: Awareness
    events: [page_viewed]
  - number: 2
    name: Interest
    events: [program_viewed, brochure_downloaded]
  - number: 3
    name: Intent
    events: [rfi_form_submitted]
    is_conversion: true
    conversion_value: "25"
  - number: 4
    name: Application
    events: [application_submitted]
    is_conversion: true
    conversion_value: "150"
    is_final_goal: true
`

func writeFunnelFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFunnelFile(t, dir, "application.yaml", applicationFunnelYAML)
	writeFunnelFile(t, dir, "notes.txt", "not a funnel")

	defs, err := LoadDefinitions(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def := defs[0]
	require.Equal(t, "application", def.Key)
	require.Equal(t, 4, def.TotalStages())
	require.NotEmpty(t, def.Fingerprint)

	stage := def.StageForEvent("rfi_form_submitted")
	require.NotNil(t, stage)
	require.Equal(t, 3, stage.Number)
	require.True(t, stage.IsConversion)
	require.True(t, stage.ConversionValue.Equal(decimal.NewFromInt(25)))
	require.False(t, stage.IsFinalGoal)

	final := def.StageForEvent("application_submitted")
	require.NotNil(t, final)
	require.True(t, final.IsFinalGoal)

	require.Nil(t, def.StageForEvent("modal_opened"))
}

func TestLoadDefinitions_MissingDirIsEmpty(t *testing.T) {
	defs, err := LoadDefinitions(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	require.Empty(t, defs)
}

func TestLoadDefinitions_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "non increasing stage numbers",
			yaml: `
key: f
name: F
stages:
  - {number: 1, name: A, events: [a]}
  - {number: 3, name: B, events: [b]}
`,
			wantErr: "strictly increasing",
		},
		{
			name: "ambiguous trigger event",
			yaml: `
key: f
name: F
stages:
  - {number: 1, name: A, events: [shared]}
  - {number: 2, name: B, events: [shared]}
`,
			wantErr: "triggers both",
		},
		{
			name: "stage without events",
			yaml: `
key: f
name: F
stages:
  - {number: 1, name: A, events: []}
`,
			wantErr: "no trigger events",
		},
		{
			name: "final goal without conversion flag",
			yaml: `
key: f
name: F
stages:
  - {number: 1, name: A, events: [a], is_final_goal: true}
`,
			wantErr: "must also be a conversion stage",
		},
		{
			name: "two final goals",
			yaml: `
key: f
name: F
stages:
  - {number: 1, name: A, events: [a], is_conversion: true, is_final_goal: true}
  - {number: 2, name: B, events: [b], is_conversion: true, is_final_goal: true}
`,
			wantErr: "at most one stage",
		},
		{
			name: "bad conversion value",
			yaml: `
key: f
name: F
stages:
  - {number: 1, name: A, events: [a], is_conversion: true, conversion_value: "abc"}
`,
			wantErr: "invalid conversion_value",
		},
		{
			name: "missing key",
			yaml: `
name: F
stages:
  - {number: 1, name: A, events: [a]}
`,
			wantErr: "key must not be empty",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFunnelFile(t, dir, "funnel.yaml", tc.yaml)
			_, err := LoadDefinitions(dir)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestLoadDefinitions_DuplicateKeyAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFunnelFile(t, dir, "a.yaml", applicationFunnelYAML)
	writeFunnelFile(t, dir, "b.yaml", applicationFunnelYAML)

	_, err := LoadDefinitions(dir)
	require.ErrorContains(t, err, "duplicate funnel key")
}

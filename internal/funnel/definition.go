// Package funnel tracks a visitor's progression through configured conversion
// funnels. Each funnel is an ordered list of stages reached by trigger
// events; a journey per funnel per profile records stage history,
// conversions, and drop-off.
package funnel

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Stage is one ordered step in a funnel.
type Stage struct {
	Number          int
	Name            string
	Events          []string
	IsConversion    bool
	ConversionValue decimal.Decimal
	IsFinalGoal     bool
}

// Definition is one configured funnel. Definitions are loaded at startup from
// YAML files and fingerprinted so a changed file is detectable against
// persisted journeys.
type Definition struct {
	Key         string
	Name        string
	Stages      []Stage
	Fingerprint string

	stageByEvent map[string]*Stage
}

// rawDefinition is the on-disk YAML shape. Conversion values are strings so
// they parse into exact decimals rather than floats.
type rawDefinition struct {
	Key    string     `yaml:"key"`
	Name   string     `yaml:"name"`
	Stages []rawStage `yaml:"stages"`
}

type rawStage struct {
	Number          int      `yaml:"number"`
	Name            string   `yaml:"name"`
	Events          []string `yaml:"events"`
	IsConversion    bool     `yaml:"is_conversion"`
	ConversionValue string   `yaml:"conversion_value"`
	IsFinalGoal     bool     `yaml:"is_final_goal"`
}

// TotalStages returns the number of configured stages.
func (d *Definition) TotalStages() int {
	return len(d.Stages)
}

// StageForEvent returns the stage triggered by the event name, or nil when
// the event is irrelevant to this funnel.
func (d *Definition) StageForEvent(event string) *Stage {
	return d.stageByEvent[event]
}

// StageByNumber returns the stage with the given number, or nil.
func (d *Definition) StageByNumber(number int) *Stage {
	for i := range d.Stages {
		if d.Stages[i].Number == number {
			return &d.Stages[i]
		}
	}
	return nil
}

// NewDefinition builds and validates a definition from parsed stages.
// Exposed for tests and embedded configuration.
func NewDefinition(key, name string, stages []Stage) (*Definition, error) {
	def := &Definition{Key: key, Name: name, Stages: stages}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (raw rawDefinition) toDefinition() (*Definition, error) {
	stages := make([]Stage, 0, len(raw.Stages))
	for _, rs := range raw.Stages {
		value := decimal.Zero
		if rs.ConversionValue != "" {
			parsed, err := decimal.NewFromString(rs.ConversionValue)
			if err != nil {
				return nil, fmt.Errorf("funnel %q: stage %d has invalid conversion_value %q",
					raw.Key, rs.Number, rs.ConversionValue)
			}
			value = parsed
		}
		stages = append(stages, Stage{
			Number:          rs.Number,
			Name:            rs.Name,
			Events:          rs.Events,
			IsConversion:    rs.IsConversion,
			ConversionValue: value,
			IsFinalGoal:     rs.IsFinalGoal,
		})
	}
	return NewDefinition(raw.Key, raw.Name, stages)
}

// validate enforces the structural invariants: 1-based strictly increasing
// stage numbers, non-empty trigger sets, each event in at most one stage,
// and at most one final goal.
func (d *Definition) validate() error {
	if strings.TrimSpace(d.Key) == "" {
		return fmt.Errorf("funnel key must not be empty")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("funnel %q: name must not be empty", d.Key)
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("funnel %q: at least one stage is required", d.Key)
	}

	d.stageByEvent = make(map[string]*Stage)
	finalGoals := 0
	previous := 0
	for i := range d.Stages {
		stage := &d.Stages[i]
		if stage.Number != previous+1 {
			return fmt.Errorf("funnel %q: stage numbers must be 1-based and strictly increasing, got %d after %d",
				d.Key, stage.Number, previous)
		}
		previous = stage.Number

		if strings.TrimSpace(stage.Name) == "" {
			return fmt.Errorf("funnel %q: stage %d has no name", d.Key, stage.Number)
		}
		if len(stage.Events) == 0 {
			return fmt.Errorf("funnel %q: stage %d has no trigger events", d.Key, stage.Number)
		}
		for _, event := range stage.Events {
			if other, exists := d.stageByEvent[event]; exists {
				return fmt.Errorf("funnel %q: event %q triggers both stage %d and stage %d",
					d.Key, event, other.Number, stage.Number)
			}
			d.stageByEvent[event] = stage
		}

		if stage.IsFinalGoal {
			finalGoals++
			if !stage.IsConversion {
				return fmt.Errorf("funnel %q: final goal stage %d must also be a conversion stage", d.Key, stage.Number)
			}
		}
	}
	if finalGoals > 1 {
		return fmt.Errorf("funnel %q: at most one stage may be the final goal", d.Key)
	}
	return nil
}

// LoadDefinitions reads all *.yaml funnel files from dir. One funnel per
// file. A missing directory yields zero funnels, which is valid.
func LoadDefinitions(dir string) ([]*Definition, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("funnel config dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("funnel config path %q is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading funnel config dir: %w", err)
	}

	var defs []*Definition
	seen := make(map[string]string) // key -> filename
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading funnel file %s: %w", path, err)
		}

		var raw rawDefinition
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parsing funnel file %s: %w", path, err)
		}
		if raw.Key == "" && raw.Name == "" && len(raw.Stages) == 0 {
			continue // skip empty / comment-only files
		}

		def, err := raw.toDefinition()
		if err != nil {
			return nil, fmt.Errorf("funnel file %s: %w", path, err)
		}
		if prior, exists := seen[def.Key]; exists {
			return nil, fmt.Errorf("funnel file %s: duplicate funnel key %q (already defined in %s)", path, def.Key, prior)
		}
		seen[def.Key] = e.Name()

		def.Fingerprint = fmt.Sprintf("%x", sha256.Sum256(data))
		defs = append(defs, def)
	}
	return defs, nil
}

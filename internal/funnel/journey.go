package funnel

import (
	"time"

	"github.com/shopspring/decimal"
)

// StageEvent is one raw event observed for a stage, kept as journey history.
type StageEvent struct {
	Name string         `json:"name"`
	At   time.Time      `json:"at"`
	Data map[string]any `json:"data,omitempty"`
}

// Conversion is one conversion record. Conversions is append-only history: a
// funnel may flag several stages as conversions and a visitor may reach them
// in any forward order.
type Conversion struct {
	Stage            int             `json:"stage"`
	StageName        string          `json:"stage_name"`
	TriggerEvent     string          `json:"trigger_event"`
	Value            decimal.Decimal `json:"value"`
	SecondsToConvert int64           `json:"seconds_to_convert"`
	At               time.Time       `json:"at"`
	Attribution      map[string]any  `json:"attribution,omitempty"`
}

// DropOff marks where a journey stalled. Set at most once.
type DropOff struct {
	Stage     int       `json:"stage"`
	StageName string    `json:"stage_name,omitempty"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Journey is the persisted per-funnel state machine for one profile.
// CurrentStage 0 means the funnel has not been entered; it only ever moves
// forward.
type Journey struct {
	FunnelKey           string                `json:"funnel_key"`
	CurrentStage        int                   `json:"current_stage"`
	HighestStageReached int                   `json:"highest_stage_reached"`
	StagesCompleted     []int                 `json:"stages_completed"`
	StageTimestamps     map[int]time.Time     `json:"stage_timestamps"`
	StageEvents         map[int][]StageEvent  `json:"stage_events"`
	StartedAt           time.Time             `json:"started_at"`
	LastActivityAt      time.Time             `json:"last_activity_at"`
	TotalTimeSeconds    int64                 `json:"total_time_in_funnel_seconds"`
	DropOff             *DropOff              `json:"drop_off,omitempty"`
	IsConverted         bool                  `json:"is_converted"`
	ConvertedAt         time.Time             `json:"converted_at,omitzero"`
	ConversionValue     decimal.Decimal       `json:"conversion_value"`
	Conversions         []Conversion          `json:"conversions,omitempty"`
}

func newJourney(funnelKey string, at time.Time) *Journey {
	return &Journey{
		FunnelKey:       funnelKey,
		StagesCompleted: []int{},
		StageTimestamps: make(map[int]time.Time),
		StageEvents:     make(map[int][]StageEvent),
		StartedAt:       at,
		LastActivityAt:  at,
		ConversionValue: decimal.Zero,
	}
}

func (j *Journey) stageCompleted(number int) bool {
	for _, n := range j.StagesCompleted {
		if n == number {
			return true
		}
	}
	return false
}

// Progression describes one stage transition, returned to the dispatch layer
// so it can emit a follow-up event.
type Progression struct {
	FunnelKey         string          `json:"funnel_key"`
	FunnelName        string          `json:"funnel_name"`
	PreviousStage     int             `json:"previous_stage"`
	PreviousStageName string          `json:"previous_stage_name,omitempty"`
	NewStage          int             `json:"new_stage"`
	NewStageName      string          `json:"new_stage_name"`
	TriggerEvent      string          `json:"trigger_event"`
	SecondsFromPrev   int64           `json:"seconds_from_previous_stage"`
	CompletionPercent float64         `json:"completion_percent"`
	IsConversion      bool            `json:"is_conversion"`
	ConversionValue   decimal.Decimal `json:"conversion_value"`
	IsFinalGoal       bool            `json:"is_final_goal"`
}

// Fields flattens a progression for event payloads.
func (p *Progression) Fields() map[string]any {
	fields := map[string]any{
		"funnel_key":                  p.FunnelKey,
		"funnel_name":                 p.FunnelName,
		"previous_stage":              p.PreviousStage,
		"new_stage":                   p.NewStage,
		"new_stage_name":              p.NewStageName,
		"trigger_event":               p.TriggerEvent,
		"seconds_from_previous_stage": p.SecondsFromPrev,
		"completion_percent":          p.CompletionPercent,
	}
	if p.PreviousStageName != "" {
		fields["previous_stage_name"] = p.PreviousStageName
	}
	if p.IsConversion {
		fields["is_conversion"] = true
		fields["conversion_value"] = p.ConversionValue.String()
	}
	if p.IsFinalGoal {
		fields["is_final_goal"] = true
	}
	return fields
}

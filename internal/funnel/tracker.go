package funnel

import (
	"context"
	"log/slog"
	"time"

	"github.com/trailmark-io/trailmark/internal/attribution"
	"github.com/trailmark-io/trailmark/internal/store"
)

// journeyKeyPrefix prefixes the durable key a journey persists under.
const journeyKeyPrefix = "funnel_journey_"

// Tracker runs one funnel's state machine over a profile's persisted journey.
// Every mutation reads the journey, applies the change, and writes the whole
// journey back.
type Tracker struct {
	def         *Definition
	stores      store.Stores
	attribution *attribution.Tracker
	now         func() time.Time
}

// NewTracker creates a tracker for one funnel definition. The attribution
// tracker is consulted when a conversion stage is reached; it may be nil in
// contexts without attribution.
func NewTracker(def *Definition, stores store.Stores, attr *attribution.Tracker) *Tracker {
	return &Tracker{def: def, stores: stores, attribution: attr, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// Definition returns the funnel this tracker runs.
func (t *Tracker) Definition() *Definition {
	return t.def
}

// TrackEvent records the event against the journey. Returns a progression
// when the event advanced the funnel, nil when it was irrelevant or mapped to
// an already-reached stage. The journey's current stage never moves backward.
func (t *Tracker) TrackEvent(ctx context.Context, eventName string, data map[string]any) *Progression {
	stage := t.def.StageForEvent(eventName)
	if stage == nil {
		return nil
	}

	now := t.now().UTC()
	journey := t.loadJourney(ctx)

	journey.StageEvents[stage.Number] = append(journey.StageEvents[stage.Number], StageEvent{
		Name: eventName,
		At:   now,
		Data: data,
	})
	journey.LastActivityAt = now

	if stage.Number <= journey.CurrentStage {
		// Revisiting an earlier stage is history, not a transition.
		t.persist(ctx, journey)
		return nil
	}

	progression := t.transition(ctx, journey, stage, eventName, now)
	t.persist(ctx, journey)
	return progression
}

// transition advances the journey to the triggered stage and builds the
// progression record.
func (t *Tracker) transition(ctx context.Context, journey *Journey, stage *Stage, eventName string, now time.Time) *Progression {
	previous := journey.CurrentStage
	previousName := ""
	if prev := t.def.StageByNumber(previous); prev != nil {
		previousName = prev.Name
	}

	journey.CurrentStage = stage.Number
	if stage.Number > journey.HighestStageReached {
		journey.HighestStageReached = stage.Number
	}
	if !journey.stageCompleted(stage.Number) {
		journey.StagesCompleted = append(journey.StagesCompleted, stage.Number)
	}
	if _, reached := journey.StageTimestamps[stage.Number]; !reached {
		journey.StageTimestamps[stage.Number] = now
	}

	// Elapsed since the previous stage was first reached, or since funnel
	// start when entering from stage 0.
	since := journey.StartedAt
	if prevAt, ok := journey.StageTimestamps[previous]; ok && previous > 0 {
		since = prevAt
	}
	secondsFromPrev := int64(now.Sub(since).Seconds())
	journey.TotalTimeSeconds = int64(now.Sub(journey.StartedAt).Seconds())

	progression := &Progression{
		FunnelKey:         t.def.Key,
		FunnelName:        t.def.Name,
		PreviousStage:     previous,
		PreviousStageName: previousName,
		NewStage:          stage.Number,
		NewStageName:      stage.Name,
		TriggerEvent:      eventName,
		SecondsFromPrev:   secondsFromPrev,
		CompletionPercent: float64(stage.Number) / float64(t.def.TotalStages()) * 100,
		IsConversion:      stage.IsConversion,
		ConversionValue:   stage.ConversionValue,
		IsFinalGoal:       stage.IsFinalGoal,
	}

	if stage.IsConversion {
		t.recordConversion(ctx, journey, stage, eventName, now)
	}
	return progression
}

func (t *Tracker) recordConversion(ctx context.Context, journey *Journey, stage *Stage, eventName string, now time.Time) {
	conversion := Conversion{
		Stage:            stage.Number,
		StageName:        stage.Name,
		TriggerEvent:     eventName,
		Value:            stage.ConversionValue,
		SecondsToConvert: int64(now.Sub(journey.StartedAt).Seconds()),
		At:               now,
	}
	if t.attribution != nil {
		if summary := t.attribution.Summary(ctx); summary != nil {
			conversion.Attribution = summary.Fields()
		}
	}
	journey.Conversions = append(journey.Conversions, conversion)

	// ConvertedAt and ConversionValue are write-once: reaching the final goal
	// seals them, later conversion stages only extend the history above.
	if stage.IsFinalGoal && !journey.IsConverted {
		journey.IsConverted = true
		journey.ConvertedAt = now
		journey.ConversionValue = stage.ConversionValue
	}
}

// TrackDropOff marks the journey as stalled at its current stage. Set-once:
// only the first call records anything, later calls return nil.
func (t *Tracker) TrackDropOff(ctx context.Context, reason string) *DropOff {
	journey := t.loadJourney(ctx)
	if journey.DropOff != nil {
		return nil
	}

	now := t.now().UTC()
	dropOff := &DropOff{Stage: journey.CurrentStage, Reason: reason, At: now}
	if stage := t.def.StageByNumber(journey.CurrentStage); stage != nil {
		dropOff.StageName = stage.Name
	}
	journey.DropOff = dropOff
	journey.LastActivityAt = now
	t.persist(ctx, journey)

	slog.Debug("funnel drop-off recorded",
		"funnel", t.def.Key, "stage", dropOff.Stage, "reason", reason)
	return dropOff
}

// Journey returns a snapshot of the persisted journey.
func (t *Tracker) Journey(ctx context.Context) *Journey {
	return t.loadJourney(ctx)
}

// CompletionPercentage reports progress through the configured stages.
func (t *Tracker) CompletionPercentage(ctx context.Context) float64 {
	journey := t.loadJourney(ctx)
	return float64(journey.CurrentStage) / float64(t.def.TotalStages()) * 100
}

// HasConverted reports whether the final goal was reached.
func (t *Tracker) HasConverted(ctx context.Context) bool {
	return t.loadJourney(ctx).IsConverted
}

// CurrentStage returns the stage the journey sits at, or nil at stage 0.
func (t *Tracker) CurrentStage(ctx context.Context) *Stage {
	return t.def.StageByNumber(t.loadJourney(ctx).CurrentStage)
}

// NextStage returns the stage after the current one, or nil at the end.
func (t *Tracker) NextStage(ctx context.Context) *Stage {
	return t.def.StageByNumber(t.loadJourney(ctx).CurrentStage + 1)
}

// Reset drops the persisted journey.
func (t *Tracker) Reset(ctx context.Context) {
	if err := t.stores.Durable.Delete(ctx, t.journeyKey()); err != nil {
		slog.Warn("funnel reset failed", "funnel", t.def.Key, "error", err)
	}
}

func (t *Tracker) journeyKey() string {
	return journeyKeyPrefix + t.def.Key
}

// loadJourney reads the persisted journey. A missing, corrupt, or unreadable
// journey re-initializes at stage 0 rather than failing.
func (t *Tracker) loadJourney(ctx context.Context) *Journey {
	journey := newJourney(t.def.Key, t.now().UTC())
	res := store.GetJSON(ctx, t.stores.Durable, t.journeyKey(), journey)
	if res.Recovered {
		slog.Warn("funnel journey reinitialized", "funnel", t.def.Key)
		return newJourney(t.def.Key, t.now().UTC())
	}
	if journey.StageTimestamps == nil {
		journey.StageTimestamps = make(map[int]time.Time)
	}
	if journey.StageEvents == nil {
		journey.StageEvents = make(map[int][]StageEvent)
	}
	if journey.StagesCompleted == nil {
		journey.StagesCompleted = []int{}
	}
	return journey
}

func (t *Tracker) persist(ctx context.Context, journey *Journey) {
	store.PutJSON(ctx, t.stores.Durable, t.journeyKey(), journey)
}

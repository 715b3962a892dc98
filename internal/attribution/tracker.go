package attribution

import (
	"context"
	"strings"
	"time"

	"github.com/trailmark-io/trailmark/internal/identity"
	"github.com/trailmark-io/trailmark/internal/page"
	"github.com/trailmark-io/trailmark/internal/store"
)

// KeyTouchpoints is the durable key holding the ordered touchpoint list.
const KeyTouchpoints = "attribution_touchpoints"

// Summary is the derived multi-touch view over the touchpoint list. It is
// computed on demand and never stored.
type Summary struct {
	FirstTouchSource   string    `json:"first_touch_source"`
	FirstTouchMedium   string    `json:"first_touch_medium"`
	FirstTouchCampaign string    `json:"first_touch_campaign"`
	FirstTouchAt       time.Time `json:"first_touch_at"`
	LastTouchSource    string    `json:"last_touch_source"`
	LastTouchMedium    string    `json:"last_touch_medium"`
	LastTouchCampaign  string    `json:"last_touch_campaign"`
	LastTouchAt        time.Time `json:"last_touch_at"`
	SourceJourney      string    `json:"source_journey"`
	CampaignJourney    string    `json:"campaign_journey"`
	TouchpointCount    int       `json:"touchpoint_count"`
	DaysFirstToLast    int       `json:"days_first_to_last"`
	// PrimarySource credits the last touchpoint. Deliberate simplification of
	// a time-decay model: later touches dominate credit.
	PrimarySource string `json:"primary_attribution_source"`
}

// Fields flattens the summary for event enrichment.
func (s *Summary) Fields() map[string]any {
	return map[string]any{
		"first_touch_source":         s.FirstTouchSource,
		"first_touch_medium":         s.FirstTouchMedium,
		"first_touch_campaign":       s.FirstTouchCampaign,
		"last_touch_source":          s.LastTouchSource,
		"last_touch_medium":          s.LastTouchMedium,
		"last_touch_campaign":        s.LastTouchCampaign,
		"source_journey":             s.SourceJourney,
		"campaign_journey":           s.CampaignJourney,
		"touchpoint_count":           s.TouchpointCount,
		"days_first_to_last":         s.DaysFirstToLast,
		"primary_attribution_source": s.PrimarySource,
	}
}

// Tracker owns the touchpoint list for one profile.
type Tracker struct {
	stores          store.Stores
	identity        *identity.Service
	internalDomains []string
	now             func() time.Time
}

// NewTracker creates an attribution tracker. internalDomains lists the site's
// own hostnames so internal navigation never counts as a referral.
func NewTracker(stores store.Stores, ident *identity.Service, internalDomains []string) *Tracker {
	return &Tracker{stores: stores, identity: ident, internalDomains: internalDomains, now: time.Now}
}

// WithClock overrides the time source. Test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// RecordTouchpointIfNew builds a touchpoint from the page context and appends
// it only when the current session has none yet. Called once per page load;
// the session dedup rule makes repeat calls within a session no-ops.
// Always returns the current touchpoint snapshot.
func (t *Tracker) RecordTouchpointIfNew(ctx context.Context, pc page.Context) *Snapshot {
	id := t.identity.Resolve(ctx)
	points := t.load(ctx)

	if n := len(points); n > 0 && points[n-1].SessionID == id.SessionID {
		return &Snapshot{Touchpoint: points[n-1], IsFirstTouch: n == 1, TouchpointIndex: n - 1}
	}

	tp := buildTouchpoint(pc, t.internalDomains, id.SessionID, t.now().UTC())
	points = append(points, tp)
	store.PutJSON(ctx, t.stores.Durable, KeyTouchpoints, points)

	return &Snapshot{Touchpoint: tp, IsFirstTouch: len(points) == 1, TouchpointIndex: len(points) - 1}
}

// Touchpoints returns the stored journey in order.
func (t *Tracker) Touchpoints(ctx context.Context) []Touchpoint {
	return t.load(ctx)
}

// Summary derives the attribution view. Returns nil when no touchpoints have
// been recorded: no attribution is claimed for an untouched journey.
func (t *Tracker) Summary(ctx context.Context) *Summary {
	points := t.load(ctx)
	if len(points) == 0 {
		return nil
	}

	first := points[0]
	last := points[len(points)-1]

	sources := make([]string, len(points))
	campaigns := make([]string, len(points))
	for i, p := range points {
		sources[i] = p.Source
		campaigns[i] = p.Campaign
	}

	return &Summary{
		FirstTouchSource:   first.Source,
		FirstTouchMedium:   first.Medium,
		FirstTouchCampaign: first.Campaign,
		FirstTouchAt:       first.Timestamp,
		LastTouchSource:    last.Source,
		LastTouchMedium:    last.Medium,
		LastTouchCampaign:  last.Campaign,
		LastTouchAt:        last.Timestamp,
		SourceJourney:      strings.Join(sources, " > "),
		CampaignJourney:    strings.Join(campaigns, " > "),
		TouchpointCount:    len(points),
		DaysFirstToLast:    int(last.Timestamp.Sub(first.Timestamp).Hours() / 24),
		PrimarySource:      last.Source,
	}
}

// Reset drops the recorded journey.
func (t *Tracker) Reset(ctx context.Context) {
	if err := t.stores.Durable.Delete(ctx, KeyTouchpoints); err != nil {
		// Best effort: attribution reset must not fail the caller.
		return
	}
}

// load reads the touchpoint list, treating a parse failure or unavailable
// store as "no prior touchpoints".
func (t *Tracker) load(ctx context.Context) []Touchpoint {
	var points []Touchpoint
	store.GetJSON(ctx, t.stores.Durable, KeyTouchpoints, &points)
	return points
}

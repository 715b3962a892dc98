package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/trailmark-io/trailmark/internal/attribution"
	"github.com/trailmark-io/trailmark/internal/funnel"
	"github.com/trailmark-io/trailmark/internal/identity"
	"github.com/trailmark-io/trailmark/internal/page"
	"github.com/trailmark-io/trailmark/internal/provider"
)

// Service is the dispatch layer for one profile: the single entry point the
// rest of the application tracks through. It is an explicitly constructed,
// dependency-injected object; nothing here is module-level state.
type Service struct {
	identity    *identity.Service
	attribution *attribution.Tracker
	funnels     *funnel.Manager
	dispatcher  *provider.Dispatcher
	maxKeys     int
	now         func() time.Time
}

// NewService wires the dispatch layer. maxKeys is the provider's top-level
// key budget for one event.
func NewService(
	ident *identity.Service,
	attr *attribution.Tracker,
	funnels *funnel.Manager,
	dispatcher *provider.Dispatcher,
	maxKeys int,
) *Service {
	if maxKeys <= 0 {
		maxKeys = 25
	}
	return &Service{
		identity:    ident,
		attribution: attr,
		funnels:     funnels,
		dispatcher:  dispatcher,
		maxKeys:     maxKeys,
		now:         time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TrackEvent enriches, sanitizes, and dispatches one event, then feeds the
// enriched (pre-sanitized) payload to the funnels so funnel logic is never
// limited by the provider's schema budget. Any failure is logged and
// swallowed: telemetry must not break the page that sent the beacon.
func (s *Service) TrackEvent(ctx context.Context, pc page.Context, eventName string, data map[string]any) {
	defer s.isolate(eventName)()

	enriched := s.enrich(ctx, pc, eventName, data)

	sanitized, _ := sanitize(enriched, s.maxKeys)
	s.dispatcher.Enqueue(provider.Payload{Name: eventName, At: s.now().UTC(), Fields: sanitized})

	for _, progression := range s.funnels.TrackEvent(ctx, eventName, enriched) {
		s.dispatchProgression(ctx, pc, progression)
	}

	s.identity.IncrementEventCount(ctx)
}

// dispatchProgression emits the follow-up event for one funnel advance,
// sanitized on its own budget.
func (s *Service) dispatchProgression(ctx context.Context, pc page.Context, p *funnel.Progression) {
	fields := s.enrich(ctx, pc, EventFunnelStageProgressed, p.Fields())
	sanitized, _ := sanitize(fields, s.maxKeys)
	s.dispatcher.Enqueue(provider.Payload{Name: EventFunnelStageProgressed, At: s.now().UTC(), Fields: sanitized})
}

// TrackPageView tracks a page view and records the page in the session's
// page list.
func (s *Service) TrackPageView(ctx context.Context, pc page.Context, data map[string]any) {
	defer s.isolate(EventPageViewed)()
	s.identity.AppendPageVisited(ctx, pc.Path())
	s.TrackEvent(ctx, pc, EventPageViewed, data)
}

// TrackConversion tracks a named conversion event.
func (s *Service) TrackConversion(ctx context.Context, pc page.Context, conversionName string, data map[string]any) {
	merged := map[string]any{
		FieldConversionName: conversionName,
		FieldIsConversion:   true,
	}
	for k, v := range data {
		merged[k] = v
	}
	s.TrackEvent(ctx, pc, conversionName, merged)
}

// TrackFunnelDropOff marks a funnel journey as stalled and emits the
// drop-off event when this was the first drop-off.
func (s *Service) TrackFunnelDropOff(ctx context.Context, pc page.Context, funnelKey, reason string) {
	defer s.isolate(EventFunnelDropOff)()

	dropOff := s.funnels.TrackDropOff(ctx, funnelKey, reason)
	if dropOff == nil {
		return
	}
	s.TrackEvent(ctx, pc, EventFunnelDropOff, map[string]any{
		FieldFunnelKey:    funnelKey,
		"drop_off_stage":  dropOff.Stage,
		"drop_off_reason": dropOff.Reason,
	})
}

// TrackScrollDepth tracks a scroll-depth milestone.
func (s *Service) TrackScrollDepth(ctx context.Context, pc page.Context, percentage int, data map[string]any) {
	merged := map[string]any{"scroll_depth_percent": percentage}
	for k, v := range data {
		merged[k] = v
	}
	s.TrackEvent(ctx, pc, EventScrollDepthReached, merged)
}

// TrackTimeOnPage tracks elapsed seconds on the current page.
func (s *Service) TrackTimeOnPage(ctx context.Context, pc page.Context, seconds int, data map[string]any) {
	merged := map[string]any{"seconds_on_page": seconds}
	for k, v := range data {
		merged[k] = v
	}
	s.TrackEvent(ctx, pc, EventTimeOnPage, merged)
}

// InitializeAttribution records the touchpoint for this page load if the
// session has none yet. Call once per page load.
func (s *Service) InitializeAttribution(ctx context.Context, pc page.Context) *attribution.Snapshot {
	defer s.isolate("initialize_attribution")()
	return s.attribution.RecordTouchpointIfNew(ctx, pc)
}

// Identity resolves the current identity snapshot.
func (s *Service) Identity(ctx context.Context) identity.Identity {
	return s.identity.Resolve(ctx)
}

// AttributionSummary derives the current attribution view, nil when the
// journey has no touchpoints.
func (s *Service) AttributionSummary(ctx context.Context) *attribution.Summary {
	return s.attribution.Summary(ctx)
}

// Funnels exposes the funnel manager for read accessors.
func (s *Service) Funnels() *funnel.Manager {
	return s.funnels
}

// Reset clears identity, attribution, and funnel state for this profile.
func (s *Service) Reset(ctx context.Context) {
	s.identity.Reset(ctx)
	s.attribution.Reset(ctx)
	s.funnels.Reset(ctx)
}

// enrich builds the full event payload: identity, attribution, page and
// device context, timestamp, then caller fields last so they win collisions.
func (s *Service) enrich(ctx context.Context, pc page.Context, eventName string, data map[string]any) map[string]any {
	id := s.identity.Resolve(ctx)
	device := page.Sniff(pc.UserAgent, pc.ViewportWidth)

	fields := map[string]any{
		FieldEventName:           eventName,
		FieldAnonymousUserID:     id.AnonymousUserID,
		FieldSessionID:           id.SessionID,
		FieldIsNewSession:        id.IsNewSession,
		FieldSessionCount:        id.SessionCount,
		FieldDaysSinceFirstVisit: id.DaysSinceFirstVisit,
		FieldPagePath:            pc.Path(),
		FieldPageType:            page.Classify(pc.Path()),
		FieldDeviceType:          device.Type,
		FieldBrowser:             device.Browser,
		FieldOS:                  device.OS,
		FieldViewportWidth:       pc.ViewportWidth,
		FieldViewportHeight:      pc.ViewportHeight,
		FieldTimestamp:           s.now().UTC().Format(time.RFC3339),
	}

	if summary := s.attribution.Summary(ctx); summary != nil {
		for k, v := range summary.Fields() {
			fields[k] = v
		}
	}

	for k, v := range data {
		fields[k] = v
	}
	return fields
}

// isolate converts a panic anywhere in the dispatch path into a log line.
func (s *Service) isolate(eventName string) func() {
	return func() {
		if r := recover(); r != nil {
			slog.Error("analytics dispatch failed", "event", eventName, "panic", r)
		}
	}
}

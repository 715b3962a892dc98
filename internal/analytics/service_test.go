package analytics

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/trailmark-io/trailmark/internal/attribution"
	"github.com/trailmark-io/trailmark/internal/funnel"
	"github.com/trailmark-io/trailmark/internal/identity"
	"github.com/trailmark-io/trailmark/internal/page"
	"github.com/trailmark-io/trailmark/internal/provider"
	"github.com/trailmark-io/trailmark/internal/store"
)

type capturingProvider struct {
	mu   sync.Mutex
	sent []provider.Payload
}

func (c *capturingProvider) Send(_ context.Context, p provider.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, p)
	return nil
}

type testHarness struct {
	svc      *Service
	capture  *capturingProvider
	dispatch *provider.Dispatcher
	stores   store.Stores
}

// drain flushes queued payloads into the capture provider.
func (h *testHarness) drain(t *testing.T) []provider.Payload {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.dispatch.Run(ctx))
	h.capture.mu.Lock()
	defer h.capture.mu.Unlock()
	sent := h.capture.sent
	h.capture.sent = nil
	return sent
}

func newHarness(t *testing.T, maxKeys int) *testHarness {
	t.Helper()
	stores := store.Stores{
		Durable: store.NewMemory(),
		Session: store.NewMemory(),
		Cookie:  store.NewMemory(),
	}
	ident := identity.NewService(stores)
	attr := attribution.NewTracker(stores, ident, []string{"online.example.edu"})

	def, err := funnel.NewDefinition("application", "Application Funnel", []funnel.Stage{
		{Number: 1, Name: "Awareness", Events: []string{EventPageViewed}},
		{Number: 2, Name: "Intent", Events: []string{EventRFIFormSubmitted}, IsConversion: true, ConversionValue: decimal.NewFromInt(25)},
		{Number: 3, Name: "Application", Events: []string{EventApplicationSubmitted}, IsConversion: true, ConversionValue: decimal.NewFromInt(150), IsFinalGoal: true},
	})
	require.NoError(t, err)
	manager := funnel.NewManager([]*funnel.Tracker{funnel.NewTracker(def, stores, attr)})

	capture := &capturingProvider{}
	dispatch := provider.NewDispatcher(capture, 64)

	return &testHarness{
		svc:      NewService(ident, attr, manager, dispatch, maxKeys),
		capture:  capture,
		dispatch: dispatch,
		stores:   stores,
	}
}

func TestTrackEvent_EnrichesAndDispatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)

	pc := page.Context{
		URL:           "https://online.example.edu/programs/mba?utm_source=google&utm_campaign=launch",
		UserAgent:     "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/124.0 Safari/537.36",
		ViewportWidth: 1440,
	}
	h.svc.InitializeAttribution(ctx, pc)
	h.svc.TrackEvent(ctx, pc, EventCTAClicked, map[string]any{"cta_label": "Apply Now"})

	sent := h.drain(t)
	require.Len(t, sent, 1)
	fields := sent[0].Fields

	require.Equal(t, EventCTAClicked, sent[0].Name)
	require.Equal(t, "Apply Now", fields["cta_label"])
	require.NotEmpty(t, fields["anonymous_user_id"])
	require.NotEmpty(t, fields["session_id"])
	require.Equal(t, "program_detail", fields["page_type"])
	require.Equal(t, "/programs/mba", fields["page_path"])
	require.Equal(t, "chrome", fields["browser"])
	require.Equal(t, "google", fields["last_touch_source"])
	require.Equal(t, "launch", fields["last_touch_campaign"])
}

func TestTrackEvent_CallerFieldsWinCollisions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)

	h.svc.TrackEvent(ctx, page.Context{URL: "https://online.example.edu/apply"}, EventCTAClicked,
		map[string]any{"page_type": "custom_override"})

	sent := h.drain(t)
	require.Equal(t, "custom_override", sent[0].Fields["page_type"])
}

func TestTrackEvent_ProgressionEmitsSecondEvent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)

	pc := page.Context{URL: "https://online.example.edu/"}
	h.svc.TrackEvent(ctx, pc, EventPageViewed, nil)

	sent := h.drain(t)
	require.Len(t, sent, 2)
	require.Equal(t, EventPageViewed, sent[0].Name)
	require.Equal(t, EventFunnelStageProgressed, sent[1].Name)
	require.Equal(t, "application", sent[1].Fields["funnel_key"])
	require.Equal(t, 1, sent[1].Fields["new_stage"])
	require.Equal(t, "Awareness", sent[1].Fields["new_stage_name"])
}

func TestTrackEvent_FunnelSeesPreSanitizedPayload(t *testing.T) {
	ctx := context.Background()
	// Brutal key budget: the wire payload shrinks to 2 keys, the funnel must
	// still see the full enriched event.
	h := newHarness(t, 2)

	pc := page.Context{URL: "https://online.example.edu/request-info"}
	h.svc.TrackEvent(ctx, pc, EventRFIFormSubmitted, map[string]any{"program_code": "mba"})

	sent := h.drain(t)
	for _, p := range sent {
		require.LessOrEqual(t, len(p.Fields), 2)
	}

	tracker, ok := h.svc.Funnels().Tracker("application")
	require.True(t, ok)
	journey := tracker.Journey(ctx)
	require.Equal(t, 2, journey.CurrentStage)

	events := journey.StageEvents[2]
	require.Len(t, events, 1)
	require.Equal(t, "mba", events[0].Data["program_code"])
	require.NotEmpty(t, events[0].Data["anonymous_user_id"], "funnel history keeps enrichment the wire lost")
}

func TestTrackPageView_RecordsSessionPages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)

	h.svc.TrackPageView(ctx, page.Context{URL: "https://online.example.edu/programs/mba"}, nil)
	h.svc.TrackPageView(ctx, page.Context{URL: "https://online.example.edu/apply"}, nil)

	var pages []string
	store.GetJSON(ctx, h.stores.Session, identity.KeyPagesInSession, &pages)
	require.Equal(t, []string{"/programs/mba", "/apply"}, pages)
}

func TestTrackConversion_SetsFlag(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)

	h.svc.TrackConversion(ctx, page.Context{URL: "https://online.example.edu/apply"}, EventApplicationSubmitted, nil)

	sent := h.drain(t)
	require.GreaterOrEqual(t, len(sent), 1)
	require.Equal(t, true, sent[0].Fields["is_conversion"])
	require.Equal(t, EventApplicationSubmitted, sent[0].Fields["conversion_name"])
}

func TestTrackFunnelDropOff_EmitsOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	pc := page.Context{URL: "https://online.example.edu/apply"}

	h.svc.TrackEvent(ctx, pc, EventPageViewed, nil)
	h.drain(t)

	h.svc.TrackFunnelDropOff(ctx, pc, "application", "exit_intent")
	sent := h.drain(t)
	require.Len(t, sent, 1)
	require.Equal(t, EventFunnelDropOff, sent[0].Name)
	require.Equal(t, "exit_intent", sent[0].Fields["drop_off_reason"])

	// Second drop-off is a no-op: nothing new on the wire.
	h.svc.TrackFunnelDropOff(ctx, pc, "application", "later_reason")
	require.Empty(t, h.drain(t))
}

func TestWrappers_MergeMeasurements(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	pc := page.Context{URL: "https://online.example.edu/blog/post"}

	h.svc.TrackScrollDepth(ctx, pc, 75, nil)
	h.svc.TrackTimeOnPage(ctx, pc, 120, nil)

	sent := h.drain(t)
	require.Len(t, sent, 2)
	require.Equal(t, 75, sent[0].Fields["scroll_depth_percent"])
	require.Equal(t, 120, sent[1].Fields["seconds_on_page"])
}

func TestEventCounterIncrements(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	pc := page.Context{URL: "https://online.example.edu/"}

	h.svc.TrackEvent(ctx, pc, EventCTAClicked, nil)
	h.svc.TrackEvent(ctx, pc, EventCTAClicked, nil)

	raw, found, err := h.stores.Session.Get(ctx, identity.KeyEventsInSession)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "2", raw)
}

func TestReset_ClearsAllState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	pc := page.Context{URL: "https://online.example.edu/?utm_source=google"}

	h.svc.InitializeAttribution(ctx, pc)
	h.svc.TrackEvent(ctx, pc, EventPageViewed, nil)
	before := h.svc.Identity(ctx).AnonymousUserID

	h.svc.Reset(ctx)

	require.NotEqual(t, before, h.svc.Identity(ctx).AnonymousUserID)
	require.Nil(t, h.svc.AttributionSummary(ctx))
	tracker, _ := h.svc.Funnels().Tracker("application")
	require.Equal(t, 0, tracker.Journey(ctx).CurrentStage)
}

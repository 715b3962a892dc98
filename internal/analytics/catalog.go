// Package analytics is the engine's public surface: it enriches every event
// with identity, attribution, page, and device context, sanitizes the payload
// to the ingestion provider's schema limits, dispatches it, and feeds the
// funnel state machines.
package analytics

// Canonical event names. Calling code uses these instead of ad hoc strings so
// funnel definitions and dashboards agree on spelling.
const (
	EventPageViewed            = "page_viewed"
	EventCTAClicked            = "cta_clicked"
	EventFormStarted           = "form_started"
	EventFormFieldCompleted    = "form_field_completed"
	EventFormSubmitted         = "form_submitted"
	EventFormAbandoned         = "form_abandoned"
	EventRFIFormSubmitted      = "rfi_form_submitted"
	EventModalOpened           = "modal_opened"
	EventModalClosed           = "modal_closed"
	EventApplicationStarted    = "application_started"
	EventApplicationSubmitted  = "application_submitted"
	EventProgramViewed         = "program_viewed"
	EventBrochureDownloaded    = "brochure_downloaded"
	EventVideoPlayed           = "video_played"
	EventNewsletterSubscribed  = "newsletter_subscribed"
	EventScrollDepthReached    = "scroll_depth_reached"
	EventTimeOnPage            = "time_on_page"
	EventSessionStarted        = "session_started"
	EventSessionEnded          = "session_ended"
	EventFunnelStageProgressed = "funnel_stage_progressed"
	EventFunnelDropOff         = "funnel_drop_off"
)

// Canonical payload field names. The enricher and the sanitizer's priority
// table share these constants so the selection order below cannot drift from
// the fields actually produced.
const (
	FieldEventName           = "event_name"
	FieldProgramCode         = "program_code"
	FieldFormName            = "form_name"
	FieldConversionName      = "conversion_name"
	FieldIsConversion        = "is_conversion"
	FieldCTALabel            = "cta_label"
	FieldFunnelKey           = "funnel_key"
	FieldNewStage            = "new_stage"
	FieldNewStageName        = "new_stage_name"
	FieldAnonymousUserID     = "anonymous_user_id"
	FieldSessionID           = "session_id"
	FieldIsNewSession        = "is_new_session"
	FieldSessionCount        = "session_count"
	FieldDaysSinceFirstVisit = "days_since_first_visit"
	FieldPagePath            = "page_path"
	FieldPageType            = "page_type"
	FieldDeviceType          = "device_type"
	FieldBrowser             = "browser"
	FieldOS                  = "os"
	FieldViewportWidth       = "viewport_width"
	FieldViewportHeight      = "viewport_height"
	FieldTimestamp           = "timestamp"
	FieldLastTouchSource     = "last_touch_source"
	FieldLastTouchCampaign   = "last_touch_campaign"
	FieldFirstTouchSource    = "first_touch_source"
	FieldFirstTouchCampaign  = "first_touch_campaign"
	FieldPrimarySource       = "primary_attribution_source"
	FieldTouchpointCount     = "touchpoint_count"
)

// priorityFields is the sanitizer's key-selection order. Business-critical
// identifiers fill the provider's key budget first; whatever caller or
// enrichment fields remain compete for the leftover slots.
var priorityFields = []string{
	FieldProgramCode,
	FieldFormName,
	FieldConversionName,
	FieldIsConversion,
	FieldCTALabel,
	FieldFunnelKey,
	FieldNewStage,
	FieldNewStageName,
	FieldAnonymousUserID,
	FieldSessionID,
	FieldPageType,
	FieldPagePath,
	FieldLastTouchSource,
	FieldLastTouchCampaign,
	FieldFirstTouchSource,
	FieldFirstTouchCampaign,
	FieldPrimarySource,
	FieldDeviceType,
	FieldBrowser,
	FieldOS,
	FieldIsNewSession,
	FieldSessionCount,
	FieldDaysSinceFirstVisit,
	FieldTouchpointCount,
	FieldTimestamp,
}

package collect

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	httperr "github.com/trailmark-io/trailmark/internal/core/errors"
	"github.com/trailmark-io/trailmark/internal/funnel"
	"github.com/trailmark-io/trailmark/internal/page"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
	msgUnknownFunnel  = "Unknown funnel key"
)

// collectError carries the structured HTTP error shape from a helper back to
// the handler. Helpers return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type collectError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *collectError) Error() string {
	return e.message
}

// pageBody is the page context a beacon reports about itself.
type pageBody struct {
	URL            string `json:"url"`
	Referrer       string `json:"referrer"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
}

type trackRequest struct {
	EventName string         `json:"event_name"`
	Page      pageBody       `json:"page"`
	Data      map[string]any `json:"data"`
}

type pageViewRequest struct {
	Page pageBody       `json:"page"`
	Data map[string]any `json:"data"`
}

type conversionRequest struct {
	ConversionName string         `json:"conversion_name"`
	Page           pageBody       `json:"page"`
	Data           map[string]any `json:"data"`
}

type dropOffRequest struct {
	Reason string   `json:"reason"`
	Page   pageBody `json:"page"`
}

// TrackHandler handles HTTP POST requests for custom events.
func (s *Service) TrackHandler(c *gin.Context) {
	var req trackRequest
	if err := s.parseBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if strings.TrimSpace(req.EventName) == "" {
		writeError(c, &collectError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    "event_name is required",
		})
		return
	}

	ps := s.openProfile(c)
	pc := s.pageContext(c, req.Page)

	slog.Info("Received event",
		"event_name", req.EventName,
		"profile_id", ps.profileID,
		"page_path", pc.Path())

	ps.analytics.TrackEvent(c.Request.Context(), pc, req.EventName, req.Data)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// PageViewHandler records the session touchpoint for this page load, then
// tracks the page view.
func (s *Service) PageViewHandler(c *gin.Context) {
	var req pageViewRequest
	if err := s.parseBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	ps := s.openProfile(c)
	pc := s.pageContext(c, req.Page)

	ps.analytics.InitializeAttribution(c.Request.Context(), pc)
	ps.analytics.TrackPageView(c.Request.Context(), pc, req.Data)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ConversionHandler handles named conversion events.
func (s *Service) ConversionHandler(c *gin.Context) {
	var req conversionRequest
	if err := s.parseBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if strings.TrimSpace(req.ConversionName) == "" {
		writeError(c, &collectError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    "conversion_name is required",
		})
		return
	}

	ps := s.openProfile(c)
	pc := s.pageContext(c, req.Page)
	ps.analytics.TrackConversion(c.Request.Context(), pc, req.ConversionName, req.Data)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// DropOffHandler marks a funnel journey as stalled.
func (s *Service) DropOffHandler(c *gin.Context) {
	key := c.Param("key")
	if !s.knownFunnel(key) {
		writeError(c, &collectError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpUnknownFunnelError,
			message:    msgUnknownFunnel,
			details:    map[string]interface{}{"funnel_key": key},
		})
		return
	}

	var req dropOffRequest
	if err := s.parseBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	ps := s.openProfile(c)
	pc := s.pageContext(c, req.Page)
	ps.analytics.TrackFunnelDropOff(c.Request.Context(), pc, key, req.Reason)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// ResetHandler clears all state for the requesting profile.
func (s *Service) ResetHandler(c *gin.Context) {
	ps := s.openProfile(c)
	ps.analytics.Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// IdentityHandler returns the resolved identity snapshot.
func (s *Service) IdentityHandler(c *gin.Context) {
	ps := s.openProfile(c)
	id := ps.analytics.Identity(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"anonymous_user_id":      id.AnonymousUserID,
		"session_id":             id.SessionID,
		"is_new_session":         id.IsNewSession,
		"session_count":          id.SessionCount,
		"first_visit_date":       id.FirstVisitDate.UTC().Format(time.RFC3339),
		"days_since_first_visit": id.DaysSinceFirstVisit,
	})
}

// AttributionHandler returns the derived attribution summary and raw
// touchpoint history.
func (s *Service) AttributionHandler(c *gin.Context) {
	ps := s.openProfile(c)
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"summary":     ps.analytics.AttributionSummary(ctx),
		"touchpoints": ps.attribution.Touchpoints(ctx),
	})
}

// JourneyHandler returns one funnel's persisted journey for the profile.
func (s *Service) JourneyHandler(c *gin.Context) {
	key := c.Param("key")
	tracker, ok := s.funnelTracker(c, key)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"journey":            tracker.Journey(ctx),
		"completion_percent": tracker.CompletionPercentage(ctx),
		"has_converted":      tracker.HasConverted(ctx),
	})
}

func (s *Service) funnelTracker(c *gin.Context, key string) (*funnel.Tracker, bool) {
	if !s.knownFunnel(key) {
		writeError(c, &collectError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpUnknownFunnelError,
			message:    msgUnknownFunnel,
			details:    map[string]interface{}{"funnel_key": key},
		})
		return nil, false
	}
	ps := s.openProfile(c)
	tracker, _ := ps.funnels.Tracker(key)
	return tracker, true
}

// parseBody reads the size-limited request body into out.
func (s *Service) parseBody(c *gin.Context, out any) *collectError {
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return &collectError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return &collectError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpBodyTooLargeError,
			message:    msgBodyTooLarge,
			details:    map[string]interface{}{"max_size_kb": maxBytes / 1024},
		}
	}

	if len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return &collectError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return nil
}

// pageContext merges the reported page body with request headers. The body
// wins for the referrer since the Referer header points at the page itself
// for beacon requests.
func (s *Service) pageContext(c *gin.Context, body pageBody) page.Context {
	referrer := body.Referrer
	if referrer == "" {
		referrer = c.Request.Referer()
	}
	return page.Context{
		URL:            body.URL,
		Referrer:       referrer,
		UserAgent:      c.Request.UserAgent(),
		ViewportWidth:  body.ViewportWidth,
		ViewportHeight: body.ViewportHeight,
	}
}

// writeError serializes a collectError as the JSON HTTP response.
func writeError(c *gin.Context, err *collectError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}

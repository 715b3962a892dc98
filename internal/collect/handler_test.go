package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	httperr "github.com/trailmark-io/trailmark/internal/core/errors"
	"github.com/trailmark-io/trailmark/internal/funnel"
	"github.com/trailmark-io/trailmark/internal/identity"
	"github.com/trailmark-io/trailmark/internal/provider"
	"github.com/trailmark-io/trailmark/internal/store"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []provider.Payload
}

func (r *recordingProvider) Send(_ context.Context, p provider.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, p)
	return nil
}

func (r *recordingProvider) payloads() []provider.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]provider.Payload(nil), r.sent...)
}

type testApp struct {
	router   *gin.Engine
	sink     *recordingProvider
	dispatch *provider.Dispatcher
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	def, err := funnel.NewDefinition("application", "Application Funnel", []funnel.Stage{
		{Number: 1, Name: "Awareness", Events: []string{"page_viewed"}},
		{Number: 2, Name: "Application", Events: []string{"application_submitted"},
			IsConversion: true, ConversionValue: decimal.NewFromInt(150), IsFinalGoal: true},
	})
	require.NoError(t, err)

	sink := &recordingProvider{}
	dispatch := provider.NewDispatcher(sink, 64)

	svc := NewService(
		store.NewMemoryBackend(),
		store.NewMemoryBackendTTL(30*time.Minute),
		dispatch,
		[]*funnel.Definition{def},
		[]string{"online.example.edu"},
		50,
		64,
	)

	r := gin.New()
	svc.RegisterRoutes(r)
	return &testApp{router: r, sink: sink, dispatch: dispatch}
}

// drain flushes the dispatcher queue into the recording sink.
func (a *testApp) drain(t *testing.T) []provider.Payload {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.dispatch.Run(ctx))
	return a.sink.payloads()
}

func (a *testApp) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp := httptest.NewRecorder()
	a.router.ServeHTTP(resp, req)
	return resp
}

func anonymousCookie(t *testing.T, resp *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range resp.Result().Cookies() {
		if ck.Name == identity.KeyAnonymousCookie {
			return ck
		}
	}
	t.Fatal("no anonymous id cookie set")
	return nil
}

func TestTrackHandler_AcceptsAndDispatches(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/track", `{
		"event_name": "cta_clicked",
		"page": {"url": "https://online.example.edu/programs/mba"},
		"data": {"cta_label": "Apply Now"}
	}`)

	require.Equal(t, http.StatusAccepted, resp.Code)
	var result map[string]string
	json.Unmarshal(resp.Body.Bytes(), &result)
	require.Equal(t, "accepted", result["status"])

	sent := app.drain(t)
	require.Len(t, sent, 1)
	require.Equal(t, "cta_clicked", sent[0].Name)
	require.Equal(t, "Apply Now", sent[0].Fields["cta_label"])
	require.Equal(t, "program_detail", sent[0].Fields["page_type"])
}

func TestTrackHandler_SetsAnonymousIDCookie(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/track", `{"event_name": "cta_clicked"}`)
	ck := anonymousCookie(t, resp)
	require.NotEmpty(t, ck.Value)

	// The same cookie keeps the profile stable across requests.
	resp2 := app.do(t, http.MethodGet, "/v1/identity", "", ck)
	require.Equal(t, http.StatusOK, resp2.Code)
	var id map[string]any
	json.Unmarshal(resp2.Body.Bytes(), &id)
	require.Equal(t, ck.Value, id["anonymous_user_id"])
}

func TestTrackHandler_MissingEventName(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/track", `{"data": {"a": 1}}`)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &errResp)
	require.Equal(t, httperr.HttpValidationError, errResp.ErrorType)
}

func TestTrackHandler_InvalidJSON(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/track", "not json")

	require.Equal(t, http.StatusBadRequest, resp.Code)
	var errResp httperr.ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &errResp)
	require.Equal(t, httperr.HttpInvalidJsonError, errResp.ErrorType)
}

func TestTrackHandler_BodyTooLarge(t *testing.T) {
	app := newTestApp(t)

	oversized := `{"event_name": "x", "data": {"blob": "` + strings.Repeat("a", 70*1024) + `"}}`
	resp := app.do(t, http.MethodPost, "/v1/track", oversized)

	require.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
	var errResp httperr.ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &errResp)
	require.Equal(t, httperr.HttpBodyTooLargeError, errResp.ErrorType)
}

func TestPageViewHandler_RecordsAttribution(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/pageview", `{
		"page": {"url": "https://online.example.edu/?utm_source=google&utm_medium=cpc&utm_campaign=launch"}
	}`)
	require.Equal(t, http.StatusAccepted, resp.Code)
	ck := anonymousCookie(t, resp)

	resp2 := app.do(t, http.MethodGet, "/v1/attribution", "", ck)
	require.Equal(t, http.StatusOK, resp2.Code)

	var body struct {
		Summary map[string]any `json:"summary"`
	}
	json.Unmarshal(resp2.Body.Bytes(), &body)
	require.NotNil(t, body.Summary)
	require.Equal(t, "google", body.Summary["last_touch_source"])
	require.Equal(t, "launch", body.Summary["last_touch_campaign"])
}

func TestConversionHandler_RequiresName(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/conversion", `{"data": {"a": 1}}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestFunnelJourney_AdvancesAcrossRequests(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/pageview", `{
		"page": {"url": "https://online.example.edu/programs/mba"}
	}`)
	ck := anonymousCookie(t, resp)

	resp2 := app.do(t, http.MethodPost, "/v1/track", `{
		"event_name": "application_submitted",
		"page": {"url": "https://online.example.edu/apply"},
		"data": {"program_code": "mba"}
	}`, ck)
	require.Equal(t, http.StatusAccepted, resp2.Code)

	resp3 := app.do(t, http.MethodGet, "/v1/funnels/application/journey", "", ck)
	require.Equal(t, http.StatusOK, resp3.Code)

	var body struct {
		Journey struct {
			CurrentStage int  `json:"current_stage"`
			IsConverted  bool `json:"is_converted"`
		} `json:"journey"`
		CompletionPercent float64 `json:"completion_percent"`
		HasConverted      bool    `json:"has_converted"`
	}
	json.Unmarshal(resp3.Body.Bytes(), &body)
	require.Equal(t, 2, body.Journey.CurrentStage)
	require.True(t, body.HasConverted)
	require.Equal(t, 100.0, body.CompletionPercent)
}

func TestDropOffHandler_UnknownFunnel(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/funnels/nope/dropoff", `{"reason": "exit"}`)
	require.Equal(t, http.StatusNotFound, resp.Code)

	var errResp httperr.ErrorResponse
	json.Unmarshal(resp.Body.Bytes(), &errResp)
	require.Equal(t, httperr.HttpUnknownFunnelError, errResp.ErrorType)
}

func TestResetHandler_ClearsProfile(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, http.MethodPost, "/v1/pageview", `{
		"page": {"url": "https://online.example.edu/programs/mba"}
	}`)
	ck := anonymousCookie(t, resp)

	resp2 := app.do(t, http.MethodPost, "/v1/reset", "", ck)
	require.Equal(t, http.StatusOK, resp2.Code)

	resp3 := app.do(t, http.MethodGet, "/v1/funnels/application/journey", "", ck)
	var body struct {
		Journey struct {
			CurrentStage int `json:"current_stage"`
		} `json:"journey"`
	}
	json.Unmarshal(resp3.Body.Bytes(), &body)
	require.Equal(t, 0, body.Journey.CurrentStage)
}

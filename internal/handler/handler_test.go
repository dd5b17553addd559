package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storefront-guard/internal/hashing"
	"storefront-guard/internal/journal"
	"storefront-guard/internal/otp"
	"storefront-guard/internal/riskmeta"
	"storefront-guard/internal/service"
	"storefront-guard/internal/simulation"
)

type smsCapture struct {
	mu   sync.Mutex
	to   []string
	fail error
}

func (s *smsCapture) Send(_ context.Context, to, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.to = append(s.to, to)
	return s.fail
}

type fakeSims struct {
	mu   sync.Mutex
	runs map[string]simulation.Status
	err  error
}

func newFakeSims() *fakeSims {
	return &fakeSims{runs: make(map[string]simulation.Status)}
}

func (f *fakeSims) Start(id string, mode simulation.Mode, amount decimal.Decimal) error {
	if f.err != nil {
		return f.err
	}
	if id == "" {
		return simulation.ErrEmptyID
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id] = simulation.Status{ID: id, Mode: mode, Amount: amount}
	return nil
}

func (f *fakeSims) Stop(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.runs[id]
	delete(f.runs, id)
	return ok
}

func (f *fakeSims) IsActive(id string) bool {
	_, ok := f.Status(id)
	return ok
}

func (f *fakeSims) Status(id string) (simulation.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.runs[id]
	return s, ok
}

func (f *fakeSims) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.runs))
	for id := range f.runs {
		ids = append(ids, id)
	}
	return ids
}

type testServer struct {
	router chi.Router
	sms    *smsCapture
	sims   *fakeSims
	events *journal.MemorySink
}

func newTestServer(t *testing.T, mutate func(*RouterConfig)) *testServer {
	t.Helper()
	logger := zap.NewNop()

	sender := &smsCapture{}
	hasher := hashing.New(hashing.Argon2Params{
		Memory:      1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}, "test-pepper")
	ledger := otp.NewLedger(otp.NewMemoryStore(), hasher, sender, otp.Config{}, logger,
		otp.WithCodeGenerator(func() (string, error) { return "123456", nil }))

	events := journal.NewMemorySink()
	collector := riskmeta.NewCollector(riskmeta.Device{}, nil, events, logger)
	sims := newFakeSims()
	services := service.NewServiceFactory(ledger, sims, collector, logger)

	cfg := RouterConfig{
		OTP:        NewOTPHandler(services.OTPService(), logger),
		Simulation: NewSimulationHandler(sims, logger),
		Refund:     NewRefundHandler(services.RefundService(), logger),
		Events:     NewEventsHandler(collector, events, logger),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &testServer{
		router: NewRouter(cfg, logger),
		sms:    sender,
		sims:   sims,
		events: events,
	}
}

func (s *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeOTP(t *testing.T, rec *httptest.ResponseRecorder) otpResponse {
	t.Helper()
	var body otpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

func TestOTPFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/send-otp", `{"mobile":"9876543210"}`, riskmeta.HeaderSessionID, "sess_42")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decodeOTP(t, rec)
	assert.Equal(t, otp.CodeOTPSent, sent.Code)
	require.NotNil(t, sent.ExpiresAt)
	assert.Equal(t, []string{"+919876543210"}, s.sms.to)

	rec = s.do(http.MethodPost, "/verify-otp", `{"mobile":"9876543210","otp":"000000"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	wrong := decodeOTP(t, rec)
	assert.Equal(t, otp.CodeInvalidOTP, wrong.Code)
	assert.Equal(t, "Invalid OTP. 2 attempts remaining", wrong.Message)
	require.NotNil(t, wrong.AttemptsRemaining)
	assert.Equal(t, 2, *wrong.AttemptsRemaining)

	rec = s.do(http.MethodPost, "/verify-otp", `{"mobile":"+91 98765 43210","otp":"123456"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, otp.CodeOTPVerified, decodeOTP(t, rec).Code)

	rec = s.do(http.MethodPost, "/verify-otp", `{"mobile":"9876543210","otp":"123456"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, otp.CodeOTPNotFound, decodeOTP(t, rec).Code)

	var types []string
	for _, e := range s.events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		service.EventOTPSent, service.EventOTPFailed, service.EventOTPVerified, service.EventOTPFailed,
	}, types)
	assert.Equal(t, "sess_42", s.events.Events()[0].Metadata.SessionID)
}

func TestSendOTPInputErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		code otp.Code
	}{
		{"empty object", `{}`, otp.CodeMissingPhone},
		{"no body", ``, otp.CodeMissingPhone},
		{"malformed json", `{"mobile":`, otp.CodeMissingPhone},
		{"short number", `{"mobile":"12345"}`, otp.CodeInvalidFormat},
		{"letters", `{"mobile":"98765abcde"}`, otp.CodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPost, "/send-otp", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeOTP(t, rec)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, otpMessages[tt.code], body.Message)
		})
	}
	assert.Empty(t, s.sms.to)
}

func TestVerifyOTPMissingParams(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/verify-otp", `{"mobile":"9876543210"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, otp.CodeMissingParams, decodeOTP(t, rec).Code)
}

func TestSendOTPDeliveryFailure(t *testing.T) {
	s := newTestServer(t, nil)
	s.sms.fail = errors.New("provider down")

	rec := s.do(http.MethodPost, "/send-otp", `{"mobile":"9876543210"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeOTP(t, rec)
	assert.Equal(t, otp.CodeSMSFailed, body.Code)
	assert.Equal(t, "provider down", body.Details)
}

func TestOTPRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.OTPLimiter = NewIPRateLimiter(0.001, 1)
	})

	first := s.do(http.MethodPost, "/send-otp", `{"mobile":"9876543210"}`)
	assert.Equal(t, http.StatusOK, first.Code)

	second := s.do(http.MethodPost, "/send-otp", `{"mobile":"9876543210"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, otp.CodeRateLimited, decodeOTP(t, second).Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))

	// Other routes are not throttled.
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "").Code)
}

func TestIPRateLimiterForgetsIdleVisitors(t *testing.T) {
	l := NewIPRateLimiter(0.001, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	now = now.Add(visitorTTL + time.Second)
	assert.True(t, l.Allow("10.0.0.3"))
	l.mu.Lock()
	_, kept := l.visitors["10.0.0.1"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestSimulationRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/simulations/ORD-1", `{"mode":"fast","amount":"499.50"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var status simulation.Status
	decodeEnvelope(t, rec, &status)
	assert.Equal(t, simulation.ModeFast, status.Mode)
	assert.True(t, decimal.RequireFromString("499.5").Equal(status.Amount))

	rec = s.do(http.MethodGet, "/api/v1/simulations/ORD-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var list map[string][]string
	decodeEnvelope(t, s.do(http.MethodGet, "/api/v1/simulations/", ""), &list)
	assert.Equal(t, []string{"ORD-1"}, list["active"])

	var stopped map[string]bool
	decodeEnvelope(t, s.do(http.MethodDelete, "/api/v1/simulations/ORD-1", ""), &stopped)
	assert.True(t, stopped["stopped"])

	rec = s.do(http.MethodGet, "/api/v1/simulations/ORD-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	decodeEnvelope(t, s.do(http.MethodDelete, "/api/v1/simulations/ORD-1", ""), &stopped)
	assert.False(t, stopped["stopped"])
}

func TestSimulationStartDefaultsAndErrors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/simulations/ORD-2", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	st, ok := s.sims.Status("ORD-2")
	require.True(t, ok)
	assert.Equal(t, simulation.ModeNormal, st.Mode)

	rec = s.do(http.MethodPost, "/api/v1/simulations/ORD-3", `{"mode":"warp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.sims.err = simulation.ErrTooManySimulations
	rec = s.do(http.MethodPost, "/api/v1/simulations/ORD-4", `{"mode":"normal"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefundRoutes(t *testing.T) {
	s := newTestServer(t, nil)
	recent := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	old := time.Now().Add(-8 * 24 * time.Hour).UTC().Format(time.RFC3339)

	rec := s.do(http.MethodPost, "/api/v1/refunds",
		`{"orderId":"ORD-9","status":"delivered","category":"electronics","createdAt":"`+recent+`","amount":"1299","mode":"teleport"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var res service.RefundResult
	decodeEnvelope(t, rec, &res)
	assert.Equal(t, "ORD-9", res.OrderID)
	assert.True(t, res.Window.Eligible)
	assert.True(t, s.sims.IsActive("ORD-9"))

	rec = s.do(http.MethodPost, "/api/v1/refunds",
		`{"orderId":"ORD-10","status":"delivered","category":"electronics","createdAt":"`+old+`"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, s.sims.IsActive("ORD-10"))

	rec = s.do(http.MethodPost, "/api/v1/refunds",
		`{"orderId":"ORD-11","status":"lost","createdAt":"`+recent+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/refunds", `{"status":"delivered","createdAt":"`+recent+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/refund-window", `{"category":"electronics","createdAt":"`+recent+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view struct {
		Type     string `json:"type"`
		Eligible bool   `json:"eligible"`
		Urgent   bool   `json:"urgent"`
	}
	decodeEnvelope(t, rec, &view)
	assert.Equal(t, "standard", view.Type)
	assert.True(t, view.Eligible)
	assert.False(t, view.Urgent)
}

func TestEventsRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodPost, "/api/v1/events", `{"type":"checkout","payload":{"cart":3}}`,
		riskmeta.HeaderSessionID, "sess_7",
		riskmeta.HeaderGeoLat, "18.52",
		riskmeta.HeaderGeoLon, "73.85",
	)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	s.do(http.MethodPost, "/api/v1/events", `{"type":"browse"}`)

	var events []struct {
		Type     string                 `json:"type"`
		Payload  map[string]interface{} `json:"payload"`
		Metadata struct {
			SessionID string `json:"sessionId"`
		} `json:"metadata"`
	}
	decodeEnvelope(t, s.do(http.MethodGet, "/api/v1/events?type=checkout", ""), &events)
	require.Len(t, events, 1)
	assert.Equal(t, "checkout", events[0].Type)
	assert.Equal(t, float64(3), events[0].Payload["cart"])

	decodeEnvelope(t, s.do(http.MethodGet, "/api/v1/events?limit=1", ""), &events)
	require.Len(t, events, 1)
	assert.Equal(t, "browse", events[0].Type)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/v1/events?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/events", `{"payload":{}}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/events", `{"type":"<script>"}`).Code)
	assert.Equal(t, 2, s.events.Len())
}

func TestEventsListingUnavailable(t *testing.T) {
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Events.lister = nil
	})
	assert.Equal(t, http.StatusNotImplemented, s.do(http.MethodGet, "/api/v1/events", "").Code)
}

func TestRouterHealthAndFallbacks(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(http.MethodGet, "/send-otp", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/metrics", "").Code)

	unhealthy := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Health = func(context.Context) error { return errors.New("redis down") }
	})
	assert.Equal(t, http.StatusServiceUnavailable, unhealthy.do(http.MethodGet, "/health", "").Code)
}

func TestRequireHTTPS(t *testing.T) {
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.RequireHTTPS = true
	})
	assert.Equal(t, http.StatusUpgradeRequired, s.do(http.MethodGet, "/health", "").Code)
}

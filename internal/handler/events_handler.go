package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-guard/internal/models"
	"storefront-guard/internal/riskmeta"
	"storefront-guard/internal/service"
	"storefront-guard/internal/util"
)

var (
	errListingUnavailable = errors.New("event listing not available")
	errInvalidLimit       = errors.New("limit must be a positive integer")
	errInvalidEventType   = errors.New("event type contains disallowed characters")
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// EventLister is satisfied by journal.MemorySink.
type EventLister interface {
	Recent(n int, eventType string) []models.TransactionEvent
}

type logEventRequest struct {
	Type    string                 `json:"type" validate:"required,max=64"`
	Payload map[string]interface{} `json:"payload"`
}

// EventsHandler lets storefront clients journal their own transaction
// events and read back recent ones.
type EventsHandler struct {
	responder
	recorder service.EventRecorder
	lister   EventLister
	now      func() time.Time
}

func NewEventsHandler(recorder service.EventRecorder, lister EventLister, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{responder: responder{logger: logger}, recorder: recorder, lister: lister, now: time.Now}
}

func (h *EventsHandler) RegisterRoutes(router chi.Router) {
	router.Post("/events", h.Log)
	router.Get("/events", h.List)
}

func (h *EventsHandler) Log(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, validationMessage(err))
		return
	}

	if util.ContainsSuspicious(req.Type) {
		h.respondWithError(w, http.StatusBadRequest, errInvalidEventType, "Invalid event type")
		return
	}

	meta := riskmeta.MetadataFromRequest(r, h.now())
	event, err := h.recorder.Record(r.Context(), util.SanitizeInput(req.Type), req.Payload, meta)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err, "Failed to journal event")
		return
	}
	h.respondWithJSON(w, http.StatusCreated, successResponse(event, "Event logged"))
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.lister == nil {
		h.respondWithError(w, http.StatusNotImplemented, errListingUnavailable, "Event listing not available")
		return
	}

	limit := defaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.respondWithError(w, http.StatusBadRequest, errInvalidLimit, "Invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events := h.lister.Recent(limit, r.URL.Query().Get("type"))
	h.respondWithJSON(w, http.StatusOK, successResponse(events, ""))
}

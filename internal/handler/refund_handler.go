package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-guard/internal/refund"
	"storefront-guard/internal/riskmeta"
	"storefront-guard/internal/service"
	"storefront-guard/internal/simulation"
	"storefront-guard/internal/util"
)

// RefundHandler accepts refund requests and serves refund window countdowns.
type RefundHandler struct {
	responder
	svc *service.RefundService
	now func() time.Time
}

func NewRefundHandler(svc *service.RefundService, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{responder: responder{logger: logger}, svc: svc, now: time.Now}
}

func (h *RefundHandler) RegisterRoutes(router chi.Router) {
	router.Post("/refunds", h.RequestRefund)
	router.Post("/refund-window", h.Window)
}

func (h *RefundHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req service.RefundRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, validationMessage(err))
		return
	}

	res, err := h.svc.RequestRefund(r.Context(), req, riskmeta.MetadataFromRequest(r, h.now()))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Refund request rejected")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(res, "Refund requested"))
	h.logger.Info("Refund requested via HTTP",
		util.String("order_id", res.OrderID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *RefundHandler) Window(w http.ResponseWriter, r *http.Request) {
	var req service.WindowRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, validationMessage(err))
		return
	}

	view, err := h.svc.Window(req)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Invalid refund window request")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(view, ""))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *RefundHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRefund):
		return http.StatusBadRequest
	case errors.Is(err, refund.ErrNotEligible):
		return http.StatusConflict
	case errors.Is(err, simulation.ErrTooManySimulations):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

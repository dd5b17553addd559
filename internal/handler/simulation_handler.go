package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-guard/internal/simulation"
)

// Simulations is the part of simulation.Scheduler the handler drives.
type Simulations interface {
	Start(id string, mode simulation.Mode, amount decimal.Decimal) error
	Stop(id string) bool
	Status(id string) (simulation.Status, bool)
	Active() []string
}

type startSimulationRequest struct {
	Mode   string          `json:"mode" validate:"max=32"`
	Amount decimal.Decimal `json:"amount"`
}

// SimulationHandler starts, inspects and stops location simulations.
type SimulationHandler struct {
	responder
	sims Simulations
}

func NewSimulationHandler(sims Simulations, logger *zap.Logger) *SimulationHandler {
	return &SimulationHandler{responder: responder{logger: logger}, sims: sims}
}

func (h *SimulationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/simulations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/{orderID}", h.Start)
		r.Get("/{orderID}", h.Get)
		r.Delete("/{orderID}", h.Stop)
	})
}

func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")

	var req startSimulationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.respondWithError(w, http.StatusBadRequest, err, validationMessage(err))
		return
	}

	mode, err := simulation.ParseMode(req.Mode)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Unknown simulation mode")
		return
	}

	if err := h.sims.Start(id, mode, req.Amount); err != nil {
		h.respondWithError(w, simulationStatus(err), err, "Failed to start simulation")
		return
	}

	status, _ := h.sims.Status(id)
	h.respondWithJSON(w, http.StatusAccepted, successResponse(status, "Simulation started"))
}

func (h *SimulationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")

	status, ok := h.sims.Status(id)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, errSimulationNotRunning, "Simulation not running")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(status, ""))
}

func (h *SimulationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orderID")
	stopped := h.sims.Stop(id)
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"stopped": stopped}, ""))
}

func (h *SimulationHandler) List(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string][]string{"active": h.sims.Active()}, ""))
}

var errSimulationNotRunning = errors.New("simulation not running")

func simulationStatus(err error) int {
	switch {
	case errors.Is(err, simulation.ErrEmptyID), errors.Is(err, simulation.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, simulation.ErrTooManySimulations):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-guard/internal/models"
	"storefront-guard/internal/refund"
	"storefront-guard/internal/simulation"
)

var ErrInvalidRefund = errors.New("invalid refund request")

// Simulator is satisfied by simulation.Scheduler.
type Simulator interface {
	Start(id string, mode simulation.Mode, amount decimal.Decimal) error
	Stop(id string) bool
	IsActive(id string) bool
	Status(id string) (simulation.Status, bool)
}

type RefundRequest struct {
	OrderID   string          `json:"orderId" validate:"required,max=64"`
	Status    string          `json:"status" validate:"required"`
	Category  string          `json:"category" validate:"max=32"`
	CreatedAt time.Time       `json:"createdAt" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Mode      string          `json:"mode"`
}

type WindowRequest struct {
	Category  string    `json:"category" validate:"max=32"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

type RefundResult struct {
	OrderID string          `json:"orderId"`
	Mode    simulation.Mode `json:"mode"`
	Amount  decimal.Decimal `json:"amount"`
	Window  refund.View     `json:"window"`
}

// RefundService gates refunds on the order's refund window and starts the
// movement simulation for accepted ones.
type RefundService struct {
	simulator Simulator
	recorder  EventRecorder
	now       func() time.Time
	logger    *zap.Logger
}

func NewRefundService(simulator Simulator, recorder EventRecorder, logger *zap.Logger) *RefundService {
	return &RefundService{simulator: simulator, recorder: recorder, now: time.Now, logger: logger}
}

func (s *RefundService) RequestRefund(ctx context.Context, req RefundRequest, meta models.RiskMetadata) (*RefundResult, error) {
	status, err := refund.ParseStatus(req.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefund, err)
	}
	mode, err := simulation.ParseMode(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRefund, err)
	}
	if req.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount cannot be negative", ErrInvalidRefund)
	}

	now := s.now()
	order := refund.NewOrder(req.OrderID, req.Category, status, req.Amount, req.CreatedAt)
	view := order.View(now)

	if !view.Eligible {
		s.record(ctx, EventRefundRejected, map[string]interface{}{
			"orderId":   order.ID,
			"status":    string(status),
			"remaining": view.Remaining,
		}, meta)
		return nil, refund.ErrNotEligible
	}

	if err := s.simulator.Start(order.ID, mode, order.Total); err != nil {
		return nil, fmt.Errorf("failed to start simulation: %w", err)
	}

	s.logger.Info("Refund requested",
		zap.String("order_id", order.ID),
		zap.String("mode", string(mode)),
		zap.String("amount", order.Total.String()),
		zap.String("window", string(order.Window.Policy)))

	s.record(ctx, EventRefundRequested, map[string]interface{}{
		"orderId": order.ID,
		"mode":    string(mode),
		"amount":  order.Total.String(),
		"window":  string(order.Window.Policy),
	}, meta)

	return &RefundResult{OrderID: order.ID, Mode: mode, Amount: order.Total, Window: view}, nil
}

// Window reports the countdown state for an order placed at CreatedAt. A
// missing status counts as delivered.
func (s *RefundService) Window(req WindowRequest) (refund.View, error) {
	status := refund.StatusDelivered
	if req.Status != "" {
		st, err := refund.ParseStatus(req.Status)
		if err != nil {
			return refund.View{}, fmt.Errorf("%w: %v", ErrInvalidRefund, err)
		}
		status = st
	}
	order := refund.NewOrder("", req.Category, status, decimal.Zero, req.CreatedAt)
	return order.View(s.now()), nil
}

func (s *RefundService) record(ctx context.Context, eventType string, payload map[string]interface{}, meta models.RiskMetadata) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(ctx, eventType, payload, meta); err != nil {
		s.logger.Warn("Failed to journal refund event", zap.String("type", eventType), zap.Error(err))
	}
}

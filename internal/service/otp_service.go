package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"storefront-guard/internal/models"
	"storefront-guard/internal/otp"
	"storefront-guard/internal/util"
)

// Journal event types written by the services.
const (
	EventOTPSent         = "otp_sent"
	EventOTPSendFailed   = "otp_send_failed"
	EventOTPVerified     = "otp_verified"
	EventOTPFailed       = "otp_failed"
	EventRefundRequested = "refund_requested"
	EventRefundRejected  = "refund_rejected"
)

type OTPLedger interface {
	Issue(ctx context.Context, phone string) (*otp.Result, error)
	Verify(ctx context.Context, phone, code string) (*otp.Result, error)
}

// EventRecorder is satisfied by riskmeta.Collector.
type EventRecorder interface {
	Record(ctx context.Context, eventType string, payload map[string]interface{}, meta models.RiskMetadata) (models.TransactionEvent, error)
}

// OTPService runs the ledger and journals every outcome with the caller's
// risk metadata. Journal failures never fail the request.
type OTPService struct {
	ledger   OTPLedger
	recorder EventRecorder
	logger   *zap.Logger
}

func NewOTPService(ledger OTPLedger, recorder EventRecorder, logger *zap.Logger) *OTPService {
	return &OTPService{ledger: ledger, recorder: recorder, logger: logger}
}

type SendOTPRequest struct {
	Mobile string `json:"mobile" validate:"required,max=32"`
}

type VerifyOTPRequest struct {
	Mobile string `json:"mobile" validate:"required,max=32"`
	OTP    string `json:"otp" validate:"required,max=16"`
}

func (s *OTPService) SendOTP(ctx context.Context, req SendOTPRequest, meta models.RiskMetadata) (*otp.Result, error) {
	if req.Mobile == "" {
		return nil, otp.ErrMissingPhone
	}

	res, err := s.ledger.Issue(ctx, req.Mobile)
	if err != nil {
		s.record(ctx, EventOTPSendFailed, map[string]interface{}{
			"mobile": req.Mobile,
			"code":   string(otp.CodeOf(err)),
		}, meta)
		return nil, err
	}

	s.record(ctx, EventOTPSent, map[string]interface{}{
		"mobile":    res.Phone,
		"expiresAt": res.ExpiresAt,
	}, meta)
	return res, nil
}

func (s *OTPService) VerifyOTP(ctx context.Context, req VerifyOTPRequest, meta models.RiskMetadata) (*otp.Result, error) {
	if req.Mobile == "" || req.OTP == "" {
		return nil, otp.ErrMissingParams
	}

	res, err := s.ledger.Verify(ctx, req.Mobile, req.OTP)
	if err != nil {
		payload := map[string]interface{}{
			"mobile": req.Mobile,
			"code":   string(otp.CodeOf(err)),
		}
		var invalid *otp.InvalidOTPError
		if errors.As(err, &invalid) {
			payload["attemptsRemaining"] = invalid.Remaining()
		}
		s.record(ctx, EventOTPFailed, payload, meta)
		return nil, err
	}

	s.record(ctx, EventOTPVerified, map[string]interface{}{"mobile": res.Phone}, meta)
	return res, nil
}

func (s *OTPService) record(ctx context.Context, eventType string, payload map[string]interface{}, meta models.RiskMetadata) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(ctx, eventType, payload, meta); err != nil {
		s.logger.Warn("Failed to journal otp event",
			zap.String("type", eventType),
			util.ErrorField(err))
	}
}

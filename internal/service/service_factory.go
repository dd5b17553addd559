package service

import (
	"sync"

	"go.uber.org/zap"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	ledger    OTPLedger
	simulator Simulator
	recorder  EventRecorder
	logger    *zap.Logger

	otpOnce       sync.Once
	otpService    *OTPService
	refundOnce    sync.Once
	refundService *RefundService
}

func NewServiceFactory(ledger OTPLedger, simulator Simulator, recorder EventRecorder, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		ledger:    ledger,
		simulator: simulator,
		recorder:  recorder,
		logger:    logger,
	}
}

// OTPService returns the otp service instance (singleton)
func (f *ServiceFactory) OTPService() *OTPService {
	f.otpOnce.Do(func() {
		f.otpService = NewOTPService(f.ledger, f.recorder, f.logger.Named("otp"))
	})
	return f.otpService
}

// RefundService returns the refund service instance (singleton)
func (f *ServiceFactory) RefundService() *RefundService {
	f.refundOnce.Do(func() {
		f.refundService = NewRefundService(f.simulator, f.recorder, f.logger.Named("refund"))
	})
	return f.refundService
}

func (f *ServiceFactory) Simulator() Simulator {
	return f.simulator
}

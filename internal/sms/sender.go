// Package sms delivers one-time passcodes over SMS.
package sms

import (
	"context"
	"errors"

	"storefront-guard/internal/metrics"
	"storefront-guard/internal/util"

	"go.uber.org/zap"
)

var (
	ErrNotConfigured    = errors.New("sms provider not configured")
	ErrAuthentication   = errors.New("sms provider rejected credentials")
	ErrInvalidRecipient = errors.New("sms recipient not found")
)

// Sender hands a message to an SMS provider.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to, body string) error

func (f SenderFunc) Send(ctx context.Context, to, body string) error {
	return f(ctx, to, body)
}

// ConsoleSender writes messages to the log instead of a provider. Meant for
// local development only.
type ConsoleSender struct {
	logger *zap.Logger
}

func NewConsoleSender(logger *zap.Logger) *ConsoleSender {
	return &ConsoleSender{logger: logger}
}

func (s *ConsoleSender) Send(_ context.Context, to, body string) error {
	s.logger.Info("SMS (console delivery)", util.Phone("to", to), zap.String("body", body))
	metrics.SMSSent.WithLabelValues("console", "ok").Inc()
	return nil
}

// UnconfiguredSender fails every send.
type UnconfiguredSender struct{}

func (UnconfiguredSender) Send(_ context.Context, to, _ string) error {
	util.Warn("SMS provider not configured, dropping message", util.Phone("to", to))
	metrics.SMSSent.WithLabelValues("none", "error").Inc()
	return ErrNotConfigured
}

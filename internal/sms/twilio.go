package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"storefront-guard/internal/metrics"
	"storefront-guard/internal/util"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// Twilio error codes that have a dedicated failure class.
const (
	twilioAuthFailed        = 20003
	twilioInvalidTo         = 21211
	twilioUnreachable       = 21614
	twilioUnverifiedTrialTo = 21608
)

// messageCreator is the slice of the Twilio REST API we call.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type TwilioSender struct {
	api    messageCreator
	from   string
	logger *zap.Logger
}

func NewTwilioSender(accountSID, authToken, from string, logger *zap.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioSender{api: client.Api, from: from, logger: logger}
}

func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if s.from == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		metrics.SMSSent.WithLabelValues("twilio", "error").Inc()
		return classifyTwilioError(err)
	}

	metrics.SMSSent.WithLabelValues("twilio", "ok").Inc()
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	s.logger.Debug("SMS accepted by twilio", util.Phone("to", to), zap.String("sid", sid))
	return nil
}

func classifyTwilioError(err error) error {
	var restErr *twclient.TwilioRestError
	if errors.As(err, &restErr) {
		switch {
		case restErr.Code == twilioAuthFailed || restErr.Status == http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrAuthentication, restErr.Message)
		case restErr.Code == twilioInvalidTo || restErr.Code == twilioUnreachable ||
			restErr.Code == twilioUnverifiedTrialTo || restErr.Status == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrInvalidRecipient, restErr.Message)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authenticate"):
		return fmt.Errorf("%w: %s", ErrAuthentication, err.Error())
	case strings.Contains(msg, "not found"):
		return fmt.Errorf("%w: %s", ErrInvalidRecipient, err.Error())
	}
	return fmt.Errorf("twilio send failed: %w", err)
}

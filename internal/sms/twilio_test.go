package sms

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"storefront-guard/internal/util"
)

type fakeCreator struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioSenderSend(t *testing.T) {
	api := &fakeCreator{}
	s := &TwilioSender{api: api, from: "+15005550006", logger: zap.NewNop()}

	require.NoError(t, s.Send(context.Background(), "+919876543210", "code 123456"))
	require.NotNil(t, api.params)
	assert.Equal(t, "+919876543210", *api.params.To)
	assert.Equal(t, "+15005550006", *api.params.From)
	assert.Equal(t, "code 123456", *api.params.Body)
}

func TestTwilioSenderWithoutFromNumber(t *testing.T) {
	s := &TwilioSender{api: &fakeCreator{}, logger: zap.NewNop()}
	assert.ErrorIs(t, s.Send(context.Background(), "+919876543210", "x"), ErrNotConfigured)
}

func TestClassifyTwilioError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "auth code",
			err:  &twclient.TwilioRestError{Code: 20003, Status: http.StatusUnauthorized, Message: "Authenticate"},
			want: ErrAuthentication,
		},
		{
			name: "invalid to",
			err:  &twclient.TwilioRestError{Code: 21211, Status: http.StatusBadRequest, Message: "The 'To' number is not a valid phone number."},
			want: ErrInvalidRecipient,
		},
		{
			name: "not found text",
			err:  errors.New("resource not found"),
			want: ErrInvalidRecipient,
		},
		{
			name: "authenticate text",
			err:  errors.New("unable to authenticate request"),
			want: ErrAuthentication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyTwilioError(tt.err), tt.want)
		})
	}

	other := classifyTwilioError(errors.New("queue overflow"))
	assert.NotErrorIs(t, other, ErrAuthentication)
	assert.NotErrorIs(t, other, ErrInvalidRecipient)
}

func TestUnconfiguredSender(t *testing.T) {
	assert.ErrorIs(t, UnconfiguredSender{}.Send(context.Background(), "+919876543210", "x"), ErrNotConfigured)
}

func TestConsoleSenderMasksRecipient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewConsoleSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), "+919876543210", "Your OTP is 123456"))

	entries := logs.All()
	require.Len(t, entries, 1)
	to := entries[0].ContextMap()["to"]
	assert.Equal(t, util.MaskPhone("+919876543210"), to)
	assert.NotContains(t, to, "9876543210")
}

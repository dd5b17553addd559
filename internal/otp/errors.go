package otp

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidFormat   = errors.New("invalid phone number format")
	ErrMissingPhone    = errors.New("phone number is required")
	ErrMissingParams   = errors.New("phone number and otp are required")
	ErrOTPNotFound     = errors.New("no otp found for this number, request a new one")
	ErrOTPExpired      = errors.New("otp has expired, request a new one")
	ErrTooManyAttempts = errors.New("too many failed attempts, request a new otp")
	ErrInvalidOTP      = errors.New("invalid otp")
	ErrRateLimited     = errors.New("too many otp requests, try again later")

	ErrSMSFailed    = errors.New("failed to send otp")
	ErrAuthFailed   = errors.New("sms service authentication failed")
	ErrInvalidPhone = errors.New("phone number is not reachable by sms")

	// ErrRecordNotFound is returned by a Store that holds nothing for a phone.
	ErrRecordNotFound = errors.New("otp record not found")
)

// InvalidOTPError is returned for a wrong code while attempts remain.
type InvalidOTPError struct {
	Attempts    int
	MaxAttempts int
}

func (e *InvalidOTPError) Remaining() int {
	if r := e.MaxAttempts - e.Attempts; r > 0 {
		return r
	}
	return 0
}

func (e *InvalidOTPError) Error() string {
	return fmt.Sprintf("invalid otp, %d attempts remaining", e.Remaining())
}

func (e *InvalidOTPError) Unwrap() error {
	return ErrInvalidOTP
}

// DeliveryError pairs a delivery failure class with the provider's error.
type DeliveryError struct {
	Kind error
	Err  error
}

func (e *DeliveryError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *DeliveryError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Details returns the provider-facing message.
func (e *DeliveryError) Details() string {
	return e.Err.Error()
}

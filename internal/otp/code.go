package otp

import "errors"

// Code identifies an outcome on the wire.
type Code string

const (
	CodeOTPSent         Code = "OTP_SENT"
	CodeOTPVerified     Code = "OTP_VERIFIED"
	CodeMissingPhone    Code = "MISSING_PHONE"
	CodeMissingParams   Code = "MISSING_PARAMS"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeSMSFailed       Code = "SMS_FAILED"
	CodeAuthFailed      Code = "AUTH_FAILED"
	CodeInvalidPhone    Code = "INVALID_PHONE"
	CodeOTPNotFound     Code = "OTP_NOT_FOUND"
	CodeOTPExpired      Code = "OTP_EXPIRED"
	CodeTooManyAttempts Code = "TOO_MANY_ATTEMPTS"
	CodeInvalidOTP      Code = "INVALID_OTP"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL_ERROR"
)

var codeByErr = []struct {
	err  error
	code Code
}{
	{ErrMissingPhone, CodeMissingPhone},
	{ErrMissingParams, CodeMissingParams},
	{ErrInvalidFormat, CodeInvalidFormat},
	{ErrAuthFailed, CodeAuthFailed},
	{ErrInvalidPhone, CodeInvalidPhone},
	{ErrSMSFailed, CodeSMSFailed},
	{ErrOTPNotFound, CodeOTPNotFound},
	{ErrOTPExpired, CodeOTPExpired},
	{ErrTooManyAttempts, CodeTooManyAttempts},
	{ErrInvalidOTP, CodeInvalidOTP},
	{ErrRateLimited, CodeRateLimited},
}

// CodeOf maps an error returned by the ledger to its wire code.
func CodeOf(err error) Code {
	for _, c := range codeByErr {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"storefront-guard/internal/otp"
	"storefront-guard/internal/riskmeta"
	"storefront-guard/internal/service"
	"storefront-guard/internal/util"
)

// otpResponse is the wire shape of both OTP endpoints.
type otpResponse struct {
	Message           string     `json:"message"`
	Code              otp.Code   `json:"code"`
	Details           string     `json:"details,omitempty"`
	AttemptsRemaining *int       `json:"attemptsRemaining,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

var otpMessages = map[otp.Code]string{
	otp.CodeMissingPhone:    "Mobile number required",
	otp.CodeMissingParams:   "Mobile number and OTP required",
	otp.CodeInvalidFormat:   "Invalid phone number format. Please use format: +91XXXXXXXXXX or 10-digit number",
	otp.CodeSMSFailed:       "Failed to send OTP",
	otp.CodeAuthFailed:      "SMS service authentication failed - check credentials",
	otp.CodeInvalidPhone:    "Invalid phone number",
	otp.CodeOTPNotFound:     "OTP not found or expired",
	otp.CodeOTPExpired:      "OTP expired. Please request a new one",
	otp.CodeTooManyAttempts: "Too many incorrect attempts. Please request a new OTP",
	otp.CodeRateLimited:     "Too many OTP requests. Please try again later",
	otp.CodeInternal:        "Internal server error",
}

func otpStatus(code otp.Code) int {
	switch code {
	case otp.CodeMissingPhone, otp.CodeMissingParams, otp.CodeInvalidFormat,
		otp.CodeOTPNotFound, otp.CodeOTPExpired, otp.CodeInvalidOTP:
		return http.StatusBadRequest
	case otp.CodeTooManyAttempts, otp.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// OTPHandler serves /send-otp and /verify-otp.
type OTPHandler struct {
	responder
	svc *service.OTPService
	now func() time.Time
}

func NewOTPHandler(svc *service.OTPService, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{responder: responder{logger: logger}, svc: svc, now: time.Now}
}

func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Post("/send-otp", h.SendOTP)
	router.Post("/verify-otp", h.VerifyOTP)
}

func (h *OTPHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req service.SendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		if req.Mobile == "" {
			h.otpError(w, otp.ErrMissingPhone)
		} else {
			h.otpError(w, otp.ErrInvalidFormat)
		}
		return
	}

	res, err := h.svc.SendOTP(r.Context(), req, riskmeta.MetadataFromRequest(r, h.now()))
	if err != nil {
		h.otpError(w, err)
		return
	}

	expires := res.ExpiresAt
	h.respondWithJSON(w, http.StatusOK, otpResponse{
		Message:   res.Message,
		Code:      res.Code,
		ExpiresAt: &expires,
	})
}

func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		if req.Mobile == "" || req.OTP == "" {
			h.otpError(w, otp.ErrMissingParams)
		} else {
			h.otpError(w, otp.ErrInvalidFormat)
		}
		return
	}

	res, err := h.svc.VerifyOTP(r.Context(), req, riskmeta.MetadataFromRequest(r, h.now()))
	if err != nil {
		h.otpError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, otpResponse{Message: res.Message, Code: res.Code})
}

func (h *OTPHandler) otpError(w http.ResponseWriter, err error) {
	code := otp.CodeOf(err)
	status := otpStatus(code)
	body := otpResponse{Code: code, Message: otpMessages[code]}

	var invalid *otp.InvalidOTPError
	if errors.As(err, &invalid) {
		remaining := invalid.Remaining()
		body.Message = fmt.Sprintf("Invalid OTP. %d attempts remaining", remaining)
		body.AttemptsRemaining = &remaining
	}
	var derr *otp.DeliveryError
	if errors.As(err, &derr) {
		body.Details = derr.Details()
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("OTP request failed", util.String("code", string(code)), util.ErrorField(err))
	} else {
		h.logger.Info("OTP request rejected", util.String("code", string(code)))
	}
	h.respondWithJSON(w, status, body)
}

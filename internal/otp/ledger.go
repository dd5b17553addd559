package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"storefront-guard/internal/hashing"
	"storefront-guard/internal/metrics"
	"storefront-guard/internal/sms"
	"storefront-guard/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultValidity    = 5 * time.Minute
	DefaultMaxAttempts = 3

	codeMin   = 100000
	codeRange = 900000
)

type Config struct {
	Validity           time.Duration
	MaxAttempts        int
	DefaultCountryCode string
	// InvalidateOnDeliveryFailure deletes a freshly issued record when the
	// SMS could not be handed to the provider.
	InvalidateOnDeliveryFailure bool
}

// Result describes a successful ledger operation.
type Result struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Phone     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Ledger issues and verifies one-time passcodes, one live record per phone.
type Ledger struct {
	store    Store
	hasher   *hashing.Hasher
	sender   sms.Sender
	locker   Locker
	limiter  SendLimiter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	generate func() (string, error)
}

type Option func(*Ledger)

func WithLocker(l Locker) Option {
	return func(ld *Ledger) { ld.locker = l }
}

// WithSendLimiter caps issue requests per phone.
func WithSendLimiter(sl SendLimiter) Option {
	return func(ld *Ledger) { ld.limiter = sl }
}

func WithClock(now func() time.Time) Option {
	return func(ld *Ledger) { ld.now = now }
}

func WithCodeGenerator(gen func() (string, error)) Option {
	return func(ld *Ledger) { ld.generate = gen }
}

func NewLedger(store Store, hasher *hashing.Hasher, sender sms.Sender, cfg Config, logger *zap.Logger, opts ...Option) *Ledger {
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultValidity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = DefaultCountryCode
	}
	if logger == nil {
		logger = util.Get()
	}

	l := &Ledger{
		store:    store,
		hasher:   hasher,
		sender:   sender,
		locker:   NewKeyedMutex(),
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GenerateCode returns a uniformly random six digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return strconv.FormatInt(n.Int64()+codeMin, 10), nil
}

// Issue creates a fresh code for phone, replacing any live record, and hands
// it to the SMS sender.
func (l *Ledger) Issue(ctx context.Context, phone string) (*Result, error) {
	normalized, err := NormalizePhoneWithCountry(phone, l.cfg.DefaultCountryCode)
	if err != nil {
		metrics.OTPIssued.WithLabelValues(string(CodeInvalidFormat)).Inc()
		return nil, err
	}

	if err := l.checkSendLimit(ctx, normalized); err != nil {
		metrics.OTPIssued.WithLabelValues(string(CodeRateLimited)).Inc()
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire otp lock: %w", err)
	}
	defer unlock()

	code, err := l.generate()
	if err != nil {
		return nil, err
	}
	hash, err := l.hasher.HashOTP(code)
	if err != nil {
		return nil, fmt.Errorf("failed to hash otp: %w", err)
	}

	now := l.now()
	rec := &Record{
		Hash:      *hash,
		ExpiresAt: now.Add(l.cfg.Validity),
		IssuedAt:  now,
	}
	if err := l.store.Put(ctx, normalized, rec); err != nil {
		return nil, fmt.Errorf("failed to store otp: %w", err)
	}

	if err := l.sender.Send(ctx, normalized, l.message(code)); err != nil {
		derr := classifyDelivery(err)
		metrics.OTPIssued.WithLabelValues(string(CodeOf(derr))).Inc()

		if l.cfg.InvalidateOnDeliveryFailure {
			if delErr := l.store.Delete(ctx, normalized); delErr != nil {
				l.logger.Error("Failed to invalidate undelivered otp",
					util.Phone("phone", normalized), zap.Error(delErr))
			}
		}

		l.logger.Warn("OTP delivery failed",
			util.Phone("phone", normalized),
			zap.String("code", string(CodeOf(derr))),
			zap.Error(err))
		return nil, derr
	}

	metrics.OTPIssued.WithLabelValues(string(CodeOTPSent)).Inc()
	l.logger.Info("OTP issued",
		util.Phone("phone", normalized),
		zap.Time("expires_at", rec.ExpiresAt))

	return &Result{
		Code:      CodeOTPSent,
		Message:   "OTP sent successfully",
		Phone:     normalized,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// Verify checks code against the live record for phone. A record is consumed
// on success, on expiry and once the attempt budget is spent.
func (l *Ledger) Verify(ctx context.Context, phone, code string) (*Result, error) {
	res, err := l.verify(ctx, phone, code)
	if err != nil {
		metrics.OTPVerifications.WithLabelValues(string(CodeOf(err))).Inc()
		return nil, err
	}
	metrics.OTPVerifications.WithLabelValues(string(res.Code)).Inc()
	return res, nil
}

func (l *Ledger) verify(ctx context.Context, phone, code string) (*Result, error) {
	normalized, err := NormalizePhoneWithCountry(phone, l.cfg.DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	unlock, err := l.locker.Lock(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire otp lock: %w", err)
	}
	defer unlock()

	rec, err := l.store.Get(ctx, normalized)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load otp: %w", err)
	}

	if l.now().After(rec.ExpiresAt) {
		l.discard(ctx, normalized, "expired")
		return nil, ErrOTPExpired
	}

	if rec.Attempts >= l.cfg.MaxAttempts {
		l.discard(ctx, normalized, "attempts_exhausted")
		return nil, ErrTooManyAttempts
	}

	ok, err := l.hasher.VerifyOTP(code, &rec.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify otp: %w", err)
	}

	if !ok {
		rec.Attempts++
		if err := l.store.Put(ctx, normalized, rec); err != nil {
			return nil, fmt.Errorf("failed to record otp attempt: %w", err)
		}
		l.logger.Info("OTP mismatch",
			util.Phone("phone", normalized),
			zap.Int("attempts", rec.Attempts))
		return nil, &InvalidOTPError{Attempts: rec.Attempts, MaxAttempts: l.cfg.MaxAttempts}
	}

	if err := l.store.Delete(ctx, normalized); err != nil {
		return nil, fmt.Errorf("failed to consume otp: %w", err)
	}

	l.logger.Info("OTP verified", util.Phone("phone", normalized))
	return &Result{
		Code:    CodeOTPVerified,
		Message: "Authentication successful",
		Phone:   normalized,
	}, nil
}

// checkSendLimit fails open when the limiter itself is unavailable.
func (l *Ledger) checkSendLimit(ctx context.Context, phone string) error {
	if l.limiter == nil {
		return nil
	}
	ok, err := l.limiter.Allow(ctx, phone)
	if err != nil {
		l.logger.Warn("OTP send limiter unavailable", util.Phone("phone", phone), zap.Error(err))
		return nil
	}
	if !ok {
		l.logger.Info("OTP send rate limited", util.Phone("phone", phone))
		return ErrRateLimited
	}
	return nil
}

func (l *Ledger) discard(ctx context.Context, phone, reason string) {
	if err := l.store.Delete(ctx, phone); err != nil {
		l.logger.Error("Failed to discard otp",
			util.Phone("phone", phone),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

func (l *Ledger) message(code string) string {
	minutes := int(l.cfg.Validity / time.Minute)
	if minutes < 1 {
		return fmt.Sprintf("Your verification code is %s. It expires in %d seconds.", code, int(l.cfg.Validity/time.Second))
	}
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
}

func classifyDelivery(err error) *DeliveryError {
	switch {
	case errors.Is(err, sms.ErrAuthentication):
		return &DeliveryError{Kind: ErrAuthFailed, Err: err}
	case errors.Is(err, sms.ErrInvalidRecipient):
		return &DeliveryError{Kind: ErrInvalidPhone, Err: err}
	default:
		return &DeliveryError{Kind: ErrSMSFailed, Err: err}
	}
}

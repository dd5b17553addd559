package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront-guard/internal/client"
	"storefront-guard/internal/otp"
	"storefront-guard/internal/util"
)

const (
	otpPrefix      = "otp:"
	otpLockPrefix  = "otp_lock:"
	otpSendPrefix  = "otp_send:"
	defaultGrace   = 10 * time.Minute
	defaultTimeout = 5 * time.Second
)

// OTPStore keeps ledger records in Redis as JSON. Keys outlive the record's
// expiry by a grace period so the ledger, not Redis, decides expiry and can
// still report OTP_EXPIRED.
type OTPStore struct {
	client *client.RedisClient
	grace  time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewOTPStore(rc *client.RedisClient, grace time.Duration, logger *zap.Logger) *OTPStore {
	if grace <= 0 {
		grace = defaultGrace
	}
	return &OTPStore{client: rc, grace: grace, now: time.Now, logger: logger}
}

var _ otp.Store = (*OTPStore)(nil)

func (s *OTPStore) Get(ctx context.Context, phone string) (*otp.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	raw, err := s.client.Get(ctx, otpPrefix+phone)
	if errors.Is(err, client.ErrKeyNotFound) {
		return nil, otp.ErrRecordNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get OTP from cache", util.Phone("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP from cache: %w", err)
	}

	var rec otp.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode OTP record: %w", err)
	}
	return &rec, nil
}

func (s *OTPStore) Put(ctx context.Context, phone string, rec *otp.Record) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode OTP record: %w", err)
	}

	ttl := rec.ExpiresAt.Sub(s.now()) + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, otpPrefix+phone, data, ttl); err != nil {
		s.logger.Error("Failed to set OTP in cache",
			util.Phone("phone", phone),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set OTP in cache: %w", err)
	}

	s.logger.Debug("OTP cached", util.Phone("phone", phone), zap.Duration("ttl", ttl))
	return nil
}

func (s *OTPStore) Delete(ctx context.Context, phone string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := s.client.Del(ctx, otpPrefix+phone); err != nil {
		s.logger.Error("Failed to delete OTP from cache", util.Phone("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to delete OTP from cache: %w", err)
	}
	return nil
}

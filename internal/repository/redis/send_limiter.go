package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storefront-guard/internal/client"
	"storefront-guard/internal/otp"
	"storefront-guard/internal/util"
)

// SendLimiter is a fixed-window otp.SendLimiter shared by every instance
// that points at the same Redis.
type SendLimiter struct {
	client *client.RedisClient
	limit  int
	window time.Duration
	logger *zap.Logger
}

func NewSendLimiter(rc *client.RedisClient, limit int, window time.Duration, logger *zap.Logger) *SendLimiter {
	return &SendLimiter{client: rc, limit: limit, window: window, logger: logger}
}

var _ otp.SendLimiter = (*SendLimiter)(nil)

func (s *SendLimiter) Allow(ctx context.Context, phone string) (bool, error) {
	if s.limit <= 0 {
		return true, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	n, err := s.client.IncrWithExpire(ctx, otpSendPrefix+phone, s.window)
	if err != nil {
		return false, fmt.Errorf("failed to increment send counter: %w", err)
	}

	s.logger.Debug("OTP send counter incremented", util.Phone("phone", phone), zap.Int64("count", n))
	return n <= int64(s.limit), nil
}

package scylla

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"storefront-guard/internal/hashing"
	"storefront-guard/internal/models"
	"storefront-guard/internal/otp"
	"storefront-guard/internal/util"
)

const otpTableDDL = `CREATE TABLE IF NOT EXISTS otp_verifications (
	phone text PRIMARY KEY,
	otp_hash text,
	otp_salt text,
	hash_algorithm text,
	pepper_version int,
	attempts int,
	issued_at timestamp,
	expires_at timestamp
)`

// OTPStore keeps one TTL'd row per phone. As with the Redis store, rows
// outlive the record's expiry by a grace period.
type OTPStore struct {
	client *ScyllaClient
	grace  time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewOTPStore(client *ScyllaClient, grace time.Duration, logger *zap.Logger) *OTPStore {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &OTPStore{client: client, grace: grace, now: time.Now, logger: logger}
}

var _ otp.Store = (*OTPStore)(nil)

// EnsureSchema creates the otp table in the session keyspace.
func (s *OTPStore) EnsureSchema(ctx context.Context) error {
	if err := s.client.Session.Query(otpTableDDL).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create otp_verifications table: %w", err)
	}
	return nil
}

func (s *OTPStore) Get(ctx context.Context, phone string) (*otp.Record, error) {
	var row models.OTPVerification
	err := s.client.Session.Query(`
		SELECT phone, otp_hash, otp_salt, hash_algorithm, pepper_version, attempts, issued_at, expires_at
		FROM otp_verifications WHERE phone = ?`, phone).
		WithContext(ctx).
		Scan(&row.Phone, &row.OTPHash, &row.OTPSalt, &row.HashAlgorithm,
			&row.PepperVersion, &row.Attempts, &row.IssuedAt, &row.ExpiresAt)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, otp.ErrRecordNotFound
	}
	if err != nil {
		s.logger.Error("Failed to get OTP", util.Phone("phone", phone), zap.Error(err))
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}
	return fromRow(row), nil
}

func (s *OTPStore) Put(ctx context.Context, phone string, rec *otp.Record) error {
	row := toRow(phone, rec)
	ttl := ttlSeconds(rec.ExpiresAt.Sub(s.now()) + s.grace)

	err := s.client.Session.Query(`
		INSERT INTO otp_verifications (phone, otp_hash, otp_salt, hash_algorithm, pepper_version, attempts, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`,
		row.Phone, row.OTPHash, row.OTPSalt, row.HashAlgorithm,
		row.PepperVersion, row.Attempts, row.IssuedAt, row.ExpiresAt, ttl).
		WithContext(ctx).
		Exec()
	if err != nil {
		s.logger.Error("Failed to store OTP", util.Phone("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to store OTP: %w", err)
	}
	return nil
}

func (s *OTPStore) Delete(ctx context.Context, phone string) error {
	err := s.client.Session.Query(`DELETE FROM otp_verifications WHERE phone = ?`, phone).
		WithContext(ctx).
		Exec()
	if err != nil {
		s.logger.Error("Failed to delete OTP", util.Phone("phone", phone), zap.Error(err))
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

func toRow(phone string, rec *otp.Record) models.OTPVerification {
	return models.OTPVerification{
		Phone:         phone,
		OTPHash:       rec.Hash.Hash,
		OTPSalt:       rec.Hash.Salt,
		HashAlgorithm: rec.Hash.Algorithm,
		PepperVersion: rec.Hash.PepperVersion,
		Attempts:      rec.Attempts,
		IssuedAt:      rec.IssuedAt.UTC(),
		ExpiresAt:     rec.ExpiresAt.UTC(),
	}
}

func fromRow(row models.OTPVerification) *otp.Record {
	return &otp.Record{
		Hash: hashing.HashResult{
			Hash:          row.OTPHash,
			Salt:          row.OTPSalt,
			PepperVersion: row.PepperVersion,
			Algorithm:     row.HashAlgorithm,
		},
		Attempts:  row.Attempts,
		IssuedAt:  row.IssuedAt,
		ExpiresAt: row.ExpiresAt,
	}
}

// ttlSeconds rounds up; CQL rejects a TTL of zero or less.
func ttlSeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

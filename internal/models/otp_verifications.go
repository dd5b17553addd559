package models

import "time"

// OTPVerification is the ScyllaDB row backing a live OTP record.
type OTPVerification struct {
	Phone         string    `db:"phone"`
	OTPHash       string    `db:"otp_hash"`
	OTPSalt       string    `db:"otp_salt"`
	HashAlgorithm string    `db:"hash_algorithm"`
	PepperVersion int       `db:"pepper_version"`
	Attempts      int       `db:"attempts"`
	IssuedAt      time.Time `db:"issued_at"`
	ExpiresAt     time.Time `db:"expires_at"`
}

package models

import "time"

// SecurityEvent is the ClickHouse row written for every journaled event.
type SecurityEvent struct {
	EventBucket       int       `db:"event_bucket"`
	EventDate         string    `db:"event_date"`
	EventTime         time.Time `db:"event_time"`
	EventID           string    `db:"event_id"`
	EventType         string    `db:"event_type"`
	SessionID         string    `db:"session_id"`
	DeviceFingerprint string    `db:"device_fingerprint"`
	UserAgent         string    `db:"user_agent"`
	Timezone          string    `db:"timezone"`
	Latitude          *float64  `db:"latitude"`
	Longitude         *float64  `db:"longitude"`
	IPAddress         string    `db:"ip_address"`
	Country           string    `db:"country"`
	Payload           string    `db:"payload"`
}

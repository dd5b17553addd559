package models

import "time"

// GeoLocation is a best-effort position. Coordinates are nil when the
// position could not be determined.
type GeoLocation struct {
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Accuracy  *float64  `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip,omitempty"`
	City      string    `json:"city,omitempty"`
	Country   string    `json:"country,omitempty"`
}

func (g GeoLocation) Known() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// RiskMetadata is the device and session context attached to every event.
type RiskMetadata struct {
	DeviceFingerprint string      `json:"deviceFingerprint"`
	SessionID         string      `json:"sessionId"`
	GeoLocation       GeoLocation `json:"geoLocation"`
	UserAgent         string      `json:"userAgent"`
	ScreenResolution  string      `json:"screenResolution"`
	Timezone          string      `json:"timezone"`
}

// TransactionEvent is one journal entry. Events are never mutated after
// creation.
type TransactionEvent struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Payload    map[string]interface{} `json:"payload"`
	Metadata   RiskMetadata           `json:"metadata"`
	CapturedAt time.Time              `json:"capturedAt"`
}

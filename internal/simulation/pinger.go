package simulation

import "context"

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Ping is one location report sent to the fraud backend.
type Ping struct {
	DeviceID   string      `json:"deviceId"`
	UserCoords Coordinates `json:"userCoords"`
	Timestamp  int64       `json:"timestamp"`
	Amount     float64     `json:"amount"`
	OrderID    string      `json:"orderId"`
}

// PingResult carries whatever the backend flagged. It is surfaced as-is.
type PingResult struct {
	FraudTypes []string `json:"fraudTypes,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
}

// Delivery registers the expected delivery location for a device.
type Delivery struct {
	DeviceID string  `json:"deviceId"`
	Lat      float64 `json:"Lat"`
	Lon      float64 `json:"Lon"`
	City     string  `json:"city"`
}

// Pinger is the fraud backend as seen by the scheduler.
type Pinger interface {
	Ping(ctx context.Context, p Ping) (*PingResult, error)
	Reset(ctx context.Context, deviceID string) (bool, error)
	SetDelivery(ctx context.Context, d Delivery) error
}

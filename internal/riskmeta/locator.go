package riskmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"storefront-guard/internal/models"
)

var ErrLocationUnavailable = errors.New("location unavailable")

// Locator reads the current position once.
type Locator interface {
	Locate(ctx context.Context) (models.GeoLocation, error)
}

type LocatorFunc func(ctx context.Context) (models.GeoLocation, error)

func (f LocatorFunc) Locate(ctx context.Context) (models.GeoLocation, error) {
	return f(ctx)
}

// StaticLocator always reports the same coordinates.
type StaticLocator struct {
	Lat, Lon float64
	Accuracy *float64
	City     string
	Country  string
}

func (s StaticLocator) Locate(context.Context) (models.GeoLocation, error) {
	lat, lon := s.Lat, s.Lon
	return models.GeoLocation{
		Latitude:  &lat,
		Longitude: &lon,
		Accuracy:  s.Accuracy,
		City:      s.City,
		Country:   s.Country,
	}, nil
}

// IPLocator asks an ipapi-style service where the caller's public address is.
type IPLocator struct {
	url  string
	http *http.Client
}

func NewIPLocator(url string, hc *http.Client) *IPLocator {
	return &IPLocator{url: url, http: hc}
}

type ipapiResponse struct {
	IP          string   `json:"ip"`
	City        string   `json:"city"`
	CountryName string   `json:"country_name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Error       bool     `json:"error"`
	Reason      string   `json:"reason"`
}

func (l *IPLocator) Locate(ctx context.Context) (models.GeoLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return models.GeoLocation{}, fmt.Errorf("ip lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.GeoLocation{}, fmt.Errorf("%w: ip lookup returned %d", ErrLocationUnavailable, resp.StatusCode)
	}

	var body ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return models.GeoLocation{}, fmt.Errorf("failed to decode ip lookup: %w", err)
	}
	if body.Error {
		return models.GeoLocation{}, fmt.Errorf("%w: %s", ErrLocationUnavailable, body.Reason)
	}

	return models.GeoLocation{
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		IP:        body.IP,
		City:      body.City,
		Country:   body.CountryName,
	}, nil
}

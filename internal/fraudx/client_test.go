package fraudx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront-guard/internal/simulation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		ServerURL:           srv.URL + "/",
		PingEndpoint:        "/api/location/ping",
		ResetEndpoint:       "/api/location/reset",
		SetDeliveryEndpoint: "/api/location/set-delivery",
		Timeout:             2 * time.Second,
	}, zap.NewNop())
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/location/ping", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ORD-1", body["deviceId"])
		assert.Equal(t, "ORD-1", body["orderId"])
		assert.Equal(t, 1500.0, body["amount"])
		assert.Equal(t, map[string]interface{}{"lat": 18.5204, "lon": 73.8567}, body["userCoords"])
		assert.Equal(t, 1709294400000.0, body["timestamp"])

		_, _ = io.WriteString(w, `{"fraudTypes":["SPEED_ANOMALY"],"speed":184.2,"extra":true}`)
	})

	res, err := c.Ping(context.Background(), simulation.Ping{
		DeviceID:   "ORD-1",
		UserCoords: simulation.Coordinates{Lat: 18.5204, Lon: 73.8567},
		Timestamp:  1709294400000,
		Amount:     1500,
		OrderID:    "ORD-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"SPEED_ANOMALY"}, res.FraudTypes)
	require.NotNil(t, res.Speed)
	assert.Equal(t, 184.2, *res.Speed)
}

func TestPingEmptyResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	res, err := c.Ping(context.Background(), simulation.Ping{DeviceID: "d"})
	require.NoError(t, err)
	assert.Empty(t, res.FraudTypes)
	assert.Nil(t, res.Speed)
}

func TestPingBackendFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.Ping(context.Background(), simulation.Ping{DeviceID: "d"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), "502")
}

func TestPingMalformedJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	})

	_, err := c.Ping(context.Background(), simulation.Ping{DeviceID: "d"})
	assert.ErrorContains(t, err, "decode response")
}

func TestReset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/location/reset/ORD 9", r.URL.Path)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})

	ok, err := c.Reset(context.Background(), "ORD 9")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSetDelivery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/location/set-delivery", r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]interface{}{
			"deviceId": "ORD-4",
			"Lat":      18.5204,
			"Lon":      73.8567,
			"city":     "Pune",
		}, body)
		_, _ = io.WriteString(w, `{"ok":true}`)
	})

	require.NoError(t, c.SetDelivery(context.Background(), simulation.Delivery{
		DeviceID: "ORD-4",
		Lat:      simulation.DeliveryPoint.Lat,
		Lon:      simulation.DeliveryPoint.Lon,
		City:     simulation.DeliveryPoint.Name,
	}))
}

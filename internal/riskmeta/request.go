package riskmeta

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront-guard/internal/models"
)

// Headers a storefront client sends with its risk snapshot.
const (
	HeaderSessionID        = "X-Session-ID"
	HeaderFingerprint      = "X-Device-Fingerprint"
	HeaderTimezone         = "X-Timezone"
	HeaderScreenResolution = "X-Screen-Resolution"
	HeaderGeoLat           = "X-Geo-Lat"
	HeaderGeoLon           = "X-Geo-Lon"
	HeaderGeoAccuracy      = "X-Geo-Accuracy"
)

// MetadataFromRequest rebuilds the client's risk snapshot from request
// headers. Coordinates outside valid ranges are dropped.
func MetadataFromRequest(r *http.Request, now time.Time) models.RiskMetadata {
	h := r.Header

	geo := models.GeoLocation{
		Timestamp: now,
		IP:        clientIP(r),
	}
	lat := parseFloat(h.Get(HeaderGeoLat))
	lon := parseFloat(h.Get(HeaderGeoLon))
	if lat != nil && lon != nil && *lat >= -90 && *lat <= 90 && *lon >= -180 && *lon <= 180 {
		geo.Latitude, geo.Longitude = lat, lon
		geo.Accuracy = parseFloat(h.Get(HeaderGeoAccuracy))
	}

	return models.RiskMetadata{
		DeviceFingerprint: h.Get(HeaderFingerprint),
		SessionID:         h.Get(HeaderSessionID),
		GeoLocation:       geo,
		UserAgent:         r.UserAgent(),
		ScreenResolution:  h.Get(HeaderScreenResolution),
		Timezone:          h.Get(HeaderTimezone),
	}
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

// clientIP prefers the address chi's RealIP middleware put in RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

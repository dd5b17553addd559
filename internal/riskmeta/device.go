// Package riskmeta collects the device and session context that is attached
// to every journaled transaction event.
package riskmeta

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// DeviceSignals are the stable device traits a fingerprint is derived from.
type DeviceSignals struct {
	UserAgent           string
	Language            string
	ColorDepth          int
	TimezoneOffset      int // minutes behind UTC
	Renderer            string
	HardwareConcurrency int
}

// Fingerprint hashes the signals into a short hex string. Equal signals give
// equal fingerprints.
func (d DeviceSignals) Fingerprint() string {
	renderer := d.Renderer
	if renderer == "" {
		renderer = "unknown"
	}
	raw := strings.Join([]string{
		d.UserAgent,
		d.Language,
		strconv.Itoa(d.ColorDepth),
		strconv.Itoa(d.TimezoneOffset),
		renderer,
		strconv.Itoa(d.HardwareConcurrency),
	}, "|")
	return strconv.FormatUint(murmur3.Sum64([]byte(raw)), 16)
}

// NewSessionID returns "sess_<unix millis>_<9 random chars>".
func NewSessionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return "sess_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix
}

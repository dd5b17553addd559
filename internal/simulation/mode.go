package simulation

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how the simulated device moves.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeFast        Mode = "fast"
	ModeTeleport    Mode = "teleport"
	ModeGeoMismatch Mode = "geoMismatch"
)

var ErrUnknownMode = errors.New("unknown simulation mode")

// Modes lists every supported mode.
func Modes() []Mode {
	return []Mode{ModeNormal, ModeFast, ModeTeleport, ModeGeoMismatch}
}

// ParseMode accepts a mode name case-insensitively. An empty string means
// ModeNormal.
func ParseMode(s string) (Mode, error) {
	if strings.TrimSpace(s) == "" {
		return ModeNormal, nil
	}
	for _, m := range Modes() {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeFast, ModeTeleport, ModeGeoMismatch:
		return true
	}
	return false
}

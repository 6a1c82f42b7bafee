package fapctl

import "fmt"

// Mode gates whether Controller start/stop calls reach the real service
type Mode int

const (
	// ModeDisabled ignores Start and Stop
	ModeDisabled Mode = iota
	// ModeOnline passes start/stop through to the service
	ModeOnline
	// ModeProfiling means the service is stopped for one or more profiling
	// sessions; Start and Stop are ignored until the batch ends
	ModeProfiling
)

// Mode string constants
const (
	modeDisabledStr  = "disabled"
	modeOnlineStr    = "online"
	modeProfilingStr = "profiling"
)

// String returns the string representation of a Mode
func (m Mode) String() string {
	switch m {
	case ModeOnline:
		return modeOnlineStr
	case ModeProfiling:
		return modeProfilingStr
	default:
		return modeDisabledStr
	}
}

// ParseMode converts a mode name back into a Mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case modeDisabledStr:
		return ModeDisabled, nil
	case modeOnlineStr:
		return ModeOnline, nil
	case modeProfilingStr:
		return ModeProfiling, nil
	default:
		return ModeDisabled, fmt.Errorf("unknown mode: %q", s)
	}
}

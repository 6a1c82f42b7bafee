package fapctl

import (
	"context"
)

// ServiceHandle is the capability a Controller needs from the OS service
// manager. ClientSystemd implements it with systemctl.
type ServiceHandle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsActive(ctx context.Context) (bool, error)
}

// ServiceStatus is the cached result of polling a ServiceHandle
type ServiceStatus int

const (
	// StatusUnknown means the service has not been polled or could not be queried
	StatusUnknown ServiceStatus = iota
	// StatusActive means the service reported active
	StatusActive
	// StatusInactive means the service reported anything other than active
	StatusInactive
)

// ServiceStatus string constants
const (
	statusUnknownStr  = "unknown"
	statusActiveStr   = "active"
	statusInactiveStr = "inactive"
)

// String returns the string representation of a ServiceStatus
func (s ServiceStatus) String() string {
	switch s {
	case StatusActive:
		return statusActiveStr
	case StatusInactive:
		return statusInactiveStr
	default:
		return statusUnknownStr
	}
}

func statusFromActive(active bool) ServiceStatus {
	if active {
		return StatusActive
	}
	return StatusInactive
}

package fapctl

import (
	"io/fs"
	"time"
)

// Service and log path constants
const (
	// DefaultServiceName is the systemd unit name of the policy daemon (without .service)
	DefaultServiceName = "fapolicyd"

	// LogPathEnv names the environment variable supplying the profiling log path base
	LogPathEnv = "FAPD_LOGPATH"

	// DefaultProfilingBase is the log path base used when LogPathEnv is unset
	DefaultProfilingBase = "/tmp/fapd_profiling"

	// TargetLogPrefix prefixes default target stdout/stderr log file names
	TargetLogPrefix = "tgt_profiling_"

	// StdoutSuffix and StderrSuffix are appended to log path bases
	StdoutSuffix = ".stdout"
	StderrSuffix = ".stderr"

	// TimestampLayout is the second-resolution part of a profiling timestamp;
	// microseconds are appended as "_uuuuuu"
	TimestampLayout = "2006-01-02_15-04-05"
)

// Timing defaults
const (
	// DefaultServiceTimeout bounds a single systemctl invocation
	DefaultServiceTimeout = 10 * time.Second

	// DefaultWatchInterval is the default status poll interval of Watch
	DefaultWatchInterval = 5 * time.Second

	// DefaultWatchDebounce coalesces bursts of wake path events
	DefaultWatchDebounce = 10 * time.Millisecond

	// DefaultStopGrace is how long Session.Stop waits after SIGTERM before
	// escalating to SIGKILL. Zero waits indefinitely.
	DefaultStopGrace = 0
)

// DefaultProfilingDaemon is the command line of the debug daemon launched while profiling
var DefaultProfilingDaemon = []string{"/usr/sbin/fapolicyd", "--debug", "--permissive", "--no-details"}

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created log files
	FileMode fs.FileMode = 0o644
)

// Operation identifies the step that failed inside an OpError
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpStart starts the service
	OpStart
	// OpStop stops the service
	OpStop
	// OpIsActive queries whether the service is active
	OpIsActive
	// OpResolveUser resolves a session identity
	OpResolveUser
	// OpOpenLog opens a stdout/stderr destination
	OpOpenLog
	// OpSpawn starts a target process
	OpSpawn
	// OpSignal signals a target process
	OpSignal
	// OpWatch sets up status watching
	OpWatch
	// OpLock acquires the profiling lock
	OpLock
)

// Operation string constants
const (
	opUnknownStr     = "unknown"
	opStartStr       = "start"
	opStopStr        = "stop"
	opIsActiveStr    = "is-active"
	opResolveUserStr = "resolve-user"
	opOpenLogStr     = "open-log"
	opSpawnStr       = "spawn"
	opSignalStr      = "signal"
	opWatchStr       = "watch"
	opLockStr        = "lock"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpStart:
		return opStartStr
	case OpStop:
		return opStopStr
	case OpIsActive:
		return opIsActiveStr
	case OpResolveUser:
		return opResolveUserStr
	case OpOpenLog:
		return opOpenLogStr
	case OpSpawn:
		return opSpawnStr
	case OpSignal:
		return opSignalStr
	case OpWatch:
		return opWatchStr
	case OpLock:
		return opLockStr
	default:
		return opUnknownStr
	}
}

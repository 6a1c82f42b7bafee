package fapctl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Controller is the single authority over the policy daemon. Its Mode decides
// whether Start and Stop reach the ServiceHandle, and it owns the profiling
// log paths and timestamp.
type Controller struct {
	service   ServiceHandle
	logger    *slog.Logger
	now       func() time.Time
	envBase   string
	lock      *flock.Flock
	daemonCmd []string
	stopGrace time.Duration

	// transition serializes BeginProfiling and EndProfiling
	transition sync.Mutex

	// mu guards the fields below; it is never held across service calls
	mu         sync.Mutex
	mode       Mode
	profiling  bool
	status     ServiceStatus
	stdoutPath string
	stderrPath string
	timestamp  string
	daemon     *Session
}

// ControllerOption configures a Controller
type ControllerOption func(*Controller)

// WithMode sets the initial mode (default ModeDisabled)
func WithMode(m Mode) ControllerOption {
	return func(c *Controller) {
		c.mode = m
	}
}

// WithLogger sets the controller logger
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLockPath makes profiling exclusive across processes through a lock file
func WithLockPath(path string) ControllerOption {
	return func(c *Controller) {
		if path != "" {
			c.lock = flock.New(path)
		}
	}
}

// WithProfilingDaemon sets a command started while profiling, with its output
// written to the profiling stdout/stderr paths. Empty disables it.
func WithProfilingDaemon(argv []string) ControllerOption {
	return func(c *Controller) {
		c.daemonCmd = argv
	}
}

// WithDaemonStopGrace bounds how long the profiling daemon gets to exit after SIGTERM
func WithDaemonStopGrace(d time.Duration) ControllerOption {
	return func(c *Controller) {
		c.stopGrace = d
	}
}

// WithClock replaces time.Now for timestamps
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController creates a controller for service. The profiling log base is
// read from FAPD_LOGPATH at construction.
func NewController(service ServiceHandle, opts ...ControllerOption) *Controller {
	c := &Controller{
		service: service,
		logger:  discardLogger(),
		now:     time.Now,
		envBase: os.Getenv(LogPathEnv),
		mode:    ModeDisabled,
		status:  StatusUnknown,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetMode changes the mode. It does not touch the service.
func (c *Controller) SetMode(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debug("controller mode set", "from", c.mode, "to", m)
	c.mode = m
}

// Mode returns the current mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Start starts the service. Only ModeOnline reaches the service; in any
// other mode Start returns false without touching it. Otherwise it reports
// whether the service manager accepted the request.
func (c *Controller) Start(ctx context.Context) bool {
	return c.toggle(ctx, OpStart)
}

// Stop stops the service; see Start.
func (c *Controller) Stop(ctx context.Context) bool {
	return c.toggle(ctx, OpStop)
}

func (c *Controller) toggle(ctx context.Context, op Operation) bool {
	mode := c.Mode()
	if mode != ModeOnline {
		c.logger.Debug("daemon control gated", "op", op, "mode", mode)
		return false
	}
	return c.control(ctx, op, mode)
}

// control calls the service without consulting the mode
func (c *Controller) control(ctx context.Context, op Operation, mode Mode) bool {
	var err error
	if op == OpStart {
		err = c.service.Start(ctx)
	} else {
		err = c.service.Stop(ctx)
	}
	if err != nil {
		c.logger.Warn("daemon control failed", "op", op, "mode", mode, "error", fmt.Errorf("%w: %w", ErrDaemonControl, err))
		return false
	}
	c.logger.Info("daemon control", "op", op, "mode", mode)
	return true
}

// StatusOnline polls the service, caches the result and returns it. A failed
// poll yields StatusUnknown. While profiling with a profiling daemon it
// reports that daemon instead, since the service itself is stopped.
func (c *Controller) StatusOnline(ctx context.Context) ServiceStatus {
	c.mu.Lock()
	daemon := c.daemon
	profiling := c.mode == ModeProfiling
	c.mu.Unlock()

	if profiling && daemon != nil {
		status := statusFromActive(daemon.Status() == SessionInProgress)
		c.mu.Lock()
		c.status = status
		c.mu.Unlock()
		return status
	}

	status := StatusUnknown
	active, err := c.service.IsActive(ctx)
	if err != nil {
		c.logger.Warn("daemon status query failed", "error", err)
	} else {
		status = statusFromActive(active)
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return status
}

// Status returns the status cached by the last StatusOnline call
func (c *Controller) Status() ServiceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetProfilingStdout overrides the profiling stdout path; empty restores the default
func (c *Controller) SetProfilingStdout(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stdoutPath = path
}

// SetProfilingStderr overrides the profiling stderr path; empty restores the default
func (c *Controller) SetProfilingStderr(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stderrPath = path
}

// ProfilingStdout returns the profiling stdout path
func (c *Controller) ProfilingStdout() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdoutPath != "" {
		return c.stdoutPath
	}
	return c.profilingBaseLocked() + StdoutSuffix
}

// ProfilingStderr returns the profiling stderr path
func (c *Controller) ProfilingStderr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stderrPath != "" {
		return c.stderrPath
	}
	return c.profilingBaseLocked() + StderrSuffix
}

// profilingBaseLocked prefers FAPD_LOGPATH, then the timestamped fallback
func (c *Controller) profilingBaseLocked() string {
	if c.envBase != "" {
		return c.envBase
	}
	if c.timestamp != "" {
		return DefaultProfilingBase + "_" + c.timestamp
	}
	return DefaultProfilingBase
}

// ProfilingTimestamp returns the timestamp of the current or most recent
// profiling session, and false if none has been recorded.
func (c *Controller) ProfilingTimestamp() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp, c.timestamp != ""
}

// StampProfiling records and returns a fresh profiling timestamp
func (c *Controller) StampProfiling() string {
	ts := FormatTimestamp(c.now())
	c.mu.Lock()
	c.timestamp = ts
	c.mu.Unlock()
	return ts
}

// FormatTimestamp renders t as year-month-day_hour-minute-second_microseconds
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format(TimestampLayout), t.Nanosecond()/int(time.Microsecond))
}

// Profiling reports whether a profiling batch is active
func (c *Controller) Profiling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profiling
}

// BeginProfiling enters ModeProfiling from any mode and stops the service.
// Calling it again before EndProfiling does nothing, so the service is
// stopped at most once per batch. The only error is failing to take the
// profiling lock; a failed service stop is logged.
func (c *Controller) BeginProfiling(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if c.profiling {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.lock != nil {
		ok, err := c.lock.TryLock()
		if err != nil {
			return &OpError{Op: OpLock, Target: c.lock.Path(), Err: err}
		}
		if !ok {
			return &OpError{Op: OpLock, Target: c.lock.Path(), Err: ErrProfilingLocked}
		}
	}

	c.StampProfiling()

	c.mu.Lock()
	prev := c.mode
	c.profiling = true
	c.mode = ModeProfiling
	c.mu.Unlock()
	c.logger.Debug("controller mode set", "from", prev, "to", ModeProfiling)

	// the gate is closed in ModeProfiling, so the stop bypasses it
	if !c.control(ctx, OpStop, ModeProfiling) {
		c.logger.Warn("daemon could not be stopped for profiling")
	}

	c.startProfilingDaemon(ctx)
	return nil
}

// EndProfiling stops the profiling daemon, returns to ModeOnline and starts
// the service. It does nothing when no profiling batch is active.
func (c *Controller) EndProfiling(ctx context.Context) error {
	c.transition.Lock()
	defer c.transition.Unlock()

	c.mu.Lock()
	if !c.profiling {
		c.mu.Unlock()
		return nil
	}
	daemon := c.daemon
	c.daemon = nil
	c.mu.Unlock()

	var merr MultiError
	if daemon != nil {
		merr.Add(daemon.Stop(ctx))
	}

	c.mu.Lock()
	c.mode = ModeOnline
	c.profiling = false
	c.mu.Unlock()

	if !c.Start(ctx) {
		merr.Add(&OpError{Op: OpStart, Target: "daemon", Err: ErrDaemonControl})
	}

	if c.lock != nil {
		merr.Add(c.lock.Unlock())
	}
	return merr.Err()
}

// startProfilingDaemon launches the configured debug daemon with its output
// on the profiling log paths
func (c *Controller) startProfilingDaemon(ctx context.Context) {
	if len(c.daemonCmd) == 0 {
		return
	}

	cfg := ProfilingConfig{
		Command:    c.daemonCmd[0],
		Args:       c.daemonCmd[1:],
		StdoutPath: c.ProfilingStdout(),
		StderrPath: c.ProfilingStderr(),
	}
	daemon := NewSession("profiling-daemon", cfg,
		WithStopGrace(c.stopGrace),
		WithSessionLogger(c.logger),
	)
	if err := daemon.Start(ctx, 0, false); err != nil {
		c.logger.Warn("profiling daemon not started", "error", err)
		return
	}

	c.mu.Lock()
	c.daemon = daemon
	c.mu.Unlock()
	c.logger.Info("profiling daemon started", "pid", daemon.Pid(), "stdout", cfg.StdoutPath, "stderr", cfg.StderrPath)
}

// ProfilingDaemon returns the running profiling daemon session, if any
func (c *Controller) ProfilingDaemon() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.daemon
}

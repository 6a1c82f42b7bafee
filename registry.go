package fapctl

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Registry coordinates the Controller's mode with any number of concurrent
// profiling sessions. The first session of a batch puts the controller into
// profiling and stops the service; removing the last one restores it. A
// registry without a controller runs sessions with no daemon control.
type Registry struct {
	controller   *Controller
	startupDelay time.Duration
	stopGrace    time.Duration
	logDir       string
	lookup       UserLookupFunc
	logger       *slog.Logger

	// mu serializes the session map, the key counter and mode transitions
	mu        sync.Mutex
	sessions  map[string]*Session
	counter   uint64
	timestamp string
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithStartupDelay delays every target spawn by d
func WithStartupDelay(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.startupDelay = d
	}
}

// WithTargetLogDir gives sessions without explicit output paths timestamped
// stdout/stderr logs in dir
func WithTargetLogDir(dir string) RegistryOption {
	return func(r *Registry) {
		r.logDir = dir
	}
}

// WithSessionStopGrace sets the stop grace of sessions created by the registry
func WithSessionStopGrace(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.stopGrace = d
	}
}

// WithSessionUserLookup sets the identity resolver of sessions created by the registry
func WithSessionUserLookup(fn UserLookupFunc) RegistryOption {
	return func(r *Registry) {
		r.lookup = fn
	}
}

// WithRegistryLogger sets the registry logger, which sessions inherit
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRegistry creates an empty registry driving controller
func NewRegistry(controller *Controller, opts ...RegistryOption) *Registry {
	r := &Registry{
		controller: controller,
		stopGrace:  DefaultStopGrace,
		logger:     discardLogger(),
		sessions:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartSession registers a session for cfg under key, minting one when key is
// empty, and starts it without waiting for the target to exit. Failures to
// prepare or spawn the target leave the session registered and Queued; see
// Session.Err. An error is returned only when the key is taken or the
// controller cannot enter profiling.
func (r *Registry) StartSession(ctx context.Context, cfg ProfilingConfig, key string) (string, error) {
	r.mu.Lock()
	if key != "" {
		if _, exists := r.sessions[key]; exists {
			r.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
	}

	if r.controller != nil {
		if err := r.controller.BeginProfiling(ctx); err != nil {
			r.mu.Unlock()
			return "", err
		}
	}

	if key == "" {
		key = r.mintKeyLocked()
	}

	ts := r.stamp()
	if r.logDir != "" {
		if cfg.StdoutPath == "" {
			cfg.StdoutPath = filepath.Join(r.logDir, TargetLogPrefix+ts+"_"+key+StdoutSuffix)
		}
		if cfg.StderrPath == "" {
			cfg.StderrPath = filepath.Join(r.logDir, TargetLogPrefix+ts+"_"+key+StderrSuffix)
		}
	}

	session := NewSession(key, cfg,
		WithStopGrace(r.stopGrace),
		WithUserLookup(r.lookup),
		WithSessionLogger(r.logger),
	)
	r.sessions[key] = session
	r.mu.Unlock()

	r.logger.Info("profiling session registered", "session", key, "run_id", session.RunID(), "command", cfg.CommandLine())

	// Start errors are recorded on the session and logged there
	_ = session.Start(ctx, r.startupDelay, false)
	return key, nil
}

// StopSession stops and removes the session under key, or every session when
// key is empty. When the registry becomes empty the controller leaves
// profiling, the service is restarted and the key counter resets.
//
// A session whose Stop is cut short by ctx may still be running. It stays
// registered, the batch does not end and the ctx error is returned; a later
// StopSession finishes the job.
func (r *Registry) StopSession(ctx context.Context, key string) error {
	r.mu.Lock()
	var victims []*Session
	if key == "" {
		for _, s := range r.sessions {
			victims = append(victims, s)
		}
		r.sessions = make(map[string]*Session)
	} else {
		s, ok := r.sessions[key]
		if !ok {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownSession, key)
		}
		delete(r.sessions, key)
		victims = append(victims, s)
	}
	r.mu.Unlock()

	merr, survivors := r.stopAll(ctx, victims)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range survivors {
		key := s.Key()
		if _, taken := r.sessions[key]; taken {
			key = r.mintKeyLocked()
		}
		r.sessions[key] = s
		r.logger.Warn("profiling session still running, kept registered", "session", key, "pid", s.Pid())
	}
	if len(r.sessions) == 0 {
		r.counter = 0
		if r.controller != nil {
			merr.Add(r.controller.EndProfiling(ctx))
			r.logger.Info("profiling batch finished", "mode", r.controller.Mode())
		}
	}
	return merr.Err()
}

// mintKeyLocked returns the next free counter key; r.mu must be held
func (r *Registry) mintKeyLocked() string {
	for {
		r.counter++
		key := strconv.FormatUint(r.counter, 10)
		if _, exists := r.sessions[key]; !exists {
			return key
		}
	}
}

// stamp records a profiling timestamp on the controller, or on the registry
// when there is no controller; r.mu must be held
func (r *Registry) stamp() string {
	if r.controller == nil {
		r.timestamp = FormatTimestamp(time.Now())
		return r.timestamp
	}
	return r.controller.StampProfiling()
}

// stopAll stops sessions concurrently; they share nothing once removed. It
// returns the sessions whose Stop gave up before the target exited.
func (r *Registry) stopAll(ctx context.Context, sessions []*Session) (*MultiError, []*Session) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &MultiError{}
	var survivors []*Session

	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Stop(ctx); err != nil {
				mu.Lock()
				merr.Add(fmt.Errorf("stop session %s: %w", s.Key(), err))
				if s.Status() == SessionInProgress {
					survivors = append(survivors, s)
				}
				mu.Unlock()
				return
			}
			r.logger.Info("profiling session removed", "session", s.Key(), "status", s.Status())
		}(s)
	}

	wg.Wait()
	return merr, survivors
}

// Session returns the session registered under key
func (r *Registry) Session(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Status returns the status of the session under key
func (r *Registry) Status(key string) (SessionStatus, bool) {
	s, ok := r.Session(key)
	if !ok {
		return SessionQueued, false
	}
	return s.Status(), true
}

// Keys returns the registered keys in ascending order
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseUint(keys[i], 10, 64)
		b, errB := strconv.ParseUint(keys[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Counter returns the current value of the key counter
func (r *Registry) Counter() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counter
}

// ProfilingTimestamp returns the timestamp of the current or most recent
// session, and false if nothing has been recorded.
func (r *Registry) ProfilingTimestamp() (string, bool) {
	if r.controller == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.timestamp, r.timestamp != ""
	}
	return r.controller.ProfilingTimestamp()
}

// Controller returns the controller driven by the registry
func (r *Registry) Controller() *Controller {
	return r.controller
}

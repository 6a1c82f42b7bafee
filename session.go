package fapctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a Session. It only moves forward.
type SessionStatus int

const (
	// SessionQueued means no process has been spawned
	SessionQueued SessionStatus = iota
	// SessionInProgress means the process is running
	SessionInProgress
	// SessionCompleted means the process exited and its exit code is fixed
	SessionCompleted
)

// SessionStatus string constants
const (
	sessionQueuedStr     = "queued"
	sessionInProgressStr = "in-progress"
	sessionCompletedStr  = "completed"
)

// String returns the string representation of a SessionStatus
func (s SessionStatus) String() string {
	switch s {
	case SessionInProgress:
		return sessionInProgressStr
	case SessionCompleted:
		return sessionCompletedStr
	default:
		return sessionQueuedStr
	}
}

// ProfilingConfig describes one target command and the context it runs in
type ProfilingConfig struct {
	// Command is the executable to run
	Command string
	// Args are passed to Command in order
	Args []string
	// User is a user name or numeric uid; empty runs as the caller
	User string
	// Dir is the working directory; it must exist when set
	Dir string
	// Env overrides entries of the inherited environment
	Env map[string]string
	// StdoutPath and StderrPath receive the target's output; empty discards it
	StdoutPath string
	StderrPath string
}

// CommandLine renders the command and arguments for display
func (c ProfilingConfig) CommandLine() string {
	return strings.TrimSpace(c.Command + " " + strings.Join(c.Args, " "))
}

// UserLookupFunc resolves a user name or numeric uid
type UserLookupFunc func(nameOrID string) (*user.User, error)

// LookupUser resolves names with user.Lookup and all-digit strings with user.LookupId
func LookupUser(nameOrID string) (*user.User, error) {
	if strings.Trim(nameOrID, "0123456789") == "" {
		return user.LookupId(nameOrID)
	}
	return user.Lookup(nameOrID)
}

// Session owns exactly one supervised run of a target command
type Session struct {
	key       string
	runID     string
	config    ProfilingConfig
	stopGrace time.Duration
	lookup    UserLookupFunc
	logger    *slog.Logger

	// mu guards everything below
	mu        sync.Mutex
	started   bool
	stopped   bool
	cmd       *exec.Cmd
	status    SessionStatus
	exitCode  int
	err       error
	startedAt time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithStopGrace bounds how long Stop waits after SIGTERM before sending SIGKILL.
// Zero waits until the process exits.
func WithStopGrace(d time.Duration) SessionOption {
	return func(s *Session) {
		s.stopGrace = d
	}
}

// WithUserLookup replaces the identity resolver
func WithUserLookup(fn UserLookupFunc) SessionOption {
	return func(s *Session) {
		if fn != nil {
			s.lookup = fn
		}
	}
}

// WithSessionLogger sets the logger for session lifecycle events
func WithSessionLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSession creates a queued session. Nothing is resolved, opened or spawned.
func NewSession(key string, cfg ProfilingConfig, opts ...SessionOption) *Session {
	s := &Session{
		key:       key,
		runID:     uuid.NewString(),
		config:    cfg,
		stopGrace: DefaultStopGrace,
		lookup:    LookupUser,
		logger:    discardLogger(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", key, "run_id", s.runID)
	return s
}

// Key returns the registry key of the session
func (s *Session) Key() string { return s.key }

// RunID returns an identifier unique across registry batches
func (s *Session) RunID() string { return s.runID }

// Config returns the session's configuration
func (s *Session) Config() ProfilingConfig { return s.config }

// Start runs the target. The user is resolved and the output files opened
// before anything is spawned; a failure at either step leaves the session
// Queued with no process and no open files. After delay the process is
// spawned. If block is set Start waits for it to exit.
func (s *Session) Start(ctx context.Context, delay time.Duration, block bool) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("session %s already started", s.key)
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	ec, err := s.execContext()
	if err != nil {
		return s.fail(err)
	}

	stdout, err := openOutput(s.config.StdoutPath)
	if err != nil {
		return s.fail(err)
	}
	defer closeOutput(stdout)

	stderr, err := openOutput(s.config.StderrPath)
	if err != nil {
		return s.fail(err)
	}
	defer closeOutput(stderr)

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-s.stopCh:
			timer.Stop()
			return nil
		case <-ctx.Done():
			timer.Stop()
			return s.fail(ctx.Err())
		}
	}

	cmd := ec.command(s.config.Command, s.config.Args)
	if stdout != nil {
		cmd.Stdout = stdout
	}
	if stderr != nil {
		cmd.Stderr = stderr
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if err := cmd.Start(); err != nil {
		s.err = &OpError{Op: OpSpawn, Target: s.config.Command, Err: errors.Join(ErrProcessSpawn, err)}
		s.mu.Unlock()
		s.logger.Warn("target spawn failed", "command", s.config.CommandLine(), "error", err)
		return s.err
	}
	s.cmd = cmd
	s.status = SessionInProgress
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("target started", "command", s.config.CommandLine(), "pid", cmd.Process.Pid)

	if block {
		s.wait(cmd)
		return nil
	}
	go s.wait(cmd)
	return nil
}

// execContext resolves identity, working directory and environment
func (s *Session) execContext() (ExecContext, error) {
	ec := ExecContext{
		Dir: s.config.Dir,
		Env: mergeEnv(os.Environ(), s.config.Env),
	}

	if s.config.User != "" {
		u, err := s.lookup(s.config.User)
		if err != nil {
			return ec, &OpError{Op: OpResolveUser, Target: s.config.User, Err: errors.Join(ErrConfiguration, err)}
		}
		if err := ec.setIdentity(u); err != nil {
			return ec, &OpError{Op: OpResolveUser, Target: s.config.User, Err: errors.Join(ErrConfiguration, err)}
		}
	}

	if ec.Dir != "" {
		info, err := os.Stat(ec.Dir)
		if err == nil && !info.IsDir() {
			err = fmt.Errorf("not a directory")
		}
		if err != nil {
			return ec, &OpError{Op: OpSpawn, Target: ec.Dir, Err: errors.Join(ErrConfiguration, err)}
		}
	}
	return ec, nil
}

// fail records a preparation error; the session stays Queued
func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.Warn("session not started", "error", err)
	return err
}

// wait reaps the process and fixes the exit code
func (s *Session) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := exitCodeOf(cmd.ProcessState)

	s.mu.Lock()
	s.exitCode = code
	s.status = SessionCompleted
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		s.err = err
	}
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()
	close(s.done)

	s.logger.Info("target exited", "exit_code", code, "elapsed", elapsed.Round(time.Millisecond))
}

// Stop terminates the process group and waits for the target to exit. It is
// safe to call on a session that never started or already finished, and a
// session stopped before starting never spawns.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	s.stopped = true
	cmd := s.cmd
	completed := s.status == SessionCompleted
	s.mu.Unlock()

	if cmd == nil || completed {
		return nil
	}

	pid := cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		return &OpError{Op: OpSignal, Target: s.config.Command, Err: err}
	}

	var grace <-chan time.Time
	if s.stopGrace > 0 {
		timer := time.NewTimer(s.stopGrace)
		defer timer.Stop()
		grace = timer.C
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-grace:
	}

	s.logger.Warn("target ignored SIGTERM, killing", "pid", pid, "grace", s.stopGrace)
	if err := killGroup(pid); err != nil {
		return &OpError{Op: OpSignal, Target: s.config.Command, Err: err}
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports Queued until a process exists, InProgress while it runs and
// Completed once an exit code has been observed. It never blocks on the process.
func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ExitCode returns the exit code once the session is Completed
func (s *Session) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != SessionCompleted {
		return 0, false
	}
	return s.exitCode, true
}

// Pid returns the target's process id, or 0 before it is spawned
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Err returns the error that kept the session from running, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the target process has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the target exits and returns its exit code
func (s *Session) Wait(ctx context.Context) (int, error) {
	s.mu.Lock()
	running := s.cmd != nil
	err := s.err
	s.mu.Unlock()

	if !running {
		if err != nil {
			return -1, fmt.Errorf("session %s not running: %w", s.key, err)
		}
		return -1, fmt.Errorf("session %s not running", s.key)
	}

	select {
	case <-s.done:
		code, _ := s.ExitCode()
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// openOutput opens a log destination for writing; an empty path yields nil,
// which leaves the target's stream on the null device
func openOutput(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, &OpError{Op: OpOpenLog, Target: path, Err: errors.Join(ErrConfiguration, err)}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FileMode)
	if err != nil {
		return nil, &OpError{Op: OpOpenLog, Target: path, Err: errors.Join(ErrConfiguration, err)}
	}
	return f, nil
}

func closeOutput(f *os.File) {
	if f != nil {
		_ = f.Close()
	}
}

// mergeEnv overrides base KEY=VALUE entries with overrides. Keys not present
// in base are appended in sorted order.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	seen := make(map[string]bool, len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := overrides[k]; ok {
			if !seen[k] {
				env = append(env, k+"="+v)
				seen[k] = true
			}
			continue
		}
		env = append(env, kv)
	}

	extra := make([]string, 0, len(overrides))
	for k := range overrides {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

package fapctl

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusString(t *testing.T) {
	assert.Equal(t, "queued", SessionQueued.String())
	assert.Equal(t, "in-progress", SessionInProgress.String())
	assert.Equal(t, "completed", SessionCompleted.String())
}

func TestNewSessionHasNoSideEffects(t *testing.T) {
	dir := t.TempDir()
	cfg := shell("exit 0")
	cfg.StdoutPath = filepath.Join(dir, "out")

	s := NewSession("1", cfg)
	assert.Equal(t, SessionQueued, s.Status())
	assert.Equal(t, "1", s.Key())
	assert.NotEmpty(t, s.RunID())
	assert.Zero(t, s.Pid())
	_, ok := s.ExitCode()
	assert.False(t, ok)
	assert.NoFileExists(t, cfg.StdoutPath)

	other := NewSession("1", cfg)
	assert.NotEqual(t, s.RunID(), other.RunID())
}

func TestSessionBlockingRunRecordsExitCode(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	cfg := shell("echo out; echo err >&2; exit 7")
	cfg.StdoutPath = filepath.Join(dir, "run.stdout")
	cfg.StderrPath = filepath.Join(dir, "run.stderr")

	s := NewSession("1", cfg)
	require.NoError(t, s.Start(context.Background(), 0, true))

	assert.Equal(t, SessionCompleted, s.Status())
	code, ok := s.ExitCode()
	require.True(t, ok)
	assert.Equal(t, 7, code)

	out, err := os.ReadFile(cfg.StdoutPath)
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))
	errOut, err := os.ReadFile(cfg.StderrPath)
	require.NoError(t, err)
	assert.Equal(t, "err\n", string(errOut))

	// Completed is terminal and the exit code is fixed
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, SessionCompleted, s.Status())
	code, _ = s.ExitCode()
	assert.Equal(t, 7, code)

	assert.Error(t, s.Start(context.Background(), 0, true), "second Start must fail")
}

func TestSessionNonBlockingStop(t *testing.T) {
	requireShell(t)

	s := NewSession("1", shell("exec sleep 30"))
	require.NoError(t, s.Start(context.Background(), 0, false))
	assert.Equal(t, SessionInProgress, s.Status())
	assert.Greater(t, s.Pid(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))

	assert.Equal(t, SessionCompleted, s.Status())
	code, ok := s.ExitCode()
	require.True(t, ok)
	assert.Equal(t, -15, code)

	code, err := s.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, -15, code)
}

func TestSessionStopGraceEscalates(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	cfg := shell(`trap "" TERM; echo ready; while :; do sleep 1; done`)
	cfg.StdoutPath = filepath.Join(dir, "trap.stdout")

	s := NewSession("1", cfg, WithStopGrace(200*time.Millisecond))
	require.NoError(t, s.Start(context.Background(), 0, false))
	waitForContent(t, cfg.StdoutPath, "ready")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	require.NoError(t, s.Stop(ctx))

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	code, ok := s.ExitCode()
	require.True(t, ok)
	assert.Equal(t, -9, code)
}

func TestSessionUnknownUserStaysQueued(t *testing.T) {
	dir := t.TempDir()
	cfg := shell("exit 0")
	cfg.User = "no-such-user-fapctl"
	cfg.StdoutPath = filepath.Join(dir, "out")
	cfg.StderrPath = filepath.Join(dir, "err")

	s := NewSession("1", cfg, WithUserLookup(func(string) (*user.User, error) {
		return nil, user.UnknownUserError("no-such-user-fapctl")
	}))
	err := s.Start(context.Background(), 0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, s.Err(), ErrConfiguration)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpResolveUser, opErr.Op)

	assert.Equal(t, SessionQueued, s.Status())
	assert.Zero(t, s.Pid())
	assert.NoFileExists(t, cfg.StdoutPath)
	assert.NoFileExists(t, cfg.StderrPath)

	_, err = s.Wait(context.Background())
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSessionMissingDirStaysQueued(t *testing.T) {
	dir := t.TempDir()
	cfg := shell("exit 0")
	cfg.Dir = filepath.Join(dir, "missing")
	cfg.StdoutPath = filepath.Join(dir, "out")

	s := NewSession("1", cfg)
	err := s.Start(context.Background(), 0, true)
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Equal(t, SessionQueued, s.Status())
	assert.NoFileExists(t, cfg.StdoutPath)
	require.NoError(t, s.Stop(context.Background()))
}

func TestSessionSpawnFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := ProfilingConfig{
		Command:    filepath.Join(dir, "does-not-exist"),
		StdoutPath: filepath.Join(dir, "out"),
	}

	s := NewSession("1", cfg)
	err := s.Start(context.Background(), 0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessSpawn)
	assert.Equal(t, SessionQueued, s.Status())

	// the file was opened before the spawn attempt and closed after it
	assert.FileExists(t, cfg.StdoutPath)
}

func TestSessionDirAndEnv(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	require.NoError(t, os.Mkdir(work, 0o755))

	cfg := shell(`echo "$FAPCTL_TEST_VAR"; pwd`)
	cfg.Dir = work
	cfg.Env = map[string]string{"FAPCTL_TEST_VAR": "overridden"}
	cfg.StdoutPath = filepath.Join(dir, "env.stdout")
	t.Setenv("FAPCTL_TEST_VAR", "inherited")

	s := NewSession("1", cfg)
	require.NoError(t, s.Start(context.Background(), 0, true))

	out, err := os.ReadFile(cfg.StdoutPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "overridden", lines[0])

	wantDir, err := filepath.EvalSymlinks(work)
	require.NoError(t, err)
	gotDir, err := filepath.EvalSymlinks(lines[1])
	require.NoError(t, err)
	assert.Equal(t, wantDir, gotDir)
}

func TestSessionCurrentUserByID(t *testing.T) {
	requireShell(t)

	current, err := user.Current()
	if err != nil {
		t.Skipf("current user unavailable: %v", err)
	}
	if current.Gid != strconv.Itoa(os.Getegid()) {
		t.Skip("primary group differs from effective group")
	}

	cfg := shell("exit 0")
	cfg.User = current.Uid

	s := NewSession("1", cfg)
	require.NoError(t, s.Start(context.Background(), 0, true))
	code, ok := s.ExitCode()
	require.True(t, ok)
	assert.Zero(t, code)
}

func TestSessionStopBeforeStartNeverSpawns(t *testing.T) {
	s := NewSession("1", shell("exit 0"))
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Start(context.Background(), 0, true))
	assert.Equal(t, SessionQueued, s.Status())
	assert.Zero(t, s.Pid())
}

func TestSessionStopDuringDelay(t *testing.T) {
	s := NewSession("1", shell("exit 0"))

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background(), time.Minute, true) }()

	// Start either sees the stop before or during the delay
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.Equal(t, SessionQueued, s.Status())
}

func TestSessionDelayHonorsContext(t *testing.T) {
	s := NewSession("1", shell("exit 0"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Start(ctx, time.Minute, true)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, SessionQueued, s.Status())
}

func TestLookupUser(t *testing.T) {
	current, err := user.Current()
	if err != nil {
		t.Skipf("current user unavailable: %v", err)
	}

	byID, err := LookupUser(current.Uid)
	require.NoError(t, err)
	assert.Equal(t, current.Username, byID.Username)

	byName, err := LookupUser(current.Username)
	require.NoError(t, err)
	assert.Equal(t, current.Uid, byName.Uid)
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1", "B=2", "PATH=/bin"}
	got := mergeEnv(base, map[string]string{"B": "two", "Z": "26", "C": "3"})
	assert.Equal(t, []string{"A=1", "B=two", "PATH=/bin", "C=3", "Z=26"}, got)

	assert.Equal(t, base, mergeEnv(base, nil))
}

func TestProfilingConfigCommandLine(t *testing.T) {
	cfg := ProfilingConfig{Command: "/usr/bin/ls", Args: []string{"-ltr", "/tmp"}}
	assert.Equal(t, "/usr/bin/ls -ltr /tmp", cfg.CommandLine())
	assert.Equal(t, "/bin/true", ProfilingConfig{Command: "/bin/true"}.CommandLine())
}

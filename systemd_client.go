package fapctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ClientSystemd controls a systemd unit through systemctl. It implements ServiceHandle.
type ClientSystemd struct {
	// ServiceName is the name of the systemd service (without .service suffix)
	ServiceName string

	// UseSudo indicates whether to use sudo for systemctl commands
	UseSudo bool

	// SudoCommand is the sudo command to use (default: "sudo")
	SudoCommand string

	// SystemctlPath is the path to systemctl binary
	SystemctlPath string

	// Timeout for systemctl operations
	Timeout time.Duration
}

// NewClientSystemd creates a new ClientSystemd for the specified service
func NewClientSystemd(serviceName string) *ClientSystemd {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return &ClientSystemd{
		ServiceName:   serviceName,
		UseSudo:       os.Geteuid() != 0,
		SudoCommand:   "sudo",
		SystemctlPath: "systemctl",
		Timeout:       DefaultServiceTimeout,
	}
}

// WithSudo configures sudo usage
func (c *ClientSystemd) WithSudo(use bool, command string) *ClientSystemd {
	c.UseSudo = use
	if command != "" {
		c.SudoCommand = command
	}
	return c
}

// WithTimeout sets the timeout for operations
func (c *ClientSystemd) WithTimeout(d time.Duration) *ClientSystemd {
	c.Timeout = d
	return c
}

// WithSystemctlPath overrides the systemctl binary
func (c *ClientSystemd) WithSystemctlPath(path string) *ClientSystemd {
	if path != "" {
		c.SystemctlPath = path
	}
	return c
}

// unit returns the full unit name
func (c *ClientSystemd) unit() string {
	return c.ServiceName + ".service"
}

// execSystemctl executes a systemctl command with optional sudo. Stdout is
// returned even when systemctl exits non-zero, since status verbs report
// through the exit code.
func (c *ClientSystemd) execSystemctl(ctx context.Context, args ...string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	fullArgs := append(args, c.unit())

	var cmd *exec.Cmd
	if c.UseSudo {
		sudoArgs := append([]string{c.SystemctlPath}, fullArgs...)
		cmd = exec.CommandContext(ctx, c.SudoCommand, sudoArgs...)
	} else {
		cmd = exec.CommandContext(ctx, c.SystemctlPath, fullArgs...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// Start starts the service
func (c *ClientSystemd) Start(ctx context.Context) error {
	if _, err := c.execSystemctl(ctx, "start"); err != nil {
		return &OpError{Op: OpStart, Target: c.unit(), Err: err}
	}
	return nil
}

// Stop stops the service
func (c *ClientSystemd) Stop(ctx context.Context) error {
	if _, err := c.execSystemctl(ctx, "stop"); err != nil {
		return &OpError{Op: OpStop, Target: c.unit(), Err: err}
	}
	return nil
}

// Restart restarts the service
func (c *ClientSystemd) Restart(ctx context.Context) error {
	if _, err := c.execSystemctl(ctx, "restart"); err != nil {
		return &OpError{Op: OpStart, Target: c.unit(), Err: err}
	}
	return nil
}

// IsActive checks if the service is currently active
func (c *ClientSystemd) IsActive(ctx context.Context) (bool, error) {
	output, err := c.execSystemctl(ctx, "is-active")
	if err != nil {
		// systemctl returns exit code 3 when service is not active
		// This is not really an error, just a status
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 3 {
			return false, nil
		}
		return false, &OpError{Op: OpIsActive, Target: c.unit(), Err: err}
	}

	return strings.TrimSpace(output) == "active", nil
}

// IsValid reports whether systemd has the unit loaded
func (c *ClientSystemd) IsValid(ctx context.Context) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.LoadState == "loaded", nil
}

// Status returns the status of the service
func (c *ClientSystemd) Status(ctx context.Context) (*StatusSystemd, error) {
	output, err := c.execSystemctl(ctx, "show", "--no-page")
	if err != nil {
		return nil, &OpError{Op: OpIsActive, Target: c.unit(), Err: err}
	}
	return parseSystemdShow(output), nil
}

// parseSystemdShow parses the key=value output of systemctl show
func parseSystemdShow(output string) *StatusSystemd {
	status := &StatusSystemd{
		Properties: make(map[string]string),
	}

	for _, line := range strings.Split(output, "\n") {
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		status.Properties[key] = value

		switch key {
		case "ActiveState":
			status.ActiveState = value
		case "SubState":
			status.SubState = value
		case "LoadState":
			status.LoadState = value
		case "MainPID":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				status.MainPID = pid
			}
		case "Result":
			status.Result = value
		}
	}

	status.Running = status.ActiveState == "active" && status.SubState == "running"
	return status
}

// StatusSystemd represents the status of a systemd service
type StatusSystemd struct {
	// ActiveState is the active state (active, inactive, failed, etc.)
	ActiveState string

	// SubState is the sub state (running, dead, exited, etc.)
	SubState string

	// LoadState is the load state (loaded, not-found, error, etc.)
	LoadState string

	// Running indicates if the service is currently running
	Running bool

	// MainPID is the main process ID (0 if not running)
	MainPID int

	// Result is the result of the last run (success, exit-code, signal, etc.)
	Result string

	// Properties contains all properties returned by systemctl show
	Properties map[string]string
}

// String returns a human-readable status string
func (s *StatusSystemd) String() string {
	if s.Running {
		return fmt.Sprintf("running (pid %d)", s.MainPID)
	}
	return fmt.Sprintf("%s/%s", s.ActiveState, s.SubState)
}

// ServiceStatus maps the systemd active state onto a ServiceStatus
func (s *StatusSystemd) ServiceStatus() ServiceStatus {
	switch s.ActiveState {
	case "":
		return StatusUnknown
	case "active":
		return StatusActive
	default:
		return StatusInactive
	}
}

var _ ServiceHandle = (*ClientSystemd)(nil)

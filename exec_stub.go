//go:build !linux && !darwin

package fapctl

import (
	"errors"
	"os"
	"os/exec"
	"os/user"
)

// ExecContext is the identity, directory and environment a target process is
// spawned under.
type ExecContext struct {
	Dir string
	Env []string
}

func (ec ExecContext) command(name string, args []string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = ec.Dir
	cmd.Env = ec.Env
	return cmd
}

var errUnsupported = errors.New("profiling sessions not supported on this platform")

// setIdentity - identity switching is not supported on this platform
func (ec *ExecContext) setIdentity(_ *user.User) error {
	return errUnsupported
}

func terminateGroup(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func killGroup(pid int) error { return terminateGroup(pid) }

func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}

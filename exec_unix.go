//go:build linux || darwin

package fapctl

import (
	"errors"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// ExecContext is the identity, directory and environment a target process is
// spawned under. It is resolved from a ProfilingConfig before anything is opened.
type ExecContext struct {
	// Credential is nil when the target runs as the calling identity
	Credential *syscall.Credential
	// Dir is the working directory; empty inherits the caller's
	Dir string
	// Env is the complete environment of the target
	Env []string
}

// command builds an exec.Cmd for the context. The target leads its own
// process group so Stop can signal everything it forks.
func (ec ExecContext) command(name string, args []string) *exec.Cmd {
	cmd := exec.Command(name, args...)
	cmd.Dir = ec.Dir
	cmd.Env = ec.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:    true,
		Credential: ec.Credential,
	}
	return cmd
}

// setIdentity switches the context to run as u
func (ec *ExecContext) setIdentity(u *user.User) error {
	cred, err := credentialFor(u)
	if err != nil {
		return err
	}
	ec.Credential = cred
	return nil
}

// credentialFor converts a resolved user into a Credential, or nil when it
// matches the current identity.
func credentialFor(u *user.User) (*syscall.Credential, error) {
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, err
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, err
	}
	if int(uid) == os.Geteuid() && int(gid) == os.Getegid() {
		return nil, nil
	}

	cred := &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}
	if groupIDs, err := u.GroupIds(); err == nil {
		for _, g := range groupIDs {
			if id, err := strconv.ParseUint(g, 10, 32); err == nil {
				cred.Groups = append(cred.Groups, uint32(id))
			}
		}
	}
	return cred, nil
}

// signalGroup delivers sig to the process group led by pid
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func terminateGroup(pid int) error { return signalGroup(pid, unix.SIGTERM) }

func killGroup(pid int) error { return signalGroup(pid, unix.SIGKILL) }

// exitCodeOf reports the exit status, or the negated signal number when the
// process was killed by a signal
func exitCodeOf(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

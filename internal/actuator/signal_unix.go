//go:build !windows

package actuator

import (
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"syscall"
)

// SignalActuator controls processes with POSIX signals: SIGSTOP to suspend,
// SIGCONT to restore, SIGKILL to terminate. SIGKILL cannot be caught, so a
// protected app gets no chance to intercept its own termination.
type SignalActuator struct {
	// RelaunchCommand, when non-empty, is invoked with the display name
	// appended to start a fresh instance ("open -a" on macOS).
	RelaunchCommand []string
}

// NewSignalActuator returns an actuator with a platform default relaunch
// command where one exists.
func NewSignalActuator() *SignalActuator {
	a := &SignalActuator{}
	if runtime.GOOS == "darwin" {
		a.RelaunchCommand = []string{"open", "-a"}
	}
	return a
}

func (a *SignalActuator) Suspend(pid int) error {
	return signalChecked(pid, syscall.SIGSTOP)
}

func (a *SignalActuator) Restore(pid int) error {
	return signalChecked(pid, syscall.SIGCONT)
}

func (a *SignalActuator) Terminate(pid int) error {
	return signalChecked(pid, syscall.SIGKILL)
}

func (a *SignalActuator) Relaunch(displayName string) error {
	if len(a.RelaunchCommand) == 0 {
		slog.Debug("relaunch not configured on this platform", "name", displayName)
		return nil
	}
	name := a.RelaunchCommand[0]
	args := append(append([]string(nil), a.RelaunchCommand[1:]...), displayName)
	// #nosec G204 -- relaunch command comes from operator config
	if err := exec.Command(name, args...).Run(); err != nil {
		return fmt.Errorf("relaunch %q: %w", displayName, err)
	}
	return nil
}

func (a *SignalActuator) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}

func signalChecked(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if err := syscall.Kill(pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("pid %d already gone: %w", pid, err)
		}
		return fmt.Errorf("signal %s to pid %d: %w", strings.ToUpper(sig.String()), pid, err)
	}
	return nil
}

//go:build windows

package actuator

import (
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
	stillActive             = 259
)

// SignalActuator on Windows can terminate and probe processes but has no
// stop/continue signal equivalent, so Suspend falls back to Terminate
// (the session then relaunches on success via Relaunch).
type SignalActuator struct {
	RelaunchCommand []string
}

func NewSignalActuator() *SignalActuator {
	return &SignalActuator{RelaunchCommand: []string{"cmd", "/c", "start", ""}}
}

func (a *SignalActuator) Suspend(pid int) error { return a.Terminate(pid) }

func (a *SignalActuator) Restore(pid int) error {
	slog.Debug("restore is a no-op on windows", "pid", pid)
	return nil
}

func (a *SignalActuator) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	h, _, _ := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(pid))
	if h == 0 {
		return fmt.Errorf("open process %d failed", pid)
	}
	defer func() { _, _, _ = procCloseHandle.Call(h) }()
	ret, _, _ := procTerminateProcess.Call(h, 1)
	if ret == 0 {
		return fmt.Errorf("terminate process %d failed", pid)
	}
	return nil
}

func (a *SignalActuator) Relaunch(displayName string) error {
	if len(a.RelaunchCommand) == 0 {
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
	h, err := syscall.OpenProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

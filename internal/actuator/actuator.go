// Package actuator abstracts the process-control actions the coordinator
// needs: neutralize a process, bring it back, or remove it. Implementations
// must tolerate the target disappearing between calls; every method may be
// invoked on an already-dead PID.
package actuator

// Actuator performs control actions on observed processes. All errors are
// non-fatal to the caller: the coordinator logs them and proceeds, except
// that Alive returning false short-circuits the session.
type Actuator interface {
	// Suspend neutralizes the process so no window or output reaches the
	// user while verification is pending.
	Suspend(pid int) error
	// Restore undoes Suspend and hands the process back to the user.
	Restore(pid int) error
	// Terminate forcefully removes the process.
	Terminate(pid int) error
	// Relaunch starts a fresh instance for the given display name. Used
	// when the configured policy terminates on suspend instead of stopping.
	Relaunch(displayName string) error
	// Alive reports whether the process still exists.
	Alive(pid int) bool
}

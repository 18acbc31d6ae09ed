//go:build !windows

package resilience

import "golang.org/x/sys/unix"

// isProcessAlive probes pid with signal 0. EPERM means it exists under
// another user.
func isProcessAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

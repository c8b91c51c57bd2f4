//go:build linux || darwin || freebsd

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Detach starts a copy of the running binary in a new session with no
// controlling terminal, working directory "/" and stdio bound to the null
// device. The caller is expected to exit once Detach returns.
func Detach(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, args...)
	cmd.Env = childEnviron()
	cmd.Dir = "/"
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start detached process: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release detached process: %w", err)
	}
	return pid, nil
}

// Prepare finishes detachment inside the child: clear the file mode mask,
// move to "/" and confirm the process leads its own session.
func Prepare() error {
	unix.Umask(0)
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	sid, err := unix.Getsid(0)
	if err != nil {
		return fmt.Errorf("getsid: %w", err)
	}
	if sid != unix.Getpid() {
		return fmt.Errorf("process %d is not a session leader (sid %d)", unix.Getpid(), sid)
	}
	return nil
}

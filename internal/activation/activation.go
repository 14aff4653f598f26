// Package activation supports systemd socket activation for the
// webhook server.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Listener returns the first systemd-activated listener, or nil when
// no socket activation is in effect for this process. The LISTEN_*
// environment variables are unset afterwards so child processes (the
// git invocations) do not inherit them.
func Listener() (net.Listener, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return nil, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		// Activation aimed at a different process.
		return nil, nil
	}

	numFDs, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || numFDs < 1 {
		return nil, nil
	}

	defer func() {
		_ = os.Unsetenv("LISTEN_PID")
		_ = os.Unsetenv("LISTEN_FDS")
		_ = os.Unsetenv("LISTEN_FDNAMES")
	}()

	// systemd passes sockets starting at fd 3. Only the first one is
	// used; the server binds a single address.
	const firstFD = 3
	file := os.NewFile(uintptr(firstFD), "systemd-socket-0")
	if file == nil {
		return nil, fmt.Errorf("failed to open activation fd %d", firstFD)
	}
	defer func() {
		_ = file.Close()
	}()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", firstFD, err)
	}
	return ln, nil
}

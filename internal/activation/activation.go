// Package activation picks up sockets passed in by systemd socket
// activation (sd_listen_fds protocol).
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// firstFD is the first passed descriptor; 0-2 are stdio
const firstFD = 3

// Listeners returns the sockets systemd activated this process with, or
// nil when the process was not socket-activated. The activation variables
// are removed from the environment once they have been consumed.
func Listeners() ([]net.Listener, error) {
	n, err := activatedFDs(os.Getenv("LISTEN_PID"), os.Getenv("LISTEN_FDS"), os.Getpid())
	if err != nil || n == 0 {
		return nil, err
	}
	defer unsetEnv()

	files := make([]*os.File, 0, n)
	for i := 0; i < n; i++ {
		fd := firstFD + i
		f := os.NewFile(uintptr(fd), "systemd-socket-"+strconv.Itoa(i))
		if f == nil {
			closeAll(files)
			return nil, fmt.Errorf("failed to create file for fd %d", fd)
		}
		files = append(files, f)
	}

	return fileListeners(files)
}

// activatedFDs parses the activation variables. It returns 0 when they are
// absent or address another process.
func activatedFDs(pidStr, fdsStr string, self int) (int, error) {
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != self {
		return 0, nil
	}

	if fdsStr == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: negative count", fdsStr)
	}
	return n, nil
}

// fileListeners converts files to listeners. The files are always closed;
// each listener holds its own duplicate of the descriptor.
func fileListeners(files []*os.File) ([]net.Listener, error) {
	defer closeAll(files)

	listeners := make([]net.Listener, 0, len(files))
	for _, f := range files {
		l, err := net.FileListener(f)
		if err != nil {
			for _, done := range listeners {
				_ = done.Close()
			}
			return nil, fmt.Errorf("failed to create listener from %s: %w", f.Name(), err)
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// unsetEnv keeps child processes from inheriting the activation
func unsetEnv() {
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")
}

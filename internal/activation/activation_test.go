package activation

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestActivatedFDs(t *testing.T) {
	const self = 4242

	tests := []struct {
		name    string
		pid     string
		fds     string
		want    int
		wantErr bool
	}{
		{name: "not activated", pid: "", fds: "", want: 0},
		{name: "other process", pid: "99999", fds: "1", want: 0},
		{name: "this process", pid: "4242", fds: "2", want: 2},
		{name: "no fds", pid: "4242", fds: "", want: 0},
		{name: "zero fds", pid: "4242", fds: "0", want: 0},
		{name: "invalid pid", pid: "not-a-number", fds: "1", wantErr: true},
		{name: "invalid fds", pid: "4242", fds: "not-a-number", wantErr: true},
		{name: "negative fds", pid: "4242", fds: "-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := activatedFDs(tt.pid, tt.fds, self)
			if (err != nil) != tt.wantErr {
				t.Fatalf("activatedFDs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("activatedFDs() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestListeners_NoEnvironment(t *testing.T) {
	t.Setenv("LISTEN_PID", "")
	t.Setenv("LISTEN_FDS", "")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners when no env vars set, got %v", listeners)
	}
}

func TestListeners_WrongPID(t *testing.T) {
	t.Setenv("LISTEN_PID", "99999")
	t.Setenv("LISTEN_FDS", "1")

	listeners, err := Listeners()
	if err != nil {
		t.Fatalf("Listeners() unexpected error: %v", err)
	}
	if listeners != nil {
		t.Errorf("expected nil listeners when PID doesn't match, got %v", listeners)
	}
	if os.Getenv("LISTEN_FDS") != "1" {
		t.Error("activation meant for another process must be left in the environment")
	}
}

func TestListeners_InvalidFDS(t *testing.T) {
	t.Setenv("LISTEN_PID", strconv.Itoa(os.Getpid()))
	t.Setenv("LISTEN_FDS", "not-a-number")

	if _, err := Listeners(); err == nil {
		t.Error("expected error for invalid LISTEN_FDS, got nil")
	}
}

func TestFileListeners(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer func() {
		_ = ln.Close()
	}()

	file, err := ln.(*net.TCPListener).File()
	if err != nil {
		t.Fatalf("failed to get listener file: %v", err)
	}

	listeners, err := fileListeners([]*os.File{file})
	if err != nil {
		t.Fatalf("fileListeners() error: %v", err)
	}
	if len(listeners) != 1 {
		t.Fatalf("expected 1 listener, got %d", len(listeners))
	}
	defer func() {
		_ = listeners[0].Close()
	}()

	if got, want := listeners[0].Addr().String(), ln.Addr().String(); got != want {
		t.Errorf("listener address = %s, want %s", got, want)
	}

	// The duplicate accepts connections made to the original address
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = conn.Close()
}

func TestFileListeners_NotASocket(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "plain"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := fileListeners([]*os.File{f}); err == nil {
		t.Fatal("expected error for a regular file")
	}
}

// Example demonstrates how socket activation detection works
func ExampleListeners() {
	listeners, err := Listeners()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	if listeners == nil {
		fmt.Println("No socket activation detected")
	} else {
		fmt.Printf("Received %d systemd socket(s)\n", len(listeners))
	}
}

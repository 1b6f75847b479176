package terminal

import (
	"os"
	"os/signal"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"
)

// openTTY returns a usable terminal fd for tests, or ok=false if none
// is available (e.g. CI running with no controlling tty).
func openTTY(t *testing.T) (int, bool) {
	t.Helper()
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return 0, false
	}
	t.Cleanup(func() { f.Close() })
	return int(f.Fd()), true
}

func TestNewNonInteractiveOnNonTTY(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	c, err := New(int(r.Fd()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Interactive() {
		t.Fatalf("expected a pipe fd to be treated as non-interactive")
	}
	if err := c.SetForeground(123); err != nil {
		t.Errorf("SetForeground on non-interactive controller should no-op, got: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on non-interactive controller should no-op, got: %v", err)
	}
}

func TestNewInteractiveClaimsForeground(t *testing.T) {
	fd, ok := openTTY(t)
	if !ok {
		t.Skip("no controlling tty available")
	}

	c, err := New(fd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if !c.Interactive() {
		t.Fatalf("expected a real tty to be treated as interactive")
	}
	fg, err := tcgetpgrp(fd)
	if err != nil {
		t.Fatalf("tcgetpgrp: %v", err)
	}
	if fg != c.ShellPgid() {
		t.Errorf("foreground pgid; actual: %d, expected: %d", fg, c.ShellPgid())
	}
	if c.ShellTermios() == nil {
		t.Errorf("expected ShellTermios to be captured")
	}
}

func TestBracketChildSignalsResetsAndReIgnores(t *testing.T) {
	fd, ok := openTTY(t)
	if !ok {
		t.Skip("no controlling tty available")
	}
	c, err := New(fd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	called := false
	resetDuring := false
	if err := c.BracketChildSignals(func() error {
		called = true
		resetDuring = !signal.Ignored(syscall.SIGTTOU)
		return nil
	}); err != nil {
		t.Fatalf("BracketChildSignals: %v", err)
	}
	if !called {
		t.Fatalf("expected fn to run")
	}
	if !resetDuring {
		t.Errorf("expected SIGTTOU at its default disposition while fn runs")
	}
	// SIGTTOU should be ignored again once BracketChildSignals returns;
	// a background write would otherwise stop this process.
	if !signal.Ignored(syscall.SIGTTOU) {
		t.Errorf("expected SIGTTOU to be ignored again after BracketChildSignals returns")
	}
	if err := unix.Kill(0, 0); err != nil {
		t.Fatalf("process unexpectedly gone: %v", err)
	}
}

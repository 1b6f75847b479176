// Package terminal owns the shell's controlling terminal: the startup
// handshake that claims the foreground process group, the canonical
// termios saved at that point, and the handful of signal dispositions
// the shell itself must ignore so it is never stopped or backgrounded
// by its own tty.
package terminal

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/prince781/pcfsh/internal/errors"
)

// ignoredSignals are the job-control signals an interactive shell must
// not receive itself.
var ignoredSignals = []os.Signal{
	syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTSTP, syscall.SIGTTIN, syscall.SIGTTOU,
}

// Controller holds the shell's terminal-control state as a single
// process-wide context with explicit init, passed by reference rather
// than read off ambient globals.
type Controller struct {
	fd          int
	pgid        int
	termios     *unix.Termios
	interactive bool

	sigchld chan os.Signal
	done    chan struct{}
}

// New performs the foreground-claiming handshake against fd, the
// shell's input file descriptor. If fd is not a tty, New returns a
// non-interactive Controller without claiming anything: SetForeground
// and Close then do nothing, BracketChildSignals just runs its
// function, and no SIGCHLD watcher is started. Signal still delivers
// the signal.
func New(fd int) (*Controller, error) {
	c := &Controller{fd: fd}

	if _, err := unix.IoctlGetTermios(fd, unix.TCGETS); err != nil {
		return c, nil
	}
	c.interactive = true

	mypg, err := unix.Getpgid(0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	for {
		fg, err := tcgetpgrp(fd)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if fg == mypg {
			break
		}
		unix.Kill(-mypg, syscall.SIGTTIN)
	}

	signal.Ignore(ignoredSignals...)

	if err := unix.Setpgid(0, 0); err != nil {
		return nil, errors.WithStack(err)
	}
	pgid, err := unix.Getpgid(0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.pgid = pgid

	if err := tcsetpgrp(fd, pgid); err != nil {
		return nil, errors.WithStack(err)
	}

	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	c.termios = termios

	c.sigchld = make(chan os.Signal, 4)
	c.done = make(chan struct{})
	signal.Notify(c.sigchld, syscall.SIGCHLD)
	go c.watchSIGCHLD()

	return c, nil
}

// Interactive reports whether the Controller claimed a real tty.
func (c *Controller) Interactive() bool { return c.interactive }

// ShellPgid is the shell's own process group, established at New.
func (c *Controller) ShellPgid() int { return c.pgid }

// ShellTermios is the termios captured at New, the baseline every job
// hand-back restores.
func (c *Controller) ShellTermios() *unix.Termios { return c.termios }

// SetForeground makes pgid the terminal's foreground process group.
func (c *Controller) SetForeground(pgid int) error {
	if !c.interactive {
		return nil
	}
	return errors.WithStack(tcsetpgrp(c.fd, pgid))
}

// Signal sends sig to the process group pgid.
func (c *Controller) Signal(pgid, sig int) error {
	return errors.WithStack(unix.Kill(-pgid, syscall.Signal(sig)))
}

// SaveTermios captures the current termios on the shell's fd.
func (c *Controller) SaveTermios() (*unix.Termios, error) {
	t, err := unix.IoctlGetTermios(c.fd, unix.TCGETS)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return t, nil
}

// RestoreTermios applies t with TCSADRAIN semantics: let queued output
// drain first, before the new settings take effect.
func (c *Controller) RestoreTermios(t *unix.Termios) error {
	if t == nil {
		return nil
	}
	return errors.WithStack(unix.IoctlSetTermios(c.fd, unix.TCSETSW, t))
}

// ChildSysProcAttr builds the SysProcAttr that makes the kernel join
// (or start) the job's process group and, if this process is entering
// the foreground, take the controlling terminal, atomically around
// fork+exec. pgid == 0 makes the new process its own group leader (the
// first process of a job); any other value joins that group.
func (c *Controller) ChildSysProcAttr(pgid int, foreground bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    pgid,
	}
	if c.interactive && foreground {
		attr.Foreground = true
		attr.Ctty = c.fd
	}
	return attr
}

// BracketChildSignals runs fn with the shell's ignored job-control
// signals reset to their default disposition, then re-ignores them, so
// a forked child inherits defaults rather than the shell's ignore list.
// Go gives no hook to run arbitrary code in a child between fork and
// exec, so the reset necessarily applies process-wide for the brief
// window around Cmd.Start, not just to the forked child.
func (c *Controller) BracketChildSignals(fn func() error) error {
	if !c.interactive {
		return fn()
	}
	signal.Reset(ignoredSignals...)
	defer signal.Ignore(ignoredSignals...)
	return fn()
}

// Close stops the SIGCHLD watcher and restores the shell's termios. It
// is a no-op for a non-interactive Controller.
func (c *Controller) Close() error {
	if !c.interactive {
		return nil
	}
	close(c.done)
	signal.Stop(c.sigchld)
	return c.RestoreTermios(c.termios)
}

// watchSIGCHLD reasserts ownership of the terminal when it has drifted
// away from the shell. Go's os/signal cannot report CLD_CONTINUED, so
// instead of trusting the signal's cause this probes whether the
// foreground group is still alive; a continued job is still alive and
// is left alone.
func (c *Controller) watchSIGCHLD() {
	for {
		select {
		case <-c.done:
			return
		case <-c.sigchld:
			fg, err := tcgetpgrp(c.fd)
			if err != nil || fg == c.pgid {
				continue
			}
			if err := unix.Kill(-fg, 0); err == unix.ESRCH {
				tcsetpgrp(c.fd, c.pgid)
			}
		}
	}
}

// tcgetpgrp and tcsetpgrp wrap TIOCGPGRP/TIOCSPGRP directly: unlike the
// BSDs, golang.org/x/sys/unix does not expose Tcgetpgrp/Tcsetpgrp on
// linux, so the ioctls are issued by hand the way most Go terminal
// control code does.
func tcgetpgrp(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCGPGRP)
}

func tcsetpgrp(fd, pgid int) error {
	return unix.IoctlSetPointerInt(fd, unix.TIOCSPGRP, pgid)
}

// Package job implements the job table and reaper: the state machine
// that tracks every running pipeline through Running/Stopped/Finished
// transitions, the non-blocking and blocking waitpid loops that drive
// it, and the foreground/background/continue terminal handoffs.
package job

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/prince781/pcfsh/internal/errors"
)

// Status is the lifecycle state of a Proc, or the state derived for a
// whole Job from its Procs.
type Status int

const (
	Running Status = iota
	Stopped
	Finished
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Finished:
		return "done"
	default:
		return "unknown"
	}
}

// Proc is one process within a Job. Built-ins run in-process and never
// fork: HasPID is false and Status starts Finished.
type Proc struct {
	PID      int
	HasPID   bool
	Argv     []string
	Status   Status
	ExitCode int
	// Signal is the terminating signal number, set only when the
	// process was killed by a signal rather than exiting normally.
	Signal int
}

func (p *Proc) Name() string {
	if len(p.Argv) == 0 {
		return ""
	}
	return p.Argv[0]
}

// NewBuiltinProc returns a Proc for a built-in invocation: it never
// forks, so it starts (and stays) Finished.
func NewBuiltinProc(argv []string, exitCode int) *Proc {
	return &Proc{Argv: argv, Status: Finished, ExitCode: exitCode}
}

// NewExternalProc returns a Proc for a forked child.
func NewExternalProc(pid int, argv []string) *Proc {
	return &Proc{PID: pid, HasPID: true, Argv: argv, Status: Running}
}

// NewFailedProc returns a Proc for a pipeline stage whose exec failed
// before any child existed to fork: like a built-in, it never forks,
// so it starts (and stays) Finished, carrying the diagnostic exit code
// a shell conventionally reports for a command that could not run.
func NewFailedProc(argv []string, exitCode int) *Proc {
	return &Proc{Argv: argv, Status: Finished, ExitCode: exitCode}
}

// Job is one executing pipeline, tracked as a unit for signal delivery
// and terminal control. Pgid is the pid of the first forked Proc
// (the group leader), or 0 if every Proc in the job is a built-in.
type Job struct {
	ID         uuid.UUID
	Pgid       int
	Procs      []*Proc
	StdinFD    int
	StdoutFD   int
	StderrFD   int
	Background bool
	Notified   bool
	CmdLine    string
	// Tmodes is the job's own terminal state, captured when it last
	// held the foreground, so a later `fg` resumes with the modes the
	// job itself left behind rather than the shell's.
	Tmodes *unix.Termios
}

// NewJob returns a Job with no Procs yet. Notified starts true: the
// notified flag only tracks changes since the job was last reported,
// and a freshly launched job has not changed from anything yet.
func NewJob(cmdline string, background bool) *Job {
	return &Job{
		ID:         uuid.New(),
		CmdLine:    cmdline,
		Background: background,
		Notified:   true,
		StdinFD:    -1,
		StdoutFD:   -1,
		StderrFD:   -1,
	}
}

// Status derives the Job's state from its Procs: Finished iff every
// Proc is Finished; Stopped iff every Proc is Stopped or Finished (and
// not all Finished); otherwise Running.
func (j *Job) Status() Status {
	allFinished := true
	allStoppedOrFinished := true
	for _, p := range j.Procs {
		if p.Status != Finished {
			allFinished = false
		}
		if p.Status != Stopped && p.Status != Finished {
			allStoppedOrFinished = false
		}
	}
	if allFinished {
		return Finished
	}
	if allStoppedOrFinished {
		return Stopped
	}
	return Running
}

// Terminal is the subset of controlling-terminal operations the job
// table needs to hand the tty to a job and take it back.
// internal/terminal.Controller implements it; tests supply a fake so
// this package never needs a real tty to exercise its state machine.
type Terminal interface {
	// SetForeground makes pgid the terminal's foreground process group.
	SetForeground(pgid int) error
	// Signal sends sig to the process group pgid.
	Signal(pgid, sig int) error
	SaveTermios() (*unix.Termios, error)
	RestoreTermios(t *unix.Termios) error
	ShellPgid() int
	ShellTermios() *unix.Termios
}

// Table is the ordered collection of Jobs, most-recently-added first,
// indexed 1..N for display.
type Table struct {
	mu   sync.Mutex
	jobs []*Job
	out  io.Writer
}

// NewTable returns an empty Table. Notifications and signaled-child
// messages are written to out; a nil out discards them.
func NewTable(out io.Writer) *Table {
	return &Table{out: out}
}

// Add prepends j to the table, making it id 1.
func (t *Table) Add(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.jobs = append([]*Job{j}, t.jobs...)
}

// Remove deletes j from the table by identity. It does not close j's
// file descriptors; call Close first if needed.
func (t *Table) Remove(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.jobs {
		if cur == j {
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			return
		}
	}
}

// Jobs returns a snapshot of the table in display order.
func (t *Table) Jobs() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Job, len(t.jobs))
	copy(out, t.jobs)
	return out
}

// ID returns j's 1-based display index, or 0 if j is not in the table.
func (t *Table) ID(j *Job) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.jobs {
		if cur == j {
			return i + 1
		}
	}
	return 0
}

// ByID returns the job at 1-based display index id, or nil if out of
// range.
func (t *Table) ByID(id int) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 1 || id > len(t.jobs) {
		return nil
	}
	return t.jobs[id-1]
}

// Most returns the most recently added job, or nil if the table is
// empty.
func (t *Table) Most() *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.jobs) == 0 {
		return nil
	}
	return t.jobs[0]
}

// Close releases j's owned file descriptors: every fd other than the
// shell's inherited 0/1/2.
func (j *Job) Close() {
	closeOwned(j.StdinFD)
	closeOwned(j.StdoutFD)
	closeOwned(j.StderrFD)
}

func closeOwned(fd int) {
	if fd > 2 {
		unix.Close(fd)
	}
}

type signaledEvent struct {
	job *Job
	pid int
	sig int
}

// apply locates the Proc owning pid across every job and applies the
// waitpid status transition. It returns a non-nil event only when the
// Proc was terminated by a signal, for the caller to report once the
// table lock is released.
func (t *Table) apply(pid int, ws unix.WaitStatus) *signaledEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		for _, p := range j.Procs {
			if !p.HasPID || p.PID != pid {
				continue
			}
			switch {
			case ws.Stopped():
				p.Status = Stopped
			case ws.Continued():
				p.Status = Running
			case ws.Signaled():
				p.Status = Finished
				p.Signal = int(ws.Signal())
			case ws.Exited():
				p.Status = Finished
				p.ExitCode = ws.ExitStatus()
			}
			j.Notified = false
			if p.Signal != 0 && p.Status == Finished {
				return &signaledEvent{job: j, pid: pid, sig: p.Signal}
			}
			return nil
		}
	}
	return nil
}

func (t *Table) reportSignaled(ev *signaledEvent) {
	if ev == nil || t.out == nil {
		return
	}
	fmt.Fprintf(t.out, "[%d] %s %d Terminated by signal %d.\n", t.ID(ev.job), ev.job.ID, ev.pid, ev.sig)
}

// Reap performs one non-blocking sweep over every exited, stopped, or
// continued child and applies the corresponding transitions. It never
// blocks: a single waitpid(WNOHANG) returning "nothing ready" or ECHILD
// ends the sweep.
func (t *Table) Reap() error {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if err == unix.ECHILD {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if pid <= 0 {
			return nil
		}
		t.reportSignaled(t.apply(pid, ws))
	}
}

// Wait blocks until target is fully Stopped or fully Finished. Each
// waitpid report is applied to whichever Proc it names, across every
// job in the table: a background job can stop or die while a
// foreground job is being waited on.
func (t *Table) Wait(target *Job) error {
	for {
		switch target.Status() {
		case Stopped, Finished:
			return nil
		}
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WUNTRACED, nil)
		if err == unix.EINTR {
			continue
		}
		if err == unix.ECHILD {
			return nil
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if pid <= 0 {
			continue
		}
		t.reportSignaled(t.apply(pid, ws))
	}
}

// ForegroundEnter hands the terminal to j and waits for it to stop or
// finish, then restores the shell as the foreground process group.
// When continuing, it restores j's own saved termios first and sends
// SIGCONT to the whole group.
func (t *Table) ForegroundEnter(term Terminal, j *Job, continuing bool) error {
	if err := term.SetForeground(j.Pgid); err != nil {
		return errors.WithStack(err)
	}
	if continuing {
		if j.Tmodes != nil {
			if err := term.RestoreTermios(j.Tmodes); err != nil {
				return errors.WithStack(err)
			}
		}
		if err := term.Signal(j.Pgid, int(unix.SIGCONT)); err != nil {
			return errors.WithStack(err)
		}
	}
	if err := t.Wait(j); err != nil {
		return err
	}
	if tmodes, err := term.SaveTermios(); err == nil {
		j.Tmodes = tmodes
	}
	if err := term.RestoreTermios(term.ShellTermios()); err != nil {
		return errors.WithStack(err)
	}
	return term.SetForeground(term.ShellPgid())
}

// BackgroundEnter leaves terminal control untouched. When continuing a
// stopped job, it sends SIGCONT to the group.
func (t *Table) BackgroundEnter(term Terminal, j *Job, continuing bool) error {
	if !continuing {
		return nil
	}
	return term.Signal(j.Pgid, int(unix.SIGCONT))
}

// Continue clears Stopped on every Proc and dispatches to foreground
// or background entry with SIGCONT.
func (t *Table) Continue(term Terminal, j *Job, background bool) error {
	for _, p := range j.Procs {
		if p.Status == Stopped {
			p.Status = Running
		}
	}
	j.Notified = false
	if background {
		return t.BackgroundEnter(term, j, true)
	}
	return t.ForegroundEnter(term, j, true)
}

// Notify reaps, reconciles jobs whose process group has silently
// vanished, then walks the table in display order: a finished job is
// removed, and reported first only if it ran in the background; any
// other job whose state has changed since it was last reported is
// reported and marked notified. A foreground job that returned here
// Stopped is therefore reported, while one that finished is removed
// silently.
func (t *Table) Notify() error {
	if err := t.Reap(); err != nil {
		return err
	}
	// No job is in the foreground by the time Notify runs: the
	// foreground wait in ForegroundEnter has already returned, so
	// every tracked job is eligible for the vanished-group probe.
	t.Reconcile(nil)
	for _, j := range t.Jobs() {
		st := j.Status()
		if st == Finished {
			if j.Background {
				t.report(j, st)
			}
			j.Close()
			t.Remove(j)
			continue
		}
		if !j.Notified {
			t.report(j, st)
			j.Notified = true
		}
	}
	return nil
}

func (t *Table) report(j *Job, st Status) {
	if t.out == nil {
		return
	}
	fmt.Fprintf(t.out, "[%d] %s %s\n", t.ID(j), st, j.CmdLine)
}

// Reconcile prunes jobs whose process group has vanished without ever
// being reported by waitpid -- a missed SIGCHLD, or a group killed out
// from under the shell. The kill(pgid, 0) probe is only applied to jobs
// that are not the current foreground job and have already been
// notified at least once, so a job still expected to report through the
// normal path is never second-guessed.
func (t *Table) Reconcile(foreground *Job) {
	for _, j := range t.Jobs() {
		if j == foreground || j.Pgid == 0 || j.Status() == Finished || !j.Notified {
			continue
		}
		if err := unix.Kill(-j.Pgid, 0); err == unix.ESRCH {
			if t.out != nil {
				fmt.Fprintf(t.out, "[%d] %s vanished: process group %d no longer exists\n", t.ID(j), j.ID, j.Pgid)
			}
			for _, p := range j.Procs {
				if p.Status != Finished {
					p.Status = Finished
				}
			}
		}
	}
}

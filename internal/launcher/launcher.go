// Package launcher materializes one pipeline.Pipeline as a running
// process group: it opens redirections against a snapshotted working
// directory, wires pipes between stages, forks external processes or
// invokes built-ins in-process, and hands the resulting job.Job off to
// the job table for foreground/background dispatch.
package launcher

import (
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/prince781/pcfsh/internal/builtin"
	"github.com/prince781/pcfsh/internal/errors"
	"github.com/prince781/pcfsh/internal/job"
	"github.com/prince781/pcfsh/internal/pipeline"
	"github.com/prince781/pcfsh/internal/terminal"
)

// Launcher turns Pipelines into Jobs.
type Launcher struct {
	Term        *terminal.Controller
	Jobs        *job.Table
	Builtins    *builtin.Registry
	Interactive bool
}

// New returns a Launcher wired to the given job table, terminal
// controller, and built-in registry.
func New(term *terminal.Controller, jobs *job.Table, builtins *builtin.Registry, interactive bool) *Launcher {
	return &Launcher{Term: term, Jobs: jobs, Builtins: builtins, Interactive: interactive}
}

// Launch materializes pln as a process group rooted at cwd, adds it to
// the job table, and dispatches it: non-interactive always waits; an
// interactive foreground job waits and takes the terminal; an
// interactive background job returns immediately. session is threaded
// through to any built-in in the pipeline so it can reach shell-level
// state (cd, fg, bg, exit).
func (l *Launcher) Launch(pln pipeline.Pipeline, cwd string, session builtin.Session) (*job.Job, error) {
	dirfd, err := unix.Open(cwd, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer unix.Close(dirfd)

	j := job.NewJob(pln.CommandLine(), pln.Background)

	stdinFD, err := openRedirect(dirfd, pln.Stdin, unix.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pln.Stdin.Path, err)
	}
	j.StdinFD = orShellFD(stdinFD, 0)

	stdoutFD, err := openRedirect(dirfd, pln.Stdout, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0666)
	if err != nil {
		closeOpened(stdinFD)
		return nil, fmt.Errorf("%s: %w", pln.Stdout.Path, err)
	}
	j.StdoutFD = orShellFD(stdoutFD, 1)
	j.StderrFD = 2

	var spawnedPIDs []int
	finFD := j.StdinFD
	n := len(pln.Processes)

	for i, spec := range pln.Processes {
		last := i == n-1

		var foutFD, nextFinFD int
		var pipeFDs []int
		if last {
			foutFD = j.StdoutFD
		} else {
			fds := make([]int, 2)
			if err := unix.Pipe(fds); err != nil {
				var leaked []int
				if finFD != j.StdinFD {
					leaked = append(leaked, finFD)
				}
				return nil, l.abort(j, spawnedPIDs, leaked, errors.WithStack(err))
			}
			nextFinFD, foutFD = fds[0], fds[1]
			pipeFDs = fds
		}

		if entry, ok := l.Builtins.Lookup(spec.Program); ok {
			code := entry.Fn(session, spec.Argv(), fdReader(finFD), fdWriter(foutFD))
			j.Procs = append(j.Procs, job.NewBuiltinProc(spec.Argv(), code))
		} else {
			pid, err := l.spawn(j, spec, finFD, foutFD)
			if err != nil {
				var ef *execFailure
				if !stderrors.As(err, &ef) {
					leaked := append([]int{}, pipeFDs...)
					if finFD != j.StdinFD {
						leaked = append(leaked, finFD)
					}
					return nil, l.abort(j, spawnedPIDs, leaked, err)
				}
				fmt.Fprintf(fdWriter(j.StderrFD), "%s\n", ef)
				j.Procs = append(j.Procs, job.NewFailedProc(spec.Argv(), 127))
			} else {
				spawnedPIDs = append(spawnedPIDs, pid)
				j.Procs = append(j.Procs, job.NewExternalProc(pid, spec.Argv()))
			}
		}

		if finFD != j.StdinFD {
			closeOwned(finFD)
		}
		if !last {
			closeOwned(foutFD)
			finFD = nextFinFD
		}
	}

	l.Jobs.Add(j)

	if len(spawnedPIDs) == 0 {
		return j, nil
	}
	return j, l.dispatch(j)
}

// spawn forks and execs one external process, joining it to j's
// process group. The first process in a job becomes its group leader:
// Pgid starts 0 and is set to that process's pid.
func (l *Launcher) spawn(j *job.Job, spec pipeline.ProcessSpec, finFD, foutFD int) (int, error) {
	stdin, err := dupFile(finFD)
	if err != nil {
		return 0, err
	}
	defer closeDup(stdin)
	stdout, err := dupFile(foutFD)
	if err != nil {
		return 0, err
	}
	defer closeDup(stdout)
	stderr, err := dupFile(j.StderrFD)
	if err != nil {
		return 0, err
	}
	defer closeDup(stderr)

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
	cmd.SysProcAttr = l.Term.ChildSysProcAttr(j.Pgid, l.Interactive && !j.Background)

	if err := l.Term.BracketChildSignals(cmd.Start); err != nil {
		return 0, &execFailure{program: spec.Program, err: err}
	}

	pid := cmd.Process.Pid
	if j.Pgid == 0 {
		j.Pgid = pid
	}
	// Setpgid is also requested via SysProcAttr, which wins the race
	// against the child's own exec; repeating it here from the parent
	// side closes the window where a signal arrives before either side
	// has run.
	unix.Setpgid(pid, j.Pgid)
	return pid, nil
}

// dispatch routes a freshly built job to the wait, foreground, or
// background path appropriate to its interactivity and background flag.
func (l *Launcher) dispatch(j *job.Job) error {
	switch {
	case !l.Interactive:
		return l.Jobs.Wait(j)
	case j.Background:
		return l.Jobs.BackgroundEnter(l.Term, j, false)
	default:
		return l.Jobs.ForegroundEnter(l.Term, j, false)
	}
}

// abort handles a pipeline-construction failure partway through: it
// sends SIGTERM to whatever's already running in the group, does a
// bounded reap of exactly the pids spawned so far, releases any fds
// opened for this pipeline, and returns a wrapped error rather than
// leaving orphaned processes or tearing down the whole shell.
func (l *Launcher) abort(j *job.Job, spawnedPIDs []int, extraFDs []int, cause error) error {
	if j.Pgid != 0 {
		unix.Kill(-j.Pgid, syscall.SIGTERM)
	}
	for _, pid := range spawnedPIDs {
		var ws unix.WaitStatus
		unix.Wait4(pid, &ws, 0, nil)
	}
	closeOwned(j.StdinFD)
	closeOwned(j.StdoutFD)
	closeFDs(extraFDs)
	return fmt.Errorf("pipeline aborted: %w", cause)
}

// execFailure marks a stage that never forked: cmd.Start found the
// program unresolvable or unexecutable before any child process
// existed. Unlike a pipe or fork syscall failure, there is nothing to
// tear down and no reason to abort siblings already running — only
// this one stage is isolated, the way a shell reports "command not
// found" for one segment of a pipeline and lets the rest proceed.
type execFailure struct {
	program string
	err     error
}

func (e *execFailure) Error() string { return fmt.Sprintf("%s: %s", e.program, e.err) }
func (e *execFailure) Unwrap() error { return e.err }

func openRedirect(dirfd int, spec *pipeline.PathSpec, flags int, mode uint32) (int, error) {
	if spec == nil {
		return -1, nil
	}
	var fd int
	var err error
	if spec.Relative {
		fd, err = unix.Openat(dirfd, spec.Path, flags, mode)
	} else {
		fd, err = unix.Open(spec.Path, flags, mode)
	}
	if err != nil {
		return -1, errors.WithStack(err)
	}
	return fd, nil
}

// orShellFD returns fd if a redirection was opened (fd >= 0), else the
// shell's own standard fd for that stream.
func orShellFD(fd, shellFD int) int {
	if fd < 0 {
		return shellFD
	}
	return fd
}

func closeOpened(fd int) {
	if fd >= 0 {
		unix.Close(fd)
	}
}

func closeFDs(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

// closeOwned closes fd unless it is one of the shell's inherited
// standard streams.
func closeOwned(fd int) {
	if fd > 2 {
		unix.Close(fd)
	}
}

// dupFile wraps fd in a fresh dup so the *os.File handed to exec.Cmd
// owns a descriptor distinct from fd itself; its close-on-GC finalizer
// can then never reach back and close a fd the launcher still needs.
func dupFile(fd int) (*os.File, error) {
	dup, err := unix.Dup(fd)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return os.NewFile(uintptr(dup), ""), nil
}

// closeDup closes a dup created by dupFile and detaches its finalizer,
// so a GC pass after this fd number has been recycled by an unrelated
// open cannot double-close it.
func closeDup(f *os.File) {
	f.Close()
	runtime.SetFinalizer(f, nil)
}

// fdReader and fdWriter adapt a raw file descriptor to io.Reader and
// io.Writer for built-ins, which never hold an *os.File of their own.
type fdReader int

func (r fdReader) Read(p []byte) (int, error) { return unix.Read(int(r), p) }

type fdWriter int

func (w fdWriter) Write(p []byte) (int, error) { return unix.Write(int(w), p) }

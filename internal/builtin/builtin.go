// Package builtin implements the shell's in-process command registry:
// cd, jobs, fg, bg, exit, and help. Each runs without forking, reading
// from an injected input stream and writing to an injected output
// stream.
package builtin

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/prince781/pcfsh/internal/job"
	"github.com/prince781/pcfsh/internal/validator"
)

// homeDir is cd's target when invoked with no argument.
func homeDir() string {
	return os.Getenv("HOME")
}

// Session is the subset of shell state a built-in can observe or
// mutate. internal/shell.Session implements it; tests supply a fake.
type Session interface {
	Chdir(path string) error
	Jobs() *job.Table
	Term() job.Terminal
	RequestExit(code int)
}

// Func is a built-in's entry point. Return 0 on success, -1 on a
// usage or argument error, after writing a diagnostic to out.
type Func func(ctx Session, argv []string, in io.Reader, out io.Writer) int

// Entry describes one registered built-in.
type Entry struct {
	Name        string
	Fn          Func
	Usage       string
	Description string
}

// Registry is the shell's dispatch table, searched by linear match on
// name.
type Registry struct {
	entries []Entry
}

// NewRegistry returns a Registry holding the minimal built-in set.
func NewRegistry() *Registry {
	r := &Registry{
		entries: []Entry{
			{"cd", cd, "cd [path]", "Change the shell's working directory; defaults to $HOME."},
			{"jobs", jobsCmd, "jobs [-l|-p] [id]", "List jobs tracked by the shell."},
			{"fg", fg, "fg [id]", "Bring a job to the foreground, resuming it if stopped."},
			{"bg", bg, "bg [id]", "Resume a stopped job in the background."},
			{"exit", exitCmd, "exit [n]", "Exit the shell with status n (default 0)."},
		},
	}
	r.entries = append(r.entries, Entry{"help", r.help, "help", "List built-in commands."})
	return r
}

// Lookup finds a built-in by name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

func cd(ctx Session, argv []string, in io.Reader, out io.Writer) int {
	path := ""
	if len(argv) > 1 {
		path = argv[1]
	} else {
		path = homeDir()
	}

	v := validator.New()
	v.Assert(path != "", "cd: HOME is not set and no path was given")
	if err := v.Err(); err != nil {
		fmt.Fprintln(out, err)
		return -1
	}

	if err := ctx.Chdir(path); err != nil {
		fmt.Fprintf(out, "cd: %s: %s\n", path, err)
		return -1
	}
	return 0
}

func jobsCmd(ctx Session, argv []string, in io.Reader, out io.Writer) int {
	var long, pidOnly bool
	var id int
	for _, a := range argv[1:] {
		switch a {
		case "-l":
			long = true
		case "-p":
			pidOnly = true
		default:
			n, convErr := strconv.Atoi(a)
			v := validator.New()
			v.Assert(convErr == nil, fmt.Sprintf("jobs: invalid argument: %s", a))
			if err := v.Err(); err != nil {
				fmt.Fprintln(out, err)
				return -1
			}
			id = n
		}
	}

	table := ctx.Jobs()
	list := table.Jobs()
	if id != 0 {
		j := table.ByID(id)
		if j == nil {
			fmt.Fprintf(out, "jobs: no such job: %d\n", id)
			return -1
		}
		list = []*job.Job{j}
	}

	for _, j := range list {
		displayID := table.ID(j)
		switch {
		case pidOnly:
			fmt.Fprintf(out, "%d\n", j.Pgid)
		case long:
			writeLongFormat(out, displayID, j)
		default:
			fmt.Fprintf(out, "[%d] + %s %s\n", displayID, j.Status(), j.CmdLine)
		}
	}
	return 0
}

func writeLongFormat(out io.Writer, id int, j *job.Job) {
	prefix := fmt.Sprintf("[%d]", id)
	blank := strings.Repeat(" ", len(prefix))
	for i, p := range j.Procs {
		label, marker := blank, " "
		if i == 0 {
			label, marker = prefix, "+"
		}
		fmt.Fprintf(out, "%s %s %6d %s %s\n", label, marker, p.PID, p.Status, p.Name())
	}
}

func resolveJob(ctx Session, argv []string) (*job.Job, error) {
	table := ctx.Jobs()
	if len(argv) < 2 {
		if j := table.Most(); j != nil {
			return j, nil
		}
		return nil, fmt.Errorf("no current job")
	}
	id, err := strconv.Atoi(argv[1])
	if err != nil {
		return nil, fmt.Errorf("invalid job id: %s", argv[1])
	}
	if j := table.ByID(id); j != nil {
		return j, nil
	}
	return nil, fmt.Errorf("no such job: %d", id)
}

func fg(ctx Session, argv []string, in io.Reader, out io.Writer) int {
	j, err := resolveJob(ctx, argv)
	if err != nil {
		fmt.Fprintf(out, "fg: %s\n", err)
		return -1
	}
	if err := ctx.Jobs().Continue(ctx.Term(), j, false); err != nil {
		fmt.Fprintf(out, "fg: %s\n", err)
		return -1
	}
	return 0
}

func bg(ctx Session, argv []string, in io.Reader, out io.Writer) int {
	j, err := resolveJob(ctx, argv)
	if err != nil {
		fmt.Fprintf(out, "bg: %s\n", err)
		return -1
	}
	if err := ctx.Jobs().Continue(ctx.Term(), j, true); err != nil {
		fmt.Fprintf(out, "bg: %s\n", err)
		return -1
	}
	return 0
}

func exitCmd(ctx Session, argv []string, in io.Reader, out io.Writer) int {
	code := 0
	if len(argv) > 1 {
		n, convErr := strconv.Atoi(argv[1])
		v := validator.New()
		v.Assert(convErr == nil, fmt.Sprintf("exit: numeric argument required: %s", argv[1]))
		if err := v.Err(); err != nil {
			fmt.Fprintln(out, err)
			return -1
		}
		code = n
	}
	ctx.RequestExit(code)
	return 0
}

func (r *Registry) help(ctx Session, argv []string, in io.Reader, out io.Writer) int {
	for _, e := range r.entries {
		fmt.Fprintf(out, "%-20s %s\n", e.Usage, e.Description)
	}
	return 0
}

// Package pipeline defines the flattened, execution-ready
// representation of one parsed shell line: a sequence of processes
// connected by pipes, with optional redirections and a background
// flag. internal/analyzer builds these from a parse tree;
// internal/launcher consumes them.
package pipeline

// PathSpec names a redirection target and records whether it was
// written as an absolute or relative path, so the launcher knows
// whether to resolve it against the session's working-directory
// descriptor.
type PathSpec struct {
	Path     string
	Relative bool
}

// ProcessSpec is one program invocation within a Pipeline. Args does
// not repeat Program; Program is always argv[0].
type ProcessSpec struct {
	Program string
	Args    []string
}

// Pipeline is the processes joined by pipe operators within one
// ';'- or newline-separated command, the redirections that apply to
// the whole pipeline's ends, and whether it should run in the
// background.
type Pipeline struct {
	Processes  []ProcessSpec
	Stdin      *PathSpec
	Stdout     *PathSpec
	Background bool
}

// Argv returns the process's argv, with Program as argv[0].
func (p ProcessSpec) Argv() []string {
	argv := make([]string, 0, len(p.Args)+1)
	argv = append(argv, p.Program)
	return append(argv, p.Args...)
}

// CommandLine renders the pipeline as one line for job listings and
// notifications: the processes joined by " | ", then any "< stdin" and
// "> stdout", then " &" for a background job. Quoting is not restored,
// and a stdin redirection always appears after the last process.
func (p Pipeline) CommandLine() string {
	var out string
	for i, proc := range p.Processes {
		if i > 0 {
			out += " | "
		}
		out += proc.Program
		for _, a := range proc.Args {
			out += " " + a
		}
	}
	if p.Stdin != nil {
		out += " < " + p.Stdin.Path
	}
	if p.Stdout != nil {
		out += " > " + p.Stdout.Path
	}
	if p.Background {
		out += " &"
	}
	return out
}

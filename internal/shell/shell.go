// Package shell ties the lexer, parser, analyzer, launcher, and job
// table into the single object an external REPL drives: one Execute
// call per line, one Notify call per trip back to the prompt. This
// package, not any one of its dependencies, is the boundary a REPL
// driver sits behind — line acquisition lives in cmd/pcfsh, which
// calls WritePrompt here to render the prompt before each line.
package shell

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/prince781/pcfsh/internal/analyzer"
	"github.com/prince781/pcfsh/internal/builtin"
	"github.com/prince781/pcfsh/internal/job"
	"github.com/prince781/pcfsh/internal/launcher"
	"github.com/prince781/pcfsh/internal/lexer"
	"github.com/prince781/pcfsh/internal/parser"
	"github.com/prince781/pcfsh/internal/terminal"
)

const defaultMarker = "$"

// Session implements builtin.Session and is the type cmd/pcfsh drives.
type Session struct {
	cwd    string
	marker string
	out    io.Writer
	errOut io.Writer

	term     *terminal.Controller
	jobs     *job.Table
	builtins *builtin.Registry
	launch   *launcher.Launcher

	line          int
	exitRequested bool
	exitCode      int
}

// New builds a Session rooted at the process's current working
// directory, wiring a fresh job table and built-in registry around
// term. term.Interactive() decides both prompt emission and whether
// launched jobs take the foreground or just wait.
func New(term *terminal.Controller, out, errOut io.Writer) (*Session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	builtins := builtin.NewRegistry()
	jobs := job.NewTable(out)
	return &Session{
		cwd:      cwd,
		marker:   defaultMarker,
		out:      out,
		errOut:   errOut,
		term:     term,
		jobs:     jobs,
		builtins: builtins,
		launch:   launcher.New(term, jobs, builtins, term.Interactive()),
	}, nil
}

// SetMarker overrides the prompt's trailing marker (default "$").
func (s *Session) SetMarker(marker string) {
	if marker != "" {
		s.marker = marker
	}
}

// Chdir implements builtin.Session.
func (s *Session) Chdir(path string) error {
	if err := os.Chdir(path); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	s.cwd = cwd
	return nil
}

// Jobs implements builtin.Session.
func (s *Session) Jobs() *job.Table { return s.jobs }

// Term implements builtin.Session.
func (s *Session) Term() job.Terminal { return s.term }

// RequestExit implements builtin.Session: it records the requested
// exit code for the REPL driver to observe via ExitRequested.
func (s *Session) RequestExit(code int) {
	s.exitRequested = true
	s.exitCode = code
}

// ExitRequested reports whether a built-in (exit) asked the driving
// loop to stop, and with which status code.
func (s *Session) ExitRequested() (bool, int) {
	return s.exitRequested, s.exitCode
}

// WritePrompt writes the colorized "<cwd basename> <marker> " prompt.
// It is a no-op when the session is not interactive: a -c invocation
// or a piped script never wants prompt bytes mixed into its output.
func (s *Session) WritePrompt() {
	if !s.term.Interactive() {
		return
	}
	fmt.Fprintf(s.out, "\x1b[38;5;32;1m%s\x1b[0m %s ", filepath.Base(s.cwd), s.marker)
}

// Execute lexes, parses, analyzes, and launches every pipeline found
// on one line of input. line need not carry a trailing newline;
// Execute supplies one so the grammar's LINE production always has an
// explicit terminator to match against.
func (s *Session) Execute(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	tree, errs := parser.Parse(lexer.Lex([]byte(line)))
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(s.errOut, "Line %d, Position %d, Parse error: %s\n", e.Line+s.line, e.Column, e.Message)
		}
		s.line++
		return
	}

	for _, pln := range analyzer.Analyze(tree) {
		if _, err := s.launch.Launch(pln, s.cwd, s); err != nil {
			fmt.Fprintf(s.errOut, "%s: %s\n", commandName(pln.CommandLine()), err)
		}
	}
	s.line++
}

func commandName(cmdline string) string {
	if i := strings.IndexByte(cmdline, ' '); i >= 0 {
		return cmdline[:i]
	}
	return cmdline
}

// Notify reaps finished children and reports job-state changes. The
// REPL driver calls this once per trip back to the prompt.
func (s *Session) Notify() {
	if err := s.jobs.Notify(); err != nil {
		fmt.Fprintf(s.errOut, "jobs: %s\n", err)
	}
}

// Close releases the session's terminal controller.
func (s *Session) Close() error {
	return s.term.Close()
}

// Command pcfsh is the REPL driver around the internal/shell core: it
// owns line acquisition and decides when the session writes its prompt.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/prince781/pcfsh/internal/log"
	"github.com/prince781/pcfsh/internal/shell"
	"github.com/prince781/pcfsh/internal/terminal"
)

var (
	cmdFlag    = flag.String("c", "", "execute a single command line and exit")
	promptFlag = flag.String("prompt", "", "override the prompt's trailing marker (default \"$\")")
)

const (
	ecSuccess = iota
	ecTerminalInit
)

var logger = log.New(os.Stderr, "pcfsh")

func main() {
	os.Exit(run())
}

// run is the entrypoint proper, factored out of main so tests could
// exercise exit-code selection without calling os.Exit.
func run() int {
	flag.Parse()

	term, err := terminal.New(int(os.Stdin.Fd()))
	if err != nil {
		logger.Fatalf("terminal init: %s", err)
		return ecTerminalInit
	}
	defer term.Close()

	sess, err := shell.New(term, os.Stdout, os.Stderr)
	if err != nil {
		logger.Fatalf("shell init: %s", err)
		return ecTerminalInit
	}
	sess.SetMarker(*promptFlag)

	if *cmdFlag != "" {
		sess.Execute(*cmdFlag)
		sess.Notify()
		_, code := sess.ExitRequested()
		return code
	}

	return repl(sess)
}

// repl pumps lines from stdin into sess, re-emitting the prompt and
// running notifications after each one, until EOF or an `exit`
// built-in sets sess.ExitRequested.
func repl(sess *shell.Session) int {
	scanner := bufio.NewScanner(os.Stdin)
	sess.WritePrompt()
	for scanner.Scan() {
		sess.Execute(scanner.Text())
		if requested, code := sess.ExitRequested(); requested {
			return code
		}
		sess.Notify()
		sess.WritePrompt()
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return ecSuccess
}

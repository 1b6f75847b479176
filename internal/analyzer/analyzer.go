// Package analyzer flattens a parser.Node tree into the ordered list of
// pipeline.Pipeline values a line actually describes, discarding the
// grammar structure once it has served its purpose.
package analyzer

import (
	"github.com/prince781/pcfsh/internal/parser"
	"github.com/prince781/pcfsh/internal/pipeline"
	"github.com/prince781/pcfsh/internal/token"
)

// Analyze walks tree, a PROGRAM node returned by parser.Parse, and
// returns one pipeline.Pipeline per PIPELINE node, in source order.
func Analyze(tree *parser.Node) []pipeline.Pipeline {
	var out []pipeline.Pipeline
	walkProgram(tree, &out)
	return out
}

func walkProgram(n *parser.Node, out *[]pipeline.Pipeline) {
	if n == nil {
		return
	}
	line := n.Child
	walkLine(line, out)
	walkLinesList(line.Sibling, out)
}

func walkLinesList(n *parser.Node, out *[]pipeline.Pipeline) {
	if parser.Empty(n) {
		return
	}
	// children: NEWLINE leaf, PROGRAM
	walkProgram(n.Child.Sibling, out)
}

func walkLine(n *parser.Node, out *[]pipeline.Pipeline) {
	if parser.Empty(n) {
		return
	}
	pln := n.Child
	*out = append(*out, buildPipeline(pln))
	walkPlnList(pln.Sibling, out)
}

func walkPlnList(n *parser.Node, out *[]pipeline.Pipeline) {
	if parser.Empty(n) {
		return
	}
	// children: SEMI leaf, LINE
	walkLine(n.Child.Sibling, out)
}

// buildPipeline reads a PIPELINE node's fixed six children:
// NAME ARGLIST STDIN_PIPE PIPELINE_TAIL STDOUT_PIPE AMP_OP.
func buildPipeline(n *parser.Node) pipeline.Pipeline {
	name := n.Child
	argList := name.Sibling
	stdinPipe := argList.Sibling
	tail := stdinPipe.Sibling
	stdoutPipe := tail.Sibling
	ampOp := stdoutPipe.Sibling

	var pln pipeline.Pipeline
	pln.Processes = append(pln.Processes, buildProcess(name, argList))
	pln.Processes = append(pln.Processes, collectTail(tail)...)
	pln.Stdin = buildPathSpec(stdinPipe)
	pln.Stdout = buildPathSpec(stdoutPipe)
	pln.Background = !parser.Empty(ampOp)
	return pln
}

func buildProcess(name, argList *parser.Node) pipeline.ProcessSpec {
	return pipeline.ProcessSpec{
		Program: nameToken(name).Literal,
		Args:    collectArgs(argList),
	}
}

func collectArgs(argList *parser.Node) []string {
	var args []string
	for !parser.Empty(argList) {
		// children: NAME, ARGLIST
		name := argList.Child
		args = append(args, nameToken(name).Literal)
		argList = name.Sibling
	}
	return args
}

func collectTail(tail *parser.Node) []pipeline.ProcessSpec {
	var procs []pipeline.ProcessSpec
	for !parser.Empty(tail) {
		// children: PIPE leaf, NAME, ARGLIST, PIPELINE_TAIL
		name := tail.Child.Sibling
		argList := name.Sibling
		procs = append(procs, buildProcess(name, argList))
		tail = argList.Sibling
	}
	return procs
}

func buildPathSpec(n *parser.Node) *pipeline.PathSpec {
	if parser.Empty(n) {
		return nil
	}
	// children: LT/GT leaf, NAME
	tok := nameToken(n.Child.Sibling)
	return &pipeline.PathSpec{
		Path:     tok.Literal,
		Relative: tok.Category != token.PATH_ABS,
	}
}

// nameToken returns the terminal token under a NAME node.
func nameToken(name *parser.Node) *token.Token {
	return name.Child.Token
}

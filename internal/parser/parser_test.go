package parser

import (
	"testing"

	"github.com/prince781/pcfsh/internal/lexer"
	"github.com/prince781/pcfsh/internal/token"
)

// walk collects the terminal leaves of a tree in left-to-right order,
// depth-first, following Child then Sibling.
func walk(n *Node, out *[]token.Token) {
	if n == nil {
		return
	}
	if n.Prod == ProdTerminal {
		*out = append(*out, *n.Token)
	}
	walk(n.Child, out)
	walk(n.Sibling, out)
}

func TestParseValidPrograms(t *testing.T) {
	tests := map[string]struct {
		input     string
		wantLits  []string
		wantCount int
	}{
		"simple command": {
			input:    "ls\n",
			wantLits: []string{"ls", "\n"},
		},
		"command with args": {
			input:    "echo hi there\n",
			wantLits: []string{"echo", "hi", "there", "\n"},
		},
		"pipeline": {
			input:    "ls | wc -l\n",
			wantLits: []string{"ls", "|", "wc", "-l", "\n"},
		},
		"redirection both ways": {
			input:    "sort < in.txt > out.txt\n",
			wantLits: []string{"sort", "<", "in.txt", ">", "out.txt", "\n"},
		},
		"background job": {
			input:    "sleep 1 &\n",
			wantLits: []string{"sleep", "1", "&", "\n"},
		},
		"multiple pipelines on one line": {
			input:    "ls; pwd\n",
			wantLits: []string{"ls", ";", "pwd", "\n"},
		},
		"multiple lines": {
			input:    "ls\npwd\n",
			wantLits: []string{"ls", "\n", "pwd", "\n"},
		},
		"empty input": {
			input:    "",
			wantLits: nil,
		},
		"blank line": {
			input:    "\n",
			wantLits: []string{"\n"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			toks := lexer.Lex([]byte(test.input))
			tree, errs := Parse(toks)
			if errs != nil {
				t.Fatalf("unexpected errors: %v", errs)
			}
			var leaves []token.Token
			walk(tree, &leaves)
			if len(leaves) != len(test.wantLits) {
				t.Fatalf("leaf count; actual: %d, expected: %d, leaves: %v", len(leaves), len(test.wantLits), leaves)
			}
			for i, want := range test.wantLits {
				if leaves[i].Literal != want {
					t.Errorf("leaf[%d]; actual: %q, expected: %q", i, leaves[i].Literal, want)
				}
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := map[string]struct {
		input   string
		wantMsg string
	}{
		"unterminated string surfaces lexer message": {
			input:   `"abc`,
			wantMsg: `Expected '"'`,
		},
		"pipe with nothing after it": {
			input:   "ls |\n",
			wantMsg: "Expected an argument, a string, or a path.",
		},
		"dangling pipe at end of input": {
			input:   "ls |",
			wantMsg: "Expected an argument, a string, or a path; unexpected end of input.",
		},
		"redirection missing target": {
			input:   "ls <\n",
			wantMsg: "Expected an argument, a string, or a path.",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			toks := lexer.Lex([]byte(test.input))
			tree, errs := Parse(toks)
			if tree != nil {
				t.Fatalf("expected no tree, got one")
			}
			if len(errs) == 0 {
				t.Fatalf("expected at least one error")
			}
			if errs[0].Message != test.wantMsg {
				t.Errorf("message; actual: %q, expected: %q", errs[0].Message, test.wantMsg)
			}
		})
	}
}

func TestParsePositionsAccumulateAcrossLines(t *testing.T) {
	toks := lexer.Lex([]byte("ls\nfoo |\n"))
	_, errs := Parse(toks)
	if len(errs) != 1 {
		t.Fatalf("errors; actual: %d, expected: 1", len(errs))
	}
	if errs[0].Line != 1 {
		t.Errorf("line; actual: %d, expected: 1", errs[0].Line)
	}
}

func TestEmptyHelper(t *testing.T) {
	toks := lexer.Lex([]byte("\n"))
	tree, errs := Parse(toks)
	if errs != nil {
		t.Fatalf("unexpected errors: %v", errs)
	}
	// PROGRAM -> LINE LINES_LIST; LINE is empty since the first token
	// is NEWLINE, not a NAME.
	line := tree.Child
	if !Empty(line) {
		t.Errorf("expected empty LINE node for a blank input line")
	}
}

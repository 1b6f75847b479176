package lexer

import (
	"testing"

	"github.com/prince781/pcfsh/internal/token"
)

func TestLexOperatorsAndArgs(t *testing.T) {
	type expected struct {
		cat     token.Category
		literal string
	}
	tests := map[string]struct {
		input string
		exp   []expected
	}{
		"simple command": {
			input: "ls\n",
			exp: []expected{
				{token.ARG, "ls"},
				{token.NEWLINE, "\n"},
			},
		},
		"pipeline": {
			input: "ls | grep foo | wc -l\n",
			exp: []expected{
				{token.ARG, "ls"},
				{token.PIPE, "|"},
				{token.ARG, "grep"},
				{token.ARG, "foo"},
				{token.PIPE, "|"},
				{token.ARG, "wc"},
				{token.ARG, "-l"},
				{token.NEWLINE, "\n"},
			},
		},
		"redirection": {
			input: "cat < a.txt > b.txt\n",
			exp: []expected{
				{token.ARG, "cat"},
				{token.LT, "<"},
				{token.ARG, "a.txt"},
				{token.GT, ">"},
				{token.ARG, "b.txt"},
				{token.NEWLINE, "\n"},
			},
		},
		"absolute path promotion": {
			input: "/usr/bin/env\n",
			exp: []expected{
				{token.PATH_ABS, "/usr/bin/env"},
				{token.NEWLINE, "\n"},
			},
		},
		"background": {
			input: "sleep 0.1 &\n",
			exp: []expected{
				{token.ARG, "sleep"},
				{token.ARG, "0.1"},
				{token.AMP, "&"},
				{token.NEWLINE, "\n"},
			},
		},
		"trailing semicolon": {
			input: "ls;\n",
			exp: []expected{
				{token.ARG, "ls"},
				{token.SEMI, ";"},
				{token.NEWLINE, "\n"},
			},
		},
		"empty line": {
			input: "\n",
			exp: []expected{
				{token.NEWLINE, "\n"},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			toks := Lex([]byte(test.input))
			if len(toks) != len(test.exp) {
				t.Fatalf("token count; actual: %d, expected: %d, tokens: %v", len(toks), len(test.exp), toks)
			}
			for i, exp := range test.exp {
				if toks[i].Category != exp.cat || toks[i].Literal != exp.literal {
					t.Errorf("token[%d]; actual: %s, expected: %s(%q)", i, toks[i], exp.cat, exp.literal)
				}
			}
		})
	}
}

func TestLexQuotedStrings(t *testing.T) {
	tests := map[string]struct {
		input   string
		literal string
		cat     token.Category
	}{
		`double-quoted escape quote`: {input: `"\""`, literal: `"`, cat: token.STRING_DQ},
		`double-quoted escape backslash`: {input: `"\\"`, literal: `\`, cat: token.STRING_DQ},
		`single-quoted passthrough`: {input: `'hello world'`, literal: "hello world", cat: token.STRING_SQ},
		`unrelated escape passes through both bytes`: {input: `"a\nb"`, literal: `a\nb`, cat: token.STRING_DQ},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			toks := Lex([]byte(test.input))
			if len(toks) != 1 {
				t.Fatalf("token count; actual: %d, expected: 1, tokens: %v", len(toks), toks)
			}
			if toks[0].Category != test.cat {
				t.Errorf("category; actual: %s, expected: %s", toks[0].Category, test.cat)
			}
			if toks[0].Literal != test.literal {
				t.Errorf("literal; actual: %q, expected: %q", toks[0].Literal, test.literal)
			}
		})
	}
}

func TestLexUnterminatedString(t *testing.T) {
	toks := Lex([]byte(`"abc`))
	if len(toks) != 1 {
		t.Fatalf("token count; actual: %d, expected: 1, tokens: %v", len(toks), toks)
	}
	if toks[0].Category != token.ERROR {
		t.Fatalf("category; actual: %s, expected: ERROR", toks[0].Category)
	}
	if toks[0].Literal != `Expected '"'` {
		t.Errorf("literal; actual: %q, expected: %q", toks[0].Literal, `Expected '"'`)
	}
}

func TestLexUnquotedEscape(t *testing.T) {
	toks := Lex([]byte(`foo\ bar`))
	if len(toks) != 1 {
		t.Fatalf("token count; actual: %d, expected: 1, tokens: %v", len(toks), toks)
	}
	if toks[0].Literal != "foo bar" {
		t.Errorf("literal; actual: %q, expected: %q", toks[0].Literal, "foo bar")
	}
}

func TestLexRelocatesPositions(t *testing.T) {
	toks := Lex([]byte("ls  foo\n"))
	if toks[1].Pos.Column != 4 {
		t.Errorf("column; actual: %d, expected: 4", toks[1].Pos.Column)
	}
}

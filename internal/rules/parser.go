package rules

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Invocation is one simple command within a possibly chained command line.
// Only word-like tokens are kept: redirections, assignments and pure
// expansions ($VAR, $(...), <(...)) are not part of Args.
type Invocation struct {
	Head string   // program name, unquoted
	Args []string // argument tokens in source order, unquoted
	// Dynamic is set when the head is not a literal word, e.g. "$CMD x".
	// Such an invocation can never be allowed without asking.
	Dynamic bool
}

// Text reassembles the head and argument tokens separated by single spaces.
func (inv Invocation) Text() string {
	if len(inv.Args) == 0 {
		return inv.Head
	}
	return inv.Head + " " + strings.Join(inv.Args, " ")
}

// Tree is a parsed command line.
type Tree struct {
	Source      string
	Invocations []Invocation
}

// Empty reports whether the command contains no invocations at all.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Invocations) == 0
}

// ParseError reports a command that could not be parsed for analysis.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "command could not be parsed for security analysis: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse converts command text into its invocations, descending into pipelines,
// chains (&&, ||, ;), subshells, blocks, and command and process substitutions.
func Parse(text string) (tree *Tree, err error) {
	// SECURITY: the parser must never take the process down on hostile input.
	defer func() {
		if r := recover(); r != nil {
			tree = nil
			err = &ParseError{Err: fmt.Errorf("parser panic: %v", r)}
		}
	}()

	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, perr := parser.Parse(strings.NewReader(text), "")
	if perr != nil {
		return nil, &ParseError{Err: perr}
	}

	tree = &Tree{Source: text}
	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			// Assignment-only statements (FOO=bar) run no program.
			if len(n.Args) == 0 {
				return true
			}
			inv := Invocation{Head: wordText(text, n.Args[0])}
			inv.Dynamic = !isLiteralWord(n.Args[0])
			for _, w := range n.Args[1:] {
				if isExpansionOnly(w) {
					continue
				}
				inv.Args = append(inv.Args, wordText(text, w))
			}
			tree.Invocations = append(tree.Invocations, inv)

		case *syntax.DeclClause:
			// export, declare, local, readonly, typeset, nameref
			if n.Variant == nil {
				return true
			}
			inv := Invocation{Head: n.Variant.Value}
			for _, a := range n.Args {
				inv.Args = append(inv.Args, sourceSlice(text, a))
			}
			tree.Invocations = append(tree.Invocations, inv)
		}
		return true
	})
	return tree, nil
}

// isLiteralWord reports whether w is built only from literal and quoted text.
func isLiteralWord(w *syntax.Word) bool {
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit, *syntax.SglQuoted:
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if _, ok := inner.(*syntax.Lit); !ok {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

// isExpansionOnly reports whether w is a single unquoted expansion with no
// surrounding literal text. Concatenations such as "dir/$X" are kept.
func isExpansionOnly(w *syntax.Word) bool {
	if len(w.Parts) != 1 {
		return false
	}
	switch w.Parts[0].(type) {
	case *syntax.ParamExp, *syntax.CmdSubst, *syntax.ArithmExp, *syntax.ProcSubst, *syntax.ExtGlob:
		return true
	}
	return false
}

// wordText returns the unquoted value of w. Expansions are kept verbatim as
// they appear in the source so that patterns see what the reader sees.
func wordText(src string, w *syntax.Word) string {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value, false))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				if lit, ok := inner.(*syntax.Lit); ok {
					sb.WriteString(unescape(lit.Value, true))
				} else {
					sb.WriteString(sourceSlice(src, inner))
				}
			}
		default:
			sb.WriteString(sourceSlice(src, part))
		}
	}
	return sb.String()
}

func sourceSlice(src string, n syntax.Node) string {
	start, end := int(n.Pos().Offset()), int(n.End().Offset())
	if start < 0 || end > len(src) || start > end {
		return ""
	}
	return src[start:end]
}

// unescape removes shell backslash escaping from literal text. Inside double
// quotes only $ ` " \ and newline are escapable.
func unescape(s string, quoted bool) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			sb.WriteByte(c)
			continue
		}
		next := s[i+1]
		if next == '\n' {
			i++
			continue
		}
		if quoted && !strings.ContainsRune("$`\"\\", rune(next)) {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte(next)
		i++
	}
	return sb.String()
}

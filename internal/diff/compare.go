// Package diff compares a reference text with a candidate text and renders
// the comparison as an HTML page or a unified diff.
//
// Every line is right-trimmed and given a single trailing newline before it
// is compared, so trailing spaces, carriage returns and a missing final
// newline never count as differences. The expensive part runs in a separate
// worker process that is killed when it overruns its deadline; see Renderer.
package diff

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Default labels for the two sides of a comparison.
const (
	ReferenceLabel = "reference"
	CandidateLabel = "candidate"
)

// Normalize splits text into lines, strips trailing whitespace from each
// and re-appends a single newline. A line ends at "\n", "\r\n" or a bare
// "\r", so progress output rewritten in place counts line by line.
func Normalize(text string) []string {
	lines := splitLines(text)
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace) + "\n"
	}
	return lines
}

// splitLines splits text after every line terminator, keeping it.
func splitLines(text string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			lines = append(lines, text[start:i+1])
			start = i + 1
		case '\r':
			end := i + 1
			if end < len(text) && text[end] == '\n' {
				end++
			}
			lines = append(lines, text[start:end])
			start = end
			i = end - 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// Comparison is the line-level alignment of two normalized texts.
type Comparison struct {
	Reference []string
	Candidate []string
	Ops       []difflib.OpCode
	Changed   int // differing line positions
}

// Identical reports whether the texts matched line for line.
func (c *Comparison) Identical() bool { return c.Changed == 0 }

// Compare aligns two normalized line slices.
func Compare(reference, candidate []string) *Comparison {
	ops := difflib.NewMatcher(reference, candidate).GetOpCodes()
	c := &Comparison{Reference: reference, Candidate: candidate, Ops: ops}
	for _, op := range ops {
		switch op.Tag {
		case 'r':
			c.Changed += max(op.I2-op.I1, op.J2-op.J1)
		case 'd':
			c.Changed += op.I2 - op.I1
		case 'i':
			c.Changed += op.J2 - op.J1
		}
	}
	return c
}

// CompareText normalizes and aligns two raw texts.
func CompareText(reference, candidate string) *Comparison {
	return Compare(Normalize(reference), Normalize(candidate))
}

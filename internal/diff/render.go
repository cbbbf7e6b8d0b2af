package diff

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Output formats.
const (
	FormatHTML    = "html"
	FormatUnified = "unified"
)

// Request is one comparison to render.
type Request struct {
	Reference      string `json:"reference"`
	Candidate      string `json:"candidate"`
	ReferenceLabel string `json:"reference_label,omitempty"`
	CandidateLabel string `json:"candidate_label,omitempty"`
	Format         string `json:"format,omitempty"` // html (default) or unified
}

func (r Request) labels() (string, string) {
	ref, cand := r.ReferenceLabel, r.CandidateLabel
	if ref == "" {
		ref = ReferenceLabel
	}
	if cand == "" {
		cand = CandidateLabel
	}
	return ref, cand
}

// Response is what a rendering produces.
type Response struct {
	Artifact  string `json:"artifact"`
	Identical bool   `json:"identical"`
	Changed   int    `json:"changed"`
}

// Build compares and renders req in the calling goroutine. Renderer runs it
// inside the worker process.
func Build(req Request) (Response, error) {
	c := CompareText(req.Reference, req.Candidate)
	var (
		artifact string
		err      error
	)
	switch req.Format {
	case "", FormatHTML:
		artifact, err = HTML(req, c)
	case FormatUnified:
		artifact, err = Unified(req, c)
	default:
		return Response{}, fmt.Errorf("unknown diff format %q", req.Format)
	}
	if err != nil {
		return Response{}, err
	}
	return Response{Artifact: artifact, Identical: c.Identical(), Changed: c.Changed}, nil
}

// Unified renders c as a unified diff with three lines of context. Identical
// inputs render as an empty string.
func Unified(req Request, c *Comparison) (string, error) {
	ref, cand := req.labels()
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        c.Reference,
		B:        c.Candidate,
		FromFile: ref,
		ToFile:   cand,
		Context:  3,
	})
}

type row struct {
	Class   string // equal, delete, insert, replace
	LeftNo  int
	RightNo int
	Left    template.HTML
	Right   template.HTML
}

type page struct {
	ReferenceLabel string
	CandidateLabel string
	Identical      bool
	Changed        int
	Rows           []row
}

// HTML renders c as a self-contained side-by-side page.
func HTML(req Request, c *Comparison) (string, error) {
	ref, cand := req.labels()
	p := page{
		ReferenceLabel: ref,
		CandidateLabel: cand,
		Identical:      c.Identical(),
		Changed:        c.Changed,
	}
	for _, op := range c.Ops {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				text := plain(c.Reference[op.I1+k])
				p.Rows = append(p.Rows, row{Class: "equal", LeftNo: op.I1 + k + 1, RightNo: op.J1 + k + 1, Left: text, Right: text})
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				p.Rows = append(p.Rows, row{Class: "delete", LeftNo: i + 1, Left: plain(c.Reference[i])})
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				p.Rows = append(p.Rows, row{Class: "insert", RightNo: j + 1, Right: plain(c.Candidate[j])})
			}
		case 'r':
			p.Rows = append(p.Rows, replaceRows(c, op)...)
		}
	}

	var b bytes.Buffer
	if err := pageTmpl.Execute(&b, p); err != nil {
		return "", fmt.Errorf("rendering html: %w", err)
	}
	return b.String(), nil
}

// replaceRows pairs the lines of a replaced block side by side and marks the
// characters that changed within each pair.
func replaceRows(c *Comparison, op difflib.OpCode) []row {
	n, m := op.I2-op.I1, op.J2-op.J1
	rows := make([]row, 0, max(n, m))
	for k := 0; k < max(n, m); k++ {
		r := row{Class: "replace"}
		switch {
		case k < n && k < m:
			r.LeftNo, r.RightNo = op.I1+k+1, op.J1+k+1
			r.Left, r.Right = intraline(trimNL(c.Reference[op.I1+k]), trimNL(c.Candidate[op.J1+k]))
		case k < n:
			r.Class = "delete"
			r.LeftNo = op.I1 + k + 1
			r.Left = plain(c.Reference[op.I1+k])
		default:
			r.Class = "insert"
			r.RightNo = op.J1 + k + 1
			r.Right = plain(c.Candidate[op.J1+k])
		}
		rows = append(rows, r)
	}
	return rows
}

// intraline highlights the runs of characters that differ between a and b.
func intraline(a, b string) (template.HTML, template.HTML) {
	ar, br := splitRunes(a), splitRunes(b)
	var left, right strings.Builder
	for _, op := range difflib.NewMatcher(ar, br).GetOpCodes() {
		l := template.HTMLEscapeString(strings.Join(ar[op.I1:op.I2], ""))
		r := template.HTMLEscapeString(strings.Join(br[op.J1:op.J2], ""))
		if op.Tag == 'e' {
			left.WriteString(l)
			right.WriteString(r)
			continue
		}
		if l != "" {
			fmt.Fprintf(&left, `<span class="chg">%s</span>`, l)
		}
		if r != "" {
			fmt.Fprintf(&right, `<span class="chg">%s</span>`, r)
		}
	}
	return template.HTML(left.String()), template.HTML(right.String())
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func plain(line string) template.HTML {
	return template.HTML(template.HTMLEscapeString(trimNL(line)))
}

func trimNL(line string) string {
	return strings.TrimSuffix(line, "\n")
}

var pageTmpl = template.Must(template.New("diff").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.ReferenceLabel}} vs {{.CandidateLabel}}</title>
<style>
body { font-family: sans-serif; }
table.diff { border-collapse: collapse; font-family: monospace; width: 100%; }
table.diff th { background: #e0e0e0; text-align: left; padding: 2px 6px; }
table.diff td { padding: 0 6px; white-space: pre; vertical-align: top; }
td.no { color: #888; text-align: right; width: 1%; }
tr.delete td.l, tr.replace td.l { background: #ffd7d5; }
tr.insert td.r, tr.replace td.r { background: #d4f8d4; }
span.chg { background: #ffeb99; }
p.summary { font-weight: bold; }
</style>
</head>
<body>
{{if .Identical}}<p class="summary">No differences found.</p>{{else}}<p class="summary">{{.Changed}} differing line(s).</p>{{end}}
<table class="diff">
<thead><tr><th colspan="2">{{.ReferenceLabel}}</th><th colspan="2">{{.CandidateLabel}}</th></tr></thead>
<tbody>
{{range .Rows}}<tr class="{{.Class}}"><td class="no">{{if .LeftNo}}{{.LeftNo}}{{end}}</td><td class="l">{{.Left}}</td><td class="no">{{if .RightNo}}{{.RightNo}}{{end}}</td><td class="r">{{.Right}}</td></tr>
{{end}}</tbody>
</table>
<table class="legend"><tr><td>Legend:</td><td style="background:#ffd7d5">only in {{.ReferenceLabel}}</td><td style="background:#d4f8d4">only in {{.CandidateLabel}}</td><td><span class="chg">changed characters</span></td></tr></table>
</body>
</html>
`))

package diag

import (
	"io"

	json "github.com/goccy/go-json"
)

// Issue is the machine-readable form of a diagnostic.
type Issue struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Phase  Phase  `json:"phase,omitempty"`
	Kind   Kind   `json:"kind,omitempty"`
	Decl   string `json:"decl,omitempty"`
	Detail string `json:"detail"`
}

// Issues flattens err into issues. Errors that are not diagnostics keep
// only their message.
func Issues(err error) []Issue {
	var out []Issue
	for _, e := range Errors(err) {
		d, ok := e.(*Error)
		if !ok {
			out = append(out, Issue{Detail: e.Error()})
			continue
		}
		is := Issue{
			File:   d.Pos.Filename,
			Line:   d.Pos.Line,
			Column: d.Pos.Column,
			Phase:  d.Phase,
			Kind:   d.Kind,
			Decl:   d.Decl,
			Detail: d.Detail,
		}
		if d.Cause != nil {
			if is.Detail != "" {
				is.Detail += ": "
			}
			is.Detail += d.Cause.Error()
		}
		out = append(out, is)
	}
	return out
}

// WriteJSON writes err as {"issues": [...]}.
func WriteJSON(w io.Writer, err error) error {
	issues := Issues(err)
	if issues == nil {
		issues = []Issue{}
	}
	b, merr := json.MarshalIndent(map[string]any{"issues": issues}, "", "  ")
	if merr != nil {
		return merr
	}
	_, werr := w.Write(append(b, '\n'))
	return werr
}

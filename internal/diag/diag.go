// Package diag provides the structured generation-time errors of mlbridge.
//
// Errors are categorised by Phase (where generation failed) and Kind (what
// went wrong) and carry the source position of the offending declaration:
//
//	err := diag.New(diag.PhaseInspect, diag.KindUnboxedArity).
//		At(pos).
//		Decl("Bound").
//		Detail("unboxed requires exactly one field, found %d", n).
//		Build()
//
// Several diagnostics are combined with go.uber.org/multierr; Errors splits
// them back apart. All errors support errors.Is against a template with the
// same phase and kind.
package diag

import (
	"fmt"
	"go/token"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Phase indicates which generation step produced the error.
type Phase string

const (
	PhaseConfig  Phase = "config"  // mlbridge.yaml
	PhaseLoad    Phase = "load"    // package loading
	PhaseParse   Phase = "parse"   // directive syntax
	PhaseInspect Phase = "inspect" // declaration shapes
	PhaseDerive  Phase = "derive"  // marshalling generation
	PhaseWeave   Phase = "weave"   // entry-point generation
	PhaseEmit    Phase = "emit"    // rendering and writing
)

// Kind categorises the error.
type Kind string

const (
	KindSyntax           Kind = "syntax"
	KindUnknownAttribute Kind = "unknown_attribute"
	KindConflictingRepr  Kind = "conflicting_repr"
	KindReprOnEnum       Kind = "repr_on_enum"
	KindUnboxedArity     Kind = "unboxed_arity"
	KindFloatField       Kind = "float_field"
	KindBadShape         Kind = "bad_shape"
	KindUnsupportedType  Kind = "unsupported_type"
	KindCollision        Kind = "collision"
	KindUnknownUnion     Kind = "unknown_union"
	KindMissingConverter Kind = "missing_converter"
	KindInvalidConfig    Kind = "invalid_config"
	KindIO               Kind = "io"
	KindFormat           Kind = "format"
)

// Error is a single diagnostic.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Pos    token.Position
	Decl   string
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))
	if e.Decl != "" {
		b.WriteString(" in ")
		b.WriteString(e.Decl)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction.
type Builder struct {
	err Error
}

// New creates an error builder.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

// At sets the source position.
func (b *Builder) At(pos token.Position) *Builder {
	b.err.Pos = pos
	return b
}

// Decl names the declaration the error refers to.
func (b *Builder) Decl(name string) *Builder {
	b.err.Decl = name
	return b
}

// Cause sets the underlying error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error.
func (b *Builder) Build() *Error {
	return &b.err
}

// List accumulates diagnostics.
type List struct {
	err error
}

// Add appends err to the list. Nil errors are ignored.
func (l *List) Add(err error) {
	l.err = multierr.Append(l.err, err)
}

// Len returns the number of collected diagnostics.
func (l *List) Len() int {
	return len(multierr.Errors(l.err))
}

// Err returns the combined error, sorted by position, or nil.
func (l *List) Err() error {
	errs := Errors(l.err)
	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool {
		a, b := posOf(errs[i]), posOf(errs[j])
		if a.Filename != b.Filename {
			return a.Filename < b.Filename
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
	return multierr.Combine(errs...)
}

// Errors splits a combined error into its diagnostics.
func Errors(err error) []error {
	return multierr.Errors(err)
}

func posOf(err error) token.Position {
	if e, ok := err.(*Error); ok {
		return e.Pos
	}
	return token.Position{}
}

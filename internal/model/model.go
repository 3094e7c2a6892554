// Package model holds the normalised declarations that the deriver and the
// weaver consume. The inspector is the only producer.
package model

import (
	"go/token"

	"github.com/funvibe/mlbridge/internal/directive"
)

// TypeKind classifies a field or parameter type for conversion.
type TypeKind int

const (
	KindInvalid TypeKind = iota
	KindInt              // all integer kinds
	KindBool
	KindFloat // float32, float64
	KindString
	KindBytes      // []byte
	KindFloatSlice // []float64
	KindSlice      // []E
	KindArray      // [N]E
	KindPointer    // *E, as an option
	KindValue      // the runtime's Value, passed through
	KindNamed      // a type with its own ToValue/FromValue pair
)

// TypeRef is a Go type as written in source, resolved enough to pick a
// conversion.
type TypeRef struct {
	Kind TypeKind
	// Expr is the type expression as it appears in generated code.
	Expr string
	// Name is the bare type name for KindNamed and the basic type name for
	// scalar kinds.
	Name string
	// Qualifier is the package name for a KindNamed type from another package.
	Qualifier string
	// Len is the array length for KindArray.
	Len string
	// LenQualifiers are the packages the array length expression refers to.
	LenQualifiers []string
	// Elem is the element type for slices, arrays and pointers.
	Elem *TypeRef
}

// Field is one field of a variant.
type Field struct {
	Name string
	Type *TypeRef
	Pos  token.Position
}

// Variant is one constructor of an aggregate.
type Variant struct {
	// Name is the Go struct type implementing the variant.
	Name   string
	Fields []*Field
	Repr   directive.Repr
	// Pointer is true when the variant implements its union through a
	// pointer receiver and is matched as *Name.
	Pointer bool
	Pos     token.Position
}

// Arity is the number of fields.
func (v *Variant) Arity() int { return len(v.Fields) }

// IsUnit reports whether the variant encodes as an immediate.
func (v *Variant) IsUnit() bool { return len(v.Fields) == 0 }

// Aggregate is a derived type. A struct is record-like with itself as the
// only variant; an interface is a union of its variant structs.
type Aggregate struct {
	Name     string
	Union    bool
	Variants []*Variant
	Caps     directive.Capabilities
	Pos      token.Position
}

// ToValueName is the generated to-value function.
func (a *Aggregate) ToValueName() string { return a.Name + "ToValue" }

// FromValueName is the generated from-value function.
func (a *Aggregate) FromValueName() string { return a.Name + "FromValue" }

// RecordLike reports whether the aggregate has a single variant.
func (a *Aggregate) RecordLike() bool { return len(a.Variants) == 1 }

// Param is one parameter of an entry point.
type Param struct {
	// Name is the source name, or "" for a wildcard.
	Name string
	Type *TypeRef
}

// Wildcard reports whether the parameter is _ or unnamed.
func (p *Param) Wildcard() bool { return p.Name == "" }

// Entry is an exported entry point.
type Entry struct {
	Name   string
	Symbol string
	FfiExn string
	Params []*Param
	// Result is nil for functions without a result.
	Result *TypeRef
	Pos    token.Position
}

// Trampoline is the Go name of the generated trampoline.
func (e *Entry) Trampoline() string { return "entry" + e.Name }

// Package is everything generated for one Go package.
type Package struct {
	Name       string
	Path       string
	Dir        string
	Aggregates []*Aggregate
	Entries    []*Entry
	// Imports maps package names used by field and parameter types to
	// their import paths.
	Imports map[string]string
	// Files are the source files that were inspected, excluding generated
	// output.
	Files []string
}

// Empty reports whether nothing in the package needs generating.
func (p *Package) Empty() bool {
	return len(p.Aggregates) == 0 && len(p.Entries) == 0
}

// GeneratedHeader is the first line of every generated file. Files that
// start with it are never inspected.
const GeneratedHeader = "// Code generated by mlbridge. DO NOT EDIT."

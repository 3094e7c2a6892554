package inspect

import (
	"fmt"
	"go/ast"
	"go/types"

	"github.com/funvibe/mlbridge/internal/model"
)

// fileScope is the per-file view needed to resolve type expressions.
type fileScope struct {
	// imports maps local package names to import paths.
	imports map[string]string
	runtime string
}

var intNames = map[string]bool{
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"uintptr": true, "byte": true, "rune": true,
}

// unsupportedError marks a type the generator has no conversion for.
type unsupportedError struct {
	expr   string
	reason string
}

func (e *unsupportedError) Error() string {
	return fmt.Sprintf("type %s is not supported: %s", e.expr, e.reason)
}

func unsupported(expr ast.Expr, format string, args ...any) error {
	return &unsupportedError{expr: types.ExprString(expr), reason: fmt.Sprintf(format, args...)}
}

// resolve maps a type expression to a TypeRef.
func (fs *fileScope) resolve(expr ast.Expr) (*model.TypeRef, error) {
	ref := &model.TypeRef{Expr: types.ExprString(expr)}
	switch e := expr.(type) {
	case *ast.ParenExpr:
		return fs.resolve(e.X)

	case *ast.Ident:
		name := e.Name
		ref.Name = name
		switch {
		case intNames[name]:
			ref.Kind = model.KindInt
		case name == "bool":
			ref.Kind = model.KindBool
		case name == "float32" || name == "float64":
			ref.Kind = model.KindFloat
		case name == "string":
			ref.Kind = model.KindString
		case name == "any":
			return nil, unsupported(expr, "dynamic types have no guest representation")
		case name == "error":
			return nil, unsupported(expr, "interfaces have no guest representation")
		case name == "complex64" || name == "complex128":
			return nil, unsupported(expr, "complex numbers have no guest representation")
		default:
			ref.Kind = model.KindNamed
		}
		return ref, nil

	case *ast.SelectorExpr:
		pkg, ok := e.X.(*ast.Ident)
		if !ok {
			return nil, unsupported(expr, "unexpected selector")
		}
		path, ok := fs.imports[pkg.Name]
		if !ok {
			return nil, unsupported(expr, "package %s is not imported", pkg.Name)
		}
		if path == fs.runtime && e.Sel.Name == "Value" {
			ref.Kind = model.KindValue
			ref.Name = "Value"
			return ref, nil
		}
		ref.Kind = model.KindNamed
		ref.Name = e.Sel.Name
		ref.Qualifier = pkg.Name
		return ref, nil

	case *ast.ArrayType:
		if _, ok := e.Len.(*ast.Ellipsis); ok {
			return nil, unsupported(expr, "array length must be explicit")
		}
		elem, err := fs.resolve(e.Elt)
		if err != nil {
			return nil, err
		}
		ref.Elem = elem
		if e.Len != nil {
			ref.Kind = model.KindArray
			ref.Len = types.ExprString(e.Len)
			ref.LenQualifiers = fs.qualifiers(e.Len)
			return ref, nil
		}
		switch {
		case elem.Kind == model.KindInt && (elem.Name == "byte" || elem.Name == "uint8"):
			ref.Kind = model.KindBytes
		case elem.Kind == model.KindFloat && elem.Name == "float64":
			ref.Kind = model.KindFloatSlice
		default:
			ref.Kind = model.KindSlice
		}
		return ref, nil

	case *ast.StarExpr:
		elem, err := fs.resolve(e.X)
		if err != nil {
			return nil, err
		}
		if elem.Kind == model.KindPointer {
			return nil, unsupported(expr, "nested options need a named type")
		}
		ref.Kind = model.KindPointer
		ref.Elem = elem
		return ref, nil

	case *ast.MapType:
		return nil, unsupported(expr, "maps have no guest representation")
	case *ast.ChanType:
		return nil, unsupported(expr, "channels have no guest representation")
	case *ast.FuncType:
		return nil, unsupported(expr, "first-class functions are not marshalled")
	case *ast.InterfaceType:
		return nil, unsupported(expr, "dynamic types have no guest representation")
	case *ast.StructType:
		return nil, unsupported(expr, "anonymous structs need a named, derived type")
	case *ast.IndexExpr, *ast.IndexListExpr:
		return nil, unsupported(expr, "generic types are not supported")
	case *ast.Ellipsis:
		return nil, unsupported(expr, "variadic parameters are not supported")
	}
	return nil, unsupported(expr, "unrecognised type expression")
}

// isDynamic reports whether expr is any or an empty interface, the Go
// counterpart of a parameter whose type is left to inference.
func isDynamic(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name == "any"
	case *ast.InterfaceType:
		return e.Methods == nil || len(e.Methods.List) == 0
	case *ast.ParenExpr:
		return isDynamic(e.X)
	}
	return false
}

// walk calls f for t and every element type below it.
func walk(t *model.TypeRef, f func(*model.TypeRef)) {
	for ; t != nil; t = t.Elem {
		f(t)
	}
}

// qualifiers lists the imported packages expr refers to, in order of first
// use.
func (fs *fileScope) qualifiers(expr ast.Expr) []string {
	var out []string
	seen := make(map[string]bool)
	ast.Inspect(expr, func(n ast.Node) bool {
		sel, ok := n.(*ast.SelectorExpr)
		if !ok {
			return true
		}
		if id, ok := sel.X.(*ast.Ident); ok {
			if _, imported := fs.imports[id.Name]; imported && !seen[id.Name] {
				seen[id.Name] = true
				out = append(out, id.Name)
			}
		}
		return false
	})
	return out
}

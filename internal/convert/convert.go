// Package convert renders the Go expressions that convert one field or
// parameter between its host type and a guest value.
package convert

import (
	"fmt"

	"github.com/funvibe/mlbridge/internal/model"
)

// Converter renders conversions against a runtime package qualifier,
// normally "mlvalue".
type Converter struct {
	RT string
}

// New returns a Converter for the given runtime package name.
func New(rt string) Converter {
	return Converter{RT: rt}
}

func (c Converter) rt(name string) string {
	return c.RT + "." + name
}

// ValueType is the generated spelling of the guest value type.
func (c Converter) ValueType() string {
	return c.rt("Value")
}

// ToValue returns an expression converting expr, of type t, to a guest value.
// The expression may allocate.
func (c Converter) ToValue(t *model.TypeRef, expr string) string {
	switch t.Kind {
	case model.KindInt:
		if t.Name == "int64" {
			return fmt.Sprintf("%s(%s)", c.rt("OfInt"), expr)
		}
		return fmt.Sprintf("%s(int64(%s))", c.rt("OfInt"), expr)
	case model.KindBool:
		return fmt.Sprintf("%s(%s)", c.rt("OfBool"), expr)
	case model.KindFloat:
		if t.Name == "float64" {
			return fmt.Sprintf("%s(%s)", c.rt("OfFloat"), expr)
		}
		return fmt.Sprintf("%s(float64(%s))", c.rt("OfFloat"), expr)
	case model.KindString:
		return fmt.Sprintf("%s(%s)", c.rt("OfString"), expr)
	case model.KindBytes:
		return fmt.Sprintf("%s(%s)", c.rt("OfBytes"), expr)
	case model.KindFloatSlice:
		return fmt.Sprintf("%s(%s)", c.rt("OfFloatSlice"), expr)
	case model.KindSlice:
		return fmt.Sprintf("%s(%s, %s)", c.rt("OfSlice"), expr, c.toFunc(t.Elem))
	case model.KindArray:
		if isFloat64(t.Elem) {
			return fmt.Sprintf("%s(%s[:])", c.rt("OfFloatSlice"), expr)
		}
		return fmt.Sprintf("%s(%s[:], %s)", c.rt("OfSlice"), expr, c.toFunc(t.Elem))
	case model.KindPointer:
		return fmt.Sprintf("%s(%s, %s)", c.rt("OfOption"), expr, c.toFunc(t.Elem))
	case model.KindValue:
		return expr
	case model.KindNamed:
		return fmt.Sprintf("%s(%s)", ToValueFunc(t), expr)
	}
	panic(fmt.Sprintf("convert: no to-value conversion for %s", t.Expr))
}

// FromValue returns an expression converting the guest value expr to t.
func (c Converter) FromValue(t *model.TypeRef, expr string) string {
	switch t.Kind {
	case model.KindInt:
		if t.Name == "int64" {
			return fmt.Sprintf("%s(%s)", c.rt("IntOf"), expr)
		}
		return fmt.Sprintf("%s(%s(%s))", t.Expr, c.rt("IntOf"), expr)
	case model.KindBool:
		return fmt.Sprintf("%s(%s)", c.rt("BoolOf"), expr)
	case model.KindFloat:
		if t.Name == "float64" {
			return fmt.Sprintf("%s(%s)", c.rt("FloatOf"), expr)
		}
		return fmt.Sprintf("%s(%s(%s))", t.Expr, c.rt("FloatOf"), expr)
	case model.KindString:
		return fmt.Sprintf("%s(%s)", c.rt("StringOf"), expr)
	case model.KindBytes:
		return fmt.Sprintf("%s(%s)", c.rt("BytesOf"), expr)
	case model.KindFloatSlice:
		return fmt.Sprintf("%s(%s)", c.rt("FloatSliceOf"), expr)
	case model.KindSlice:
		return fmt.Sprintf("%s(%s, %s)", c.rt("SliceOf"), expr, c.fromFunc(t.Elem))
	case model.KindArray:
		fill := fmt.Sprintf("%s(out[:], %s, %s)", c.rt("FillArray"), expr, c.fromFunc(t.Elem))
		if isFloat64(t.Elem) {
			fill = fmt.Sprintf("%s(out[:], %s)", c.rt("FillFloats"), expr)
		}
		return fmt.Sprintf("func() (out %s) { %s; return out }()", c.TypeExpr(t), fill)
	case model.KindPointer:
		return fmt.Sprintf("%s(%s, %s)", c.rt("OptionOf"), expr, c.fromFunc(t.Elem))
	case model.KindValue:
		return expr
	case model.KindNamed:
		return fmt.Sprintf("%s(%s)", FromValueFunc(t), expr)
	}
	panic(fmt.Sprintf("convert: no from-value conversion for %s", t.Expr))
}

// TypeExpr is the generated spelling of t. The guest value type is spelled
// with the runtime qualifier, however the source file imported it.
func (c Converter) TypeExpr(t *model.TypeRef) string {
	switch t.Kind {
	case model.KindValue:
		return c.ValueType()
	case model.KindSlice:
		return "[]" + c.TypeExpr(t.Elem)
	case model.KindArray:
		return "[" + t.Len + "]" + c.TypeExpr(t.Elem)
	case model.KindPointer:
		return "*" + c.TypeExpr(t.Elem)
	}
	return t.Expr
}

func (c Converter) toFunc(elem *model.TypeRef) string {
	return fmt.Sprintf("func(e %s) %s { return %s }", c.TypeExpr(elem), c.ValueType(), c.ToValue(elem, "e"))
}

func (c Converter) fromFunc(elem *model.TypeRef) string {
	return fmt.Sprintf("func(v %s) %s { return %s }", c.ValueType(), c.TypeExpr(elem), c.FromValue(elem, "v"))
}

// ToValueFunc is the name of the to-value function of a named type.
func ToValueFunc(t *model.TypeRef) string {
	return qualify(t, t.Name+"ToValue")
}

// FromValueFunc is the name of the from-value function of a named type.
func FromValueFunc(t *model.TypeRef) string {
	return qualify(t, t.Name+"FromValue")
}

func qualify(t *model.TypeRef, name string) string {
	if t.Qualifier == "" {
		return name
	}
	return t.Qualifier + "." + name
}

func isFloat64(t *model.TypeRef) bool {
	return t != nil && t.Kind == model.KindFloat && t.Name == "float64"
}

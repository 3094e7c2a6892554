// Package derive generates the to-value and from-value functions of derived
// aggregates.
//
// Each variant has a Shape fixed by its arity and representation. Variants
// are tagged with two independent counters, one for unit variants
// (immediates) and one for every other variant (blocks), each starting at 0.
// Generation then dispatches once per variant on capability × shape.
package derive

import (
	"bytes"
	"fmt"

	"github.com/funvibe/mlbridge/internal/convert"
	"github.com/funvibe/mlbridge/internal/directive"
	"github.com/funvibe/mlbridge/internal/model"
)

// Shape is the guest encoding of one variant.
type Shape int

const (
	Unit       Shape = iota // immediate carrying the unit tag
	Boxed                   // block of converted fields
	Unboxed                 // the sole field's own value
	FloatArray              // double-array block
	numShapes
)

func (s Shape) String() string {
	return [...]string{"unit", "boxed", "unboxed", "float_array"}[s]
}

// allocates reports whether building the shape allocates a block that must
// stay rooted while fields are converted.
func (s Shape) allocates() bool {
	return s == Boxed || s == FloatArray
}

// ShapeOf classifies a variant.
func ShapeOf(v *model.Variant) Shape {
	switch v.Repr {
	case directive.Unboxed:
		return Unboxed
	case directive.FloatsArray:
		return FloatArray
	}
	if v.IsUnit() {
		return Unit
	}
	return Boxed
}

// Tagged is a variant with its shape and tag.
type Tagged struct {
	*model.Variant
	Shape Shape
	// Tag is the immediate payload for unit variants and the block tag
	// otherwise. Unboxed variants carry no tag of their own.
	Tag int
}

// Tags numbers the variants of a in declaration order.
func Tags(a *model.Aggregate) []Tagged {
	out := make([]Tagged, 0, len(a.Variants))
	units, blocks := 0, 0
	for _, v := range a.Variants {
		t := Tagged{Variant: v, Shape: ShapeOf(v)}
		if v.IsUnit() {
			t.Tag = units
			units++
		} else {
			t.Tag = blocks
			blocks++
		}
		out = append(out, t)
	}
	return out
}

// Deriver renders derived functions.
type Deriver struct {
	conv convert.Converter
}

// New returns a Deriver for the runtime package named rt.
func New(rt string) *Deriver {
	return &Deriver{conv: convert.New(rt)}
}

type gen struct {
	*Deriver
	agg *model.Aggregate
	buf bytes.Buffer
}

func (g *gen) printf(format string, args ...any) {
	fmt.Fprintf(&g.buf, format, args...)
}

func (g *gen) rt(name string) string {
	return g.conv.RT + "." + name
}

type (
	toEmitter   func(g *gen, t Tagged, x string)
	fromEmitter func(g *gen, t Tagged)
)

// Emitters indexed by shape. To-value emitters assign the local value;
// from-value emitters write a switch case, or, for shapes without
// dispatch, the whole body.
var (
	toValue = [numShapes]toEmitter{
		Unit:       toUnit,
		Boxed:      toBoxed,
		Unboxed:    toUnboxed,
		FloatArray: toFloatArray,
	}
	fromValue = [numShapes]fromEmitter{
		Unit:       fromUnit,
		Boxed:      fromBoxed,
		Unboxed:    fromUnboxed,
		FloatArray: fromFloatArray,
	}
)

// dispatches reports whether from-value matches on the value's shape.
func dispatches(s Shape) bool {
	return s == Unit || s == Boxed
}

// Aggregate renders the requested capabilities of a.
func (d *Deriver) Aggregate(a *model.Aggregate) ([]byte, error) {
	if len(a.Variants) == 0 {
		return nil, fmt.Errorf("derive %s: no variants", a.Name)
	}
	g := &gen{Deriver: d, agg: a}
	tags := Tags(a)
	for _, t := range tags {
		switch {
		case !dispatches(t.Shape) && len(tags) > 1:
			return nil, fmt.Errorf("derive %s: %s variant %s in an enum-like declaration", a.Name, t.Shape, t.Name)
		case t.Shape == Unboxed && t.Arity() != 1:
			return nil, fmt.Errorf("derive %s: unboxed variant %s has %d fields", a.Name, t.Name, t.Arity())
		case t.Shape == FloatArray && t.Arity() == 0:
			return nil, fmt.Errorf("derive %s: floats_array variant %s has no fields", a.Name, t.Name)
		}
	}
	if a.Caps.Has(directive.ToValue) {
		g.toValueFunc(tags)
	}
	if a.Caps.Has(directive.FromValue) {
		g.fromValueFunc(tags)
	}
	return g.buf.Bytes(), nil
}

func (g *gen) toValueFunc(tags []Tagged) {
	a := g.agg
	g.printf("// %s converts x to a guest value.\n", a.ToValueName())
	g.printf("func %s(x %s) %s {\n", a.ToValueName(), a.Name, g.conv.ValueType())
	g.printf("var value %s\n", g.conv.ValueType())
	for _, t := range tags {
		if t.Shape.allocates() {
			g.printf("defer %s(&value)()\n", g.rt("Roots"))
			break
		}
	}
	if !a.Union {
		toValue[tags[0].Shape](g, tags[0], "x")
	} else {
		g.printf("switch x := x.(type) {\n")
		for _, t := range tags {
			g.printf("case %s:\n", caseType(t.Variant))
			toValue[t.Shape](g, t, "x")
		}
		g.printf("default:\n")
		g.printf("%s(\"unknown implementation %%T of %s\", x)\n", g.rt("Fatalf"), a.Name)
		g.printf("}\n")
	}
	g.printf("return value\n")
	g.printf("}\n\n")
}

func (g *gen) fromValueFunc(tags []Tagged) {
	a := g.agg
	g.printf("// %s reconstructs a %s from a guest value.\n", a.FromValueName(), a.Name)
	g.printf("func %s(value %s) %s {\n", a.FromValueName(), g.conv.ValueType(), a.Name)
	if len(tags) == 1 && !dispatches(tags[0].Shape) {
		fromValue[tags[0].Shape](g, tags[0])
		g.printf("}\n\n")
		return
	}
	g.printf("isBlock, tag, size := %s(value)\n", g.rt("Shape"))
	g.printf("switch {\n")
	for _, t := range tags {
		fromValue[t.Shape](g, t)
	}
	g.printf("}\n")
	g.printf("panic(%s(%q, isBlock, tag, size))\n", g.rt("UnknownVariant"), a.Name)
	g.printf("}\n\n")
}

func caseType(v *model.Variant) string {
	if v.Pointer {
		return "*" + v.Name
	}
	return v.Name
}

// literal builds a composite literal of the variant from field expressions.
func literal(v *model.Variant, exprs []string) string {
	var b bytes.Buffer
	if v.Pointer {
		b.WriteByte('&')
	}
	b.WriteString(v.Name)
	if len(exprs) == 0 {
		b.WriteString("{}")
		return b.String()
	}
	b.WriteString("{\n")
	for i, f := range v.Fields {
		fmt.Fprintf(&b, "%s: %s,\n", f.Name, exprs[i])
	}
	b.WriteString("}")
	return b.String()
}

func toUnit(g *gen, t Tagged, _ string) {
	g.printf("value = %s(%d)\n", g.rt("OfInt"), t.Tag)
}

// toBoxed fills every slot with Unit before converting any field, so a
// collection triggered by a conversion only sees initialised slots. Each
// conversion lands in a temporary first: value is re-read after the call.
func toBoxed(g *gen, t Tagged, x string) {
	g.printf("value = %s(%d, %d)\n", g.rt("Alloc"), t.Arity(), t.Tag)
	for i := range t.Fields {
		g.printf("%s(value, %d, %s)\n", g.rt("StoreField"), i, g.rt("Unit"))
	}
	for i, f := range t.Fields {
		g.printf("f%d := %s\n", i, g.conv.ToValue(f.Type, x+"."+f.Name))
		g.printf("%s(value, %d, f%d)\n", g.rt("StoreField"), i, i)
	}
}

func toUnboxed(g *gen, t Tagged, x string) {
	f := t.Fields[0]
	g.printf("value = %s\n", g.conv.ToValue(f.Type, x+"."+f.Name))
}

func toFloatArray(g *gen, t Tagged, x string) {
	g.printf("value = %s(%d, %s)\n", g.rt("Alloc"), t.Arity(), g.rt("DoubleArrayTag"))
	for i, f := range t.Fields {
		g.printf("%s(value, %d, %s)\n", g.rt("StoreDoubleField"), i, toFloat64(f, x+"."+f.Name))
	}
}

func toFloat64(f *model.Field, expr string) string {
	if f.Type.Kind == model.KindFloat && f.Type.Name == "float64" {
		return expr
	}
	return "float64(" + expr + ")"
}

func fromUnit(g *gen, t Tagged) {
	g.printf("case !isBlock && tag == %d:\n", t.Tag)
	g.printf("return %s\n", literal(t.Variant, nil))
}

func fromBoxed(g *gen, t Tagged) {
	g.printf("case isBlock && tag == %d && size == %d:\n", t.Tag, t.Arity())
	exprs := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		exprs[i] = g.conv.FromValue(f.Type, fmt.Sprintf("%s(value, %d)", g.rt("Field"), i))
	}
	g.printf("return %s\n", literal(t.Variant, exprs))
}

func fromUnboxed(g *gen, t Tagged) {
	f := t.Fields[0]
	g.printf("return %s\n", literal(t.Variant, []string{g.conv.FromValue(f.Type, "value")}))
}

// fromFloatArray asserts the double-array tag, then checks the length the
// way a block variant checks its size.
func fromFloatArray(g *gen, t Tagged) {
	g.printf("%s(value, %q)\n", g.rt("ExpectDoubleArray"), g.agg.Name)
	g.printf("if size := %s(value); size != %d {\n", g.rt("SizeOf"), t.Arity())
	g.printf("panic(%s(%q, true, 0, size))\n", g.rt("UnknownVariant"), g.agg.Name)
	g.printf("}\n")
	exprs := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		read := fmt.Sprintf("%s(value, %d)", g.rt("DoubleField"), i)
		if f.Type.Kind == model.KindFloat && f.Type.Name == "float64" {
			exprs[i] = read
		} else {
			exprs[i] = fmt.Sprintf("%s(%s)", f.Type.Expr, read)
		}
	}
	g.printf("return %s\n", literal(t.Variant, exprs))
}

// Package weave generates entry-point trampolines and their cgo exports.
//
// For an entry point
//
//	//mlbridge:entry(ffi_exn = "MyErr")
//	func Sum(a, b Triple) Triple
//
// the trampoline takes one guest value per parameter, registers the named
// ones and its result as roots, converts the arguments, calls Sum with
// panics contained and converts the result back:
//
//	func entrySum(arg0 mlvalue.Value, arg1 mlvalue.Value) mlvalue.Value {
//		var ret mlvalue.Value
//		defer mlvalue.Roots(&arg0, &arg1, &ret)()
//		res, ok := mlvalue.Catch(func() Triple {
//			x0 := TripleFromValue(arg0)
//			x1 := TripleFromValue(arg1)
//			return Sum(x0, x1)
//		})
//		if !ok {
//			mlvalue.RaiseHostPanic("MyErr")
//			return mlvalue.Unit
//		}
//		ret = TripleToValue(res)
//		return ret
//	}
//
// The export shim forwards the C symbol to the trampoline.
package weave

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/funvibe/mlbridge/internal/convert"
	"github.com/funvibe/mlbridge/internal/model"
)

// Weaver renders trampolines and export shims.
type Weaver struct {
	conv convert.Converter
}

// New returns a Weaver for the runtime package named rt.
func New(rt string) *Weaver {
	return &Weaver{conv: convert.New(rt)}
}

func (w *Weaver) rt(name string) string {
	return w.conv.RT + "." + name
}

func argName(i int) string { return fmt.Sprintf("arg%d", i) }

// Roots is the root list of the trampoline: every named parameter, in
// order, then the result local. Wildcards are not rooted.
func Roots(e *model.Entry) []string {
	var out []string
	for i, p := range e.Params {
		if !p.Wildcard() {
			out = append(out, "&"+argName(i))
		}
	}
	if e.Result != nil {
		out = append(out, "&ret")
	}
	return out
}

// Args is the argument list passed to the host function. Named parameters
// are converted into x<i> locals; wildcards receive the zero value of
// their type and are never converted.
func (w *Weaver) Args(e *model.Entry) []string {
	out := make([]string, len(e.Params))
	for i, p := range e.Params {
		if p.Wildcard() {
			out[i] = fmt.Sprintf("*new(%s)", w.conv.TypeExpr(p.Type))
		} else {
			out[i] = fmt.Sprintf("x%d", i)
		}
	}
	return out
}

// Trampoline renders the Go trampoline of e.
func (w *Weaver) Trampoline(e *model.Entry) []byte {
	var b bytes.Buffer
	p := func(format string, args ...any) { fmt.Fprintf(&b, format, args...) }
	vt := w.conv.ValueType()

	params := make([]string, len(e.Params))
	for i, prm := range e.Params {
		name := argName(i)
		if prm.Wildcard() {
			name = "_"
		}
		params[i] = name + " " + vt
	}
	result := ""
	if e.Result != nil {
		result = " " + vt
	}

	p("// %s adapts %s to the guest calling convention.\n", e.Trampoline(), e.Name)
	p("func %s(%s)%s {\n", e.Trampoline(), strings.Join(params, ", "), result)
	if e.Result != nil {
		p("var ret %s\n", vt)
	}
	p("defer %s(%s)()\n", w.rt("Roots"), strings.Join(Roots(e), ", "))

	var body bytes.Buffer
	for i, prm := range e.Params {
		if !prm.Wildcard() {
			fmt.Fprintf(&body, "x%d := %s\n", i, w.conv.FromValue(prm.Type, argName(i)))
		}
	}
	call := fmt.Sprintf("%s(%s)", e.Name, strings.Join(w.Args(e), ", "))

	if e.Result == nil {
		p("ok := %s(func() {\n%s%s\n})\n", w.rt("CatchVoid"), body.String(), call)
		p("if !ok {\n%s(%q)\n}\n", w.rt("RaiseHostPanic"), e.FfiExn)
		p("}\n\n")
		return b.Bytes()
	}

	p("res, ok := %s(func() %s {\n%sreturn %s\n})\n", w.rt("Catch"), w.conv.TypeExpr(e.Result), body.String(), call)
	p("if !ok {\n%s(%q)\nreturn %s\n}\n", w.rt("RaiseHostPanic"), e.FfiExn, w.rt("Unit"))
	p("ret = %s\n", w.conv.ToValue(e.Result, "res"))
	p("return ret\n")
	p("}\n\n")
	return b.Bytes()
}

// Export renders the cgo export shim of e. The C signature uses uintptr for
// every guest value.
func (w *Weaver) Export(e *model.Entry) []byte {
	var b bytes.Buffer
	params := make([]string, len(e.Params))
	args := make([]string, len(e.Params))
	for i := range e.Params {
		params[i] = fmt.Sprintf("%s uintptr", argName(i))
		args[i] = fmt.Sprintf("%s(%s)", w.conv.ValueType(), argName(i))
	}
	call := fmt.Sprintf("%s(%s)", e.Trampoline(), strings.Join(args, ", "))

	fmt.Fprintf(&b, "//export %s\n", e.Symbol)
	if e.Result == nil {
		fmt.Fprintf(&b, "func %s(%s) {\n%s\n}\n\n", e.Symbol, strings.Join(params, ", "), call)
		return b.Bytes()
	}
	fmt.Fprintf(&b, "func %s(%s) uintptr {\nreturn uintptr(%s)\n}\n\n", e.Symbol, strings.Join(params, ", "), call)
	return b.Bytes()
}

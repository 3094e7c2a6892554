package weave

import (
	"go/format"
	"reflect"
	"strings"
	"testing"

	"github.com/funvibe/mlbridge/internal/model"
)

func named(name string) *model.TypeRef {
	return &model.TypeRef{Kind: model.KindNamed, Expr: name, Name: name}
}

func formatted(t *testing.T, src []byte) string {
	t.Helper()
	out, err := format.Source(append([]byte("package p\n\n"), src...))
	if err != nil {
		t.Fatalf("generated code does not parse: %v\n%s", err, src)
	}
	return string(out)
}

func sumEntry() *model.Entry {
	return &model.Entry{
		Name:   "Sum",
		Symbol: "geom_sum",
		FfiExn: "MyErr",
		Params: []*model.Param{{Name: "a", Type: named("Triple")}, {Name: "b", Type: named("Triple")}},
		Result: named("Triple"),
	}
}

func TestTrampoline(t *testing.T) {
	t.Parallel()
	got := formatted(t, New("mlvalue").Trampoline(sumEntry()))
	want := `package p

// entrySum adapts Sum to the guest calling convention.
func entrySum(arg0 mlvalue.Value, arg1 mlvalue.Value) mlvalue.Value {
	var ret mlvalue.Value
	defer mlvalue.Roots(&arg0, &arg1, &ret)()
	res, ok := mlvalue.Catch(func() Triple {
		x0 := TripleFromValue(arg0)
		x1 := TripleFromValue(arg1)
		return Sum(x0, x1)
	})
	if !ok {
		mlvalue.RaiseHostPanic("MyErr")
		return mlvalue.Unit
	}
	ret = TripleToValue(res)
	return ret
}
`
	if got != want {
		t.Errorf("Trampoline:\n%s\nwant:\n%s", got, want)
	}
}

func TestTrampoline_NoResult(t *testing.T) {
	t.Parallel()
	e := &model.Entry{Name: "Reset", Symbol: "reset"}
	got := formatted(t, New("mlvalue").Trampoline(e))
	want := `package p

// entryReset adapts Reset to the guest calling convention.
func entryReset() {
	defer mlvalue.Roots()()
	ok := mlvalue.CatchVoid(func() {
		Reset()
	})
	if !ok {
		mlvalue.RaiseHostPanic("")
	}
}
`
	if got != want {
		t.Errorf("Trampoline:\n%s\nwant:\n%s", got, want)
	}
}

func TestTrampoline_Wildcard(t *testing.T) {
	t.Parallel()
	e := &model.Entry{
		Name:   "Norm",
		Symbol: "norm",
		Params: []*model.Param{
			{Name: "t", Type: named("Triple")},
			{Type: &model.TypeRef{Kind: model.KindInt, Expr: "int64", Name: "int64"}},
		},
		Result: &model.TypeRef{Kind: model.KindFloat, Expr: "float64", Name: "float64"},
	}
	if got, want := Roots(e), []string{"&arg0", "&ret"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Roots = %v, want %v", got, want)
	}
	if got, want := New("mlvalue").Args(e), []string{"x0", "*new(int64)"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Args = %v, want %v", got, want)
	}
	out := formatted(t, New("mlvalue").Trampoline(e))
	for _, want := range []string{
		"func entryNorm(arg0 mlvalue.Value, _ mlvalue.Value) mlvalue.Value {",
		"return Norm(x0, *new(int64))",
		"ret = mlvalue.OfFloat(res)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "arg1") {
		t.Errorf("wildcard argument is read:\n%s", out)
	}
}

func TestTrampoline_ValuePassThrough(t *testing.T) {
	t.Parallel()
	v := &model.TypeRef{Kind: model.KindValue, Expr: "mlvalue.Value", Name: "Value"}
	e := &model.Entry{
		Name:   "Ident",
		Symbol: "ident",
		Params: []*model.Param{{Name: "v", Type: v}},
		Result: v,
	}
	out := formatted(t, New("rt").Trampoline(e))
	for _, want := range []string{
		"res, ok := rt.Catch(func() rt.Value {",
		"x0 := arg0",
		"ret = res",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

// A wildcard of the guest value type imported under another name still
// names the generator's runtime qualifier.
func TestTrampoline_AliasedValueWildcard(t *testing.T) {
	t.Parallel()
	v := &model.TypeRef{Kind: model.KindValue, Expr: "ml.Value", Name: "Value"}
	e := &model.Entry{
		Name:   "Keep",
		Symbol: "keep",
		Params: []*model.Param{{Type: v}, {Name: "x", Type: v}},
		Result: v,
	}
	w := New("rt")
	if got, want := w.Args(e), []string{"*new(rt.Value)", "x1"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Args = %v, want %v", got, want)
	}
	out := formatted(t, w.Trampoline(e))
	if strings.Contains(out, "ml.Value") {
		t.Errorf("output spells the source alias:\n%s", out)
	}
	if !strings.Contains(out, "return Keep(*new(rt.Value), x1)") {
		t.Errorf("output lacks the wildcard zero value:\n%s", out)
	}
}

// Arguments are converted inside the contained call, so a host panic
// raised by a user converter becomes the entry's exception as well.
func TestTrampoline_ConvertsInsideCatch(t *testing.T) {
	t.Parallel()
	out := formatted(t, New("mlvalue").Trampoline(sumEntry()))
	catch := strings.Index(out, "mlvalue.Catch(")
	conv := strings.Index(out, "TripleFromValue(arg0)")
	if catch < 0 || conv < catch {
		t.Errorf("conversion happens outside Catch:\n%s", out)
	}
}

func TestExport(t *testing.T) {
	t.Parallel()
	got := formatted(t, New("mlvalue").Export(sumEntry()))
	want := `package p

//export geom_sum
func geom_sum(arg0 uintptr, arg1 uintptr) uintptr {
	return uintptr(entrySum(mlvalue.Value(arg0), mlvalue.Value(arg1)))
}
`
	if got != want {
		t.Errorf("Export:\n%s\nwant:\n%s", got, want)
	}

	e := &model.Entry{Name: "Reset", Symbol: "reset"}
	out := formatted(t, New("mlvalue").Export(e))
	if !strings.Contains(out, "func reset() {\n\tentryReset()\n}") {
		t.Errorf("void export:\n%s", out)
	}
}

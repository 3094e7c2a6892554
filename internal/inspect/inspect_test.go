package inspect

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/directive"
	"github.com/funvibe/mlbridge/internal/model"
)

const runtimePath = "github.com/funvibe/mlbridge/pkg/mlvalue"

const geoSource = `package geo

import (
	"strings"

	"example.com/ext"
	"github.com/funvibe/mlbridge/pkg/mlvalue"
)

//mlbridge:derive
//mlbridge:attr(floats_array)
type Vec struct{ X, Y float64 }

//mlbridge:derive
//mlbridge:attr(unboxed)
type ID struct{ N int }

//mlbridge:derive
type Shape interface{ isShape() }

//mlbridge:variant(Shape)
type Dot struct{}

//mlbridge:variant(Shape)
type Seg struct {
	A, B Vec
	Tag  ext.Label
}

func (Dot) isShape()  {}
func (*Seg) isShape() {}

//mlbridge:entry(ffi_exn = "GeoErr")
func MoveBy(s Shape, _ int, raw mlvalue.Value) *Vec { return nil }

func Upper(s string) string { return strings.ToUpper(s) }
`

func inspectFiles(t *testing.T, opts Options, files map[string]string) (*model.Package, error) {
	t.Helper()
	src, err := ParseFiles("example.com/geo", files)
	if err != nil {
		t.Fatalf("ParseFiles: %v", err)
	}
	if opts.Runtime == "" {
		opts.Runtime = runtimePath
	}
	return Inspect(src, opts)
}

func kinds(err error) []diag.Kind {
	var out []diag.Kind
	for _, e := range diag.Errors(err) {
		var d *diag.Error
		if errors.As(e, &d) {
			out = append(out, d.Kind)
		}
	}
	return out
}

func TestInspect_Package(t *testing.T) {
	t.Parallel()
	pkg, err := inspectFiles(t, Options{SymbolPrefix: "geo_"}, map[string]string{"geo.go": geoSource})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if pkg.Name != "geo" || pkg.Path != "example.com/geo" {
		t.Errorf("package = %s (%s)", pkg.Name, pkg.Path)
	}

	var names []string
	for _, a := range pkg.Aggregates {
		names = append(names, a.Name)
	}
	if want := []string{"Vec", "ID", "Shape"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("aggregates = %v, want %v", names, want)
	}

	vec, id, shape := pkg.Aggregates[0], pkg.Aggregates[1], pkg.Aggregates[2]
	if vec.Union || vec.Variants[0].Repr != directive.FloatsArray || vec.Variants[0].Arity() != 2 {
		t.Errorf("Vec = %+v", vec.Variants[0])
	}
	if vec.Caps != directive.Both {
		t.Errorf("Vec caps = %v", vec.Caps)
	}
	if id.Variants[0].Repr != directive.Unboxed || id.Variants[0].Fields[0].Type.Kind != model.KindInt {
		t.Errorf("ID = %+v", id.Variants[0])
	}

	if !shape.Union || len(shape.Variants) != 2 {
		t.Fatalf("Shape = %+v", shape)
	}
	dot, seg := shape.Variants[0], shape.Variants[1]
	if dot.Name != "Dot" || !dot.IsUnit() || dot.Pointer {
		t.Errorf("Dot = %+v", dot)
	}
	if seg.Name != "Seg" || seg.Arity() != 3 || !seg.Pointer {
		t.Errorf("Seg = %+v", seg)
	}
	if tag := seg.Fields[2].Type; tag.Kind != model.KindNamed || tag.Qualifier != "ext" || tag.Name != "Label" {
		t.Errorf("Seg.Tag = %+v", tag)
	}

	if len(pkg.Entries) != 1 {
		t.Fatalf("entries = %d", len(pkg.Entries))
	}
	e := pkg.Entries[0]
	if e.Symbol != "geo_move_by" || e.FfiExn != "GeoErr" {
		t.Errorf("entry = %s ffi_exn=%q", e.Symbol, e.FfiExn)
	}
	if len(e.Params) != 3 || e.Params[0].Name != "s" || !e.Params[1].Wildcard() || e.Params[2].Type.Kind != model.KindValue {
		t.Errorf("params = %+v %+v %+v", e.Params[0], e.Params[1], e.Params[2])
	}
	if e.Result == nil || e.Result.Kind != model.KindPointer || e.Result.Elem.Name != "Vec" {
		t.Errorf("result = %+v", e.Result)
	}

	// strings is only used by hand-written code, the runtime is imported
	// separately.
	if want := map[string]string{"ext": "example.com/ext"}; !reflect.DeepEqual(pkg.Imports, want) {
		t.Errorf("imports = %v, want %v", pkg.Imports, want)
	}
}

func TestInspect_ExplicitSymbol(t *testing.T) {
	t.Parallel()
	pkg, err := inspectFiles(t, Options{SymbolPrefix: "geo_"}, map[string]string{"a.go": `package a

//mlbridge:entry(symbol = "rust_add")
func Add(a, b int) int { return a + b }
`})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if got := pkg.Entries[0].Symbol; got != "rust_add" {
		t.Errorf("symbol = %s, prefix must not apply to explicit symbols", got)
	}
	if pkg.Entries[0].FfiExn != "" {
		t.Errorf("ffi_exn = %q", pkg.Entries[0].FfiExn)
	}
}

func TestInspect_SingleVariantUnionTakesAttributes(t *testing.T) {
	t.Parallel()
	pkg, err := inspectFiles(t, Options{}, map[string]string{"a.go": `package a

//mlbridge:derive
type Wrap interface{ isWrap() }

//mlbridge:variant(Wrap)
//mlbridge:attr(unboxed)
type Only struct{ V int }

func (Only) isWrap() {}
`})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if r := pkg.Aggregates[0].Variants[0].Repr; r != directive.Unboxed {
		t.Errorf("repr = %s", r)
	}
}

func TestInspect_SkipsGeneratedFiles(t *testing.T) {
	t.Parallel()
	pkg, err := inspectFiles(t, Options{Skip: []string{"out.go"}}, map[string]string{
		"a.go": `package a

//mlbridge:derive
type T struct{ A int }
`,
		"gen.go": model.GeneratedHeader + `

package a

func TToValue() {}
`,
		"out.go": `package a

func TFromValue() {}
`,
	})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if want := []string{"a.go"}; !reflect.DeepEqual(pkg.Files, want) {
		t.Errorf("files = %v, want %v", pkg.Files, want)
	}
}

func TestInspect_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		src  string
		want diag.Kind
	}{
		{
			"unknown attribute",
			"//mlbridge:derive\n//mlbridge:attr(packed)\ntype T struct{ A int }",
			diag.KindUnknownAttribute,
		},
		{
			"unknown directive",
			"//mlbridge:unbox\ntype T struct{ A int }",
			diag.KindSyntax,
		},
		{
			"conflicting repr",
			"//mlbridge:derive\n//mlbridge:attr(unboxed, floats_array)\ntype T struct{ A float64 }",
			diag.KindConflictingRepr,
		},
		{
			"repr on enum",
			"//mlbridge:derive\n//mlbridge:attr(unboxed)\ntype U interface{ isU() }\n\n//mlbridge:variant(U)\ntype A struct{}",
			diag.KindReprOnEnum,
		},
		{
			"repr on variant of enum",
			"//mlbridge:derive\ntype U interface{ isU() }\n\n//mlbridge:variant(U)\n//mlbridge:attr(unboxed)\ntype A struct{ N int }\n\n//mlbridge:variant(U)\ntype B struct{}",
			diag.KindReprOnEnum,
		},
		{
			"unboxed arity",
			"//mlbridge:derive\n//mlbridge:attr(unboxed)\ntype T struct{ A, B int }",
			diag.KindUnboxedArity,
		},
		{
			"float field",
			"//mlbridge:derive\n//mlbridge:attr(floats_array)\ntype T struct {\n\tX float64\n\tN int\n}",
			diag.KindFloatField,
		},
		{
			"unknown union",
			"//mlbridge:variant(Nope)\ntype A struct{}",
			diag.KindUnknownUnion,
		},
		{
			"empty union",
			"//mlbridge:derive\ntype U interface{ isU() }",
			diag.KindBadShape,
		},
		{
			"map field",
			"//mlbridge:derive\ntype T struct{ M map[string]int }",
			diag.KindUnsupportedType,
		},
		{
			"dynamic parameter",
			"//mlbridge:entry\nfunc F(x any) {}",
			diag.KindUnsupportedType,
		},
		{
			"missing converter",
			"type Point struct{}\n\n//mlbridge:derive\ntype T struct{ P Point }",
			diag.KindMissingConverter,
		},
		{
			"missing from_value",
			"//mlbridge:derive(to_value)\ntype P struct{ A int }\n\n//mlbridge:entry\nfunc F(p P) {}",
			diag.KindMissingConverter,
		},
		{
			"collision with user code",
			"//mlbridge:derive\ntype T struct{ A int }\n\nfunc TToValue() {}",
			diag.KindCollision,
		},
		{
			"duplicate symbol",
			"//mlbridge:entry(symbol = \"s\")\nfunc A() {}\n\n//mlbridge:entry(symbol = \"s\")\nfunc B() {}",
			diag.KindCollision,
		},
		{
			"unexported entry",
			"//mlbridge:entry\nfunc f() {}",
			diag.KindBadShape,
		},
		{
			"method entry",
			"type T struct{}\n\n//mlbridge:entry\nfunc (T) F() {}",
			diag.KindBadShape,
		},
		{
			"two results",
			"//mlbridge:entry\nfunc F() (int, error) { return 0, nil }",
			diag.KindBadShape,
		},
		{
			"derive on function",
			"//mlbridge:derive\nfunc F() {}",
			diag.KindBadShape,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := inspectFiles(t, Options{}, map[string]string{"a.go": "package a\n\n" + tt.src + "\n"})
			if err == nil {
				t.Fatal("Inspect succeeded")
			}
			got := kinds(err)
			for _, k := range got {
				if k == tt.want {
					return
				}
			}
			t.Errorf("kinds = %v, want %s\n%v", got, tt.want, err)
		})
	}
}

func TestInspect_ReportsEveryProblem(t *testing.T) {
	t.Parallel()
	_, err := inspectFiles(t, Options{}, map[string]string{"a.go": `package a

//mlbridge:derive
//mlbridge:attr(unboxed)
type A struct{ X, Y int }

//mlbridge:variant(Missing)
type B struct{}
`})
	got := kinds(err)
	if want := []diag.Kind{diag.KindUnboxedArity, diag.KindUnknownUnion}; !reflect.DeepEqual(got, want) {
		t.Errorf("kinds = %v, want %v", got, want)
	}
}

func TestInspect_AmbiguousImport(t *testing.T) {
	t.Parallel()
	_, err := inspectFiles(t, Options{}, map[string]string{
		"a.go": `package a

import x "example.com/one"

//mlbridge:derive
type A struct{ V x.T }
`,
		"b.go": `package a

import x "example.com/two"

//mlbridge:derive
type B struct{ V x.T }
`,
	})
	if err == nil || !strings.Contains(err.Error(), "different import paths") {
		t.Errorf("err = %v", err)
	}
}

func TestInspect_KeepsArrayLengthImports(t *testing.T) {
	t.Parallel()
	pkg, err := inspectFiles(t, Options{}, map[string]string{
		"d.go": `package d

import (
	"crypto/sha256"
	"strings"
)

//mlbridge:derive
type Digest struct {
	Sum  [sha256.Size]byte
	Tags [2][sha256.BlockSize]byte
}

func lower(s string) string { return strings.ToLower(s) }
`,
	})
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if want := map[string]string{"sha256": "crypto/sha256"}; !reflect.DeepEqual(pkg.Imports, want) {
		t.Errorf("Imports = %v, want %v", pkg.Imports, want)
	}
	fields := pkg.Aggregates[0].Variants[0].Fields
	if got := fields[0].Type.LenQualifiers; !reflect.DeepEqual(got, []string{"sha256"}) {
		t.Errorf("LenQualifiers = %v", got)
	}
	if got := fields[1].Type.Elem.LenQualifiers; !reflect.DeepEqual(got, []string{"sha256"}) {
		t.Errorf("nested LenQualifiers = %v", got)
	}
}

func TestSnakeCase(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Sum":       "sum",
		"SumAll":    "sum_all",
		"HTTPServe": "http_serve",
		"Vec3Add":   "vec3_add",
		"ID":        "id",
		"ParseURL":  "parse_url",
		"already_s": "already_s",
	}
	for in, want := range tests {
		if got := SnakeCase(in); got != want {
			t.Errorf("SnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGuessName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"example.com/foo":            "foo",
		"example.com/foo/v2":         "foo",
		"github.com/mattn/go-isatty": "isatty",
		"example.com/b-c":            "b_c",
	}
	for in, want := range tests {
		if got := guessName(in); got != want {
			t.Errorf("guessName(%q) = %q, want %q", in, got, want)
		}
	}
}

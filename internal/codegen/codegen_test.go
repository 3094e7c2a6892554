package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/funvibe/mlbridge/internal/config"
	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/directive"
	"github.com/funvibe/mlbridge/internal/model"
)

func TestImportAlias(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path string
		want string
	}{
		{"github.com/funvibe/mlbridge/pkg/mlvalue", "mlvalue"},
		{"example.com/ml-value", "mlvalue"},
		{"example.com/mlvalue/v2", "mlvalue"},
		{"example.com/go", "pkgGo"},
		{"example.com/value", "pkgValue"},
		{"example.com/2d", "pkg2d"},
		{"example.com/v", "v"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := ImportAlias(tt.path); got != tt.want {
				t.Errorf("ImportAlias(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRuntimeAlias(t *testing.T) {
	t.Parallel()
	rt := config.DefaultRuntime
	tests := []struct {
		name string
		pkg  *model.Package
		want string
	}{
		{"free", &model.Package{Name: "geom"}, "mlvalue"},
		{"user import", &model.Package{Name: "geom", Imports: map[string]string{"mlvalue": "example.com/other/mlvalue"}}, "mlvalue2"},
		{"package name", &model.Package{Name: "mlvalue"}, "mlvalue2"},
		{"both", &model.Package{Name: "mlvalue", Imports: map[string]string{"mlvalue2": "example.com/x"}}, "mlvalue3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RuntimeAlias(rt, tt.pkg); got != tt.want {
				t.Errorf("RuntimeAlias = %q, want %q", got, tt.want)
			}
		})
	}
}

func float64Ref() *model.TypeRef {
	return &model.TypeRef{Kind: model.KindFloat, Expr: "float64", Name: "float64"}
}

func namedRef(name string) *model.TypeRef {
	return &model.TypeRef{Kind: model.KindNamed, Expr: name, Name: name}
}

func geomPackage() *model.Package {
	triple := &model.Aggregate{
		Name: "Triple",
		Caps: directive.Both,
		Variants: []*model.Variant{{
			Name: "Triple",
			Repr: directive.FloatsArray,
			Fields: []*model.Field{
				{Name: "X", Type: float64Ref()},
				{Name: "Y", Type: float64Ref()},
				{Name: "Z", Type: float64Ref()},
			},
		}},
	}
	return &model.Package{
		Name:       "geom",
		Aggregates: []*model.Aggregate{triple},
		Entries: []*model.Entry{{
			Name:   "Sum",
			Symbol: "geom_sum",
			FfiExn: "MyErr",
			Params: []*model.Param{
				{Name: "a", Type: namedRef("Triple")},
				{Name: "b", Type: namedRef("Triple")},
			},
			Result: namedRef("Triple"),
		}},
	}
}

func TestGenerate_Empty(t *testing.T) {
	cg := NewCodeGenerator(nil)
	files, err := cg.Generate(&model.Package{Name: "geom"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}
	for _, f := range files {
		if !f.Remove() {
			t.Errorf("%s: expected removal for an empty package", f.Name)
		}
	}
}

func TestGenerate_Package(t *testing.T) {
	cg := NewCodeGenerator(nil)
	files, err := cg.Generate(geomPackage())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	gen, export := string(files[0].Content), string(files[1].Content)
	if files[0].Name != config.DefaultOutput || files[1].Name != config.DefaultExportOutput {
		t.Fatalf("names = %s, %s", files[0].Name, files[1].Name)
	}

	if !strings.HasPrefix(gen, model.GeneratedHeader+"\n") {
		t.Errorf("generated file does not start with the header:\n%s", gen)
	}
	for _, want := range []string{
		"package geom",
		`mlvalue "github.com/funvibe/mlbridge/pkg/mlvalue"`,
		"func TripleToValue(x Triple) mlvalue.Value {",
		"mlvalue.Alloc(3, mlvalue.DoubleArrayTag)",
		"func TripleFromValue(value mlvalue.Value) Triple {",
		"func entrySum(arg0 mlvalue.Value, arg1 mlvalue.Value) mlvalue.Value {",
		"defer mlvalue.Roots(&arg0, &arg1, &ret)()",
		`mlvalue.RaiseHostPanic("MyErr")`,
	} {
		if !strings.Contains(gen, want) {
			t.Errorf("generated file lacks %q:\n%s", want, gen)
		}
	}
	if strings.Contains(gen, "//go:build") {
		t.Errorf("unexpected build constraint:\n%s", gen)
	}

	for _, want := range []string{
		"//go:build cgo\n",
		`import "C"`,
		"//export geom_sum\nfunc geom_sum(arg0 uintptr, arg1 uintptr) uintptr {",
		"return uintptr(entrySum(mlvalue.Value(arg0), mlvalue.Value(arg1)))",
	} {
		if !strings.Contains(export, want) {
			t.Errorf("export file lacks %q:\n%s", want, export)
		}
	}
}

func TestGenerate_BuildTagsAndNoCgo(t *testing.T) {
	cfg, err := config.ParseConfig([]byte("cgo: false\nbuild_tags: [linux, \"a || b\"]\n"), "")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	files, err := NewCodeGenerator(cfg).Generate(geomPackage())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	gen := string(files[0].Content)
	if !strings.Contains(gen, "//go:build linux && (a || b)\n") {
		t.Errorf("missing build constraint:\n%s", gen)
	}
	if !files[1].Remove() {
		t.Errorf("export file written with cgo disabled:\n%s", files[1].Content)
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	pkg := geomPackage()
	pkg.Imports = map[string]string{"b": "example.com/b", "a": "example.com/a"}
	cg := NewCodeGenerator(nil)
	first, err := cg.Generate(pkg)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := cg.Generate(pkg)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if string(again[0].Content) != string(first[0].Content) {
			t.Fatalf("output differs between runs")
		}
	}
	gen := string(first[0].Content)
	if strings.Index(gen, `"example.com/a"`) > strings.Index(gen, `"example.com/b"`) {
		t.Errorf("imports not sorted:\n%s", gen)
	}
}

func TestGenerate_DeriveError(t *testing.T) {
	pkg := &model.Package{
		Name: "geom",
		Aggregates: []*model.Aggregate{{
			Name: "Bad",
			Caps: directive.Both,
			Variants: []*model.Variant{{
				Name: "Bad",
				Repr: directive.Unboxed,
				Fields: []*model.Field{
					{Name: "A", Type: float64Ref()},
					{Name: "B", Type: float64Ref()},
				},
			}},
		}},
	}
	_, err := NewCodeGenerator(nil).Generate(pkg)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, diag.New(diag.PhaseDerive, diag.KindBadShape).Build()) {
		t.Errorf("err = %v, want a derive/bad_shape diagnostic", err)
	}
}

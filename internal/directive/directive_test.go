package directive

import (
	"errors"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"reflect"
	"strings"
	"testing"

	"github.com/funvibe/mlbridge/internal/diag"
)

func TestParse(t *testing.T) {
	tests := []struct {
		text  string
		name  string
		words []string
		pairs []Pair
		args  bool
	}{
		{text: "//mlbridge:derive", name: "derive"},
		{text: "//mlbridge:derive()", name: "derive", args: true},
		{text: "//mlbridge:derive(to_value)", name: "derive", words: []string{"to_value"}, args: true},
		{text: "//mlbridge:attr(unboxed, floats_array,)", name: "attr", words: []string{"unboxed", "floats_array"}, args: true},
		{text: "//mlbridge:variant(Unrolled)", name: "variant", words: []string{"Unrolled"}, args: true},
		{
			text:  `//mlbridge:entry(ffi_exn = "MyErr", symbol = "rust_add_vecs")`,
			name:  "entry",
			pairs: []Pair{{"ffi_exn", "MyErr"}, {"symbol", "rust_add_vecs"}},
			args:  true,
		},
		{text: "//mlbridge:entry(ffi_exn=`raw`)", name: "entry", pairs: []Pair{{"ffi_exn", "raw"}}, args: true},
		{text: "//mlbridge:entry // trailing", name: "entry"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			d, err := Parse(tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Name != tt.name {
				t.Errorf("name = %q, want %q", d.Name, tt.name)
			}
			if !reflect.DeepEqual(d.Words, tt.words) {
				t.Errorf("words = %v, want %v", d.Words, tt.words)
			}
			if !reflect.DeepEqual(d.Pairs, tt.pairs) {
				t.Errorf("pairs = %v, want %v", d.Pairs, tt.pairs)
			}
			if d.HasArgs != tt.args {
				t.Errorf("HasArgs = %t, want %t", d.HasArgs, tt.args)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"// mlbridge:derive", "not an mlbridge directive"},
		{"//mlbridge:", "expected IDENT"},
		{"//mlbridge:unbox", "unknown directive mlbridge:unbox"},
		{"//mlbridge:attr(unboxed", "expected )"},
		{"//mlbridge:entry(ffi_exn = MyErr)", "must be a string literal"},
		{"//mlbridge:entry(ffi_exn = 3)", "must be a string literal"},
		{"//mlbridge:attr(unboxed) extra", "unexpected"},
		{"//mlbridge:attr(unboxed floats_array)", "expected )"},
		{"//mlbridge:attr(@)", "column"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := Parse(tt.text)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func mustParse(t *testing.T, text string) *Directive {
	t.Helper()
	d, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse(%q): %v", text, err)
	}
	return d
}

func TestReprOf(t *testing.T) {
	tests := []struct {
		texts []string
		want  Repr
		err   string
	}{
		{texts: nil, want: Boxed},
		{texts: []string{"//mlbridge:attr(unboxed)"}, want: Unboxed},
		{texts: []string{"//mlbridge:attr(floats_array)"}, want: FloatsArray},
		{texts: []string{"//mlbridge:attr(unboxed)", "//mlbridge:attr(unboxed)"}, want: Unboxed},
		{texts: []string{"//mlbridge:attr(unboxed, floats_array)"}, err: "conflicting representation attributes"},
		{texts: []string{"//mlbridge:attr(floats_array)", "//mlbridge:attr(unboxed)"}, err: "conflicting representation attributes"},
		{texts: []string{"//mlbridge:attr(packed)"}, err: `unknown attribute "packed"`},
		{texts: []string{`//mlbridge:attr(ffi_exn = "E")`}, err: "unknown attribute ffi_exn"},
		{texts: []string{"//mlbridge:attr"}, err: "empty attribute list"},
		{texts: []string{"//mlbridge:derive"}, err: "not an attr directive"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.texts, " "), func(t *testing.T) {
			var ds []*Directive
			for _, text := range tt.texts {
				ds = append(ds, mustParse(t, text))
			}
			got, err := ReprOf(ds...)
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("error = %v, want %q", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ReprOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEntryOf(t *testing.T) {
	tests := []struct {
		text string
		want EntryAttrs
		err  string
	}{
		{text: "//mlbridge:entry"},
		{text: `//mlbridge:entry(ffi_exn = "MyErr")`, want: EntryAttrs{FfiExn: "MyErr"}},
		{text: `//mlbridge:entry(symbol = "rust_add_vecs")`, want: EntryAttrs{Symbol: "rust_add_vecs"}},
		{text: `//mlbridge:entry(ffi_exn = "")`, err: "must not be empty"},
		{text: `//mlbridge:entry(symbol = "add-vecs")`, err: "not a C identifier"},
		{text: `//mlbridge:entry(ffi_exn = "A", ffi_exn = "B")`, err: "duplicate"},
		{text: `//mlbridge:entry(unboxed)`, err: `unknown entry attribute "unboxed"`},
		{text: `//mlbridge:entry(retries = "3")`, err: "unknown entry attribute retries"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := EntryOf(mustParse(t, tt.text))
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("error = %v, want %q", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("EntryOf = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDeriveOf(t *testing.T) {
	tests := []struct {
		texts []string
		want  Capabilities
		err   string
	}{
		{texts: []string{"//mlbridge:derive"}, want: Both},
		{texts: []string{"//mlbridge:derive(to_value)"}, want: ToValue},
		{texts: []string{"//mlbridge:derive(from_value)"}, want: FromValue},
		{texts: []string{"//mlbridge:derive(to_value)", "//mlbridge:derive(from_value)"}, want: Both},
		{texts: []string{"//mlbridge:derive(debug)"}, err: "unknown derive capability"},
		{texts: []string{`//mlbridge:derive(x = "y")`}, err: "unknown derive option"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.texts, " "), func(t *testing.T) {
			var ds []*Directive
			for _, text := range tt.texts {
				ds = append(ds, mustParse(t, text))
			}
			got, err := DeriveOf(ds...)
			if tt.err != "" {
				if err == nil || !strings.Contains(err.Error(), tt.err) {
					t.Fatalf("error = %v, want %q", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DeriveOf = %b, want %b", got, tt.want)
			}
		})
	}
}

func TestVariantOf(t *testing.T) {
	name, err := VariantOf(mustParse(t, "//mlbridge:variant(Unrolled)"))
	if err != nil || name != "Unrolled" {
		t.Fatalf("VariantOf = %q, %v", name, err)
	}
	for _, text := range []string{
		"//mlbridge:variant",
		"//mlbridge:variant(A, B)",
		`//mlbridge:variant(union = "A")`,
	} {
		if _, err := VariantOf(mustParse(t, text)); err == nil {
			t.Errorf("VariantOf(%q): expected error", text)
		}
	}
}

func TestFind(t *testing.T) {
	src := `package p

// Triple is a point.
//
//mlbridge:derive
//mlbridge:attr(floats_array)
type Triple struct{ X, Y, Z float32 }

//mlbridge:attr(bogus
//mlbridge:entry
func Bad() {}
`
	fset := token.NewFileSet()
	f, err := goparser.ParseFile(fset, "p.go", src, goparser.ParseComments)
	if err != nil {
		t.Fatal(err)
	}

	var docs []*ast.CommentGroup
	for _, decl := range f.Decls {
		switch decl := decl.(type) {
		case *ast.GenDecl:
			docs = append(docs, decl.Doc)
		case *ast.FuncDecl:
			docs = append(docs, decl.Doc)
		}
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 declarations, got %d", len(docs))
	}

	ds, err := Find(fset, docs[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(ds))
	}
	if ds[0].Name != Derive || ds[1].Name != Attr {
		t.Errorf("directives = %s, %s", ds[0], ds[1])
	}
	if ds[1].Pos.Line != 6 {
		t.Errorf("attr line = %d, want 6", ds[1].Pos.Line)
	}
	if got := Select(ds, Attr); len(got) != 1 || got[0] != ds[1] {
		t.Errorf("Select(attr) = %v", got)
	}

	ds, err = Find(fset, docs[1])
	if err == nil {
		t.Fatal("expected error for malformed directive")
	}
	if !errors.Is(err, diag.New(diag.PhaseParse, diag.KindSyntax).Build()) {
		t.Errorf("error %v is not a parse/syntax diagnostic", err)
	}
	if !strings.Contains(err.Error(), "p.go:9:1") {
		t.Errorf("error %q lacks position", err)
	}
	if len(ds) != 1 || ds[0].Name != Entry {
		t.Errorf("well-formed directives should still be returned, got %v", ds)
	}

	if ds, err := Find(fset, nil); ds != nil || err != nil {
		t.Errorf("Find(nil) = %v, %v", ds, err)
	}
}

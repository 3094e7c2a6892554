// Package inspect walks a Go package's declarations, validates the ones
// carrying mlbridge directives and normalises them into a model.Package.
//
// Every problem found is reported; inspection does not stop at the first
// error.
package inspect

import (
	"errors"
	"go/ast"
	"go/token"
	"go/types"
	"path/filepath"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/directive"
	"github.com/funvibe/mlbridge/internal/model"
)

// Options control inspection.
type Options struct {
	// Runtime is the import path of the guest value package.
	Runtime string
	// SymbolPrefix is prepended to default export symbols.
	SymbolPrefix string
	// Skip lists base names of files never inspected (generated outputs).
	Skip   []string
	Logger *zap.Logger
}

type method struct {
	name    string
	pointer bool
}

type union struct {
	agg     *model.Aggregate
	methods map[string]bool
}

type pendingVariant struct {
	union   string
	variant *model.Variant
	hasAttr bool
}

type inspector struct {
	src  *Source
	opts Options
	log  *zap.Logger
	errs diag.List
	pkg  *model.Package

	// user declarations at package level
	topLevel map[string]token.Pos
	funcs    map[string]bool
	methods  map[string][]method

	unions   map[string]*union
	variants []pendingVariant

	// ambiguous package names: imported under one name with two paths
	ambiguous map[string]bool
}

// Inspect validates and normalises one package.
func Inspect(src *Source, opts Options) (*model.Package, error) {
	ins := &inspector{
		src:       src,
		opts:      opts,
		log:       opts.Logger,
		topLevel:  make(map[string]token.Pos),
		funcs:     make(map[string]bool),
		methods:   make(map[string][]method),
		unions:    make(map[string]*union),
		ambiguous: make(map[string]bool),
		pkg: &model.Package{
			Name:    src.Name,
			Path:    src.Path,
			Dir:     src.Dir,
			Imports: make(map[string]string),
		},
	}
	if ins.log == nil {
		ins.log = zap.NewNop()
	}

	files, names := ins.sourceFiles()
	ins.pkg.Files = names
	for _, f := range files {
		ins.collect(f)
	}
	for _, f := range files {
		ins.directives(f)
	}
	ins.attachVariants()
	ins.checkConverters()
	ins.checkCollisions()

	if err := ins.errs.Err(); err != nil {
		return nil, err
	}
	ins.log.Debug("inspected package",
		zap.String("package", src.Path),
		zap.Int("aggregates", len(ins.pkg.Aggregates)),
		zap.Int("entries", len(ins.pkg.Entries)))
	return ins.pkg, nil
}

func (ins *inspector) sourceFiles() ([]*ast.File, []string) {
	skip := make(map[string]bool, len(ins.opts.Skip))
	for _, s := range ins.opts.Skip {
		skip[s] = true
	}
	var (
		files []*ast.File
		names []string
	)
	for i, f := range ins.src.Files {
		name := ins.src.Filenames[i]
		if skip[filepath.Base(name)] || isGenerated(f) {
			ins.log.Debug("skipping generated file", zap.String("file", name))
			continue
		}
		files = append(files, f)
		names = append(names, name)
	}
	return files, names
}

func (ins *inspector) position(pos token.Pos) token.Position {
	return ins.src.Fset.Position(pos)
}

func (ins *inspector) report(phase diag.Phase, kind diag.Kind, pos token.Pos, decl string, format string, args ...any) {
	ins.reportAt(phase, kind, ins.position(pos), decl, format, args...)
}

func (ins *inspector) reportAt(phase diag.Phase, kind diag.Kind, pos token.Position, decl string, format string, args ...any) {
	ins.errs.Add(diag.New(phase, kind).
		At(pos).
		Decl(decl).
		Detail(format, args...).
		Build())
}

func (ins *inspector) reportType(pos token.Pos, decl string, err error) {
	var u *unsupportedError
	if errors.As(err, &u) {
		ins.report(diag.PhaseInspect, diag.KindUnsupportedType, pos, decl, "%s", err)
		return
	}
	ins.report(diag.PhaseInspect, diag.KindBadShape, pos, decl, "%s", err)
}

// collect records user declarations for receiver lookup and collision checks.
func (ins *inspector) collect(f *ast.File) {
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				if d.Name.Name != "init" && d.Name.Name != "_" {
					ins.topLevel[d.Name.Name] = d.Name.Pos()
					ins.funcs[d.Name.Name] = true
				}
				continue
			}
			if typ, ptr := receiver(d.Recv); typ != "" {
				ins.methods[typ] = append(ins.methods[typ], method{name: d.Name.Name, pointer: ptr})
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.TypeSpec:
					ins.topLevel[s.Name.Name] = s.Name.Pos()
				case *ast.ValueSpec:
					for _, n := range s.Names {
						if n.Name != "_" {
							ins.topLevel[n.Name] = n.Pos()
						}
					}
				}
			}
		}
	}
}

func receiver(recv *ast.FieldList) (string, bool) {
	if recv == nil || len(recv.List) == 0 {
		return "", false
	}
	expr := recv.List[0].Type
	ptr := false
	if star, ok := expr.(*ast.StarExpr); ok {
		ptr = true
		expr = star.X
	}
	switch e := expr.(type) {
	case *ast.IndexExpr:
		expr = e.X
	case *ast.IndexListExpr:
		expr = e.X
	}
	if id, ok := expr.(*ast.Ident); ok {
		return id.Name, ptr
	}
	return "", false
}

func (ins *inspector) scope(f *ast.File) *fileScope {
	fs := &fileScope{imports: make(map[string]string), runtime: ins.opts.Runtime}
	for _, imp := range f.Imports {
		name, path := ins.src.importName(imp)
		if name == "_" || name == "." {
			continue
		}
		fs.imports[name] = path
	}
	return fs
}

func (ins *inspector) find(doc *ast.CommentGroup) []*directive.Directive {
	ds, err := directive.Find(ins.src.Fset, doc)
	if err != nil {
		for _, e := range diag.Errors(err) {
			ins.errs.Add(e)
		}
	}
	return ds
}

// directives walks the declarations of f that carry directives.
func (ins *inspector) directives(f *ast.File) {
	fs := ins.scope(f)
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			ds := ins.find(d.Doc)
			if len(ds) == 0 {
				continue
			}
			for _, x := range ds {
				if x.Name != directive.Entry {
					ins.report(diag.PhaseInspect, diag.KindBadShape, d.Pos(), d.Name.Name,
						"%s applies to type declarations, not functions", x)
				}
			}
			entries := directive.Select(ds, directive.Entry)
			switch {
			case len(entries) > 1:
				ins.report(diag.PhaseInspect, diag.KindBadShape, d.Pos(), d.Name.Name,
					"duplicate mlbridge:entry directives")
			case len(entries) == 1:
				ins.entry(fs, d, entries[0])
			}

		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				if ds := ins.find(d.Doc); len(ds) > 0 {
					ins.report(diag.PhaseInspect, diag.KindBadShape, d.Pos(), "",
						"%s must be attached to a type or function declaration", ds[0])
				}
				continue
			}
			grouped := d.Lparen.IsValid()
			if grouped {
				if ds := ins.find(d.Doc); len(ds) > 0 {
					ins.report(diag.PhaseInspect, diag.KindBadShape, d.Pos(), "",
						"%s on a grouped declaration; attach it to one type", ds[0])
				}
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				doc := ts.Doc
				if !grouped {
					doc = d.Doc
				}
				if ds := ins.find(doc); len(ds) > 0 {
					ins.typeSpec(fs, ts, ds)
				}
			}
		}
	}
}

func (ins *inspector) typeSpec(fs *fileScope, ts *ast.TypeSpec, ds []*directive.Directive) {
	name := ts.Name.Name
	derives := directive.Select(ds, directive.Derive)
	attrs := directive.Select(ds, directive.Attr)
	variants := directive.Select(ds, directive.Variant)
	if entries := directive.Select(ds, directive.Entry); len(entries) > 0 {
		ins.report(diag.PhaseInspect, diag.KindBadShape, ts.Pos(), name,
			"mlbridge:entry applies to functions, not types")
	}
	if len(derives) == 0 && len(attrs) == 0 && len(variants) == 0 {
		return
	}
	ins.noteImports(fs)
	if ts.TypeParams != nil && len(ts.TypeParams.List) > 0 {
		ins.report(diag.PhaseInspect, diag.KindBadShape, ts.Pos(), name,
			"generic types cannot be derived")
		return
	}
	if ts.Assign.IsValid() {
		ins.report(diag.PhaseInspect, diag.KindBadShape, ts.Pos(), name,
			"type aliases cannot be derived; annotate the aliased type")
		return
	}

	caps, err := directive.DeriveOf(derives...)
	if err != nil {
		ins.report(diag.PhaseParse, diag.KindUnknownAttribute, ts.Pos(), name, "%s", err)
		return
	}
	repr, err := directive.ReprOf(attrs...)
	if err != nil {
		kind := diag.KindUnknownAttribute
		if errors.Is(err, directive.ErrConflictingRepr) {
			kind = diag.KindConflictingRepr
		}
		ins.report(diag.PhaseParse, kind, ts.Pos(), name, "%s", err)
		return
	}

	switch t := ts.Type.(type) {
	case *ast.StructType:
		if len(derives) == 0 && len(variants) == 0 {
			ins.report(diag.PhaseInspect, diag.KindBadShape, ts.Pos(), name,
				"mlbridge:attr needs mlbridge:derive or mlbridge:variant on the same type")
			return
		}
		fields, ok := ins.fields(fs, name, t)
		if !ok {
			return
		}
		if len(derives) > 0 {
			v := &model.Variant{Name: name, Fields: fields, Repr: repr, Pos: ins.position(ts.Pos())}
			ins.checkRepr(name, v)
			ins.pkg.Aggregates = append(ins.pkg.Aggregates, &model.Aggregate{
				Name:     name,
				Variants: []*model.Variant{v},
				Caps:     caps,
				Pos:      ins.position(ts.Pos()),
			})
		}
		for _, d := range variants {
			u, err := directive.VariantOf(d)
			if err != nil {
				ins.reportAt(diag.PhaseParse, diag.KindUnknownAttribute, d.Pos, name, "%s", err)
				continue
			}
			ins.variants = append(ins.variants, pendingVariant{
				union: u,
				variant: &model.Variant{
					Name:   name,
					Fields: fields,
					Repr:   repr,
					Pos:    ins.position(ts.Pos()),
				},
				hasAttr: len(attrs) > 0,
			})
		}

	case *ast.InterfaceType:
		if len(variants) > 0 {
			ins.report(diag.PhaseInspect, diag.KindBadShape, ts.Pos(), name,
				"mlbridge:variant applies to struct types")
		}
		if len(attrs) > 0 {
			ins.report(diag.PhaseInspect, diag.KindReprOnEnum, ts.Pos(), name,
				"%s is not valid on an enum-like declaration", repr)
		}
		if len(derives) == 0 {
			return
		}
		agg := &model.Aggregate{Name: name, Union: true, Caps: caps, Pos: ins.position(ts.Pos())}
		methods := make(map[string]bool)
		for _, m := range t.Methods.List {
			for _, n := range m.Names {
				methods[n.Name] = true
			}
		}
		ins.unions[name] = &union{agg: agg, methods: methods}
		ins.pkg.Aggregates = append(ins.pkg.Aggregates, agg)

	default:
		ins.report(diag.PhaseInspect, diag.KindBadShape, ts.Pos(), name,
			"mlbridge directives need a struct or interface type, not %s", types.ExprString(ts.Type))
	}
}

// fields normalises struct fields in declaration order.
func (ins *inspector) fields(fs *fileScope, decl string, st *ast.StructType) ([]*model.Field, bool) {
	ok := true
	var out []*model.Field
	for _, f := range st.Fields.List {
		ref, err := fs.resolve(f.Type)
		if err != nil {
			ins.reportType(f.Pos(), decl, err)
			ok = false
			continue
		}
		if len(f.Names) == 0 {
			out = append(out, &model.Field{Name: embeddedName(f.Type), Type: ref, Pos: ins.position(f.Pos())})
			continue
		}
		for _, n := range f.Names {
			if n.Name == "_" {
				ins.report(diag.PhaseInspect, diag.KindBadShape, n.Pos(), decl,
					"blank fields cannot be reconstructed from a guest value")
				ok = false
				continue
			}
			out = append(out, &model.Field{Name: n.Name, Type: ref, Pos: ins.position(n.Pos())})
		}
	}
	return out, ok
}

func embeddedName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return embeddedName(e.X)
	case *ast.SelectorExpr:
		return e.Sel.Name
	case *ast.Ident:
		return e.Name
	}
	return types.ExprString(expr)
}

// checkRepr enforces the representation rules on a record-like variant.
func (ins *inspector) checkRepr(decl string, v *model.Variant) {
	switch v.Repr {
	case directive.Unboxed:
		if v.Arity() != 1 {
			ins.reportAt(diag.PhaseInspect, diag.KindUnboxedArity, v.Pos, decl,
				"unboxed requires exactly one field, found %d", v.Arity())
		}
	case directive.FloatsArray:
		if v.Arity() == 0 {
			ins.reportAt(diag.PhaseInspect, diag.KindFloatField, v.Pos, decl,
				"floats_array requires at least one field")
		}
		for _, f := range v.Fields {
			if !ins.isFloat(f.Type) {
				ins.reportAt(diag.PhaseInspect, diag.KindFloatField, f.Pos, decl,
					"floats_array field %s has type %s, which does not convert to float64", f.Name, f.Type.Expr)
			}
		}
	}
}

// isFloat accepts float32, float64 and, with type information, local named
// types whose underlying type is a float.
func (ins *inspector) isFloat(t *model.TypeRef) bool {
	if t.Kind == model.KindFloat {
		return true
	}
	if t.Kind != model.KindNamed || t.Qualifier != "" || ins.src.Types == nil {
		return false
	}
	obj := ins.src.Types.Scope().Lookup(t.Name)
	if obj == nil {
		return false
	}
	basic, ok := obj.Type().Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsFloat != 0
}

// attachVariants assigns variant structs to their unions in source order.
func (ins *inspector) attachVariants() {
	for _, pv := range ins.variants {
		u, ok := ins.unions[pv.union]
		if !ok {
			ins.reportAt(diag.PhaseInspect, diag.KindUnknownUnion, pv.variant.Pos, pv.variant.Name,
				"variant of %s, which is not a derived interface in this package", pv.union)
			continue
		}
		for _, m := range ins.methods[pv.variant.Name] {
			if m.pointer && u.methods[m.name] {
				pv.variant.Pointer = true
			}
		}
		u.agg.Variants = append(u.agg.Variants, pv.variant)
	}
	for _, pv := range ins.variants {
		u, ok := ins.unions[pv.union]
		if !ok {
			continue
		}
		if u.agg.RecordLike() {
			ins.checkRepr(pv.variant.Name, pv.variant)
		} else if pv.hasAttr {
			ins.reportAt(diag.PhaseInspect, diag.KindReprOnEnum, pv.variant.Pos, pv.variant.Name,
				"%s is not valid on a variant of enum-like %s", pv.variant.Repr, pv.union)
		}
	}
	for _, agg := range ins.pkg.Aggregates {
		if agg.Union && len(agg.Variants) == 0 {
			ins.reportAt(diag.PhaseInspect, diag.KindBadShape, agg.Pos, agg.Name,
				"enum-like declaration has no mlbridge:variant(%s) structs", agg.Name)
		}
	}
}

// entry validates and normalises an entry-point function.
func (ins *inspector) entry(fs *fileScope, fd *ast.FuncDecl, d *directive.Directive) {
	name := fd.Name.Name
	attrs, err := directive.EntryOf(d)
	if err != nil {
		ins.report(diag.PhaseParse, diag.KindUnknownAttribute, fd.Pos(), name, "%s", err)
		return
	}
	bad := func(format string, args ...any) {
		ins.report(diag.PhaseInspect, diag.KindBadShape, fd.Pos(), name, format, args...)
	}
	ok := true
	if fd.Recv != nil {
		bad("entry points cannot be methods")
		ok = false
	}
	if !ast.IsExported(name) {
		bad("entry points must be exported")
		ok = false
	}
	if fd.Type.TypeParams != nil && len(fd.Type.TypeParams.List) > 0 {
		bad("entry points cannot be generic")
		ok = false
	}

	e := &model.Entry{Name: name, FfiExn: attrs.FfiExn, Symbol: attrs.Symbol, Pos: ins.position(fd.Pos())}
	if e.Symbol == "" {
		e.Symbol = ins.opts.SymbolPrefix + SnakeCase(name)
	}

	for _, p := range fd.Type.Params.List {
		if _, variadic := p.Type.(*ast.Ellipsis); variadic {
			bad("entry points cannot be variadic")
			ok = false
			continue
		}
		if isDynamic(p.Type) {
			ins.report(diag.PhaseInspect, diag.KindUnsupportedType, p.Pos(), name,
				"parameter of dynamic type %s; entry point parameters need a concrete type", types.ExprString(p.Type))
			ok = false
			continue
		}
		ref, err := fs.resolve(p.Type)
		if err != nil {
			ins.reportType(p.Pos(), name, err)
			ok = false
			continue
		}
		if len(p.Names) == 0 {
			e.Params = append(e.Params, &model.Param{Type: ref})
			continue
		}
		for _, n := range p.Names {
			pname := n.Name
			if pname == "_" {
				pname = ""
			}
			e.Params = append(e.Params, &model.Param{Name: pname, Type: ref})
		}
	}

	if res := fd.Type.Results; res != nil && res.NumFields() > 0 {
		if res.NumFields() > 1 {
			bad("entry points return at most one value, found %d", res.NumFields())
			ok = false
		} else {
			ref, err := fs.resolve(res.List[0].Type)
			if err != nil {
				ins.reportType(res.Pos(), name, err)
				ok = false
			} else {
				e.Result = ref
			}
		}
	}
	if ok {
		ins.pkg.Entries = append(ins.pkg.Entries, e)
	}
	ins.noteImports(fs)
}

// noteImports records the imports generated code may need to reference.
func (ins *inspector) noteImports(fs *fileScope) {
	for name, path := range fs.imports {
		if path == ins.opts.Runtime {
			continue
		}
		if prev, ok := ins.pkg.Imports[name]; ok && prev != path {
			ins.ambiguous[name] = true
			continue
		}
		ins.pkg.Imports[name] = path
	}
}

// checkConverters verifies that every local named type used by a
// conversion has the required ToValue or FromValue function.
func (ins *inspector) checkConverters() {
	derived := make(map[string]directive.Capabilities)
	for _, a := range ins.pkg.Aggregates {
		derived[a.Name] |= a.Caps
	}
	used := make(map[string]bool)
	use := func(q string, pos token.Position, decl string) {
		if ins.ambiguous[q] && !used[q] {
			ins.errs.Add(diag.New(diag.PhaseInspect, diag.KindCollision).
				At(pos).
				Decl(decl).
				Detail("package name %s refers to different import paths in different files", q).
				Build())
		}
		used[q] = true
	}
	need := func(t *model.TypeRef, caps directive.Capabilities, pos token.Position, decl string) {
		walk(t, func(t *model.TypeRef) {
			for _, q := range t.LenQualifiers {
				use(q, pos, decl)
			}
			if t.Kind != model.KindNamed {
				return
			}
			if t.Qualifier != "" {
				use(t.Qualifier, pos, decl)
				return
			}
			for _, c := range []directive.Capabilities{directive.ToValue, directive.FromValue} {
				if !caps.Has(c) || derived[t.Name].Has(c) {
					continue
				}
				fn := t.Name + "ToValue"
				if c == directive.FromValue {
					fn = t.Name + "FromValue"
				}
				if ins.funcs[fn] {
					continue
				}
				ins.errs.Add(diag.New(diag.PhaseInspect, diag.KindMissingConverter).
					At(pos).
					Decl(decl).
					Detail("%s has no %s; derive it or declare %s", t.Name, fn, fn).
					Build())
			}
		})
	}
	for _, a := range ins.pkg.Aggregates {
		for _, v := range a.Variants {
			if v.Repr == directive.FloatsArray {
				continue
			}
			for _, f := range v.Fields {
				need(f.Type, a.Caps, f.Pos, a.Name)
			}
		}
	}
	for _, e := range ins.pkg.Entries {
		for _, p := range e.Params {
			if p.Wildcard() {
				// Only the type name appears, in *new(T).
				need(p.Type, 0, e.Pos, e.Name)
				continue
			}
			need(p.Type, directive.FromValue, e.Pos, e.Name)
		}
		if e.Result != nil {
			need(e.Result, directive.ToValue, e.Pos, e.Name)
		}
	}
	// Keep only the imports generated code refers to.
	for name := range ins.pkg.Imports {
		if !used[name] {
			delete(ins.pkg.Imports, name)
		}
	}
}

// checkCollisions rejects generated identifiers that clash with user
// declarations or with each other.
func (ins *inspector) checkCollisions() {
	generated := make(map[string]string)
	claim := func(ident, owner string, pos token.Position) {
		if p, ok := ins.topLevel[ident]; ok {
			ins.errs.Add(diag.New(diag.PhaseInspect, diag.KindCollision).
				At(pos).
				Decl(owner).
				Detail("generated %s collides with the declaration at %s", ident, ins.position(p)).
				Build())
			return
		}
		if prev, ok := generated[ident]; ok {
			ins.errs.Add(diag.New(diag.PhaseInspect, diag.KindCollision).
				At(pos).
				Decl(owner).
				Detail("generated %s is also generated for %s", ident, prev).
				Build())
			return
		}
		generated[ident] = owner
	}
	for _, a := range ins.pkg.Aggregates {
		if a.Caps.Has(directive.ToValue) {
			claim(a.ToValueName(), a.Name, a.Pos)
		}
		if a.Caps.Has(directive.FromValue) {
			claim(a.FromValueName(), a.Name, a.Pos)
		}
	}
	for _, e := range ins.pkg.Entries {
		claim(e.Trampoline(), e.Name, e.Pos)
		claim(e.Symbol, e.Name, e.Pos)
	}
}

// SnakeCase converts a Go identifier to snake_case: SumAll becomes
// sum_all and HTTPServe becomes http_serve.
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

package inspect

import (
	"context"
	"fmt"
	"go/ast"
	"go/build"
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/model"
)

// Source is one Go package ready for inspection.
type Source struct {
	Name string
	Path string
	Dir  string
	Fset *token.FileSet
	// Files and Filenames are parallel and sorted by file name.
	Files     []*ast.File
	Filenames []string
	// Types and Info are nil when type checking was unavailable.
	Types *types.Package
	Info  *types.Info
	// ImportNames maps import paths to declared package names.
	ImportNames map[string]string
}

// Load loads the packages matching patterns, relative to dir, with
// golang.org/x/tools/go/packages. Type errors do not fail the load: a stale
// generated file is the usual cause and regeneration fixes it.
//
// Packages load with cgo disabled, so files importing "C" are parsed
// separately and inspected without type information.
func Load(ctx context.Context, dir string, patterns []string, logger *zap.Logger) ([]*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := &packages.Config{
		Context: ctx,
		Mode: packages.NeedName |
			packages.NeedFiles |
			packages.NeedTypes |
			packages.NeedTypesInfo |
			packages.NeedSyntax |
			packages.NeedImports,
		Dir: dir,
		// Export files import "C"; loading with cgo disabled never needs a
		// C toolchain.
		Env: append(os.Environ(), "CGO_ENABLED=0"),
	}

	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, diag.New(diag.PhaseLoad, diag.KindIO).
			Detail("loading %s", strings.Join(patterns, " ")).
			Cause(err).
			Build()
	}

	var (
		out  []*Source
		errs diag.List
	)
	for _, pkg := range pkgs {
		var fatal bool
		cgoFiles := cgoIgnored(pkg)
		for _, e := range pkg.Errors {
			switch {
			case e.Kind == packages.TypeError:
				logger.Debug("ignoring type error", zap.String("package", pkg.PkgPath), zap.String("error", e.Msg))
			case len(cgoFiles) > 0 && strings.Contains(e.Msg, "build constraints exclude all Go files"):
				logger.Debug("package has only cgo files", zap.String("package", pkg.PkgPath))
			default:
				fatal = true
				errs.Add(diag.New(diag.PhaseLoad, diag.KindIO).
					Detail("%s: %s", pkg.PkgPath, e.Msg).
					Build())
			}
		}
		if fatal || len(pkg.Syntax)+len(cgoFiles) == 0 {
			continue
		}
		src, err := fromPackage(pkg, cgoFiles)
		if err != nil {
			errs.Add(err)
			continue
		}
		out = append(out, src)
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func fromPackage(pkg *packages.Package, cgoFiles []string) (*Source, error) {
	src := &Source{
		Name:        pkg.Name,
		Path:        pkg.PkgPath,
		Dir:         pkg.Dir,
		Fset:        pkg.Fset,
		Types:       pkg.Types,
		Info:        pkg.TypesInfo,
		ImportNames: make(map[string]string),
	}
	for p, imp := range pkg.Imports {
		src.ImportNames[p] = imp.Name
	}
	for _, f := range pkg.Syntax {
		name := pkg.Fset.Position(f.Package).Filename
		src.Files = append(src.Files, f)
		src.Filenames = append(src.Filenames, name)
	}
	if src.Fset == nil {
		src.Fset = token.NewFileSet()
	}
	for _, name := range cgoFiles {
		f, err := parser.ParseFile(src.Fset, name, nil, parser.ParseComments)
		if err != nil {
			return nil, diag.New(diag.PhaseLoad, diag.KindSyntax).Cause(err).Build()
		}
		if src.Name == "" {
			src.Name = f.Name.Name
		} else if f.Name.Name != src.Name {
			continue
		}
		src.Files = append(src.Files, f)
		src.Filenames = append(src.Filenames, name)
	}
	if src.Dir == "" && len(src.Filenames) > 0 {
		src.Dir = filepath.Dir(src.Filenames[0])
	}
	sortFiles(src)
	return src, nil
}

// cgoIgnored lists the files of pkg left out only because cgo is disabled:
// non-test files that import "C" and match the build context with cgo on.
func cgoIgnored(pkg *packages.Package) []string {
	ctx := build.Default
	ctx.CgoEnabled = true
	var out []string
	for _, name := range pkg.IgnoredFiles {
		dir, base := filepath.Split(name)
		if !strings.HasSuffix(base, ".go") || strings.HasSuffix(base, "_test.go") {
			continue
		}
		if ok, err := ctx.MatchFile(dir, base); err != nil || !ok {
			continue
		}
		f, err := parser.ParseFile(token.NewFileSet(), name, nil, parser.ImportsOnly)
		if err != nil {
			continue
		}
		for _, imp := range f.Imports {
			if imp.Path.Value == `"C"` {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// ParseDir parses the non-test Go files of one directory without type
// information. It backs inspection when go/packages cannot be used.
func ParseDir(dir string) (*Source, error) {
	fset := token.NewFileSet()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	src := &Source{Dir: dir, Fset: fset, ImportNames: make(map[string]string)}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		full := filepath.Join(dir, name)
		f, err := parser.ParseFile(fset, full, nil, parser.ParseComments)
		if err != nil {
			return nil, diag.New(diag.PhaseLoad, diag.KindSyntax).Cause(err).Build()
		}
		if src.Name == "" {
			src.Name = f.Name.Name
		} else if f.Name.Name != src.Name {
			continue
		}
		src.Files = append(src.Files, f)
		src.Filenames = append(src.Filenames, full)
	}
	sortFiles(src)
	return src, nil
}

// ParseFiles builds a Source from in-memory files, keyed by file name.
func ParseFiles(pkgPath string, files map[string]string) (*Source, error) {
	fset := token.NewFileSet()
	src := &Source{Path: pkgPath, Fset: fset, ImportNames: make(map[string]string)}
	for name, text := range files {
		f, err := parser.ParseFile(fset, name, text, parser.ParseComments)
		if err != nil {
			return nil, err
		}
		src.Name = f.Name.Name
		src.Files = append(src.Files, f)
		src.Filenames = append(src.Filenames, name)
	}
	sortFiles(src)
	return src, nil
}

func sortFiles(src *Source) {
	idx := make([]int, len(src.Files))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return src.Filenames[idx[a]] < src.Filenames[idx[b]] })
	files := make([]*ast.File, len(idx))
	names := make([]string, len(idx))
	for i, j := range idx {
		files[i] = src.Files[j]
		names[i] = src.Filenames[j]
	}
	src.Files, src.Filenames = files, names
}

// importName returns the name under which file f refers to importPath.
func (s *Source) importName(spec *ast.ImportSpec) (string, string) {
	p := strings.Trim(spec.Path.Value, "\"`")
	if spec.Name != nil {
		return spec.Name.Name, p
	}
	if name, ok := s.ImportNames[p]; ok && name != "" {
		return name, p
	}
	return guessName(p), p
}

// guessName applies the go command's convention for unnamed imports:
// the last element, skipping a major version suffix.
func guessName(importPath string) string {
	base := path.Base(importPath)
	if len(base) > 1 && base[0] == 'v' && strings.Trim(base[1:], "0123456789") == "" {
		base = path.Base(path.Dir(importPath))
	}
	base = strings.TrimPrefix(base, "go-")
	return strings.NewReplacer("-", "_", ".", "_").Replace(base)
}

// isGenerated reports whether f is mlbridge output.
func isGenerated(f *ast.File) bool {
	for _, c := range f.Comments {
		if c.Pos() > f.Package {
			break
		}
		for _, line := range c.List {
			if line.Text == model.GeneratedHeader {
				return true
			}
		}
	}
	return false
}

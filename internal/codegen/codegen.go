// Package codegen assembles the generated files of one package from the
// derived functions, trampolines and export shims.
package codegen

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"unicode"

	"golang.org/x/tools/imports"

	"github.com/funvibe/mlbridge/internal/config"
	"github.com/funvibe/mlbridge/internal/derive"
	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/model"
	"github.com/funvibe/mlbridge/internal/weave"
)

// File is one generated file. A nil Content means the file must not exist:
// the package no longer needs it and a stale copy should be removed.
type File struct {
	// Name is the base name within the package directory.
	Name    string
	Content []byte
}

// Remove reports whether the file should be deleted rather than written.
func (f File) Remove() bool { return f.Content == nil }

// CodeGenerator renders model packages into Go source.
type CodeGenerator struct {
	cfg *config.Config
}

// NewCodeGenerator creates a code generator for the given configuration.
func NewCodeGenerator(cfg *config.Config) *CodeGenerator {
	if cfg == nil {
		cfg = config.Default()
	}
	return &CodeGenerator{cfg: cfg}
}

// Generate produces the marshalling file and, when cgo exports are enabled
// and the package has entry points, the export file. Both names are always
// returned so callers can clean up files that are no longer produced.
func (cg *CodeGenerator) Generate(pkg *model.Package) ([]File, error) {
	gen := File{Name: cg.cfg.Output}
	export := File{Name: cg.cfg.ExportOutput}
	if pkg.Empty() {
		return []File{gen, export}, nil
	}

	rt := RuntimeAlias(cg.cfg.Runtime, pkg)
	d := derive.New(rt)
	w := weave.New(rt)

	var decls []string
	for _, a := range pkg.Aggregates {
		src, err := d.Aggregate(a)
		if err != nil {
			return nil, diag.New(diag.PhaseDerive, diag.KindBadShape).
				At(a.Pos).Decl(a.Name).Cause(err).Build()
		}
		decls = append(decls, string(src))
	}
	for _, e := range pkg.Entries {
		decls = append(decls, string(w.Trampoline(e)))
	}

	imps := []importEntry{{Path: cg.cfg.Runtime, Alias: rt}}
	imps = append(imps, sortedImports(pkg.Imports)...)

	content, err := cg.render(genFileTemplate, cg.cfg.Output, fileData{
		Header:     model.GeneratedHeader,
		Constraint: cg.cfg.BuildConstraint(),
		Package:    pkg.Name,
		Imports:    imps,
		Decls:      decls,
	})
	if err != nil {
		return nil, err
	}
	gen.Content = content

	if cg.cfg.CgoEnabled() && len(pkg.Entries) > 0 {
		var shims []string
		for _, e := range pkg.Entries {
			shims = append(shims, string(w.Export(e)))
		}
		content, err := cg.render(exportFileTemplate, cg.cfg.ExportOutput, fileData{
			Header:     model.GeneratedHeader,
			Constraint: cg.cfg.BuildConstraint("cgo"),
			Package:    pkg.Name,
			Imports:    []importEntry{{Path: cg.cfg.Runtime, Alias: rt}},
			Decls:      shims,
		})
		if err != nil {
			return nil, err
		}
		export.Content = content
	}
	return []File{gen, export}, nil
}

type fileData struct {
	Header     string
	Constraint string
	Package    string
	Imports    []importEntry
	Decls      []string
}

// render executes a file template and formats the result.
func (cg *CodeGenerator) render(text, filename string, data fileData) ([]byte, error) {
	tmpl, err := template.New(filename).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("executing template: %w", err)
	}
	out, err := imports.Process(filename, buf.Bytes(), &imports.Options{
		FormatOnly: true,
		Comments:   true,
		TabIndent:  true,
		TabWidth:   8,
	})
	if err != nil {
		return nil, diag.New(diag.PhaseEmit, diag.KindFormat).
			Decl(filename).Cause(err).
			Detail("generated source does not parse:\n%s", numbered(buf.Bytes())).Build()
	}
	return out, nil
}

// numbered prefixes each line with its number, for format diagnostics.
func numbered(src []byte) string {
	var b strings.Builder
	for i, line := range strings.Split(strings.TrimRight(string(src), "\n"), "\n") {
		fmt.Fprintf(&b, "%4d  %s\n", i+1, line)
	}
	return b.String()
}

type importEntry struct {
	Path  string
	Alias string
}

func sortedImports(m map[string]string) []importEntry {
	entries := make([]importEntry, 0, len(m))
	for alias, path := range m {
		entries = append(entries, importEntry{Path: path, Alias: alias})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].Alias < entries[j].Alias
	})
	return entries
}

// RuntimeAlias picks the local name of the runtime import: the package's
// own name unless a user import or the package itself already uses it.
func RuntimeAlias(runtime string, pkg *model.Package) string {
	base := ImportAlias(runtime)
	taken := func(name string) bool {
		if name == pkg.Name {
			return true
		}
		_, ok := pkg.Imports[name]
		return ok
	}
	alias := base
	for i := 2; taken(alias); i++ {
		alias = base + strconv.Itoa(i)
	}
	return alias
}

// goReservedWords are Go keywords that cannot be used as import aliases.
var goReservedWords = map[string]bool{
	"break": true, "default": true, "func": true, "interface": true, "select": true,
	"case": true, "defer": true, "go": true, "map": true, "struct": true,
	"chan": true, "else": true, "goto": true, "package": true, "switch": true,
	"const": true, "fallthrough": true, "if": true, "range": true, "type": true,
	"continue": true, "for": true, "import": true, "return": true, "var": true,
	// Generated code uses these identifiers, so avoid them as aliases
	"value": true, "x": true, "res": true, "ok": true, "ret": true, "C": true,
}

// ImportAlias returns a valid Go identifier for an import path.
// Handles hyphens (go-ml → goml), versioned paths (v2 → parent),
// and reserved words (go → pkgGo).
func ImportAlias(pkgPath string) string {
	parts := strings.Split(pkgPath, "/")
	last := parts[len(parts)-1]
	// Handle versioned imports like "v2" → use parent
	if len(last) > 1 && last[0] == 'v' && len(parts) > 1 {
		allDigits := true
		for _, c := range last[1:] {
			if c < '0' || c > '9' {
				allDigits = false
				break
			}
		}
		if allDigits {
			last = parts[len(parts)-2]
		}
	}

	alias := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			return r
		}
		return -1
	}, last)

	if alias == "" || unicode.IsDigit(rune(alias[0])) {
		alias = "pkg" + alias
	}

	if goReservedWords[alias] {
		alias = "pkg" + strings.ToUpper(alias[:1]) + alias[1:]
	}
	return alias
}

const genFileTemplate = `{{.Header}}
{{if .Constraint}}
//go:build {{.Constraint}}
{{end}}
package {{.Package}}

import (
{{range .Imports}}	{{.Alias}} "{{.Path}}"
{{end}})
{{range .Decls}}
{{.}}{{end}}`

const exportFileTemplate = `{{.Header}}

//go:build {{.Constraint}}

package {{.Package}}

import "C"

import (
{{range .Imports}}	{{.Alias}} "{{.Path}}"
{{end}})
{{range .Decls}}
{{.}}{{end}}`

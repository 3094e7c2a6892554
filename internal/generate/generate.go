// Package generate runs the whole pipeline for a set of packages: load,
// inspect, derive and weave, render, and write or check the outputs.
package generate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/funvibe/mlbridge/internal/codegen"
	"github.com/funvibe/mlbridge/internal/config"
	"github.com/funvibe/mlbridge/internal/diag"
	"github.com/funvibe/mlbridge/internal/inspect"
	"github.com/funvibe/mlbridge/internal/model"
)

// ErrStale is returned in check mode when an output is missing or out of date.
var ErrStale = errors.New("generated files are out of date")

// Option configures a Generator.
type Option func(*Generator)

// WithConfig sets the configuration. The default is config.Default().
func WithConfig(cfg *config.Config) Option {
	return func(g *Generator) { g.cfg = cfg }
}

// WithDir sets the directory patterns are resolved against.
func WithDir(dir string) Option {
	return func(g *Generator) { g.dir = dir }
}

// WithCache enables or disables the generation cache, overriding the
// configuration.
func WithCache(enabled bool) Option {
	return func(g *Generator) { g.cache = &enabled }
}

// WithCheck reports stale outputs instead of writing them.
func WithCheck(check bool) Option {
	return func(g *Generator) { g.check = check }
}

// WithVerbose enables per-package progress logging at info level.
func WithVerbose(verbose bool) Option {
	return func(g *Generator) { g.verbose = verbose }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// Generator regenerates mlbridge outputs.
type Generator struct {
	cfg     *config.Config
	dir     string
	cache   *bool
	check   bool
	verbose bool
	logger  *zap.Logger
}

// New creates a Generator.
func New(opts ...Option) *Generator {
	g := &Generator{dir: "."}
	for _, opt := range opts {
		opt(g)
	}
	if g.cfg == nil {
		g.cfg = config.Default()
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Result describes what happened to one package.
type Result struct {
	Package string
	Dir     string
	// Cached is true when the cache showed the outputs were current.
	Cached bool
	// Written and Removed list output paths changed on disk.
	Written []string
	Removed []string
	// Stale lists outputs that differ from what would be generated. It is
	// only filled in check mode.
	Stale []string
}

// Changed reports whether any output was written, removed or found stale.
func (r *Result) Changed() bool {
	return len(r.Written)+len(r.Removed)+len(r.Stale) > 0
}

func (g *Generator) cacheEnabled() bool {
	if g.cache != nil {
		return *g.cache
	}
	return g.cfg.CacheEnabled()
}

func (g *Generator) cacheRoot() string {
	if d := g.cfg.Dir(); d != "" {
		return d
	}
	return g.dir
}

// Cache returns the cache used by g.
func (g *Generator) Cache() *Cache {
	return NewCache(g.cacheRoot())
}

// Run loads the packages matching patterns, or the configured packages when
// none are given, and generates each of them. Diagnostics from all packages
// are reported together. In check mode the error wraps ErrStale when any
// output is out of date.
func (g *Generator) Run(ctx context.Context, patterns ...string) ([]*Result, error) {
	if len(patterns) == 0 {
		patterns = g.cfg.Packages
	}
	srcs, err := inspect.Load(ctx, g.dir, patterns, g.logger)
	if err != nil {
		return nil, err
	}

	var (
		results []*Result
		errs    diag.List
		stale   []string
	)
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := g.Package(src)
		if err != nil {
			errs.Add(err)
			continue
		}
		results = append(results, res)
		stale = append(stale, res.Stale...)
	}
	if err := errs.Err(); err != nil {
		return results, err
	}
	if len(stale) > 0 {
		return results, fmt.Errorf("%w: %v", ErrStale, stale)
	}
	return results, nil
}

// Package generates one loaded package.
func (g *Generator) Package(src *inspect.Source) (*Result, error) {
	log := g.logger.With(zap.String("package", src.Path))
	res := &Result{Package: src.Path, Dir: src.Dir}

	var (
		key   string
		cache = g.Cache()
	)
	if g.cacheEnabled() {
		k, err := computeKey(g.cfg.Fingerprint(), src.Path, g.inputs(src))
		if err != nil {
			log.Debug("cache key unavailable", zap.Error(err))
		} else {
			key = k
			if cache.Fresh(key, src.Dir) {
				log.Debug("cache hit", zap.String("key", key))
				res.Cached = true
				return res, nil
			}
			log.Debug("cache miss", zap.String("key", key))
		}
	}

	pkg, err := inspect.Inspect(src, inspect.Options{
		Runtime:      g.cfg.Runtime,
		SymbolPrefix: g.cfg.SymbolPrefix,
		Skip:         []string{g.cfg.Output, g.cfg.ExportOutput},
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	files, err := codegen.NewCodeGenerator(g.cfg).Generate(pkg)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string][]byte, len(files))
	for _, f := range files {
		outputs[f.Name] = f.Content
		if err := g.apply(res, src.Dir, f); err != nil {
			return nil, err
		}
	}

	if g.verbose {
		log.Info("generated",
			zap.Int("aggregates", len(pkg.Aggregates)),
			zap.Int("entries", len(pkg.Entries)),
			zap.Strings("written", res.Written),
			zap.Strings("removed", res.Removed))
	}

	if key != "" && !g.check {
		if err := cache.Store(key, src.Path, outputs); err != nil {
			log.Warn("failed to update cache", zap.Error(err))
		}
	}
	return res, nil
}

// inputs are the source files that determine the outputs.
func (g *Generator) inputs(src *inspect.Source) []string {
	var out []string
	for _, name := range src.Filenames {
		base := filepath.Base(name)
		if base == g.cfg.Output || base == g.cfg.ExportOutput {
			continue
		}
		out = append(out, name)
	}
	return out
}

// apply writes, removes or checks one output file.
func (g *Generator) apply(res *Result, dir string, f codegen.File) error {
	path := filepath.Join(dir, f.Name)
	existing, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return diag.New(diag.PhaseEmit, diag.KindIO).Decl(path).Cause(err).Build()
	}

	if f.Remove() {
		if !exists {
			return nil
		}
		if !bytes.HasPrefix(existing, []byte(model.GeneratedHeader)) {
			// Not ours; leave it alone.
			return nil
		}
		if g.check {
			res.Stale = append(res.Stale, path)
			return nil
		}
		if err := os.Remove(path); err != nil {
			return diag.New(diag.PhaseEmit, diag.KindIO).Decl(path).Cause(err).Build()
		}
		res.Removed = append(res.Removed, path)
		return nil
	}

	if exists && bytes.Equal(existing, f.Content) {
		return nil
	}
	if exists && !bytes.HasPrefix(existing, []byte(model.GeneratedHeader)) {
		return diag.New(diag.PhaseEmit, diag.KindCollision).Decl(path).
			Detail("refusing to overwrite %s: not generated by mlbridge", path).Build()
	}
	if g.check {
		res.Stale = append(res.Stale, path)
		return nil
	}
	if err := os.WriteFile(path, f.Content, 0o644); err != nil {
		return diag.New(diag.PhaseEmit, diag.KindIO).Decl(path).Cause(err).Build()
	}
	res.Written = append(res.Written, path)
	return nil
}

// Package config loads mlbridge.yaml.
//
// The file is optional. When it is missing every field takes its default,
// so a package with annotated declarations only needs a go:generate line:
//
//	//go:generate go run github.com/funvibe/mlbridge/cmd/mlbridge
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultRuntime      = "github.com/funvibe/mlbridge/pkg/mlvalue"
	DefaultOutput       = "mlbridge_gen.go"
	DefaultExportOutput = "mlbridge_export.go"
)

var cPrefix = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config represents mlbridge.yaml.
type Config struct {
	// Runtime is the import path of the value package generated code calls.
	Runtime string `yaml:"runtime,omitempty"`

	// Output is the base name of the marshalling/trampoline file.
	Output string `yaml:"output,omitempty"`

	// ExportOutput is the base name of the cgo export file.
	ExportOutput string `yaml:"export_output,omitempty"`

	// Cgo controls whether the export file is written at all. Defaults to true.
	Cgo *bool `yaml:"cgo,omitempty"`

	// SymbolPrefix is prepended to the snake_case name of entry points
	// without symbol=, e.g. "geom_" exports SumAll as geom_sum_all.
	SymbolPrefix string `yaml:"symbol_prefix,omitempty"`

	// BuildTags are extra constraints ANDed into both generated files,
	// e.g. ["linux", "!purego"].
	BuildTags []string `yaml:"build_tags,omitempty"`

	// Packages are the patterns used when none are given on the command line.
	Packages []string `yaml:"packages,omitempty"`

	// Cache enables the generation cache. Defaults to true.
	Cache *bool `yaml:"cache,omitempty"`

	// dir is the directory containing the file, or "" for defaults.
	dir string
}

// Default returns the configuration used when no mlbridge.yaml exists.
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// LoadConfig reads and parses an mlbridge.yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// ParseConfig parses mlbridge.yaml content from bytes.
// The path argument is used only for error messages.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.validate(path); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindConfig searches for mlbridge.yaml starting from dir and walking up
// to parent directories. It returns "" and a nil error when none exists.
func FindConfig(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving directory: %w", err)
	}

	for {
		for _, name := range []string{"mlbridge.yaml", "mlbridge.yml"} {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Discover loads the nearest mlbridge.yaml above dir, or returns Default.
func Discover(dir string) (*Config, error) {
	path, err := FindConfig(dir)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return Default(), nil
	}
	return LoadConfig(path)
}

func (c *Config) setDefaults() {
	if c.Runtime == "" {
		c.Runtime = DefaultRuntime
	}
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if c.ExportOutput == "" {
		c.ExportOutput = DefaultExportOutput
	}
	if c.Cgo == nil {
		c.Cgo = boolPtr(true)
	}
	if c.Cache == nil {
		c.Cache = boolPtr(true)
	}
	if len(c.Packages) == 0 {
		c.Packages = []string{"."}
	}
}

// validate checks the configuration for semantic errors.
func (c *Config) validate(path string) error {
	for _, out := range []struct{ key, val string }{
		{"output", c.Output},
		{"export_output", c.ExportOutput},
	} {
		if !strings.HasSuffix(out.val, ".go") {
			return fmt.Errorf("%s: %s %q must end in .go", path, out.key, out.val)
		}
		if filepath.Base(out.val) != out.val {
			return fmt.Errorf("%s: %s %q must be a file name, not a path", path, out.key, out.val)
		}
		if strings.HasSuffix(out.val, "_test.go") {
			return fmt.Errorf("%s: %s %q must not be a test file", path, out.key, out.val)
		}
	}
	if c.Output == c.ExportOutput {
		return fmt.Errorf("%s: output and export_output are both %q", path, c.Output)
	}

	if c.SymbolPrefix != "" && !cPrefix.MatchString(c.SymbolPrefix) {
		return fmt.Errorf("%s: symbol_prefix %q is not a C identifier", path, c.SymbolPrefix)
	}

	if strings.ContainsAny(c.Runtime, " \t\"") {
		return fmt.Errorf("%s: runtime %q is not an import path", path, c.Runtime)
	}

	for i, tag := range c.BuildTags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%s: build_tags[%d] is empty", path, i)
		}
	}

	return nil
}

// CgoEnabled reports whether the export file should be written.
func (c *Config) CgoEnabled() bool {
	return c.Cgo == nil || *c.Cgo
}

// CacheEnabled reports whether the generation cache is used.
func (c *Config) CacheEnabled() bool {
	return c.Cache == nil || *c.Cache
}

// Dir returns the directory containing the loaded file, or "" for defaults.
func (c *Config) Dir() string {
	return c.dir
}

// BuildConstraint joins BuildTags and extra into a //go:build expression.
// It returns "" when there is nothing to constrain.
func (c *Config) BuildConstraint(extra ...string) string {
	var terms []string
	for _, t := range append(append([]string(nil), c.BuildTags...), extra...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, " |&") {
			t = "(" + t + ")"
		}
		terms = append(terms, t)
	}
	return strings.Join(terms, " && ")
}

// Fingerprint returns a stable description of every setting that affects
// generated output, for cache keys.
func (c *Config) Fingerprint() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "runtime=%s\n", c.Runtime)
	fmt.Fprintf(&b, "output=%s\n", c.Output)
	fmt.Fprintf(&b, "export_output=%s\n", c.ExportOutput)
	fmt.Fprintf(&b, "cgo=%t\n", c.CgoEnabled())
	fmt.Fprintf(&b, "symbol_prefix=%s\n", c.SymbolPrefix)
	fmt.Fprintf(&b, "build_tags=%s\n", strings.Join(c.BuildTags, ","))
	return []byte(b.String())
}

func boolPtr(b bool) *bool { return &b }

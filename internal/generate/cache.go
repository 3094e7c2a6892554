package generate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// codegenVersion is bumped when the generated code format changes.
// This ensures stale cache entries are regenerated.
const codegenVersion = "v1"

// Cache records, per set of generator inputs, the digests of the outputs
// that were written for them. A package is skipped when its inputs hash to
// a known key and the files on disk still carry the recorded digests.
type Cache struct {
	// projectDir is the root directory containing mlbridge.yaml.
	projectDir string
}

// NewCache creates a new cache scoped to the given project directory.
func NewCache(projectDir string) *Cache {
	return &Cache{projectDir: projectDir}
}

// CacheDir returns the path to the cache directory.
func (c *Cache) CacheDir() string {
	return filepath.Join(c.projectDir, ".mlbridge", "cache")
}

// entry is the on-disk record of one generation.
type entry struct {
	Package string `yaml:"package"`
	// Outputs maps output base names to sha256 digests; "" records that the
	// file must be absent.
	Outputs map[string]string `yaml:"outputs"`
}

func (c *Cache) path(key string) string {
	return filepath.Join(c.CacheDir(), key+".yaml")
}

// Fresh reports whether the outputs in dir still match what was generated
// for key.
func (c *Cache) Fresh(key, dir string) bool {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return false
	}
	var e entry
	if err := yaml.Unmarshal(data, &e); err != nil || len(e.Outputs) == 0 {
		return false
	}
	for name, want := range e.Outputs {
		got, err := os.ReadFile(filepath.Join(dir, name))
		switch {
		case want == "" && os.IsNotExist(err):
			continue
		case err != nil || want == "":
			return false
		case digest(got) != want:
			return false
		}
	}
	return true
}

// Store records the outputs generated for key. Nil contents record absent
// files.
func (c *Cache) Store(key, pkg string, outputs map[string][]byte) error {
	if err := os.MkdirAll(c.CacheDir(), 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	e := entry{Package: pkg, Outputs: make(map[string]string, len(outputs))}
	for name, content := range outputs {
		if content == nil {
			e.Outputs[name] = ""
			continue
		}
		e.Outputs[name] = digest(content)
	}
	data, err := yaml.Marshal(&e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := os.WriteFile(c.path(key), data, 0o644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Clean removes all cache entries.
func (c *Cache) Clean() error {
	return os.RemoveAll(c.CacheDir())
}

// computeKey generates a deterministic cache key from the configuration
// fingerprint and the package's source files, in order.
func computeKey(fingerprint []byte, pkgPath string, files []string) (string, error) {
	h := sha256.New()
	h.Write(fingerprint)
	h.Write([]byte("\x00"))
	h.Write([]byte(pkgPath))
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("hashing %s: %w", name, err)
		}
		h.Write([]byte("\x00"))
		h.Write([]byte(filepath.Base(name)))
		h.Write([]byte("\x00"))
		h.Write(normalize(data))
	}

	// Include the version of the codegen (so cache invalidates on updates)
	h.Write([]byte("\x00"))
	h.Write([]byte(codegenVersion))

	return hex.EncodeToString(h.Sum(nil))[:16], nil // First 16 hex chars = 64 bits
}

// normalize trims trailing whitespace on each line, so trivial whitespace
// changes don't invalidate the cache.
func normalize(data []byte) []byte {
	lines := strings.Split(string(data), "\n")
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(strings.TrimRight(line, " \t\r"))
		b.WriteString("\n")
	}
	return []byte(strings.TrimRight(b.String(), "\n"))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

package directive

import (
	"errors"
	"fmt"
	"go/token"
	"regexp"
)

// ErrConflictingRepr is returned by ReprOf when unboxed and floats_array
// are combined.
var ErrConflictingRepr = errors.New("conflicting representation attributes")

// Repr is the guest representation of a record-like aggregate.
type Repr int

const (
	// Boxed is the default representation: a block of converted fields.
	Boxed Repr = iota
	// Unboxed represents a single-field record as its field's value.
	Unboxed
	// FloatsArray represents a record as a double-array block.
	FloatsArray
)

func (r Repr) String() string {
	switch r {
	case Unboxed:
		return "unboxed"
	case FloatsArray:
		return "floats_array"
	}
	return "boxed"
}

// ReprOf merges the representation attributes of one declaration. Only the
// words unboxed and floats_array are accepted, and not together.
func ReprOf(attrs ...*Directive) (Repr, error) {
	repr := Boxed
	for _, d := range attrs {
		if d.Name != Attr {
			return Boxed, fmt.Errorf("%s is not an attr directive", d)
		}
		if len(d.Pairs) > 0 {
			return Boxed, fmt.Errorf("unknown attribute %s = %q", d.Pairs[0].Key, d.Pairs[0].Value)
		}
		if len(d.Words) == 0 {
			return Boxed, fmt.Errorf("empty attribute list")
		}
		for _, w := range d.Words {
			var r Repr
			switch w {
			case "unboxed":
				r = Unboxed
			case "floats_array":
				r = FloatsArray
			default:
				return Boxed, fmt.Errorf("unknown attribute %q", w)
			}
			if repr != Boxed && repr != r {
				return Boxed, fmt.Errorf("%w: %s and %s", ErrConflictingRepr, repr, r)
			}
			repr = r
		}
	}
	return repr, nil
}

// EntryAttrs are the options of an entry directive.
type EntryAttrs struct {
	// FfiExn names the guest exception raised when the host function panics.
	FfiExn string
	// Symbol overrides the exported C symbol.
	Symbol string
}

var cIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EntryOf validates the options of an entry directive. Only the pairs
// ffi_exn and symbol are accepted, each at most once.
func EntryOf(d *Directive) (EntryAttrs, error) {
	var attrs EntryAttrs
	if d.Name != Entry {
		return attrs, fmt.Errorf("%s is not an entry directive", d)
	}
	if len(d.Words) > 0 {
		return attrs, fmt.Errorf("unknown entry attribute %q", d.Words[0])
	}
	seen := make(map[string]bool)
	for _, p := range d.Pairs {
		if seen[p.Key] {
			return attrs, fmt.Errorf("duplicate entry attribute %s", p.Key)
		}
		seen[p.Key] = true
		switch p.Key {
		case "ffi_exn":
			if p.Value == "" {
				return attrs, fmt.Errorf("ffi_exn must not be empty")
			}
			attrs.FfiExn = p.Value
		case "symbol":
			if !cIdent.MatchString(p.Value) {
				return attrs, fmt.Errorf("symbol %q is not a C identifier", p.Value)
			}
			attrs.Symbol = p.Value
		default:
			return attrs, fmt.Errorf("unknown entry attribute %s", p.Key)
		}
	}
	return attrs, nil
}

// Capabilities is the set of conversions derived for an aggregate.
type Capabilities uint8

const (
	ToValue Capabilities = 1 << iota
	FromValue

	Both = ToValue | FromValue
)

func (c Capabilities) Has(x Capabilities) bool { return c&x != 0 }

// DeriveOf returns the capabilities requested by derive directives. A bare
// derive requests both.
func DeriveOf(ds ...*Directive) (Capabilities, error) {
	var caps Capabilities
	for _, d := range ds {
		if d.Name != Derive {
			return 0, fmt.Errorf("%s is not a derive directive", d)
		}
		if len(d.Pairs) > 0 {
			return 0, fmt.Errorf("unknown derive option %s", d.Pairs[0].Key)
		}
		if len(d.Words) == 0 {
			caps |= Both
			continue
		}
		for _, w := range d.Words {
			switch w {
			case "to_value":
				caps |= ToValue
			case "from_value":
				caps |= FromValue
			default:
				return 0, fmt.Errorf("unknown derive capability %q", w)
			}
		}
	}
	return caps, nil
}

// VariantOf returns the union named by a variant directive.
func VariantOf(d *Directive) (string, error) {
	if d.Name != Variant {
		return "", fmt.Errorf("%s is not a variant directive", d)
	}
	if len(d.Pairs) > 0 || len(d.Words) != 1 {
		return "", fmt.Errorf("variant takes exactly one union type name")
	}
	if !token.IsIdentifier(d.Words[0]) {
		return "", fmt.Errorf("variant union %q is not an identifier", d.Words[0])
	}
	return d.Words[0], nil
}

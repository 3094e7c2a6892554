// Package directive parses //mlbridge: comment directives.
//
// A directive is a line comment with no space after the slashes:
//
//	//mlbridge:derive
//	//mlbridge:derive(to_value)
//	//mlbridge:attr(floats_array)
//	//mlbridge:variant(Unrolled)
//	//mlbridge:entry(ffi_exn = "MyErr", symbol = "rust_add_vecs")
//
// Options are either words or name = "string" pairs. The vocabulary is
// closed: anything not listed above is an error.
package directive

import (
	"fmt"
	"go/ast"
	"go/scanner"
	"go/token"
	"strconv"
	"strings"

	"github.com/funvibe/mlbridge/internal/diag"
)

// Prefix starts every directive comment.
const Prefix = "//mlbridge:"

// Directive names.
const (
	Derive  = "derive"
	Attr    = "attr"
	Variant = "variant"
	Entry   = "entry"
)

// Pair is a name = "value" option.
type Pair struct {
	Key   string
	Value string
}

// Directive is one parsed comment.
type Directive struct {
	Name  string
	Words []string
	Pairs []Pair
	// HasArgs is true when the directive was written with parentheses.
	HasArgs bool
	Pos     token.Position
}

func (d *Directive) String() string {
	if !d.HasArgs {
		return "mlbridge:" + d.Name
	}
	var opts []string
	opts = append(opts, d.Words...)
	for _, p := range d.Pairs {
		opts = append(opts, fmt.Sprintf("%s = %q", p.Key, p.Value))
	}
	return "mlbridge:" + d.Name + "(" + strings.Join(opts, ", ") + ")"
}

// IsDirective reports whether a comment's text is an mlbridge directive.
func IsDirective(text string) bool {
	return strings.HasPrefix(text, Prefix)
}

// Parse parses the full text of a directive comment, including the
// leading slashes.
func Parse(text string) (*Directive, error) {
	if !IsDirective(text) {
		return nil, fmt.Errorf("%q is not an mlbridge directive", text)
	}
	src := []byte(strings.TrimPrefix(text, "//"))
	p := &parser{}
	fset := token.NewFileSet()
	file := fset.AddFile("", -1, len(src))
	p.s.Init(file, src, func(pos token.Position, msg string) {
		if p.err == nil {
			p.err = fmt.Errorf("column %d: %s", pos.Column, msg)
		}
	}, 0)
	p.next()
	d := p.directive()
	if p.err != nil {
		return nil, p.err
	}
	return d, nil
}

type parser struct {
	s   scanner.Scanner
	tok token.Token
	lit string
	err error
}

func (p *parser) next() {
	_, p.tok, p.lit = p.s.Scan()
	// The scanner inserts a semicolon at end of input after an identifier,
	// string or closing parenthesis.
	if p.tok == token.SEMICOLON && p.lit == "\n" {
		p.tok = token.EOF
	}
}

func (p *parser) errorf(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *parser) expect(tok token.Token) string {
	lit := p.lit
	if p.tok != tok {
		p.errorf("expected %s, found %s", tok, p.describe())
	}
	p.next()
	return lit
}

func (p *parser) describe() string {
	if p.lit != "" && p.tok != token.STRING {
		return strconv.Quote(p.lit)
	}
	if p.tok == token.STRING {
		return "string " + p.lit
	}
	return p.tok.String()
}

func (p *parser) directive() *Directive {
	if ns := p.expect(token.IDENT); ns != "mlbridge" && p.err == nil {
		p.errorf("unknown directive namespace %q", ns)
	}
	p.expect(token.COLON)
	d := &Directive{Name: p.expect(token.IDENT)}
	if p.err != nil {
		return nil
	}
	switch d.Name {
	case Derive, Attr, Variant, Entry:
	default:
		p.errorf("unknown directive mlbridge:%s", d.Name)
		return nil
	}
	if p.tok == token.LPAREN {
		d.HasArgs = true
		p.next()
		for p.tok != token.RPAREN && p.tok != token.EOF && p.err == nil {
			p.option(d)
			if p.tok != token.COMMA {
				break
			}
			p.next()
		}
		p.expect(token.RPAREN)
	}
	if p.tok != token.EOF {
		p.errorf("unexpected %s after directive", p.describe())
	}
	return d
}

func (p *parser) option(d *Directive) {
	name := p.expect(token.IDENT)
	if p.err != nil {
		return
	}
	if p.tok != token.ASSIGN {
		d.Words = append(d.Words, name)
		return
	}
	p.next()
	if p.tok != token.STRING {
		p.errorf("value of %s must be a string literal, found %s", name, p.describe())
		return
	}
	val, err := strconv.Unquote(p.lit)
	if err != nil {
		p.errorf("value of %s: %v", name, err)
		return
	}
	p.next()
	d.Pairs = append(d.Pairs, Pair{Key: name, Value: val})
}

// Find parses every directive in a doc comment. Comments that are not
// directives are ignored; malformed directives are reported together.
func Find(fset *token.FileSet, doc *ast.CommentGroup) ([]*Directive, error) {
	if doc == nil {
		return nil, nil
	}
	var (
		out  []*Directive
		errs diag.List
	)
	for _, c := range doc.List {
		if !IsDirective(c.Text) {
			continue
		}
		pos := fset.Position(c.Slash)
		d, err := Parse(c.Text)
		if err != nil {
			errs.Add(diag.New(diag.PhaseParse, diag.KindSyntax).
				At(pos).
				Detail("%s", c.Text).
				Cause(err).
				Build())
			continue
		}
		d.Pos = pos
		out = append(out, d)
	}
	return out, errs.Err()
}

// Select returns the directives with the given name.
func Select(ds []*Directive, name string) []*Directive {
	var out []*Directive
	for _, d := range ds {
		if d.Name == name {
			out = append(out, d)
		}
	}
	return out
}

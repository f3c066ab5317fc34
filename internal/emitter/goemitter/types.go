package goemitter

import (
	"fmt"
	"strings"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// Names every generated tool package declares itself.
var reservedTypes = map[string]bool{
	"Input": true, "Name": true, "Description": true, "InputSchema": true, "Register": true,
}

// file collects the named types of one tool package. Struct objects,
// component arrays, component maps and component unions get a declaration;
// everything else is spelled inline.
type file struct {
	t     *Target
	g     *spec.Graph
	names map[string]string // node id -> type name
	taken map[string]bool
	seen  map[string]bool
	order []*spec.SchemaNode
}

func newFile(t *Target, g *spec.Graph) *file {
	return &file{
		t:     t,
		g:     g,
		names: map[string]string{},
		taken: map[string]bool{},
		seen:  map[string]bool{},
	}
}

func isMap(n *spec.SchemaNode) bool {
	return n.Kind() == spec.KindObject && len(n.Fields()) == 0 && n.Values() != nil
}

func (f *file) named(n *spec.SchemaNode) bool {
	switch n.Kind() {
	case spec.KindObject:
		return !isMap(n) || n.ComponentName() != ""
	case spec.KindArray, spec.KindUnion:
		return n.ComponentName() != ""
	default:
		return false
	}
}

func (f *file) assign(n *spec.SchemaNode, hint string) string {
	base := hint
	if c := n.ComponentName(); c != "" {
		base = f.t.SanitizeIdentifier(c)
	}
	name := base
	for i := 2; f.taken[name] || reservedTypes[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	f.names[n.ID()], f.taken[name] = name, true
	f.order = append(f.order, n)
	return name
}

// visit names every declaration reachable from n. hint names n when it is
// an inline object.
func (f *file) visit(n *spec.SchemaNode, hint string) error {
	if n == nil || f.seen[n.ID()] {
		return nil
	}
	if n.Kind() == spec.KindRecursiveRef {
		if f.g == nil {
			return nil
		}
		target, ok := f.g.Node(n.Target())
		if !ok {
			return spec.Errorf(spec.DanglingReference, "recursive reference to unresolved %s", n.Target()).At(n.Target())
		}
		return f.visit(target, hint)
	}
	f.seen[n.ID()] = true
	if f.named(n) {
		hint = f.assign(n, hint)
	}

	switch n.Kind() {
	case spec.KindArray:
		return f.visit(n.Elem(), hint+"Item")
	case spec.KindObject:
		fields, err := emitter.Fields(f.t, n)
		if err != nil {
			return err
		}
		for _, nf := range fields {
			if err := f.visit(nf.Schema, hint+nf.Ident); err != nil {
				return err
			}
		}
		return f.visit(n.Values(), hint+"Value")
	case spec.KindUnion:
		for i, v := range n.Variants() {
			if err := f.visit(v, fmt.Sprintf("%sVariant%d", hint, i+1)); err != nil {
				return err
			}
		}
	}
	return nil
}

// typeOf spells the Go type of n. A recursive reference to a struct is a
// pointer; one to an undeclared type falls back to json.RawMessage.
func (f *file) typeOf(n *spec.SchemaNode) string {
	if n == nil {
		return "any"
	}
	if n.Kind() == spec.KindRecursiveRef {
		if f.g == nil {
			return "json.RawMessage"
		}
		target, ok := f.g.Node(n.Target())
		if !ok {
			return "json.RawMessage"
		}
		name, ok := f.names[target.ID()]
		if !ok {
			return "json.RawMessage"
		}
		if target.Kind() == spec.KindObject && !isMap(target) {
			return "*" + name
		}
		return name
	}
	if name, ok := f.names[n.ID()]; ok {
		return name
	}
	switch n.Kind() {
	case spec.KindPrimitive:
		return primitive(n)
	case spec.KindArray:
		return "[]" + f.typeOf(n.Elem())
	case spec.KindObject:
		if n.Values() != nil {
			return "map[string]" + f.typeOf(n.Values())
		}
		return "map[string]any"
	case spec.KindUnion:
		return "json.RawMessage"
	default:
		return "any"
	}
}

func primitive(n *spec.SchemaNode) string {
	switch n.Primitive() {
	case spec.Integer:
		if n.Format() == "int32" {
			return "int32"
		}
		return "int64"
	case spec.Number:
		if n.Format() == "float" {
			return "float32"
		}
		return "float64"
	case spec.Boolean:
		return "bool"
	default:
		return "string"
	}
}

// nilable reports whether the Go type of n already has a nil value.
func (f *file) nilable(n *spec.SchemaNode) bool {
	if n == nil {
		return true
	}
	if n.Kind() == spec.KindRecursiveRef {
		return true
	}
	switch n.Kind() {
	case spec.KindAny, spec.KindArray, spec.KindUnion:
		return true
	case spec.KindObject:
		return isMap(n)
	default:
		return false
	}
}

// fieldType is the type of a struct field: optional and nullable values are
// pointers unless the type is nilable already.
func (f *file) fieldType(n *spec.SchemaNode, required bool) string {
	t := f.typeOf(n)
	if f.nilable(n) || (required && !n.Nullable()) {
		return t
	}
	return "*" + t
}

func (f *file) declarations(b *strings.Builder) error {
	for _, n := range f.order {
		name := f.names[n.ID()]
		switch id := n.ComponentName(); {
		case strings.HasPrefix(n.ID(), "tool:"):
			fmt.Fprintf(b, "// %s holds the tool arguments.\n", name)
		case id != "":
			fmt.Fprintf(b, "// %s is the %s schema.\n", name, id)
		default:
			fmt.Fprintf(b, "// %s is an inline schema.\n", name)
		}
		if d := n.Description(); d != "" {
			fmt.Fprintf(b, "//\n// %s\n", emitter.CommentLine(d))
		}
		switch n.Kind() {
		case spec.KindUnion:
			fmt.Fprintf(b, "//\n// It accepts %s. The union is not enforced; decode the raw JSON as needed.\n", variants(n))
			fmt.Fprintf(b, "type %s = json.RawMessage\n\n", name)
		case spec.KindArray:
			fmt.Fprintf(b, "type %s []%s\n\n", name, f.typeOf(n.Elem()))
		case spec.KindObject:
			if isMap(n) {
				fmt.Fprintf(b, "type %s map[string]%s\n\n", name, f.typeOf(n.Values()))
				continue
			}
			if err := f.structDecl(b, name, n); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *file) structDecl(b *strings.Builder, name string, n *spec.SchemaNode) error {
	fields, err := emitter.Fields(f.t, n)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "type %s struct {\n", name)
	var renamed bool
	for _, nf := range fields {
		if d := fieldDoc(nf.Schema); d != "" {
			fmt.Fprintf(b, "\t// %s\n", d)
		}
		tag := nf.Key
		if !nf.Required {
			tag += ",omitempty"
		}
		fmt.Fprintf(b, "\t%s %s `json:\"%s\"`\n", nf.Ident, f.fieldType(nf.Schema, nf.Required), tag)
		if nf.Key != nf.Name {
			renamed = true
		}
	}
	b.WriteString("}\n\n")

	if renamed {
		fmt.Fprintf(b, "// MarshalJSON writes the property names the API expects.\n")
		fmt.Fprintf(b, "func (v %s) MarshalJSON() ([]byte, error) {\n", name)
		b.WriteString("\treturn client.MarshalObject(\n")
		for _, nf := range fields {
			omit := ""
			if !nf.Required {
				omit = fmt.Sprintf(", Omit: v.%s == nil", nf.Ident)
			}
			fmt.Fprintf(b, "\t\tclient.Field{Name: %q, Value: v.%s%s},\n", nf.Name, nf.Ident, omit)
		}
		b.WriteString("\t)\n}\n\n")
	}
	return nil
}

func fieldDoc(n *spec.SchemaNode) string {
	if n == nil {
		return ""
	}
	var parts []string
	if d := n.Description(); d != "" {
		parts = append(parts, emitter.CommentLine(d))
	}
	if enum := n.Enum(); len(enum) > 0 {
		vals := make([]string, 0, len(enum))
		for _, v := range enum {
			if s, ok := v.(string); ok {
				vals = append(vals, fmt.Sprintf("%q", s))
			} else {
				vals = append(vals, fmt.Sprint(v))
			}
		}
		parts = append(parts, "One of: "+emitter.CommentLine(strings.Join(vals, ", "))+".")
	}
	if n.Kind() == spec.KindUnion {
		parts = append(parts, "Accepts "+variants(n)+" (not enforced).")
	}
	return strings.Join(parts, " ")
}

func variants(n *spec.SchemaNode) string {
	parts := make([]string, 0, len(n.Variants()))
	for _, v := range n.Variants() {
		parts = append(parts, v.String())
	}
	return n.Combinator() + " " + strings.Join(parts, " | ")
}

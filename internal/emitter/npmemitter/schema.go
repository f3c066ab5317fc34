package npmemitter

import (
	"fmt"
	"strings"

	"github.com/mark3labs/openapi2mcp/internal/contract"
	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// reserved names exported by every tool module.
var reserved = map[string]bool{
	"z": true, "name": true, "description": true, "inputShape": true,
	"inputSchema": true, "setupTool": true, "callApi": true, "McpServer": true,
}

type decl struct {
	id, name, expr string
}

// file renders zod expressions for one tool module. Component schemas are
// declared once as constants, dependencies first. A reference to a constant
// that is still being built goes through z.lazy, and that constant is then
// annotated as z.ZodTypeAny so the checker does not infer it circularly.
type file struct {
	t        *Target
	g        *spec.Graph
	names    map[string]string
	taken    map[string]bool
	decls    []decl
	declared map[string]bool
	pending  map[string]bool
	lazy     map[string]bool
	depth    int
}

func newFile(t *Target, g *spec.Graph) *file {
	return &file{
		t:        t,
		g:        g,
		names:    map[string]string{},
		taken:    map[string]bool{},
		declared: map[string]bool{},
		pending:  map[string]bool{},
		lazy:     map[string]bool{},
	}
}

func (f *file) expr(n *spec.SchemaNode) (string, error) {
	switch {
	case n == nil:
		return "z.any()", nil
	case n.Kind() == spec.KindRecursiveRef:
		if f.g == nil {
			return "z.lazy(() => " + f.constName(n.Target(), nil) + ")", nil
		}
		target, ok := f.g.Node(n.Target())
		if !ok {
			return "", spec.Errorf(spec.DanglingReference, "recursive reference to unresolved %s", n.Target()).At(n.Target())
		}
		return f.ref(target)
	case n.ComponentName() != "":
		return f.ref(n)
	default:
		return f.inline(n)
	}
}

func (f *file) constName(id string, n *spec.SchemaNode) string {
	if name, ok := f.names[id]; ok {
		return name
	}
	base := naming.FieldKey(id)
	if n != nil {
		base = contract.DefName(n)
	}
	base = f.t.SanitizeIdentifier(base) + "Schema"
	name := base
	for i := 2; f.taken[name] || reserved[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	f.names[id], f.taken[name] = name, true
	return name
}

func (f *file) ref(n *spec.SchemaNode) (string, error) {
	name := f.constName(n.ID(), n)
	if f.g == nil {
		return name, nil
	}
	if !f.declared[n.ID()] && !f.pending[n.ID()] {
		if err := f.declare(n, name); err != nil {
			return "", err
		}
	}
	if f.declared[n.ID()] {
		return name, nil
	}
	f.lazy[n.ID()] = true
	return "z.lazy(() => " + name + ")", nil
}

func (f *file) declare(n *spec.SchemaNode, name string) error {
	f.pending[n.ID()] = true
	depth := f.depth
	f.depth = 0
	e, err := f.inline(n)
	f.depth = depth
	delete(f.pending, n.ID())
	if err != nil {
		return err
	}
	f.declared[n.ID()] = true
	f.decls = append(f.decls, decl{id: n.ID(), name: name, expr: e})
	return nil
}

func (f *file) inline(n *spec.SchemaNode) (string, error) {
	var (
		e   string
		err error
	)
	switch n.Kind() {
	case spec.KindPrimitive:
		e = primitive(n)
	case spec.KindArray:
		var elem string
		if elem, err = f.expr(n.Elem()); err != nil {
			return "", err
		}
		e = "z.array(" + elem + ")"
	case spec.KindObject:
		if e, err = f.object(n, nil); err != nil {
			return "", err
		}
	case spec.KindUnion:
		if e, err = f.union(n); err != nil {
			return "", err
		}
	case spec.KindRecursiveRef:
		return f.expr(n)
	default:
		e = "z.any()"
	}
	if n.Nullable() || hasNull(n.Enum()) {
		e += ".nullable()"
	}
	if d := n.Description(); d != "" {
		e += ".describe(" + jsString(d) + ")"
	}
	return e, nil
}

func hasNull(values []any) bool {
	for _, v := range values {
		if v == nil {
			return true
		}
	}
	return false
}

func primitive(n *spec.SchemaNode) string {
	var values []any
	for _, v := range n.Enum() {
		if v != nil {
			values = append(values, v)
		}
	}
	if len(values) > 0 {
		strs := make([]string, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				strs = nil
				break
			}
			strs = append(strs, jsString(s))
		}
		if strs != nil {
			return "z.enum([" + strings.Join(strs, ", ") + "])"
		}
		if len(values) == 1 {
			return "z.literal(" + jsValue(values[0]) + ")"
		}
		lits := make([]string, 0, len(values))
		for _, v := range values {
			lits = append(lits, "z.literal("+jsValue(v)+")")
		}
		return "z.union([" + strings.Join(lits, ", ") + "])"
	}

	switch n.Primitive() {
	case spec.Integer:
		return "z.number().int()"
	case spec.Number:
		return "z.number()"
	case spec.Boolean:
		return "z.boolean()"
	}
	switch n.Format() {
	case "date-time":
		return "z.string().datetime()"
	case "email":
		return "z.string().email()"
	case "uuid":
		return "z.string().uuid()"
	case "uri", "url":
		return "z.string().url()"
	default:
		return "z.string()"
	}
}

// object renders z.object. Fields named in literals are replaced by a
// z.literal of the given value; discriminated union variants use that.
func (f *file) object(n *spec.SchemaNode, literals map[string]string) (string, error) {
	fields, err := emitter.Fields(f.t, n)
	if err != nil {
		return "", err
	}
	values := n.Values()
	if len(fields) == 0 && values != nil {
		v, err := f.expr(values)
		if err != nil {
			return "", err
		}
		return "z.record(z.string(), " + v + ")", nil
	}
	if len(fields) == 0 {
		return "z.object({})", nil
	}

	f.depth++
	indent := strings.Repeat("  ", f.depth)
	var (
		b       strings.Builder
		renamed []emitter.NamedField
	)
	b.WriteString("z.object({\n")
	for _, nf := range fields {
		var e string
		if lit, ok := literals[nf.Name]; ok {
			e = "z.literal(" + jsString(lit) + ")"
		} else {
			if e, err = f.expr(nf.Schema); err != nil {
				f.depth--
				return "", err
			}
			if !nf.Required {
				e += ".optional()"
			}
		}
		b.WriteString(indent + propKey(nf.Key) + ": " + e + ",\n")
		if nf.Key != nf.Name {
			renamed = append(renamed, nf)
		}
	}
	f.depth--
	b.WriteString(strings.Repeat("  ", f.depth) + "})")

	if values != nil {
		v, err := f.expr(values)
		if err != nil {
			return "", err
		}
		b.WriteString(".catchall(" + v + ")")
	}
	if len(renamed) > 0 {
		b.WriteString(restoreWireNames(renamed))
	}
	return b.String(), nil
}

// restoreWireNames maps sanitized keys back to the names the API expects.
func restoreWireNames(fields []emitter.NamedField) string {
	var params, entries []string
	for i, nf := range fields {
		v := fmt.Sprintf("f%d", i)
		params = append(params, propKey(nf.Key)+": "+v)
		entries = append(entries, jsString(nf.Name)+": "+v)
	}
	return ".transform(({ " + strings.Join(params, ", ") + ", ...rest }) => ({ ...rest, " + strings.Join(entries, ", ") + " }))"
}

func (f *file) union(n *spec.SchemaNode) (string, error) {
	variants := n.Variants()
	if len(variants) == 1 {
		return f.expr(variants[0])
	}
	if prop, values, ok := discriminated(n); ok {
		parts := make([]string, 0, len(variants))
		for i, v := range variants {
			e, err := f.object(v, map[string]string{prop: values[i]})
			if err != nil {
				return "", err
			}
			parts = append(parts, e)
		}
		return "z.discriminatedUnion(" + jsString(prop) + ", [" + strings.Join(parts, ", ") + "])", nil
	}
	parts := make([]string, 0, len(variants))
	for _, v := range variants {
		e, err := f.expr(v)
		if err != nil {
			return "", err
		}
		parts = append(parts, e)
	}
	return "z.union([" + strings.Join(parts, ", ") + "])", nil
}

// discriminated reports whether n can be a z.discriminatedUnion: every
// variant is a plain object carrying the discriminator property under its
// own name, with a distinct known value.
func discriminated(n *spec.SchemaNode) (string, []string, bool) {
	d := n.Discriminator()
	if d == nil || naming.FieldKey(d.Property) != d.Property {
		return "", nil, false
	}
	var (
		values []string
		seen   = map[string]bool{}
	)
	for _, v := range n.Variants() {
		if v.Kind() != spec.KindObject || v.Nullable() || v.Values() != nil {
			return "", nil, false
		}
		if _, ok := v.Field(d.Property); !ok {
			return "", nil, false
		}
		for _, f := range v.Fields() {
			if naming.FieldKey(f.Name) != f.Name {
				return "", nil, false
			}
		}
		value := discriminatorValue(v, d)
		if value == "" || seen[value] {
			return "", nil, false
		}
		seen[value] = true
		values = append(values, value)
	}
	return d.Property, values, true
}

func discriminatorValue(v *spec.SchemaNode, d *spec.Discriminator) string {
	for _, m := range d.Mapping {
		if m.Ref == v.ID() {
			return m.Value
		}
	}
	if f, ok := v.Field(d.Property); ok && f.Schema != nil {
		if enum := f.Schema.Enum(); len(enum) == 1 {
			if s, ok := enum[0].(string); ok {
				return s
			}
		}
	}
	return v.ComponentName()
}

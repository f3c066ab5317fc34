package spec

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Resolver turns raw schema fragments into canonical SchemaNodes. Every
// identity (a reference path or an inline JSON pointer) is resolved once and
// memoized, so two references to the same schema yield the same node.
//
// A Resolver is not safe for concurrent use. Take a Graph snapshot once
// resolution is done and share that instead.
type Resolver struct {
	doc       *Document
	nodes     map[string]*SchemaNode
	order     []string
	visiting  map[string]bool
	recursive map[string]*SchemaNode
}

func NewResolver(doc *Document) *Resolver {
	return &Resolver{
		doc:       doc,
		nodes:     map[string]*SchemaNode{},
		visiting:  map[string]bool{},
		recursive: map[string]*SchemaNode{},
	}
}

// Ref resolves a local reference such as "#/components/schemas/Pet".
func (r *Resolver) Ref(ref string) (*SchemaNode, error) {
	return r.resolveRef(ref, ref)
}

// Schema resolves the schema located at pointer, following it if it is a
// $ref.
func (r *Resolver) Schema(pointer string) (*SchemaNode, error) {
	raw, ok := r.doc.at(pointer)
	if !ok {
		return nil, Errorf(DanglingReference, "no schema at %s", pointer).At(pointer)
	}
	return r.resolve(raw, pointer)
}

// Components resolves every component schema in declaration order, so that
// problems in schemas no operation uses are still reported.
func (r *Resolver) Components() error {
	for _, name := range r.doc.SchemaNames() {
		if _, err := r.Ref(componentSchemas + escapeToken(name)); err != nil {
			return err
		}
	}
	return nil
}

// Graph returns a snapshot of everything resolved so far.
func (r *Resolver) Graph() *Graph {
	g := &Graph{nodes: make(map[string]*SchemaNode, len(r.nodes)), order: append([]string(nil), r.order...)}
	for id, n := range r.nodes {
		g.nodes[id] = n
	}
	return g
}

func (r *Resolver) resolve(raw *yaml.Node, ptr string) (*SchemaNode, error) {
	raw = deref(raw)
	if ref := refOf(raw); ref != "" {
		return r.resolveRef(ref, ptr+"/$ref")
	}
	return r.resolveIdentity(ptr, raw)
}

// resolveRef follows ref. site is where the $ref was written and is what
// errors point at.
func (r *Resolver) resolveRef(ref, site string) (*SchemaNode, error) {
	if !strings.HasPrefix(ref, "#/") {
		return nil, Errorf(DanglingReference, "external reference %q is not supported", ref).At(site)
	}
	raw, ok := r.doc.at(ref)
	if !ok {
		return nil, Errorf(DanglingReference, "reference %q does not resolve", ref).At(site)
	}
	return r.resolveIdentity(ref, raw)
}

func (r *Resolver) resolveIdentity(id string, raw *yaml.Node) (*SchemaNode, error) {
	if n, ok := r.nodes[id]; ok {
		return n, nil
	}
	if r.visiting[id] {
		return r.recursiveRef(id), nil
	}
	r.visiting[id] = true
	defer delete(r.visiting, id)

	if ref := refOf(raw); ref != "" {
		// A pure alias shares the node of whatever it points at.
		n, err := r.resolveRef(ref, id+"/$ref")
		if err != nil {
			return nil, err
		}
		if n.kind == KindRecursiveRef {
			if n.target == id {
				return nil, Errorf(DanglingReference, "circular alias %q never reaches a schema", id).At(id + "/$ref")
			}
			// Inside a cycle; the alias is memoized once its target completes.
			return n, nil
		}
		r.remember(id, n)
		return n, nil
	}

	n, err := r.build(id, id, raw)
	if err != nil {
		return nil, err
	}
	r.remember(id, n)
	return n, nil
}

func (r *Resolver) remember(id string, n *SchemaNode) {
	if _, ok := r.nodes[id]; ok {
		return
	}
	r.nodes[id] = n
	if n.id == id {
		r.order = append(r.order, id)
	}
}

// recursiveRef returns the single back-reference node for target. These
// nodes are not part of the graph; consumers look target up instead.
func (r *Resolver) recursiveRef(target string) *SchemaNode {
	if n, ok := r.recursive[target]; ok {
		return n
	}
	n := &SchemaNode{id: "recursive:" + target, kind: KindRecursiveRef, target: target}
	r.recursive[target] = n
	return n
}

// build constructs the node with identity id from the raw schema at ptr.
func (r *Resolver) build(id, ptr string, raw *yaml.Node) (*SchemaNode, error) {
	switch {
	case raw == nil:
		return &SchemaNode{id: id, kind: KindAny}, nil
	case raw.Kind == yaml.ScalarNode && raw.Tag == "!!bool":
		// Boolean schemas carry no shape.
		return &SchemaNode{id: id, kind: KindAny}, nil
	case raw.Kind != yaml.MappingNode:
		return nil, Errorf(MalformedInput, "schema must be a mapping").At(ptr)
	}

	var (
		n   *SchemaNode
		err error
	)
	switch {
	case lookup(raw, "allOf") != nil:
		n, err = r.buildAllOf(id, ptr, raw)
	case lookup(raw, "oneOf") != nil:
		n, err = r.buildUnion(id, ptr, raw, "oneOf")
	case lookup(raw, "anyOf") != nil:
		n, err = r.buildUnion(id, ptr, raw, "anyOf")
	default:
		n, err = r.buildTyped(id, ptr, raw)
	}
	if err != nil {
		return nil, err
	}
	if d := scalar(lookup(raw, "description")); d != "" {
		n.description = d
	}
	if boolean(lookup(raw, "nullable")) {
		n.nullable = true
	}
	return n, nil
}

func (r *Resolver) buildTyped(id, ptr string, raw *yaml.Node) (*SchemaNode, error) {
	types, nullable := schemaTypes(raw)
	if len(types) > 1 {
		u := &SchemaNode{id: id, kind: KindUnion, combinator: "oneOf", nullable: nullable}
		for i, t := range types {
			vid := join(ptr, "type", strconv.Itoa(i))
			v, err := r.buildType(vid, ptr, raw, t)
			if err != nil {
				return nil, err
			}
			r.remember(vid, v)
			u.variants = append(u.variants, v)
		}
		return u, nil
	}

	typ := ""
	if len(types) == 1 {
		typ = types[0]
	}
	n, err := r.buildType(id, ptr, raw, typ)
	if err != nil {
		return nil, err
	}
	n.nullable = n.nullable || nullable
	return n, nil
}

// schemaTypes reads "type", which 3.1 allows to be a list. "null" is folded
// into the nullable flag.
func schemaTypes(raw *yaml.Node) ([]string, bool) {
	var declared []string
	if tn := lookup(raw, "type"); tn != nil {
		if tn.Kind == yaml.SequenceNode {
			declared = stringList(tn)
		} else if s := scalar(tn); s != "" {
			declared = []string{s}
		}
	}
	var (
		out      []string
		nullable bool
	)
	for _, t := range declared {
		if t == "null" {
			nullable = true
			continue
		}
		out = append(out, t)
	}
	return out, nullable
}

func (r *Resolver) buildType(id, ptr string, raw *yaml.Node, typ string) (*SchemaNode, error) {
	if typ == "" {
		typ = inferType(raw)
	}
	switch typ {
	case "object":
		return r.buildObject(id, ptr, raw)
	case "array":
		n := &SchemaNode{id: id, kind: KindArray}
		if it := lookup(raw, "items"); it != nil {
			elem, err := r.resolve(it, ptr+"/items")
			if err != nil {
				return nil, err
			}
			n.elem = elem
		} else {
			n.elem = &SchemaNode{id: ptr + "/items", kind: KindAny}
		}
		return n, nil
	case "string", "number", "integer", "boolean":
		return &SchemaNode{
			id:        id,
			kind:      KindPrimitive,
			primitive: Primitive(typ),
			format:    scalar(lookup(raw, "format")),
			enum:      enumValues(raw),
		}, nil
	case "":
		return &SchemaNode{id: id, kind: KindAny}, nil
	default:
		return nil, Errorf(MalformedInput, "unknown schema type %q", typ).At(ptr + "/type")
	}
}

func inferType(raw *yaml.Node) string {
	switch {
	case lookup(raw, "properties") != nil, lookup(raw, "additionalProperties") != nil, lookup(raw, "required") != nil:
		return "object"
	case lookup(raw, "items") != nil:
		return "array"
	}
	values := enumValues(raw)
	if len(values) == 0 {
		return ""
	}
	switch values[0].(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64:
		return "integer"
	case float64:
		return "number"
	}
	return ""
}

// enumValues returns enum, or const as a one-value enum.
func enumValues(raw *yaml.Node) []any {
	var out []any
	for _, it := range items(lookup(raw, "enum")) {
		out = append(out, decodeScalar(it))
	}
	if c := lookup(raw, "const"); c != nil && len(out) == 0 {
		out = append(out, decodeScalar(c))
	}
	return out
}

func (r *Resolver) buildObject(id, ptr string, raw *yaml.Node) (*SchemaNode, error) {
	n := &SchemaNode{id: id, kind: KindObject}

	required := map[string]bool{}
	for _, name := range stringList(lookup(raw, "required")) {
		required[name] = true
	}
	props := lookup(raw, "properties")
	declared := map[string]bool{}
	for _, p := range pairs(props) {
		child, err := r.resolve(p.value, join(ptr, "properties", p.key))
		if err != nil {
			return nil, err
		}
		declared[p.key] = true
		n.fields = append(n.fields, Field{Name: p.key, Schema: child, Required: required[p.key]})
	}
	for _, name := range stringList(lookup(raw, "required")) {
		if !declared[name] {
			n.extraRequired = append(n.extraRequired, name)
		}
	}

	ap := lookup(raw, "additionalProperties")
	switch {
	case ap == nil:
		if props == nil {
			// A bare object accepts arbitrary keys.
			n.values = &SchemaNode{id: ptr + "/additionalProperties", kind: KindAny}
			n.impliedValues = true
		}
	case ap.Kind == yaml.ScalarNode:
		if boolean(ap) {
			n.values = &SchemaNode{id: ptr + "/additionalProperties", kind: KindAny}
		}
	default:
		v, err := r.resolve(ap, ptr+"/additionalProperties")
		if err != nil {
			return nil, err
		}
		n.values = v
	}
	return n, nil
}

func (r *Resolver) buildAllOf(id, ptr string, raw *yaml.Node) (*SchemaNode, error) {
	members := items(lookup(raw, "allOf"))
	site := ptr + "/allOf"
	if len(members) == 0 {
		return nil, Errorf(InvalidCombinator, "allOf must list at least one schema").At(site)
	}

	m := &merger{node: &SchemaNode{id: id, kind: KindObject}, index: map[string]int{}, required: map[string]bool{}, site: site}
	for i, member := range members {
		mp := join(ptr, "allOf", strconv.Itoa(i))
		n, err := r.resolve(member, mp)
		if err != nil {
			return nil, err
		}
		switch n.kind {
		case KindObject:
		case KindRecursiveRef:
			return nil, Errorf(InvalidCombinator, "allOf member %d refers back to %s, which is still being resolved", i, n.target).At(mp)
		default:
			return nil, Errorf(InvalidCombinator, "allOf member %d is %s, not an object", i, n).At(mp)
		}
		if err := m.add(n); err != nil {
			return nil, err
		}
	}

	// Properties written next to allOf merge in as one more member.
	if lookup(raw, "properties") != nil || lookup(raw, "required") != nil || lookup(raw, "additionalProperties") != nil {
		own, err := r.buildObject(id, ptr, raw)
		if err != nil {
			return nil, err
		}
		if err := m.add(own); err != nil {
			return nil, err
		}
	}
	return m.finish(), nil
}

type merger struct {
	node     *SchemaNode
	index    map[string]int
	required map[string]bool
	site     string
}

func (m *merger) add(src *SchemaNode) error {
	for _, f := range src.fields {
		i, ok := m.index[f.Name]
		if !ok {
			m.index[f.Name] = len(m.node.fields)
			m.node.fields = append(m.node.fields, f)
			continue
		}
		prev := m.node.fields[i]
		if !sameShape(prev.Schema, f.Schema, map[[2]*SchemaNode]bool{}) {
			return Errorf(IncompatibleMerge, "field %q is declared as %s and as %s", f.Name, prev.Schema, f.Schema).At(m.site)
		}
		m.node.fields[i].Required = prev.Required || f.Required
	}
	for _, name := range src.extraRequired {
		m.required[name] = true
	}
	if src.values != nil {
		switch {
		case m.node.values == nil:
			m.node.values, m.node.impliedValues = src.values, src.impliedValues
		case src.impliedValues:
		case m.node.impliedValues:
			m.node.values, m.node.impliedValues = src.values, false
		case !sameShape(m.node.values, src.values, map[[2]*SchemaNode]bool{}):
			return Errorf(IncompatibleMerge, "additionalProperties is declared as %s and as %s", m.node.values, src.values).At(m.site)
		}
	}
	return nil
}

func (m *merger) finish() *SchemaNode {
	for i, f := range m.node.fields {
		if m.required[f.Name] {
			m.node.fields[i].Required = true
			delete(m.required, f.Name)
		}
	}
	for name := range m.required {
		m.node.extraRequired = append(m.node.extraRequired, name)
	}
	sort.Strings(m.node.extraRequired)
	return m.node
}

func (r *Resolver) buildUnion(id, ptr string, raw *yaml.Node, combinator string) (*SchemaNode, error) {
	list := items(lookup(raw, combinator))
	if len(list) == 0 {
		return nil, Errorf(InvalidCombinator, "%s must list at least one schema", combinator).At(ptr + "/" + combinator)
	}
	n := &SchemaNode{id: id, kind: KindUnion, combinator: combinator}
	for i, v := range list {
		node, err := r.resolve(v, join(ptr, combinator, strconv.Itoa(i)))
		if err != nil {
			return nil, err
		}
		n.variants = append(n.variants, node)
	}

	if d := lookup(raw, "discriminator"); d != nil {
		if prop := scalar(lookup(d, "propertyName")); prop != "" {
			disc := &Discriminator{Property: prop}
			for _, p := range pairs(lookup(d, "mapping")) {
				ref := scalar(p.value)
				if ref != "" && !strings.HasPrefix(ref, "#") {
					ref = componentSchemas + escapeToken(ref)
				}
				disc.Mapping = append(disc.Mapping, Mapping{Value: p.key, Ref: ref})
			}
			n.discriminator = disc
		}
	}
	return n, nil
}

// Graph is an immutable snapshot of resolved nodes. It is safe for
// concurrent readers.
type Graph struct {
	nodes map[string]*SchemaNode
	order []string
}

func (g *Graph) Node(id string) (*SchemaNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// IDs lists identities in completion order, aliases excluded: a node's dependencies come
// before it, except where a cycle was broken by a recursiveRef.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

func (g *Graph) Len() int { return len(g.order) }

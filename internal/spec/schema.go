package spec

import (
	"fmt"
	"strings"
)

// Kind is the shape of a resolved SchemaNode.
type Kind int

const (
	KindAny Kind = iota
	KindPrimitive
	KindArray
	KindObject
	KindUnion
	KindRecursiveRef
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindUnion:
		return "union"
	case KindRecursiveRef:
		return "recursiveRef"
	default:
		return "any"
	}
}

// Primitive is the scalar type of a KindPrimitive node.
type Primitive string

const (
	String  Primitive = "string"
	Number  Primitive = "number"
	Integer Primitive = "integer"
	Boolean Primitive = "boolean"
)

const componentSchemas = "#/components/schemas/"

// Field is one named member of an object node.
type Field struct {
	Name     string
	Schema   *SchemaNode
	Required bool
}

// Discriminator is a union's tagging property with its declared mapping.
type Discriminator struct {
	Property string
	Mapping  []Mapping
}

// Mapping binds one discriminator value to a schema reference.
type Mapping struct {
	Value string
	Ref   string
}

// SchemaNode is a canonical resolved type. Nodes are shared between every
// reference to the same identity and are never modified after resolution,
// so the fields are only reachable through accessors returning copies.
type SchemaNode struct {
	id          string
	kind        Kind
	description string
	nullable    bool

	primitive Primitive
	format    string
	enum      []any

	elem *SchemaNode

	fields []Field
	values *SchemaNode
	// impliedValues marks values that come from an object with neither
	// properties nor additionalProperties rather than a declaration.
	impliedValues bool
	extraRequired []string

	variants      []*SchemaNode
	combinator    string
	discriminator *Discriminator

	target string
}

// NewObject builds a synthesized object node, e.g. a tool's input contract.
func NewObject(id, description string, fields []Field) *SchemaNode {
	return &SchemaNode{
		id:          id,
		kind:        KindObject,
		description: description,
		fields:      append([]Field(nil), fields...),
	}
}

// ID returns the stable identity: a reference path or the JSON pointer of an
// inline schema.
func (n *SchemaNode) ID() string { return n.id }
func (n *SchemaNode) Kind() Kind { return n.kind }
func (n *SchemaNode) Description() string { return n.description }
func (n *SchemaNode) Nullable() bool { return n.nullable }
func (n *SchemaNode) Primitive() Primitive { return n.primitive }
func (n *SchemaNode) Format() string { return n.format }

// Elem is the element type of an array node.
func (n *SchemaNode) Elem() *SchemaNode { return n.elem }

// Values is the additional-properties type of an object node, or nil when
// extra keys are not described.
func (n *SchemaNode) Values() *SchemaNode { return n.values }

// Combinator is "oneOf" or "anyOf" for union nodes.
func (n *SchemaNode) Combinator() string { return n.combinator }

// Target is the identity a recursiveRef node points back at.
func (n *SchemaNode) Target() string { return n.target }

func (n *SchemaNode) Enum() []any {
	return append([]any(nil), n.enum...)
}

func (n *SchemaNode) Fields() []Field {
	return append([]Field(nil), n.fields...)
}

// Field looks up an object field by its declared name.
func (n *SchemaNode) Field(name string) (Field, bool) {
	for _, f := range n.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (n *SchemaNode) Variants() []*SchemaNode {
	return append([]*SchemaNode(nil), n.variants...)
}

func (n *SchemaNode) Discriminator() *Discriminator {
	if n.discriminator == nil {
		return nil
	}
	d := *n.discriminator
	d.Mapping = append([]Mapping(nil), n.discriminator.Mapping...)
	return &d
}

// ComponentName returns "Pet" for "#/components/schemas/Pet" and "" for
// anything that is not a top-level component schema.
func (n *SchemaNode) ComponentName() string {
	return componentName(n.id)
}

func componentName(id string) string {
	if !strings.HasPrefix(id, componentSchemas) {
		return ""
	}
	name := strings.TrimPrefix(id, componentSchemas)
	if strings.Contains(name, "/") {
		return ""
	}
	return unescapeToken(name)
}

// String renders a short shape description used in diagnostics.
func (n *SchemaNode) String() string {
	return describe(n, 0)
}

func describe(n *SchemaNode, depth int) string {
	if n == nil {
		return "<nil>"
	}
	if depth > 2 {
		return "..."
	}
	switch n.kind {
	case KindPrimitive:
		if n.format != "" {
			return fmt.Sprintf("%s(%s)", n.primitive, n.format)
		}
		return string(n.primitive)
	case KindArray:
		return "array<" + describe(n.elem, depth+1) + ">"
	case KindObject:
		if name := n.ComponentName(); name != "" {
			return "object " + name
		}
		names := make([]string, 0, len(n.fields))
		for _, f := range n.fields {
			names = append(names, f.Name)
		}
		return "object{" + strings.Join(names, ",") + "}"
	case KindUnion:
		parts := make([]string, 0, len(n.variants))
		for _, v := range n.variants {
			parts = append(parts, describe(v, depth+1))
		}
		return n.combinator + "(" + strings.Join(parts, " | ") + ")"
	case KindRecursiveRef:
		return "ref " + n.target
	default:
		return "any"
	}
}

// sameShape reports whether a and b describe the same type. Identical nodes
// and recursive references to the same target are trivially equal.
func sameShape(a, b *SchemaNode, seen map[[2]*SchemaNode]bool) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	key := [2]*SchemaNode{a, b}
	if seen[key] {
		return true
	}
	seen[key] = true

	if a.kind != b.kind || a.nullable != b.nullable {
		return false
	}
	switch a.kind {
	case KindPrimitive:
		if a.primitive != b.primitive || a.format != b.format || len(a.enum) != len(b.enum) {
			return false
		}
		for i := range a.enum {
			if fmt.Sprint(a.enum[i]) != fmt.Sprint(b.enum[i]) {
				return false
			}
		}
		return true
	case KindArray:
		return sameShape(a.elem, b.elem, seen)
	case KindObject:
		if len(a.fields) != len(b.fields) || (a.values == nil) != (b.values == nil) {
			return false
		}
		for i := range a.fields {
			fa, fb := a.fields[i], b.fields[i]
			if fa.Name != fb.Name || fa.Required != fb.Required || !sameShape(fa.Schema, fb.Schema, seen) {
				return false
			}
		}
		return a.values == nil || sameShape(a.values, b.values, seen)
	case KindUnion:
		if a.combinator != b.combinator || len(a.variants) != len(b.variants) {
			return false
		}
		for i := range a.variants {
			if !sameShape(a.variants[i], b.variants[i], seen) {
				return false
			}
		}
		return true
	case KindRecursiveRef:
		return a.target == b.target
	default:
		return true
	}
}

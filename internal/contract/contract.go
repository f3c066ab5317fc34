// Package contract renders a tool's input as JSON Schema, the form MCP
// clients see in tools/list.
package contract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

// Contract is a rendered input schema.
type Contract struct {
	Schema *jsonschema.Schema
	JSON   []byte // indented, stable across runs
}

// Render builds the input schema of t. Component schemas are emitted once
// under $defs and referenced, which is also how recursive types terminate.
// Every object's keys are the sanitized contract keys; two fields of one
// object with the same key fail with DuplicateField.
func Render(g *spec.Graph, t *tool.Tool) (*Contract, error) {
	r := &renderer{g: g, defs: map[string]*jsonschema.Schema{}, names: map[string]string{}, owners: map[string]string{}}
	root, err := r.object(t.Input)
	if err != nil {
		return nil, withOperation(err, t)
	}
	root.Description = t.Description
	for _, b := range t.Bindings {
		if p := root.Properties[b.Field]; p != nil && b.Description != "" && p.Ref == "" && p.Description == "" {
			p.Description = b.Description
		}
	}
	if len(r.defs) > 0 {
		root.Defs = r.defs
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("contract %s: marshal: %w", t.Name, err)
	}
	if err := compile(data); err != nil {
		return nil, fmt.Errorf("contract %s: %w", t.Name, err)
	}
	return &Contract{Schema: root, JSON: data}, nil
}

// Validate checks a JSON payload, such as tool call arguments, against a
// rendered contract.
func Validate(c *Contract, payload []byte) error {
	schema, err := compiled(c.JSON)
	if err != nil {
		return err
	}
	v, err := jsv.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return schema.Validate(v)
}

// DefName is the $defs key of a node: its component name, or its sanitized
// identity for inline schemas that are the target of a cycle.
func DefName(n *spec.SchemaNode) string {
	if name := n.ComponentName(); name != "" {
		return name
	}
	return naming.FieldKey(n.ID())
}

func compile(data []byte) error {
	_, err := compiled(data)
	return err
}

func compiled(data []byte) (*jsv.Schema, error) {
	doc, err := jsv.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsv.NewCompiler()
	if err := c.AddResource("input.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("input.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

func withOperation(err error, t *tool.Tool) error {
	if se, ok := err.(*spec.Error); ok && se.Operation == "" && t.Operation != nil {
		se.Operation = t.Operation.Key()
	}
	return err
}

type renderer struct {
	g      *spec.Graph
	defs   map[string]*jsonschema.Schema
	names  map[string]string // node id -> def name
	owners map[string]string // def name -> node id
}

func (r *renderer) schema(n *spec.SchemaNode) (*jsonschema.Schema, error) {
	switch {
	case n.Kind() == spec.KindRecursiveRef:
		target, ok := r.g.Node(n.Target())
		if !ok {
			return nil, spec.Errorf(spec.DanglingReference, "recursive reference to unresolved %s", n.Target()).At(n.Target())
		}
		return r.ref(target)
	case n.ComponentName() != "":
		return r.ref(n)
	default:
		return r.inline(n)
	}
}

func (r *renderer) ref(n *spec.SchemaNode) (*jsonschema.Schema, error) {
	name, ok := r.names[n.ID()]
	if !ok {
		name = DefName(n)
		for i := 2; r.owners[name] != ""; i++ {
			name = fmt.Sprintf("%s_%d", DefName(n), i)
		}
		r.names[n.ID()], r.owners[name] = name, n.ID()
		// Placeholder first so a cycle back to n stops here.
		r.defs[name] = &jsonschema.Schema{}
		s, err := r.inline(n)
		if err != nil {
			return nil, err
		}
		r.defs[name] = s
	}
	return &jsonschema.Schema{Ref: "#/$defs/" + name}, nil
}

func (r *renderer) inline(n *spec.SchemaNode) (*jsonschema.Schema, error) {
	var (
		s   *jsonschema.Schema
		err error
	)
	switch n.Kind() {
	case spec.KindPrimitive:
		s = &jsonschema.Schema{Type: string(n.Primitive()), Format: n.Format(), Enum: n.Enum()}
	case spec.KindArray:
		var items *jsonschema.Schema
		if items, err = r.schema(n.Elem()); err != nil {
			return nil, err
		}
		s = &jsonschema.Schema{Type: "array", Items: items}
	case spec.KindObject:
		if s, err = r.object(n); err != nil {
			return nil, err
		}
	case spec.KindUnion:
		s = &jsonschema.Schema{}
		for _, v := range n.Variants() {
			vs, err := r.schema(v)
			if err != nil {
				return nil, err
			}
			if n.Combinator() == "anyOf" {
				s.AnyOf = append(s.AnyOf, vs)
			} else {
				s.OneOf = append(s.OneOf, vs)
			}
		}
	case spec.KindRecursiveRef:
		return r.schema(n)
	default:
		s = &jsonschema.Schema{}
	}
	s.Description = n.Description()
	if n.Nullable() {
		nullable(s)
	}
	return s, nil
}

func (r *renderer) object(n *spec.SchemaNode) (*jsonschema.Schema, error) {
	s := &jsonschema.Schema{Type: "object"}
	seen := map[string]string{}
	for _, f := range n.Fields() {
		if s.Properties == nil {
			s.Properties = map[string]*jsonschema.Schema{}
		}
		key := naming.FieldKey(f.Name)
		if prev, ok := seen[key]; ok {
			return nil, spec.Errorf(spec.DuplicateField, "fields %q and %q both become %q", prev, f.Name, key).At(n.ID())
		}
		seen[key] = f.Name
		fs, err := r.schema(f.Schema)
		if err != nil {
			return nil, err
		}
		s.Properties[key] = fs
		if f.Required {
			s.Required = append(s.Required, key)
		}
	}
	if v := n.Values(); v != nil {
		vs, err := r.schema(v)
		if err != nil {
			return nil, err
		}
		s.AdditionalProperties = vs
	}
	return s, nil
}

// nullable widens s to also accept null.
func nullable(s *jsonschema.Schema) {
	switch {
	case s.Type != "":
		s.Types, s.Type = []string{s.Type, "null"}, ""
	case len(s.OneOf) > 0:
		s.OneOf = append(s.OneOf, &jsonschema.Schema{Type: "null"})
	case len(s.AnyOf) > 0:
		s.AnyOf = append(s.AnyOf, &jsonschema.Schema{Type: "null"})
	}
}

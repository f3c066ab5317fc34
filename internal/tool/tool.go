// Package tool builds the callable tool for an operation: its description
// and the single object contract that merges parameters and body.
package tool

import (
	"fmt"

	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

// Source says where a top-level input field goes on the wire.
type Source string

const (
	FromPath      Source = "path"
	FromQuery     Source = "query"
	FromHeader    Source = "header"
	FromCookie    Source = "cookie"
	FromBody      Source = "body"      // the whole request body
	FromBodyField Source = "bodyField" // one property of a flattened object body
)

// Binding maps a top-level input field back to its wire name.
type Binding struct {
	Field       string
	Wire        string // empty for FromBody
	Source      Source
	Description string
}

type Tool struct {
	Name        string
	Description string
	Input       *spec.SchemaNode
	Bindings    []Binding
	Operation   *spec.Operation
	// BodyOmitted is set when the operation declares a request body with no
	// supported content type.
	BodyOmitted bool
}

// Binding returns the binding of a top-level field.
func (t *Tool) Binding(field string) (Binding, bool) {
	for _, b := range t.Bindings {
		if b.Field == field {
			return b, true
		}
	}
	return Binding{}, false
}

// Describe returns the summary, else the description, else "METHOD /path".
func Describe(op *spec.Operation) string {
	switch {
	case op.Summary != "":
		return op.Summary
	case op.Description != "":
		return op.Description
	default:
		return op.Key()
	}
}

// Build derives the tool named name from op. Parameters become top-level
// fields. An object body is flattened into the top level unless one of its
// properties collides with a parameter; otherwise the body is one "body"
// field.
func Build(op *spec.Operation, name string) (*Tool, error) {
	t := &Tool{Name: name, Description: Describe(op), Operation: op}
	var fields []spec.Field
	taken := map[string]string{}

	for _, p := range op.Parameters {
		key := naming.FieldKey(p.Name)
		if prev, ok := taken[key]; ok {
			return nil, spec.Errorf(spec.DuplicateField, "parameters %s and %s %q both become input field %q", prev, p.In, p.Name, key).
				For(op.Key()).At(op.Pointer + "/parameters")
		}
		taken[key] = fmt.Sprintf("%s %q", p.In, p.Name)
		fields = append(fields, spec.Field{Name: key, Schema: p.Schema, Required: p.Required})
		t.Bindings = append(t.Bindings, Binding{Field: key, Wire: p.Name, Source: Source(p.In), Description: p.Description})
	}

	if body := op.RequestBody; body != nil {
		switch {
		case !body.Supported:
			t.BodyOmitted = true
		case flattenable(body.Schema, taken):
			for _, f := range body.Schema.Fields() {
				key := naming.FieldKey(f.Name)
				fields = append(fields, spec.Field{Name: key, Schema: f.Schema, Required: f.Required && body.Required})
				t.Bindings = append(t.Bindings, Binding{Field: key, Wire: f.Name, Source: FromBodyField})
			}
		default:
			if prev, ok := taken["body"]; ok {
				return nil, spec.Errorf(spec.DuplicateField, "request body and parameter %s both become input field \"body\"", prev).
					For(op.Key()).At(op.Pointer + "/requestBody")
			}
			fields = append(fields, spec.Field{Name: "body", Schema: body.Schema, Required: body.Required})
			t.Bindings = append(t.Bindings, Binding{Field: "body", Source: FromBody, Description: body.Description})
		}
	}

	t.Input = spec.NewObject("tool:"+name, t.Description, fields)
	return t, nil
}

// flattenable reports whether an object body can be spread into top-level
// fields without any key colliding.
func flattenable(n *spec.SchemaNode, taken map[string]string) bool {
	if n == nil || n.Kind() != spec.KindObject || n.Values() != nil || n.Nullable() || len(n.Fields()) == 0 {
		return false
	}
	seen := map[string]bool{}
	for _, f := range n.Fields() {
		key := naming.FieldKey(f.Name)
		if _, ok := taken[key]; ok || seen[key] {
			return false
		}
		seen[key] = true
	}
	return true
}

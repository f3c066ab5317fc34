package contract

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/openapi2mcp/internal/spec"
	"github.com/mark3labs/openapi2mcp/internal/tool"
)

func build(t *testing.T, src string) (*spec.Graph, []*tool.Tool) {
	t.Helper()
	doc, err := spec.Parse([]byte(src), spec.SyntaxAuto)
	require.NoError(t, err)
	r := spec.NewResolver(doc)
	ops, err := spec.Extract(doc, r)
	require.NoError(t, err)
	var tools []*tool.Tool
	for i, op := range ops {
		tl, err := tool.Build(op, "tool_"+string(rune('a'+i)))
		require.NoError(t, err)
		tools = append(tools, tl)
	}
	return r.Graph(), tools
}

func TestRender_EmptyInput(t *testing.T) {
	t.Parallel()
	g, tools := build(t, `openapi: 3.0.3
paths:
  /ping:
    get:
      summary: Ping
      responses: {'200': {description: pong}}
`)
	c, err := Render(g, tools[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"object","description":"Ping"}`, string(c.JSON))
	require.NoError(t, Validate(c, []byte(`{}`)))
}

func TestRender_ComponentsAndCycles(t *testing.T) {
	t.Parallel()
	g, tools := build(t, `openapi: 3.0.3
paths:
  /trees:
    post:
      requestBody:
        required: true
        content:
          application/json:
            schema: {$ref: '#/components/schemas/Tree'}
      responses: {'201': {description: created}}
components:
  schemas:
    Tree:
      type: object
      required: [label]
      properties:
        label: {type: string}
        children:
          type: array
          items: {$ref: '#/components/schemas/Tree'}
        meta:
          type: object
          additionalProperties: {type: string}
          nullable: true
`)
	c, err := Render(g, tools[0])
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(c.JSON, &doc))
	defs, ok := doc["$defs"].(map[string]any)
	require.True(t, ok, "component schemas land in $defs: %s", c.JSON)
	require.Contains(t, defs, "Tree")

	// The body is flattened, and the recursive items point back at the def.
	tree := defs["Tree"].(map[string]any)
	children := tree["properties"].(map[string]any)["children"].(map[string]any)
	assert.Equal(t, "#/$defs/Tree", children["items"].(map[string]any)["$ref"])
	props := doc["properties"].(map[string]any)
	assert.Contains(t, props, "label")
	assert.Equal(t, []any{"label"}, doc["required"])

	require.NoError(t, Validate(c, []byte(`{"label":"root","children":[{"label":"leaf","children":[]}],"meta":null}`)))
	assert.Error(t, Validate(c, []byte(`{"children":[]}`)))
	assert.Error(t, Validate(c, []byte(`{"label":"x","children":[{"label":1}]}`)))
}

func TestRender_Unions(t *testing.T) {
	t.Parallel()
	g, tools := build(t, `openapi: 3.0.3
paths:
  /pets:
    post:
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                pet:
                  oneOf:
                    - {$ref: '#/components/schemas/Cat'}
                    - {$ref: '#/components/schemas/Dog'}
                  discriminator: {propertyName: kind}
      responses: {'200': {description: ok}}
components:
  schemas:
    Cat: {type: object, required: [kind], properties: {kind: {type: string, enum: [Cat]}, meows: {type: boolean}}}
    Dog: {type: object, required: [kind], properties: {kind: {type: string, enum: [Dog]}, barks: {type: boolean}}}
`)
	c, err := Render(g, tools[0])
	require.NoError(t, err)
	require.NoError(t, Validate(c, []byte(`{"pet":{"kind":"Cat","meows":true}}`)))
	assert.Error(t, Validate(c, []byte(`{"pet":{"kind":"Bird"}}`)))
}

func TestRender_SanitizesNestedKeys(t *testing.T) {
	t.Parallel()
	g, tools := build(t, `openapi: 3.0.3
paths:
  /a:
    post:
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                settings:
                  type: object
                  properties:
                    dark-mode: {type: boolean}
      responses: {'200': {description: ok}}
`)
	c, err := Render(g, tools[0])
	require.NoError(t, err)
	settings := c.Schema.Properties["settings"]
	require.NotNil(t, settings)
	assert.Contains(t, settings.Properties, "dark_mode")
}

func TestRender_DuplicateNestedField(t *testing.T) {
	t.Parallel()
	g, tools := build(t, `openapi: 3.0.3
paths:
  /a:
    post:
      requestBody:
        content:
          application/json:
            schema:
              type: array
              items:
                type: object
                properties:
                  first-name: {type: string}
                  first_name: {type: string}
      responses: {'200': {description: ok}}
`)
	_, err := Render(g, tools[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, spec.DuplicateField))
	var se *spec.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "POST /a", se.Operation)
}

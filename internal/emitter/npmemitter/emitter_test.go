package npmemitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/emitter/emittertest"
	"github.com/mark3labs/openapi2mcp/internal/security"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

const items = `openapi: 3.0.3
info: {title: Items, version: "1.0"}
paths:
  /items/{id}:
    get:
      operationId: getItem
      summary: Fetch one item
      parameters:
        - {name: id, in: path, required: true, description: Item id, schema: {type: string}}
        - {name: X-Trace, in: header, schema: {type: string}}
      responses:
        '200': {description: ok}
  /items:
    post:
      operationId: createItem
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [title]
              properties:
                title: {type: string}
                dark-mode: {type: boolean}
      responses:
        '201': {description: created}
`

func emitOne(t *testing.T, doc string, idx int) string {
	t.Helper()
	g, tools := emittertest.Build(t, doc)
	arts, err := New().EmitTool(emittertest.Context(t, g, tools[idx]))
	require.NoError(t, err)
	require.Len(t, arts, 1)
	assert.Equal(t, "src/tools/"+tools[idx].Name+".ts", arts[0].Path)
	return string(arts[0].Content)
}

func TestEmitTool_PathBinding(t *testing.T) {
	src := emitOne(t, items, 0)

	assert.True(t, strings.HasPrefix(src, emitter.Header))
	assert.Contains(t, src, `export const name = "getItem";`)
	assert.Contains(t, src, `export const description = "Fetch one item";`)
	assert.Contains(t, src, "path: `/items/${encodeURIComponent(String(args.id))}`,")
	assert.Equal(t, 1, strings.Count(src, "encodeURIComponent("))
	assert.Contains(t, src, `id: z.string().describe("Item id"),`)
	assert.Contains(t, src, `X_Trace: z.string().optional(),`)
	assert.Contains(t, src, `headers: { "X-Trace": args.X_Trace },`)
	assert.Contains(t, src, `method: "GET",`)
	assert.Contains(t, src, "body: undefined,")
}

func TestEmitTool_FlattenedBody(t *testing.T) {
	src := emitOne(t, items, 1)

	assert.Contains(t, src, `title: z.string(),`)
	assert.Contains(t, src, `dark_mode: z.boolean().optional(),`)
	assert.Contains(t, src, `body: { "title": args.title, "dark-mode": args.dark_mode },`)
	assert.Contains(t, src, "path: `/items`,")
}

func TestEmitTool_NoArguments(t *testing.T) {
	src := emitOne(t, `openapi: 3.0.3
info: {title: T, version: "1"}
paths:
  /ping:
    get:
      responses: {'200': {description: ok}}
`, 0)
	assert.Contains(t, src, "export const inputShape = {};")
	assert.Contains(t, src, "async (_args) =>")
	assert.Contains(t, src, `export const description = "GET /ping";`)
}

const recursive = `openapi: 3.0.3
info: {title: Trees, version: "1"}
paths:
  /trees:
    post:
      operationId: plant
      requestBody:
        content:
          application/json:
            schema: {$ref: '#/components/schemas/Tree'}
      responses: {'200': {description: ok}}
components:
  schemas:
    Tree:
      type: object
      properties:
        label: {type: string}
        children:
          type: array
          items: {$ref: '#/components/schemas/Tree'}
`

func TestEmitTool_RecursiveComponent(t *testing.T) {
	src := emitOne(t, recursive, 0)

	assert.Contains(t, src, "export const TreeSchema: z.ZodTypeAny = z.object({")
	assert.Contains(t, src, "children: z.array(z.lazy(() => TreeSchema)).optional(),")
	assert.Equal(t, 1, strings.Count(src, "export const TreeSchema"))
	assert.Contains(t, src, "  children: z.array(TreeSchema).optional(),")
}

const pets = `openapi: 3.0.3
info: {title: Pets, version: "1"}
paths:
  /pets:
    post:
      operationId: addPet
      requestBody:
        required: true
        content:
          application/json:
            schema:
              oneOf:
                - {$ref: '#/components/schemas/Cat'}
                - {$ref: '#/components/schemas/Dog'}
              discriminator:
                propertyName: kind
                mapping:
                  kitty: '#/components/schemas/Cat'
      responses: {'200': {description: ok}}
components:
  schemas:
    Cat:
      type: object
      required: [kind]
      properties:
        kind: {type: string}
        lives: {type: integer}
    Dog:
      type: object
      required: [kind]
      properties:
        kind: {type: string}
        bark: {type: string, enum: [loud, soft]}
`

func TestEmitTool_DiscriminatedUnion(t *testing.T) {
	src := emitOne(t, pets, 0)

	assert.Contains(t, src, `body: z.discriminatedUnion("kind", [`)
	assert.Contains(t, src, `kind: z.literal("kitty"),`)
	assert.Contains(t, src, `kind: z.literal("Dog"),`)
	assert.Contains(t, src, `lives: z.number().int().optional(),`)
	assert.Contains(t, src, `bark: z.enum(["loud", "soft"]).optional(),`)
	assert.Contains(t, src, "body: args.body,")
}

func TestEmitTool_PlainUnion(t *testing.T) {
	src := emitOne(t, `openapi: 3.1.0
info: {title: T, version: "1"}
paths:
  /v:
    put:
      operationId: setValue
      requestBody:
        content:
          application/json:
            schema:
              anyOf:
                - {type: string}
                - {type: number}
      responses: {'200': {description: ok}}
`, 0)
	assert.Contains(t, src, "body: z.union([z.string(), z.number()]).optional(),")
}

func TestEmitTool_NestedRename(t *testing.T) {
	src := emitOne(t, `openapi: 3.0.3
info: {title: T, version: "1"}
paths:
  /prefs:
    put:
      operationId: setPrefs
      parameters:
        - {name: user, in: query, required: true, schema: {type: string}}
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                user: {type: string}
                settings:
                  type: object
                  nullable: true
                  properties:
                    dark-mode: {type: boolean}
      responses: {'200': {description: ok}}
`, 0)
	// "user" collides with the query parameter, so the body stays whole.
	assert.Contains(t, src, `user: z.string(),`)
	assert.Contains(t, src, `dark_mode: z.boolean().optional(),`)
	assert.Contains(t, src, `.transform(({ dark_mode: f0, ...rest }) => ({ ...rest, "dark-mode": f0 }))`)
	assert.Contains(t, src, "body: args.body,")
}

func TestMapType(t *testing.T) {
	_, tools := emittertest.Build(t, pets)
	body := tools[0].Input.Fields()[0].Schema
	got, err := New().MapType(body.Variants()[1])
	require.NoError(t, err)
	assert.Equal(t, "DogSchema", got)

	got, err = New().MapType(body.Variants()[1].Fields()[1].Schema)
	require.NoError(t, err)
	assert.Equal(t, `z.enum(["loud", "soft"])`, got)
}

func TestSanitizeIdentifier(t *testing.T) {
	tr := New()
	assert.Equal(t, "X_Trace", tr.SanitizeIdentifier("X-Trace"))
	assert.Equal(t, "_2fa", tr.SanitizeIdentifier("2fa"))
	assert.Equal(t, "field", tr.SanitizeIdentifier("$$"))
}

func TestEmitProject(t *testing.T) {
	_, tools := emittertest.Build(t, items)

	arts, err := New().EmitProject(emitter.ProjectContext{
		Tools:   tools,
		Project: emitter.Project{Name: "items", Version: "1.0", BaseURL: "https://api.example.com"},
		Security: security.Config{
			Kind: spec.OAuth2, SchemeName: "oauth", Source: security.FromOverride,
			AuthURL: "https://auth.example.com/authorize", TokenURL: "https://auth.example.com/token",
			Scopes: []string{"read", "write"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/client.ts", "src/constants.ts", "src/tools/index.ts"}, emitter.Paths(arts))

	index := emittertest.Find(t, arts, "src/tools/index.ts")
	assert.Contains(t, index, `import * as tool_getItem from "./getItem.js";`)
	assert.Contains(t, index, "  tool_createItem.setupTool(server);")
	assert.Contains(t, index, "export const toolNames: readonly string[] = [tool_getItem.name, tool_createItem.name];")

	consts := emittertest.Find(t, arts, "src/constants.ts")
	assert.Contains(t, consts, `export const API_BASE_URL = process.env.API_BASE_URL ?? "https://api.example.com";`)
	assert.Contains(t, consts, `export const AUTH_KIND = "oauth2";`)
	assert.Contains(t, consts, `export const OAUTH_TOKEN_URL = "https://auth.example.com/token";`)
	assert.Contains(t, consts, `export const OAUTH_SCOPES: readonly string[] = ["read", "write"];`)
	assert.NotContains(t, consts, "API_KEY_IN")
	assert.NotContains(t, consts, "START_OF")
}

func TestEmitProject_NoAuth(t *testing.T) {
	arts, err := New().EmitProject(emitter.ProjectContext{Project: emitter.Project{Name: "x"}})
	require.NoError(t, err)
	consts := emittertest.Find(t, arts, "src/constants.ts")
	assert.NotContains(t, consts, "AUTH_KIND")
	assert.NotContains(t, consts, "OAUTH")
	assert.Contains(t, consts, `export const PROJECT_NAME = "x";`)
}

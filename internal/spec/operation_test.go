package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petstore = `openapi: 3.0.3
info: {title: Petstore, version: "1.0"}
security:
  - bearer: []
paths:
  /pets/{petId}:
    parameters:
      - name: petId
        in: path
        schema: {type: string}
      - name: verbose
        in: query
        schema: {type: boolean}
    get:
      operationId: getPet
      summary: Get a pet
      parameters:
        - name: verbose
          in: query
          required: true
          schema: {type: integer}
        - $ref: '#/components/parameters/Trace'
      responses:
        '404': {description: missing}
        '200':
          description: ok
          content:
            application/json:
              schema: {$ref: '#/components/schemas/Pet'}
    put:
      security: []
      requestBody:
        $ref: '#/components/requestBodies/PetBody'
      responses:
        '204': {description: done}
  /upload:
    post:
      security:
        - apiKey: []
        - {}
      requestBody:
        content:
          multipart/form-data:
            schema: {type: object}
      responses:
        default: {$ref: '#/components/responses/Problem'}
components:
  parameters:
    Trace:
      name: X-Trace
      in: header
      schema: {type: string}
  requestBodies:
    PetBody:
      required: true
      content:
        text/plain:
          schema: {type: string}
        application/vnd.pets+json:
          schema: {$ref: '#/components/schemas/Pet'}
  responses:
    Problem:
      description: problem
      content:
        application/problem+json:
          schema: {type: object, properties: {title: {type: string}}}
  securitySchemes:
    bearer: {type: http, scheme: bearer, bearerFormat: JWT}
    apiKey: {type: apiKey, in: header, name: X-API-Key}
    oauth:
      type: oauth2
      flows:
        clientCredentials:
          tokenUrl: https://auth.example.com/token
          scopes: {read: read things}
        authorizationCode:
          authorizationUrl: https://auth.example.com/authorize
          tokenUrl: https://auth.example.com/token2
          scopes: {write: write things}
  schemas:
    Pet:
      type: object
      properties:
        id: {type: string}
`

func extract(t *testing.T, src string) ([]*Operation, *Resolver) {
	t.Helper()
	doc := mustParse(t, src)
	r := NewResolver(doc)
	ops, err := Extract(doc, r)
	require.NoError(t, err)
	return ops, r
}

func TestExtract_DeclarationOrder(t *testing.T) {
	t.Parallel()
	ops, _ := extract(t, petstore)
	var keys []string
	for _, op := range ops {
		keys = append(keys, op.Key())
	}
	assert.Equal(t, []string{"GET /pets/{petId}", "PUT /pets/{petId}", "POST /upload"}, keys)
	assert.Equal(t, "#/paths/~1pets~1{petId}/get", ops[0].Pointer)
}

func TestExtract_Parameters(t *testing.T) {
	t.Parallel()
	ops, _ := extract(t, petstore)
	get := ops[0]
	require.Len(t, get.Parameters, 3)

	verbose := get.Parameters[0]
	assert.Equal(t, "verbose", verbose.Name)
	assert.True(t, verbose.Required, "operation parameter overrides the path-level one")
	assert.Equal(t, Integer, verbose.Schema.Primitive())

	trace := get.Parameters[1]
	assert.Equal(t, "X-Trace", trace.Name)
	assert.Equal(t, InHeader, trace.In)

	petID := get.Parameters[2]
	assert.Equal(t, InPath, petID.In)
	assert.True(t, petID.Required, "path parameters are always required")

	// The PUT inherits both path-level parameters.
	assert.Len(t, ops[1].Parameters, 2)
}

func TestExtract_BodiesAndResponses(t *testing.T) {
	t.Parallel()
	ops, r := extract(t, petstore)
	pet, err := r.Ref("#/components/schemas/Pet")
	require.NoError(t, err)

	success, ok := ops[0].Success()
	require.True(t, ok)
	assert.Equal(t, "200", success.Status)
	require.Same(t, pet, success.Schema)

	put := ops[1].RequestBody
	require.NotNil(t, put)
	assert.True(t, put.Supported)
	assert.True(t, put.Required)
	assert.Equal(t, "application/vnd.pets+json", put.ContentType)
	require.Same(t, pet, put.Schema)

	upload := ops[2].RequestBody
	require.NotNil(t, upload)
	assert.False(t, upload.Supported)
	assert.Equal(t, "multipart/form-data", upload.ContentType)

	require.Len(t, ops[2].Responses, 1)
	assert.Equal(t, "application/problem+json", ops[2].Responses[0].ContentType)
}

func TestExtract_Security(t *testing.T) {
	t.Parallel()
	ops, _ := extract(t, petstore)

	require.Len(t, ops[0].Security, 1)
	assert.Equal(t, HTTPBearer, ops[0].Security[0].Scheme.Kind)
	assert.Equal(t, "JWT", ops[0].Security[0].Scheme.BearerFormat)

	assert.Empty(t, ops[1].Security, "security: [] means unauthenticated")

	require.Len(t, ops[2].Security, 1)
	key := ops[2].Security[0].Scheme
	assert.Equal(t, APIKey, key.Kind)
	assert.Equal(t, "header", key.In)
	assert.Equal(t, "X-API-Key", key.ParamName)
}

func TestExtract_OAuthFlowPreference(t *testing.T) {
	t.Parallel()
	doc := mustParse(t, petstore)
	x := &extractor{doc: doc, r: NewResolver(doc)}
	schemes, err := x.securitySchemes()
	require.NoError(t, err)
	oauth := schemes["oauth"]
	assert.Equal(t, OAuth2, oauth.Kind)
	assert.Equal(t, "https://auth.example.com/authorize", oauth.AuthURL)
	assert.Equal(t, "https://auth.example.com/token2", oauth.TokenURL)
	assert.Equal(t, []string{"write"}, oauth.Scopes)
}

func TestExtract_Errors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name      string
		src       string
		code      ErrorCode
		operation string
	}{
		{
			name: "undeclared security scheme",
			src: `openapi: 3.0.3
paths:
  /a:
    get:
      security: [{nope: []}]
      responses: {'200': {description: ok}}
`,
			code:      DanglingReference,
			operation: "GET /a",
		},
		{
			name: "dangling parameter ref",
			src: `openapi: 3.0.3
paths:
  /a:
    get:
      parameters: [{$ref: '#/components/parameters/Missing'}]
      responses: {'200': {description: ok}}
`,
			code:      DanglingReference,
			operation: "GET /a",
		},
		{
			name: "unused component still checked",
			src: `openapi: 3.0.3
paths: {}
components:
  schemas:
    Orphan: {$ref: '#/components/schemas/Ghost'}
`,
			code: DanglingReference,
		},
		{
			name: "bad parameter location",
			src: `openapi: 3.0.3
paths:
  /a:
    post:
      parameters: [{name: x, in: body}]
      responses: {'200': {description: ok}}
`,
			code:      MalformedInput,
			operation: "POST /a",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc := mustParse(t, tc.src)
			_, err := Extract(doc, NewResolver(doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.code), "got %v", err)
			var se *Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tc.operation, se.Operation)
		})
	}
}

func TestSupportedContentType(t *testing.T) {
	t.Parallel()
	assert.True(t, SupportedContentType("application/json"))
	assert.True(t, SupportedContentType("application/json; charset=utf-8"))
	assert.True(t, SupportedContentType("application/merge-patch+json"))
	assert.False(t, SupportedContentType("application/xml"))
	assert.False(t, SupportedContentType("multipart/form-data"))
}

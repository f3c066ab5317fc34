package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mark3labs/openapi2mcp/internal/emitter"
	"github.com/mark3labs/openapi2mcp/internal/naming"
	"github.com/mark3labs/openapi2mcp/internal/project"
	"github.com/mark3labs/openapi2mcp/internal/security"
	"github.com/mark3labs/openapi2mcp/internal/spec"
)

const store = `openapi: 3.0.3
info:
  title: Book Store
  version: 3.1.0
  description: Books and authors.
servers:
  - url: https://books.example.com/v1
paths:
  /books:
    get:
      operationId: listBooks
      tags: [books]
      parameters:
        - {name: q, in: query, schema: {type: string}}
      responses: {'200': {description: ok}}
    post:
      operationId: createBook
      tags: [books, admin]
      security: [{key: []}]
      requestBody:
        content:
          application/json:
            schema:
              type: object
              properties:
                title: {type: string}
                format:
                  oneOf:
                    - {type: string}
                    - {type: integer}
      responses: {'201': {description: created}}
  /authors/{id}:
    get:
      operationId: getAuthor
      tags: [authors]
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses: {'200': {description: ok}}
components:
  securitySchemes:
    key: {type: apiKey, in: header, name: X-Key}
`

func observed() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

func TestRun_Defaults(t *testing.T) {
	res, err := Run(context.Background(), []byte(store), Config{})
	require.NoError(t, err)

	assert.Equal(t, "Book Store", res.Info.Title)
	assert.Equal(t, emitter.Project{
		Name:        "book-store",
		Version:     "3.1.0",
		Description: "Books and authors.",
		BaseURL:     "https://books.example.com/v1",
		GoModule:    "example.com/book-store",
	}, res.Project)

	require.Len(t, res.Tools, 3)
	assert.Equal(t, "listBooks", res.Tools[0].Name)
	assert.Equal(t, spec.APIKey, res.Security.Kind)
	assert.Equal(t, security.FromDeclared, res.Security.Source)

	paths := emitter.Paths(res.Artifacts)
	assert.Contains(t, paths, "src/tools/getAuthor.ts")
	assert.Contains(t, paths, "tools/getAuthor/getAuthor.go")
	assert.Len(t, res.Contracts, 3)
}

func TestRun_FiltersAndTargets(t *testing.T) {
	res, err := Run(context.Background(), []byte(store), Config{
		Targets:     []string{"TS", "ts"},
		Methods:     []string{"get"},
		IncludeTags: []string{"books"},
	})
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, "listBooks", res.Tools[0].Name)
	assert.Equal(t, security.None, res.Security.Source)
	for _, p := range emitter.Paths(res.Artifacts) {
		assert.Regexp(t, `^src/`, p)
	}
}

func TestRun_UnknownTarget(t *testing.T) {
	_, err := Run(context.Background(), []byte(store), Config{Targets: []string{"python"}})
	assert.True(t, errors.Is(err, spec.UnsupportedTarget))
}

func TestRun_BadPattern(t *testing.T) {
	_, err := Run(context.Background(), []byte(store), Config{ToolPattern: "("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool pattern")
}

func TestRun_Override(t *testing.T) {
	res, err := Run(context.Background(), []byte(store), Config{
		Targets: []string{"go"},
		Security: &security.Override{
			Kind:     spec.OAuth2,
			AuthURL:  "https://auth.example.com/authorize",
			TokenURL: "https://auth.example.com/token",
			Scopes:   []string{"read"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, security.FromOverride, res.Security.Source)

	plan := project.NewPlan()
	require.NoError(t, Write(plan, res.Artifacts))
	cfg, ok := plan.Content("tools/client/config.go")
	require.True(t, ok)
	assert.Contains(t, string(cfg), `"https://auth.example.com/token"`)
}

func TestRun_InvalidOverride(t *testing.T) {
	_, err := Run(context.Background(), []byte(store), Config{
		Security: &security.Override{Kind: spec.OAuth2, AuthURL: "not a url"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authorization")
}

func TestRun_SkipLongNames(t *testing.T) {
	log, logs := observed()
	res, err := Run(context.Background(), []byte(store), Config{
		Targets:           []string{"ts"},
		MaxToolNameLength: 9,
		NamePolicy:        naming.Skip,
		Logger:            log,
	})
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "createBook", res.Skipped[0].Canonical)
	assert.Len(t, res.Tools, 2)
	assert.Equal(t, 1, logs.FilterMessage("skipped operation with a long tool name").Len())
}

func TestRun_TakenNames(t *testing.T) {
	res, err := Run(context.Background(), []byte(store), Config{
		Targets: []string{"ts"},
		Taken:   naming.NewRegistry("listBooks"),
	})
	require.NoError(t, err)
	assert.Equal(t, "listBooks_2", res.Tools[0].Name)
}

func TestRun_WarnsAboutUnionsForGo(t *testing.T) {
	log, logs := observed()
	_, err := Run(context.Background(), []byte(store), Config{Targets: []string{"go"}, Logger: log})
	require.NoError(t, err)
	entries := logs.FilterMessage("union types are not enforced by the go target").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "createBook", entries[0].ContextMap()["tool"])

	log, logs = observed()
	_, err = Run(context.Background(), []byte(store), Config{Targets: []string{"ts"}, Logger: log})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("union types are not enforced by the go target").Len())
}

const undescribed = `openapi: 3.0.3
info: {title: T, version: "1"}
paths:
  /ping:
    get:
      operationId: ping
      responses:
        '200': {}
`

func TestRun_Strict(t *testing.T) {
	log, logs := observed()
	res, err := Run(context.Background(), []byte(undescribed), Config{Logger: log})
	require.NoError(t, err)
	require.NotEmpty(t, res.Findings)
	assert.NotZero(t, logs.FilterMessage("document validation finding").Len())

	_, err = Run(context.Background(), []byte(undescribed), Config{Strict: true})
	assert.True(t, errors.Is(err, spec.MalformedInput), "got %v", err)
}

func TestRun_Malformed(t *testing.T) {
	_, err := Run(context.Background(), []byte("openapi: 2.0\n"), Config{})
	assert.True(t, errors.Is(err, spec.UnsupportedVersion), "got %v", err)

	_, err = Run(context.Background(), []byte("{"), Config{})
	assert.True(t, errors.Is(err, spec.MalformedInput), "got %v", err)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, []byte(store), Config{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_ProjectOverrides(t *testing.T) {
	res, err := Run(context.Background(), []byte(store), Config{
		Targets: []string{"go"},
		Project: emitter.Project{Name: "books", GoModule: "github.com/acme/books"},
	})
	require.NoError(t, err)
	assert.Equal(t, "books", res.Project.Name)
	assert.Equal(t, "3.1.0", res.Project.Version)

	plan := project.NewPlan()
	require.NoError(t, Write(plan, res.Artifacts))
	reg, ok := plan.Content("tools/register.go")
	require.True(t, ok)
	assert.Contains(t, string(reg), `"github.com/acme/books/tools/client"`)
}

func TestRun_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	_, err := Run(context.Background(), []byte(store), Config{Targets: []string{"ts"}})
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"parse", "validate", "extract", "filter", "allocate", "build", "generate"}, names)

	_, err = Run(context.Background(), []byte("{"), Config{})
	require.Error(t, err)
	ended := recorder.Ended()
	last := ended[len(ended)-1]
	assert.Equal(t, "parse", last.Name())
	assert.Equal(t, codes.Error, last.Status().Code)
	require.NotEmpty(t, last.Events())
	assert.Equal(t, "exception", last.Events()[0].Name)
}
